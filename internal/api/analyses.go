package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dermadx/internal/diagnosis"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func handleListAnalyses(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, ok := responseFormat(r.URL.Query().Get("response_format"))
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "response_format must be json or xml")
			return
		}
		page := parseIntParam(r, "page", 1, 0)
		if page < 1 {
			page = 1
		}
		pageSize := parseIntParam(r, "page_size", defaultPageSize, maxPageSize)
		if pageSize < 1 {
			pageSize = defaultPageSize
		}

		recs, total, err := deps.Service.List(pageSize, (page-1)*pageSize)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list analyses: %v", err)
			return
		}

		list := AnalysisList{Analyses: recs, TotalCount: total, Page: page, PageSize: pageSize}
		if format == formatXML {
			writeXML(w, http.StatusOK, toXMLAnalysisList(list))
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleSearchAnalyses(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, maxPageSize)
		if limit < 1 {
			limit = 20
		}

		recs, err := deps.Service.Search(q, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to search analyses: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleGetAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, ok := responseFormat(r.URL.Query().Get("response_format"))
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "response_format must be json or xml")
			return
		}
		rec, err := deps.Service.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeRecord(w, format, rec)
	}
}

func handleUpdateAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		format, ok := responseFormat(r.URL.Query().Get("response_format"))
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "response_format must be json or xml")
			return
		}

		var u diagnosis.Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		rec, err := deps.Service.Update(chi.URLParam(r, "id"), u)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeRecord(w, format, rec)
	}
}

func handleDeleteAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Service.Delete(chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListNotifications(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Service.Get(id); err != nil {
			writeServiceError(w, err)
			return
		}
		if deps.Notifications == nil {
			writeJSON(w, http.StatusOK, []any{})
			return
		}

		ns, err := deps.Notifications.ListNotifications(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list notifications: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ns)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
