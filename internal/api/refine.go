package api

import (
	"encoding/json"
	"net/http"
)

// RefineRequest is the body of POST /utterance/refine.
type RefineRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

func handleRefine(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RefineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		ref, err := deps.Service.Refine(r.Context(), req.Text, req.Language)
		if err != nil {
			deps.Logger.Warn("utterance refinement failed", "error", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ref)
	}
}
