package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/imaging"
)

// multipartOverhead leaves room for form fields around the image part.
const multipartOverhead = 1 << 20

// TextDiagnosisRequest is the body of POST /diagnose/skin-lesion.
type TextDiagnosisRequest struct {
	LesionDescription string `json:"lesion_description"`
	AdditionalInfo    string `json:"additional_info,omitempty"`
	ResponseFormat    string `json:"response_format,omitempty"`
}

func handleDiagnoseText(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TextDiagnosisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		format, ok := responseFormat(req.ResponseFormat)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "response_format must be json or xml")
			return
		}
		if strings.TrimSpace(req.LesionDescription) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "lesion_description is required")
			return
		}

		rec, err := deps.Service.DiagnoseText(r.Context(), req.LesionDescription, req.AdditionalInfo)
		if err != nil {
			deps.Logger.Warn("text diagnosis failed", "error", err)
			writeServiceError(w, err)
			return
		}
		writeRecord(w, format, rec)
	}
}

func handleDiagnoseImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+multipartOverhead)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeServiceError(w, imaging.ErrTooLarge)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		format, ok := responseFormat(r.FormValue("response_format"))
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "response_format must be json or xml")
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "image file is required")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if err := imaging.Validate(contentType, header.Size); err != nil {
			writeServiceError(w, err)
			return
		}
		data, err := io.ReadAll(io.LimitReader(file, imaging.MaxUploadBytes+1))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading image: %v", err)
			return
		}
		prepared, err := imaging.Prepare(data, contentType, header.Filename)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		var questionnaire json.RawMessage
		if q := strings.TrimSpace(r.FormValue("questionnaire_data")); q != "" {
			questionnaire = json.RawMessage(q)
		}

		info := prepared.Info
		rec, err := deps.Service.DiagnoseImage(r.Context(), diagnosis.ImageInput{
			Base64:         prepared.Base64,
			AdditionalInfo: r.FormValue("additional_info"),
			Questionnaire:  questionnaire,
			Info:           &info,
		})
		if err != nil {
			deps.Logger.Warn("image diagnosis failed", "filename", header.Filename, "error", err)
			writeServiceError(w, err)
			return
		}
		writeRecord(w, format, rec)
	}
}
