package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/imaging"
	"github.com/kalambet/dermadx/internal/provider"
	"github.com/kalambet/dermadx/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeServiceError maps domain errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		cfgErr      *provider.ConfigurationError
		exhausted   *provider.ExhaustedError
		providerErr *provider.ProviderError
		maxBytesErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &cfgErr):
		httpError(w, http.StatusServiceUnavailable, "configuration_error", "%v", err)
	case errors.As(err, &exhausted), errors.As(err, &providerErr):
		httpError(w, http.StatusBadGateway, "provider_error", "%v", err)
	case errors.Is(err, imaging.ErrTooLarge), errors.As(err, &maxBytesErr):
		httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "%v", err)
	case errors.Is(err, diagnosis.ErrInvalidInput),
		errors.Is(err, imaging.ErrUnsupportedType),
		errors.Is(err, imaging.ErrEmpty),
		errors.Is(err, imaging.ErrDecode):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "analysis not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
