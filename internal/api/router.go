// Package api exposes diagnoses over HTTP and MCP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/provider"
	"github.com/kalambet/dermadx/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// DiagnosisService runs and manages diagnoses.
type DiagnosisService interface {
	DiagnoseText(ctx context.Context, description, additionalInfo string) (diagnosis.Record, error)
	DiagnoseImage(ctx context.Context, in diagnosis.ImageInput) (diagnosis.Record, error)
	Refine(ctx context.Context, text, language string) (diagnosis.Refinement, error)
	Get(id string) (diagnosis.Record, error)
	List(limit, offset int) ([]diagnosis.Record, int, error)
	Search(q string, limit int) ([]diagnosis.Record, error)
	Update(id string, u diagnosis.Update) (diagnosis.Record, error)
	Delete(id string) error
}

// ProviderDirectory exposes the configured providers for inspection.
type ProviderDirectory interface {
	Descriptors() []provider.Descriptor
	Route(purpose provider.Purpose) (provider.Route, bool)
	Health() *provider.Health
	Probe(ctx context.Context, id string) error
}

// NotificationLog lists delivery outcomes for a record.
type NotificationLog interface {
	ListNotifications(analysisID string) ([]storage.Notification, error)
}

// Deps holds the handler dependencies. Notifications may be nil.
type Deps struct {
	Service       DiagnosisService
	Providers     ProviderDirectory
	Notifications NotificationLog
	// Token guards record edits and deletes when set.
	Token  string
	Logger *slog.Logger
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/providers", handleProviders(deps))

	r.Post("/diagnose/skin-lesion", handleDiagnoseText(deps))
	r.Post("/diagnose/skin-lesion-image", handleDiagnoseImage(deps))
	r.Post("/interpretation/explain", handleDiagnoseText(deps))
	r.Post("/interpretation/explain-image", handleDiagnoseImage(deps))
	r.Post("/utterance/refine", handleRefine(deps))

	r.Route("/analyses", func(r chi.Router) {
		r.Get("/", handleListAnalyses(deps))
		r.Get("/search", handleSearchAnalyses(deps))
		r.Get("/{id}", handleGetAnalysis(deps))
		r.Get("/{id}/notifications", handleListNotifications(deps))

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(deps.Token))
			r.Put("/{id}", handleUpdateAnalysis(deps))
			r.Delete("/{id}", handleDeleteAnalysis(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
