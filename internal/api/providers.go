package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dermadx/internal/provider"
)

const probeTimeout = 5 * time.Second

// ProviderStatus describes one configured provider.
type ProviderStatus struct {
	ID           string                  `json:"id"`
	Kind         provider.Kind           `json:"kind"`
	Model        string                  `json:"model"`
	BaseURL      string                  `json:"base_url,omitempty"`
	Capabilities []provider.Purpose      `json:"capabilities"`
	Health       provider.HealthSnapshot `json:"health"`
	// Probe is "ok", "unsupported" or the probe error. Empty unless probing
	// was requested.
	Probe string `json:"probe,omitempty"`
}

// ProvidersResponse is the body of GET /providers.
type ProvidersResponse struct {
	Providers []ProviderStatus `json:"providers"`
	Routes    []provider.Route `json:"routes"`
}

func handleProviders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		descs := deps.Providers.Descriptors()

		probes := make([]string, len(descs))
		if v := r.URL.Query().Get("probe"); v == "1" || v == "true" {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()

			var g errgroup.Group
			for i, d := range descs {
				g.Go(func() error {
					probes[i] = probeResult(deps.Providers.Probe(ctx, d.ID))
					return nil
				})
			}
			g.Wait()
		}

		// Health is read after probing so restored providers show as healthy.
		resp := ProvidersResponse{
			Providers: make([]ProviderStatus, 0, len(descs)),
			Routes:    []provider.Route{},
		}
		for i, d := range descs {
			resp.Providers = append(resp.Providers, ProviderStatus{
				ID:           d.ID,
				Kind:         d.Kind,
				Model:        d.Model,
				BaseURL:      d.BaseURL,
				Capabilities: d.Capabilities,
				Health:       deps.Providers.Health().Snapshot(d.ID),
				Probe:        probes[i],
			})
		}
		for _, p := range []provider.Purpose{provider.PurposeText, provider.PurposeImage, provider.PurposeRefine} {
			if route, ok := deps.Providers.Route(p); ok {
				resp.Routes = append(resp.Routes, route)
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func probeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, provider.ErrProbeUnsupported):
		return "unsupported"
	default:
		return err.Error()
	}
}
