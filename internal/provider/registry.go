package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kalambet/dermadx/internal/metrics"
)

// Entry pairs a descriptor with the backend that serves it.
type Entry struct {
	Descriptor Descriptor
	Backend    Backend
}

// RegistryConfig names the providers backing each purpose.
type RegistryConfig struct {
	TextProvider  string
	ImageProvider string
	TextFallback  string
	ImageFallback string
	// RefineProvider serves utterance refinement. When empty the text
	// provider and text fallback are used.
	RefineProvider string
	// Default replaces any provider name that is not registered.
	Default string

	FallbackEnabled   bool
	FallbackThreshold int
}

// Route is the resolved provider pair for one purpose.
type Route struct {
	Purpose   Purpose `json:"purpose"`
	Default   string  `json:"default"`
	Alternate string  `json:"alternate,omitempty"`
}

// Registry holds the providers configured at startup and picks one per
// purpose, consulting Health for threshold-based fallback.
type Registry struct {
	descriptors map[string]Descriptor
	backends    map[string]Backend
	routes      map[Purpose]Route

	health          *Health
	fallbackEnabled bool
	threshold       int
	logger          *slog.Logger
}

const defaultFallbackThreshold = 3

// NewRegistry builds a registry from the given entries. Unknown provider
// names in cfg are replaced by cfg.Default with a warning. A resolved
// provider that lacks the capability its purpose requires is a
// *ConfigurationError.
func NewRegistry(cfg RegistryConfig, entries []Entry, health *Health, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = NewHealth()
	}

	r := &Registry{
		descriptors:     make(map[string]Descriptor, len(entries)),
		backends:        make(map[string]Backend, len(entries)),
		routes:          make(map[Purpose]Route, 3),
		health:          health,
		fallbackEnabled: cfg.FallbackEnabled,
		threshold:       cfg.FallbackThreshold,
		logger:          logger,
	}
	if r.threshold <= 0 {
		r.threshold = defaultFallbackThreshold
	}

	for _, e := range entries {
		id := e.Descriptor.ID
		if id == "" {
			return nil, &ConfigurationError{Reason: "provider with empty id"}
		}
		if _, dup := r.descriptors[id]; dup {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("duplicate provider %q", id)}
		}
		if e.Backend == nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("provider %q has no backend", id)}
		}
		r.descriptors[id] = e.Descriptor
		r.backends[id] = e.Backend
	}

	refinePrimary, refineAlternate := cfg.RefineProvider, ""
	if refinePrimary == "" {
		refinePrimary, refineAlternate = cfg.TextProvider, cfg.TextFallback
	}

	for _, p := range []struct {
		purpose   Purpose
		primary   string
		alternate string
	}{
		{PurposeText, cfg.TextProvider, cfg.TextFallback},
		{PurposeImage, cfg.ImageProvider, cfg.ImageFallback},
		{PurposeRefine, refinePrimary, refineAlternate},
	} {
		route, err := r.resolveRoute(p.purpose, p.primary, p.alternate, cfg.Default)
		if err != nil {
			return nil, err
		}
		if route.Default != "" {
			r.routes[p.purpose] = route
		}
	}

	return r, nil
}

func (r *Registry) resolveRoute(purpose Purpose, primary, alternate, fallbackName string) (Route, error) {
	route := Route{Purpose: purpose}

	route.Default = r.resolveName(purpose, primary, fallbackName)
	route.Alternate = r.resolveName(purpose, alternate, fallbackName)
	if route.Alternate == route.Default {
		route.Alternate = ""
	}
	if route.Default == "" && route.Alternate != "" {
		r.logger.Warn("primary provider unavailable, promoting alternate",
			"purpose", purpose, "provider", route.Alternate)
		route.Default, route.Alternate = route.Alternate, ""
	}

	for _, id := range []string{route.Default, route.Alternate} {
		if id == "" {
			continue
		}
		if !r.descriptors[id].Supports(purpose) {
			return Route{}, &ConfigurationError{
				Purpose: purpose,
				Reason:  fmt.Sprintf("provider %q does not support %s", id, purpose),
			}
		}
	}
	return route, nil
}

// resolveName maps a configured name to a registered id, substituting the
// process-wide default for unknown names. An empty name stays empty.
func (r *Registry) resolveName(purpose Purpose, name, fallbackName string) string {
	if name == "" {
		return ""
	}
	if _, ok := r.descriptors[name]; ok {
		return name
	}
	if _, ok := r.descriptors[fallbackName]; ok {
		r.logger.Warn("unknown provider in configuration, using default",
			"purpose", purpose, "provider", name, "default", fallbackName)
		return fallbackName
	}
	r.logger.Warn("unknown provider in configuration and no usable default",
		"purpose", purpose, "provider", name, "default", fallbackName)
	return ""
}

// Select returns the provider that should serve the purpose. When fallback
// is enabled and the default provider has failed at least threshold times
// in a row, the alternate is returned instead.
func (r *Registry) Select(purpose Purpose) (Descriptor, error) {
	route, ok := r.routes[purpose]
	if !ok {
		return Descriptor{}, &ConfigurationError{Purpose: purpose, Reason: "no provider configured"}
	}

	if r.fallbackEnabled && route.Alternate != "" {
		if failures := r.health.ConsecutiveFailures(route.Default); failures >= r.threshold {
			metrics.FallbackSelectionsTotal.WithLabelValues(string(purpose)).Inc()
			r.logger.Warn("default provider unhealthy, using alternate",
				"purpose", purpose,
				"provider", route.Default,
				"alternate", route.Alternate,
				"consecutive_failures", failures,
			)
			return r.descriptors[route.Alternate], nil
		}
	}
	return r.descriptors[route.Default], nil
}

// Backend returns the backend serving the given provider id.
func (r *Registry) Backend(id string) (Backend, bool) {
	b, ok := r.backends[id]
	return b, ok
}

// Descriptors returns all registered descriptors ordered by id.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Route reports the resolved providers for a purpose.
func (r *Registry) Route(purpose Purpose) (Route, bool) {
	route, ok := r.routes[purpose]
	return route, ok
}

// Health returns the health tracker the registry consults.
func (r *Registry) Health() *Health {
	return r.health
}

// ErrProbeUnsupported is returned by Probe for backends without a
// reachability check.
var ErrProbeUnsupported = errors.New("backend does not support probing")

// Probe checks a provider's reachability. A successful probe counts as a
// success for health purposes, so it restores a default provider that
// fallback had routed around.
func (r *Registry) Probe(ctx context.Context, id string) error {
	d, ok := r.descriptors[id]
	if !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	p, ok := r.backends[id].(Prober)
	if !ok {
		return ErrProbeUnsupported
	}
	if err := p.Probe(ctx, d); err != nil {
		return err
	}
	r.health.RecordSuccess(id)
	return nil
}
