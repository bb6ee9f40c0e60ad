package provider

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T, cfg RegistryConfig, ids ...string) (*Registry, *Health) {
	t.Helper()
	var entries []Entry
	for _, id := range ids {
		entries = append(entries, Entry{Descriptor: descriptor(id), Backend: &mockBackend{}})
	}
	h := NewHealth()
	r, err := NewRegistry(cfg, entries, h, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r, h
}

func fallbackConfig() RegistryConfig {
	return RegistryConfig{
		TextProvider:      "runpod",
		ImageProvider:     "runpod",
		TextFallback:      "openai",
		ImageFallback:     "openai",
		Default:           "runpod",
		FallbackEnabled:   true,
		FallbackThreshold: 3,
	}
}

func TestSelect_Default(t *testing.T) {
	r, _ := newTestRegistry(t, fallbackConfig(), "runpod", "openai")

	d, err := r.Select(PurposeText)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ID != "runpod" {
		t.Errorf("selected %q, want runpod", d.ID)
	}
}

func TestSelect_ThresholdFallbackAndReset(t *testing.T) {
	r, h := newTestRegistry(t, fallbackConfig(), "runpod", "openai")

	for i := 0; i < 2; i++ {
		h.RecordFailure("runpod")
		if d, _ := r.Select(PurposeText); d.ID != "runpod" {
			t.Fatalf("after %d failures selected %q, want runpod", i+1, d.ID)
		}
	}

	h.RecordFailure("runpod")
	if d, _ := r.Select(PurposeText); d.ID != "openai" {
		t.Fatalf("after 3 failures selected %q, want openai", d.ID)
	}
	if d, _ := r.Select(PurposeImage); d.ID != "openai" {
		t.Errorf("image purpose selected %q, want openai", d.ID)
	}

	h.RecordSuccess("runpod")
	if d, _ := r.Select(PurposeText); d.ID != "runpod" {
		t.Errorf("after success selected %q, want runpod", d.ID)
	}
}

func TestSelect_FallbackDisabled(t *testing.T) {
	cfg := fallbackConfig()
	cfg.FallbackEnabled = false
	r, h := newTestRegistry(t, cfg, "runpod", "openai")

	for range 10 {
		h.RecordFailure("runpod")
	}
	if d, _ := r.Select(PurposeText); d.ID != "runpod" {
		t.Errorf("selected %q, want runpod when fallback disabled", d.ID)
	}
}

func TestSelect_NoAlternateStaysOnDefault(t *testing.T) {
	r, h := newTestRegistry(t, fallbackConfig(), "runpod")
	for range 5 {
		h.RecordFailure("runpod")
	}
	if d, _ := r.Select(PurposeText); d.ID != "runpod" {
		t.Errorf("selected %q, want runpod", d.ID)
	}
}

func TestSelect_NothingConfigured(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryConfig{})

	_, err := r.Select(PurposeImage)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *ConfigurationError", err)
	}
	if cerr.Purpose != PurposeImage {
		t.Errorf("purpose = %q, want image", cerr.Purpose)
	}
}

func TestNewRegistry_UnknownNameUsesDefault(t *testing.T) {
	var logs bytes.Buffer
	entries := []Entry{{Descriptor: descriptor("openai"), Backend: &mockBackend{}}}
	r, err := NewRegistry(RegistryConfig{
		TextProvider: "gemini",
		Default:      "openai",
	}, entries, NewHealth(), slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	d, err := r.Select(PurposeText)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ID != "openai" {
		t.Errorf("selected %q, want openai", d.ID)
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "gemini") {
		t.Errorf("expected a warning naming the unknown provider, got %q", logs.String())
	}
}

func TestNewRegistry_PromotesAlternate(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryConfig{
		TextProvider: "runpod",
		TextFallback: "openai",
	}, "openai")

	route, ok := r.Route(PurposeText)
	if !ok || route.Default != "openai" || route.Alternate != "" {
		t.Errorf("route = %+v", route)
	}
}

func TestNewRegistry_MissingCapability(t *testing.T) {
	d := descriptor("textonly")
	d.Capabilities = []Purpose{PurposeText}
	_, err := NewRegistry(RegistryConfig{
		TextProvider:  "textonly",
		ImageProvider: "textonly",
	}, []Entry{{Descriptor: d, Backend: &mockBackend{}}}, nil, nil)

	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *ConfigurationError", err)
	}
}

func TestNewRegistry_Duplicate(t *testing.T) {
	entries := []Entry{
		{Descriptor: descriptor("a"), Backend: &mockBackend{}},
		{Descriptor: descriptor("a"), Backend: &mockBackend{}},
	}
	if _, err := NewRegistry(RegistryConfig{}, entries, nil, nil); err == nil {
		t.Error("expected error for duplicate provider id")
	}
}

func TestDescriptors_Sorted(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryConfig{}, "runpod", "ollama", "openai")
	var ids []string
	for _, d := range r.Descriptors() {
		ids = append(ids, d.ID)
	}
	if strings.Join(ids, ",") != "ollama,openai,runpod" {
		t.Errorf("ids = %v", ids)
	}
}

type probeBackend struct {
	mockBackend
	err error
}

func (p *probeBackend) Probe(context.Context, Descriptor) error { return p.err }

func TestProbe_SuccessResetsHealth(t *testing.T) {
	h := NewHealth()
	r, err := NewRegistry(fallbackConfig(), []Entry{
		{Descriptor: descriptor("runpod"), Backend: &probeBackend{}},
		{Descriptor: descriptor("openai"), Backend: &mockBackend{}},
	}, h, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	for range 3 {
		h.RecordFailure("runpod")
	}

	if err := r.Probe(context.Background(), "runpod"); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if d, _ := r.Select(PurposeText); d.ID != "runpod" {
		t.Errorf("selected %q after successful probe, want runpod", d.ID)
	}

	if err := r.Probe(context.Background(), "openai"); !errors.Is(err, ErrProbeUnsupported) {
		t.Errorf("Probe(openai) = %v, want ErrProbeUnsupported", err)
	}
}

func TestNewRegistry_RefineFollowsTextRoute(t *testing.T) {
	r, _ := newTestRegistry(t, fallbackConfig(), "runpod", "openai")
	route, ok := r.Route(PurposeRefine)
	if !ok || route.Default != "runpod" || route.Alternate != "openai" {
		t.Errorf("refine route = %+v", route)
	}

	cfg := fallbackConfig()
	cfg.RefineProvider = "openai"
	r, _ = newTestRegistry(t, cfg, "runpod", "openai")
	d, err := r.Select(PurposeRefine)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ID != "openai" {
		t.Errorf("selected %q, want openai", d.ID)
	}
}
