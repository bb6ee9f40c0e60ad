package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/provider"
	"github.com/kalambet/dermadx/internal/storage"
)

const testToken = "test-token-12345"

const scenarioA = `<root><label id_code="0" score="67.6">광선각화증</label>` +
	`<summary>Scaly patch typical of sun damage.</summary>` +
	`<similar_labels><similar_label id_code="13" score="16.6">보웬병</similar_label></similar_labels></root>`

// scriptedBackend replies with raw or err to every call and records the
// requests it saw.
type scriptedBackend struct {
	mu       sync.Mutex
	raw      string
	err      error
	probeErr error
	reqs     []provider.Request
}

func (b *scriptedBackend) reply(req provider.Request) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reqs = append(b.reqs, req)
	return b.raw, b.err
}

func (b *scriptedBackend) DiagnoseText(_ context.Context, _ provider.Descriptor, req provider.Request) (string, error) {
	return b.reply(req)
}

func (b *scriptedBackend) DiagnoseImage(_ context.Context, _ provider.Descriptor, req provider.Request) (string, error) {
	return b.reply(req)
}

func (b *scriptedBackend) Refine(_ context.Context, _ provider.Descriptor, req provider.Request) (string, error) {
	return b.reply(req)
}

func (b *scriptedBackend) Probe(context.Context, provider.Descriptor) error {
	return b.probeErr
}

type testEnv struct {
	handler http.Handler
	service *diagnosis.Service
	store   *storage.Store
	backend *scriptedBackend
}

type envOptions struct {
	token string
	// textOnly leaves the image purpose without a provider.
	textOnly bool
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	backend := &scriptedBackend{raw: scenarioA}
	cfg := provider.RegistryConfig{
		TextProvider:  "runpod",
		ImageProvider: "runpod",
		Default:       "runpod",
	}
	if opts.textOnly {
		cfg.ImageProvider = "missing"
		cfg.Default = "missing"
	}
	reg, err := provider.NewRegistry(cfg, []provider.Entry{{
		Descriptor: provider.Descriptor{
			ID:           "runpod",
			Kind:         provider.KindRunPod,
			Model:        "derm-ft",
			Capabilities: []provider.Purpose{provider.PurposeText, provider.PurposeImage},
			Timeout:      time.Second,
			ImageTimeout: time.Second,
		},
		Backend: backend,
	}}, nil, quietLogger())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	inv := provider.NewInvoker(reg.Health(), 0, time.Millisecond, quietLogger())
	svc := diagnosis.NewService(reg, inv, store, nil, quietLogger())

	return &testEnv{
		handler: NewHandler(Deps{
			Service:       svc,
			Providers:     reg,
			Notifications: store,
			Token:         opts.token,
			Logger:        quietLogger(),
		}),
		service: svc,
		store:   store,
		backend: backend,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func jsonReq(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
