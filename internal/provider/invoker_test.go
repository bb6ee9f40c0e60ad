package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/dermadx/internal/ollama"
	"github.com/kalambet/dermadx/internal/openai"
)

// newTestInvoker returns an invoker whose sleeps are recorded, not waited.
func newTestInvoker(h *Health, maxRetries int) (*Invoker, *[]time.Duration) {
	inv := NewInvoker(h, maxRetries, 100*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var delays []time.Duration
	inv.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return inv, &delays
}

var textRequest = Request{Mode: PurposeText, Description: "red scaly patch"}

func TestInvoke_Success(t *testing.T) {
	h := NewHealth()
	h.RecordFailure("p")
	inv, _ := newTestInvoker(h, 2)
	b := &mockBackend{results: []mockResult{{raw: "<root/>"}}}

	out, err := inv.Invoke(context.Background(), descriptor("p"), b, textRequest)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Raw != "<root/>" || out.Attempts != 1 || out.Class != ClassNone {
		t.Errorf("outcome = %+v", out)
	}
	if got := h.ConsecutiveFailures("p"); got != 0 {
		t.Errorf("failures after success = %d, want 0", got)
	}
}

func TestInvoke_ExactAttempts(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 5} {
		t.Run(fmt.Sprintf("retries=%d", maxRetries), func(t *testing.T) {
			h := NewHealth()
			inv, delays := newTestInvoker(h, maxRetries)
			b := &mockBackend{results: []mockResult{{err: &openai.StatusError{Code: 503}}}}

			out, err := inv.Invoke(context.Background(), descriptor("p"), b, textRequest)

			var ex *ExhaustedError
			if !errors.As(err, &ex) {
				t.Fatalf("err = %v, want *ExhaustedError", err)
			}
			want := maxRetries + 1
			if got := int(b.calls.Load()); got != want {
				t.Errorf("backend calls = %d, want %d", got, want)
			}
			if ex.Attempts != want || out.Attempts != want {
				t.Errorf("attempts = %d/%d, want %d", ex.Attempts, out.Attempts, want)
			}
			if ex.ProviderID != "p" {
				t.Errorf("provider = %q", ex.ProviderID)
			}
			if openai.StatusCode(err) != 503 {
				t.Error("ExhaustedError does not unwrap to the last provider error")
			}
			if got := h.ConsecutiveFailures("p"); got != want {
				t.Errorf("failures = %d, want %d", got, want)
			}
			if len(*delays) != maxRetries {
				t.Errorf("sleeps = %d, want %d", len(*delays), maxRetries)
			}
		})
	}
}

func TestInvoke_BackoffGrowth(t *testing.T) {
	inv, delays := newTestInvoker(NewHealth(), 3)
	b := &mockBackend{results: []mockResult{
		{err: errors.New("connection reset")},
		{err: fmt.Errorf("read: %w", context.DeadlineExceeded)},
		{err: &openai.StatusError{Code: 500}},
		{raw: "ok"},
	}}

	if _, err := inv.Invoke(context.Background(), descriptor("p"), b, textRequest); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	want := []time.Duration{
		100 * time.Millisecond, // transient, growth 2^0
		300 * time.Millisecond, // timeout, growth 3^1
		400 * time.Millisecond, // transient, growth 2^2
	}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestInvoke_FatalNotRetried(t *testing.T) {
	h := NewHealth()
	inv, _ := newTestInvoker(h, 3)
	b := &mockBackend{results: []mockResult{{err: &openai.StatusError{Code: 401, Body: "bad key"}}}}

	out, err := inv.Invoke(context.Background(), descriptor("p"), b, textRequest)

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if b.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", b.calls.Load())
	}
	if out.Class != ClassFatal {
		t.Errorf("class = %q, want fatal", out.Class)
	}
	if h.ConsecutiveFailures("p") != 1 {
		t.Errorf("failures = %d, want 1", h.ConsecutiveFailures("p"))
	}
}

func TestInvoke_RateLimitRetried(t *testing.T) {
	inv, _ := newTestInvoker(NewHealth(), 1)
	b := &mockBackend{results: []mockResult{
		{err: &openai.StatusError{Code: 429}},
		{raw: "ok"},
	}}
	out, err := inv.Invoke(context.Background(), descriptor("p"), b, textRequest)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", out.Attempts)
	}
}

func TestInvoke_AttemptTimeoutBound(t *testing.T) {
	h := NewHealth()
	inv, delays := newTestInvoker(h, 1)
	d := descriptor("slow")
	d.Timeout = 20 * time.Millisecond
	b := &mockBackend{block: true}

	start := time.Now()
	_, err := inv.Invoke(context.Background(), d, b, textRequest)
	if time.Since(start) > 2*time.Second {
		t.Fatal("hung attempt was not bounded by the descriptor timeout")
	}

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded in chain", err)
	}
	if len(*delays) != 1 || (*delays)[0] != 100*time.Millisecond {
		t.Errorf("delays = %v, want [100ms]", *delays)
	}
	if h.ConsecutiveFailures("slow") != 2 {
		t.Errorf("failures = %d, want 2", h.ConsecutiveFailures("slow"))
	}
}

func TestInvoke_CallerCancelNotCounted(t *testing.T) {
	h := NewHealth()
	inv, _ := newTestInvoker(h, 3)
	b := &mockBackend{block: true}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := inv.Invoke(ctx, descriptor("p"), b, textRequest)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", b.calls.Load())
	}
	if h.ConsecutiveFailures("p") != 0 {
		t.Errorf("failures = %d, want 0 for caller cancellation", h.ConsecutiveFailures("p"))
	}
}

func TestInvoke_UnknownMode(t *testing.T) {
	inv, _ := newTestInvoker(NewHealth(), 2)
	b := &mockBackend{}
	_, err := inv.Invoke(context.Background(), descriptor("p"), b, Request{Mode: "video"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
	if b.calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", b.calls.Load())
	}
}

func TestInvoke_Refine(t *testing.T) {
	inv, _ := newTestInvoker(NewHealth(), 2)
	b := &mockBackend{results: []mockResult{{raw: "꿀팁: 가려움이 심해진 시점을 말씀하세요."}}}

	out, err := inv.Invoke(context.Background(), descriptor("p"), b, Request{Mode: PurposeRefine, Description: "가려워요"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.HasPrefix(out.Raw, "꿀팁:") || out.Attempts != 1 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestInvoke_RefineWithoutRefiner(t *testing.T) {
	h := NewHealth()
	inv, _ := newTestInvoker(h, 2)
	b := &diagnoseOnlyBackend{}

	_, err := inv.Invoke(context.Background(), descriptor("p"), b, Request{Mode: PurposeRefine, Description: "가려워요"})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) || cerr.Purpose != PurposeRefine {
		t.Fatalf("err = %v, want refine *ConfigurationError", err)
	}
	if b.calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", b.calls.Load())
	}
	if h.ConsecutiveFailures("p") != 0 {
		t.Errorf("failures = %d, want 0", h.ConsecutiveFailures("p"))
	}
}

// A default provider timing out on three consecutive calls is routed around
// on the fourth without another attempt against it.
func TestSelectInvoke_TimeoutsTriggerFallback(t *testing.T) {
	h := NewHealth()
	primary := &mockBackend{results: []mockResult{{err: context.DeadlineExceeded}}}
	secondary := &mockBackend{results: []mockResult{{raw: "<root><label>X</label></root>"}}}

	r, err := NewRegistry(fallbackConfig(), []Entry{
		{Descriptor: descriptor("runpod"), Backend: primary},
		{Descriptor: descriptor("openai"), Backend: secondary},
	}, h, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	inv, _ := newTestInvoker(h, 0)

	call := func() (string, error) {
		d, err := r.Select(PurposeText)
		if err != nil {
			return "", err
		}
		b, _ := r.Backend(d.ID)
		_, err = inv.Invoke(context.Background(), d, b, textRequest)
		return d.ID, err
	}

	for i := 0; i < 3; i++ {
		id, err := call()
		if id != "runpod" {
			t.Fatalf("call %d routed to %q, want runpod", i+1, id)
		}
		if err == nil {
			t.Fatalf("call %d succeeded, want timeout", i+1)
		}
	}

	id, err := call()
	if err != nil {
		t.Fatalf("4th call: %v", err)
	}
	if id != "openai" {
		t.Errorf("4th call routed to %q, want openai", id)
	}
	if primary.calls.Load() != 3 {
		t.Errorf("primary calls = %d, want 3", primary.calls.Load())
	}
	if secondary.calls.Load() != 1 {
		t.Errorf("secondary calls = %d, want 1", secondary.calls.Load())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		class   ErrorClass
		timeout bool
	}{
		{"deadline", context.DeadlineExceeded, ClassTransient, true},
		{"408", &openai.StatusError{Code: 408}, ClassTransient, true},
		{"504", &openai.StatusError{Code: 504}, ClassTransient, true},
		{"429", &openai.StatusError{Code: 429}, ClassTransient, false},
		{"502", &openai.StatusError{Code: 502}, ClassTransient, false},
		{"400", &openai.StatusError{Code: 400}, ClassFatal, false},
		{"403", &openai.StatusError{Code: 403}, ClassFatal, false},
		{"invalid", fmt.Errorf("%w: empty image", ErrInvalidRequest), ClassFatal, false},
		{"ollama 404", &ollama.StatusError{Op: "chat", Code: 404}, ClassFatal, false},
		{"ollama 500", &ollama.StatusError{Op: "chat", Code: 500}, ClassTransient, false},
		{"empty reply", openai.ErrEmptyResponse, ClassTransient, false},
		{"network", errors.New("dial tcp: connection refused"), ClassTransient, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, timeout := classify(tt.err)
			if class != tt.class || timeout != tt.timeout {
				t.Errorf("classify = (%q, %v), want (%q, %v)", class, timeout, tt.class, tt.timeout)
			}
		})
	}
}
