package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/storage"
)

type funcSink struct {
	name    string
	timeout time.Duration
	send    func(ctx context.Context, rec diagnosis.Record) (string, error)
}

func (f funcSink) Name() string           { return f.name }
func (f funcSink) Timeout() time.Duration { return f.timeout }
func (f funcSink) Send(ctx context.Context, rec diagnosis.Record) (string, error) {
	return f.send(ctx, rec)
}

type memLog struct {
	mu  sync.Mutex
	got []storage.Notification
}

func (m *memLog) RecordNotification(n storage.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, n)
	return nil
}

func (m *memLog) bySink() map[string]storage.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]storage.Notification, len(m.got))
	for _, n := range m.got {
		out[n.Sink] = n
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func ok(detail string) func(context.Context, diagnosis.Record) (string, error) {
	return func(context.Context, diagnosis.Record) (string, error) { return detail, nil }
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	log := &memLog{}
	d := NewDispatcher([]Sink{
		funcSink{name: "a", send: ok("done a")},
		funcSink{name: "b", send: ok("done b")},
	}, log, quietLogger())

	d.Notify(context.Background(), diagnosis.Record{ID: "rec-1"})
	closeDispatcher(t, d)

	got := log.bySink()
	for _, name := range []string{"a", "b"} {
		n, ok := got[name]
		if !ok {
			t.Fatalf("no outcome for sink %q", name)
		}
		if n.Status != StatusDelivered || n.AnalysisID != "rec-1" || n.ID == "" {
			t.Errorf("sink %q outcome = %+v", name, n)
		}
	}
	if got["a"].Detail != "done a" {
		t.Errorf("detail = %q", got["a"].Detail)
	}
}

func TestDispatcher_FailureIsolated(t *testing.T) {
	log := &memLog{}
	d := NewDispatcher([]Sink{
		funcSink{name: "broken", send: func(context.Context, diagnosis.Record) (string, error) {
			return "", errors.New("connection refused")
		}},
		funcSink{name: "panics", send: func(context.Context, diagnosis.Record) (string, error) {
			panic("nil map")
		}},
		funcSink{name: "healthy", send: ok("fine")},
	}, log, quietLogger())

	d.Notify(context.Background(), diagnosis.Record{ID: "rec-2"})
	closeDispatcher(t, d)

	got := log.bySink()
	if got["broken"].Status != StatusFailed || got["broken"].Detail != "connection refused" {
		t.Errorf("broken outcome = %+v", got["broken"])
	}
	if got["panics"].Status != StatusPanic || got["panics"].Detail != "nil map" {
		t.Errorf("panics outcome = %+v", got["panics"])
	}
	if got["healthy"].Status != StatusDelivered {
		t.Errorf("healthy outcome = %+v", got["healthy"])
	}
}

func TestDispatcher_NotifyDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher([]Sink{
		funcSink{name: "slow", send: func(context.Context, diagnosis.Record) (string, error) {
			<-release
			return "late", nil
		}},
	}, nil, quietLogger())

	start := time.Now()
	d.Notify(context.Background(), diagnosis.Record{ID: "rec-3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Notify waited for the sink")
	}
	close(release)
	closeDispatcher(t, d)
}

func TestDispatcher_SinkTimeout(t *testing.T) {
	log := &memLog{}
	d := NewDispatcher([]Sink{
		funcSink{name: "hangs", timeout: 20 * time.Millisecond, send: func(ctx context.Context, _ diagnosis.Record) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}},
	}, log, quietLogger())

	d.Notify(context.Background(), diagnosis.Record{ID: "rec-4"})
	closeDispatcher(t, d)

	n := log.bySink()["hangs"]
	if n.Status != StatusFailed {
		t.Errorf("status = %q, want failed", n.Status)
	}
	if n.DurationMs > 2000 {
		t.Errorf("timed-out delivery took %dms", n.DurationMs)
	}
}

func TestDispatcher_DetachedFromCallerContext(t *testing.T) {
	log := &memLog{}
	started := make(chan struct{})
	release := make(chan struct{})
	d := NewDispatcher([]Sink{
		funcSink{name: "s", send: func(ctx context.Context, _ diagnosis.Record) (string, error) {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "sent", nil
		}},
	}, log, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, diagnosis.Record{ID: "rec-5"})
	<-started
	cancel()
	close(release)
	closeDispatcher(t, d)

	if n := log.bySink()["s"]; n.Status != StatusDelivered {
		t.Errorf("outcome = %+v, want delivered despite caller cancel", n)
	}
}

func TestDispatcher_CloseDropsLateRecords(t *testing.T) {
	log := &memLog{}
	d := NewDispatcher([]Sink{funcSink{name: "s", send: ok("x")}}, log, quietLogger())
	closeDispatcher(t, d)

	d.Notify(context.Background(), diagnosis.Record{ID: "late"})
	closeDispatcher(t, d)

	if len(log.bySink()) != 0 {
		t.Error("record delivered after Close")
	}
}

func TestDispatcher_CloseHonorsDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := NewDispatcher([]Sink{
		funcSink{name: "stuck", send: func(context.Context, diagnosis.Record) (string, error) {
			<-release
			return "", nil
		}},
	}, nil, quietLogger())
	d.Notify(context.Background(), diagnosis.Record{ID: "rec-6"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close = %v, want DeadlineExceeded", err)
	}
}

func TestDispatcher_NoSinks(t *testing.T) {
	d := NewDispatcher(nil, nil, quietLogger())
	d.Notify(context.Background(), diagnosis.Record{ID: "rec-7"})
	closeDispatcher(t, d)
	if len(d.Sinks()) != 0 {
		t.Errorf("Sinks = %v", d.Sinks())
	}
}
