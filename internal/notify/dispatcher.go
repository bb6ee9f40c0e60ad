// Package notify relays finished diagnoses to downstream services without
// holding up the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/metrics"
	"github.com/kalambet/dermadx/internal/storage"
)

// Delivery outcomes recorded in the notification log and metrics.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusPanic     = "panic"
)

// Sink is one downstream target. Send is called at most once per record and
// returns a short human-readable detail on success.
type Sink interface {
	Name() string
	Timeout() time.Duration
	Send(ctx context.Context, rec diagnosis.Record) (string, error)
}

// LogStore records delivery outcomes.
type LogStore interface {
	RecordNotification(n storage.Notification) error
}

// Dispatcher fans each record out to every sink concurrently. Dispatches are
// detached from the request that produced the record.
type Dispatcher struct {
	sinks  []Sink
	store  LogStore
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. store may be nil.
func NewDispatcher(sinks []Sink, store LogStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, store: store, logger: logger}
}

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Notify starts delivering rec and returns immediately. Cancellation of ctx
// does not stop delivery.
func (d *Dispatcher) Notify(ctx context.Context, rec diagnosis.Record) {
	if len(d.sinks) == 0 {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping notification", "analysis_id", rec.ID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		d.dispatch(detached, rec)
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, rec diagnosis.Record) {
	// Members never return an error so one failing sink cannot cancel the
	// others.
	var g errgroup.Group
	for _, s := range d.sinks {
		g.Go(func() error {
			d.deliver(ctx, s, rec)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, rec diagnosis.Record) {
	start := time.Now()
	status, detail := StatusFailed, ""

	defer func() {
		if r := recover(); r != nil {
			status, detail = StatusPanic, fmt.Sprint(r)
			d.logger.Error("notification sink panicked", "sink", s.Name(), "analysis_id", rec.ID, "panic", r)
		}
		d.record(s.Name(), rec.ID, status, detail, time.Since(start))
	}()

	if timeout := s.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := s.Send(ctx, rec)
	if err != nil {
		detail = err.Error()
		d.logger.Error("notification failed", "sink", s.Name(), "analysis_id", rec.ID, "error", err)
		return
	}
	status, detail = StatusDelivered, out
	d.logger.Info("notification delivered", "sink", s.Name(), "analysis_id", rec.ID, "detail", out)
}

func (d *Dispatcher) record(sink, analysisID, status, detail string, elapsed time.Duration) {
	metrics.NotificationsTotal.WithLabelValues(sink, status).Inc()
	if d.store == nil {
		return
	}
	err := d.store.RecordNotification(storage.Notification{
		ID:         uuid.NewString(),
		AnalysisID: analysisID,
		Sink:       sink,
		Status:     status,
		Detail:     detail,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		d.logger.Warn("recording notification outcome", "sink", sink, "analysis_id", analysisID, "error", err)
	}
}

// Close stops accepting new records and waits for in-flight deliveries
// until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for notifications: %w", ctx.Err())
	}
}
