package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kalambet/dermadx/internal/metrics"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultTimeout   = 30 * time.Second

	growthTransient = 2
	growthTimeout   = 3
)

// Invoker calls a provider with bounded retry. Every attempt updates the
// shared Health state.
type Invoker struct {
	health     *Health
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewInvoker returns an Invoker that makes at most maxRetries+1 attempts
// per call.
func NewInvoker(health *Health, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Invoker {
	if health == nil {
		health = NewHealth()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay < 0 {
		baseDelay = defaultBaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		health:     health,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// Invoke runs req against backend b. Transient failures are retried after
// baseDelay*growth^attempt, where growth is 3 after a timeout and 2 after
// any other transient failure. Fatal failures return *ProviderError at once;
// exhausted retries return *ExhaustedError. Cancellation of ctx ends the
// loop without counting against the provider.
func (inv *Invoker) Invoke(ctx context.Context, d Descriptor, b Backend, req Request) (Outcome, error) {
	switch req.Mode {
	case PurposeText, PurposeImage:
	case PurposeRefine:
		if _, ok := b.(Refiner); !ok {
			return Outcome{Class: ClassFatal}, &ConfigurationError{
				Purpose: PurposeRefine,
				Reason:  fmt.Sprintf("provider %q cannot refine text", d.ID),
			}
		}
	default:
		return Outcome{Class: ClassFatal}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	start := inv.now()
	timeout := d.Settings(req.Mode).Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var (
		lastErr     error
		lastTimeout bool
	)
	for attempt := 0; attempt <= inv.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(inv.baseDelay, attempt-1, lastTimeout)
			inv.logger.Warn("provider call failed, retrying",
				"provider", d.ID,
				"attempt", attempt,
				"max_attempts", inv.maxRetries+1,
				"backoff", delay,
				"error", lastErr,
			)
			if err := inv.sleep(ctx, delay); err != nil {
				return Outcome{Attempts: attempt, Elapsed: inv.now().Sub(start), Class: ClassTransient},
					fmt.Errorf("provider %s: %w", d.ID, err)
			}
		}

		raw, err := inv.attempt(ctx, d, b, req, timeout)
		if err == nil {
			inv.health.RecordSuccess(d.ID)
			metrics.ProviderAttemptsTotal.WithLabelValues(d.ID, "success").Inc()
			return Outcome{
				Raw:      raw,
				Attempts: attempt + 1,
				Elapsed:  inv.now().Sub(start),
				Class:    ClassNone,
			}, nil
		}

		if ctx.Err() != nil {
			metrics.ProviderAttemptsTotal.WithLabelValues(d.ID, "canceled").Inc()
			return Outcome{Attempts: attempt + 1, Elapsed: inv.now().Sub(start), Class: ClassTransient},
				fmt.Errorf("provider %s: %w", d.ID, ctx.Err())
		}

		class, isTimeout := classify(err)
		failures := inv.health.RecordFailure(d.ID)
		inv.logger.Debug("provider attempt failed",
			"provider", d.ID,
			"attempt", attempt+1,
			"class", class,
			"timeout", isTimeout,
			"consecutive_failures", failures,
			"error", err,
		)

		if class == ClassFatal {
			metrics.ProviderAttemptsTotal.WithLabelValues(d.ID, "fatal").Inc()
			return Outcome{Attempts: attempt + 1, Elapsed: inv.now().Sub(start), Class: ClassFatal},
				&ProviderError{ProviderID: d.ID, Attempts: attempt + 1, Err: err}
		}

		if isTimeout {
			metrics.ProviderAttemptsTotal.WithLabelValues(d.ID, "timeout").Inc()
		} else {
			metrics.ProviderAttemptsTotal.WithLabelValues(d.ID, "transient").Inc()
		}
		lastErr, lastTimeout = err, isTimeout
	}

	elapsed := inv.now().Sub(start)
	inv.logger.Error("provider retries exhausted",
		"provider", d.ID,
		"attempts", inv.maxRetries+1,
		"elapsed_ms", elapsed.Milliseconds(),
		"error", lastErr,
	)
	return Outcome{Attempts: inv.maxRetries + 1, Elapsed: elapsed, Class: ClassTransient},
		&ExhaustedError{ProviderID: d.ID, Attempts: inv.maxRetries + 1, Elapsed: elapsed, Err: lastErr}
}

func (inv *Invoker) attempt(ctx context.Context, d Descriptor, b Backend, req Request, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		raw string
		err error
	)
	switch req.Mode {
	case PurposeImage:
		raw, err = b.DiagnoseImage(attemptCtx, d, req)
	case PurposeRefine:
		raw, err = b.(Refiner).Refine(attemptCtx, d, req)
	default:
		raw, err = b.DiagnoseText(attemptCtx, d, req)
	}

	// A backend may surface the attempt deadline as a plain transport error.
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("attempt timed out after %s: %w", timeout, errors.Join(context.DeadlineExceeded, err))
	}
	return raw, err
}

func backoff(base time.Duration, attempt int, timeout bool) time.Duration {
	growth := float64(growthTransient)
	if timeout {
		growth = growthTimeout
	}
	return time.Duration(float64(base) * math.Pow(growth, float64(attempt)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
