package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kalambet/dermadx/internal/ollama"
	"github.com/kalambet/dermadx/internal/openai"
)

// ErrInvalidRequest is returned by backends for requests they cannot send,
// such as an image call without image data. It is never retried.
var ErrInvalidRequest = errors.New("invalid provider request")

// ConfigurationError reports that no usable provider exists for a purpose.
type ConfigurationError struct {
	Purpose Purpose
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Purpose == "" {
		return "provider configuration: " + e.Reason
	}
	if e.Purpose == PurposeRefine {
		return "provider configuration for refinement: " + e.Reason
	}
	return fmt.Sprintf("provider configuration for %s diagnosis: %s", e.Purpose, e.Reason)
}

// ExhaustedError is returned when every attempt against a provider failed
// with a transient error.
type ExhaustedError struct {
	ProviderID string
	Attempts   int
	Elapsed    time.Duration
	Err        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("provider %s failed after %d attempts in %s: %v",
		e.ProviderID, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// ProviderError is a fatal rejection by the provider, such as an
// authentication failure or a malformed request.
type ProviderError struct {
	ProviderID string
	Attempts   int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s rejected the request: %v", e.ProviderID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// classify maps an attempt error to its class. timeout is true for
// deadline-type failures, which back off faster.
func classify(err error) (class ErrorClass, timeout bool) {
	if errors.Is(err, ErrInvalidRequest) {
		return ClassFatal, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient, true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTransient, true
	}

	code := statusCode(err)
	switch {
	case code == 0:
		return ClassTransient, false
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ClassTransient, true
	case code == http.StatusTooManyRequests || code >= 500:
		return ClassTransient, false
	case code >= 400:
		return ClassFatal, false
	}
	return ClassTransient, false
}

func statusCode(err error) int {
	if code := openai.StatusCode(err); code != 0 {
		return code
	}
	var oe *ollama.StatusError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return 0
}
