package provider

import (
	"context"
	"encoding/json"
	"slices"
	"time"
)

// Purpose is the kind of diagnosis a provider is selected for.
type Purpose string

const (
	PurposeText  Purpose = "text"
	PurposeImage Purpose = "image"
	// PurposeRefine rewrites a patient's symptom description into a short
	// tip for the doctor visit. It runs on text-capable providers.
	PurposeRefine Purpose = "refine"
)

// capability is the descriptor capability a purpose needs.
func (p Purpose) capability() Purpose {
	if p == PurposeRefine {
		return PurposeText
	}
	return p
}

// Kind identifies the wire protocol a provider speaks.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindRunPod Kind = "runpod"
	KindOllama Kind = "ollama"
)

// Image calls use tighter settings than text calls unless a descriptor
// overrides them.
const (
	defaultImageTimeout     = 20 * time.Second
	defaultImageTemperature = 0.05
	defaultImageMaxTokens   = 400

	refineTemperature  = 0.2
	refineMaxTokensCap = 400
)

// Descriptor is the immutable description of one configured provider.
type Descriptor struct {
	ID           string
	Kind         Kind
	Capabilities []Purpose
	BaseURL      string
	Model        string

	Timeout     time.Duration
	Temperature float64
	MaxTokens   int

	ImageTimeout     time.Duration
	ImageTemperature float64
	ImageMaxTokens   int

	// SimilarScale declares the scale the provider uses for similar-condition
	// scores ("percent" or "fraction"). Empty means undeclared.
	SimilarScale string
}

// Supports reports whether the provider can serve the given purpose.
func (d Descriptor) Supports(p Purpose) bool {
	return slices.Contains(d.Capabilities, p.capability())
}

// CallSettings are the per-call model parameters for one request mode.
type CallSettings struct {
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Settings returns the call settings for the given mode.
func (d Descriptor) Settings(mode Purpose) CallSettings {
	switch mode {
	case PurposeImage:
		return CallSettings{
			Timeout:     d.ImageTimeout,
			Temperature: d.ImageTemperature,
			MaxTokens:   d.ImageMaxTokens,
		}
	case PurposeRefine:
		maxTokens := refineMaxTokensCap
		if d.MaxTokens > 0 {
			maxTokens = min(d.MaxTokens, refineMaxTokensCap)
		}
		return CallSettings{
			Timeout:     d.Timeout,
			Temperature: refineTemperature,
			MaxTokens:   maxTokens,
		}
	}
	return CallSettings{
		Timeout:     d.Timeout,
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
	}
}

// Request is one diagnosis request as handed to a backend.
type Request struct {
	Mode           Purpose
	Description    string
	ImageBase64    string
	AdditionalInfo string
	// Questionnaire is opaque structured data supplied with image requests.
	Questionnaire json.RawMessage
	// Language is the reply language for refine requests.
	Language string
}

// ErrorClass classifies how an invocation ended.
type ErrorClass string

const (
	ClassNone      ErrorClass = "none"
	ClassTransient ErrorClass = "transient"
	ClassFatal     ErrorClass = "fatal"
)

// Outcome describes a finished invocation.
type Outcome struct {
	Raw      string
	Attempts int
	Elapsed  time.Duration
	Class    ErrorClass
}

// Backend is the capability every concrete provider implements. Both calls
// return the provider's raw reply text.
type Backend interface {
	DiagnoseText(ctx context.Context, d Descriptor, req Request) (string, error)
	DiagnoseImage(ctx context.Context, d Descriptor, req Request) (string, error)
}

// Refiner is implemented by backends that can rewrite a symptom
// description (req.Description) for a doctor visit.
type Refiner interface {
	Refine(ctx context.Context, d Descriptor, req Request) (string, error)
}

// Prober is implemented by backends that can check reachability without
// running a diagnosis.
type Prober interface {
	Probe(ctx context.Context, d Descriptor) error
}
