package provider

import (
	"context"
	"fmt"

	"github.com/kalambet/dermadx/internal/openai"
)

// imageDetail trades resolution for latency on vision calls.
const imageDetail = "low"

// completer is the subset of *openai.Client used by OpenAIBackend.
type completer interface {
	Complete(ctx context.Context, req openai.ChatRequest) (string, error)
	ListModels(ctx context.Context) ([]openai.Model, error)
}

// OpenAIBackend serves the openai and runpod kinds through an
// OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	client completer
}

// NewOpenAIBackend wraps an OpenAI-compatible client.
func NewOpenAIBackend(client completer) *OpenAIBackend {
	return &OpenAIBackend{client: client}
}

func (b *OpenAIBackend) DiagnoseText(ctx context.Context, d Descriptor, req Request) (string, error) {
	if req.Description == "" {
		return "", fmt.Errorf("%w: empty description", ErrInvalidRequest)
	}
	return b.complete(ctx, d, PurposeText, []openai.Message{
		openai.TextMessage("system", SystemPrompt()),
		openai.TextMessage("user", TextPrompt(req)),
	})
}

func (b *OpenAIBackend) DiagnoseImage(ctx context.Context, d Descriptor, req Request) (string, error) {
	if req.ImageBase64 == "" {
		return "", fmt.Errorf("%w: empty image", ErrInvalidRequest)
	}
	return b.complete(ctx, d, PurposeImage, []openai.Message{
		openai.TextMessage("system", SystemPrompt()),
		openai.ImageMessage(ImagePrompt(req), req.ImageBase64, imageDetail),
	})
}

func (b *OpenAIBackend) Refine(ctx context.Context, d Descriptor, req Request) (string, error) {
	if req.Description == "" {
		return "", fmt.Errorf("%w: empty text", ErrInvalidRequest)
	}
	return b.complete(ctx, d, PurposeRefine, []openai.Message{
		openai.TextMessage("system", RefineSystemPrompt()),
		openai.TextMessage("user", RefinePrompt(req)),
	})
}

func (b *OpenAIBackend) complete(ctx context.Context, d Descriptor, mode Purpose, msgs []openai.Message) (string, error) {
	s := d.Settings(mode)
	temp := s.Temperature
	return b.client.Complete(ctx, openai.ChatRequest{
		Model:       d.Model,
		Messages:    msgs,
		Temperature: &temp,
		MaxTokens:   s.MaxTokens,
	})
}

// Probe lists the endpoint's models to confirm it is reachable and the
// credentials are accepted.
func (b *OpenAIBackend) Probe(ctx context.Context, d Descriptor) error {
	if _, err := b.client.ListModels(ctx); err != nil {
		return fmt.Errorf("probing %s: %w", d.ID, err)
	}
	return nil
}
