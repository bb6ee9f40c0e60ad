package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/dermadx/internal/ollama"
)

// chatter is the subset of *ollama.Client used by OllamaBackend.
type chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, opts *ollama.Options) (string, error)
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
}

// OllamaBackend serves the ollama kind against a local Ollama instance.
type OllamaBackend struct {
	client chatter
}

// NewOllamaBackend wraps an Ollama client.
func NewOllamaBackend(client chatter) *OllamaBackend {
	return &OllamaBackend{client: client}
}

func (b *OllamaBackend) DiagnoseText(ctx context.Context, d Descriptor, req Request) (string, error) {
	if req.Description == "" {
		return "", fmt.Errorf("%w: empty description", ErrInvalidRequest)
	}
	return b.client.Chat(ctx, d.Model, []ollama.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: TextPrompt(req)},
	}, options(d.Settings(PurposeText)))
}

func (b *OllamaBackend) DiagnoseImage(ctx context.Context, d Descriptor, req Request) (string, error) {
	if req.ImageBase64 == "" {
		return "", fmt.Errorf("%w: empty image", ErrInvalidRequest)
	}
	return b.client.Chat(ctx, d.Model, []ollama.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: ImagePrompt(req), Images: []string{req.ImageBase64}},
	}, options(d.Settings(PurposeImage)))
}

func (b *OllamaBackend) Refine(ctx context.Context, d Descriptor, req Request) (string, error) {
	if req.Description == "" {
		return "", fmt.Errorf("%w: empty text", ErrInvalidRequest)
	}
	return b.client.Chat(ctx, d.Model, []ollama.Message{
		{Role: "system", Content: RefineSystemPrompt()},
		{Role: "user", Content: RefinePrompt(req)},
	}, options(d.Settings(PurposeRefine)))
}

func options(s CallSettings) *ollama.Options {
	temp := s.Temperature
	return &ollama.Options{Temperature: &temp, NumPredict: s.MaxTokens}
}

var errModelMissing = errors.New("model not pulled")

// Probe checks that Ollama is up and the descriptor's model is present.
func (b *OllamaBackend) Probe(ctx context.Context, d Descriptor) error {
	if !b.client.IsRunning(ctx) {
		return fmt.Errorf("probing %s: ollama is not running", d.ID)
	}
	if !b.client.HasModel(ctx, d.Model) {
		return fmt.Errorf("probing %s: %w: %s", d.ID, errModelMissing, d.Model)
	}
	return nil
}
