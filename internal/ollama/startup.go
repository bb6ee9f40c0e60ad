package ollama

import (
	"context"
	"fmt"
	"io"
	"time"
)

const warmUpTimeout = 30 * time.Second

// EnsureReady prepares a local Ollama for diagnosis: the server must answer,
// a missing model is pulled with progress written to w, and the model is
// loaded with a throwaway chat. Only an unreachable server or a failed pull
// is an error.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve", c.baseURL)
	}

	if !c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		if err := c.PullModel(ctx, model, func(p PullProgress) {
			fmt.Fprintf(w, "  %s\n", progressLine(p))
		}); err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)

	warmUp(ctx, c, model, w)
	return nil
}

func progressLine(p PullProgress) string {
	if p.Total <= 0 {
		return p.Status
	}
	return fmt.Sprintf("%s %.0f%%", p.Status, float64(p.Completed)/float64(p.Total)*100)
}

// warmUp loads model into memory so the first diagnosis skips the cold load.
func warmUp(ctx context.Context, c *Client, model string, w io.Writer) {
	fmt.Fprintf(w, "model %s: warming up...\n", model)
	ctx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()
	if _, err := c.Chat(ctx, model, []Message{{Role: "user", Content: "ping"}}, nil); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", model, err)
		return
	}
	fmt.Fprintf(w, "model %s: warm\n", model)
}
