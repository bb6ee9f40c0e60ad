// Package ollama talks to a local Ollama server: model presence, pulls and
// non-streaming chat.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

const (
	pathTags = "/api/tags"
	pathPull = "/api/pull"
	pathChat = "/api/chat"

	reachTimeout  = 2 * time.Second
	modelsTimeout = 10 * time.Second
)

// Message is one chat turn. Images carries base64 data for vision models.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Options carries the model parameters used by diagnosis calls.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

// StatusError is returned when Ollama answers with a non-200 status.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

// Client is an Ollama HTTP client. Calls are bounded by their contexts only,
// since model pulls and cold chats can take minutes.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
}

// send issues one request and returns the response when it is a 200. The
// caller closes the body.
func (c *Client) send(ctx context.Context, method, path, op string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{Op: op, Code: resp.StatusCode}
	}
	return resp, nil
}

// Models returns the names of the locally installed models, tags included.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, modelsTimeout)
	defer cancel()
	return c.models(ctx)
}

func (c *Client) models(ctx context.Context) ([]string, error) {
	resp, err := c.send(ctx, http.MethodGet, pathTags, "list models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("list models: decoding response: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// IsRunning reports whether the server answers the model listing quickly.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, reachTimeout)
	defer cancel()
	_, err := c.models(ctx)
	return err == nil
}

// HasModel reports whether model is installed. A bare name matches any tag
// of it, so "llava" matches "llava:latest".
func (c *Client) HasModel(ctx context.Context, model string) bool {
	names, err := c.Models(ctx)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(names, func(n string) bool {
		return n == model || strings.HasPrefix(n, model+":")
	})
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// PullModel downloads model and reads the progress stream to its end,
// handing each line to onProgress when it is non-nil.
func (c *Client) PullModel(ctx context.Context, model string, onProgress func(PullProgress)) error {
	resp, err := c.send(ctx, http.MethodPost, pathPull, "pull "+model, map[string]any{
		"name":   model,
		"stream": true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var p PullProgress
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("pull %s: reading progress: %w", model, err)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
	return nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

// Chat runs a non-streaming chat and returns the assistant reply. A nil opts
// leaves the model defaults in place.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts *Options) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, pathChat, "chat", chatRequest{
		Model:    model,
		Messages: messages,
		Options:  opts,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("chat: decoding response: %w", err)
	}
	return out.Message.Content, nil
}
