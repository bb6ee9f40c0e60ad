package provider

import (
	"context"
	"sync/atomic"
	"time"
)

// mockBackend returns the outcomes in results in order, repeating the last
// one once exhausted.
type mockBackend struct {
	calls   atomic.Int32
	results []mockResult
	// block makes every call wait for its context.
	block bool
}

type mockResult struct {
	raw string
	err error
}

func (m *mockBackend) next(ctx context.Context) (string, error) {
	n := int(m.calls.Add(1)) - 1
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if len(m.results) == 0 {
		return "", nil
	}
	if n >= len(m.results) {
		n = len(m.results) - 1
	}
	r := m.results[n]
	return r.raw, r.err
}

func (m *mockBackend) DiagnoseText(ctx context.Context, _ Descriptor, _ Request) (string, error) {
	return m.next(ctx)
}

func (m *mockBackend) DiagnoseImage(ctx context.Context, _ Descriptor, _ Request) (string, error) {
	return m.next(ctx)
}

func (m *mockBackend) Refine(ctx context.Context, _ Descriptor, _ Request) (string, error) {
	return m.next(ctx)
}

// diagnoseOnlyBackend serves text and image diagnosis but not refinement.
type diagnoseOnlyBackend struct {
	calls atomic.Int32
}

func (b *diagnoseOnlyBackend) DiagnoseText(context.Context, Descriptor, Request) (string, error) {
	b.calls.Add(1)
	return "", nil
}

func (b *diagnoseOnlyBackend) DiagnoseImage(context.Context, Descriptor, Request) (string, error) {
	b.calls.Add(1)
	return "", nil
}

func descriptor(id string) Descriptor {
	return Descriptor{
		ID:           id,
		Kind:         KindOpenAI,
		Capabilities: []Purpose{PurposeText, PurposeImage},
		Model:        id + "-model",
		Timeout:      time.Second,
		ImageTimeout: time.Second,
	}
}
