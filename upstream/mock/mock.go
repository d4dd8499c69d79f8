// Package mock provides a fake upstream for testing.
package mock

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/lexgate/llmgate"
)

// Upstream is a mock LLM upstream for testing.
type Upstream struct {
	name         string
	latency      time.Duration
	failFirst    int64
	callCount    atomic.Int64
	staticErr    error
	streamErr    error
	usage        llmgate.Usage
	responseFunc func(llmgate.UpstreamRequest) (llmgate.UpstreamResponse, error)
}

var _ llmgate.Upstream = (*Upstream)(nil)

// Option configures a mock Upstream.
type Option func(*Upstream)

// New creates a mock upstream with the given options.
func New(opts ...Option) *Upstream {
	u := &Upstream{
		name: "mock",
		usage: llmgate.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// WithName sets the provider name the adapter serves.
func WithName(name string) Option {
	return func(u *Upstream) { u.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(u *Upstream) { u.latency = d }
}

// WithError makes the upstream always return this error.
func WithError(err error) Option {
	return func(u *Upstream) { u.staticErr = err }
}

// WithFailFirst makes the first n calls fail with the configured error (or
// ErrUpstreamUnavailable), then succeed.
func WithFailFirst(n int) Option {
	return func(u *Upstream) { u.failFirst = int64(n) }
}

// WithStreamError makes streams fail with err after the first chunk,
// simulating a connection torn down mid-stream.
func WithStreamError(err error) Option {
	return func(u *Upstream) { u.streamErr = err }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(usage llmgate.Usage) Option {
	return func(u *Upstream) { u.usage = usage }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(llmgate.UpstreamRequest) (llmgate.UpstreamResponse, error)) Option {
	return func(u *Upstream) { u.responseFunc = fn }
}

func (u *Upstream) Name() string { return u.name }

// CallCount returns the number of calls made to the upstream.
func (u *Upstream) CallCount() int64 { return u.callCount.Load() }

func (u *Upstream) Complete(ctx context.Context, req llmgate.UpstreamRequest) (llmgate.UpstreamResponse, error) {
	if u.latency > 0 {
		select {
		case <-time.After(u.latency):
		case <-ctx.Done():
			return llmgate.UpstreamResponse{}, ctx.Err()
		}
	}

	count := u.callCount.Add(1)

	if u.failFirst > 0 && count <= u.failFirst {
		if u.staticErr != nil {
			return llmgate.UpstreamResponse{}, u.staticErr
		}
		return llmgate.UpstreamResponse{}, llmgate.ErrUpstreamUnavailable
	}

	if u.failFirst == 0 && u.staticErr != nil {
		return llmgate.UpstreamResponse{}, u.staticErr
	}

	if u.responseFunc != nil {
		return u.responseFunc(req)
	}

	return llmgate.UpstreamResponse{
		ID:           "mock-response-id",
		Content:      "Hello from mock upstream",
		FinishReason: "stop",
		Usage:        u.usage,
		Model:        req.Model,
	}, nil
}

func (u *Upstream) CompleteStream(ctx context.Context, req llmgate.UpstreamRequest) (llmgate.UpstreamStream, error) {
	resp, err := u.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if u.streamErr != nil {
		return &mockStream{
			chunks: []llmgate.StreamChunk{
				{
					ID:    resp.ID,
					Model: resp.Model,
					Choices: []llmgate.StreamDelta{
						{Index: 0, Delta: llmgate.Delta{Role: "assistant", Content: resp.Content}},
					},
				},
			},
			err: u.streamErr,
		}, nil
	}

	return &mockStream{
		chunks: []llmgate.StreamChunk{
			{
				ID:    resp.ID,
				Model: resp.Model,
				Choices: []llmgate.StreamDelta{
					{Index: 0, Delta: llmgate.Delta{Role: "assistant"}},
				},
			},
			{
				ID:    resp.ID,
				Model: resp.Model,
				Choices: []llmgate.StreamDelta{
					{Index: 0, Delta: llmgate.Delta{Content: resp.Content}},
				},
			},
			{
				ID:    resp.ID,
				Model: resp.Model,
				Choices: []llmgate.StreamDelta{
					{Index: 0, FinishReason: "stop"},
				},
				Usage: &resp.Usage,
			},
		},
	}, nil
}

type mockStream struct {
	chunks []llmgate.StreamChunk
	index  int
	err    error // returned instead of io.EOF once chunks run out
}

func (s *mockStream) Next() (llmgate.StreamChunk, error) {
	if s.index >= len(s.chunks) {
		if s.err != nil {
			return llmgate.StreamChunk{}, s.err
		}
		return llmgate.StreamChunk{}, io.EOF
	}
	chunk := s.chunks[s.index]
	s.index++
	return chunk, nil
}

func (s *mockStream) Close() error { return nil }
