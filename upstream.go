package llmgate

import "context"

// Upstream is the interface that backend adapters must implement. One
// Upstream serves one configured provider; its Name must match a
// ProviderDescriptor in the registry.
type Upstream interface {
	// Name returns the provider identifier this adapter serves.
	Name() string

	// Complete performs a synchronous chat completion.
	Complete(ctx context.Context, req UpstreamRequest) (UpstreamResponse, error)

	// CompleteStream performs a streaming chat completion.
	CompleteStream(ctx context.Context, req UpstreamRequest) (UpstreamStream, error)
}

// Auth holds authentication credentials for an upstream call.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// UpstreamRequest is the request sent to an upstream adapter.
type UpstreamRequest struct {
	Auth     Auth
	Model    string
	Messages []Message

	Temperature *float64
	MaxTokens   *int
	Stop        []string
	Metadata    map[string]any
	Stream      bool
}

// UpstreamResponse is the response from an upstream adapter.
type UpstreamResponse struct {
	ID           string
	Content      string
	FinishReason string
	Usage        Usage
	Model        string
}

// UpstreamStream is the interface for streaming responses.
type UpstreamStream interface {
	// Next returns the next chunk. Returns io.EOF when done.
	Next() (StreamChunk, error)

	// Close releases resources and signals completion.
	Close() error
}
