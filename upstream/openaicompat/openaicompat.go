// Package openaicompat is a chat-completions upstream adapter for
// OpenAI-compatible APIs (OpenAI, Azure-style gateways, Together, Ollama,
// and others).
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lexgate/llmgate"
)

// Upstream is an OpenAI-compatible chat-completions client serving one
// configured provider.
type Upstream struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

var _ llmgate.Upstream = (*Upstream)(nil)

// Option configures the upstream.
type Option func(*Upstream)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Upstream) { u.httpClient = c }
}

// New creates an upstream adapter. name must match the provider descriptor
// it serves.
func New(name, baseURL string, opts ...Option) *Upstream {
	u := &Upstream{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Upstream) Name() string { return u.name }

// apiMessage is the OpenAI chat message format.
type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// apiStreamChunk is a single SSE chunk.
type apiStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Complete performs a synchronous chat completion.
func (u *Upstream) Complete(ctx context.Context, req llmgate.UpstreamRequest) (llmgate.UpstreamResponse, error) {
	httpResp, err := u.doRequest(ctx, req, false)
	if err != nil {
		return llmgate.UpstreamResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return llmgate.UpstreamResponse{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return llmgate.UpstreamResponse{}, fmt.Errorf("llmgate: decode response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return llmgate.UpstreamResponse{}, fmt.Errorf("llmgate: empty choices in response")
	}

	return llmgate.UpstreamResponse{
		ID:           resp.ID,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        resp.Model,
		Usage: llmgate.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// CompleteStream performs a streaming chat completion.
func (u *Upstream) CompleteStream(ctx context.Context, req llmgate.UpstreamRequest) (llmgate.UpstreamStream, error) {
	httpResp, err := u.doRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	if err := mapHTTPError(httpResp); err != nil {
		return nil, err
	}

	return &sseStream{
		reader: bufio.NewReader(httpResp.Body),
		body:   httpResp.Body,
	}, nil
}

// buildBody assembles the request body, merging Metadata keys last so
// provider-specific extensions pass through untouched.
func buildBody(req llmgate.UpstreamRequest, stream bool) map[string]any {
	msgs := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = apiMessage{Role: m.Role, Content: m.Content}
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": msgs,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}
	if stream {
		body["stream"] = true
	}
	for k, v := range req.Metadata {
		body[k] = v
	}
	return body
}

func (u *Upstream) doRequest(ctx context.Context, req llmgate.UpstreamRequest, stream bool) (*http.Response, error) {
	if req.Auth.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key", llmgate.ErrAuthFailed)
	}

	jsonBody, err := json.Marshal(buildBody(req, stream))
	if err != nil {
		return nil, fmt.Errorf("llmgate: marshal request: %w", err)
	}

	url := u.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("llmgate: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Auth.APIKey)

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llmgate.ErrUpstreamUnavailable, err)
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read the body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	resp.Body.Close()

	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &llmgate.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", llmgate.ErrAuthFailed, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", llmgate.ErrInvalidRequest, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", llmgate.ErrUpstreamUnavailable, resp.StatusCode, msg)
	}
}

// parseRetryAfter parses the Retry-After header (seconds form).
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// sseStream parses Server-Sent Events from an HTTP response body.
type sseStream struct {
	reader *bufio.Reader
	body   io.ReadCloser
}

func (s *sseStream) Next() (llmgate.StreamChunk, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return llmgate.StreamChunk{}, io.EOF
			}
			// A torn connection mid-stream is an upstream failure, not a
			// clean end of stream.
			return llmgate.StreamChunk{}, fmt.Errorf("%w: %v", llmgate.ErrUpstreamUnavailable, err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return llmgate.StreamChunk{}, io.EOF
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed chunks
		}

		result := llmgate.StreamChunk{
			ID:    chunk.ID,
			Model: chunk.Model,
		}

		for _, c := range chunk.Choices {
			result.Choices = append(result.Choices, llmgate.StreamDelta{
				Index:        c.Index,
				Delta:        llmgate.Delta{Role: c.Delta.Role, Content: c.Delta.Content},
				FinishReason: c.FinishReason,
			})
		}

		if chunk.Usage != nil {
			result.Usage = &llmgate.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}

		return result, nil
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
