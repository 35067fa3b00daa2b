package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	cascade "github.com/nevindra/cascade"
)

// Provider implements cascade.Provider for any OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName overrides the provider name reported in errors and events.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming chat request and returns the complete
// response. When req.Tools is non-empty, the response may contain
// ToolCalls.
func (p *Provider) Chat(ctx context.Context, req cascade.ChatRequest) (*cascade.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, buildBody(req, p.model))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.httpErr(resp)
	}

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &cascade.ErrModel{
			Code:     cascade.ModelParseError,
			Provider: p.name,
			Model:    p.model,
			Message:  fmt.Sprintf("decode response: %v", err),
			Err:      err,
		}
	}
	return parseResponse(p.name, wire)
}

// ChatStream streams content deltas into ch, then returns the final
// accumulated response. ch stays open; the caller owns it.
func (p *Provider) ChatStream(ctx context.Context, req cascade.ChatRequest, ch chan<- string) (*cascade.ChatResponse, error) {
	body := buildBody(req, p.model)
	body.Stream = true
	body.StreamOptions = &streamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.httpErr(resp)
	}
	return streamSSE(ctx, p.name, p.model, resp.Body, ch)
}

// sendHTTP marshals the request body and posts it to the chat
// completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &cascade.ErrModel{
			Code:     cascade.ModelInvalidRequest,
			Provider: p.name,
			Model:    p.model,
			Message:  fmt.Sprintf("marshal request: %v", err),
			Err:      err,
		}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &cascade.ErrModel{
			Code:     cascade.ModelInvalidRequest,
			Provider: p.name,
			Model:    p.model,
			Message:  fmt.Sprintf("create request: %v", err),
			Err:      err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cascade.NetworkError(p.name, err.Error())
	}
	return resp, nil
}

// httpErr reads the response body and returns an ErrHTTP for retry
// middleware. Parses the Retry-After header when present (429/503).
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &cascade.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: cascade.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ cascade.Provider = (*Provider)(nil)
