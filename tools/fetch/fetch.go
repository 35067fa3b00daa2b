// Package fetch provides a web page tool: it downloads a URL and hands
// the agent readable text instead of raw HTML.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"golang.org/x/text/unicode/norm"

	cascade "github.com/nevindra/cascade"
)

const (
	maxBodyBytes    = 1 << 20 // 1MB
	maxContentChars = 8000
)

// Tool fetches URLs and extracts readable content.
type Tool struct {
	client *http.Client
}

// Option configures a fetch Tool.
type Option func(*Tool)

// WithHTTPClient replaces the default 15-second-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) {
		if c != nil {
			t.client = c
		}
	}
}

func New(opts ...Option) *Tool {
	t := &Tool{
		client: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (*Tool) Name() string { return "web_fetch" }

func (*Tool) Description() string {
	return "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation."
}

func (*Tool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (cascade.ToolResult, error) {
	started := time.Now()
	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return cascade.ToolResult{}, &cascade.ErrTool{
			Code:    cascade.ToolInvalidParameters,
			Tool:    "web_fetch",
			Message: "url must be a non-empty string",
		}
	}

	content, err := t.Fetch(ctx, rawURL)
	if err != nil {
		return cascade.ErrorResult(err.Error(), started), nil
	}
	if content == "" {
		return cascade.NoDataResult("page contained no readable text", started), nil
	}
	if len(content) > maxContentChars {
		content = content[:maxContentChars] + "\n... (truncated)"
	}

	return cascade.SuccessResult(map[string]string{"url": rawURL, "content": content}, started)
}

// Fetch downloads a URL and extracts readable text. Exported for use by
// other tools.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; CascadeBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	html := string(body)

	// Try readability extraction first.
	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return normalize(article.TextContent), nil
	}

	// Fallback: crude tag stripping.
	return normalize(stripHTML(html)), nil
}

// normalize trims and NFC-normalises extracted text so equal-looking
// strings compare equal downstream.
func normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// stripHTML removes tags and collapses whitespace. Last-resort path for
// pages readability cannot parse.
func stripHTML(html string) string {
	var b strings.Builder
	inTag := false
	lastSpace := true
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case !inTag:
			if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
				if !lastSpace {
					b.WriteRune(' ')
					lastSpace = true
				}
			} else {
				b.WriteRune(r)
				lastSpace = false
			}
		}
	}
	return strings.TrimSpace(b.String())
}

var _ cascade.Tool = (*Tool)(nil)
