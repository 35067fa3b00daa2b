package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	cascade "github.com/nevindra/cascade"
)

// streamSSE reads an SSE stream from body, sends content deltas to ch,
// and returns the fully accumulated response (content + tool calls +
// usage). ch stays open; the caller owns it.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, providerName, model string, body io.Reader, ch chan<- string) (*cascade.ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var finishReason string
	var totals *cascade.Usage
	deltaSeen := false

	// Tool calls stream incrementally: each chunk carries an index and
	// arguments arrive as string fragments.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []partialToolCall

	for scanner.Scan() {
		line := scanner.Text()

		// SSE lines that carry data start with "data: ".
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if chunk.Usage != nil {
			totals = &cascade.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			// Usage-only chunk (some providers send this).
			continue
		}

		c := chunk.Choices[0]
		if c.FinishReason != "" {
			finishReason = c.FinishReason
		}
		delta := c.Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			deltaSeen = true
			fullContent.WriteString(delta.Content)
			select {
			case ch <- delta.Content:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else if !deltaSeen {
			// A content-free first delta (tool calls, role announcement)
			// still proves the stream is alive. Signal with an empty
			// chunk; consumers ignore it.
			deltaSeen = true
			select {
			case ch <- "":
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args.WriteString(tc.Function.Arguments)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &cascade.ErrModel{
			Code:      cascade.ModelNetworkError,
			Provider:  providerName,
			Model:     model,
			Message:   "read stream: " + err.Error(),
			Retryable: true,
			Err:       err,
		}
	}

	var calls []cascade.ToolCall
	for _, tc := range toolCalls {
		args := tc.Args.String()
		if args == "" {
			args = "{}"
		}
		calls = append(calls, cascade.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: cascade.FunctionCall{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}

	return &cascade.ChatResponse{
		Content:      fullContent.String(),
		Model:        model,
		ToolCalls:    calls,
		Usage:        totals,
		FinishReason: finishReason,
	}, nil
}
