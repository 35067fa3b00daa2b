package openaicompat

import (
	cascade "github.com/nevindra/cascade"
)

// parseResponse converts a non-streaming wire response into the runtime
// shape. An empty choices list is an invalid response.
func parseResponse(providerName string, resp chatResponse) (*cascade.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, &cascade.ErrModel{
			Code:     cascade.ModelInvalidResponse,
			Provider: providerName,
			Message:  "response contains no choices",
		}
	}

	ch := resp.Choices[0]
	out := &cascade.ChatResponse{
		Model:        resp.Model,
		FinishReason: ch.FinishReason,
	}
	if ch.Message != nil {
		out.Content = ch.Message.Content
		out.ToolCalls = convertToolCalls(ch.Message.ToolCalls)
	}
	if resp.Usage != nil {
		out.Usage = &cascade.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func convertToolCalls(calls []toolCallRequest) []cascade.ToolCall {
	var out []cascade.ToolCall
	for _, tc := range calls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out = append(out, cascade.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: cascade.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return out
}
