package openaicompat

import (
	cascade "github.com/nevindra/cascade"
)

// buildBody converts a cascade.ChatRequest into the OpenAI wire body.
func buildBody(req cascade.ChatRequest, model string) chatRequest {
	body := chatRequest{
		Model:       model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}

	for _, m := range req.Messages {
		msg := message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, toolCallRequest{
				ID:   tc.ID,
				Type: "function",
				Function: functionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		body.Messages = append(body.Messages, msg)
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, tool{
			Type: "function",
			Function: function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return body
}
