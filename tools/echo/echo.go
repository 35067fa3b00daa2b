// Package echo provides a trivial tool that returns its input, useful
// for wiring tests and agent smoke checks.
package echo

import (
	"context"
	"encoding/json"
	"time"

	cascade "github.com/nevindra/cascade"
)

// Tool echoes the message argument back.
type Tool struct{}

func New() *Tool { return &Tool{} }

func (*Tool) Name() string { return "echo" }

func (*Tool) Description() string {
	return "Echoes back the provided message. Useful for testing tool connectivity."
}

func (*Tool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {"type": "string", "description": "The message to echo back"}
		},
		"required": ["message"]
	}`)
}

func (*Tool) Execute(_ context.Context, args map[string]any) (cascade.ToolResult, error) {
	started := time.Now()
	msg, ok := args["message"].(string)
	if !ok {
		return cascade.ToolResult{}, &cascade.ErrTool{
			Code:    cascade.ToolInvalidParameters,
			Tool:    "echo",
			Message: "message must be a string",
		}
	}
	return cascade.SuccessResult(map[string]string{"echoed": msg}, started)
}

var _ cascade.Tool = (*Tool)(nil)
