// Package calculator provides basic arithmetic as an agent tool.
package calculator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cascade "github.com/nevindra/cascade"
)

// Tool evaluates one binary arithmetic operation.
type Tool struct{}

func New() *Tool { return &Tool{} }

func (*Tool) Name() string { return "calculator" }

func (*Tool) Description() string {
	return "Performs basic arithmetic operations: add, subtract, multiply, divide."
}

func (*Tool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"operation": {
				"type": "string",
				"enum": ["add", "subtract", "multiply", "divide"],
				"description": "The arithmetic operation to perform"
			},
			"a": {"type": "number", "description": "First operand"},
			"b": {"type": "number", "description": "Second operand"}
		},
		"required": ["operation", "a", "b"]
	}`)
}

func (*Tool) Execute(_ context.Context, args map[string]any) (cascade.ToolResult, error) {
	started := time.Now()

	op, ok := args["operation"].(string)
	if !ok {
		return cascade.ToolResult{}, invalidParam("operation must be a string")
	}
	a, ok := args["a"].(float64)
	if !ok {
		return cascade.ToolResult{}, invalidParam("a must be a number")
	}
	b, ok := args["b"].(float64)
	if !ok {
		return cascade.ToolResult{}, invalidParam("b must be a number")
	}

	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return cascade.ToolResult{}, &cascade.ErrTool{
				Code:    cascade.ToolExecutionFailed,
				Tool:    "calculator",
				Message: "division by zero",
			}
		}
		result = a / b
	default:
		return cascade.ToolResult{}, invalidParam(fmt.Sprintf("unknown operation %q", op))
	}

	return cascade.SuccessResult(map[string]float64{"result": result}, started)
}

func invalidParam(msg string) error {
	return &cascade.ErrTool{
		Code:    cascade.ToolInvalidParameters,
		Tool:    "calculator",
		Message: msg,
	}
}

var _ cascade.Tool = (*Tool)(nil)
