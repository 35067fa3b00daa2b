package cascade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nevindra/cascade/mcp"
)

// ExternalTool exposes one tool from an MCP server to an agent. Use
// ExternalTools to mirror a whole server into a registry.
type ExternalTool struct {
	client *mcp.Client
	def    mcp.ToolDefinition
}

func (t *ExternalTool) Name() string        { return t.def.Name }
func (t *ExternalTool) Description() string { return t.def.Description }

func (t *ExternalTool) InputSchema() json.RawMessage {
	if len(t.def.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.def.InputSchema
}

func (t *ExternalTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	started := time.Now()
	result, err := t.client.CallTool(ctx, t.def.Name, args)
	if err != nil {
		return ToolResult{}, &ErrTool{
			Code:    ToolServerCall,
			Tool:    t.def.Name,
			Message: "server call failed",
			Err:     err,
		}
	}
	if result.IsError {
		return ErrorResult(result.Text(), started), nil
	}
	text := result.Text()
	if text == "" {
		return NoDataResult("server returned no content", started), nil
	}
	return ToolResult{
		Output:     mustJSONString(text),
		DurationMS: durationMS(started),
		Status:     ToolStatusSuccess,
	}, nil
}

func mustJSONString(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	raw, _ := json.Marshal(s)
	return raw
}

// ExternalTools performs the MCP handshake and wraps every tool the
// server advertises. Handshake or discovery failures surface as
// server_connection_failed.
func ExternalTools(ctx context.Context, client *mcp.Client) ([]Tool, error) {
	if _, err := client.Initialize(ctx); err != nil {
		return nil, &ErrTool{
			Code:    ToolServerConnect,
			Tool:    client.Name(),
			Message: "initialize handshake failed",
			Err:     err,
		}
	}
	defs, err := client.ListTools(ctx)
	if err != nil {
		return nil, &ErrTool{
			Code:    ToolServerConnect,
			Tool:    client.Name(),
			Message: "tool discovery failed",
			Err:     err,
		}
	}

	tools := make([]Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, &ExternalTool{client: client, def: def})
	}
	return tools, nil
}

var _ Tool = (*ExternalTool)(nil)
