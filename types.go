package cascade

import "encoding/json"

// --- Conversation types ---

// ChatMessage is one entry in a conversation log.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued request to invoke a named tool.
// Function.Arguments stays JSON-encoded exactly as the model emitted it;
// parsing happens at dispatch time (see Agent).
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- Model protocol types ---

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Messages    []ChatMessage
	Tools       []ToolDefinition
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// ChatResponse is the assembled result of a chat completion.
// ToolCalls is non-empty when the model requests tool invocations.
type ChatResponse struct {
	Content      string
	Model        string
	ToolCalls    []ToolCall
	Usage        *Usage
	FinishReason string
}

// Usage reports token consumption for one model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

// AssistantToolCallMessage builds the assistant turn that requested calls.
func AssistantToolCallMessage(content string, calls []ToolCall) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content, ToolCalls: calls}
}

// ToolResultMessage links a tool result back to the call that produced it.
func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
