// Package mcp implements a Model Context Protocol (MCP) client over stdio.
// It connects to external tool servers via JSON-RPC 2.0, discovers their
// tools, and invokes them on behalf of an agent.
//
// The protocol follows the MCP specification (revision 2025-03-26).
// Transport is newline-delimited JSON over the server's stdin/stdout.
package mcp

import "encoding/json"

// --- JSON-RPC 2.0 types ---

// request is an outgoing JSON-RPC 2.0 request or notification.
// Notifications have a nil ID.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  any             `json:"params,omitempty"`
}

// response is an incoming JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	errCodeParse          = -32700
	errCodeInvalidRequest = -32600
	errCodeMethodNotFound = -32601
	errCodeInvalidParams  = -32602
	errCodeInternal       = -32603
)

// --- MCP protocol types ---

// protocolVersion is the MCP protocol version this client speaks.
const protocolVersion = "2025-03-26"

// initializeParams is the client's initialize request payload.
type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's response to an initialize request.
type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// ServerInfo identifies the connected server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// --- Tool types ---

// ToolDefinition describes a tool exposed by an MCP server.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// toolsListResult is the response to tools/list.
type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// toolCallParams is the request payload for tools/call.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResult is the response payload for tools/call.
type ToolCallResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// TextContent is a text content block in MCP responses.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text joins the result's text blocks into one string.
func (r ToolCallResult) Text() string {
	switch len(r.Content) {
	case 0:
		return ""
	case 1:
		return r.Content[0].Text
	}
	out := r.Content[0].Text
	for _, c := range r.Content[1:] {
		out += "\n" + c.Text
	}
	return out
}
