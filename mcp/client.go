package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// Client talks JSON-RPC 2.0 to one MCP server. Calls are serialised:
// one request is in flight at a time, matched to its response by id.
// A dedicated goroutine reads the transport, so a call blocked on a
// silent server returns as soon as its context is cancelled; the stale
// response, if it ever arrives, is discarded by id matching on the next
// call. Use Connect for a subprocess server or NewClient for an
// existing reader/writer pair (tests, sockets).
type Client struct {
	name string

	mu     sync.Mutex
	nextID int64
	writer io.Writer
	cmd    *exec.Cmd

	lines   chan []byte
	readErr error // valid once lines is closed

	initialized bool
	serverInfo  ServerInfo
}

// NewClient wraps an existing transport. name identifies the server in
// errors.
func NewClient(name string, r io.Reader, w io.Writer) *Client {
	c := &Client{name: name, writer: w, lines: make(chan []byte)}
	go c.readLoop(r)
	return c
}

// readLoop delivers raw response lines until the transport closes. It
// exits on EOF, which Close triggers for subprocess servers.
func (c *Client) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 10<<20), 10<<20) // 10MB max message
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		c.lines <- buf
	}
	c.readErr = scanner.Err()
	close(c.lines)
}

// Connect launches the server as a subprocess and wires its stdio.
func Connect(ctx context.Context, name, command string, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, connectErr(name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, connectErr(name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, connectErr(name, err)
	}

	c := NewClient(name, stdout, stdin)
	c.cmd = cmd
	return c, nil
}

func connectErr(name string, err error) error {
	return fmt.Errorf("mcp: connect to server %q: %w", name, err)
}

// Name returns the server identifier.
func (c *Client) Name() string { return c.name }

// ServerInfo returns what the server reported during Initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Close shuts the transport down. Subprocess servers get their stdin
// closed first so they can exit cleanly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if closer, ok := c.writer.(io.Closer); ok {
		closer.Close()
	}
	if c.cmd != nil {
		return c.cmd.Wait()
	}
	return nil
}

// Initialize performs the MCP handshake. Must be called once before
// ListTools or CallTool.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	var result InitializeResult
	err := c.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    struct{}{},
		ClientInfo:      clientInfo{Name: "cascade", Version: "0.1.0"},
	}, &result)
	if err != nil {
		return nil, err
	}

	if err := c.notify("notifications/initialized", nil); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()
	return &result, nil
}

// ListTools fetches the server's tool catalogue.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var result toolsListResult
	if err := c.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes one tool and returns its result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	var result ToolCallResult
	err := c.call(ctx, "tools/call", toolCallParams{Name: name, Arguments: args}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// call sends one request and waits for its response, skipping any
// interleaved notifications from the server. Cancelling ctx releases
// the waiter (and the client lock) without waiting for the server.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := json.RawMessage(strconv.FormatInt(c.nextID, 10))

	if err := c.write(request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("mcp: send %s: %w", method, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-c.lines:
			if !ok {
				if c.readErr != nil {
					return fmt.Errorf("mcp: %s: read response: %w", method, c.readErr)
				}
				return fmt.Errorf("mcp: %s: server closed the stream", method)
			}

			var resp response
			if err := json.Unmarshal(line, &resp); err != nil {
				continue // not a response, likely a server notification
			}
			if string(resp.ID) != string(id) {
				continue
			}

			if resp.Error != nil {
				return fmt.Errorf("mcp: %s: server error %d: %s", method, resp.Error.Code, resp.Error.Message)
			}
			if result != nil && len(resp.Result) > 0 {
				if err := json.Unmarshal(resp.Result, result); err != nil {
					return fmt.Errorf("mcp: %s: decode result: %w", method, err)
				}
			}
			return nil
		}
	}
}

// notify sends a notification (no ID, no response expected).
func (c *Client) notify(method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(request{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) write(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.writer.Write(data)
	return err
}
