package cascade

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// mockProvider replays a scripted sequence of responses. Each call pops
// the next script entry; ChatStream chunks the content before returning.
type mockProvider struct {
	mu      sync.Mutex
	script  []scriptedResponse
	calls   int
	lastReq ChatRequest
}

type scriptedResponse struct {
	resp *ChatResponse
	err  error
	// delay before the first chunk, to drive timeout tests
	delay time.Duration
	// delay after the last chunk, before the response returns
	finishDelay time.Duration
}

func newMockProvider(script ...scriptedResponse) *mockProvider {
	return &mockProvider{script: script}
}

func respondText(content string) scriptedResponse {
	return scriptedResponse{resp: &ChatResponse{Content: content}}
}

func respondToolCall(id, name, args string) scriptedResponse {
	return scriptedResponse{resp: &ChatResponse{
		ToolCalls: []ToolCall{{
			ID:       id,
			Type:     "function",
			Function: FunctionCall{Name: name, Arguments: args},
		}},
	}}
}

func respondErr(err error) scriptedResponse {
	return scriptedResponse{err: err}
}

func (m *mockProvider) next(req ChatRequest) scriptedResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req
	idx := m.calls
	if idx >= len(m.script) {
		idx = len(m.script) - 1 // repeat the final entry
	}
	m.calls++
	return m.script[idx]
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	entry := m.next(req)
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.resp, nil
}

func (m *mockProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (*ChatResponse, error) {
	entry := m.next(req)
	if entry.delay > 0 {
		select {
		case <-time.After(entry.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if entry.err != nil {
		return nil, entry.err
	}
	if entry.resp.Content != "" {
		// Two chunks so streaming paths see more than one send.
		half := len(entry.resp.Content) / 2
		for _, chunk := range []string{entry.resp.Content[:half], entry.resp.Content[half:]} {
			if chunk == "" {
				continue
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	} else {
		// Content-free streams signal liveness with one empty chunk.
		select {
		case ch <- "":
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if entry.finishDelay > 0 {
		select {
		case <-time.After(entry.finishDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return entry.resp, nil
}

func (m *mockProvider) Name() string { return "mock" }

var _ Provider = (*mockProvider)(nil)

// countingTool records how many times it ran and with what arguments.
type countingTool struct {
	mu    sync.Mutex
	name  string
	count int
	args  []map[string]any
	reply string
}

func newCountingTool(name, reply string) *countingTool {
	return &countingTool{name: name, reply: reply}
}

func (t *countingTool) Name() string        { return t.name }
func (t *countingTool) Description() string { return "test tool" }

func (t *countingTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}

func (t *countingTool) Execute(_ context.Context, args map[string]any) (ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.args = append(t.args, args)
	return SuccessResult(map[string]string{"reply": t.reply}, time.Now())
}

func (t *countingTool) executions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// failingTool always returns a tool error.
type failingTool struct{ name string }

func (t *failingTool) Name() string                 { return t.name }
func (t *failingTool) Description() string          { return "always fails" }
func (t *failingTool) InputSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *failingTool) Execute(context.Context, map[string]any) (ToolResult, error) {
	return ToolResult{}, &ErrTool{Code: ToolExecutionFailed, Tool: t.name, Message: "boom"}
}

// collectEvents drains everything currently in the stream history.
func collectEvents(s *EventStream, scope EventScope) []Event {
	var out []Event
	for _, ev := range s.All() {
		if ev.Scope == scope {
			out = append(out, ev)
		}
	}
	return out
}

// recordingTracer captures spans so tests can inspect their attributes.
type recordingTracer struct {
	mu    sync.Mutex
	spans []*recordedSpan
}

type recordedSpan struct {
	name  string
	attrs []SpanAttr
	err   error
	ended bool
}

func (t *recordingTracer) Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &recordedSpan{name: name, attrs: attrs}
	t.spans = append(t.spans, s)
	return ctx, s
}

func (t *recordingTracer) span(name string) *recordedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.spans {
		if s.name == name {
			return s
		}
	}
	return nil
}

func (s *recordedSpan) SetAttr(attrs ...SpanAttr) { s.attrs = append(s.attrs, attrs...) }
func (s *recordedSpan) Event(string, ...SpanAttr) {}
func (s *recordedSpan) Error(err error)           { s.err = err }
func (s *recordedSpan) End()                      { s.ended = true }

func (s *recordedSpan) attr(key string) (any, bool) {
	for _, a := range s.attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

var _ Tracer = (*recordingTracer)(nil)
