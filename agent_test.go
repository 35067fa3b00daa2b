package cascade

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAgentReturnsPlainAnswer(t *testing.T) {
	provider := newMockProvider(respondText("  The answer is 42.  "))
	agent := NewAgent("oracle", "You answer questions.", provider)

	out, err := agent.Execute(context.Background(), TextInput("meaning of life?"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "The answer is 42." {
		t.Fatalf("content = %q", out.Content)
	}
	if out.ToolCallCount != 0 {
		t.Fatalf("tool calls = %d, want 0", out.ToolCallCount)
	}

	// Without usage data the token count is estimated from length.
	if out.TokenCount != (len("The answer is 42.")+3)/4 {
		t.Fatalf("token count = %d", out.TokenCount)
	}

	// system prompt + user message + assistant answer
	if len(out.ChatHistory) != 3 {
		t.Fatalf("history len = %d: %+v", len(out.ChatHistory), out.ChatHistory)
	}
	if out.ChatHistory[0].Role != "system" || out.ChatHistory[1].Role != "user" {
		t.Fatal("prepared history misordered")
	}
}

func TestAgentUsesReportedTokenUsage(t *testing.T) {
	provider := newMockProvider(scriptedResponse{resp: &ChatResponse{
		Content: "ok",
		Usage:   &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}})
	agent := NewAgent("oracle", "", provider)

	out, err := agent.Execute(context.Background(), TextInput("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if out.TokenCount != 15 {
		t.Fatalf("token count = %d, want 15", out.TokenCount)
	}
}

func TestAgentRunsToolsThenAnswers(t *testing.T) {
	provider := newMockProvider(
		respondToolCall("call_1", "lookup", `{"q":"go"}`),
		respondText("done"),
	)
	tool := newCountingTool("lookup", "found it")
	registry := NewToolRegistry()
	registry.Register(tool)

	stream := NewEventStream()
	agent := NewAgent("researcher", "Use tools.", provider,
		WithTools(registry),
		WithEventStream(stream),
	)

	out, err := agent.Execute(context.Background(), TextInput("look up go"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "done" {
		t.Fatalf("content = %q", out.Content)
	}
	if tool.executions() != 1 {
		t.Fatalf("tool ran %d times", tool.executions())
	}
	if out.ToolCallCount != 1 {
		t.Fatalf("tool call count = %d", out.ToolCallCount)
	}

	// The tool result is threaded back as a tool message linked by id.
	var toolMsg *ChatMessage
	for i := range out.ChatHistory {
		if out.ChatHistory[i].Role == "tool" {
			toolMsg = &out.ChatHistory[i]
		}
	}
	if toolMsg == nil || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("tool message missing or unlinked: %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, "found it") {
		t.Fatalf("tool message content = %q", toolMsg.Content)
	}

	// Tool lifecycle events on the stream.
	toolEvents := collectEvents(stream, ScopeTool)
	if len(toolEvents) != 2 {
		t.Fatalf("tool events = %d, want started+completed", len(toolEvents))
	}
	if toolEvents[0].Type != EventStarted || toolEvents[1].Type != EventCompleted {
		t.Fatalf("tool event types: %s, %s", toolEvents[0].Type, toolEvents[1].Type)
	}
}

func TestAgentEmitsLLMRequestEventsPerIteration(t *testing.T) {
	provider := newMockProvider(
		respondToolCall("c1", "lookup", `{}`),
		respondText("final"),
	)
	registry := NewToolRegistry()
	registry.Register(newCountingTool("lookup", "ok"))

	stream := NewEventStream()
	agent := NewAgent("worker", "", provider,
		WithTools(registry),
		WithEventStream(stream),
	)
	if _, err := agent.Execute(context.Background(), TextInput("go")); err != nil {
		t.Fatal(err)
	}

	var started []Event
	for _, ev := range collectEvents(stream, ScopeLLMRequest) {
		if ev.Type == EventStarted {
			started = append(started, ev)
		}
	}
	if len(started) != 2 {
		t.Fatalf("llm_request started events = %d, want 2", len(started))
	}
	if started[0].ComponentID != "worker:llm:1" || started[1].ComponentID != "worker:llm:2" {
		t.Fatalf("component ids: %q, %q", started[0].ComponentID, started[1].ComponentID)
	}
}

func TestAgentSuppressesRepeatedToolCall(t *testing.T) {
	provider := newMockProvider(
		respondToolCall("c1", "lookup", `{"q":"go"}`),
		respondToolCall("c2", "lookup", `{"q":"go"}`), // exact repeat
		respondText("stopping now"),
	)
	tool := newCountingTool("lookup", "cached answer")
	registry := NewToolRegistry()
	registry.Register(tool)

	stream := NewEventStream()
	agent := NewAgent("worker", "", provider,
		WithTools(registry),
		WithLoopDetection(DefaultLoopDetection()),
		WithEventStream(stream),
	)

	out, err := agent.Execute(context.Background(), TextInput("go"))
	if err != nil {
		t.Fatal(err)
	}

	// Second call never reached the tool.
	if tool.executions() != 1 {
		t.Fatalf("tool ran %d times, want 1", tool.executions())
	}

	// The model saw a synthetic message carrying the first result.
	var loopMsg string
	for _, m := range out.ChatHistory {
		if m.Role == "tool" && strings.Contains(m.Content, "You already called the tool 'lookup'") {
			loopMsg = m.Content
		}
	}
	if loopMsg == "" {
		t.Fatal("loop suppression message missing from history")
	}
	if !strings.Contains(loopMsg, "cached answer") {
		t.Fatalf("suppression message lacks previous result: %q", loopMsg)
	}

	// Suppression is visible on the event stream as agent progress.
	var found bool
	for _, ev := range collectEvents(stream, ScopeAgent) {
		if ev.Type == EventProgress && strings.Contains(ev.Message, "lookup") {
			found = true
		}
	}
	if !found {
		t.Fatal("no progress event for the suppressed call")
	}
}

func TestAgentMaxToolIterationsExceeded(t *testing.T) {
	// The model asks for a different tool call every time, never answering.
	provider := newMockProvider(
		respondToolCall("c1", "lookup", `{"n":1}`),
		respondToolCall("c2", "lookup", `{"n":2}`),
		respondToolCall("c3", "lookup", `{"n":3}`),
		respondToolCall("c4", "lookup", `{"n":4}`),
	)
	registry := NewToolRegistry()
	registry.Register(newCountingTool("lookup", "ok"))

	agent := NewAgent("runaway", "", provider,
		WithTools(registry),
		WithMaxToolIterations(3),
	)

	_, err := agent.Execute(context.Background(), TextInput("go"))
	var ae *ErrAgent
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *ErrAgent", err)
	}
	if ae.Code != AgentMaxToolIterations {
		t.Fatalf("code = %q", ae.Code)
	}
	if !strings.Contains(ae.Message, "Maximum tool iterations (3) exceeded") {
		t.Fatalf("message = %q", ae.Message)
	}
	if provider.callCount() != 3 {
		t.Fatalf("model called %d times, want 3", provider.callCount())
	}
}

func TestAgentMalformedToolArgumentsAreNotFatal(t *testing.T) {
	provider := newMockProvider(
		respondToolCall("c1", "lookup", `{not valid json`),
		respondText("recovered"),
	)
	tool := newCountingTool("lookup", "ok")
	registry := NewToolRegistry()
	registry.Register(tool)

	agent := NewAgent("worker", "", provider, WithTools(registry))
	out, err := agent.Execute(context.Background(), TextInput("go"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "recovered" {
		t.Fatalf("content = %q", out.Content)
	}
	if tool.executions() != 0 {
		t.Fatal("tool ran despite malformed arguments")
	}

	var found bool
	for _, m := range out.ChatHistory {
		if m.Role == "tool" && strings.Contains(m.Content, "Error: Failed to parse tool arguments") {
			found = true
		}
	}
	if !found {
		t.Fatal("no synthesized error tool message")
	}
}

func TestAgentToolErrorsKeepTheLoopAlive(t *testing.T) {
	provider := newMockProvider(
		respondToolCall("c1", "broken", `{}`),
		respondText("gave up on the tool"),
	)
	registry := NewToolRegistry()
	registry.Register(&failingTool{name: "broken"})

	stream := NewEventStream()
	agent := NewAgent("worker", "", provider,
		WithTools(registry),
		WithEventStream(stream),
	)

	out, err := agent.Execute(context.Background(), TextInput("go"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "gave up on the tool" {
		t.Fatalf("content = %q", out.Content)
	}

	var sawFailure bool
	for _, ev := range collectEvents(stream, ScopeTool) {
		if ev.Type == EventFailed {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("no tool failed event")
	}
}

func TestAgentWritesHistoryToWorkflowContext(t *testing.T) {
	provider := newMockProvider(respondText("noted"))
	wfctx := NewWorkflowContext(WithContextWorkflowID("wf_shared"))
	agent := NewAgent("scribe", "Keep notes.", provider,
		WithWorkflowContext(wfctx),
	)

	if _, err := agent.Execute(context.Background(), TextInput("remember this")); err != nil {
		t.Fatal(err)
	}

	history := wfctx.History()
	if len(history) != 3 {
		t.Fatalf("context history len = %d: %+v", len(history), history)
	}
	if history[len(history)-1].Content != "noted" {
		t.Fatalf("final message = %q", history[len(history)-1].Content)
	}

	// A second run continues the same conversation without re-adding the
	// system prompt.
	if _, err := agent.Execute(context.Background(), TextInput("and this")); err != nil {
		t.Fatal(err)
	}
	systems := 0
	for _, m := range wfctx.History() {
		if m.Role == "system" {
			systems++
		}
	}
	if systems != 1 {
		t.Fatalf("system messages = %d, want 1", systems)
	}
}

func TestAgentExplicitChatHistoryWinsOverContext(t *testing.T) {
	provider := newMockProvider(respondText("ok"))
	wfctx := NewWorkflowContext()
	wfctx.AppendMessages(UserMessage("context junk"))

	agent := NewAgent("worker", "prompt", provider, WithWorkflowContext(wfctx))
	out, err := agent.Execute(context.Background(), AgentInput{
		ChatHistory: []ChatMessage{UserMessage("explicit only")},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range out.ChatHistory {
		if m.Content == "context junk" {
			t.Fatal("explicit history merged with context history")
		}
	}
	if out.ChatHistory[0].Content != "explicit only" {
		t.Fatalf("history[0] = %+v", out.ChatHistory[0])
	}
}

func TestAgentStructuredInputIsPrettyPrinted(t *testing.T) {
	provider := newMockProvider(respondText("ok"))
	agent := NewAgent("worker", "", provider)

	_, err := agent.Execute(context.Background(), AgentInput{
		Data: []byte(`{"task":"summarise","limit":3}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	user := provider.lastReq.Messages[len(provider.lastReq.Messages)-1]
	if user.Role != "user" {
		t.Fatalf("last message role = %q", user.Role)
	}
	if !strings.Contains(user.Content, "\"task\": \"summarise\"") {
		t.Fatalf("user content not pretty-printed: %q", user.Content)
	}
}

func TestAgentRetriesRetryableModelErrors(t *testing.T) {
	provider := newMockProvider(
		respondErr(RateLimitError("mock", "slow down")),
		respondText("eventually"),
	)
	agent := NewAgent("worker", "", provider,
		WithAgentRetry(RetryPolicy{
			MaxAttempts:       2,
			InitialDelay:      time.Millisecond,
			MaxDelay:          5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		}),
	)

	out, err := agent.Execute(context.Background(), TextInput("go"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "eventually" {
		t.Fatalf("content = %q", out.Content)
	}
	if provider.callCount() != 2 {
		t.Fatalf("model called %d times, want 2", provider.callCount())
	}
}

func TestAgentNonRetryableErrorSurfacesImmediately(t *testing.T) {
	provider := newMockProvider(respondErr(&ErrModel{
		Code: ModelAuthFailed, Provider: "mock", Message: "bad key",
	}))
	agent := NewAgent("worker", "", provider,
		WithAgentRetry(DefaultRetryPolicy()),
	)

	_, err := agent.Execute(context.Background(), TextInput("go"))
	if err == nil {
		t.Fatal("expected error")
	}
	if provider.callCount() != 1 {
		t.Fatalf("model called %d times, want 1", provider.callCount())
	}
	var ae *ErrAgent
	if !errors.As(err, &ae) || ae.Code != AgentExecutionFailed {
		t.Fatalf("err = %v", err)
	}
	var me *ErrModel
	if !errors.As(err, &me) || me.Code != ModelAuthFailed {
		t.Fatalf("cause not preserved: %v", err)
	}
}

func TestAgentFirstResponseTimeout(t *testing.T) {
	provider := newMockProvider(scriptedResponse{
		resp:  &ChatResponse{Content: "too late"},
		delay: 200 * time.Millisecond,
	})
	agent := NewAgent("worker", "", provider,
		WithAgentTimeout(TimeoutConfig{FirstResponse: 20 * time.Millisecond}),
	)

	_, err := agent.Execute(context.Background(), TextInput("go"))
	if err == nil {
		t.Fatal("expected timeout")
	}
	var te *ErrTimeout
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *ErrTimeout in chain", err)
	}
	if !strings.Contains(te.Operation, "first response") {
		t.Fatalf("operation = %q", te.Operation)
	}
}

func TestAgentFirstResponseTimeoutSparesLiveToolCallStreams(t *testing.T) {
	// A tool-call stream carries no content chunks. Its liveness signal
	// must satisfy the first-response watchdog even when assembling the
	// full response takes longer than the watchdog allows.
	toolCall := respondToolCall("call_1", "lookup", `{"q":"go"}`)
	toolCall.finishDelay = 120 * time.Millisecond
	provider := newMockProvider(toolCall, respondText("done"))

	tool := newCountingTool("lookup", "found it")
	registry := NewToolRegistry()
	registry.Register(tool)

	agent := NewAgent("worker", "", provider,
		WithTools(registry),
		WithAgentTimeout(TimeoutConfig{FirstResponse: 50 * time.Millisecond}),
	)

	out, err := agent.Execute(context.Background(), TextInput("look it up"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Content != "done" {
		t.Fatalf("content = %q", out.Content)
	}
	if tool.executions() != 1 {
		t.Fatalf("tool ran %d times", tool.executions())
	}
}

func TestAgentToolSpanCarriesOutcome(t *testing.T) {
	provider := newMockProvider(
		respondToolCall("call_1", "lookup", `{}`),
		respondText("done"),
	)
	registry := NewToolRegistry()
	registry.Register(newCountingTool("lookup", "found"))
	tracer := &recordingTracer{}

	agent := NewAgent("worker", "", provider,
		WithTools(registry),
		WithTracer(tracer),
	)
	if _, err := agent.Execute(context.Background(), TextInput("look it up")); err != nil {
		t.Fatalf("execute: %v", err)
	}

	span := tracer.span("tool.execute")
	if span == nil || !span.ended {
		t.Fatal("no completed tool.execute span")
	}
	if v, ok := span.attr("tool.status"); !ok || v != string(ToolStatusSuccess) {
		t.Fatalf("tool.status = %v", v)
	}
	v, ok := span.attr("tool.duration_ms")
	if !ok {
		t.Fatal("tool.duration_ms missing")
	}
	if _, isFloat := v.(float64); !isFloat {
		t.Fatalf("tool.duration_ms = %T, want float64", v)
	}
}

func TestAgentWithoutProvider(t *testing.T) {
	agent := NewAgent("empty", "", nil)
	_, err := agent.Execute(context.Background(), TextInput("go"))
	var ae *ErrAgent
	if !errors.As(err, &ae) || ae.Code != AgentMissingModelClient {
		t.Fatalf("err = %v", err)
	}
}

func TestAgentPrunesBeforeModelCalls(t *testing.T) {
	provider := newMockProvider(respondText("short"))
	wfctx := NewWorkflowContext()
	for i := 0; i < 30; i++ {
		wfctx.AppendMessages(UserMessage(strings.Repeat("long ", 100)))
	}

	agent := NewAgent("worker", "", provider,
		WithWorkflowContext(wfctx),
		WithContextManager(NewSlidingWindowManager(5)),
	)
	if _, err := agent.Execute(context.Background(), TextInput("go")); err != nil {
		t.Fatal(err)
	}

	// 5 window messages + the failed-to-fit extras never reach the model.
	if got := len(provider.lastReq.Messages); got > 6 {
		t.Fatalf("model saw %d messages, want pruned history", got)
	}
}
