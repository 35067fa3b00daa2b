package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

const defaultMaxToolIterations = 10

// Agent runs a bounded reasoning loop against a Provider: prepare the
// conversation, call the model, execute requested tools, feed results
// back, repeat until the model answers in plain text or the iteration
// budget runs out.
type Agent struct {
	name              string
	systemPrompt      string
	provider          Provider
	tools             *ToolRegistry
	maxToolIterations int
	loopDetection     LoopDetectionConfig
	contextManager    ContextManager
	retry             *RetryPolicy
	timeout           TimeoutConfig
	stream            *EventStream
	wfctx             *WorkflowContext
	tracer            Tracer
	logger            *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithTools sets the registry the model may call into.
func WithTools(reg *ToolRegistry) AgentOption {
	return func(a *Agent) {
		if reg != nil {
			a.tools = reg
		}
	}
}

// WithMaxToolIterations overrides the default iteration budget of 10.
func WithMaxToolIterations(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.maxToolIterations = n
		}
	}
}

// WithLoopDetection enables the duplicate tool call guard.
func WithLoopDetection(cfg LoopDetectionConfig) AgentOption {
	return func(a *Agent) { a.loopDetection = cfg }
}

// WithContextManager sets the pruning strategy applied before each model
// call. Default is NoOp.
func WithContextManager(cm ContextManager) AgentOption {
	return func(a *Agent) {
		if cm != nil {
			a.contextManager = cm
		}
	}
}

// WithAgentRetry sets the retry policy for model calls.
func WithAgentRetry(p RetryPolicy) AgentOption {
	return func(a *Agent) { a.retry = &p }
}

// WithAgentTimeout bounds model calls.
func WithAgentTimeout(t TimeoutConfig) AgentOption {
	return func(a *Agent) { a.timeout = t }
}

// WithEventStream publishes lifecycle events to the given stream.
func WithEventStream(s *EventStream) AgentOption {
	return func(a *Agent) { a.stream = s }
}

// WithWorkflowContext shares conversation state with a workflow run.
func WithWorkflowContext(c *WorkflowContext) AgentOption {
	return func(a *Agent) { a.wfctx = c }
}

// WithTracer enables span creation for agent and tool operations.
func WithTracer(t Tracer) AgentOption {
	return func(a *Agent) { a.tracer = t }
}

// WithAgentLogger sets the structured logger. Default discards.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAgent creates an agent. name identifies it in events and errors;
// systemPrompt seeds fresh conversations.
func NewAgent(name, systemPrompt string, provider Provider, opts ...AgentOption) *Agent {
	a := &Agent{
		name:              name,
		systemPrompt:      systemPrompt,
		provider:          provider,
		tools:             NewToolRegistry(),
		maxToolIterations: defaultMaxToolIterations,
		contextManager:    NewNoOpManager(),
		timeout:           NoTimeout(),
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's identifier.
func (a *Agent) Name() string { return a.name }

// AgentInput is one request to an agent. Exactly one of Data or
// ChatHistory drives the conversation: an explicit ChatHistory is used
// verbatim, otherwise Data becomes the user message on top of the shared
// context history.
type AgentInput struct {
	Data        json.RawMessage
	ChatHistory []ChatMessage
}

// TextInput builds an AgentInput from a plain user string.
func TextInput(s string) AgentInput {
	raw, _ := json.Marshal(s)
	return AgentInput{Data: raw}
}

// AgentOutput is the result of one agent run.
type AgentOutput struct {
	Content       string
	ChatHistory   []ChatMessage
	TokenCount    int
	ToolCallCount int
	DurationMS    float64
}

// Execute runs the agent loop standalone. Workflow steps go through
// execute directly so they can inject the run's context and stream.
func (a *Agent) Execute(ctx context.Context, input AgentInput) (*AgentOutput, error) {
	return a.execute(ctx, input, a.wfctx, a.stream, "")
}

func (a *Agent) execute(ctx context.Context, input AgentInput, wfctx *WorkflowContext, stream *EventStream, parentWorkflowID string) (out *AgentOutput, err error) {
	if a.provider == nil {
		return nil, &ErrAgent{Code: AgentMissingModelClient, Agent: a.name, Message: "no provider configured"}
	}

	start := time.Now()
	workflowID := a.name
	if wfctx != nil {
		workflowID = wfctx.WorkflowID()
	}

	if a.tracer != nil {
		var span Span
		ctx, span = a.tracer.Start(ctx, "agent.execute",
			StringAttr("agent.name", a.name))
		defer func() {
			if err != nil {
				span.Error(err)
			} else if out != nil {
				span.SetAttr(
					IntAttr("tokens.total", out.TokenCount),
					IntAttr("tool_calls", out.ToolCallCount))
			}
			span.End()
		}()
	}

	a.emit(stream, Event{
		Scope: ScopeAgent, Type: EventStarted, ComponentID: a.name,
		Status: StatusRunning, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
	})
	a.logger.Info("agent started", "agent", a.name, "workflow", workflowID)

	history, err := a.prepareHistory(input, wfctx)
	if err != nil {
		a.emitFailure(stream, workflowID, parentWorkflowID, err)
		return nil, err
	}

	tracker := newToolCallTracker()
	toolDefs := a.tools.ListTools()
	toolCallCount := 0

	iteration := 0
	for {
		iteration++
		if iteration > a.maxToolIterations {
			err = &ErrAgent{
				Code:    AgentMaxToolIterations,
				Agent:   a.name,
				Message: fmt.Sprintf("Maximum tool iterations (%d) exceeded", a.maxToolIterations),
			}
			a.emitFailure(stream, workflowID, parentWorkflowID, err)
			return nil, err
		}

		history = a.pruneHistory(history)

		resp, err := a.callModel(ctx, ChatRequest{Messages: history, Tools: toolDefs}, stream, workflowID, parentWorkflowID, iteration)
		if err != nil {
			wrapped := &ErrAgent{Code: AgentExecutionFailed, Agent: a.name, Message: "model call failed", Err: err}
			a.emitFailure(stream, workflowID, parentWorkflowID, wrapped)
			return nil, wrapped
		}

		if len(resp.ToolCalls) == 0 {
			content := strings.TrimSpace(resp.Content)
			history = append(history, AssistantMessage(content))
			if wfctx != nil {
				wfctx.SetHistory(history)
			}

			out = &AgentOutput{
				Content:       content,
				ChatHistory:   history,
				TokenCount:    tokenCount(resp, content),
				ToolCallCount: toolCallCount,
				DurationMS:    durationMS(start),
			}
			a.emit(stream, Event{
				Scope: ScopeAgent, Type: EventCompleted, ComponentID: a.name,
				Status: StatusCompleted, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
			})
			a.logger.Info("agent completed", "agent", a.name,
				"iterations", iteration, "tool_calls", toolCallCount, "tokens", out.TokenCount)
			return out, nil
		}

		history = append(history, AssistantToolCallMessage(resp.Content, resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			toolCallCount++
			history = append(history, a.handleToolCall(ctx, call, tracker, stream, workflowID, parentWorkflowID))
		}
		if wfctx != nil {
			wfctx.SetHistory(history)
		}
	}
}

// prepareHistory builds the message list for the first model call.
func (a *Agent) prepareHistory(input AgentInput, wfctx *WorkflowContext) ([]ChatMessage, error) {
	if len(input.ChatHistory) > 0 {
		return append([]ChatMessage(nil), input.ChatHistory...), nil
	}

	var history []ChatMessage
	if wfctx != nil {
		history = wfctx.History()
	}

	hasSystem := false
	for _, m := range history {
		if m.Role == "system" {
			hasSystem = true
			break
		}
	}
	if !hasSystem && a.systemPrompt != "" {
		history = append([]ChatMessage{SystemMessage(a.systemPrompt)}, history...)
	}

	user, err := userContent(input.Data)
	if err != nil {
		return nil, &ErrAgent{Code: AgentInvalidInput, Agent: a.name, Message: "input is not valid JSON", Err: err}
	}
	if user != "" {
		history = append(history, UserMessage(user))
	}
	return history, nil
}

// userContent renders the input payload as a user message: JSON strings
// verbatim, anything else pretty-printed.
func userContent(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", err
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

// pruneHistory applies the context manager ahead of a model call.
func (a *Agent) pruneHistory(history []ChatMessage) []ChatMessage {
	tokens := a.contextManager.EstimateTokens(history)
	if !a.contextManager.ShouldPrune(history, tokens) {
		return history
	}
	pruned, freed := a.contextManager.Prune(history)
	a.logger.Debug("history pruned", "agent", a.name,
		"strategy", a.contextManager.Name(), "tokens_freed", freed,
		"messages_before", len(history), "messages_after", len(pruned))
	return pruned
}

// callModel streams one completion, forwarding chunks as llm_request
// progress events. Retries only apply while nothing has been streamed:
// once a consumer saw partial output the call fails over to the caller
// rather than replaying.
func (a *Agent) callModel(ctx context.Context, req ChatRequest, stream *EventStream, workflowID, parentWorkflowID string, iteration int) (*ChatResponse, error) {
	componentID := fmt.Sprintf("%s:llm:%d", a.name, iteration)
	a.emit(stream, Event{
		Scope: ScopeLLMRequest, Type: EventStarted, ComponentID: componentID,
		Status: StatusRunning, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
	})

	policy := RetryPolicy{MaxAttempts: 0}
	if a.retry != nil {
		policy = *a.retry
	}

	var resp *ChatResponse
	var lastErr error
	for attempt := 0; ; attempt++ {
		var chunksSent int
		resp, chunksSent, lastErr = a.streamOnce(ctx, req, stream, workflowID, parentWorkflowID, componentID)
		if lastErr == nil {
			break
		}
		if chunksSent > 0 || !Retryable(lastErr) || attempt >= policy.MaxAttempts {
			if attempt >= policy.MaxAttempts && chunksSent == 0 && Retryable(lastErr) && policy.MaxAttempts > 0 {
				lastErr = &ErrRetryExhausted{Operation: "chat_stream", Attempts: attempt + 1, Err: lastErr}
			}
			break
		}
		delay := policy.DelayForAttempt(attempt)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
		case <-t.C:
			continue
		}
		break
	}

	if lastErr != nil {
		a.emit(stream, Event{
			Scope: ScopeLLMRequest, Type: EventFailed, ComponentID: componentID,
			Status: StatusFailed, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
			Message: lastErr.Error(),
		})
		return nil, lastErr
	}

	a.emit(stream, Event{
		Scope: ScopeLLMRequest, Type: EventCompleted, ComponentID: componentID,
		Status: StatusCompleted, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
	})
	return resp, nil
}

// streamOnce performs a single ChatStream attempt under the timeout
// config, reporting how many chunks reached the event stream.
func (a *Agent) streamOnce(ctx context.Context, req ChatRequest, stream *EventStream, workflowID, parentWorkflowID, componentID string) (*ChatResponse, int, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if a.timeout.Total > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.timeout.Total)
		defer cancel()
	}

	ch := make(chan string, streamChunkBuffer)
	chunksSeen := make(chan struct{}, 1)
	forwarded := make(chan int, 1)
	go func() {
		n := 0
		seen := false
		for chunk := range ch {
			if !seen {
				seen = true
				chunksSeen <- struct{}{}
			}
			// Empty chunks are liveness signals, not output.
			if chunk == "" {
				continue
			}
			n++
			a.emit(stream, Event{
				Scope: ScopeLLMRequest, Type: EventProgress, ComponentID: componentID,
				Status: StatusRunning, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
				Message: chunk,
			})
		}
		forwarded <- n
	}()

	// First-response watchdog: cancel the call if nothing arrives in time.
	var firstFired atomic.Bool
	if a.timeout.FirstResponse > 0 {
		wctx, wcancel := context.WithCancel(callCtx)
		callCtx = wctx
		defer wcancel()
		firstTimer := time.AfterFunc(a.timeout.FirstResponse, func() {
			firstFired.Store(true)
			wcancel()
		})
		go func() {
			select {
			case <-chunksSeen:
				firstTimer.Stop()
			case <-wctx.Done():
			}
		}()
	}

	start := time.Now()
	resp, err := a.provider.ChatStream(callCtx, req, ch)
	close(ch)
	n := <-forwarded

	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			op := "chat_stream"
			if firstFired.Load() {
				op += " (first response)"
			}
			err = &ErrTimeout{Operation: op, Elapsed: time.Since(start)}
		}
		return nil, n, err
	}
	return resp, n, nil
}

// handleToolCall runs one requested tool and returns the tool message to
// append. Failures never abort the loop; the model sees an error message
// and decides what to do next.
func (a *Agent) handleToolCall(ctx context.Context, call ToolCall, tracker *toolCallTracker, stream *EventStream, workflowID, parentWorkflowID string) ChatMessage {
	name := call.Function.Name

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		a.logger.Warn("malformed tool arguments", "agent", a.name, "tool", name, "error", err)
		return ToolResultMessage(call.ID, fmt.Sprintf("Error: Failed to parse tool arguments: %v", err))
	}

	if a.loopDetection.Enabled {
		if prev, looped := tracker.checkForLoop(name, args); looped {
			msg := a.loopDetection.render(name, prev)
			data, _ := json.Marshal(map[string]string{"tool": name})
			a.emit(stream, Event{
				Scope: ScopeAgent, Type: EventProgress, ComponentID: a.name,
				Status: StatusRunning, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
				Message: fmt.Sprintf("suppressed repeated call to tool %q", name),
				Data:    data,
			})
			a.logger.Info("repeated tool call suppressed", "agent", a.name, "tool", name)
			return ToolResultMessage(call.ID, msg)
		}
	}

	a.emit(stream, Event{
		Scope: ScopeTool, Type: EventStarted, ComponentID: name,
		Status: StatusRunning, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
	})

	result, err := a.executeTool(ctx, name, args)
	if err != nil {
		a.emit(stream, Event{
			Scope: ScopeTool, Type: EventFailed, ComponentID: name,
			Status: StatusFailed, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
			Message: err.Error(),
		})
		a.logger.Warn("tool failed", "agent", a.name, "tool", name, "error", err)
		return ToolResultMessage(call.ID, fmt.Sprintf("Error: %v", err))
	}

	content := renderToolResult(result)
	if a.loopDetection.Enabled {
		tracker.record(name, args, content)
	}
	a.emit(stream, Event{
		Scope: ScopeTool, Type: EventCompleted, ComponentID: name,
		Status: StatusCompleted, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
	})
	return ToolResultMessage(call.ID, content)
}

func (a *Agent) executeTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	if a.tracer == nil {
		return a.tools.CallTool(ctx, name, args)
	}
	ctx, span := a.tracer.Start(ctx, "tool.execute",
		StringAttr("tool.name", name),
		StringAttr("agent.name", a.name))
	defer span.End()
	result, err := a.tools.CallTool(ctx, name, args)
	if err != nil {
		span.Error(err)
		return result, err
	}
	span.SetAttr(
		StringAttr("tool.status", string(result.Status)),
		Float64Attr("tool.duration_ms", result.DurationMS))
	return result, nil
}

// renderToolResult flattens a ToolResult into the text the model reads.
func renderToolResult(r ToolResult) string {
	switch r.Status {
	case ToolStatusSuccess:
		return string(r.Output)
	case ToolStatusSuccessNoData:
		if r.Message != "" {
			return r.Message
		}
		return "The operation succeeded but returned no data."
	default:
		return "Error: " + r.Message
	}
}

func tokenCount(resp *ChatResponse, content string) int {
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		return resp.Usage.TotalTokens
	}
	return (len(content) + 3) / 4
}

func (a *Agent) emit(stream *EventStream, ev Event) {
	if stream == nil {
		return
	}
	if _, err := stream.Append(ev); err != nil {
		a.logger.Warn("event rejected", "agent", a.name, "scope", ev.Scope, "error", err)
	}
}

func (a *Agent) emitFailure(stream *EventStream, workflowID, parentWorkflowID string, err error) {
	a.emit(stream, Event{
		Scope: ScopeAgent, Type: EventFailed, ComponentID: a.name,
		Status: StatusFailed, WorkflowID: workflowID, ParentWorkflowID: parentWorkflowID,
		Message: err.Error(),
	})
	a.logger.Error("agent failed", "agent", a.name, "error", err)
}
