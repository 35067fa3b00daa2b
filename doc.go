// Package cascade is an agent workflow runtime for Go.
//
// It orchestrates multi-step pipelines in which each step is an agent
// (a bounded model/tool dialogue), a pure data transform, a conditional
// branch, or a nested sub-workflow. Steps share a WorkflowContext that
// carries the conversation log and its token budget, and every lifecycle
// transition is appended to an offset-addressed EventStream that supports
// both live broadcast and replay.
//
// # Quick Start
//
// Build a workflow from steps and hand it to a Runtime:
//
//	provider := openaicompat.NewProvider(apiKey, model, baseURL)
//
//	registry := cascade.NewToolRegistry()
//	registry.Register(calculator.New())
//
//	agent := cascade.NewAgent("researcher", "You are a careful researcher.", provider,
//		cascade.WithTools(registry),
//		cascade.WithMaxToolIterations(8),
//	)
//
//	wf := cascade.NewWorkflow(
//		cascade.WithSteps(cascade.NewAgentStep(agent)),
//		cascade.WithInitialInput(json.RawMessage(`"What is 5 + 3?"`)),
//	)
//
//	rt := cascade.NewRuntime()
//	sub := rt.EventStream().Subscribe()
//	run, err := rt.Execute(ctx, wf)
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider]: model backend, one-shot and streaming chat with tool calls
//   - [Tool]: named, JSON-schema-described operation invokable from a dialogue
//   - [Step]: polymorphic unit of workflow execution
//   - [ContextManager]: policy that keeps a conversation log inside its token budget
//   - [Tracer]: optional span-based tracing (observer package provides OTEL)
//
// # Included Implementations
//
// Providers: provider/openaicompat (any OpenAI-compatible chat API).
// Tools: tools/echo, tools/calculator, tools/fetch, tools/pdfreader,
// tools/facts, plus ExternalTool for out-of-process tool servers (mcp).
// Event persistence for audit: eventlog (Postgres).
//
// See cmd/flowdemo for a complete example application and cmd/flowviz for
// workflow diagram rendering.
package cascade
