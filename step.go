package cascade

import (
	"context"
	"encoding/json"
	"fmt"
)

// StepType labels a step for run records and diagram rendering.
type StepType string

const (
	StepTypeAgent       StepType = "agent"
	StepTypeTransform   StepType = "transform"
	StepTypeConditional StepType = "conditional"
	StepTypeSubWorkflow StepType = "sub_workflow"
)

// StepInput is what the runtime hands a step: the previous step's output
// (or the workflow's initial input), its position, and the shared state.
type StepInput struct {
	Data         json.RawMessage
	Index        int
	PreviousStep string
	WorkflowID   string
	Context      *WorkflowContext
}

// ExecutionContext carries the run-scoped machinery a step may need.
type ExecutionContext struct {
	Stream           *EventStream
	ParentWorkflowID string
	runtime          *Runtime
}

// Step is one unit of a workflow. Execute consumes the previous output
// and produces the next; the runtime threads outputs and records timing.
type Step interface {
	Name() string
	Type() StepType
	Execute(ctx context.Context, in StepInput, ec ExecutionContext) (json.RawMessage, error)
}

// --- Agent step ---

// AgentStep runs an agent with the step's input as its task. The step
// name is the agent name.
type AgentStep struct {
	agent *Agent
}

func NewAgentStep(agent *Agent) *AgentStep {
	return &AgentStep{agent: agent}
}

func (s *AgentStep) Name() string   { return s.agent.Name() }
func (s *AgentStep) Type() StepType { return StepTypeAgent }

// agentStepOutput is the JSON envelope an AgentStep yields downstream.
type agentStepOutput struct {
	Response    string `json:"response"`
	ContentType string `json:"content_type"`
	TokenCount  int    `json:"token_count"`
}

func (s *AgentStep) Execute(ctx context.Context, in StepInput, ec ExecutionContext) (json.RawMessage, error) {
	out, err := s.agent.execute(ctx, AgentInput{Data: in.Data}, in.Context, ec.Stream, ec.ParentWorkflowID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(agentStepOutput{
		Response:    out.Content,
		ContentType: "text",
		TokenCount:  out.TokenCount,
	})
}

// --- Transform step ---

// TransformFunc is a pure data transformation between steps.
type TransformFunc func(in json.RawMessage) (json.RawMessage, error)

// TransformStep applies a Go function to the step input. Panics in the
// function are trapped and surface as step failures, not crashes.
type TransformStep struct {
	name string
	fn   TransformFunc
}

func NewTransformStep(name string, fn TransformFunc) *TransformStep {
	return &TransformStep{name: name, fn: fn}
}

func (s *TransformStep) Name() string   { return s.name }
func (s *TransformStep) Type() StepType { return StepTypeTransform }

func (s *TransformStep) Execute(_ context.Context, in StepInput, _ ExecutionContext) (out json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &ErrWorkflow{
				Code:    WorkflowStepFailed,
				Step:    s.name,
				Message: fmt.Sprintf("transform panicked: %v", p),
			}
		}
	}()
	return s.fn(in.Data)
}

// --- Conditional step ---

// PredicateFunc routes a ConditionalStep. A panic is treated as an
// evaluation failure.
type PredicateFunc func(in json.RawMessage) bool

// ConditionalStep evaluates a predicate over the step input and delegates
// to one of two branches. The chosen branch's output replaces the step
// output entirely.
type ConditionalStep struct {
	name      string
	predicate PredicateFunc
	onTrue    Step
	onFalse   Step
}

func NewConditionalStep(name string, predicate PredicateFunc, onTrue, onFalse Step) *ConditionalStep {
	return &ConditionalStep{name: name, predicate: predicate, onTrue: onTrue, onFalse: onFalse}
}

func (s *ConditionalStep) Name() string   { return s.name }
func (s *ConditionalStep) Type() StepType { return StepTypeConditional }

// Branches returns the true and false branches for diagram rendering.
func (s *ConditionalStep) Branches() (Step, Step) { return s.onTrue, s.onFalse }

func (s *ConditionalStep) Execute(ctx context.Context, in StepInput, ec ExecutionContext) (json.RawMessage, error) {
	verdict, err := s.evaluate(in.Data)
	if err != nil {
		return nil, err
	}
	branch := s.onFalse
	if verdict {
		branch = s.onTrue
	}
	if branch == nil {
		// A missing branch passes the input through untouched.
		return in.Data, nil
	}
	return branch.Execute(ctx, in, ec)
}

func (s *ConditionalStep) evaluate(data json.RawMessage) (verdict bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ErrWorkflow{
				Code:    WorkflowConditionalFailed,
				Step:    s.name,
				Message: fmt.Sprintf("predicate panicked: %v", p),
			}
		}
	}()
	return s.predicate(data), nil
}

// --- Sub-workflow step ---

// WorkflowBuilder constructs a fresh child workflow each run.
type WorkflowBuilder func() *Workflow

// SubWorkflowStep runs a nested workflow as one step. The child shares
// the parent's context and event stream and records the parent's id on
// its events; its final output becomes the step output.
type SubWorkflowStep struct {
	name    string
	builder WorkflowBuilder
}

func NewSubWorkflowStep(name string, builder WorkflowBuilder) *SubWorkflowStep {
	return &SubWorkflowStep{name: name, builder: builder}
}

func (s *SubWorkflowStep) Name() string   { return s.name }
func (s *SubWorkflowStep) Type() StepType { return StepTypeSubWorkflow }

// Build returns a fresh child workflow, used by diagram rendering.
func (s *SubWorkflowStep) Build() *Workflow { return s.builder() }

func (s *SubWorkflowStep) Execute(ctx context.Context, in StepInput, ec ExecutionContext) (json.RawMessage, error) {
	child := s.builder()
	child.initialInput = in.Data
	if in.Context != nil {
		child.context = in.Context
	}

	rt := ec.runtime
	if rt == nil {
		rt = NewRuntime(WithRuntimeEventStream(ec.Stream))
	}
	run, err := rt.executeWithParent(ctx, child, in.WorkflowID)
	if err != nil {
		return nil, &ErrWorkflow{
			Code:    WorkflowStepFailed,
			Step:    s.name,
			Message: "sub-workflow failed",
			Err:     err,
		}
	}
	return run.Output, nil
}

var (
	_ Step = (*AgentStep)(nil)
	_ Step = (*TransformStep)(nil)
	_ Step = (*ConditionalStep)(nil)
	_ Step = (*SubWorkflowStep)(nil)
)
