package cascade

import "encoding/json"

// WorkflowState is the lifecycle of a workflow run.
type WorkflowState string

const (
	WorkflowPending   WorkflowState = "pending"
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
)

// Workflow is an ordered sequence of steps plus the shared context they
// run against. A Workflow describes the pipeline; the Runtime executes
// it.
type Workflow struct {
	id           string
	steps        []Step
	initialInput json.RawMessage
	context      *WorkflowContext
	state        WorkflowState
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithWorkflowID overrides the generated "wf_" id.
func WithWorkflowID(id string) WorkflowOption {
	return func(w *Workflow) {
		if id != "" {
			w.id = id
		}
	}
}

// WithSteps sets the full step sequence at once.
func WithSteps(steps ...Step) WorkflowOption {
	return func(w *Workflow) { w.steps = steps }
}

// WithInitialInput sets the payload handed to the first step.
func WithInitialInput(data json.RawMessage) WorkflowOption {
	return func(w *Workflow) { w.initialInput = data }
}

// WithContext attaches an existing context instead of a fresh one.
func WithContext(c *WorkflowContext) WorkflowOption {
	return func(w *Workflow) {
		if c != nil {
			w.context = c
		}
	}
}

// NewWorkflow creates a workflow. Without options it gets a generated id,
// an empty step list, and a fresh default context.
func NewWorkflow(opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		id:    NewWorkflowID(),
		state: WorkflowPending,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.context == nil {
		w.context = NewWorkflowContext(WithContextWorkflowID(w.id))
	}
	return w
}

// AddStep appends a step. Returns the workflow for chaining.
func (w *Workflow) AddStep(s Step) *Workflow {
	w.steps = append(w.steps, s)
	return w
}

// ID returns the workflow id.
func (w *Workflow) ID() string { return w.id }

// Steps returns the step sequence.
func (w *Workflow) Steps() []Step { return w.steps }

// State returns the current lifecycle state.
func (w *Workflow) State() WorkflowState { return w.state }

// Context returns the shared workflow context.
func (w *Workflow) Context() *WorkflowContext { return w.context }

// InitialInput returns the payload handed to the first step.
func (w *Workflow) InitialInput() json.RawMessage { return w.initialInput }

// StepRecord is the audit entry for one executed step.
type StepRecord struct {
	Index      int             `json:"index"`
	Name       string          `json:"name"`
	Type       StepType        `json:"type"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS float64         `json:"duration_ms"`
}

// WorkflowRun is the result of executing a workflow: final state, final
// output, and per-step records. On failure the run is still returned so
// callers can inspect how far it got.
type WorkflowRun struct {
	WorkflowID       string          `json:"workflow_id"`
	ParentWorkflowID string          `json:"parent_workflow_id,omitempty"`
	State            WorkflowState   `json:"state"`
	Steps            []StepRecord    `json:"steps"`
	Output           json.RawMessage `json:"output,omitempty"`
}
