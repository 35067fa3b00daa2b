package cascade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Runtime executes workflows step by step, threading each step's output
// into the next step's input and publishing lifecycle events along the
// way. A single Runtime can run many workflows; they share its event
// stream.
type Runtime struct {
	stream *EventStream
	logger *slog.Logger
	tracer Tracer
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeEventStream shares an existing stream instead of a fresh one.
func WithRuntimeEventStream(s *EventStream) RuntimeOption {
	return func(r *Runtime) {
		if s != nil {
			r.stream = s
		}
	}
}

// WithRuntimeLogger sets the structured logger. Default discards.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRuntimeTracer enables span creation around workflow and step runs.
func WithRuntimeTracer(t Tracer) RuntimeOption {
	return func(r *Runtime) { r.tracer = t }
}

func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		stream: NewEventStream(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EventStream returns the runtime's stream for subscribing and replay.
func (r *Runtime) EventStream() *EventStream { return r.stream }

// EventsFromOffset replays the runtime's history from offset o.
func (r *Runtime) EventsFromOffset(o uint64) []Event {
	return r.stream.FromOffset(o)
}

// Execute runs the workflow to completion. On a step failure the partial
// run is returned alongside the error with its state set to failed.
func (r *Runtime) Execute(ctx context.Context, w *Workflow) (*WorkflowRun, error) {
	return r.executeWithParent(ctx, w, "")
}

func (r *Runtime) executeWithParent(ctx context.Context, w *Workflow, parentWorkflowID string) (run *WorkflowRun, err error) {
	if r.tracer != nil {
		var span Span
		ctx, span = r.tracer.Start(ctx, "workflow.execute",
			StringAttr("workflow.id", w.id),
			IntAttr("workflow.steps", len(w.steps)))
		defer func() {
			if err != nil {
				span.Error(err)
			}
			span.End()
		}()
	}

	w.state = WorkflowRunning
	run = &WorkflowRun{
		WorkflowID:       w.id,
		ParentWorkflowID: parentWorkflowID,
		State:            WorkflowRunning,
	}

	r.emit(Event{
		Scope: ScopeWorkflow, Type: EventStarted, ComponentID: w.id,
		Status: StatusRunning, WorkflowID: w.id, ParentWorkflowID: parentWorkflowID,
	})
	r.logger.Info("workflow started", "workflow", w.id, "steps", len(w.steps))

	current := w.initialInput
	previousStep := ""
	for i, step := range w.steps {
		if err = ctx.Err(); err != nil {
			r.failRun(w, run, i, step, err)
			return run, err
		}

		componentID := fmt.Sprintf("%s:step:%d", w.id, i)
		r.emit(Event{
			Scope: ScopeWorkflowStep, Type: EventStarted, ComponentID: componentID,
			Status: StatusRunning, WorkflowID: w.id, ParentWorkflowID: parentWorkflowID,
		})

		in := StepInput{
			Data:         current,
			Index:        i,
			PreviousStep: previousStep,
			WorkflowID:   w.id,
			Context:      w.context,
		}
		ec := ExecutionContext{
			Stream:           r.stream,
			ParentWorkflowID: parentWorkflowID,
			runtime:          r,
		}

		started := time.Now()
		output, stepErr := step.Execute(ctx, in, ec)
		record := StepRecord{
			Index:      i,
			Name:       step.Name(),
			Type:       step.Type(),
			Input:      current,
			Output:     output,
			DurationMS: durationMS(started),
		}

		if stepErr != nil {
			record.Error = stepErr.Error()
			run.Steps = append(run.Steps, record)

			var werr *ErrWorkflow
			if !errors.As(stepErr, &werr) {
				stepErr = &ErrWorkflow{
					Code:    WorkflowStepFailed,
					Step:    step.Name(),
					Message: "step execution failed",
					Err:     stepErr,
				}
			}
			r.emit(Event{
				Scope: ScopeWorkflowStep, Type: EventFailed, ComponentID: componentID,
				Status: StatusFailed, WorkflowID: w.id, ParentWorkflowID: parentWorkflowID,
				Message: stepErr.Error(),
			})
			r.failWorkflow(w, run, parentWorkflowID, stepErr)
			return run, stepErr
		}

		run.Steps = append(run.Steps, record)
		if w.context != nil {
			w.context.incrementStepCount()
		}
		r.emit(Event{
			Scope: ScopeWorkflowStep, Type: EventCompleted, ComponentID: componentID,
			Status: StatusCompleted, WorkflowID: w.id, ParentWorkflowID: parentWorkflowID,
		})
		r.logger.Debug("step completed", "workflow", w.id,
			"step", step.Name(), "index", i, "duration_ms", record.DurationMS)

		current = output
		previousStep = step.Name()
	}

	w.state = WorkflowCompleted
	run.State = WorkflowCompleted
	run.Output = current
	r.emit(Event{
		Scope: ScopeWorkflow, Type: EventCompleted, ComponentID: w.id,
		Status: StatusCompleted, WorkflowID: w.id, ParentWorkflowID: parentWorkflowID,
	})
	r.logger.Info("workflow completed", "workflow", w.id, "steps", len(run.Steps))
	return run, nil
}

// failRun records a cancellation hit before a step started.
func (r *Runtime) failRun(w *Workflow, run *WorkflowRun, index int, step Step, err error) {
	run.Steps = append(run.Steps, StepRecord{
		Index: index,
		Name:  step.Name(),
		Type:  step.Type(),
		Error: err.Error(),
	})
	r.failWorkflow(w, run, run.ParentWorkflowID, err)
}

func (r *Runtime) failWorkflow(w *Workflow, run *WorkflowRun, parentWorkflowID string, err error) {
	w.state = WorkflowFailed
	run.State = WorkflowFailed
	r.emit(Event{
		Scope: ScopeWorkflow, Type: EventFailed, ComponentID: w.id,
		Status: StatusFailed, WorkflowID: w.id, ParentWorkflowID: parentWorkflowID,
		Message: err.Error(),
	})
	r.logger.Error("workflow failed", "workflow", w.id, "error", err)
}

func (r *Runtime) emit(ev Event) {
	if r.stream == nil {
		return
	}
	if _, err := r.stream.Append(ev); err != nil {
		r.logger.Warn("event rejected", "scope", ev.Scope, "error", err)
	}
}
