package cascade

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestAgentStepWrapsResponseEnvelope(t *testing.T) {
	provider := newMockProvider(respondText("step answer"))
	step := NewAgentStep(NewAgent("writer", "", provider))

	if step.Name() != "writer" || step.Type() != StepTypeAgent {
		t.Fatalf("metadata: %q %q", step.Name(), step.Type())
	}

	out, err := step.Execute(context.Background(), StepInput{
		Data:    []byte(`"draft something"`),
		Context: NewWorkflowContext(),
	}, ExecutionContext{})
	if err != nil {
		t.Fatal(err)
	}

	var envelope struct {
		Response    string `json:"response"`
		ContentType string `json:"content_type"`
		TokenCount  int    `json:"token_count"`
	}
	if err := json.Unmarshal(out, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Response != "step answer" {
		t.Fatalf("response = %q", envelope.Response)
	}
	if envelope.ContentType != "text" {
		t.Fatalf("content_type = %q", envelope.ContentType)
	}
	if envelope.TokenCount == 0 {
		t.Fatal("token_count missing")
	}
}

func TestTransformStep(t *testing.T) {
	step := NewTransformStep("upper", func(in json.RawMessage) (json.RawMessage, error) {
		var s string
		if err := json.Unmarshal(in, &s); err != nil {
			return nil, err
		}
		return json.Marshal(strings.ToUpper(s))
	})

	out, err := step.Execute(context.Background(), StepInput{Data: []byte(`"hello"`)}, ExecutionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"HELLO"` {
		t.Fatalf("out = %s", out)
	}
}

func TestTransformStepTrapsPanics(t *testing.T) {
	step := NewTransformStep("explode", func(json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	})

	_, err := step.Execute(context.Background(), StepInput{Data: []byte(`{}`)}, ExecutionContext{})
	var we *ErrWorkflow
	if !errors.As(err, &we) {
		t.Fatalf("err = %v, want *ErrWorkflow", err)
	}
	if we.Code != WorkflowStepFailed || we.Step != "explode" {
		t.Fatalf("code = %q, step = %q", we.Code, we.Step)
	}
	if !strings.Contains(we.Message, "kaboom") {
		t.Fatalf("message = %q", we.Message)
	}
}

func TestConditionalStepRoutesByPredicate(t *testing.T) {
	onTrue := NewTransformStep("yes", func(json.RawMessage) (json.RawMessage, error) {
		return []byte(`"took true"`), nil
	})
	onFalse := NewTransformStep("no", func(json.RawMessage) (json.RawMessage, error) {
		return []byte(`"took false"`), nil
	})
	step := NewConditionalStep("gate",
		func(in json.RawMessage) bool { return len(in) > 10 },
		onTrue, onFalse)

	out, err := step.Execute(context.Background(), StepInput{Data: []byte(`"a long enough payload"`)}, ExecutionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"took true"` {
		t.Fatalf("out = %s", out)
	}

	out, err = step.Execute(context.Background(), StepInput{Data: []byte(`"x"`)}, ExecutionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"took false"` {
		t.Fatalf("out = %s", out)
	}
}

func TestConditionalStepNilBranchPassesThrough(t *testing.T) {
	step := NewConditionalStep("gate",
		func(json.RawMessage) bool { return false },
		NewTransformStep("yes", nil), nil)

	in := []byte(`{"keep":"me"}`)
	out, err := step.Execute(context.Background(), StepInput{Data: in}, ExecutionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(in) {
		t.Fatalf("out = %s, want passthrough", out)
	}
}

func TestConditionalStepPredicatePanic(t *testing.T) {
	step := NewConditionalStep("gate",
		func(json.RawMessage) bool { panic("bad predicate") },
		nil, nil)

	_, err := step.Execute(context.Background(), StepInput{Data: []byte(`{}`)}, ExecutionContext{})
	var we *ErrWorkflow
	if !errors.As(err, &we) {
		t.Fatalf("err = %v, want *ErrWorkflow", err)
	}
	if we.Code != WorkflowConditionalFailed {
		t.Fatalf("code = %q", we.Code)
	}
}

func TestSubWorkflowStepRunsChildAndReturnsOutput(t *testing.T) {
	step := NewSubWorkflowStep("nested", func() *Workflow {
		return NewWorkflow(
			WithWorkflowID("wf_child"),
			WithSteps(NewTransformStep("double", func(in json.RawMessage) (json.RawMessage, error) {
				var n float64
				if err := json.Unmarshal(in, &n); err != nil {
					return nil, err
				}
				return json.Marshal(n * 2)
			})),
		)
	})

	stream := NewEventStream()
	out, err := step.Execute(context.Background(), StepInput{
		Data:       []byte(`21`),
		WorkflowID: "wf_parent",
		Context:    NewWorkflowContext(),
	}, ExecutionContext{Stream: stream})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "42" {
		t.Fatalf("out = %s", out)
	}

	// Child events carry the parent's id.
	var childStarted bool
	for _, ev := range collectEvents(stream, ScopeWorkflow) {
		if ev.WorkflowID == "wf_child" && ev.ParentWorkflowID == "wf_parent" {
			childStarted = true
		}
	}
	if !childStarted {
		t.Fatal("no child workflow event with parent id")
	}
}

func TestSubWorkflowStepWrapsChildFailure(t *testing.T) {
	step := NewSubWorkflowStep("nested", func() *Workflow {
		return NewWorkflow(WithSteps(
			NewTransformStep("boom", func(json.RawMessage) (json.RawMessage, error) {
				return nil, errors.New("child broke")
			}),
		))
	})

	_, err := step.Execute(context.Background(), StepInput{Data: []byte(`{}`)}, ExecutionContext{Stream: NewEventStream()})
	var we *ErrWorkflow
	if !errors.As(err, &we) {
		t.Fatalf("err = %v, want *ErrWorkflow", err)
	}
	if we.Step != "nested" {
		t.Fatalf("step = %q", we.Step)
	}
	if !strings.Contains(err.Error(), "sub-workflow failed") {
		t.Fatalf("err = %v", err)
	}
}
