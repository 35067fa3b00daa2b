package cascade

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventScope identifies which component kind emitted an event.
type EventScope string

const (
	ScopeWorkflow     EventScope = "workflow"
	ScopeWorkflowStep EventScope = "workflow_step"
	ScopeAgent        EventScope = "agent"
	ScopeLLMRequest   EventScope = "llm_request"
	ScopeTool         EventScope = "tool"
	ScopeSystem       EventScope = "system"
)

// EventType is the lifecycle stage an event reports.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCanceled  EventType = "canceled"
)

// EventStatus is the component's status after the event.
type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusRunning   EventStatus = "running"
	StatusCompleted EventStatus = "completed"
	StatusFailed    EventStatus = "failed"
	StatusCanceled  EventStatus = "canceled"
)

// Event is an immutable record of a lifecycle transition. ID, Offset and
// Timestamp are assigned at append time; everything else is set by the
// producer.
type Event struct {
	ID        string     `json:"id"`
	Offset    uint64     `json:"offset"`
	Timestamp time.Time  `json:"timestamp"`
	Scope     EventScope `json:"scope"`
	Type      EventType  `json:"type"`

	// ComponentID follows an enforced per-scope format, see validateComponentID.
	ComponentID string `json:"component_id"`

	Status     EventStatus `json:"status"`
	WorkflowID string      `json:"workflow_id"`

	ParentWorkflowID string `json:"parent_workflow_id,omitempty"`
	Message          string `json:"message,omitempty"`

	// Data is an arbitrary JSON payload specific to the component.
	Data json.RawMessage `json:"data,omitempty"`
}

// validateComponentID enforces the component identifier format per scope:
//
//	workflow_step → "<workflow>:step:<index>"
//	llm_request   → "<agent>:llm:<iteration>"
//	system        → "system:<name>"
//	workflow, agent, tool → any non-empty name
//
// Violations come back as *ErrConfig with code ConfigValidation.
func validateComponentID(scope EventScope, id string) error {
	if id == "" {
		return componentIDErr(fmt.Sprintf("%s component_id cannot be empty", scope))
	}

	switch scope {
	case ScopeWorkflowStep:
		return validateIndexedID(scope, id, "step")
	case ScopeLLMRequest:
		return validateIndexedID(scope, id, "llm")
	case ScopeSystem:
		if name, ok := strings.CutPrefix(id, "system:"); !ok || name == "" {
			return componentIDErr(fmt.Sprintf("system component_id must be %q, got %q", "system:<name>", id))
		}
		return nil
	case ScopeWorkflow, ScopeAgent, ScopeTool:
		return nil
	default:
		return componentIDErr(fmt.Sprintf("unknown event scope %q", scope))
	}
}

func validateIndexedID(scope EventScope, id, marker string) error {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[1] != marker || parts[0] == "" {
		return componentIDErr(fmt.Sprintf("%s component_id must be %q, got %q", scope, "<name>:"+marker+":<n>", id))
	}
	if _, err := strconv.ParseUint(parts[2], 10, 64); err != nil {
		return componentIDErr(fmt.Sprintf("%s component_id index must be a number, got %q", scope, parts[2]))
	}
	return nil
}

func componentIDErr(msg string) error {
	return &ErrConfig{Code: ConfigValidation, Field: "component_id", Message: msg}
}
