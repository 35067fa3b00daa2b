package cascade

import (
	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewWorkflowID generates a workflow identifier ("wf_" prefix).
func NewWorkflowID() string {
	return "wf_" + NewID()
}

// newEventID generates an event identifier ("evt_" prefix).
// Assigned by EventStream.Append; callers never set event ids themselves.
func newEventID() string {
	return "evt_" + NewID()
}
