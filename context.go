package cascade

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	defaultMaxContextTokens = 128_000
	defaultInputOutputRatio = 4.0
)

// ContextMetadata describes a workflow context for checkpointing and audit.
type ContextMetadata struct {
	WorkflowID  string    `json:"workflow_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	StepCount   int       `json:"step_count"`
}

// WorkflowContext is the shared conversation state for a workflow run.
// It is the single source of truth for the message log while the run is in
// flight: steps read the history, run their work, and write the updated log
// back. The zero value is not usable; construct with NewWorkflowContext.
//
// The context is safe for concurrent use. Lock critical sections are
// synchronous; no I/O happens under the lock.
type WorkflowContext struct {
	mu               sync.RWMutex
	history          []ChatMessage
	maxContextTokens int
	inputOutputRatio float64
	meta             ContextMetadata
}

// ContextOption configures a WorkflowContext.
type ContextOption func(*WorkflowContext)

// WithContextWorkflowID overrides the generated workflow id.
func WithContextWorkflowID(id string) ContextOption {
	return func(c *WorkflowContext) {
		if id != "" {
			c.meta.WorkflowID = id
		}
	}
}

// WithTokenBudget sets the total context budget and the input:output ratio.
// Invalid values (total < 1, ratio <= 0) keep the defaults.
func WithTokenBudget(total int, ratio float64) ContextOption {
	return func(c *WorkflowContext) {
		if total >= 1 {
			c.maxContextTokens = total
		}
		if ratio > 0 {
			c.inputOutputRatio = ratio
		}
	}
}

// NewWorkflowContext creates an empty context with a 128k token budget and
// a 4:1 input:output ratio.
func NewWorkflowContext(opts ...ContextOption) *WorkflowContext {
	now := time.Now().UTC()
	c := &WorkflowContext{
		maxContextTokens: defaultMaxContextTokens,
		inputOutputRatio: defaultInputOutputRatio,
		meta: ContextMetadata{
			WorkflowID:  NewWorkflowID(),
			CreatedAt:   now,
			LastUpdated: now,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WorkflowID returns the id this context was created for.
func (c *WorkflowContext) WorkflowID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta.WorkflowID
}

// Metadata returns a copy of the context metadata.
func (c *WorkflowContext) Metadata() ContextMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta
}

// History returns a copy of the conversation log.
func (c *WorkflowContext) History() []ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChatMessage, len(c.history))
	copy(out, c.history)
	return out
}

// AppendMessages adds messages to the end of the log.
func (c *WorkflowContext) AppendMessages(msgs ...ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, msgs...)
	c.meta.LastUpdated = time.Now().UTC()
}

// SetHistory replaces the entire log.
func (c *WorkflowContext) SetHistory(msgs []ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = make([]ChatMessage, len(msgs))
	copy(c.history, msgs)
	c.meta.LastUpdated = time.Now().UTC()
}

// MaxContextTokens returns the total token budget.
func (c *WorkflowContext) MaxContextTokens() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxContextTokens
}

// InputOutputRatio returns the configured input:output partition ratio.
func (c *WorkflowContext) InputOutputRatio() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inputOutputRatio
}

// MaxInputTokens returns the share of the budget reserved for input:
// total * ratio / (ratio + 1).
func (c *WorkflowContext) MaxInputTokens() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(float64(c.maxContextTokens) * c.inputOutputRatio / (c.inputOutputRatio + 1))
}

// MaxOutputTokens returns the share of the budget reserved for output:
// total / (ratio + 1).
func (c *WorkflowContext) MaxOutputTokens() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(float64(c.maxContextTokens) / (c.inputOutputRatio + 1))
}

// Fork returns a deep copy with a fresh "<id>-fork" workflow id and reset
// step count. Use when a sub-workflow needs isolation instead of the
// default shared context.
func (c *WorkflowContext) Fork() *WorkflowContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now().UTC()
	hist := make([]ChatMessage, len(c.history))
	copy(hist, c.history)
	return &WorkflowContext{
		history:          hist,
		maxContextTokens: c.maxContextTokens,
		inputOutputRatio: c.inputOutputRatio,
		meta: ContextMetadata{
			WorkflowID:  c.meta.WorkflowID + "-fork",
			CreatedAt:   now,
			LastUpdated: now,
		},
	}
}

// incrementStepCount records a completed step. Called by the Runtime.
func (c *WorkflowContext) incrementStepCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta.StepCount++
	c.meta.LastUpdated = time.Now().UTC()
}

// checkpointPayload is the wire shape of a context snapshot.
type checkpointPayload struct {
	ChatHistory      []ChatMessage   `json:"chat_history"`
	Metadata         ContextMetadata `json:"metadata"`
	MaxContextTokens int             `json:"max_context_tokens"`
	InputOutputRatio float64         `json:"input_output_ratio"`
}

// Checkpoint serialises the context to an opaque JSON snapshot. The caller
// owns the bytes; the runtime never persists them itself.
func (c *WorkflowContext) Checkpoint() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(checkpointPayload{
		ChatHistory:      c.history,
		Metadata:         c.meta,
		MaxContextTokens: c.maxContextTokens,
		InputOutputRatio: c.inputOutputRatio,
	})
}

// RestoreContext rebuilds a WorkflowContext from a Checkpoint snapshot.
func RestoreContext(data []byte) (*WorkflowContext, error) {
	var p checkpointPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("restore context: %w", err)
	}
	if p.MaxContextTokens < 1 || p.InputOutputRatio <= 0 {
		return nil, &ErrConfig{
			Code:    ConfigInvalidValue,
			Field:   "max_context_tokens",
			Message: "checkpoint carries an invalid token budget",
		}
	}
	return &WorkflowContext{
		history:          p.ChatHistory,
		maxContextTokens: p.MaxContextTokens,
		inputOutputRatio: p.InputOutputRatio,
		meta:             p.Metadata,
	}, nil
}
