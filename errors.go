package cascade

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error codes follow the event JSON convention: snake_case strings.

type WorkflowErrorCode string

const (
	WorkflowStepFailed        WorkflowErrorCode = "step_execution_failed"
	WorkflowInvalidStepOutput WorkflowErrorCode = "invalid_step_output"
	WorkflowCycleDetected     WorkflowErrorCode = "cycle_detected"
	WorkflowMaxIterations     WorkflowErrorCode = "max_iterations_exceeded"
	WorkflowConditionalFailed WorkflowErrorCode = "conditional_evaluation_failed"
)

// ErrWorkflow is returned when a workflow run cannot proceed.
type ErrWorkflow struct {
	Code    WorkflowErrorCode
	Step    string
	Message string
	Err     error
}

func (e *ErrWorkflow) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step: %s)", e.Code, e.Message, e.Step)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ErrWorkflow) Unwrap() error { return e.Err }

type AgentErrorCode string

const (
	AgentExecutionFailed     AgentErrorCode = "execution_failed"
	AgentInvalidInput        AgentErrorCode = "invalid_input"
	AgentInvalidOutput       AgentErrorCode = "invalid_output"
	AgentToolFailed          AgentErrorCode = "tool_execution_failed"
	AgentMaxToolIterations   AgentErrorCode = "max_tool_iterations_exceeded"
	AgentMissingModelClient  AgentErrorCode = "missing_model_client"
	AgentMissingSystemPrompt AgentErrorCode = "missing_system_prompt"
)

// ErrAgent is returned when an agent run fails.
type ErrAgent struct {
	Code    AgentErrorCode
	Agent   string
	Message string
	Err     error
}

func (e *ErrAgent) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("[%s] %s (agent: %s)", e.Code, e.Message, e.Agent)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ErrAgent) Unwrap() error { return e.Err }

type ModelErrorCode string

const (
	ModelNetworkError    ModelErrorCode = "network_error"
	ModelAuthFailed      ModelErrorCode = "authentication_failed"
	ModelRateLimited     ModelErrorCode = "rate_limit_exceeded"
	ModelInvalidRequest  ModelErrorCode = "invalid_request"
	ModelInvalidResponse ModelErrorCode = "invalid_response"
	ModelNotFound        ModelErrorCode = "model_not_found"
	ModelContextLength   ModelErrorCode = "context_length_exceeded"
	ModelServerError     ModelErrorCode = "server_error"
	ModelParseError      ModelErrorCode = "parse_error"
)

// ErrModel is returned by Provider implementations. Retryable marks kinds
// the retry policy may re-attempt (network, rate-limit, server-error).
type ErrModel struct {
	Code      ModelErrorCode
	Provider  string
	Model     string
	Message   string
	Retryable bool
	Err       error
}

func (e *ErrModel) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Provider != "" {
		s += fmt.Sprintf(" (provider: %s)", e.Provider)
	}
	if e.Model != "" {
		s += fmt.Sprintf(" [model: %s]", e.Model)
	}
	return s
}

func (e *ErrModel) Unwrap() error { return e.Err }

// NetworkError builds a retryable network-level model error.
func NetworkError(provider, message string) *ErrModel {
	return &ErrModel{Code: ModelNetworkError, Provider: provider, Message: message, Retryable: true}
}

// RateLimitError builds a retryable rate-limit model error.
func RateLimitError(provider, message string) *ErrModel {
	return &ErrModel{Code: ModelRateLimited, Provider: provider, Message: message, Retryable: true}
}

// ServerError builds a retryable server-side model error.
func ServerError(provider, message string) *ErrModel {
	return &ErrModel{Code: ModelServerError, Provider: provider, Message: message, Retryable: true}
}

type ToolErrorCode string

const (
	ToolInvalidParameters ToolErrorCode = "invalid_parameters"
	ToolExecutionFailed   ToolErrorCode = "execution_failed"
	ToolTimeout           ToolErrorCode = "timeout"
	ToolNotFound          ToolErrorCode = "not_found"
	ToolServerConnect     ToolErrorCode = "server_connection_failed"
	ToolServerCall        ToolErrorCode = "server_call_failed"
)

// ErrTool is returned by Tool implementations and the ToolRegistry.
type ErrTool struct {
	Code    ToolErrorCode
	Tool    string
	Message string
	Err     error
}

func (e *ErrTool) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("[%s] %s (tool: %s)", e.Code, e.Message, e.Tool)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ErrTool) Unwrap() error { return e.Err }

type ConfigErrorCode string

const (
	ConfigMissingField ConfigErrorCode = "missing_required_field"
	ConfigInvalidValue ConfigErrorCode = "invalid_value"
	ConfigValidation   ConfigErrorCode = "validation_failed"
	ConfigFileNotFound ConfigErrorCode = "file_not_found"
	ConfigParseError   ConfigErrorCode = "parse_error"
)

// ErrConfig reports invalid configuration or malformed component input,
// such as a config file that fails validation or an event carrying a
// bad component id.
type ErrConfig struct {
	Code    ConfigErrorCode
	Field   string
	Message string
}

func (e *ErrConfig) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ErrRetryExhausted reports that a retried operation never succeeded.
type ErrRetryExhausted struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ErrRetryExhausted) Error() string {
	return fmt.Sprintf("retry exhausted for %q after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ErrRetryExhausted) Unwrap() error { return e.Err }

// ErrTimeout reports that an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
	Elapsed   time.Duration
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation %q timed out after %dms", e.Operation, e.Elapsed.Milliseconds())
}

// ErrHTTP is a transport-level failure from a provider endpoint.
// Retry middleware inspects Status and RetryAfter.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value: either delay seconds
// or an HTTP date. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Retryable reports whether err is worth re-attempting: retryable model
// errors, and HTTP 429 or 5xx responses.
func Retryable(err error) bool {
	var me *ErrModel
	if errors.As(err, &me) {
		return me.Retryable
	}
	var he *ErrHTTP
	if errors.As(err, &he) {
		return he.Status == http.StatusTooManyRequests || he.Status >= 500
	}
	return false
}
