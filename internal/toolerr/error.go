// Package toolerr defines the structured, agent-consumable error shape
// every tool implementation returns on failure. Tool failures are never
// Go panics or bare errors surfaced to the calling LLM — they are typed
// results the model is expected to read and react to.
package toolerr

import (
	"encoding/json"
	"fmt"
)

// Code is a machine-readable failure classification.
type Code string

const (
	ImageNotFound       Code = "IMAGE_NOT_FOUND"
	FileNotFound        Code = "FILE_NOT_FOUND"
	FileAccessDenied    Code = "FILE_ACCESS_DENIED"
	SearchFailed        Code = "SEARCH_FAILED"
	SearchRateLimited   Code = "SEARCH_RATE_LIMITED"
	CodeExecutionFailed Code = "CODE_EXECUTION_FAILED"
	CodeExecutionTimeout Code = "CODE_EXECUTION_TIMEOUT"
	CodeSandboxError    Code = "CODE_SANDBOX_ERROR"
	AgentNotFound       Code = "AGENT_NOT_FOUND"
	AgentNotReady       Code = "AGENT_NOT_READY"
	AgentLimitReached   Code = "AGENT_LIMIT_REACHED"
	ToolCallLimitReached Code = "TOOL_CALL_LIMIT_REACHED"
	APIError            Code = "API_ERROR"
	APIKeyMissing       Code = "API_KEY_MISSING"
	ValidationFailed    Code = "VALIDATION_FAILED"
	UnknownError        Code = "UNKNOWN_ERROR"
)

// Error is the wire shape returned to the calling LLM as a tool result.
type Error struct {
	ErrCode         Code   `json:"errorCode"`
	Message         string `json:"message"`
	SuggestedAction string `json:"suggestedAction,omitempty"`
	CanRetry        bool   `json:"canRetry"`
	RetryAfterMs    int64  `json:"retryAfterMs,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

// MarshalJSON is defined explicitly so the wire shape is stable even if the
// struct gains unexported bookkeeping fields later.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal((*alias)(e))
}

// New builds a non-retryable error.
func New(code Code, message, suggestedAction string) *Error {
	return &Error{ErrCode: code, Message: message, SuggestedAction: suggestedAction, CanRetry: false}
}

// Retryable builds an error the caller may retry after the given delay.
func Retryable(code Code, message, suggestedAction string, after int64) *Error {
	return &Error{
		ErrCode:         code,
		Message:         message,
		SuggestedAction: suggestedAction,
		CanRetry:        true,
		RetryAfterMs:    after,
	}
}

// As extracts a *Error from err, if it is one.
func As(err error) (*Error, bool) {
	te, ok := err.(*Error)
	return te, ok
}
