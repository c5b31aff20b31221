package session

import "time"

// EventType discriminates Event.Data's shape.
type EventType string

const (
	EventConnected            EventType = "connected"
	EventSessionStatusChange  EventType = "session_status_change"
	EventAgentSpawned         EventType = "agent_spawned"
	EventAgentStatusChange    EventType = "agent_status_change"
	EventOrchestratorStep     EventType = "orchestrator_step"
	EventToolCall             EventType = "tool_call"
	EventToolResult           EventType = "tool_result"
	EventPlanUpdate           EventType = "plan_update"
	EventError                EventType = "error"
	EventAgentFailed          EventType = "agent_failed"
)

// Event is one append-only record in a session's event log. Event ordering
// per session matches the order of the state mutations that produced it,
// and is identical across all subscribers of a given session.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Payload types — one per EventType, matching the wire table in the
// external-interfaces section of the engine's specification.

type ConnectedPayload struct {
	SessionID string `json:"sessionId"`
}

type SessionStatusChangePayload struct {
	Status Status `json:"status"`
}

type AgentSpawnedPayload struct {
	AgentID     string `json:"agentId"`
	Task        string `json:"task"`
	Description string `json:"description,omitempty"`
}

type AgentStatusChangePayload struct {
	AgentID    string      `json:"agentId"`
	Status     AgentStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	RetryCount int         `json:"retryCount,omitempty"`
}

type OrchestratorStepToolCall struct {
	ToolName string `json:"toolName"`
	Input    any    `json:"input"`
}

type OrchestratorStepPayload struct {
	StepNumber int                        `json:"stepNumber"`
	ToolCalls  []OrchestratorStepToolCall `json:"toolCalls"`
}

type ToolCallPayload struct {
	AgentID     string    `json:"agentId"`
	ToolCallID  string    `json:"toolCallId"`
	ToolName    string    `json:"toolName"`
	Input       any       `json:"input"`
	StepNumber  int       `json:"stepNumber"`
	IndexInStep int       `json:"indexInStep"`
	StartedAt   time.Time `json:"startedAt"`
	Description string    `json:"description,omitempty"`
}

type ToolResultPayload struct {
	AgentID     string         `json:"agentId"`
	ToolCallID  string         `json:"toolCallId"`
	ToolName    string         `json:"toolName"`
	Status      ToolCallStatus `json:"status"`
	Result      any            `json:"result,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	DurationMs  int64          `json:"duration"`
	StepNumber  int            `json:"stepNumber"`
	IndexInStep int            `json:"indexInStep"`
}

type PlanUpdatePayload struct {
	Steps      []PlanStep `json:"steps"`
	TotalSteps int        `json:"totalSteps"`
}

type ErrorPayload struct {
	Source  string `json:"source"` // "orchestrator" | "agent" | "system"
	Error   string `json:"error"`
	Stack   string `json:"stack,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

type AgentFailedPayload struct {
	AgentID   string `json:"agentId"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"` // bad_request | rate_limit | server_error | auth_error | unknown
	Attempts  int    `json:"attempts"`
}
