// Package session implements the SessionStore: the authoritative in-memory
// state for every research session plus the typed event bus that fans
// state mutations out to subscribers.
package session

import "time"

// Status is a session's lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusPlanning     Status = "planning"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// IsTerminal reports whether s is a terminal session status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AgentStatus is an agent's (including the orchestrator pseudo-agent's)
// lifecycle state. Transitions respect pending < running < {completed,failed}
// and never reverse; "retrying" is a transient sub-state of running.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentRetrying  AgentStatus = "retrying"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// IsTerminal reports whether s is a terminal agent status.
func (s AgentStatus) IsTerminal() bool {
	return s == AgentCompleted || s == AgentFailed
}

// OrchestratorAgentID is the stable pseudo-agent id under which the
// orchestrator's own tool calls are recorded, so every tool call in a
// session is attributable to some agent uniformly.
const OrchestratorAgentID = "orchestrator"

// ToolCallStatus is a tool call's lifecycle state.
type ToolCallStatus string

const (
	ToolCallExecuting ToolCallStatus = "executing"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// PlanStepStatus is a plan step's lifecycle state.
type PlanStepStatus string

const (
	PlanStepPending    PlanStepStatus = "pending"
	PlanStepInProgress PlanStepStatus = "in_progress"
	PlanStepCompleted  PlanStepStatus = "completed"
)

// ToolCall records one invocation of a named tool by either the
// orchestrator or a sub-agent LLM.
type ToolCall struct {
	ToolCallID  string         `json:"toolCallId"`
	ToolName    string         `json:"toolName"`
	StepNumber  int            `json:"stepNumber"`
	IndexInStep int            `json:"indexInStep"`
	Input       any            `json:"input"`
	Status      ToolCallStatus `json:"status"`
	Result      any            `json:"result,omitempty"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt,omitzero"`
}

// DurationMs returns completedAt-startedAt in milliseconds, or 0 if the
// call has not completed.
func (t ToolCall) DurationMs() int64 {
	if t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt).Milliseconds()
}

// Agent is one running research participant: the orchestrator pseudo-agent
// or a spawned sub-agent.
type Agent struct {
	AgentID     string      `json:"agentId"`
	Task        string      `json:"task"`
	Description string      `json:"description,omitempty"`
	Status      AgentStatus `json:"status"`
	ToolCalls   []ToolCall  `json:"toolCalls"`
	Error       string      `json:"error,omitempty"`
	RetryCount  int         `json:"retryCount"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	LastActivity time.Time  `json:"lastActivity"`
}

// PlanStep is one item of the orchestrator's research plan.
type PlanStep struct {
	StepID      string         `json:"stepId"`
	Description string         `json:"description"`
	Status      PlanStepStatus `json:"status"`
	AgentIDs    []string       `json:"agentIds"`
	Order       int            `json:"order,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// GraphNode/GraphEdge describe the session's current topology for
// visualization: the orchestrator node, one node per agent, and edges for
// spawn and tool-call relationships.
type GraphNode struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // "orchestrator" | "agent"
	Label string `json:"label"`
}

type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"` // "spawn" | "tool_call" | "sequence"
}

// Graph is a snapshot of session topology.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ModelSelection names the model used for each of the engine's five
// distinct LLM roles.
type ModelSelection struct {
	Orchestrator string
	Planner      string
	Summarizer   string
	ReportWriter string
	SubAgent     string
}

// Budget is a soft per-session guardrail the orchestrator checks against
// LLM usage and elapsed time on each step. Exceeding it injects a "wrap up"
// notice rather than hard-failing the run.
type Budget struct {
	MaxCost        *float64
	MaxTokens      *int64
	MaxTimeSeconds *int64
}

// Config is the per-session configuration snapshot, seeded from the
// engine's global config but pinned at session creation time so a config
// reload mid-flight cannot change a running session's behaviour.
type Config struct {
	MinSearchSpacingMs      int64
	MaxAgents               int
	OrchestratorStepCap     int
	SubAgentStepCap         int
	SubAgentMaxAttempts     int
	WaitForAgentsTimeoutSec int
	SandboxTimeoutMs        int64
	AbortGracePeriodMs      int64
	ResultsMinChars         int
	ToolBudgets             ToolBudgets
}

// ToolBudgets are the hard per-sub-agent, per-tool call limits.
type ToolBudgets struct {
	WebSearch            int
	File                 int
	CodeInterpreter      int
	ViewImage            int
	ConsecutiveFailures  int
}

// Session is the root entity: one end-to-end research run.
type Session struct {
	ID            string
	Query         string
	Clarification string
	Models        ModelSelection
	APIKeys       map[string]string
	Status        Status
	Budget        Budget
	Config        Config
	Agents        map[string]*Agent
	AgentOrder    []string // insertion order, orchestrator pseudo-agent first
	PlanSteps     map[string]*PlanStep
	PlanOrder     []string
	StrategicPerspective string
	Events        []Event
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
