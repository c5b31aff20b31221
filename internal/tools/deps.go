// Package tools implements the orchestrator and sub-agent tool catalogs:
// validated input, budget enforcement, lifecycle events, and structured
// results or toolerr.Error failures.
package tools

import (
	"context"
	"sync"
	"time"

	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/session"
	"github.com/deepresearch/engine/internal/telemetry"
	"github.com/deepresearch/engine/internal/toolerr"
	"github.com/deepresearch/engine/internal/workspace"
)

// SpawnFunc allocates and starts a new sub-agent; supplied by the
// orchestrator so the tools package never imports the orchestrator or
// subagent packages (avoiding an import cycle).
type SpawnFunc func(ctx context.Context, task, description string, contextFiles []string) (agentID string, err error)

// Deps bundles every external collaborator a tool implementation needs.
type Deps struct {
	Store     *session.Store
	Workspace *workspace.Manager
	Search    provider.SearchProvider
	Sandbox   provider.SandboxProvider
	Summarizer provider.LLMProvider
	ReportWriter provider.LLMProvider
	Telemetry *telemetry.Telemetry
	Spawn     SpawnFunc
	SessionID string
	Models    session.ModelSelection
}

// Budget tracks per-sub-agent tool-call counters: total successful calls
// per tool name (against the hard limit) and consecutive failures (which
// blocks the tool once the configured threshold is reached).
type Budget struct {
	mu                  sync.Mutex
	limits              session.ToolBudgets
	calls               map[string]int
	consecutiveFailures map[string]int
}

// NewBudget returns a Budget enforcing limits.
func NewBudget(limits session.ToolBudgets) *Budget {
	return &Budget{
		limits:              limits,
		calls:               make(map[string]int),
		consecutiveFailures: make(map[string]int),
	}
}

func (b *Budget) limitFor(tool string) int {
	switch tool {
	case "web_search":
		return b.limits.WebSearch
	case "file":
		return b.limits.File
	case "code_interpreter":
		return b.limits.CodeInterpreter
	case "view_image":
		return b.limits.ViewImage
	default:
		return 0
	}
}

// Check returns a TOOL_CALL_LIMIT_REACHED error if tool has exhausted its
// per-call budget or been blocked after consecutive failures; otherwise it
// reserves one call against the budget.
func (b *Budget) Check(tool string) *toolerr.Error {
	b.mu.Lock()
	defer b.mu.Unlock()
	limit := b.limitFor(tool)
	if limit <= 0 {
		return nil
	}
	failLimit := b.limits.ConsecutiveFailures
	if failLimit > 0 && b.consecutiveFailures[tool] >= failLimit {
		return toolerr.New(toolerr.ToolCallLimitReached,
			"tool "+tool+" blocked after repeated consecutive failures",
			"wrap up with the information already gathered")
	}
	if b.calls[tool] >= limit {
		return toolerr.New(toolerr.ToolCallLimitReached,
			"tool "+tool+" call budget exhausted",
			"wrap up with the information already gathered")
	}
	b.calls[tool]++
	return nil
}

// RecordResult updates the consecutive-failure counter for tool.
func (b *Budget) RecordResult(tool string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.consecutiveFailures[tool] = 0
	} else {
		b.consecutiveFailures[tool]++
	}
}

// Dispatch wraps one tool invocation with the session's lifecycle
// bookkeeping: it records an executing ToolCall, invokes fn, then records
// the terminal tool_result, and reports the duration to telemetry. It is
// shared by the orchestrator and sub-agent loops so both carry identical
// event semantics.
func Dispatch(ctx context.Context, d *Deps, agentID, toolCallID, toolName string, stepNumber, indexInStep int, input any, description string, fn func(ctx context.Context) (any, error)) (any, error) {
	now := time.Now()
	if err := d.Store.AddToolCall(d.SessionID, agentID, session.ToolCall{
		ToolCallID: toolCallID, ToolName: toolName, StepNumber: stepNumber, IndexInStep: indexInStep,
		Input: input, Description: description, CreatedAt: now, StartedAt: now,
	}); err != nil {
		return nil, err
	}

	result, err := fn(ctx)
	status := session.ToolCallCompleted
	var resultForLog any = result
	success := err == nil
	if err != nil {
		status = session.ToolCallFailed
		if te, ok := toolerr.As(err); ok {
			resultForLog = te
		} else {
			resultForLog = toolerr.New(toolerr.UnknownError, err.Error(), "")
		}
	}
	if uerr := d.Store.UpdateToolCall(d.SessionID, agentID, toolCallID, status, resultForLog); uerr != nil {
		return nil, uerr
	}
	if d.Telemetry != nil {
		d.Telemetry.RecordToolCall(toolName, time.Since(now).Milliseconds(), success)
	}
	if err != nil {
		return resultForLog, err
	}
	return result, nil
}
