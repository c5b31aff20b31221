// Package orchestrator implements the top-level research loop: it drives
// the orchestrator LLM through plan, delegate, wait, collect, and report,
// coordinating a dynamic pool of sub-agents spawned along the way.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/deepresearch/engine/internal/budget"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/session"
	"github.com/deepresearch/engine/internal/subagent"
	"github.com/deepresearch/engine/internal/telemetry"
	"github.com/deepresearch/engine/internal/toolerr"
	"github.com/deepresearch/engine/internal/tools"
	"github.com/deepresearch/engine/internal/workspace"
)

var orchestratorTracer trace.Tracer = otel.Tracer("deepresearch/internal/orchestrator")

const systemPromptTemplate = `You are the orchestrator for a deep research run. Your job is to fully answer the user's query by following this workflow exactly: call generate_plan, then spawn_agent for each piece of work, then wait_for_agents, then get_agent_result for each spawned agent, then write_report. Use the file tool only for scratch notes under the session directory. Do not write the final report yourself — write_report does that. Query: %s`

// Orchestrator drives one session's research run end-to-end.
type Orchestrator struct {
	cfg       session.Config
	models    session.ModelSelection
	budget    session.Budget
	store     *session.Store
	workspace *workspace.Manager
	llm       provider.LLMProvider
	telemetry *telemetry.Telemetry
	toolDeps  *tools.Deps
	logger    *log.Logger

	mu          sync.Mutex
	agentCancel map[string]context.CancelFunc
	nextAgentN  int64
}

// New builds an Orchestrator for one session, wiring a shared Deps that
// sub-agents spawned during the run will also use.
func New(cfg session.Config, models session.ModelSelection, sessBudget session.Budget, store *session.Store, ws *workspace.Manager, llm provider.LLMProvider, search provider.SearchProvider, sandbox provider.SandboxProvider, summarizer, reportWriter provider.LLMProvider, tel *telemetry.Telemetry, sessionID string) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		models:      models,
		budget:      sessBudget,
		store:       store,
		workspace:   ws,
		llm:         llm,
		telemetry:   tel,
		logger:      log.New(os.Stdout, "[orchestrator] ", log.LstdFlags),
		agentCancel: make(map[string]context.CancelFunc),
	}
	o.toolDeps = &tools.Deps{
		Store:        store,
		Workspace:    ws,
		Search:       search,
		Sandbox:      sandbox,
		Summarizer:   summarizer,
		ReportWriter: reportWriter,
		Telemetry:    tel,
		SessionID:    sessionID,
		Models:       models,
		Spawn:        o.spawnAgent,
	}
	return o
}

// Run drives the orchestrator LLM end-to-end: plan, delegate, wait,
// collect, report. It returns the final report text, also persisted to
// final_report.md. A run with zero tool calls and zero steps is treated
// as a provider-side failure, never as success.
func (o *Orchestrator) Run(ctx context.Context, query, clarification string) (string, error) {
	sessionID := o.toolDeps.SessionID
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.run", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if err := o.workspace.CreateSession(sessionID); err != nil {
		return "", err
	}
	if err := o.store.UpdateSessionStatus(sessionID, session.StatusPlanning); err != nil {
		return "", err
	}

	history := []provider.Message{
		{Role: provider.RoleUser, Parts: []provider.ContentPart{{Text: query}}},
	}
	if clarification != "" {
		history = append(history, provider.Message{Role: provider.RoleUser, Parts: []provider.ContentPart{{Text: "Clarification: " + clarification}}})
	}
	systemPrompt := fmt.Sprintf(systemPromptTemplate, query)
	catalog := tools.OrchestratorCatalog()

	stepCap := o.cfg.OrchestratorStepCap
	if stepCap <= 0 {
		stepCap = 100
	}

	var totalToolCalls int
	var stepsExecuted int
	var reportWritten bool
	var budgetBreached bool

	budgetMonitor := budget.NewMonitor(budget.Config{
		MaxCost:        o.budget.MaxCost,
		MaxTokens:      o.budget.MaxTokens,
		MaxTimeSeconds: o.budget.MaxTimeSeconds,
	})

	if err := o.store.UpdateSessionStatus(sessionID, session.StatusExecuting); err != nil {
		return "", err
	}

	for step := 0; step < stepCap; step++ {
		if ctx.Err() != nil {
			o.fail(sessionID, "cancelled")
			return "", ctx.Err()
		}

		if !budgetBreached {
			if breachErr := budgetMonitor.CheckTime(); breachErr != nil {
				budgetBreached = true
				history = append(history, provider.Message{Role: provider.RoleUser, Parts: []provider.ContentPart{
					{Text: fmt.Sprintf("Budget notice: %s. Wrap up now: stop spawning new agents and call write_report with whatever results are available.", breachErr.Error())},
				}})
			}
		}

		stream, err := o.llm.Chat(ctx, provider.ChatRequest{
			System:   systemPrompt,
			Messages: history,
			Tools:    catalog,
			Model:    o.models.Orchestrator,
			MaxSteps: 1,
		})
		if err != nil {
			o.fail(sessionID, err.Error())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}

		var assistantText string
		var calls []provider.ToolCallRequest
		for ev := range stream {
			switch ev.Type {
			case provider.StreamTextDelta:
				assistantText += ev.Text
			case provider.StreamToolCall:
				calls = append(calls, *ev.ToolCall)
			case provider.StreamError:
				o.fail(sessionID, ev.Err.Error())
				return "", ev.Err
			}
			if ev.Usage.InputTokens != 0 || ev.Usage.OutputTokens != 0 || ev.Usage.CostUSD != 0 {
				if breachErr := budgetMonitor.Add(ev.Usage.CostUSD, ev.Usage.InputTokens+ev.Usage.OutputTokens); breachErr != nil && !budgetBreached {
					budgetBreached = true
					history = append(history, provider.Message{Role: provider.RoleUser, Parts: []provider.ContentPart{
						{Text: fmt.Sprintf("Budget notice: %s. Wrap up now: stop spawning new agents and call write_report with whatever results are available.", breachErr.Error())},
					}})
				}
			}
		}
		if assistantText != "" {
			history = append(history, provider.Message{Role: provider.RoleAssistant, Parts: []provider.ContentPart{{Text: assistantText}}})
		}
		if len(calls) == 0 {
			break
		}
		stepsExecuted++

		stepToolCalls := make([]session.OrchestratorStepToolCall, 0, len(calls))
		for _, c := range calls {
			stepToolCalls = append(stepToolCalls, session.OrchestratorStepToolCall{ToolName: c.Name, Input: c.Input})
		}
		if err := o.store.AddOrchestratorStep(sessionID, step, stepToolCalls); err != nil {
			return "", err
		}

		for i, call := range calls {
			totalToolCalls++
			result, callErr := o.dispatch(ctx, sessionID, query, clarification, step, i, call)
			toolMsg := provider.Message{Role: provider.RoleTool, ToolCallID: call.ID}
			if callErr != nil {
				if te, ok := toolerr.As(callErr); ok {
					toolMsg.Parts = []provider.ContentPart{{Text: te.Error()}}
				} else {
					toolMsg.Parts = []provider.ContentPart{{Text: callErr.Error()}}
				}
			} else if b, merr := json.Marshal(result); merr == nil {
				toolMsg.Parts = []provider.ContentPart{{Text: string(b)}}
			}
			history = append(history, toolMsg)
			if call.Name == "write_report" && callErr == nil {
				reportWritten = true
			}
		}
	}

	if stepsExecuted == 0 && totalToolCalls == 0 {
		err := fmt.Errorf("orchestrator produced zero tool calls: provider-side failure")
		o.fail(sessionID, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	reportPath := o.workspace.SessionDir(sessionID) + "/final_report.md"
	reportBytes, err := os.ReadFile(reportPath)
	if err != nil || !reportWritten {
		o.fail(sessionID, "run completed without a final report")
		return "", fmt.Errorf("orchestrator finished without calling write_report successfully")
	}

	if err := o.store.UpdateSessionStatus(sessionID, session.StatusCompleted); err != nil {
		return "", err
	}
	if o.telemetry != nil {
		o.telemetry.RecordSessionEvent(sessionID, "completed")
	}
	span.SetStatus(codes.Ok, "completed")
	return string(reportBytes), nil
}

func (o *Orchestrator) fail(sessionID, reason string) {
	_ = o.store.EmitEvent(sessionID, session.Event{
		Type:      session.EventError,
		Data:      session.ErrorPayload{Source: "orchestrator", Error: reason},
		Timestamp: time.Now(),
	})
	_ = o.store.UpdateSessionStatus(sessionID, session.StatusFailed)
	if o.telemetry != nil {
		o.telemetry.RecordSessionEvent(sessionID, "failed")
	}
	o.logger.Printf("session=%s failed: %s", sessionID, reason)
}

// dispatch routes one orchestrator tool call to its implementation,
// recording it against the orchestrator pseudo-agent.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID, query, clarification string, step, index int, call provider.ToolCallRequest) (any, error) {
	description, _ := call.Input["description"].(string)
	return tools.Dispatch(ctx, o.toolDeps, session.OrchestratorAgentID, call.ID, call.Name, step, index, call.Input, description, func(ctx context.Context) (any, error) {
		switch call.Name {
		case "generate_plan":
			steps := decodeSteps(call.Input["steps"])
			return tools.GeneratePlan(o.toolDeps, steps)
		case "spawn_agent":
			task, _ := call.Input["task"].(string)
			contextFiles := decodeStrings(call.Input["context_files"])
			return tools.SpawnAgent(ctx, o.toolDeps, o.cfg.MaxAgents, task, description, contextFiles)
		case "wait_for_agents":
			agentIDs := decodeStrings(call.Input["agent_ids"])
			timeout := asInt(call.Input["timeout_seconds"])
			if timeout == 0 {
				timeout = o.cfg.WaitForAgentsTimeoutSec
			}
			return tools.WaitForAgents(ctx, o.toolDeps, agentIDs, timeout)
		case "get_agent_result":
			agentID, _ := call.Input["agent_id"].(string)
			return tools.GetAgentResult(o.toolDeps, o.workspace, agentID)
		case "update_plan":
			steps := decodeSteps(call.Input["steps"])
			mode, _ := call.Input["mode"].(string)
			if len(steps) != 1 {
				return tools.GeneratePlan(o.toolDeps, steps)
			}
			stepID, _ := call.Input["stepId"].(string)
			status, _ := call.Input["status"].(string)
			agentIDs := decodeStrings(call.Input["agentIds"])
			_ = mode
			return tools.UpdatePlanStep(o.toolDeps, stepID, steps[0].Description, status, agentIDs)
		case "write_report":
			refs := decodeAgentResultRefs(call.Input["agent_results"])
			msg, err := tools.WriteReport(ctx, o.toolDeps, o.workspace, query, clarification, refs)
			return msg, err
		case "file":
			operation, _ := call.Input["operation"].(string)
			path, _ := call.Input["path"].(string)
			content, _ := call.Input["content"].(string)
			full, rerr := workspace.Resolve(o.workspace.SessionDir(sessionID), path)
			if rerr != nil {
				return nil, rerr
			}
			return tools.OrchestratorFile(full, path, operation, content)
		default:
			return nil, toolerr.New(toolerr.ValidationFailed, "unknown tool: "+call.Name, "use one of the tools in the catalog")
		}
	})
}

// spawnAgent implements tools.SpawnFunc: it allocates the next monotonic
// agentId, registers it with the session, and starts the sub-agent as a
// background goroutine tied to a cancellation scope this orchestrator can
// later abort via Cancel.
func (o *Orchestrator) spawnAgent(ctx context.Context, task, description string, contextFiles []string) (string, error) {
	n := atomic.AddInt64(&o.nextAgentN, 1)
	agentID := fmt.Sprintf("agent_%d", n)

	if err := o.store.AddAgent(o.toolDeps.SessionID, agentID, task, description); err != nil {
		return "", err
	}

	agentCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.agentCancel[agentID] = cancel
	o.mu.Unlock()

	go func() {
		defer cancel()
		err := subagent.Run(agentCtx, subagent.Config{
			SessionID:    o.toolDeps.SessionID,
			AgentID:      agentID,
			Task:         task,
			Description:  description,
			ContextFiles: contextFiles,
			Model:        o.models.SubAgent,
			StepCap:      o.cfg.SubAgentStepCap,
			Store:        o.store,
			Workspace:    o.workspace,
			LLM:          o.llm,
			Budget:       tools.NewBudget(o.cfg.ToolBudgets),
			ToolDeps:     o.toolDeps,
		})
		if err != nil && o.telemetry != nil {
			o.telemetry.RecordAgentEvent(agentID, "failed")
		} else if o.telemetry != nil {
			o.telemetry.RecordAgentEvent(agentID, "completed")
		}
	}()

	return agentID, nil
}

// Cancel propagates a cancellation signal to every running sub-agent
// spawned by this orchestrator. Sub-agent contexts derive from the ctx
// passed to Run, so cancelling that ctx reaches them too; Cancel stops
// the sub-agents alone, without cancelling the orchestrator's own ctx.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.agentCancel {
		cancel()
	}
}

func decodeSteps(v any) []tools.PlanStepInput {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]tools.PlanStepInput, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		desc, _ := m["description"].(string)
		out = append(out, tools.PlanStepInput{Description: desc})
	}
	return out
}

func decodeStrings(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeAgentResultRefs(v any) []tools.AgentResultRef {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]tools.AgentResultRef, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		agentID, _ := m["agent_id"].(string)
		task, _ := m["task"].(string)
		out = append(out, tools.AgentResultRef{AgentID: agentID, Task: task})
	}
	return out
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
