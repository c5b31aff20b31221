// Package engine is the front door: it turns a submitted query into a
// running session, and exposes the read surface (status, event stream,
// report, artifact files) that the transport layer serves over HTTP/SSE.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deepresearch/engine/internal/config"
	"github.com/deepresearch/engine/internal/orchestrator"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/session"
	"github.com/deepresearch/engine/internal/telemetry"
	"github.com/deepresearch/engine/internal/toolerr"
	"github.com/deepresearch/engine/internal/workspace"
)

// Providers bundles the external capability backends the engine wires
// into every session's orchestrator.
type Providers struct {
	LLM        provider.LLMProvider // drives both orchestrator and sub-agent loops
	Search     provider.SearchProvider
	Sandbox    provider.SandboxProvider
	Summarizer provider.LLMProvider
	ReportWriter provider.LLMProvider
}

// Engine owns the SessionStore, workspace manager, and telemetry, and
// starts one Orchestrator per submitted query.
type Engine struct {
	cfg       *config.Config
	store     *session.Store
	workspace *workspace.Manager
	telemetry *telemetry.Telemetry
	providers Providers

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an Engine ready to accept sessions. sideLogger mirrors every
// session event to an external system (see internal/sidelog); pass nil to
// skip side-logging entirely.
func New(cfg *config.Config, tel *telemetry.Telemetry, providers Providers, sideLogger session.SideLogger) *Engine {
	store := session.New()
	if sideLogger != nil {
		store.SetSideLogger(sideLogger)
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		workspace: workspace.New(cfg.Workspace.RootDir),
		telemetry: tel,
		providers: providers,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// CreateSession allocates a new session, starts its orchestrator in the
// background, and returns the session immediately in "initializing"
// status; callers observe progress via Subscribe.
func (e *Engine) CreateSession(query, clarification string, models session.ModelSelection, apiKeys map[string]string, budget session.Budget) (*session.Session, error) {
	sessCfg := session.Config{
		MinSearchSpacingMs:      e.cfg.Engine.MinSearchSpacingMs,
		MaxAgents:               e.cfg.Engine.MaxAgents,
		OrchestratorStepCap:     e.cfg.Engine.OrchestratorStepCap,
		SubAgentStepCap:         e.cfg.Engine.SubAgentStepCap,
		SubAgentMaxAttempts:     e.cfg.Engine.SubAgentMaxAttempts,
		WaitForAgentsTimeoutSec: e.cfg.Engine.WaitForAgentsTimeoutSec,
		SandboxTimeoutMs:        e.cfg.Engine.SandboxTimeoutMs,
		AbortGracePeriodMs:      e.cfg.Engine.AbortGracePeriodMs,
		ResultsMinChars:         e.cfg.Agents.ResultsMinChars,
		ToolBudgets: session.ToolBudgets{
			WebSearch:           e.cfg.Agents.WebSearchBudget,
			File:                e.cfg.Agents.FileBudget,
			CodeInterpreter:     e.cfg.Agents.CodeInterpreterBudget,
			ViewImage:           e.cfg.Agents.ViewImageBudget,
			ConsecutiveFailures: e.cfg.Agents.ConsecutiveFailureLimit,
		},
	}

	sess, err := e.store.Create(query, clarification, models, apiKeys, sessCfg, budget)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(sessCfg, models, budget, e.store, e.workspace, e.providers.LLM,
		e.providers.Search, e.providers.Sandbox, e.providers.Summarizer, e.providers.ReportWriter,
		e.telemetry, sess.ID)

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[sess.ID] = cancel
	e.mu.Unlock()

	go func() {
		defer e.scheduleCleanup(sess.ID)
		if _, err := orch.Run(ctx, query, clarification); err != nil && e.telemetry != nil {
			e.telemetry.RecordSessionEvent(sess.ID, "failed")
		}
		orch.Cancel()
	}()

	return sess, nil
}

func (e *Engine) scheduleCleanup(sessionID string) {
	delay := time.Duration(e.cfg.Engine.SessionCleanupDelayMs) * time.Millisecond
	e.workspace.ScheduleCleanup(sessionID, delay)
}

// Status returns a snapshot of the session's current state.
func (e *Engine) Status(sessionID string) (session.Session, error) {
	return e.store.Get(sessionID)
}

// Subscribe returns a channel of events for sessionID: the full backlog
// replayed first, then a live tail. The returned unsubscribe func must be
// called when the caller disconnects.
func (e *Engine) Subscribe(sessionID string) (<-chan session.Event, func(), error) {
	return e.store.Subscribe(sessionID)
}

// Report returns the contents of final_report.md for sessionID, or
// toolerr.FileNotFound if the session has not produced one yet.
func (e *Engine) Report(sessionID string) (string, error) {
	path := filepath.Join(e.workspace.SessionDir(sessionID), "final_report.md")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", toolerr.New(toolerr.FileNotFound, "final_report.md does not exist yet", "wait for the session to reach completed status")
		}
		return "", err
	}
	return string(b), nil
}

// File reads one artifact or workspace file scoped under the session
// directory, enforcing the same containment check every tool uses.
func (e *Engine) File(sessionID, relPath string) ([]byte, error) {
	full, err := workspace.Resolve(e.workspace.SessionDir(sessionID), relPath)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, toolerr.New(toolerr.FileNotFound, fmt.Sprintf("file does not exist: %s", relPath), "")
		}
		return nil, err
	}
	return b, nil
}

// Cancel aborts a running session: its orchestrator's context is
// cancelled, which propagates to every in-flight sub-agent and provider
// call.
func (e *Engine) Cancel(sessionID string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[sessionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: no running session %s", sessionID)
	}
	cancel()
	return nil
}

// FlowData exposes the session's current visualization graph.
func (e *Engine) FlowData(sessionID string) (session.Graph, error) {
	return e.store.FlowData(sessionID)
}

// CleanupOld sweeps terminal sessions older than maxAge out of the store.
func (e *Engine) CleanupOld(maxAge time.Duration) []string {
	return e.store.CleanupOld(maxAge)
}
