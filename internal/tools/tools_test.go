package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deepresearch/engine/internal/session"
	"github.com/deepresearch/engine/internal/toolerr"
)

func newTestDeps(t *testing.T) (*Deps, *session.Store, string) {
	t.Helper()
	store := session.New()
	sess, err := store.Create("test query", "", session.ModelSelection{}, nil, session.Config{}, session.Budget{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return &Deps{Store: store, SessionID: sess.ID}, store, sess.ID
}

func TestBudgetEnforcesPerToolLimit(t *testing.T) {
	b := NewBudget(session.ToolBudgets{WebSearch: 2})
	if err := b.Check("web_search"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := b.Check("web_search"); err != nil {
		t.Fatalf("second call: %v", err)
	}
	err := b.Check("web_search")
	if err == nil {
		t.Fatalf("expected budget exhausted error on third call")
	}
	if err.ErrCode != toolerr.ToolCallLimitReached {
		t.Fatalf("expected TOOL_CALL_LIMIT_REACHED, got %s", err.ErrCode)
	}
}

func TestBudgetUnlimitedWhenZero(t *testing.T) {
	b := NewBudget(session.ToolBudgets{})
	for i := 0; i < 50; i++ {
		if err := b.Check("file"); err != nil {
			t.Fatalf("call %d: unexpected limit on zero-configured budget: %v", i, err)
		}
	}
}

func TestBudgetBlocksAfterConsecutiveFailures(t *testing.T) {
	b := NewBudget(session.ToolBudgets{CodeInterpreter: 100, ConsecutiveFailures: 3})
	for i := 0; i < 3; i++ {
		if err := b.Check("code_interpreter"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		b.RecordResult("code_interpreter", false)
	}
	if err := b.Check("code_interpreter"); err == nil {
		t.Fatalf("expected block after 3 consecutive failures")
	}
}

func TestBudgetConsecutiveFailuresResetOnSuccess(t *testing.T) {
	b := NewBudget(session.ToolBudgets{CodeInterpreter: 100, ConsecutiveFailures: 2})
	_ = b.Check("code_interpreter")
	b.RecordResult("code_interpreter", false)
	_ = b.Check("code_interpreter")
	b.RecordResult("code_interpreter", true)
	if err := b.Check("code_interpreter"); err != nil {
		t.Fatalf("expected success to reset the failure streak: %v", err)
	}
}

func TestDispatchRecordsToolCallLifecycle(t *testing.T) {
	d, store, sessionID := newTestDeps(t)
	result, err := Dispatch(context.Background(), d, session.OrchestratorAgentID, "tc1", "file", 0, 0, map[string]any{"path": "x"}, "scratch note", func(ctx context.Context) (any, error) {
		return FileResult{Path: "x", Bytes: 3}, nil
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, ok := result.(FileResult); !ok {
		t.Fatalf("expected FileResult passthrough, got %T", result)
	}

	sess, err := store.Get(sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	calls := sess.Agents[session.OrchestratorAgentID].ToolCalls
	if len(calls) != 1 {
		t.Fatalf("expected exactly one recorded tool call, got %d", len(calls))
	}
	if calls[0].Status != session.ToolCallCompleted {
		t.Fatalf("expected tool call completed, got %s", calls[0].Status)
	}
}

func TestDispatchRecordsToolErrResult(t *testing.T) {
	d, store, sessionID := newTestDeps(t)
	wantErr := toolerr.New(toolerr.ValidationFailed, "bad input", "fix it")
	_, err := Dispatch(context.Background(), d, session.OrchestratorAgentID, "tc2", "file", 0, 0, nil, "", func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	if err == nil {
		t.Fatalf("expected error to propagate")
	}

	sess, _ := store.Get(sessionID)
	calls := sess.Agents[session.OrchestratorAgentID].ToolCalls
	if calls[0].Status != session.ToolCallFailed {
		t.Fatalf("expected tool call failed, got %s", calls[0].Status)
	}
}

func TestGeneratePlanRejectsEmptySteps(t *testing.T) {
	d, _, _ := newTestDeps(t)
	if _, err := GeneratePlan(d, nil); err == nil {
		t.Fatalf("expected validation error for empty plan")
	}
}

func TestGeneratePlanAssignsSequentialStepIDs(t *testing.T) {
	d, store, sessionID := newTestDeps(t)
	result, err := GeneratePlan(d, []PlanStepInput{{Description: "find sources"}, {Description: "synthesize"}})
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if result.Steps[0].StepID != "step-1" || result.Steps[1].StepID != "step-2" {
		t.Fatalf("unexpected step ids: %+v", result.Steps)
	}
	sess, _ := store.Get(sessionID)
	if len(sess.PlanSteps) != 2 {
		t.Fatalf("expected plan persisted to store, got %d steps", len(sess.PlanSteps))
	}
}

func TestUpdatePlanStepRejectsUnknownStatus(t *testing.T) {
	d, _, _ := newTestDeps(t)
	if _, err := GeneratePlan(d, []PlanStepInput{{Description: "step one"}}); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if _, err := UpdatePlanStep(d, "step-1", "step one", "bogus", nil); err == nil {
		t.Fatalf("expected validation error for unknown status")
	}
}

func TestSpawnAgentEnforcesAgentCap(t *testing.T) {
	d, store, sessionID := newTestDeps(t)
	spawned := 0
	d.Spawn = func(ctx context.Context, task, description string, contextFiles []string) (string, error) {
		spawned++
		id := "agent_x"
		if err := store.AddAgent(sessionID, id, task, description); err != nil {
			return "", err
		}
		return id, nil
	}

	if _, err := SpawnAgent(context.Background(), d, 1, "do research", "label", nil); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	_, err := SpawnAgent(context.Background(), d, 1, "do more research", "label2", nil)
	if err == nil {
		t.Fatalf("expected agent cap error on second spawn")
	}
	te, ok := toolerr.As(err)
	if !ok || te.ErrCode != toolerr.AgentLimitReached {
		t.Fatalf("expected AGENT_LIMIT_REACHED, got %v", err)
	}
	if spawned != 1 {
		t.Fatalf("expected exactly one successful spawn, got %d", spawned)
	}
}

func TestSpawnAgentRejectsEmptyTask(t *testing.T) {
	d, _, _ := newTestDeps(t)
	d.Spawn = func(ctx context.Context, task, description string, contextFiles []string) (string, error) {
		t.Fatalf("Spawn should not be called for an empty task")
		return "", nil
	}
	if _, err := SpawnAgent(context.Background(), d, 0, "   ", "label", nil); err == nil {
		t.Fatalf("expected validation error for blank task")
	}
}

func TestOrchestratorFileWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "notes.md")
	if _, err := OrchestratorFile(full, "notes.md", "write", `first line\nsecond line`); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := OrchestratorFile(full, "notes.md", "read", "")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.Content != "first line\nsecond line" {
		t.Fatalf("expected normalized newlines, got %q", result.Content)
	}
}

func TestOrchestratorFileReadMissingReturnsFileNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := OrchestratorFile(filepath.Join(dir, "missing.md"), "missing.md", "read", "")
	te, ok := toolerr.As(err)
	if !ok || te.ErrCode != toolerr.FileNotFound {
		t.Fatalf("expected FILE_NOT_FOUND, got %v", err)
	}
}

func TestSubAgentFileRejectsArbitraryPaths(t *testing.T) {
	dir := t.TempDir()
	fileTool := SubAgentFile(dir)
	_, err := fileTool(context.Background(), "write", "secrets.env", "x")
	te, ok := toolerr.As(err)
	if !ok || te.ErrCode != toolerr.FileAccessDenied {
		t.Fatalf("expected FILE_ACCESS_DENIED, got %v", err)
	}
}

func TestSubAgentFileAppendAccumulates(t *testing.T) {
	dir := t.TempDir()
	fileTool := SubAgentFile(dir)
	if _, err := fileTool(context.Background(), "append", "worklog.md", "step one\n"); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := fileTool(context.Background(), "append", "worklog.md", "step two\n"); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "worklog.md"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "step one\nstep two\n" {
		t.Fatalf("unexpected worklog contents: %q", string(b))
	}
}

func TestOrchestratorCatalogToolsAreWellFormed(t *testing.T) {
	for _, spec := range OrchestratorCatalog() {
		if spec.Name == "" {
			t.Fatalf("catalog entry missing name: %+v", spec)
		}
		if spec.InputSchema == nil {
			t.Fatalf("tool %s missing input schema", spec.Name)
		}
	}
}

func TestWaitForAgentsRejectsUnknownAgent(t *testing.T) {
	d, _, _ := newTestDeps(t)
	_, err := WaitForAgents(context.Background(), d, []string{"ghost"}, 1)
	te, ok := toolerr.As(err)
	if !ok || te.ErrCode != toolerr.AgentNotFound {
		t.Fatalf("expected AGENT_NOT_FOUND, got %v", err)
	}
}

func TestWaitForAgentsReturnsOnceTerminal(t *testing.T) {
	d, store, sessionID := newTestDeps(t)
	if err := store.AddAgent(sessionID, "agent_1", "task", ""); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	if err := store.UpdateAgentStatus(sessionID, "agent_1", session.AgentCompleted, "", 0); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}
	result, err := WaitForAgents(context.Background(), d, []string{"agent_1"}, 5)
	if err != nil {
		t.Fatalf("WaitForAgents: %v", err)
	}
	if !result.Success || result.Agents[0].Status != string(session.AgentCompleted) {
		t.Fatalf("unexpected result: %+v", result)
	}
}
