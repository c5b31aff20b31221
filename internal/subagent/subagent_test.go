package subagent

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/session"
	"github.com/deepresearch/engine/internal/tools"
	"github.com/deepresearch/engine/internal/workspace"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want errorClass
	}{
		{errors.New("429 Too Many Requests"), classRateLimit},
		{errors.New("unauthorized: 401"), classAuthError},
		{errors.New("400 bad request"), classBadRequest},
		{errors.New("502 upstream error"), classServerError},
		{errors.New("connection reset"), classUnknown},
	}
	for _, c := range cases {
		if got := classify(c.err); got != c.want {
			t.Errorf("classify(%q) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRetryDelayGrowsExponentiallyAndRateLimitHasHigherBase(t *testing.T) {
	if got := retryDelay(1, classUnknown); got != 2*time.Second {
		t.Fatalf("attempt 1 classUnknown: got %v", got)
	}
	if got := retryDelay(2, classUnknown); got != 4*time.Second {
		t.Fatalf("attempt 2 classUnknown: got %v", got)
	}
	if got := retryDelay(1, classRateLimit); got != 5*time.Second {
		t.Fatalf("attempt 1 classRateLimit: got %v", got)
	}
}

func TestValidateResultsRejectsPlaceholder(t *testing.T) {
	dir := t.TempDir()
	ws := workspace.New(dir)
	if err := ws.CreateAgent("sess1", "agent1"); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	valid, reason := validateResults(ws.AgentDir("sess1", "agent1"))
	if valid {
		t.Fatalf("expected placeholder results.md to be invalid")
	}
	if !strings.Contains(reason, "placeholder") {
		t.Fatalf("expected placeholder reason, got %q", reason)
	}
}

func TestValidateResultsAcceptsSubstantiveContent(t *testing.T) {
	dir := t.TempDir()
	ws := workspace.New(dir)
	if err := ws.CreateAgent("sess1", "agent1"); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	substantive := workspace.PlaceholderResultsHeader + strings.Repeat("well-researched finding. ", 10)
	agentDir := ws.AgentDir("sess1", "agent1")
	if err := os.WriteFile(agentDir+"/results.md", []byte(substantive), 0o644); err != nil {
		t.Fatalf("write results.md: %v", err)
	}
	valid, reason := validateResults(agentDir)
	if !valid {
		t.Fatalf("expected substantive content to validate, got reason: %s", reason)
	}
}

// scriptedLLM replays one scripted stream per Chat call, letting a test
// drive a sub-agent through a fixed sequence of tool calls and a final
// no-tool-call turn without a real model.
type scriptedLLM struct {
	turns [][]provider.StreamEvent
	calls int
}

func (s *scriptedLLM) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	if s.calls >= len(s.turns) {
		return nil, errors.New("scriptedLLM: no more turns scripted")
	}
	turn := s.turns[s.calls]
	s.calls++
	ch := make(chan provider.StreamEvent, len(turn))
	for _, ev := range turn {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func TestRunWritesResultsAndCompletesOnFirstAttempt(t *testing.T) {
	dir := t.TempDir()
	ws := workspace.New(dir)
	store := session.New()
	sess, err := store.Create("q", "", session.ModelSelection{}, nil, session.Config{}, session.Budget{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.AddAgent(sess.ID, "agent_1", "investigate", ""); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	substantive := strings.Repeat("a thoroughly documented finding about the task. ", 5)
	llm := &scriptedLLM{
		turns: [][]provider.StreamEvent{
			{
				{Type: provider.StreamToolCall, ToolCall: &provider.ToolCallRequest{
					ID:   "tc1",
					Name: "file",
					Input: map[string]any{
						"operation":   "write",
						"path":        "results.md",
						"content":     substantive,
						"description": "record findings",
					},
				}},
			},
			{}, // no tool calls: ends the attempt
		},
	}

	deps := &tools.Deps{Store: store, Workspace: ws, SessionID: sess.ID}
	cfg := Config{
		SessionID: sess.ID,
		AgentID:   "agent_1",
		Task:      "investigate",
		Store:     store,
		Workspace: ws,
		LLM:       llm,
		Budget:    tools.NewBudget(session.ToolBudgets{}),
		ToolDeps:  deps,
	}

	if err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Agents["agent_1"].Status != session.AgentCompleted {
		t.Fatalf("expected agent completed, got %s", got.Agents["agent_1"].Status)
	}
}

func TestRunFailsAfterMaxAttemptsWhenResultsNeverValidate(t *testing.T) {
	dir := t.TempDir()
	ws := workspace.New(dir)
	store := session.New()
	sess, err := store.Create("q", "", session.ModelSelection{}, nil, session.Config{}, session.Budget{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.AddAgent(sess.ID, "agent_1", "investigate", ""); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	// Every attempt ends its turn with zero tool calls, so results.md stays
	// the placeholder and validation fails every time.
	llm := &scriptedLLM{
		turns: [][]provider.StreamEvent{{}, {}, {}},
	}

	deps := &tools.Deps{Store: store, Workspace: ws, SessionID: sess.ID}
	cfg := Config{
		SessionID: sess.ID,
		AgentID:   "agent_1",
		Task:      "investigate",
		Store:     store,
		Workspace: ws,
		LLM:       llm,
		Budget:    tools.NewBudget(session.ToolBudgets{}),
		ToolDeps:  deps,
	}

	if err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run should report failure via agent status, not an error: %v", err)
	}

	got, _ := store.Get(sess.ID)
	if got.Agents["agent_1"].Status != session.AgentFailed {
		t.Fatalf("expected agent failed, got %s", got.Agents["agent_1"].Status)
	}
}
