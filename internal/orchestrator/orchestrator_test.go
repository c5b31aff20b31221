package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/session"
	"github.com/deepresearch/engine/internal/workspace"
)

// scriptedLLM replays one scripted stream per Chat call and records every
// request it received, so a test can both drive the orchestrator loop
// through a fixed sequence of turns and inspect what it was asked next.
type scriptedLLM struct {
	turns    [][]provider.StreamEvent
	calls    int
	requests []provider.ChatRequest
}

func (s *scriptedLLM) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	s.requests = append(s.requests, req)
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

func newTestOrchestrator(t *testing.T, llm, reportWriter provider.LLMProvider, budget session.Budget) (*Orchestrator, *session.Store, string, *workspace.Manager) {
	t.Helper()
	dir := t.TempDir()
	store := session.New()
	sess, err := store.Create("what happened at the last olympics", "", session.ModelSelection{}, nil, session.Config{}, budget)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ws := workspace.New(dir)
	cfg := session.Config{OrchestratorStepCap: 5}
	o := New(cfg, session.ModelSelection{}, budget, store, ws, llm, nil, nil, nil, reportWriter, nil, sess.ID)
	return o, store, sess.ID, ws
}

func TestRunFailsWhenOrchestratorProducesZeroToolCalls(t *testing.T) {
	llm := &scriptedLLM{turns: [][]provider.StreamEvent{{}}}
	o, store, sessionID, _ := newTestOrchestrator(t, llm, nil, session.Budget{})

	_, err := o.Run(context.Background(), "what happened at the last olympics", "")
	if err == nil {
		t.Fatalf("expected an error when the orchestrator issues zero tool calls")
	}
	if !strings.Contains(err.Error(), "zero tool calls") {
		t.Fatalf("unexpected error: %v", err)
	}

	got, getErr := store.Get(sessionID)
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if got.Status != session.StatusFailed {
		t.Fatalf("expected session failed, got %s", got.Status)
	}
}

func TestRunWritesReportAndCompletes(t *testing.T) {
	llm := &scriptedLLM{
		turns: [][]provider.StreamEvent{
			{
				{Type: provider.StreamToolCall, ToolCall: &provider.ToolCallRequest{
					ID:   "tc1",
					Name: "write_report",
					Input: map[string]any{
						"query": "what happened at the last olympics",
						"agent_results": []any{
							map[string]any{"agent_id": "agent_1", "task": "summarize the games"},
						},
					},
				}},
			},
			{}, // no further tool calls: ends the run
		},
	}
	reportWriter := &scriptedLLM{
		turns: [][]provider.StreamEvent{
			{{Type: provider.StreamTextDelta, Text: "# Report\n\nThe games concluded successfully."}},
		},
	}

	o, _, sessionID, ws := newTestOrchestrator(t, llm, reportWriter, session.Budget{})

	// write_report reads each referenced agent's artifacts/<agentId>/results.md,
	// normally populated by a prior get_agent_result call.
	artifactsDir := ws.ArtifactsDir(sessionID, "agent_1")
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		t.Fatalf("MkdirAll artifacts: %v", err)
	}
	if err := os.WriteFile(filepath.Join(artifactsDir, "results.md"), []byte("the games were held without incident"), 0o644); err != nil {
		t.Fatalf("seed results.md: %v", err)
	}

	report, err := o.Run(context.Background(), "what happened at the last olympics", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(report, "Report") {
		t.Fatalf("unexpected report contents: %q", report)
	}
}

func TestRunInjectsBudgetWrapUpNudgeOnBreach(t *testing.T) {
	maxTokens := int64(10)
	budget := session.Budget{MaxTokens: &maxTokens}

	llm := &scriptedLLM{
		turns: [][]provider.StreamEvent{
			{
				{
					Type: provider.StreamToolCall,
					ToolCall: &provider.ToolCallRequest{
						ID:   "tc1",
						Name: "file",
						Input: map[string]any{
							"operation": "write",
							"path":      "notes.md",
							"content":   "scratch note",
						},
					},
					Usage: provider.Usage{OutputTokens: 100},
				},
			},
			{}, // the nudged turn: no tool calls, ends the run
		},
	}

	o, _, _, _ := newTestOrchestrator(t, llm, nil, budget)
	_, _ = o.Run(context.Background(), "what happened at the last olympics", "")

	if len(llm.requests) < 2 {
		t.Fatalf("expected at least two LLM turns, got %d", len(llm.requests))
	}
	second := llm.requests[1]
	found := false
	for _, msg := range second.Messages {
		if strings.Contains(msg.Text(), "Budget notice") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a budget wrap-up nudge in the second turn's history, got %+v", second.Messages)
	}
}
