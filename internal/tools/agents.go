package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/deepresearch/engine/internal/session"
	"github.com/deepresearch/engine/internal/toolerr"
	"github.com/deepresearch/engine/internal/workspace"
)

const waitPollInterval = 2 * time.Second

// SpawnAgentResult is the tool's return shape for spawn_agent.
type SpawnAgentResult struct {
	AgentID string `json:"agentId"`
}

// SpawnAgent allocates the next agentId, lays out its workspace, and
// starts it via d.Spawn. maxAgents is the per-session cap.
func SpawnAgent(ctx context.Context, d *Deps, maxAgents int, task, description string, contextFiles []string) (SpawnAgentResult, error) {
	if strings.TrimSpace(task) == "" {
		return SpawnAgentResult{}, toolerr.New(toolerr.ValidationFailed, "task must not be empty", "describe the research task for this agent")
	}
	sess, err := d.Store.Get(d.SessionID)
	if err != nil {
		return SpawnAgentResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
	}
	spawned := 0
	for _, id := range sess.AgentOrder {
		if id != session.OrchestratorAgentID {
			spawned++
		}
	}
	if maxAgents > 0 && spawned >= maxAgents {
		return SpawnAgentResult{}, toolerr.New(toolerr.AgentLimitReached,
			fmt.Sprintf("session has reached its agent cap of %d", maxAgents),
			"wait for existing agents to finish or narrow the research plan")
	}

	agentID, err := d.Spawn(ctx, task, description, contextFiles)
	if err != nil {
		if te, ok := toolerr.As(err); ok {
			return SpawnAgentResult{}, te
		}
		return SpawnAgentResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
	}
	return SpawnAgentResult{AgentID: agentID}, nil
}

// AgentStatusSummary is one agent's last-known status for wait_for_agents.
type AgentStatusSummary struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// WaitForAgentsResult is the tool's return shape for wait_for_agents.
type WaitForAgentsResult struct {
	Success bool                  `json:"success"`
	Agents  []AgentStatusSummary  `json:"agents"`
}

// WaitForAgents polls until every named agent is terminal or timeout
// elapses, reporting agents in the order requested (the tie-break policy
// for same-tick completions).
func WaitForAgents(ctx context.Context, d *Deps, agentIDs []string, timeoutSeconds int) (WaitForAgentsResult, error) {
	if len(agentIDs) == 0 {
		return WaitForAgentsResult{}, toolerr.New(toolerr.ValidationFailed, "agent_ids must not be empty", "pass the agentIds returned by spawn_agent")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 180
	}
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		sess, err := d.Store.Get(d.SessionID)
		if err != nil {
			return WaitForAgentsResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
		}
		allTerminal := true
		summaries := make([]AgentStatusSummary, 0, len(agentIDs))
		for _, id := range agentIDs {
			a, ok := sess.Agents[id]
			if !ok {
				return WaitForAgentsResult{}, toolerr.New(toolerr.AgentNotFound, "unknown agent id: "+id, "pass an agentId returned by spawn_agent")
			}
			summaries = append(summaries, AgentStatusSummary{AgentID: id, Status: string(a.Status), Error: a.Error})
			if !a.Status.IsTerminal() {
				allTerminal = false
			}
		}
		if allTerminal {
			return WaitForAgentsResult{Success: true, Agents: summaries}, nil
		}
		if time.Now().After(deadline) {
			return WaitForAgentsResult{Success: false, Agents: summaries}, nil
		}
		select {
		case <-ctx.Done():
			return WaitForAgentsResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AgentResultArtifact is one artifact copied into the shared artifacts
// directory alongside get_agent_result's text.
type AgentResultArtifact struct {
	Path string `json:"path"`
}

// GetAgentResultResult is the tool's return shape.
type GetAgentResultResult struct {
	AgentID   string                 `json:"agentId"`
	Text      string                 `json:"text"`
	Artifacts []AgentResultArtifact  `json:"artifacts"`
}

// GetAgentResult reads agentId's results.md and charts/, copies both into
// the session's shared artifacts/<agentId>/ directory, and returns the
// text plus relative artifact paths. Fails with AGENT_NOT_READY if the
// agent has not reached a terminal status.
func GetAgentResult(d *Deps, ws *workspace.Manager, agentID string) (GetAgentResultResult, error) {
	sess, err := d.Store.Get(d.SessionID)
	if err != nil {
		return GetAgentResultResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
	}
	a, ok := sess.Agents[agentID]
	if !ok {
		return GetAgentResultResult{}, toolerr.New(toolerr.AgentNotFound, "unknown agent id: "+agentID, "pass an agentId returned by spawn_agent")
	}
	if !a.Status.IsTerminal() {
		return GetAgentResultResult{}, toolerr.New(toolerr.AgentNotReady,
			"agent "+agentID+" has not finished yet (status="+string(a.Status)+")",
			"call wait_for_agents first")
	}

	agentDir := ws.AgentDir(d.SessionID, agentID)
	resultsPath := filepath.Join(agentDir, "results.md")
	b, err := os.ReadFile(resultsPath)
	if err != nil {
		return GetAgentResultResult{}, toolerr.New(toolerr.FileNotFound, "agent results.md missing: "+err.Error(), "")
	}

	artifactsDir := ws.ArtifactsDir(d.SessionID, agentID)
	if err := workspace.CopyArtifact(resultsPath, artifactsDir, "results.md"); err != nil {
		return GetAgentResultResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
	}
	artifacts := []AgentResultArtifact{{Path: "artifacts/" + agentID + "/results.md"}}

	chartsDir := filepath.Join(agentDir, "charts")
	entries, _ := os.ReadDir(chartsDir)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := workspace.CopyArtifact(filepath.Join(chartsDir, e.Name()), artifactsDir, e.Name()); err != nil {
			continue
		}
		artifacts = append(artifacts, AgentResultArtifact{Path: "artifacts/" + agentID + "/" + e.Name()})
	}

	return GetAgentResultResult{AgentID: agentID, Text: string(b), Artifacts: artifacts}, nil
}
