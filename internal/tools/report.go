package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/toolerr"
	"github.com/deepresearch/engine/internal/workspace"
)

// AgentResultRef names one agent whose results should be folded into the
// final report.
type AgentResultRef struct {
	AgentID string `json:"agent_id"`
	Task    string `json:"task"`
}

const reportWriterSystemPrompt = `You are a research report writer. You are given a chart reference guide, the underlying chart images, and the concatenated findings of every research agent that worked on this query. Write a complete, well-structured markdown report that directly answers the user's question, citing figures precisely as they appear in the source material and referencing charts by their exact path from the reference guide. Do not fabricate data not present in the provided material.`

// WriteReport invokes the report-writer LLM with a multimodal message
// (chart reference guide text, inline chart images, concatenated agent
// results, final instructions), writes the returned markdown verbatim to
// final_report.md, and returns only a terse confirmation — never the
// report body — so the orchestrator cannot rewrite or truncate it.
func WriteReport(ctx context.Context, d *Deps, ws *workspace.Manager, query, clarification string, refs []AgentResultRef) (string, error) {
	if len(refs) == 0 {
		return "", toolerr.New(toolerr.ValidationFailed, "agent_results must name at least one agent", "call get_agent_result for each spawned agent first")
	}
	if d.ReportWriter == nil {
		return "", toolerr.New(toolerr.UnknownError, "no report-writer model configured", "")
	}

	sessionDir := ws.SessionDir(d.SessionID)
	var guide strings.Builder
	var parts []provider.ContentPart
	var body strings.Builder

	fmt.Fprintf(&guide, "Chart reference guide:\n")
	for _, ref := range refs {
		artifactsDir := ws.ArtifactsDir(d.SessionID, ref.AgentID)
		entries, _ := os.ReadDir(artifactsDir)
		for _, e := range entries {
			if e.IsDir() || e.Name() == "results.md" {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
				continue
			}
			relPath := "artifacts/" + ref.AgentID + "/" + e.Name()
			fmt.Fprintf(&guide, "- %s (agent %s)\n", relPath, ref.AgentID)
			if b, rerr := os.ReadFile(filepath.Join(artifactsDir, e.Name())); rerr == nil {
				mimeType := "image/png"
				if ext == ".jpg" || ext == ".jpeg" {
					mimeType = "image/jpeg"
				}
				parts = append(parts, provider.ContentPart{Image: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(b)})
			}
		}
		resultsPath := filepath.Join(artifactsDir, "results.md")
		if b, rerr := os.ReadFile(resultsPath); rerr == nil {
			fmt.Fprintf(&body, "--- Agent %s (%s) ---\n%s\n\n", ref.AgentID, ref.Task, string(b))
		}
	}

	var final strings.Builder
	fmt.Fprintf(&final, "Query: %s\n", query)
	if clarification != "" {
		fmt.Fprintf(&final, "Clarification: %s\n", clarification)
	}
	final.WriteString("\n")
	final.WriteString(guide.String())
	final.WriteString("\nAgent findings:\n")
	final.WriteString(body.String())
	final.WriteString("\nWrite the final report now.")

	msgParts := append([]provider.ContentPart{{Text: final.String()}}, parts...)
	req := provider.ChatRequest{
		System: reportWriterSystemPrompt,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Parts: msgParts},
		},
		Model:       d.Models.ReportWriter,
		Temperature: 0.3,
		MaxSteps:    1,
	}
	stream, err := d.ReportWriter.Chat(ctx, req)
	if err != nil {
		return "", toolerr.New(toolerr.APIError, err.Error(), "retry the report generation")
	}
	var out strings.Builder
	for ev := range stream {
		switch ev.Type {
		case provider.StreamTextDelta:
			out.WriteString(ev.Text)
		case provider.StreamError:
			return "", toolerr.New(toolerr.APIError, ev.Err.Error(), "retry the report generation")
		}
	}
	if out.Len() == 0 {
		return "", toolerr.New(toolerr.APIError, "report writer returned empty output", "retry the report generation")
	}

	reportPath := filepath.Join(sessionDir, "final_report.md")
	if err := os.WriteFile(reportPath, []byte(out.String()), 0o644); err != nil {
		return "", toolerr.New(toolerr.UnknownError, err.Error(), "")
	}
	return fmt.Sprintf("final_report.md written (%d bytes)", out.Len()), nil
}
