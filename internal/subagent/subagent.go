// Package subagent implements SubAgent: a single research task driven to
// completion by its own LLM loop, tool catalog, and validation gate.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/session"
	"github.com/deepresearch/engine/internal/toolerr"
	"github.com/deepresearch/engine/internal/tools"
	"github.com/deepresearch/engine/internal/workspace"
)

// errorClass is the sub-agent LLM call's error taxonomy, distinct from
// toolerr.Code: it classifies the provider call itself, not a tool result.
type errorClass int

const (
	classUnknown errorClass = iota
	classBadRequest
	classRateLimit
	classServerError
	classAuthError
)

func classify(err error) errorClass {
	if err == nil {
		return classUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return classRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized"):
		return classAuthError
	case strings.Contains(msg, "400") || strings.Contains(msg, "bad request"):
		return classBadRequest
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return classServerError
	default:
		return classUnknown
	}
}

// retryDelay returns the backoff before the given attempt (1-based):
// 5s base for rate-limits, 2s otherwise, delay = base * 2^(attempt-1).
func retryDelay(attempt int, class errorClass) time.Duration {
	base := 2 * time.Second
	if class == classRateLimit {
		base = 5 * time.Second
	}
	return base << (attempt - 1)
}

const subAgentSystemPrompt = `You are a research sub-agent. You have been assigned one task. Use the tools available to you to investigate it thoroughly, then write your findings to results.md in clear markdown. Keep a brief worklog of what you tried in worklog.md. Do not stop until results.md contains your complete findings.`

const maxAttempts = 3

// Config carries everything one sub-agent run needs.
type Config struct {
	SessionID    string
	AgentID      string
	Task         string
	Description  string
	ContextFiles []string
	Model        string
	StepCap      int
	Store        *session.Store
	Workspace    *workspace.Manager
	LLM          provider.LLMProvider
	Budget       *tools.Budget
	ToolDeps     *tools.Deps
}

// Run drives the sub-agent's LLM loop to completion: seeds the workspace
// and chat history, repeatedly invokes the LLM with the sub-agent tool
// catalog, validates results.md after each attempt, and retries invalid
// output up to maxAttempts before transitioning to failed.
func Run(ctx context.Context, cfg Config) error {
	agentDir := cfg.Workspace.AgentDir(cfg.SessionID, cfg.AgentID)
	if err := cfg.Workspace.CreateAgent(cfg.SessionID, cfg.AgentID); err != nil {
		return markFailed(cfg, fmt.Sprintf("workspace setup failed: %v", err))
	}
	if err := cfg.Store.UpdateAgentStatus(cfg.SessionID, cfg.AgentID, session.AgentRunning, "", 0); err != nil {
		return err
	}

	history := []provider.Message{}
	for _, cf := range cfg.ContextFiles {
		if b, err := os.ReadFile(filepath.Join(cfg.Workspace.SessionDir(cfg.SessionID), cf)); err == nil {
			history = append(history, provider.Message{Role: provider.RoleSystem, Parts: []provider.ContentPart{{Text: "Context from " + cf + ":\n" + string(b)}}})
		}
	}
	history = append(history, provider.Message{Role: provider.RoleUser, Parts: []provider.ContentPart{{Text: cfg.Task}}})

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := cfg.Store.UpdateAgentStatus(cfg.SessionID, cfg.AgentID, session.AgentRetrying, "", attempt-1); err != nil {
				return err
			}
		}
		if err := runOneAttempt(ctx, cfg, &history); err != nil {
			if ctx.Err() != nil {
				return cfg.Store.AgentFailed(cfg.SessionID, cfg.AgentID, "cancelled", "cancelled", attempt)
			}
			if attempt == maxAttempts {
				return cfg.Store.AgentFailed(cfg.SessionID, cfg.AgentID, err.Error(), "llm_error", attempt)
			}
			continue
		}

		valid, reason := validateResults(agentDir)
		if valid {
			return cfg.Store.UpdateAgentStatus(cfg.SessionID, cfg.AgentID, session.AgentCompleted, "", attempt-1)
		}
		if attempt == maxAttempts {
			return cfg.Store.AgentFailed(cfg.SessionID, cfg.AgentID, "results.md failed validation after "+fmt.Sprint(maxAttempts)+" attempts: "+reason, "validation_failed", attempt)
		}
		history = append(history, provider.Message{Role: provider.RoleSystem, Parts: []provider.ContentPart{{Text: "VALIDATION FAILED: " + reason}}})
	}
	return nil
}

// runOneAttempt drives the LLM for up to cfg.StepCap steps, dispatching
// every requested tool call, with its own 3-attempt retry/backoff for
// transient provider errors.
func runOneAttempt(ctx context.Context, cfg Config, history *[]provider.Message) error {
	stepCap := cfg.StepCap
	if stepCap <= 0 {
		stepCap = 25
	}
	toolCatalog := tools.SubAgentCatalog()

	for step := 0; step < stepCap; step++ {
		resp, err := chatWithRetry(ctx, cfg.LLM, provider.ChatRequest{
			System:   subAgentSystemPrompt,
			Messages: *history,
			Tools:    toolCatalog,
			Model:    cfg.Model,
			MaxSteps: 1,
		})
		if err != nil {
			return err
		}

		assistantText := strings.Builder{}
		var calls []provider.ToolCallRequest
		for ev := range resp {
			switch ev.Type {
			case provider.StreamTextDelta:
				assistantText.WriteString(ev.Text)
			case provider.StreamToolCall:
				calls = append(calls, *ev.ToolCall)
			case provider.StreamError:
				return ev.Err
			}
		}
		if assistantText.Len() > 0 {
			*history = append(*history, provider.Message{Role: provider.RoleAssistant, Parts: []provider.ContentPart{{Text: assistantText.String()}}})
		}
		if len(calls) == 0 {
			return nil
		}

		for i, call := range calls {
			result, callErr := dispatchToolCall(ctx, cfg, step, i, call)
			toolMsg := provider.Message{Role: provider.RoleTool, ToolCallID: call.ID}
			if callErr != nil {
				if te, ok := toolerr.As(callErr); ok {
					toolMsg.Parts = []provider.ContentPart{{Text: te.Error()}}
				} else {
					toolMsg.Parts = []provider.ContentPart{{Text: callErr.Error()}}
				}
			} else if b, merr := json.Marshal(result); merr == nil {
				toolMsg.Parts = []provider.ContentPart{{Text: string(b)}}
			} else {
				toolMsg.Parts = []provider.ContentPart{{Text: fmt.Sprintf("%v", result)}}
			}
			*history = append(*history, toolMsg)

			if call.Name == "view_image" {
				if vr, ok := result.(tools.ViewImageResult); ok {
					*history = append(*history, vr.Message)
				}
			}
		}
	}
	return nil
}

func dispatchToolCall(ctx context.Context, cfg Config, step, index int, call provider.ToolCallRequest) (any, error) {
	agentDir := cfg.Workspace.AgentDir(cfg.SessionID, cfg.AgentID)
	description, _ := call.Input["description"].(string)

	if berr := cfg.Budget.Check(call.Name); berr != nil {
		_ = recordBudgetRejection(cfg, step, index, call, berr)
		return nil, berr
	}

	result, err := tools.Dispatch(ctx, cfg.ToolDeps, cfg.AgentID, call.ID, call.Name, step, index, call.Input, description, func(ctx context.Context) (any, error) {
		switch call.Name {
		case "web_search":
			query, _ := call.Input["query"].(string)
			numResults := asInt(call.Input["num_results"])
			searchType, _ := call.Input["search_type"].(string)
			useAutoprompt, _ := call.Input["use_autoprompt"].(bool)
			startDate, _ := call.Input["start_published_date"].(string)
			return tools.WebSearch(ctx, cfg.ToolDeps, query, numResults, searchType == "neural", useAutoprompt, startDate)
		case "file":
			operation, _ := call.Input["operation"].(string)
			path, _ := call.Input["path"].(string)
			content, _ := call.Input["content"].(string)
			return tools.SubAgentFile(agentDir)(ctx, operation, path, content)
		case "code_interpreter":
			code, _ := call.Input["code"].(string)
			outputFile, _ := call.Input["outputFile"].(string)
			return tools.CodeInterpreter(ctx, cfg.ToolDeps, agentDir, code, outputFile, 30000)
		case "view_image":
			imagePath, _ := call.Input["imagePath"].(string)
			question, _ := call.Input["question"].(string)
			return tools.ViewImage(agentDir, imagePath, question, description)
		default:
			return nil, toolerr.New(toolerr.ValidationFailed, "unknown tool: "+call.Name, "use one of the tools in the catalog")
		}
	})
	cfg.Budget.RecordResult(call.Name, err == nil)
	return result, err
}

func recordBudgetRejection(cfg Config, step, index int, call provider.ToolCallRequest, berr *toolerr.Error) error {
	_, err := tools.Dispatch(context.Background(), cfg.ToolDeps, cfg.AgentID, call.ID, call.Name, step, index, call.Input, "", func(context.Context) (any, error) {
		return nil, berr
	})
	return err
}

// chatWithRetry drives one LLM turn with the sub-agent's own retry policy:
// up to 3 attempts, classified errors, backoff = base * 2^(attempt-1).
func chatWithRetry(ctx context.Context, llm provider.LLMProvider, req provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		stream, err := llm.Chat(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		class := classify(err)
		if class == classBadRequest || class == classAuthError || attempt == 3 {
			return nil, err
		}
		delay := retryDelay(attempt, class)
		jitter := time.Duration(rand.Int63n(int64(delay) / 5))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// validateResults reports whether agentDir/results.md has moved beyond the
// placeholder header by at least 100 characters.
func validateResults(agentDir string) (bool, string) {
	b, err := os.ReadFile(filepath.Join(agentDir, "results.md"))
	if err != nil {
		return false, "results.md could not be read: " + err.Error()
	}
	content := string(b)
	if content == workspace.PlaceholderResultsHeader {
		return false, "results.md still contains only the placeholder header"
	}
	beyond := strings.TrimPrefix(content, workspace.PlaceholderResultsHeader)
	if len(strings.TrimSpace(beyond)) < 100 {
		return false, "results.md has fewer than 100 characters of substantive content"
	}
	return true, ""
}

func markFailed(cfg Config, reason string) error {
	return cfg.Store.AgentFailed(cfg.SessionID, cfg.AgentID, reason, "setup_error", 0)
}

// asInt coerces a tool-call input value into an int, tolerating the
// float64 shape the JSON decoder produces for numeric fields.
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
