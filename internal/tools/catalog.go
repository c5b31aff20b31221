package tools

import "github.com/deepresearch/engine/internal/provider"

// OrchestratorCatalog returns the tool specs exposed to the orchestrator
// LLM: generate_plan, spawn_agent, wait_for_agents, get_agent_result,
// update_plan, write_report, file.
func OrchestratorCatalog() []provider.ToolSpec {
	return []provider.ToolSpec{
		{
			Name:        "generate_plan",
			Description: "Produce a strategic research plan: a set of concrete steps describing how the query will be investigated.",
			InputSchema: schema(props{
				"steps": arrayOf(object(props{
					"description": str("what this step accomplishes"),
				}, "description")),
			}, "steps"),
		},
		{
			Name:        "spawn_agent",
			Description: "Spawn a sub-agent to research one task independently.",
			InputSchema: schema(props{
				"task":          str("the research task for the agent to complete"),
				"description":   str("short human-readable label for this agent"),
				"context_files": arrayOf(str("a path under the session directory to prepend to the agent's context")),
			}, "task", "description"),
		},
		{
			Name:        "wait_for_agents",
			Description: "Block until the named agents reach a terminal status, or a timeout elapses.",
			InputSchema: schema(props{
				"agent_ids":       arrayOf(str("an agentId returned by spawn_agent")),
				"timeout_seconds": number("seconds to wait before giving up, default 180"),
			}, "agent_ids"),
		},
		{
			Name:        "get_agent_result",
			Description: "Collect a terminal agent's results.md and chart artifacts into the shared artifacts directory.",
			InputSchema: schema(props{
				"agent_id": str("the agentId to collect results for"),
			}, "agent_id"),
		},
		{
			Name:        "update_plan",
			Description: "Rewrite or append to the research plan.",
			InputSchema: schema(props{
				"steps": arrayOf(object(props{
					"stepId":      str("the step's identifier, or omit to create a new step"),
					"description": str("what this step accomplishes"),
					"status":      str("pending | in_progress | completed"),
					"agentIds":    arrayOf(str("agentId working this step")),
				})),
				"mode": str("replace | append"),
			}, "steps"),
		},
		{
			Name:        "write_report",
			Description: "Compose and persist the final markdown report from every collected agent result.",
			InputSchema: schema(props{
				"query":         str("the original research query"),
				"clarification": str("any clarifying detail supplied for the query"),
				"agent_results": arrayOf(object(props{
					"agent_id": str("the agentId whose results to include"),
					"task":     str("that agent's original task"),
				}, "agent_id", "task")),
			}, "query", "agent_results"),
		},
		{
			Name:        "file",
			Description: "Read, write, or append a file scoped under the session directory.",
			InputSchema: schema(props{
				"operation": str("read | write | append"),
				"path":      str("path relative to the session directory"),
				"content":   str("content to write or append"),
			}, "operation", "path"),
		},
	}
}

// SubAgentCatalog returns the tool specs exposed to every sub-agent LLM:
// web_search, file, code_interpreter, view_image.
func SubAgentCatalog() []provider.ToolSpec {
	return []provider.ToolSpec{
		{
			Name:        "web_search",
			Description: "Search the web and receive a summarised digest of the results plus their metadata.",
			InputSchema: schema(props{
				"query":                str("the search query"),
				"num_results":          number("how many results to request, default 10"),
				"search_type":          str("neural | keyword"),
				"use_autoprompt":       boolean("let the provider rewrite the query for better recall"),
				"start_published_date": str("ISO-8601 lower bound on publish date"),
				"description":          str("why this search is being run"),
			}, "query", "description"),
		},
		{
			Name:        "file",
			Description: "Read, write, or append to this agent's worklog.md or results.md.",
			InputSchema: schema(props{
				"operation":   str("read | write | append"),
				"path":        str(`must be exactly "worklog.md" or "results.md"`),
				"content":     str("content to write or append"),
				"description": str("why this file operation is being performed"),
			}, "operation", "path", "description"),
		},
		{
			Name:        "code_interpreter",
			Description: "Run Python source in a sandbox and capture its stdout, stderr, and any chart images.",
			InputSchema: schema(props{
				"code":        str("Python source to execute"),
				"purpose":     str("what this code is meant to produce"),
				"outputFile":  str("filename to use for a captured chart, e.g. revenue.png"),
				"description": str("why this code is being run"),
			}, "code", "description"),
		},
		{
			Name:        "view_image",
			Description: "Load a previously saved image into the conversation so it can be visually inspected.",
			InputSchema: schema(props{
				"imagePath":   str("path to the image, relative to this agent's directory"),
				"question":    str("what to look for in the image"),
				"description": str("why this image is being inspected"),
			}, "imagePath", "description"),
		},
	}
}

// The helpers below build JSON-schema fragments tersely; they exist only
// to keep the catalog definitions above readable.

type props map[string]any

func schema(properties props, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func object(properties props, required ...string) map[string]any {
	return schema(properties, required...)
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func number(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func boolean(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}
