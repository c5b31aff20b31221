package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepresearch/engine/internal/toolerr"
)

// FileResult is the result shape for the file tool.
type FileResult struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Bytes   int    `json:"bytes"`
}

// normalizeContent converts literal "\n"/"\t" escape sequences (as they
// arrive from an LLM that emits them inside a JSON string field without a
// real newline) into actual newline/tab characters before writing.
func normalizeContent(content string) string {
	content = strings.ReplaceAll(content, `\n`, "\n")
	content = strings.ReplaceAll(content, `\t`, "\t")
	return content
}

// SubAgentFile implements the sub-agent's file tool: operation is one of
// read/write/append, and path must be exactly "worklog.md" or
// "results.md" — any other path is FILE_ACCESS_DENIED.
func SubAgentFile(agentDir string) func(ctx context.Context, operation, path, content string) (FileResult, error) {
	return func(ctx context.Context, operation, path, content string) (FileResult, error) {
		if path != "worklog.md" && path != "results.md" {
			return FileResult{}, toolerr.New(toolerr.FileAccessDenied,
				"sub-agent file tool only permits worklog.md and results.md",
				"use path=\"worklog.md\" or path=\"results.md\"")
		}
		full := filepath.Join(agentDir, path)
		return doFileOp(full, path, operation, content)
	}
}

// OrchestratorFile implements the orchestrator's scoped read/write/append
// tool under the session directory, after a containment check performed
// by the caller via workspace.Resolve.
func OrchestratorFile(full, relPath, operation, content string) (FileResult, error) {
	return doFileOp(full, relPath, operation, content)
}

func doFileOp(full, relPath, operation, content string) (FileResult, error) {
	switch operation {
	case "read":
		b, err := os.ReadFile(full)
		if err != nil {
			if os.IsNotExist(err) {
				return FileResult{}, toolerr.New(toolerr.FileNotFound, "file does not exist: "+relPath, "write the file first")
			}
			return FileResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
		}
		return FileResult{Path: relPath, Content: string(b), Bytes: len(b)}, nil
	case "write":
		normalized := normalizeContent(content)
		if err := os.WriteFile(full, []byte(normalized), 0o644); err != nil {
			return FileResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
		}
		return FileResult{Path: relPath, Bytes: len(normalized)}, nil
	case "append":
		normalized := normalizeContent(content)
		f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return FileResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
		}
		defer f.Close()
		n, err := f.WriteString(normalized)
		if err != nil {
			return FileResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
		}
		return FileResult{Path: relPath, Bytes: n}, nil
	default:
		return FileResult{}, toolerr.New(toolerr.ValidationFailed, "unknown file operation: "+operation, "use read, write, or append")
	}
}
