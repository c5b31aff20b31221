package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepresearch/engine/internal/toolerr"
)

// CodeFileRecord is one saved artifact file from a code_interpreter run.
// The base64 payload is deliberately never included — the file is
// referenced only by its relative path.
type CodeFileRecord struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Size    int    `json:"size"`
}

// CodeInterpreterResult is the tool's return shape.
type CodeInterpreterResult struct {
	Stdout []string         `json:"stdout"`
	Stderr []string         `json:"stderr"`
	Files  []CodeFileRecord `json:"files,omitempty"`
	Text   []string         `json:"text,omitempty"`
}

const codePrologue = "import matplotlib\nmatplotlib.rcParams['figure.dpi'] = 150\n"
const codeEpilogue = "\nimport matplotlib.pyplot as plt\nif plt.get_fignums():\n    plt.show()\nplt.close('all')\n"

var errJavaScriptRejected = toolerr.New(toolerr.ValidationFailed, "JavaScript is not supported by code_interpreter; submit Python source only", "rewrite the snippet in Python")

// looksLikeJavaScript is a conservative heuristic: explicit JS-only syntax
// that is never valid Python.
func looksLikeJavaScript(code string) bool {
	markers := []string{"function(", "=>", "const ", "let ", "console.log", "require("}
	for _, m := range markers {
		if strings.Contains(code, m) {
			return true
		}
	}
	return false
}

// CodeInterpreter wraps code with the matplotlib prologue/epilogue, runs
// it via SandboxProvider with the caller's sandboxTimeoutMs, and persists any
// captured image output to agentDir/charts.
func CodeInterpreter(ctx context.Context, d *Deps, agentDir string, code, outputFile string, sandboxTimeoutMs int64) (CodeInterpreterResult, error) {
	if looksLikeJavaScript(code) {
		return CodeInterpreterResult{}, errJavaScriptRejected
	}
	wrapped := codePrologue + code + codeEpilogue

	result, err := d.Sandbox.RunPython(ctx, wrapped, sandboxTimeoutMs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return CodeInterpreterResult{}, toolerr.New(toolerr.CodeExecutionTimeout, "sandbox execution exceeded its timeout", "simplify the computation or reduce iteration count")
		}
		return CodeInterpreterResult{}, toolerr.New(toolerr.CodeSandboxError, err.Error(), "retry, or check that the sandbox service is reachable")
	}
	if result.Error != nil {
		return CodeInterpreterResult{}, toolerr.New(toolerr.CodeExecutionFailed, result.Error.Name+": "+result.Error.Value, "fix the reported exception and retry")
	}

	chartsDir := filepath.Join(agentDir, "charts")
	if err := os.MkdirAll(chartsDir, 0o755); err != nil {
		return CodeInterpreterResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
	}

	out := CodeInterpreterResult{Stdout: result.Logs.Stdout, Stderr: result.Logs.Stderr}
	imageIndex := 0
	for _, o := range result.Outputs {
		switch {
		case len(o.PNG) > 0:
			name := chartName(outputFile, imageIndex, "png")
			imageIndex++
			if werr := os.WriteFile(filepath.Join(chartsDir, name), o.PNG, 0o644); werr != nil {
				return CodeInterpreterResult{}, toolerr.New(toolerr.UnknownError, werr.Error(), "")
			}
			out.Files = append(out.Files, CodeFileRecord{Path: "charts/" + name, Type: "image", Content: "[image saved to disk]", Size: len(o.PNG)})
		case len(o.JPEG) > 0:
			name := chartName(outputFile, imageIndex, "jpg")
			imageIndex++
			if werr := os.WriteFile(filepath.Join(chartsDir, name), o.JPEG, 0o644); werr != nil {
				return CodeInterpreterResult{}, toolerr.New(toolerr.UnknownError, werr.Error(), "")
			}
			out.Files = append(out.Files, CodeFileRecord{Path: "charts/" + name, Type: "image", Content: "[image saved to disk]", Size: len(o.JPEG)})
		case o.Text != "":
			out.Text = append(out.Text, o.Text)
		case o.HTML != "":
			out.Text = append(out.Text, o.HTML)
		}
	}
	return out, nil
}

func chartName(outputFile string, index int, ext string) string {
	if outputFile != "" {
		return outputFile
	}
	return fmt.Sprintf("chart_%d.%s", index, ext)
}
