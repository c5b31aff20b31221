package tools

import (
	"encoding/base64"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/toolerr"
)

// ViewImageResult is the tool's return shape. Message is the multimodal
// user-role message the sub-agent loop should append to its chat history;
// Note is the plain-text acknowledgement recorded as the tool_result.
type ViewImageResult struct {
	Note    string           `json:"note"`
	Message provider.Message `json:"-"`
}

// ViewImage resolves imagePath relative to agentDir, reads the image file,
// and builds a multimodal user message containing the image plus question
// for the sub-agent to append to its own chat history. The base64 payload
// is carried only on the returned Message, never on the serialized
// tool_result, so it does not get logged twice.
func ViewImage(agentDir, imagePath, question, description string) (ViewImageResult, error) {
	if strings.TrimSpace(imagePath) == "" {
		return ViewImageResult{}, toolerr.New(toolerr.ValidationFailed, "imagePath must not be empty", "provide a path to a previously saved image")
	}
	full := filepath.Join(agentDir, imagePath)
	rel, err := filepath.Rel(agentDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ViewImageResult{}, toolerr.New(toolerr.FileAccessDenied, "imagePath escapes the agent directory", "use a path produced by a prior code_interpreter call")
	}

	b, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return ViewImageResult{}, toolerr.New(toolerr.ImageNotFound, "image does not exist: "+imagePath, "check the path returned by a prior code_interpreter call")
		}
		return ViewImageResult{}, toolerr.New(toolerr.UnknownError, err.Error(), "")
	}

	mimeType := mime.TypeByExtension(filepath.Ext(full))
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(b)

	prompt := question
	if prompt == "" {
		prompt = "Describe what this image shows."
	}
	if description != "" {
		prompt = description + "\n\n" + prompt
	}

	return ViewImageResult{
		Note: "image " + imagePath + " (" + humanSize(len(b)) + ") appended to chat history",
		Message: provider.Message{
			Role: provider.RoleUser,
			Parts: []provider.ContentPart{
				{Text: prompt},
				{Image: dataURL},
			},
		},
	}, nil
}

func humanSize(n int) string {
	const kb = 1024
	if n < kb {
		return strconv.Itoa(n) + "B"
	}
	return strconv.Itoa(n/kb) + "KB"
}
