// Package provider declares the three external capability interfaces the
// core consumes and nothing else: an LLM chat-with-tools stream, a web
// search provider returning extracted text, and a Python sandbox. Concrete
// adapters live in provider's subpackages.
package provider

import "context"

// Role distinguishes a chat message's author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one piece of a message's content: either text or an
// inline image (a data: URL).
type ContentPart struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"` // data-url
}

// Message is one chat turn.
type Message struct {
	Role    Role
	Parts   []ContentPart
	// ToolCallID links a RoleTool message back to the tool call it answers.
	ToolCallID string
}

// Text returns a single string concatenating every text part, convenient
// for providers/tools that only deal in plain text.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}

// ToolSpec describes one tool available to the model: a name and an input
// JSON schema.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCallRequest is one tool invocation the model asked for.
type ToolCallRequest struct {
	ID    string
	Name  string
	Input map[string]any
}

// ChatRequest is one Chat() call: full system prompt, message history, the
// tool catalog available this turn, and a step-count stop predicate.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Model       string
	Temperature float64
	MaxSteps    int
}

// StreamEventType discriminates StreamEvent.
type StreamEventType int

const (
	StreamTextDelta StreamEventType = iota
	StreamToolInputStart
	StreamToolCall
	StreamDone
	StreamError
)

// StreamEvent is one item yielded by a Chat stream. ToolInputStart fires
// when the model begins emitting a tool call, before its input is fully
// streamed, so callers can surface the call to subscribers immediately.
type StreamEvent struct {
	Type     StreamEventType
	Text     string
	ToolID   string   // set on ToolInputStart and ToolCall
	ToolName string   // set on ToolInputStart and ToolCall
	ToolCall *ToolCallRequest // set on ToolCall
	Err      error
	Usage    Usage
}

// Usage reports token accounting for a completed step, used to feed the
// session budget monitor.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// LLMProvider is a streaming chat-with-tools model backend.
type LLMProvider interface {
	// Chat streams one model turn. The returned channel is closed after a
	// StreamDone or StreamError event. Cancelling ctx aborts the stream.
	Chat(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)
}

// SearchResult is one ranked document with extracted text.
type SearchResult struct {
	Title         string
	URL           string
	Text          string
	Author        string
	PublishedDate string
	Score         float64
}

// SearchOptions controls neural/keyword mode and recency filtering.
type SearchOptions struct {
	NumResults       int
	UseAutoprompt    bool
	Neural           bool
	StartPublishedDate string
}

// SearchResponse is the SearchProvider's return shape.
type SearchResponse struct {
	Results    []SearchResult
	Autoprompt string
}

// SearchProvider performs web search and returns extracted page text.
type SearchProvider interface {
	SearchWithContents(ctx context.Context, query string, opts SearchOptions) (SearchResponse, error)
}

// SandboxOutput is one captured output of a Python execution (an image, or
// text/html).
type SandboxOutput struct {
	PNG  []byte
	JPEG []byte
	Text string
	HTML string
}

// SandboxLogs captures stdout/stderr lines.
type SandboxLogs struct {
	Stdout []string
	Stderr []string
}

// SandboxErr is a structured sandbox-side execution error.
type SandboxErr struct {
	Name  string
	Value string
}

// SandboxResult is the SandboxProvider's return shape.
type SandboxResult struct {
	Outputs []SandboxOutput
	Logs    SandboxLogs
	Error   *SandboxErr
}

// SandboxProvider executes Python source in an isolated environment.
type SandboxProvider interface {
	RunPython(ctx context.Context, code string, timeoutMs int64) (SandboxResult, error)
}
