// Package openai adapts the OpenAI-compatible chat-completions streaming
// API to the provider.LLMProvider contract. The raw net/http JSON request
// idiom mirrors the engine's other provider adapters; unlike them, this
// adapter falls back to an environment variable for its API key.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/deepresearch/engine/internal/provider"
)

// Provider calls the OpenAI chat/completions endpoint with stream:true.
type Provider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// New builds a Provider. apiKey falls back to the OPENAI_API_KEY
// environment variable when empty.
func New(apiKey, baseURL string, timeout time.Duration) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Provider{APIKey: apiKey, BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

type wireMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []wireCall `json:"tool_calls,omitempty"`
}

type wireCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolFunc `json:"function"`
}

type wireToolFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func toWireMessages(req provider.ChatRequest) []wireMessage {
	out := make([]wireMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		if m.Role == provider.RoleTool {
			out = append(out, wireMessage{Role: "tool", Content: m.Text(), ToolCallID: m.ToolCallID})
			continue
		}
		if len(m.Parts) == 1 && m.Parts[0].Image == "" {
			out = append(out, wireMessage{Role: string(m.Role), Content: m.Parts[0].Text})
			continue
		}
		var parts []map[string]any
		for _, p := range m.Parts {
			if p.Image != "" {
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]string{"url": p.Image}})
			} else if p.Text != "" {
				parts = append(parts, map[string]any{"type": "text", "text": p.Text})
			}
		}
		out = append(out, wireMessage{Role: string(m.Role), Content: parts})
	}
	return out
}

func toWireTools(tools []provider.ToolSpec) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

// pendingCall accumulates a streamed tool call's arguments across chunks.
type pendingCall struct {
	id, name string
	args     strings.Builder
	started  bool
}

// Chat streams one model turn over SSE, translating OpenAI's delta chunks
// into provider.StreamEvent values: a ToolInputStart the first time a tool
// call index is seen, text deltas as they arrive, and one ToolCall per
// completed function-call accumulation.
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("openai: API key missing")
	}
	body := wireRequest{
		Model:       req.Model,
		Messages:    toWireMessages(req),
		Tools:       toWireTools(req.Tools),
		Temperature: req.Temperature,
		Stream:      true,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("openai: status %s", resp.Status)
	}

	out := make(chan provider.StreamEvent, 16)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		pending := map[int]*pendingCall{}
		order := []int{}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				for _, idx := range order {
					emitToolCall(out, pending[idx])
				}
				out <- provider.StreamEvent{Type: provider.StreamDone}
				return
			}
			var chunk wireChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					out <- provider.StreamEvent{Type: provider.StreamTextDelta, Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					pc, ok := pending[tc.Index]
					if !ok {
						pc = &pendingCall{}
						pending[tc.Index] = pc
						order = append(order, tc.Index)
					}
					if tc.ID != "" {
						pc.id = tc.ID
					}
					if tc.Function.Name != "" {
						pc.name = tc.Function.Name
					}
					if !pc.started && pc.id != "" && pc.name != "" {
						pc.started = true
						out <- provider.StreamEvent{Type: provider.StreamToolInputStart, ToolID: pc.id, ToolName: pc.name}
					}
					pc.args.WriteString(tc.Function.Arguments)
				}
				if choice.FinishReason != nil {
					for _, idx := range order {
						emitToolCall(out, pending[idx])
					}
					pending = map[int]*pendingCall{}
					order = nil
				}
			}
			if chunk.Usage != nil {
				out <- provider.StreamEvent{Type: provider.StreamDone, Usage: provider.Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				}}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- provider.StreamEvent{Type: provider.StreamError, Err: err}
		}
	}()
	return out, nil
}

func emitToolCall(out chan<- provider.StreamEvent, pc *pendingCall) {
	if pc == nil || pc.id == "" {
		return
	}
	var input map[string]any
	_ = json.Unmarshal([]byte(pc.args.String()), &input)
	out <- provider.StreamEvent{
		Type:     provider.StreamToolCall,
		ToolID:   pc.id,
		ToolName: pc.name,
		ToolCall: &provider.ToolCallRequest{ID: pc.id, Name: pc.name, Input: input},
	}
}
