// Package httpsandbox implements provider.SandboxProvider against a remote
// HTTP code-execution service, treated like every other external
// capability in this engine: a JSON request/response over net/http with
// bounded retry, grounded on the engine's shared HTTP-client idiom.
package httpsandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deepresearch/engine/internal/provider"
)

// Sandbox calls a remote Python execution service exposing POST /run.
type Sandbox struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Retries int
	Backoff time.Duration
}

// New builds a Sandbox client with sane retry defaults (2 retries, 300ms
// base backoff), mirroring the engine's shared HTTP client conventions.
func New(baseURL, apiKey string, timeout time.Duration) *Sandbox {
	if timeout == 0 {
		timeout = 35 * time.Second
	}
	return &Sandbox{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
		Retries: 2,
		Backoff: 300 * time.Millisecond,
	}
}

type runRequest struct {
	Code      string `json:"code"`
	TimeoutMs int64  `json:"timeout_ms"`
}

type runResponse struct {
	Outputs []struct {
		PNGBase64  string `json:"png_base64,omitempty"`
		JPEGBase64 string `json:"jpeg_base64,omitempty"`
		Text       string `json:"text,omitempty"`
		HTML       string `json:"html,omitempty"`
	} `json:"outputs"`
	Logs struct {
		Stdout []string `json:"stdout"`
		Stderr []string `json:"stderr"`
	} `json:"logs"`
	Error *struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"error"`
}

// RunPython submits code for execution, retrying on network error or a
// 5xx/429 response with the same exponential-backoff formula the engine
// uses for every other external call: backoff * 2^attempt.
func (s *Sandbox) RunPython(ctx context.Context, code string, timeoutMs int64) (provider.SandboxResult, error) {
	reqBody := runRequest{Code: code, TimeoutMs: timeoutMs}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return provider.SandboxResult{}, err
	}

	var lastErr error
	tries := s.Retries + 1
	var raw runResponse
	for attempt := 0; attempt < tries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/run", bytes.NewReader(b))
		if err != nil {
			return provider.SandboxResult{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if s.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+s.APIKey)
		}

		resp, doErr := s.Client.Do(httpReq)
		if doErr != nil {
			lastErr = doErr
		} else {
			func() {
				defer resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					lastErr = json.NewDecoder(resp.Body).Decode(&raw)
				} else {
					body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
					lastErr = fmt.Errorf("sandbox: %s: %s", resp.Status, string(body))
				}
			}()
			if lastErr == nil {
				break
			}
		}
		if attempt < tries-1 {
			select {
			case <-time.After(s.Backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return provider.SandboxResult{}, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return provider.SandboxResult{}, lastErr
	}

	result := provider.SandboxResult{
		Logs: provider.SandboxLogs{Stdout: raw.Logs.Stdout, Stderr: raw.Logs.Stderr},
	}
	for _, o := range raw.Outputs {
		out := provider.SandboxOutput{Text: o.Text, HTML: o.HTML}
		if o.PNGBase64 != "" {
			out.PNG, _ = base64.StdEncoding.DecodeString(o.PNGBase64)
		}
		if o.JPEGBase64 != "" {
			out.JPEG, _ = base64.StdEncoding.DecodeString(o.JPEGBase64)
		}
		result.Outputs = append(result.Outputs, out)
	}
	if raw.Error != nil {
		result.Error = &provider.SandboxErr{Name: raw.Error.Name, Value: raw.Error.Value}
	}
	return result, nil
}
