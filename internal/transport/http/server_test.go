package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deepresearch/engine/internal/capability"
	"github.com/deepresearch/engine/internal/config"
	"github.com/deepresearch/engine/internal/engine"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/telemetry"
)

// blockingLLM never produces a tool call; its stream only closes when ctx
// is cancelled, which is enough to exercise session creation, status
// polling, and cancellation without a real model behind it.
type blockingLLM struct{}

func (blockingLLM) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	ch := make(chan provider.StreamEvent)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return ch, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Engine.MinSearchSpacingMs = 350
	cfg.Engine.MaxAgents = 10
	cfg.Engine.OrchestratorStepCap = 20
	cfg.Engine.SubAgentStepCap = 20
	cfg.Engine.SubAgentMaxAttempts = 3
	cfg.Engine.WaitForAgentsTimeoutSec = 5
	cfg.Engine.SandboxTimeoutMs = 1000
	cfg.Engine.AbortGracePeriodMs = 100
	cfg.Engine.SessionCleanupDelayMs = 1000
	cfg.Agents.WebSearchBudget = 5
	cfg.Agents.FileBudget = 5
	cfg.Agents.CodeInterpreterBudget = 5
	cfg.Agents.ViewImageBudget = 5
	cfg.Agents.ConsecutiveFailureLimit = 3
	cfg.Agents.ResultsMinChars = 10
	cfg.Workspace.RootDir = dir

	tel := telemetry.New(cfg.Telemetry)
	providers := engine.Providers{
		LLM:          blockingLLM{},
		Summarizer:   blockingLLM{},
		ReportWriter: blockingLLM{},
	}
	eng := engine.New(cfg, tel, providers, nil)

	reg, err := capability.BuildRegistry("test-secret")
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}

	return New(eng, reg, "test-token")
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCreateSessionRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}

func TestCreateSessionAndStatus(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"query": "what happened at the last olympics"})
	req := authedRequest(http.MethodPost, "/api/sessions", body)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created createSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("expected a session id")
	}

	statusReq := authedRequest(http.MethodGet, "/api/sessions/"+created.SessionID, nil)
	statusRec := httptest.NewRecorder()
	s.echo.ServeHTTP(statusRec, statusReq)
	if statusRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on status, got %d", statusRec.Code)
	}

	cancelReq := authedRequest(http.MethodPost, "/api/sessions/"+created.SessionID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	s.echo.ServeHTTP(cancelRec, cancelReq)
	if cancelRec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on cancel, got %d", cancelRec.Code)
	}

	// Give the cancelled orchestrator goroutine a moment to unwind before
	// the test's temp workspace directory is removed.
	time.Sleep(50 * time.Millisecond)
}

func TestStatusUnknownSessionReturns404(t *testing.T) {
	s := newTestServer(t)

	req := authedRequest(http.MethodGet, "/api/sessions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestToolCardsServesSignedCatalog(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/toolcards", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Tools []map[string]interface{} `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode toolcards response: %v", err)
	}
	if len(payload.Tools) == 0 {
		t.Fatalf("expected at least one tool card")
	}
}
