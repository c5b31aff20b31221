// Package telemetry is the ambient logging/metrics layer observing the
// orchestrator, sub-agents, and tool dispatch without sitting on the
// correctness boundary: nothing here can fail a session.
package telemetry

import (
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepresearch/engine/internal/config"
)

type toolStat struct {
	calls          int64
	failures       int64
	avgDurationMs  float64
}

type agentStat struct {
	spawned   int64
	completed int64
	failed    int64
}

// Telemetry accumulates call counts and running-average latency and mirrors
// them into Prometheus counters/histograms for scraping.
type Telemetry struct {
	cfg    config.TelemetryConfig
	logger *log.Logger

	mu           sync.RWMutex
	tools        map[string]*toolStat
	agents       map[string]*agentStat
	sessionCount map[string]int64 // status -> count

	registry      *prometheus.Registry
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	sessionsTotal *prometheus.CounterVec
	agentsTotal   *prometheus.CounterVec

	stop chan struct{}
}

// New builds a Telemetry instance and, when cfg.Enabled and
// cfg.PeriodicLogs are both set, starts a background periodic-summary
// goroutine. It opens no HTTP listener.
func New(cfg config.TelemetryConfig) *Telemetry {
	logger := log.New(os.Stdout, "[telemetry] ", log.LstdFlags)

	registry := prometheus.NewRegistry()
	t := &Telemetry{
		cfg:          cfg,
		logger:       logger,
		tools:        make(map[string]*toolStat),
		agents:       make(map[string]*agentStat),
		sessionCount: make(map[string]int64),
		registry:     registry,
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_tool_calls_total",
			Help: "Total tool calls dispatched by name and outcome.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "research_tool_call_duration_seconds",
			Help:    "Tool call latency by tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_sessions_total",
			Help: "Total sessions by terminal status.",
		}, []string{"status"}),
		agentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_agents_total",
			Help: "Total agents by terminal status.",
		}, []string{"status"}),
		stop: make(chan struct{}),
	}
	registry.MustRegister(t.toolCalls, t.toolDuration, t.sessionsTotal, t.agentsTotal)

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startPeriodicReporting()
	}
	return t
}

// Handler returns a Prometheus scrape handler over this instance's own
// registry; mounting it is left to the caller.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RecordToolCall updates running-average latency and success/failure
// counters for one tool dispatch.
func (t *Telemetry) RecordToolCall(toolName string, durationMs int64, success bool) {
	status := "completed"
	if !success {
		status = "failed"
	}
	t.toolCalls.WithLabelValues(toolName, status).Inc()
	t.toolDuration.WithLabelValues(toolName).Observe(float64(durationMs) / 1000.0)

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.tools[toolName]
	if !ok {
		s = &toolStat{}
		t.tools[toolName] = s
	}
	s.calls++
	if !success {
		s.failures++
	}
	total := s.avgDurationMs*float64(s.calls-1) + float64(durationMs)
	s.avgDurationMs = total / float64(s.calls)

	if t.cfg.Enabled && !t.cfg.PeriodicLogs {
		t.logger.Printf("tool=%s status=%s duration_ms=%d", toolName, status, durationMs)
	}
}

// RecordAgentEvent records a terminal agent status transition.
func (t *Telemetry) RecordAgentEvent(agentID, status string) {
	t.agentsTotal.WithLabelValues(status).Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.agents[agentID]
	if !ok {
		s = &agentStat{}
		t.agents[agentID] = s
	}
	switch status {
	case "completed":
		s.completed++
	case "failed":
		s.failed++
	default:
		s.spawned++
	}
}

// RecordSessionEvent records a terminal session status transition.
func (t *Telemetry) RecordSessionEvent(sessionID, status string) {
	t.sessionsTotal.WithLabelValues(status).Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionCount[status]++
	if t.cfg.Enabled {
		t.logger.Printf("session=%s status=%s", sessionID, status)
	}
}

// Summary returns a deep-copied snapshot of current counters, safe to log
// or serve without exposing internal map references.
func (t *Telemetry) Summary() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tools := make(map[string]toolStat, len(t.tools))
	for k, v := range t.tools {
		tools[k] = *v
	}
	sessions := make(map[string]int64, len(t.sessionCount))
	for k, v := range t.sessionCount {
		sessions[k] = v
	}
	return map[string]any{"tools": tools, "sessions": sessions}
}

func (t *Telemetry) startPeriodicReporting() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.RLock()
			for name, s := range t.tools {
				t.logger.Printf("tool=%s calls=%d failures=%d avg_duration_ms=%.1f", name, s.calls, s.failures, s.avgDurationMs)
			}
			t.mu.RUnlock()
		case <-t.stop:
			return
		}
	}
}

// Shutdown stops the periodic reporter and logs a final summary.
func (t *Telemetry) Shutdown() {
	close(t.stop)
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.logger.Printf("shutdown: tools=%d agents=%d sessions=%d", len(t.tools), len(t.agents), len(t.sessionCount))
}
