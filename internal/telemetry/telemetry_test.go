package telemetry

import (
	"testing"

	"github.com/deepresearch/engine/internal/config"
)

func TestRecordToolCallUpdatesRunningAverage(t *testing.T) {
	tel := New(config.TelemetryConfig{})
	tel.RecordToolCall("web_search", 100, true)
	tel.RecordToolCall("web_search", 300, true)

	summary := tel.Summary()
	tools := summary["tools"].(map[string]toolStat)
	stat, ok := tools["web_search"]
	if !ok {
		t.Fatalf("expected web_search stat to be present")
	}
	if stat.calls != 2 {
		t.Fatalf("got %d calls, want 2", stat.calls)
	}
	if stat.avgDurationMs != 200 {
		t.Fatalf("got avg %v, want 200", stat.avgDurationMs)
	}
}

func TestRecordToolCallTracksFailures(t *testing.T) {
	tel := New(config.TelemetryConfig{})
	tel.RecordToolCall("code_interpreter", 50, false)
	summary := tel.Summary()
	tools := summary["tools"].(map[string]toolStat)
	if tools["code_interpreter"].failures != 1 {
		t.Fatalf("expected one recorded failure")
	}
}

func TestRecordSessionEventCounts(t *testing.T) {
	tel := New(config.TelemetryConfig{})
	tel.RecordSessionEvent("s1", "completed")
	tel.RecordSessionEvent("s2", "failed")
	summary := tel.Summary()
	sessions := summary["sessions"].(map[string]int64)
	if sessions["completed"] != 1 || sessions["failed"] != 1 {
		t.Fatalf("got %v, want one completed and one failed", sessions)
	}
}
