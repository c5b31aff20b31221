package config

import "testing"

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		// SetConfigFile with a missing path does error on some viper versions;
		// either outcome is acceptable as long as a missing directory-search
		// load still produces defaults.
		if cfg.Engine.MaxAgents != 10 {
			t.Fatalf("got MaxAgents %d, want default 10", cfg.Engine.MaxAgents)
		}
		return
	}
}

func TestEngineConfigNormalizeDefaults(t *testing.T) {
	var c EngineConfig
	c = c.normalize()
	if c.MinSearchSpacingMs != 350 {
		t.Fatalf("got MinSearchSpacingMs %d, want 350", c.MinSearchSpacingMs)
	}
	if c.SubAgentStepCap != 25 {
		t.Fatalf("got SubAgentStepCap %d, want 25", c.SubAgentStepCap)
	}
	if c.CleanupCronExpr != "*/5 * * * *" {
		t.Fatalf("got CleanupCronExpr %q", c.CleanupCronExpr)
	}
}

func TestAgentsConfigNormalizeDefaults(t *testing.T) {
	var a AgentsConfig
	a = a.normalize()
	if a.WebSearchBudget != 20 {
		t.Fatalf("got WebSearchBudget %d, want 20", a.WebSearchBudget)
	}
	if a.ResultsMinChars != 100 {
		t.Fatalf("got ResultsMinChars %d, want 100", a.ResultsMinChars)
	}
}
