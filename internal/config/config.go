// Package config loads the deep research engine's configuration via Viper,
// mirroring the engine this module is adapted from: a mapstructure-tagged
// struct tree whose sections (server, engine, agents, ...) sit at the top
// level of the file, and RESEARCH_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognised option from the engine's configuration
// surface (minSearchSpacingMs, maxAgents, orchestratorStepCap, ...) plus the
// ambient sections (server, telemetry, sidelog, workspace) carried alongside it.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Sidelog    SidelogConfig    `mapstructure:"sidelog"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
}

// ServerConfig controls the thin HTTP/SSE transport shell.
type ServerConfig struct {
	Address            string `mapstructure:"address"`
	AuthToken          string `mapstructure:"auth_token"`           // static bearer token; empty disables auth
	ToolCardSigningKey string `mapstructure:"tool_card_signing_key"` // HMAC secret for the /toolcards registry
}

// EngineConfig carries the session-level tunables from spec §6.
type EngineConfig struct {
	MinSearchSpacingMs     int64 `mapstructure:"min_search_spacing_ms"`
	MaxAgents              int   `mapstructure:"max_agents"`
	OrchestratorStepCap    int   `mapstructure:"orchestrator_step_cap"`
	SubAgentStepCap        int   `mapstructure:"sub_agent_step_cap"`
	SubAgentMaxAttempts    int   `mapstructure:"sub_agent_max_attempts"`
	WaitForAgentsTimeoutSec int  `mapstructure:"wait_for_agents_timeout_sec"`
	SandboxTimeoutMs       int64 `mapstructure:"sandbox_timeout_ms"`
	AbortGracePeriodMs     int64 `mapstructure:"abort_grace_period_ms"`
	SessionCleanupDelayMs  int64 `mapstructure:"session_cleanup_delay_ms"`
	SessionRetentionHours  int64 `mapstructure:"session_retention_hours"`
	CleanupCronExpr        string `mapstructure:"cleanup_cron_expr"`
}

// AgentsConfig controls sub-agent tool budgets and the results-quality gate.
type AgentsConfig struct {
	WebSearchBudget     int `mapstructure:"web_search_budget"`
	FileBudget          int `mapstructure:"file_budget"`
	CodeInterpreterBudget int `mapstructure:"code_interpreter_budget"`
	ViewImageBudget     int `mapstructure:"view_image_budget"`
	ConsecutiveFailureLimit int `mapstructure:"consecutive_failure_limit"`
	ResultsMinChars     int `mapstructure:"results_min_chars"`
}

// LLMConfig mirrors the teacher's provider/model map, extended with the
// five distinct model roles the engine routes between.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, local
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1KInput  float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig names the model used for each of the engine's five roles.
type LLMRoutingConfig struct {
	Orchestrator string `mapstructure:"orchestrator"`
	Planner      string `mapstructure:"planner"`
	Summarizer   string `mapstructure:"summarizer"`
	ReportWriter string `mapstructure:"report_writer"`
	SubAgent     string `mapstructure:"sub_agent"`
}

// TelemetryConfig controls logging and metrics.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	LogFile      string `mapstructure:"log_file"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// SidelogConfig selects the write-only external metadata side channel.
type SidelogConfig struct {
	Driver string       `mapstructure:"driver"` // "none", "redis", "postgres"
	Redis  RedisConfig  `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// WorkspaceConfig controls where session directories are created.
type WorkspaceConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

func (c EngineConfig) normalize() EngineConfig {
	if c.MinSearchSpacingMs <= 0 {
		c.MinSearchSpacingMs = 350
	}
	if c.MaxAgents <= 0 {
		c.MaxAgents = 10
	}
	if c.OrchestratorStepCap <= 0 {
		c.OrchestratorStepCap = 100
	}
	if c.SubAgentStepCap <= 0 {
		c.SubAgentStepCap = 25
	}
	if c.SubAgentMaxAttempts <= 0 {
		c.SubAgentMaxAttempts = 3
	}
	if c.WaitForAgentsTimeoutSec <= 0 {
		c.WaitForAgentsTimeoutSec = 180
	}
	if c.SandboxTimeoutMs <= 0 {
		c.SandboxTimeoutMs = 30_000
	}
	if c.AbortGracePeriodMs <= 0 {
		c.AbortGracePeriodMs = 5_000
	}
	if c.SessionCleanupDelayMs <= 0 {
		c.SessionCleanupDelayMs = 600_000
	}
	if c.SessionRetentionHours <= 0 {
		c.SessionRetentionHours = 24
	}
	if strings.TrimSpace(c.CleanupCronExpr) == "" {
		c.CleanupCronExpr = "*/5 * * * *"
	}
	return c
}

func (c AgentsConfig) normalize() AgentsConfig {
	if c.WebSearchBudget <= 0 {
		c.WebSearchBudget = 20
	}
	if c.FileBudget <= 0 {
		c.FileBudget = 15
	}
	if c.CodeInterpreterBudget <= 0 {
		c.CodeInterpreterBudget = 5
	}
	if c.ViewImageBudget <= 0 {
		c.ViewImageBudget = 5
	}
	if c.ConsecutiveFailureLimit <= 0 {
		c.ConsecutiveFailureLimit = 3
	}
	if c.ResultsMinChars <= 0 {
		c.ResultsMinChars = 100
	}
	return c
}

// Load reads configuration from the given path (or the usual search path
// when empty) and returns a normalized Config. Unlike a CLI entry point,
// Load never panics — the caller (cmd/researchd) decides how to present a
// configuration error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("engine.min_search_spacing_ms", 350)
	v.SetDefault("engine.max_agents", 10)
	v.SetDefault("engine.orchestrator_step_cap", 100)
	v.SetDefault("engine.sub_agent_step_cap", 25)
	v.SetDefault("engine.sub_agent_max_attempts", 3)
	v.SetDefault("engine.wait_for_agents_timeout_sec", 180)
	v.SetDefault("engine.sandbox_timeout_ms", 30_000)
	v.SetDefault("engine.abort_grace_period_ms", 5_000)
	v.SetDefault("engine.session_cleanup_delay_ms", 600_000)
	v.SetDefault("engine.session_retention_hours", 24)
	v.SetDefault("engine.cleanup_cron_expr", "*/5 * * * *")
	v.SetDefault("agents.web_search_budget", 20)
	v.SetDefault("agents.file_budget", 15)
	v.SetDefault("agents.code_interpreter_budget", 5)
	v.SetDefault("agents.view_image_budget", 5)
	v.SetDefault("agents.consecutive_failure_limit", 3)
	v.SetDefault("agents.results_min_chars", 100)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("sidelog.driver", "none")
	v.SetDefault("workspace.root_dir", "reports")

	if path == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		exe, err := os.Executable()
		if err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, ".."))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Absence of a config file is fine; defaults + env vars still apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Engine = cfg.Engine.normalize()
	cfg.Agents = cfg.Agents.normalize()

	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
