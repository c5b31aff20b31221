package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deepresearch/engine/internal/capability"
	"github.com/deepresearch/engine/internal/config"
	"github.com/deepresearch/engine/internal/engine"
	llmopenai "github.com/deepresearch/engine/internal/provider/llm/openai"
	"github.com/deepresearch/engine/internal/provider/sandbox/httpsandbox"
	"github.com/deepresearch/engine/internal/provider/search/httpsearch"
	"github.com/deepresearch/engine/internal/sidelog"
	"github.com/deepresearch/engine/internal/telemetry"
	transporthttp "github.com/deepresearch/engine/internal/transport/http"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the deep research engine's HTTP/SSE API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Server.Address = addr
			}

			providers, err := buildProviders(cfg)
			if err != nil {
				return fmt.Errorf("build providers: %w", err)
			}

			tel := telemetry.New(cfg.Telemetry)
			defer tel.Shutdown()

			sideLogger, err := sidelog.New(cfg.Sidelog)
			if err != nil {
				return fmt.Errorf("build sidelog: %w", err)
			}
			defer sideLogger.Close()

			eng := engine.New(cfg, tel, providers, sideLogger)

			cleanup := engine.NewCleanupScheduler(eng)
			cleanup.Start()
			defer cleanup.Stop()

			registry, err := capability.BuildRegistry(cfg.Server.ToolCardSigningKey)
			if err != nil {
				return fmt.Errorf("build tool card registry: %w", err)
			}

			srv := transporthttp.New(eng, registry, cfg.Server.AuthToken)
			return srv.Start(cfg.Server.Address)
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path (default searches ./config.yaml)")
	serve.Flags().StringVar(&addr, "addr", "", "listen address, overrides config")

	return serve
}

// buildProviders wires the engine's five LLM roles to a single
// OpenAI-compatible provider (model selection happens per-request via
// ChatRequest.Model) and its search/sandbox backends.
func buildProviders(cfg *config.Config) (engine.Providers, error) {
	openaiCfg, ok := cfg.LLM.Providers["openai"]
	if !ok {
		return engine.Providers{}, fmt.Errorf("llm.providers.openai is not configured")
	}
	llm := llmopenai.New(openaiCfg.APIKey, openaiCfg.BaseURL, openaiCfg.Timeout)

	search := httpsearch.New(getenv("SEARCH_API_KEY", ""), time.Duration(cfg.Engine.MinSearchSpacingMs)*time.Millisecond)
	sandbox := httpsandbox.New(getenv("SANDBOX_BASE_URL", ""), getenv("SANDBOX_API_KEY", ""), time.Duration(cfg.Engine.SandboxTimeoutMs)*time.Millisecond)

	return engine.Providers{
		LLM:          llm,
		Search:       search,
		Sandbox:      sandbox,
		Summarizer:   llm,
		ReportWriter: llm,
	}, nil
}
