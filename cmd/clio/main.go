// Command clio runs the CLIO agent as an ACP server on stdio: an IDE
// client speaks newline-framed JSON-RPC on stdin/stdout while logs go to
// stderr. Argument parsing is deliberately minimal; configuration lives
// in .clio/config.json.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clio-agent/clio/internal/acp"
	"github.com/clio-agent/clio/internal/budget"
	"github.com/clio-agent/clio/internal/clioconfig"
	"github.com/clio-agent/clio/internal/mcp"
	"github.com/clio-agent/clio/internal/observability"
	"github.com/clio-agent/clio/internal/orchestrator"
	"github.com/clio-agent/clio/internal/providers"
	"github.com/clio-agent/clio/internal/resultstore"
	"github.com/clio-agent/clio/internal/session"
	"github.com/clio-agent/clio/internal/tokens"
	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/internal/tools"
	"github.com/clio-agent/clio/internal/vault"
)

const (
	exitOK    = 0
	exitSetup = 1
	exitFatal = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	workingDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot determine working directory:", err)
		return exitSetup
	}

	projectDir := clioconfig.ProjectDir(workingDir)
	cfg, err := clioconfig.Load(projectDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitSetup
	}
	if err := clioconfig.EnsureGitignore(workingDir); err != nil {
		fmt.Fprintln(os.Stderr, "gitignore:", err)
	}

	logCfg := observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		RedactionLevel: cfg.Redaction.Level,
	}
	slogger := observability.NewSlogLogger(logCfg)
	appLogger := observability.NewLogger(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, traceShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "clio",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.TraceSamplingRate,
		EnableInsecure: cfg.Observability.OTLPInsecure,
	})
	defer traceShutdown(context.Background())

	eventStore := observability.NewMemoryEventStore(cfg.Observability.EventBufferSize)
	recorder := observability.NewEventRecorder(eventStore, appLogger)

	promReg := prometheus.NewRegistry()
	metrics := budget.NewMetrics(promReg)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				slogger.Warn("metrics listener stopped", "addr", addr, "error", err)
			}
		}()
	}

	provider, err := providers.New(cfg.LLM.Provider, providers.FactoryConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "provider:", err)
		return exitSetup
	}

	store, err := session.NewStore(filepath.Join(projectDir, "sessions"), cfg.Session.STMMaxSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sessions:", err)
		return exitSetup
	}
	ltm, err := session.OpenLTM(filepath.Join(projectDir, "ltm.json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ltm:", err)
		return exitSetup
	}
	ltm.Prune(session.PruneConfig{
		MaxAgeDays:     cfg.Session.LTMMaxAgeDays,
		MinConfidence:  cfg.Session.LTMMinConfidence,
		PerCategoryCap: cfg.Session.LTMPerCategoryCap,
	})
	results, err := resultstore.NewStore(filepath.Join(projectDir, "tool_results"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "tool results:", err)
		return exitSetup
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}

	mcpManager := mcp.NewManager(cfg.MCP.ManagerConfig(), slogger)
	mcpManager.SetTracer(tracer)
	if err := mcpManager.Start(ctx); err != nil {
		slogger.Warn("mcp startup incomplete", "error", err)
	}
	defer mcpManager.Stop()

	registry := tools.NewRegistry(tools.Deps{
		LTM:                ltm,
		Results:            results,
		HTTPClient:         httpClient,
		ExecTimeout:        cfg.Tools.ExecTimeout,
		ExecMaxOutputBytes: cfg.Tools.ExecMaxOutputBytes,
	})
	registry.AddSource(mcpManager)

	perTool := map[string]time.Duration{}
	for name, override := range cfg.Tools.PerTool {
		perTool[name] = override.Timeout
	}
	executor := toolexec.NewExecutor(registry, toolexec.Config{
		PerToolTimeout:      cfg.Tools.ExecTimeout,
		PerTool:             perTool,
		SpillThresholdBytes: cfg.Tools.SpillThresholdBytes,
		RedactionLevel:      cfg.Redaction.Level,
	}, results, slogger)
	executor.SetTracer(tracer)

	est := budget.NewManager(tokens.NewEstimator(), budget.Config{
		MaxContextTokens: cfg.LLM.MaxContextTokens,
		BudgetRatio:      cfg.Context.BudgetRatio,
		ResponseReserve:  cfg.Context.ResponseReserve,
	})

	fileVault := vault.NewFileVault(filepath.Join(projectDir, "vault"))

	orch := orchestrator.New(provider, est, registry, executor, fileVault, ltm,
		metrics, slogger, orchestrator.Config{
			Model:        cfg.LLM.Model,
			SystemPrompt: loadInstructions(projectDir, workingDir),
		})
	orch.SetTracer(tracer)
	orch.SetRecorder(recorder)

	transport := acp.NewTransport(os.Stdin, os.Stdout, slogger)
	agent := acp.NewAgent(transport, orch, store, slogger)

	// Config hot-reload stays advisory: the next turn reads fresh values.
	go clioconfig.Watch(ctx, projectDir, slogger, func(*clioconfig.Config) {})

	appLogger.Info(ctx, "agent ready", "working_dir", workingDir, "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	if err := agent.Run(ctx); err != nil && err != context.Canceled {
		appLogger.Error(ctx, "agent terminated", "error", err)
		return exitFatal
	}
	appLogger.Info(ctx, "agent shut down")
	return exitOK
}

// loadInstructions folds .clio/instructions.md into the system prompt.
func loadInstructions(projectDir, workingDir string) string {
	base := "You are CLIO, an AI coding agent working in " + workingDir + "."
	data, err := os.ReadFile(filepath.Join(projectDir, "instructions.md"))
	if err != nil {
		return base
	}
	return base + "\n\nProject instructions:\n" + string(data)
}
