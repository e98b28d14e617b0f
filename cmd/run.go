package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/everloop-ai/everloop/internal/agent"
	"github.com/everloop-ai/everloop/internal/bus"
	"github.com/everloop-ai/everloop/internal/config"
	"github.com/everloop-ai/everloop/internal/gateway"
	"github.com/everloop-ai/everloop/internal/providers"
	"github.com/everloop-ai/everloop/internal/store"
	"github.com/everloop-ai/everloop/internal/telemetry"
	"github.com/everloop-ai/everloop/internal/tools"
)

// runHarness wires every component and blocks until SIGINT/SIGTERM or a
// fatal store failure.
func runHarness() error {
	setupLogging()
	log := slog.Default()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.WorkspacePath, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.OTLPProtocol, log)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	dsn := cfg.StorePath()
	if cfg.StoreDriver == "postgres" {
		dsn = cfg.PostgresDSN
	}
	st, err := store.Open(cfg.StoreDriver, dsn)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	events := bus.New(0)
	prompts := config.NewPrompts(cfg, agent.DefaultSystemPrompt, agent.DefaultAutonomousPrompt, log)
	go prompts.Watch(ctx)

	coordinator := agent.NewCoordinator(st, events, prompts, cfg.WakeCron, log)

	registry := tools.NewRegistry()
	registry.Register(tools.NewFilesystemTool(cfg.WorkspacePath, cfg.RestrictToWorkspace))
	registry.Register(tools.NewTerminalTool(cfg.WorkspacePath, cfg.RestrictToWorkspace))
	registry.Register(tools.NewWebFetchTool())
	registry.Register(tools.NewWebSearchTool(cfg.SearchAPIKey))
	registry.Register(tools.NewSleepTool())
	registry.Register(tools.NewNotableTool(st, events))
	registry.Register(tools.NewTaskStatusTool(st))
	registry.Register(tools.NewTaskWaitTool(st))
	dispatcher := tools.NewDispatcher(registry, st, log)

	provider := providers.NewOpenAIProvider("model", cfg.ModelAPIKey, cfg.ModelEndpoint)
	executor := agent.NewExecutor(st, events, provider, dispatcher, agent.ModelParams{
		Model:       cfg.ModelName,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		ContextSize: cfg.ContextSize,
	}, tracer, log, coordinator.Post, coordinator.PendingInput)
	coordinator.SetExecutor(executor)

	server := gateway.NewServer(gateway.Options{
		Port:           cfg.ListenPort,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPM:   cfg.RateLimitRPM,
	}, coordinator, events, log)

	errCh := make(chan error, 2)
	go func() { errCh <- coordinator.Run(ctx) }()
	go func() { errCh <- server.Start(ctx) }()

	log.Info("everloop running", "model", cfg.ModelName, "endpoint", cfg.ModelEndpoint,
		"port", cfg.ListenPort, "workspace", cfg.WorkspacePath)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}
