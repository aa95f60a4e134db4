package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/threadr-ai/threadr/config"
	"github.com/threadr-ai/threadr/internal/agent"
	"github.com/threadr-ai/threadr/internal/capability"
	"github.com/threadr-ai/threadr/internal/llm"
	"github.com/threadr-ai/threadr/internal/search"
	"github.com/threadr-ai/threadr/internal/server"
	"github.com/threadr-ai/threadr/internal/store"
	"github.com/threadr-ai/threadr/internal/telemetry"
	"github.com/threadr-ai/threadr/internal/threads"
	"github.com/threadr-ai/threadr/internal/workflow"
)

func main() {
	var root = &cobra.Command{Use: "threadr"}

	root.AddCommand(serveCMD(), runCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := log.New(os.Stdout, "[Threadr] ", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
				Enabled:      cfg.Telemetry.Enabled,
				ServiceName:  "threadr",
				MetricsPort:  cfg.Telemetry.MetricsPort,
				OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			}, logger)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = shutdownTelemetry(sctx)
			}()

			var archive *store.RunArchive
			if cfg.Storage.Redis.Enabled() {
				archive, err = store.NewRunArchive(ctx, store.Options{
					Addr:     cfg.Storage.Redis.Addr(),
					Password: cfg.Storage.Redis.Password,
					DB:       cfg.Storage.Redis.DB,
					TTL:      cfg.Storage.Redis.ArchiveTTL,
				})
				if err != nil {
					return fmt.Errorf("connect run archive: %w", err)
				}
				defer archive.Close()
			}

			factory, err := buildRunnerFactory(cfg, archive, logger)
			if err != nil {
				return err
			}

			srv := server.New(server.Options{
				Address:    cfg.Server.Address,
				JWTSecret:  cfg.Server.JWTSecret,
				RunTimeout: cfg.General.DefaultTimeout,
			}, factory, archive, logger)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return srv.Shutdown(sctx)
			}
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return serve
}

func runCMD() *cobra.Command {
	var cfgPath string
	var run = &cobra.Command{
		Use:   "run [message]",
		Short: "Execute one request and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := log.New(os.Stderr, "[Threadr] ", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			factory, err := buildRunnerFactory(cfg, nil, logger)
			if err != nil {
				return err
			}
			runner, err := factory(nil)
			if err != nil {
				return err
			}

			message := strings.Join(args, " ")
			req := workflow.NewRequest([]workflow.Message{{Role: "user", Content: message}})

			rctx, cancel := context.WithTimeout(ctx, cfg.General.DefaultTimeout)
			defer cancel()
			result, err := runner.Run(rctx, req)
			if err != nil {
				return err
			}

			fmt.Println(result.Summary)
			if result.State.Terminal == workflow.TerminalFailed {
				return fmt.Errorf("run %s failed: %s", result.State.RunID, result.State.FailureReason)
			}
			return nil
		},
	}
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return run
}

// buildRunnerFactory assembles the full pipeline once and returns a factory
// that attaches an optional per-run trace sink on top of the metrics sink.
func buildRunnerFactory(cfg *config.Config, archive *store.RunArchive, logger *log.Logger) (server.RunnerFactory, error) {
	model, err := llm.NewClient(llm.Options{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	searcher, err := search.New(search.Options{
		Provider:     cfg.Search.Provider,
		BraveAPIKey:  cfg.Search.BraveAPIKey,
		SerperAPIKey: cfg.Search.SerperAPIKey,
		Timeout:      cfg.Search.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build search provider: %w", err)
	}

	mcp := threads.NewClient(cfg.Threads.MCPURL, cfg.Threads.BearerToken, cfg.Threads.Timeout)

	registry, err := capability.NewRegistry(capability.DefaultCards(), cfg.Capability.SigningSecret, cfg.Capability.Required)
	if err != nil {
		return nil, fmt.Errorf("build capability registry: %w", err)
	}

	agents := []workflow.Agent{
		agent.NewSearchAgent(searcher, model, cfg.Search.MaxResults, logger),
		agent.NewPostAgent(model, mcp, logger),
	}
	decider := agent.NewInputDecider(model, logger)
	planner := agent.NewPlanner(model, logger)
	responder := agent.NewResponder(model, logger)
	metricsSink := telemetry.MetricsSink(logger)
	orchCfg := workflow.Config{
		MaxIterations:     cfg.Workflow.MaxIterations,
		InvocationTimeout: cfg.Workflow.InvocationTimeout,
	}

	var archiver agent.RunArchiver
	if archive != nil {
		archiver = archive
	}

	return func(sink workflow.TraceSink) (*agent.Runner, error) {
		combined := metricsSink
		if sink != nil {
			combined = workflow.MultiSink(metricsSink, sink)
		}
		orch, err := workflow.NewOrchestrator(orchCfg, agents, registry, decider, combined, logger)
		if err != nil {
			return nil, err
		}
		return agent.NewRunner(planner, orch, responder, archiver, logger), nil
	}, nil
}
