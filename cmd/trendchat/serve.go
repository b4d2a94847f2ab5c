package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/trendchat/trendchat/agent"
	"github.com/trendchat/trendchat/auth"
	"github.com/trendchat/trendchat/chat"
	"github.com/trendchat/trendchat/config"
	"github.com/trendchat/trendchat/httpapi"
	"github.com/trendchat/trendchat/logging"
	"github.com/trendchat/trendchat/metrics"
	"github.com/trendchat/trendchat/model"
	anthropicmodel "github.com/trendchat/trendchat/model/anthropic"
	openaimodel "github.com/trendchat/trendchat/model/openai"
	"github.com/trendchat/trendchat/store"
	"github.com/trendchat/trendchat/tool"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	return cmd
}

func serve(cfg *config.Config) error {
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	}).WithContext("provider", cfg.Model.Provider)

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET)")
	}

	startupDone := logger.StartTimer("startup")

	sqlStore, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer sqlStore.Close()

	st := store.NewRetryingStore(sqlStore, func(o *store.RetryOptions) {
		o.Delay = cfg.Agent.PersistRetryDelay
		o.Logger = logger.WithComponent("store")
	})

	llm, err := buildModel(cfg)
	if err != nil {
		return err
	}

	registry := tool.FromConfig(cfg, logger.WithComponent("tool"))

	runtime := agent.New(llm, registry, func(o *agent.Options) {
		o.MaxIterations = cfg.Agent.MaxIterations
		o.Timeout = cfg.Agent.Timeout
		o.ModelCallsPerSec = cfg.Agent.ModelCallsPerSec
		o.Logger = logger.WithComponent("agent")
	})

	m := metrics.New()

	orchestrator := chat.NewOrchestrator(st, runtime, func(o *chat.Options) {
		o.HistoryLimit = cfg.Agent.HistoryLimit
		o.TitleMaxLength = cfg.Agent.TitleMaxLength
		o.MaxConcurrentRuns = cfg.Agent.MaxConcurrentRuns
		o.Logger = logger.WithComponent("chat")
		o.Metrics = m
	})

	server := httpapi.NewServer(orchestrator, auth.NewVerifier(cfg.Auth.JWTSecret), func(o *httpapi.Options) {
		o.Logger = logger.WithComponent("http")
		o.Metrics = m
	})

	startupDone()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server starting",
		"addr", cfg.Server.Addr,
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"tools", len(registry.Tools()))
	return server.ListenAndServe(ctx, cfg.Server.Addr)
}

func buildModel(cfg *config.Config) (model.Model, error) {
	switch cfg.Model.Provider {
	case "openai":
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			o.Model = cfg.Model.Name
			o.Temperature = cfg.Model.Temperature
			o.APIKey = cfg.Model.APIKey
			o.BaseURL = cfg.Model.BaseURL
		}), nil
	case "anthropic":
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.Model = anthropic.Model(cfg.Model.Name)
			o.Temperature = cfg.Model.Temperature
			o.APIKey = cfg.Model.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}
