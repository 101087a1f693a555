package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/omnidesk/omnidesk/internal/assistant"
	"github.com/omnidesk/omnidesk/internal/bus"
	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/config"
	"github.com/omnidesk/omnidesk/internal/desk"
	"github.com/omnidesk/omnidesk/internal/media"
	"github.com/omnidesk/omnidesk/internal/observability"
	"github.com/omnidesk/omnidesk/internal/storage"
	"github.com/omnidesk/omnidesk/internal/triage"
)

// buildServeCmd creates the "serve" command that runs the desk.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OmniDesk server",
		Long: `Start the OmniDesk server.

The server will:
1. Load configuration from the specified file
2. Open the application database and media store
3. Initialize the assistant provider (Google or OpenAI)
4. Connect the WhatsApp channel (QR pairing on first run)
5. Start the HTTP control surface, websocket bus and metrics endpoint

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  omnidesk serve

  # Start with custom config and debug logging
  omnidesk serve --config /etc/omnidesk/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "omnidesk.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		// No config file: run entirely on defaults (API key from env).
		cfg = config.Default()
		cfg.Assistant.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := storage.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stores.Close()

	mediaStore, err := media.NewStore(cfg.Media.Dir, cfg.Media.BaseURL)
	if err != nil {
		return err
	}

	var provider assistant.Provider
	switch cfg.Assistant.Provider {
	case "openai":
		provider, err = assistant.NewOpenAIProvider(cfg.Assistant.APIKey, cfg.Assistant.Model)
	default:
		provider, err = assistant.NewGoogleProvider(ctx, cfg.Assistant.APIKey, cfg.Assistant.Model)
	}
	if err != nil {
		return fmt.Errorf("assistant provider: %w", err)
	}
	engine := assistant.New(provider, assistant.Options{
		SystemPrompt: cfg.Assistant.SystemPrompt,
		MemoryLimit:  cfg.Assistant.MemoryLimit,
		MemoryKeep:   cfg.Assistant.MemoryKeep,
		Logger:       logger,
		Metrics:      metrics,
	})

	hub := bus.NewHub(logger)
	defer hub.Close()

	// The pipeline needs the channel manager for replies and the manager
	// needs the router that feeds the pipeline. The router is built first
	// with a late-bound handler to break the cycle.
	var pipeline *triage.Pipeline
	router := channel.NewRouter(handlerFunc(func(ctx context.Context, evt channel.MessageEvent) error {
		return pipeline.HandleMessage(ctx, evt)
	}), hub, logger)
	defer router.Close()

	manager := channel.NewManager(cfg.Channel, router, hub, metrics, logger)
	defer manager.Close()

	pipeline = triage.New(stores, mediaStore, engine, manager, hub, metrics, logger)

	tickets := desk.NewTicketService(stores, hub, logger)
	server := desk.NewServer(desk.ServerOptions{
		Addr:     cfg.Server.Addr,
		Stores:   stores,
		Tickets:  tickets,
		Channel:  manager,
		Forget:   engine,
		Bus:      hub,
		WS:       hub,
		MediaDir: mediaStore.Dir(),
		Logger:   logger,
	})
	if err := server.Start(); err != nil {
		return err
	}

	manager.Start(ctx)
	logger.Info("omnidesk started", "addr", cfg.Server.Addr, "provider", provider.Name())

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	return nil
}

// handlerFunc adapts a function to the channel.MessageHandler interface.
type handlerFunc func(ctx context.Context, evt channel.MessageEvent) error

func (f handlerFunc) HandleMessage(ctx context.Context, evt channel.MessageEvent) error {
	return f(ctx, evt)
}
