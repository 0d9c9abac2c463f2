package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"NexusChat/internal/backend"
	"NexusChat/internal/chatbot"
	"NexusChat/internal/config"
	"NexusChat/internal/feed"
	"NexusChat/internal/persist"
	"NexusChat/internal/store"
	"NexusChat/internal/telemetry"
)

func openBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*persist.Bridge, error) {
	b, err := persist.Open(ctx, persist.Options{
		Backend:    cfg.Persistence.Backend,
		SQLitePath: cfg.Persistence.SQLitePath,
		RedisAddr:  cfg.Persistence.RedisAddr,
		RedisDB:    cfg.Persistence.RedisDB,
		TTL:        cfg.Persistence.SessionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s persistence: %w", cfg.Persistence.Backend, err)
	}
	return persist.NewBridge(b, persist.Key(cfg.StorageKey, cfg.SessionID), logger), nil
}

func runConsole(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "session_" + uuid.NewString()
	}

	logger, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := cmd.Context()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	bridge, err := openBridge(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer bridge.Close()

	client, err := backend.NewClient(cfg.BaseURL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		backend.WithLogger(logger),
		backend.WithTracer(tracer),
		backend.WithMeter(meter),
	)
	if err != nil {
		return err
	}

	st := store.New(client,
		store.WithLogger(logger),
		store.WithPersistence(bridge),
		store.WithRevisionGuard(cfg.RevisionGuard),
	)
	logger.Info("console starting",
		"session_id", cfg.SessionID,
		"base_url", cfg.BaseURL,
		"persistence", cfg.Persistence.Backend,
		"revision_guard", cfg.RevisionGuard,
	)

	bot := chatbot.NewChatBot(st, cfg.SessionID, os.Stdin, cmd.OutOrStdout(), logger)
	if cfg.FeedAddr == "" {
		return bot.Run(ctx)
	}

	// the feed lives as long as the console
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer stop()
		return bot.Run(ctx)
	})
	eg.Go(func() error {
		return feed.NewHub(st, logger).Serve(ctx, cfg.FeedAddr)
	})
	return eg.Wait()
}
