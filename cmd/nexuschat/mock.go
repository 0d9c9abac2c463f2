package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"NexusChat/internal/mockserver"
	"NexusChat/internal/telemetry"
)

func newServeMockCmd(opts *rootOptions) *cobra.Command {
	var (
		addr string
		dsn  string
	)
	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Run a local stand-in for the chat service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.MockAddr = addr
			}

			logger, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			if !cfg.Debug {
				gin.SetMode(gin.ReleaseMode)
			}

			db, err := mockserver.OpenDB(dsn)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.MockAddr,
				Handler:           mockserver.New(db, mockserver.WithLogger(logger)).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("mock service listening", "addr", cfg.MockAddr)
				fmt.Fprintf(cmd.OutOrStdout(), "Mock chat service listening on %s\n", cfg.MockAddr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config mock_addr)")
	cmd.Flags().StringVar(&dsn, "db", "", "SQLite file for mock data (default in-memory)")
	return cmd
}
