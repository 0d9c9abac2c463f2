package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"NexusChat/internal/persist"
)

func newStateCmd(opts *rootOptions) *cobra.Command {
	var clearRecord bool
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print (or clear) the persisted state of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.SessionID == "" {
				return fmt.Errorf("--session-id is required")
			}

			ctx := cmd.Context()
			b, err := persist.Open(ctx, persist.Options{
				Backend:    cfg.Persistence.Backend,
				SQLitePath: cfg.Persistence.SQLitePath,
				RedisAddr:  cfg.Persistence.RedisAddr,
				RedisDB:    cfg.Persistence.RedisDB,
				TTL:        cfg.Persistence.SessionTTL,
			})
			if err != nil {
				return err
			}
			defer b.Close()

			key := persist.Key(cfg.StorageKey, cfg.SessionID)
			if clearRecord {
				if err := b.Delete(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", key)
				return nil
			}

			data, err := b.Load(ctx, key)
			if errors.Is(err, persist.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "No persisted state for %s\n", key)
				return nil
			}
			if err != nil {
				return err
			}
			state, err := persist.Decode(data)
			if err != nil {
				return fmt.Errorf("persisted state for %s is corrupt: %w", key, err)
			}
			out, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearRecord, "clear", false, "Delete the record instead of printing it")
	return cmd
}
