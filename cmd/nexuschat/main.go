package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"NexusChat/internal/config"
)

var version = "dev"

type rootOptions struct {
	configPath string
	baseURL    string
	sessionID  string
	debug      bool
	feedAddr   string
}

// loadConfig reads the config file and environment, then applies flags that were set
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = o.baseURL
	}
	if flags.Changed("session-id") {
		cfg.SessionID = o.sessionID
	}
	if flags.Changed("debug") {
		cfg.Debug = o.debug
	}
	if flags.Changed("feed-addr") {
		cfg.FeedAddr = o.feedAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "nexuschat",
		Short:         "Console client for the NexusChat retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd, opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (default ~/.config/nexuschat/config.yaml)")
	pf.StringVar(&opts.baseURL, "base-url", "", "Base URL of the chat service")
	pf.StringVar(&opts.sessionID, "session-id", "", "Resume the persisted state of this session")
	pf.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&opts.feedAddr, "feed-addr", "", "Serve the websocket state feed on this address")

	rootCmd.AddCommand(
		newServeMockCmd(opts),
		newStateCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "nexuschat", version)
			},
		},
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
