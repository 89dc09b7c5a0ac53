package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nucleus/blog-api/internal/config"
	"github.com/nucleus/blog-api/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// cfg and logger are populated by PersistentPreRunE and shared with all subcommands.
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "blog-api",
	Short: "GraphQL API for users, posts and comments",
	Long: `blog-api serves a GraphQL API over HTTP with subscriptions over
WebSocket. It listens on $PORT, or 4001 when PORT is unset.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, os.Getenv)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// --log-level flag takes precedence over value in config file.
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		return nil
	}

	rootCmd.AddCommand(migrateCmd)
}

// Execute is the entry point called by main.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if logger != nil {
		if err != nil {
			logger.Error("blog-api failed", zap.Error(err))
		}
		_ = logger.Sync()
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	if err != nil {
		os.Exit(1)
	}
}
