// Package cmd holds the command line entry points.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"triage_server/config"
	"triage_server/internal/bootstrap"
	"triage_server/pkg/logger"
)

var envFile string

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "triage",
		Short:         "Answer or escalate incoming support mail",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newServeCmd(),
		newListenCmd(),
		newWatchCmd(),
		newUnwatchCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive Pub/Sub push notifications over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, config.ModeServe, func(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
				deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg, log)
				if err != nil {
					return err
				}
				defer cleanup()

				srv, err := bootstrap.NewServer(deps)
				if err != nil {
					return err
				}
				return srv.Run(ctx)
			})
		},
	}
}

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Pull notifications from a Pub/Sub subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, config.ModeListen, func(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
				deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg, log)
				if err != nil {
					return err
				}
				defer cleanup()
				return bootstrap.RunListener(ctx, deps)
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Register Gmail push notifications on the configured topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, config.ModeWatch, bootstrap.RunWatch)
		},
	}
}

func newUnwatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unwatch",
		Short: "Stop Gmail push notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, config.ModeUnwatch, bootstrap.RunUnwatch)
		},
	}
}

type runFunc func(ctx context.Context, cfg *config.Config, log zerolog.Logger) error

// run loads configuration for mode and calls fn with a context cancelled
// on SIGINT or SIGTERM.
func run(cmd *cobra.Command, mode string, fn runFunc) error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	format := logger.FormatJSON
	if cfg.LogFormat == string(logger.FormatConsole) {
		format = logger.FormatConsole
	}
	log := logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Format: format,
	}).With().Str("mode", mode).Logger()

	if err := cfg.Validate(mode); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return fn(ctx, cfg, log)
}
