// Package cmd is the operator CLI for maintenance that should not wait for
// a Discord interaction.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/disgoorg/disgo/rest"
	"github.com/spf13/cobra"

	"github.com/disgoorg/repbot/repbot"
	"github.com/disgoorg/repbot/repbot/logger"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "repctl",
	Short:         "Operate the reputation bot's stores without the gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(logger.NewHandler("repctl", level)))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")
}

// Execute runs the CLI and exits non-zero on failure.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", slog.String("type", "sys"), slog.Any("error", err))
		os.Exit(1)
	}
}

// withApp loads the config and builds the app over a REST-only client.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *repbot.App) error) error {
	cfg, err := repbot.LoadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	restClient := rest.NewClient(cfg.Bot.Token)
	defer restClient.Close(ctx)

	app, err := repbot.NewApp(ctx, cfg, rest.New(restClient), rootCmd.Version)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}
