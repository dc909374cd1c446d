package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/starmint/starmint/starmint"
	"github.com/starmint/starmint/starmint/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "starmint",
	Short:         "Collectible catalog, pricing and auction service",
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml")
}

// Execute runs the command named on the command line.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (*starmint.Config, error) {
	cfg, err := starmint.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.NoColor)
	return cfg, nil
}

// runWithApp loads the config, wires the app and runs fn, logging the
// command's outcome.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, app *starmint.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	start := time.Now()
	ctx := cmd.Context()
	app, err := starmint.New(ctx, cfg)
	if err != nil {
		logger.LogCommand(cmd.Name(), time.Since(start), err)
		return err
	}
	defer app.Close()

	err = fn(ctx, app)
	logger.LogCommand(cmd.Name(), time.Since(start), err)
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("Failed to write result", slog.String("type", "error"), slog.Any("error", err))
		return err
	}
	return nil
}
