package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/starmint/starmint/starmint"
)

var importCMD = &cobra.Command{
	Use:   "import <catalog.bson>",
	Short: "import a BSON catalog dump, scoring every collectible",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, app *starmint.App) error {
			summary, err := app.Importer.ImportFile(ctx, args[0])
			if err != nil {
				slog.Error("Import failed", slog.String("type", "error"), slog.Any("error", err))
				return err
			}
			return printJSON(cmd, summary)
		})
	},
}

func init() {
	rootCmd.AddCommand(importCMD)
}
