package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/starmint/starmint/starmint"
)

var serveCMD = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP API, the scheduled triggers and notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, app *starmint.App) error {
			if err := app.DB.InitializeSchema(ctx); err != nil {
				return err
			}
			return app.Serve(ctx)
		})
	},
}

var schemaCMD = &cobra.Command{
	Use:   "schema",
	Short: "create tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, app *starmint.App) error {
			return app.DB.InitializeSchema(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCMD)
	rootCmd.AddCommand(schemaCMD)
}
