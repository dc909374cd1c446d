package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/starmint/starmint/starmint"
)

var assignDryRun bool

var rescoreCMD = &cobra.Command{
	Use:   "rescore",
	Short: "recompute every score with the configured scoring system",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, app *starmint.App) error {
			res, err := app.Tiers.Rescore(ctx, app.Scorer)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

var assignTiersCMD = &cobra.Command{
	Use:   "assign-tiers",
	Short: "rank every collectible into tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, app *starmint.App) error {
			res, err := app.Tiers.AssignTiers(ctx, assignDryRun)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

var recalcPricesCMD = &cobra.Command{
	Use:   "recalc-prices",
	Short: "recalculate and store every price",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, app *starmint.App) error {
			res, err := app.Prices.RecalculateAllPrices(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

var advancePhaseCMD = &cobra.Command{
	Use:   "advance-phase",
	Short: "apply the due series or phase transition, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, app *starmint.App) error {
			t, err := app.Schedule.AdvancePhaseIfDue(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		})
	},
}

var finalizeAuctionsCMD = &cobra.Command{
	Use:   "finalize-auctions",
	Short: "activate due auctions and finalize expired ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, app *starmint.App) error {
			app.Dispatcher.Start()
			defer app.Dispatcher.Stop()

			if _, err := app.Auctions.ActivateDueAuctions(ctx); err != nil {
				return err
			}
			summary, err := app.Auctions.FinalizeExpiredAuctions(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		})
	},
}

var repairCMD = &cobra.Command{
	Use:   "repair",
	Short: "rebuild auction bid pointers from confirmed bids",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, app *starmint.App) error {
			res, err := app.Auctions.RebuildBidPointers(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

func init() {
	assignTiersCMD.Flags().BoolVar(&assignDryRun, "dry-run", false, "report the assignment without writing it")

	rootCmd.AddCommand(rescoreCMD)
	rootCmd.AddCommand(assignTiersCMD)
	rootCmd.AddCommand(recalcPricesCMD)
	rootCmd.AddCommand(advancePhaseCMD)
	rootCmd.AddCommand(finalizeAuctionsCMD)
	rootCmd.AddCommand(repairCMD)
}
