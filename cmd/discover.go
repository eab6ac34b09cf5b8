package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/grant-funnel/internal/pipeline"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery pass for a profile",
	Long: `Collects candidates from the enabled sources, resolves duplicates, screens the
rest through the validation, strategic and detailed stages and records every
outcome in the funnel.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		profileID, err := profileFlag(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, cfg, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := pipeline.OptionsFromConfig(cfg.Cascade, profileID)
		applyRunFlags(cmd, &opts)

		rep, runErr := env.Pipeline.Run(ctx, opts)
		if rep != nil {
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				if err := writeJSON(os.Stdout, rep); err != nil {
					return err
				}
			} else {
				renderReport(os.Stdout, rep)
			}
		}
		return runErr
	},
}

// applyRunFlags overrides the configured run options with the flags the
// user set explicitly.
func applyRunFlags(cmd *cobra.Command, opts *pipeline.RunOptions) {
	f := cmd.Flags()
	if f.Changed("sources") {
		opts.Sources, _ = f.GetStringSlice("sources")
	}
	if f.Changed("lenient") {
		opts.Lenient, _ = f.GetBool("lenient")
	}
	if f.Changed("no-enrich") {
		noEnrich, _ := f.GetBool("no-enrich")
		opts.Enrich = !noEnrich
	}
	if f.Changed("budget") {
		opts.BudgetUSD, _ = f.GetFloat64("budget")
	}
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("sources", nil, "only run these sources (grants_gov, propublica, irs_bmf, spreadsheet)")
	f.Bool("lenient", false, "advance validation results of investigate")
	f.Bool("no-enrich", false, "skip web intelligence enrichment")
	f.Float64("budget", 0, "detailed stage cost budget in USD")
}

func init() {
	addRunFlags(discoverCmd)
	discoverCmd.Flags().Bool("json", false, "print the run report as JSON")
	rootCmd.AddCommand(discoverCmd)
}
