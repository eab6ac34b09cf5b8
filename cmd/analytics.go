package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/store"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show funnel analytics for a profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		profileID, err := profileFlag(cmd)
		if err != nil {
			return err
		}
		env, err := initApp(cmd.Context(), cfg, "funnel")
		if err != nil {
			return err
		}
		defer env.Close()

		ctx := cmd.Context()
		refresh, _ := cmd.Flags().GetBool("refresh")

		var a *model.Analytics
		if !refresh {
			a, err = env.Store.GetAnalytics(ctx, profileID)
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(os.Stderr, "No cached analytics, computing.")
				refresh = true
			} else if err != nil {
				return eris.Wrap(err, "analytics")
			}
		}
		if refresh {
			a, err = env.Store.RefreshAnalytics(ctx, profileID)
			if err != nil {
				return eris.Wrap(err, "analytics refresh")
			}
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, a)
		}
		renderAnalytics(os.Stdout, a)
		return nil
	},
}

func init() {
	analyticsCmd.Flags().Bool("refresh", false, "recompute before printing")
	analyticsCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(analyticsCmd)
}
