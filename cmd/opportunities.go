package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/store"
)

var opportunitiesCmd = &cobra.Command{
	Use:     "opportunities",
	Aliases: []string{"opps"},
	Short:   "Inspect tracked opportunities",
}

var opportunitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a profile's opportunities",
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

		stage, _ := cmd.Flags().GetString("stage")
		asJSON, _ := cmd.Flags().GetBool("json")
		return listOpportunities(cmd.Context(), env.Store, os.Stdout, profileID, stage, asJSON)
	},
}

var opportunitiesShowCmd = &cobra.Command{
	Use:   "show <opportunity-id>",
	Short: "Show an opportunity with its scoring and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profileID, err := profileFlag(cmd)
		if err != nil {
			return err
		}
		env, err := initApp(cmd.Context(), cfg, "funnel")
		if err != nil {
			return err
		}
		defer env.Close()

		asJSON, _ := cmd.Flags().GetBool("json")
		return showOpportunity(cmd.Context(), env.Store, os.Stdout, profileID, args[0], asJSON)
	},
}

func listOpportunities(ctx context.Context, st store.Store, w io.Writer, profileID, rawStage string, asJSON bool) error {
	var stage model.Stage
	if rawStage != "" {
		s, err := model.ParseStage(rawStage)
		if err != nil {
			return err
		}
		stage = s
	}
	opps, err := st.List(ctx, profileID, stage)
	if err != nil {
		return eris.Wrap(err, "opportunities list")
	}
	if asJSON {
		if opps == nil {
			opps = []model.Opportunity{}
		}
		return writeJSON(w, opps)
	}
	renderOpportunities(w, opps)
	return nil
}

func showOpportunity(ctx context.Context, st store.Store, w io.Writer, profileID, id string, asJSON bool) error {
	opp, err := st.Get(ctx, profileID, id)
	if err != nil {
		return eris.Wrap(err, "opportunities show")
	}
	if asJSON {
		return writeJSON(w, opp)
	}
	renderOpportunity(w, opp)
	return nil
}

func init() {
	opportunitiesListCmd.Flags().String("stage", "", "only list this stage")
	for _, c := range []*cobra.Command{opportunitiesListCmd, opportunitiesShowCmd} {
		c.Flags().Bool("json", false, "print JSON")
		opportunitiesCmd.AddCommand(c)
	}
	rootCmd.AddCommand(opportunitiesCmd)
}
