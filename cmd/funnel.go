package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/store"
)

var funnelCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Move opportunities between funnel stages",
	Long: `Manual stage changes. Every change is appended to the opportunity's promotion
history with the acting user and reason.`,
}

// stageAction names a manual stage change.
type stageAction string

const (
	actionPromote  stageAction = "promote"
	actionDemote   stageAction = "demote"
	actionSetStage stageAction = "set-stage"
)

// changeStage loads the opportunity and applies the action through the
// funnel state machine. It returns the stage the opportunity left.
func changeStage(ctx context.Context, st store.Store, m *funnel.Machine, action stageAction, profileID, id, target string, c funnel.Change) (model.Stage, *model.Opportunity, error) {
	opp, err := st.Get(ctx, profileID, id)
	if err != nil {
		return "", nil, eris.Wrapf(err, "funnel %s", action)
	}
	from := opp.CurrentStage
	switch action {
	case actionPromote:
		err = m.Promote(ctx, profileID, opp, c)
	case actionDemote:
		err = m.Demote(ctx, profileID, opp, c)
	case actionSetStage:
		var stage model.Stage
		stage, err = model.ParseStage(target)
		if err == nil {
			err = m.SetStage(ctx, profileID, opp, stage, c)
		}
	default:
		err = eris.Errorf("unknown action %q", action)
	}
	if err != nil {
		return "", nil, err
	}
	return from, opp, nil
}

func printChange(w io.Writer, from model.Stage, opp *model.Opportunity) {
	if from == opp.CurrentStage {
		fmt.Fprintf(w, "%s already at %s\n", opp.OpportunityID, opp.CurrentStage)
		return
	}
	fmt.Fprintf(w, "%s: %s -> %s\n", opp.OpportunityID, from, opp.CurrentStage)
}

func stageCommand(action stageAction, use, short string, args cobra.PositionalArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
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

			reason, _ := cmd.Flags().GetString("reason")
			actor, _ := cmd.Flags().GetString("actor")
			var target string
			if len(args) > 1 {
				target = args[1]
			}

			from, opp, err := changeStage(cmd.Context(), env.Store, env.Machine, action, profileID, args[0], target,
				funnel.Change{Reason: reason, Actor: actor})
			if err != nil {
				return err
			}
			printChange(os.Stdout, from, opp)
			return nil
		},
	}
	cmd.Flags().String("reason", "", "reason recorded in the promotion history")
	cmd.Flags().String("actor", defaultActor(), "user recorded in the promotion history")
	return cmd
}

var funnelAssessCmd = &cobra.Command{
	Use:   "assess <opportunity-id>",
	Short: "Record a human assessment of an opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profileID, err := profileFlag(cmd)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		rating, _ := f.GetInt("rating")
		if rating < 0 || rating > 5 {
			return eris.New("--rating must be between 0 and 5")
		}
		priority, _ := f.GetString("priority")
		notes, _ := f.GetString("notes")
		tags, _ := f.GetStringSlice("tags")
		actor, _ := f.GetString("actor")

		env, err := initApp(cmd.Context(), cfg, "funnel")
		if err != nil {
			return err
		}
		defer env.Close()

		opp, err := env.Machine.Assess(cmd.Context(), profileID, args[0], model.UserAssessment{
			Rating:     rating,
			Priority:   priority,
			Notes:      notes,
			Tags:       tags,
			AssessedBy: actor,
		})
		if err != nil {
			return eris.Wrap(err, "funnel assess")
		}
		fmt.Fprintf(os.Stdout, "%s assessed by %s (rating %d)\n", opp.OpportunityID, actor, rating)
		return nil
	},
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func init() {
	funnelCmd.AddCommand(
		stageCommand(actionPromote, "promote <opportunity-id>", "Move an opportunity to the next stage", cobra.ExactArgs(1)),
		stageCommand(actionDemote, "demote <opportunity-id>", "Move an opportunity back one stage (requires --reason)", cobra.ExactArgs(1)),
		stageCommand(actionSetStage, "set-stage <opportunity-id> <stage>", "Jump an opportunity to any stage (requires --reason)", cobra.ExactArgs(2)),
	)

	f := funnelAssessCmd.Flags()
	f.Int("rating", 0, "rating from 1 to 5")
	f.String("priority", "", "priority label")
	f.String("notes", "", "free-form notes")
	f.StringSlice("tags", nil, "tags")
	f.String("actor", defaultActor(), "assessing user")
	funnelCmd.AddCommand(funnelAssessCmd)

	rootCmd.AddCommand(funnelCmd)
}
