package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/pipeline"
	"github.com/sells-group/grant-funnel/internal/workflow"
)

var temporalCmd = &cobra.Command{
	Use:   "temporal",
	Short: "Durable discovery runs on Temporal",
}

var temporalWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker for the discovery workflow",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initApp(cmd.Context(), cfg, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := workflow.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		w := workflow.NewWorker(c, cfg.Temporal.TaskQueue, &workflow.Activities{Runner: env.Pipeline, Store: env.Store})
		zap.L().Info("temporal: worker starting", zap.String("task_queue", cfg.Temporal.TaskQueue))

		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "temporal worker")
		}
		return nil
	},
}

var temporalStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Submit a discovery workflow for a profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		profileID, err := profileFlag(cmd)
		if err != nil {
			return err
		}
		c, err := workflow.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		opts := pipeline.OptionsFromConfig(cfg.Cascade, profileID)
		applyRunFlags(cmd, &opts)

		ctx := cmd.Context()
		run, err := workflow.Start(ctx, c, cfg.Temporal.TaskQueue, workflow.DiscoveryInput{Options: opts})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "started workflow %s (run %s)\n", run.GetID(), run.GetRunID())

		if wait, _ := cmd.Flags().GetBool("wait"); !wait {
			return nil
		}
		var res workflow.DiscoveryResult
		if err := run.Get(ctx, &res); err != nil {
			return eris.Wrap(err, "temporal start: workflow failed")
		}
		return writeJSON(os.Stdout, res)
	},
}

func init() {
	addRunFlags(temporalStartCmd)
	temporalStartCmd.Flags().Bool("wait", false, "wait for the workflow result")
	temporalCmd.AddCommand(temporalWorkerCmd, temporalStartCmd)
	rootCmd.AddCommand(temporalCmd)
}
