package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/api"
	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/pipeline"
	"github.com/sells-group/grant-funnel/internal/profile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run scheduled discovery",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}
		env, err := initApp(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		server := api.New(api.Deps{
			Store:       env.Store,
			Machine:     env.Machine,
			Runner:      env.Pipeline,
			Metrics:     env.Metrics,
			Server:      cfg.Server,
			Cascade:     cfg.Cascade,
			BaseContext: ctx,
		})

		var sched *cron.Cron
		if cfg.Schedule.Spec != "" {
			profiles := profile.NewFileService(cfg.Profiles.Dir)
			sched, err = scheduleDiscovery(ctx, cfg.Schedule, cfg.Cascade, env.Pipeline, profiles.List)
			if err != nil {
				return err
			}
			sched.Start()
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("api: listening", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return eris.Wrap(err, "serve")
			}
		}

		zap.L().Info("api: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if sched != nil {
			<-sched.Stop().Done()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("api: shutdown", zap.Error(err))
		}
		if !server.Wait(30 * time.Second) {
			zap.L().Warn("api: discovery runs still in flight at exit")
		}
		return nil
	},
}

// scheduleDiscovery registers one cron job that runs discovery for each
// scheduled profile in turn. With no profiles configured every profile
// returned by listProfiles is run. Overlapping ticks are skipped.
func scheduleDiscovery(ctx context.Context, sc config.ScheduleConfig, cc config.CascadeConfig, runner api.Runner, listProfiles func(context.Context) ([]string, error)) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(sc.Spec, func() {
		ids := sc.Profiles
		if len(ids) == 0 {
			var err error
			ids, err = listProfiles(ctx)
			if err != nil {
				zap.L().Error("schedule: list profiles", zap.Error(err))
				return
			}
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			log := zap.L().With(zap.String("profile_id", id))
			rep, err := runner.Run(ctx, pipeline.OptionsFromConfig(cc, id))
			if err != nil {
				log.Error("schedule: discovery run failed", zap.Error(err))
				continue
			}
			log.Info("schedule: discovery run complete",
				zap.String("run_id", rep.RunID),
				zap.Int("processed", rep.Summary.Processed),
			)
		}
	})
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: invalid spec %q", sc.Spec)
	}
	zap.L().Info("schedule: discovery scheduled", zap.String("spec", sc.Spec), zap.Strings("profiles", sc.Profiles))
	return c, nil
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
