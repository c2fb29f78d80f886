package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/trailcam-archiver/internal/app"
	"github.com/JakeFAU/trailcam-archiver/internal/logging"
)

// newScheduleCmd creates the 'schedule' subcommand.
func newScheduleCmd() *cobra.Command {
	var spec string
	var runNow bool
	var opts app.SyncOptions

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run sync on a cron schedule until interrupted",
		Long: `Runs 'sync' on a standard five-field cron schedule (or descriptors
such as @hourly). A tick that fires while the previous sync is still running
is skipped. Stops on SIGINT/SIGTERM after the current sync winds down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if spec == "" {
				spec = appInstance.GetConfig().Schedule.Cron
			}
			if spec == "" {
				return errors.New("a cron spec is required (--cron or schedule.cron)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSchedule(ctx, appInstance, spec, runNow, opts)
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "cron spec (defaults to schedule.cron)")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run one sync immediately before waiting for the schedule")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "ignore the watermark on every scheduled run")
	cmd.Flags().IntVar(&opts.Target, "limit", 0, "archive at most this many records per run")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "failed-attempt budget per run")

	return cmd
}

func runSchedule(ctx context.Context, appInstance App, spec string, runNow bool, opts app.SyncOptions) error {
	logger := appInstance.GetLogger().Named("schedule")
	cronLogger := logging.CronLogger(logger)

	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	job := func() {
		summary, err := appInstance.Sync(ctx, opts)
		if err != nil {
			logger.Error("scheduled sync could not start", zap.Error(err))
			return
		}
		logger.Info("scheduled sync finished", summary.Fields()...)
	}

	id, err := c.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	if runNow {
		job()
	}

	c.Start()
	logger.Info("scheduler started",
		zap.String("cron", spec),
		zap.Time("next_run", c.Entry(id).Next),
	)

	<-ctx.Done()
	logger.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}
