// Package cmd defines and implements the CLI commands for the archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/trailcam-archiver/internal/app"
	"github.com/JakeFAU/trailcam-archiver/internal/config"
	"github.com/JakeFAU/trailcam-archiver/internal/logging"
	"github.com/JakeFAU/trailcam-archiver/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	Sync(ctx context.Context, opts app.SyncOptions) (pipeline.Summary, error)
	Migrate(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can
// replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newLogger is swapped in tests to keep output quiet.
var newLogger = logging.New

// exitError carries a non-zero process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Archives trail-camera images from the vendor web portal.",
		Long: `archiver drives a browser session through the trail-camera portal,
downloads new images with their metadata, uploads them to object storage
and records them in the catalog. Runs are incremental: each sync stops at
the newest record already archived unless --force is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config is loaded here so that --dry-run can swap providers before
		// any service connects.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(cfgFile)
			if err != nil {
				return err
			}
			if dryRun {
				cfg = cfg.DryRun()
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			if dryRun {
				logger.Info("dry run: catalog and object store are in memory")
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "keep catalog and object store in memory and disable notifications")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// run executes the CLI with args and returns the process exit code. Services
// are closed whether or not the command succeeded.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	executed, err := root.ExecuteContextC(ctx)
	if executed != nil && executed.Context() != nil {
		if appInstance, ok := executed.Context().Value(appKey).(App); ok && appInstance != nil {
			appInstance.Close()
		}
	}
	if err != nil {
		fmt.Fprintln(stderr, "archiver:", err)
	}
	return ExitCode(err)
}

// Execute is the main entry point.
func Execute() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
