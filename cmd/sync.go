package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/trailcam-archiver/internal/app"
)

// newSyncCmd creates the 'sync' subcommand.
func newSyncCmd() *cobra.Command {
	var opts app.SyncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Archive new records from the portal",
		Long: `Walks the portal newest-first, archiving each record not yet in the
catalog. The run stops at the catalog watermark, after --limit records, when
the sequence ends or when the failed-attempt budget is spent.

Exit codes: 0 completed or stopped at watermark, 1 failed or canceled,
2 attempt budget exhausted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "ignore the watermark; duplicates are still skipped")
	cmd.Flags().IntVar(&opts.Jump, "jump", 0, "skip this many records before archiving")
	cmd.Flags().IntVar(&opts.Target, "limit", 0, "archive at most this many records (0 uses sync.target)")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "failed-attempt budget (0 uses sync.max_attempts)")

	return cmd
}

func runSync(cmd *cobra.Command, opts app.SyncOptions) error {
	if opts.Jump < 0 || opts.Target < 0 || opts.MaxAttempts < 0 {
		return fmt.Errorf("--jump, --limit and --max-attempts must not be negative")
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := appInstance.Sync(ctx, opts)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("sync: %w", err)}
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary.String())
	if code := summary.ExitCode(); code != 0 {
		cause := summary.Err
		if cause == nil {
			cause = fmt.Errorf("run ended in %s", summary.State)
		}
		return &exitError{code: code, err: cause}
	}
	appInstance.GetLogger().Debug("sync command finished", zap.String("state", string(summary.State)))
	return nil
}
