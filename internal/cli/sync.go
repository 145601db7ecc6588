package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/drivevault/drivevault/internal/config"
	"github.com/drivevault/drivevault/internal/sync/conflict"
	"github.com/drivevault/drivevault/internal/sync/index"
	"github.com/drivevault/drivevault/internal/transfer"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass between the vault and its Drive folder",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var syncResetTrackingCmd = &cobra.Command{
	Use:   "reset-tracking",
	Short: "Discard the change cursor and re-enable change tracking",
	Args:  cobra.NoArgs,
	RunE:  runSyncResetTracking,
}

var (
	syncDryRun      bool
	syncFull        bool
	syncConflict    string
	syncConcurrency int
	syncProgress    bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Show what would change without touching either side")
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Bypass change tracking and list the remote folder fully")
	syncCmd.Flags().StringVar(&syncConflict, "conflict", "", "Override the conflict policy (newest-wins, local-wins, remote-wins, manual)")
	syncCmd.Flags().IntVar(&syncConcurrency, "concurrency", 0, "Override the number of parallel transfers")
	syncCmd.Flags().BoolVar(&syncProgress, "progress", true, "Report per-file transfer progress")

	syncCmd.AddCommand(syncResetTrackingCmd)
	rootCmd.AddCommand(syncCmd)
}

func policyFromConfig(cfg *config.Config) conflict.Policy {
	return conflict.Policy(cfg.ConflictPolicy)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var onProgress transfer.ProgressFunc
	if syncProgress && !flagQuiet && !flagJSON {
		onProgress = printProgress
	}

	s, err := openSession(ctx, onProgress)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := syncOptions(s)
	opts.DryRun = syncDryRun
	opts.FullListing = syncFull
	if syncConflict != "" {
		p := conflict.Policy(syncConflict)
		if !conflict.ValidPolicy(p) {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
				fmt.Sprintf("invalid conflict policy %q", syncConflict)).Build())
		}
		opts.Policy = p
	}
	if syncConcurrency > 0 {
		opts.Concurrency = syncConcurrency
	}

	if syncDryRun {
		preview, err := s.engine.Plan(ctx, s.requestContext(types.RequestTypeListing), opts)
		if err != nil {
			return err
		}
		return printPreview(preview)
	}

	stats, err := s.engine.Sync(ctx, s.requestContext(types.RequestTypeTransfer), opts)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(stats)
	}
	printStats(stats)

	if len(stats.Errors) > 0 {
		os.Exit(utils.ExitPartialFailure)
	}
	return nil
}

func runSyncResetTracking(cmd *cobra.Command, args []string) error {
	root, err := vaultRoot()
	if err != nil {
		return err
	}
	if _, err := config.Load(root); err != nil {
		return err
	}

	db, err := index.Open(config.IndexPath(root), GetLogger())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ResetTrackerState(context.Background()); err != nil {
		return err
	}
	if !flagQuiet {
		fmt.Println("Change tracking reset. The next sync will bootstrap a fresh cursor.")
	}
	return nil
}

func printProgress(operation string, current, total int64, item string) {
	if total > 0 {
		fmt.Fprintf(os.Stderr, "\r%s %s: %s / %s", operation, item,
			humanize.IBytes(uint64(current)), humanize.IBytes(uint64(total)))
		if current >= total {
			fmt.Fprintln(os.Stderr)
		}
	}
}
