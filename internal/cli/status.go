package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/drivevault/drivevault/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault state and what a sync pass would do",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.db.CountEntries(ctx)
	if err != nil {
		return err
	}
	lastSyncMS, err := s.db.GetLastSyncMS(ctx)
	if err != nil {
		return err
	}
	trackerState, err := s.engine.Tracker().State(ctx)
	if err != nil {
		return err
	}

	preview, err := s.engine.Plan(ctx, s.requestContext(types.RequestTypeListing), syncOptions(s))
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(map[string]interface{}{
			"vault":          s.root,
			"folderId":       s.cfg.FolderID,
			"folderName":     s.cfg.FolderName,
			"trackedFiles":   entries,
			"lastSyncMs":     lastSyncMS,
			"changeTracking": trackerState,
			"pending":        preview.Diff.Total(),
			"conflicts":      len(preview.Diff.Conflicts),
		})
	}

	lastSync := "never"
	if lastSyncMS > 0 {
		lastSync = humanize.Time(time.UnixMilli(lastSyncMS))
	}

	renderTable([]string{"", ""}, [][]string{
		{"Vault", s.root},
		{"Drive folder", fmt.Sprintf("%s (%s)", s.cfg.FolderName, s.cfg.FolderID)},
		{"Conflict policy", s.cfg.ConflictPolicy},
		{"Tracked files", fmt.Sprintf("%d", entries)},
		{"Last sync", lastSync},
		{"Change tracking", string(trackerState)},
	})
	fmt.Println()

	return printPreview(preview)
}
