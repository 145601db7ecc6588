package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/drivevault/drivevault/internal/sync/conflict"
	"github.com/drivevault/drivevault/internal/sync/diff"

	syncengine "github.com/drivevault/drivevault/internal/sync"
)

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func renderTable(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// printPreview renders a dry-run: every pending action plus how each
// conflict would be settled
func printPreview(preview *syncengine.Preview) error {
	if flagJSON {
		return printJSON(preview)
	}

	d := preview.Diff
	if d.Empty() {
		fmt.Println("Nothing to sync.")
		return nil
	}

	var rows [][]string
	appendItems := func(action string, items []diff.Item) {
		for _, item := range items {
			size := int64(0)
			if item.Local != nil {
				size = item.Local.Size
			} else if item.Remote != nil {
				size = item.Remote.Size
			}
			rows = append(rows, []string{action, truncate(item.Path, 60), formatBytes(size)})
		}
	}
	appendItems("upload", d.NewLocal)
	appendItems("upload", d.ChangedLocal)
	appendItems("download", d.NewRemote)
	appendItems("download", d.ChangedRemote)
	appendItems("delete remote", d.DeletedLocal)
	appendItems("delete local", d.DeletedRemote)

	sort.Slice(rows, func(i, j int) bool { return rows[i][1] < rows[j][1] })
	renderTable([]string{"Action", "Path", "Size"}, rows)

	if len(preview.Resolutions) > 0 {
		fmt.Println()
		var conflictRows [][]string
		for _, r := range preview.Resolutions {
			winner := string(r.Winner)
			if r.Winner == conflict.WinnerNone {
				winner = "unresolved"
			}
			conflictRows = append(conflictRows, []string{
				truncate(r.Conflict.Path, 60), string(r.Conflict.Kind), winner,
			})
		}
		renderTable([]string{"Conflict", "Kind", "Winner"}, conflictRows)
	}

	fmt.Printf("\n%d pending change(s), %d conflict(s). Run without --dry-run to apply.\n",
		d.Total(), len(d.Conflicts))
	return nil
}

func printStats(stats *syncengine.Stats) {
	if stats.NothingToDo {
		fmt.Println("Already in sync.")
		return
	}

	fmt.Printf("Sync finished in %s\n", stats.Duration.Round(10*time.Millisecond))
	rows := [][]string{
		{"Uploaded", fmt.Sprintf("%d (%s)", stats.Uploaded, formatBytes(stats.BytesUploaded))},
		{"Downloaded", fmt.Sprintf("%d (%s)", stats.Downloaded, formatBytes(stats.BytesDownloaded))},
		{"Deleted locally", fmt.Sprintf("%d", stats.DeletedLocal)},
		{"Deleted remotely", fmt.Sprintf("%d", stats.DeletedRemote)},
		{"Folders created", fmt.Sprintf("%d", stats.FoldersCreated)},
		{"Skipped", fmt.Sprintf("%d", stats.Skipped)},
		{"Conflicts resolved", fmt.Sprintf("%d", stats.ConflictsResolved)},
		{"Conflicts pending", fmt.Sprintf("%d", stats.ConflictsPending)},
	}
	renderTable([]string{"", "Count"}, rows)

	if len(stats.Errors) > 0 {
		fmt.Printf("\n%d file(s) failed and will be retried next pass:\n", len(stats.Errors))
		for _, fe := range stats.Errors {
			fmt.Printf("  %s %s: %v\n", fe.Op, fe.Path, fe.Err)
		}
	}
}
