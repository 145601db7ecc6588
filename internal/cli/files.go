package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/drivevault/drivevault/internal/config"
	"github.com/drivevault/drivevault/internal/sync/index"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the files the vault currently tracks",
	Long: `list reads the local index, so it works offline and reflects the state
as of the last completed sync pass.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove <vault-path>",
	Short: "Delete a synced file from both the vault and Drive",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(removeCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

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

	entries, err := db.ListEntries(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No synced files yet. Run 'drivevault sync'.")
		return nil
	}

	var rows [][]string
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		rows = append(rows, []string{
			truncate(entry.Path, 60),
			formatBytes(entry.Size),
			humanize.Time(time.UnixMilli(entry.LastSyncedMS)),
		})
	}
	renderTable([]string{"Path", "Size", "Synced"}, rows)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	relPath := filepath.ToSlash(args[0])

	s, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	entry, err := s.db.GetByPath(ctx, relPath)
	if err != nil {
		return err
	}
	if entry == nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound,
			fmt.Sprintf("%s is not a synced file", relPath)).Build())
	}

	reqCtx := s.requestContext(types.RequestTypeMetadata)
	if err := s.client.DeleteFile(ctx, reqCtx, entry.RemoteID); err != nil {
		return err
	}

	abs := filepath.Join(s.root, filepath.FromSlash(relPath))
	if entry.IsDir {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
		if os.IsNotExist(err) {
			err = nil
		}
	}
	if err != nil {
		return err
	}

	if err := s.db.Delete(ctx, relPath); err != nil {
		return err
	}
	if !flagQuiet {
		fmt.Printf("Removed %s from the vault and Drive.\n", relPath)
	}
	return nil
}
