package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/drivevault/drivevault/internal/api"
	"github.com/drivevault/drivevault/internal/config"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

var initCmd = &cobra.Command{
	Use:   "init <remote-folder-name>",
	Short: "Bind the vault to a Drive folder and write its config",
	Long: `init creates the vault's .drivevault/ state directory, finds or creates
the named folder at the root of My Drive, and pins its ID in the config
so later renames of the remote folder do not re-target the sync.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

var (
	initFolderID string
	initConflict string
)

func init() {
	initCmd.Flags().StringVar(&initFolderID, "folder-id", "", "Bind to an existing folder ID instead of looking it up by name")
	initCmd.Flags().StringVar(&initConflict, "conflict", "", "Conflict policy to record (default newest-wins)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	root, err := vaultRoot()
	if err != nil {
		return err
	}
	if _, err := os.Stat(config.Path(root)); err == nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("%s is already initialized", root)).Build())
	}

	cfg := config.Default()
	cfg.FolderName = args[0]
	if flagProfile != "" {
		cfg.Profile = flagProfile
	}
	if initConflict != "" {
		cfg.ConflictPolicy = initConflict
	}

	tm := newTokenManager(root, cfg)
	creds, err := tm.GetValidCredentials(ctx)
	if err != nil {
		return err
	}
	service, err := drive.NewService(ctx, option.WithHTTPClient(tm.HTTPClient(ctx, creds)))
	if err != nil {
		return fmt.Errorf("failed to create Drive service: %w", err)
	}
	client := api.NewClient(service, cfg.MaxRetries, cfg.RetryDelayMs, GetLogger())
	reqCtx := api.NewRequestContext(cfg.Profile, types.RequestTypeMetadata)

	if initFolderID != "" {
		folder, err := client.GetFile(ctx, reqCtx, initFolderID)
		if err != nil {
			return err
		}
		if folder.MimeType != utils.MimeTypeFolder {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
				fmt.Sprintf("%s is not a folder", initFolderID)).Build())
		}
		cfg.FolderID = folder.ID
		cfg.FolderName = folder.Name
	} else {
		folder, err := client.FindFolder(ctx, reqCtx, cfg.FolderName, "root")
		if err != nil {
			return err
		}
		if folder == nil {
			folder, err = client.CreateFolder(ctx, reqCtx, cfg.FolderName, "root")
			if err != nil {
				return err
			}
			if !flagQuiet {
				fmt.Printf("Created Drive folder %q (%s)\n", folder.Name, folder.ID)
			}
		}
		cfg.FolderID = folder.ID
	}

	if err := cfg.Save(root); err != nil {
		return err
	}
	if !flagQuiet {
		fmt.Printf("Vault %s bound to Drive folder %q (%s)\n", root, cfg.FolderName, cfg.FolderID)
		fmt.Println("Run 'drivevault sync' to start syncing.")
	}
	return nil
}
