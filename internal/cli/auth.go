package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/drivevault/drivevault/internal/config"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored Drive credentials",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store OAuth credentials for this vault's profile",
	Long: `login reads a credentials JSON document ({"accessToken": ...,
"refreshToken": ..., "expiryDate": RFC3339, "scopes": [...]}) from
--token-file or stdin and stores it in the system keyring, falling back
to a file under .drivevault/ on headless hosts.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete stored credentials for this vault's profile",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored credential state",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authTokenFile string

func init() {
	authLoginCmd.Flags().StringVar(&authTokenFile, "token-file", "", "Read the credentials JSON from a file instead of stdin")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

// The auth commands fall back to a default config when the vault is not
// initialized yet, so login can run before init.

func runAuthLogin(cmd *cobra.Command, args []string) error {
	root, err := vaultRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.Default()
		if flagProfile != "" {
			cfg.Profile = flagProfile
		}
	}

	var data []byte
	if authTokenFile != "" {
		data, err = os.ReadFile(authTokenFile)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	var stored types.StoredCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("credentials are not valid JSON: %v", err)).Build())
	}
	if stored.AccessToken == "" || stored.RefreshToken == "" {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"credentials must include accessToken and refreshToken").Build())
	}
	expiry, err := time.Parse(time.RFC3339, stored.ExpiryDate)
	if err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"expiryDate must be RFC 3339").Build())
	}

	scopes := stored.Scopes
	if len(scopes) == 0 {
		scopes = []string{utils.ScopeFull}
	}

	tm := newTokenManager(root, cfg)
	creds := &types.Credentials{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiryDate:   expiry,
		Scopes:       scopes,
		Type:         types.AuthTypeOAuth,
	}
	if err := tm.SaveCredentials(creds); err != nil {
		return err
	}

	if !flagQuiet {
		fmt.Printf("Credentials stored for profile %q via %s.\n", tm.Profile(), tm.StorageName())
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	root, err := vaultRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.Default()
	}

	tm := newTokenManager(root, cfg)
	if err := tm.DeleteCredentials(); err != nil {
		return err
	}
	if !flagQuiet {
		fmt.Printf("Credentials removed for profile %q.\n", tm.Profile())
	}
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	root, err := vaultRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.Default()
	}

	tm := newTokenManager(root, cfg)
	creds, err := tm.LoadCredentials()
	if err != nil {
		if flagJSON {
			return printJSON(map[string]interface{}{
				"profile":       tm.Profile(),
				"authenticated": false,
			})
		}
		fmt.Printf("Profile %q: not authenticated. Run 'drivevault auth login'.\n", tm.Profile())
		return nil
	}

	expired := time.Now().After(creds.ExpiryDate)
	if flagJSON {
		return printJSON(map[string]interface{}{
			"profile":       tm.Profile(),
			"authenticated": true,
			"storage":       tm.StorageName(),
			"expiryDate":    creds.ExpiryDate.Format(time.RFC3339),
			"expired":       expired,
			"scopes":        creds.Scopes,
		})
	}

	state := "valid"
	if expired {
		state = "expired (will refresh on next use)"
	}
	renderTable([]string{"", ""}, [][]string{
		{"Profile", tm.Profile()},
		{"Storage", tm.StorageName()},
		{"Access token", state},
		{"Expires", creds.ExpiryDate.Format(time.RFC3339)},
	})
	return nil
}
