package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/drivevault/drivevault/internal/api"
	"github.com/drivevault/drivevault/internal/auth"
	"github.com/drivevault/drivevault/internal/config"
	"github.com/drivevault/drivevault/internal/logging"
	"github.com/drivevault/drivevault/internal/sync/index"
	"github.com/drivevault/drivevault/internal/transfer"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
	"github.com/drivevault/drivevault/pkg/version"

	syncengine "github.com/drivevault/drivevault/internal/sync"
)

var (
	flagVault   string
	flagProfile string
	flagVerbose bool
	flagQuiet   bool
	flagJSON    bool

	logger logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "drivevault",
	Short: "Two-way synchronizer between a local vault and a Google Drive folder",
	Long: `drivevault keeps a local directory tree (the vault) and a Google Drive
folder in sync, in both directions. It tracks reconciled state in a
local index, follows the Drive changes feed between passes, and
resolves concurrent edits with a configurable conflict policy.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logging.INFO
		if flagVerbose {
			level = logging.DEBUG
		}
		if flagQuiet {
			level = logging.ERROR
		}
		logger = logging.NewConsoleLogger(logging.ConsoleLoggerConfig{
			Level:            level,
			ColorEnabled:     true,
			TimestampEnabled: flagVerbose,
			RedactSensitive:  true,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagVault, "vault", ".", "Vault directory")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "Credential profile (overrides the config file)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")
}

// Execute runs the root command and maps errors to stable exit codes
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if appErr, ok := err.(*utils.AppError); ok {
			os.Exit(utils.GetExitCode(appErr.CLIError.Code))
		}
		os.Exit(utils.ExitUnknown)
	}
}

// GetLogger returns the logger built for this invocation
func GetLogger() logging.Logger {
	if logger == nil {
		return logging.NewNoOpLogger()
	}
	return logger
}

func vaultRoot() (string, error) {
	abs, err := filepath.Abs(flagVault)
	if err != nil {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("vault %s is not a directory", abs)).Build())
	}
	return abs, nil
}

func activeProfile(cfg *config.Config) string {
	if flagProfile != "" {
		return flagProfile
	}
	return cfg.Profile
}

func newTokenManager(root string, cfg *config.Config) *auth.TokenManager {
	tm := auth.NewTokenManager(config.Dir(root), activeProfile(cfg), auth.TokenManagerOptions{})
	tm.SetOAuthConfig(cfg.ClientID, cfg.ClientSecret, []string{utils.ScopeFull})
	return tm
}

// session bundles everything an authenticated command needs
type session struct {
	root   string
	cfg    *config.Config
	client *api.Client
	http   *http.Client
	engine *syncengine.Engine
	db     *index.DB
}

func (s *session) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *session) requestContext(rt types.RequestType) *types.RequestContext {
	return api.NewRequestContext(activeProfile(s.cfg), rt)
}

// openSession loads the vault config, authenticates and wires the sync
// engine. onProgress may be nil.
func openSession(ctx context.Context, onProgress transfer.ProgressFunc) (*session, error) {
	root, err := vaultRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	tm := newTokenManager(root, cfg)
	creds, err := tm.GetValidCredentials(ctx)
	if err != nil {
		return nil, err
	}
	httpClient := tm.HTTPClient(ctx, creds)

	service, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	client := api.NewClient(service, cfg.MaxRetries, cfg.RetryDelayMs, GetLogger())

	transfers := transfer.NewEngine(client, transfer.Options{
		HTTPClient: httpClient,
		Logger:     GetLogger(),
		OnProgress: onProgress,
	})

	db, err := index.Open(config.IndexPath(root), GetLogger())
	if err != nil {
		return nil, err
	}

	return &session{
		root:   root,
		cfg:    cfg,
		client: client,
		http:   httpClient,
		engine: syncengine.NewEngine(client, transfers, db, GetLogger()),
		db:     db,
	}, nil
}

func syncOptions(s *session) syncengine.Options {
	return syncengine.Options{
		VaultRoot:      s.root,
		FolderID:       s.cfg.FolderID,
		Policy:         policyFromConfig(s.cfg),
		Concurrency:    s.cfg.Concurrency,
		IgnorePatterns: s.cfg.IgnorePatterns,
		Extensions:     s.cfg.ExtensionSet(),
	}
}
