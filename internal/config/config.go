package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/drivevault/drivevault/internal/sync/conflict"
	"github.com/drivevault/drivevault/internal/utils"
)

const (
	// DirName is the per-vault state directory, excluded from syncing
	DirName = ".drivevault"
	// FileName is the settings file inside DirName
	FileName = "config.yaml"
	// IndexFileName is the reconciliation ledger inside DirName
	IndexFileName = "index.db"
	// EnvPrefix prefixes environment overrides
	EnvPrefix = "DRIVEVAULT_"
)

// Config is the per-vault settings file. Sync state (index entries,
// change cursor) lives in the sqlite database next to it, never here.
type Config struct {
	// Profile selects the credential set
	Profile string `yaml:"profile"`

	// FolderName is the remote folder the vault mirrors. FolderID is
	// resolved from it on init and pinned here so later renames of the
	// remote folder do not re-target the sync.
	FolderName string `yaml:"folderName"`
	FolderID   string `yaml:"folderId"`

	// IgnorePatterns extends the built-in exclusions
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// Extensions, when non-empty, limits syncing to these file
	// extensions (".md", ".pdf", ...). Folders always pass.
	Extensions []string `yaml:"extensions,omitempty"`

	// ConflictPolicy: newest-wins, local-wins, remote-wins, manual
	ConflictPolicy string `yaml:"conflictPolicy"`

	// Concurrency bounds parallel transfers
	Concurrency int `yaml:"concurrency"`

	MaxRetries   int `yaml:"maxRetries"`
	RetryDelayMs int `yaml:"retryDelayMs"`

	// OAuth client overrides; env vars DRIVEVAULT_CLIENT_ID and
	// DRIVEVAULT_CLIENT_SECRET win over the file
	ClientID     string `yaml:"clientId,omitempty"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
}

// Default returns the configuration a fresh vault starts from
func Default() *Config {
	return &Config{
		Profile:        "default",
		ConflictPolicy: string(conflict.PolicyNewestWins),
		Concurrency:    utils.DefaultTransferConcurrency,
		MaxRetries:     utils.DefaultMaxRetries,
		RetryDelayMs:   utils.DefaultRetryDelayMs,
	}
}

// Dir returns the state directory for a vault root
func Dir(vaultRoot string) string {
	return filepath.Join(vaultRoot, DirName)
}

// Path returns the settings file path for a vault root
func Path(vaultRoot string) string {
	return filepath.Join(Dir(vaultRoot), FileName)
}

// IndexPath returns the sqlite ledger path for a vault root
func IndexPath(vaultRoot string) string {
	return filepath.Join(Dir(vaultRoot), IndexFileName)
}

// Load reads the vault's settings file, fills unset fields from
// defaults, applies environment overrides and validates. A missing file
// is reported with INVALID_ARGUMENT so callers can point at `init`.
func Load(vaultRoot string) (*Config, error) {
	data, err := os.ReadFile(Path(vaultRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
				fmt.Sprintf("%s is not an initialized vault; run 'drivevault init' first", vaultRoot)).Build())
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", Path(vaultRoot), err)
	}
	cfg.fillDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the settings file, creating the state directory if needed
func (c *Config) Save(vaultRoot string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(Dir(vaultRoot), 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", Dir(vaultRoot), err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(Path(vaultRoot), data, 0600)
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Profile == "" {
		c.Profile = def.Profile
	}
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = def.ConflictPolicy
	}
	if c.Concurrency == 0 {
		c.Concurrency = def.Concurrency
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelayMs == 0 {
		c.RetryDelayMs = def.RetryDelayMs
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "PROFILE"); v != "" {
		c.Profile = v
	}
	if v := os.Getenv(EnvPrefix + "CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := os.Getenv(EnvPrefix + "CLIENT_SECRET"); v != "" {
		c.ClientSecret = v
	}
}

// Validate rejects settings the sync engine cannot honor
func (c *Config) Validate() error {
	if !conflict.ValidPolicy(conflict.Policy(c.ConflictPolicy)) {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid conflict policy %q (newest-wins, local-wins, remote-wins, manual)", c.ConflictPolicy)).Build())
	}
	if c.Concurrency < 1 || c.Concurrency > 32 {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("concurrency must be between 1 and 32, got %d", c.Concurrency)).Build())
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("maxRetries must be between 0 and 10, got %d", c.MaxRetries)).Build())
	}
	if c.RetryDelayMs < 100 || c.RetryDelayMs > 60000 {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("retryDelayMs must be between 100 and 60000, got %d", c.RetryDelayMs)).Build())
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
				fmt.Sprintf("extension %q must start with a dot", ext)).Build())
		}
	}
	return nil
}

// ExtensionSet normalizes the extension filter for the scanner; nil
// means no filtering
func (c *Config) ExtensionSet() map[string]bool {
	if len(c.Extensions) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.Extensions))
	for _, ext := range c.Extensions {
		set[strings.ToLower(ext)] = true
	}
	return set
}
