package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drivevault/drivevault/internal/utils"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	vault := t.TempDir()

	cfg := Default()
	cfg.FolderName = "Vault"
	cfg.FolderID = "folder-123"
	cfg.IgnorePatterns = []string{"drafts/", "*.bak"}
	cfg.Extensions = []string{".md", ".PDF"}
	cfg.ConflictPolicy = "manual"
	cfg.Concurrency = 5

	if err := cfg.Save(vault); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(vault)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.FolderID != "folder-123" || loaded.FolderName != "Vault" {
		t.Errorf("folder = %q/%q", loaded.FolderName, loaded.FolderID)
	}
	if loaded.ConflictPolicy != "manual" || loaded.Concurrency != 5 {
		t.Errorf("policy=%q concurrency=%d", loaded.ConflictPolicy, loaded.Concurrency)
	}
	if len(loaded.IgnorePatterns) != 2 {
		t.Errorf("ignore patterns = %v", loaded.IgnorePatterns)
	}
}

func TestLoadUninitializedVault(t *testing.T) {
	_, err := Load(t.TempDir())
	if !utils.IsCode(err, utils.ErrCodeInvalidArgument) {
		t.Errorf("Load() = %v, want INVALID_ARGUMENT", err)
	}
	if err == nil || !strings.Contains(err.Error(), "drivevault init") {
		t.Errorf("error %v should point at init", err)
	}
}

func TestLoadFillsDefaultsForUnsetFields(t *testing.T) {
	vault := t.TempDir()
	if err := os.MkdirAll(Dir(vault), 0700); err != nil {
		t.Fatal(err)
	}
	// A minimal hand-written file, most fields absent
	minimal := "folderName: Notes\nfolderId: abc\n"
	if err := os.WriteFile(Path(vault), []byte(minimal), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(vault)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != "default" {
		t.Errorf("Profile = %q", cfg.Profile)
	}
	if cfg.ConflictPolicy != "newest-wins" {
		t.Errorf("ConflictPolicy = %q", cfg.ConflictPolicy)
	}
	if cfg.Concurrency != utils.DefaultTransferConcurrency {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	vault := t.TempDir()
	cfg := Default()
	cfg.ClientID = "from-file"
	if err := cfg.Save(vault); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvPrefix+"CLIENT_ID", "from-env")
	t.Setenv(EnvPrefix+"PROFILE", "work")

	loaded, err := Load(vault)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ClientID != "from-env" {
		t.Errorf("ClientID = %q", loaded.ClientID)
	}
	if loaded.Profile != "work" {
		t.Errorf("Profile = %q", loaded.Profile)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown policy", func(c *Config) { c.ConflictPolicy = "coin-flip" }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"excessive concurrency", func(c *Config) { c.Concurrency = 100 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"tiny retry delay", func(c *Config) { c.RetryDelayMs = 10 }},
		{"extension without dot", func(c *Config) { c.Extensions = []string{"md"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !utils.IsCode(err, utils.ErrCodeInvalidArgument) {
				t.Errorf("Validate() = %v, want INVALID_ARGUMENT", err)
			}
		})
	}
}

func TestExtensionSetNormalizesCase(t *testing.T) {
	cfg := Default()
	cfg.Extensions = []string{".MD", ".Pdf"}

	set := cfg.ExtensionSet()
	if !set[".md"] || !set[".pdf"] {
		t.Errorf("ExtensionSet() = %v", set)
	}

	cfg.Extensions = nil
	if cfg.ExtensionSet() != nil {
		t.Error("empty filter should be nil, meaning no filtering")
	}
}

func TestPathsLiveUnderStateDir(t *testing.T) {
	root := filepath.Join("some", "vault")
	if got := Path(root); got != filepath.Join(root, DirName, FileName) {
		t.Errorf("Path() = %q", got)
	}
	if got := IndexPath(root); got != filepath.Join(root, DirName, IndexFileName) {
		t.Errorf("IndexPath() = %q", got)
	}
}
