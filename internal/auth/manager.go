package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

const (
	serviceName        = "drivevault"
	tokenRefreshBuffer = 5 * time.Minute
)

// TokenManager owns credential storage and refresh. It is constructed
// once and injected into every component that talks to the API; there is
// no package-level token state.
type TokenManager struct {
	configDir   string
	profile     string
	storage     StorageBackend
	oauthConfig *oauth2.Config
}

// TokenManagerOptions configures the token manager
type TokenManagerOptions struct {
	// ForceFileStorage skips keyring detection (headless hosts, tests)
	ForceFileStorage bool
}

// NewTokenManager creates a token manager for the given profile
func NewTokenManager(configDir, profile string, opts TokenManagerOptions) *TokenManager {
	m := &TokenManager{
		configDir: configDir,
		profile:   profile,
	}

	if opts.ForceFileStorage || !keyringAvailable() {
		m.storage = NewFileStorage(configDir)
	} else {
		m.storage = NewKeyringStorage(serviceName)
	}

	return m
}

func keyringAvailable() bool {
	testKey := "drivevault-test"
	if err := keyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey)
	return true
}

// SetOAuthConfig sets the OAuth2 client configuration
func (m *TokenManager) SetOAuthConfig(clientID, clientSecret string, scopes []string) {
	m.oauthConfig = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
		RedirectURL:  "http://localhost:8085/callback",
	}
}

// LoadCredentials loads stored credentials for the manager's profile
func (m *TokenManager) LoadCredentials() (*types.Credentials, error) {
	data, err := m.storage.Load(m.profile)
	if err != nil {
		return nil, err
	}

	var stored types.StoredCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	expiryDate, err := time.Parse(time.RFC3339, stored.ExpiryDate)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry date: %w", err)
	}

	return &types.Credentials{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiryDate:   expiryDate,
		Scopes:       stored.Scopes,
		Type:         stored.Type,
	}, nil
}

// SaveCredentials saves credentials for the manager's profile
func (m *TokenManager) SaveCredentials(creds *types.Credentials) error {
	stored := types.StoredCredentials{
		Profile:      m.profile,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiryDate:   creds.ExpiryDate.Format(time.RFC3339),
		Scopes:       creds.Scopes,
		Type:         creds.Type,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	return m.storage.Save(m.profile, data)
}

// DeleteCredentials removes credentials for the manager's profile
func (m *TokenManager) DeleteCredentials() error {
	return m.storage.Delete(m.profile)
}

// NeedsRefresh checks if credentials need refreshing
func (m *TokenManager) NeedsRefresh(creds *types.Credentials) bool {
	return time.Now().Add(tokenRefreshBuffer).After(creds.ExpiryDate)
}

// RefreshCredentials refreshes OAuth2 tokens
func (m *TokenManager) RefreshCredentials(ctx context.Context, creds *types.Credentials) (*types.Credentials, error) {
	if m.oauthConfig == nil {
		return nil, fmt.Errorf("OAuth config not set")
	}

	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiryDate,
	}

	tokenSource := m.oauthConfig.TokenSource(ctx, token)
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	refreshToken := newToken.RefreshToken
	if refreshToken == "" {
		refreshToken = creds.RefreshToken
	}

	return &types.Credentials{
		AccessToken:  newToken.AccessToken,
		RefreshToken: refreshToken,
		ExpiryDate:   newToken.Expiry,
		Scopes:       creds.Scopes,
		Type:         types.AuthTypeOAuth,
	}, nil
}

// GetValidCredentials returns valid credentials, refreshing if necessary
func (m *TokenManager) GetValidCredentials(ctx context.Context) (*types.Credentials, error) {
	creds, err := m.LoadCredentials()
	if err != nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			"No credentials found. Run 'drivevault auth login' first.").Build())
	}

	if m.NeedsRefresh(creds) {
		newCreds, err := m.RefreshCredentials(ctx, creds)
		if err != nil {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthExpired,
				"Token refresh failed. Run 'drivevault auth login' to re-authenticate.").Build())
		}
		if err := m.SaveCredentials(newCreds); err != nil {
			return nil, fmt.Errorf("failed to save refreshed credentials: %w", err)
		}
		return newCreds, nil
	}

	return creds, nil
}

// GetValidAccessToken returns a bearer token usable right now
func (m *TokenManager) GetValidAccessToken(ctx context.Context) (string, error) {
	creds, err := m.GetValidCredentials(ctx)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// HTTPClient returns an authenticated HTTP client. The oauth2 transport
// refreshes tokens transparently on long transfers.
func (m *TokenManager) HTTPClient(ctx context.Context, creds *types.Credentials) *http.Client {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiryDate,
	}
	if m.oauthConfig == nil {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	}
	return m.oauthConfig.Client(ctx, token)
}

// StorageName returns the name of the storage backend in use
func (m *TokenManager) StorageName() string {
	return m.storage.Name()
}

// Profile returns the profile this manager operates on
func (m *TokenManager) Profile() string {
	return m.profile
}
