package types

import "time"

// AuthType identifies how credentials were obtained
const (
	AuthTypeOAuth = "oauth"
)

// Credentials holds OAuth2 tokens for the Drive API
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiryDate   time.Time
	Scopes       []string
	Type         string
}

// StoredCredentials is the serialized form kept in the credential store
type StoredCredentials struct {
	Profile      string   `json:"profile"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiryDate   string   `json:"expiryDate"`
	Scopes       []string `json:"scopes"`
	Type         string   `json:"type"`
}

// RequestType categorizes API operations for logging
type RequestType string

const (
	RequestTypeListing  RequestType = "listing"
	RequestTypeChanges  RequestType = "changes"
	RequestTypeTransfer RequestType = "transfer"
	RequestTypeMetadata RequestType = "metadata"
)

// RequestContext carries per-request metadata through the API layer
type RequestContext struct {
	Profile     string
	RequestType RequestType
	TraceID     string
}

// CLIError is the stable, machine-readable error shape
type CLIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"httpStatus,omitempty"`
	Retryable  bool                   `json:"retryable,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}
