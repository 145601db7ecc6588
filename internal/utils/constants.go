package utils

import "time"

// Transfer thresholds (binary units)
const (
	// Files at or below this size go up in a single multipart request;
	// anything larger uses a resumable session.
	UploadSimpleMaxBytes = 5 * 1024 * 1024 // 5 MiB

	// Resumable chunk size. The upload endpoint requires multiples of
	// 256 KiB for all chunks except the last.
	UploadChunkBytes = 256 * 1024
)

// Drive API base URLs
const (
	DriveAPIBase    = "https://www.googleapis.com/drive/v3"
	DriveUploadBase = "https://www.googleapis.com/upload/drive/v3"
)

// MimeTypeFolder is the Drive folder mime type
const MimeTypeFolder = "application/vnd.google-apps.folder"

// OAuth scopes
const (
	ScopeFull = "https://www.googleapis.com/auth/drive"
	ScopeFile = "https://www.googleapis.com/auth/drive.file"
)

// Retry configuration
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Change-tracking behavior
const (
	// Cursors older than this are discarded and re-bootstrapped.
	CursorMaxAge = 7 * 24 * time.Hour

	// Hard cap on pages consumed in a single poll before forcing a
	// fresh bootstrap instead of looping.
	ChangePageCap = 100

	// Bootstrapping more than BootstrapThrashCount times inside
	// BootstrapThrashWindow means we should not also pay for a full
	// listing this pass.
	BootstrapThrashCount  = 2
	BootstrapThrashWindow = 15 * time.Minute

	// A full listing within this window suppresses another one.
	FullListingCooldown = time.Hour

	// Consecutive tracker failures before change tracking is disabled
	// persistently.
	TrackerFailureLimit = 3
)

// DefaultTransferConcurrency bounds parallel uploads/downloads per phase
const DefaultTransferConcurrency = 3
