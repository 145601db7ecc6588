package utils

import (
	"errors"
	"fmt"

	"github.com/drivevault/drivevault/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Auth errors (10-19)
	ExitAuthRequired = 10
	ExitAuthExpired  = 11
	// Sync errors (20-29)
	ExitSyncInProgress     = 20
	ExitConflictUnresolved = 21
	ExitIndexCorrupt       = 22
	ExitPartialFailure     = 23
	// Network errors (30-39)
	ExitNetworkError   = 30
	ExitRateLimited    = 31
	ExitTransferFailed = 32
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitFileNotFound    = 41
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeAuthRequired       = "AUTH_REQUIRED"
	ErrCodeAuthExpired        = "AUTH_EXPIRED"
	ErrCodeSyncInProgress     = "SYNC_IN_PROGRESS"
	ErrCodeConflictUnresolved = "CONFLICT_UNRESOLVED"
	ErrCodeIndexCorrupt       = "INDEX_CORRUPT"
	ErrCodeChangeTracking     = "CHANGE_TRACKING_UNAVAILABLE"
	ErrCodeTransferFailed     = "TRANSFER_FAILED"
	ErrCodeNetworkError       = "NETWORK_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeFileNotFound       = "FILE_NOT_FOUND"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeUnknown            = "UNKNOWN"
)

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithHTTPStatus(status int) *CLIErrorBuilder {
	b.err.HTTPStatus = status
	return b
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	mapping := map[string]int{
		ErrCodeAuthRequired:       ExitAuthRequired,
		ErrCodeAuthExpired:        ExitAuthExpired,
		ErrCodeSyncInProgress:     ExitSyncInProgress,
		ErrCodeConflictUnresolved: ExitConflictUnresolved,
		ErrCodeIndexCorrupt:       ExitIndexCorrupt,
		ErrCodeChangeTracking:     ExitNetworkError,
		ErrCodeTransferFailed:     ExitTransferFailed,
		ErrCodeNetworkError:       ExitNetworkError,
		ErrCodeRateLimited:        ExitRateLimited,
		ErrCodeFileNotFound:       ExitFileNotFound,
		ErrCodeInvalidArgument:    ExitInvalidArgument,
	}
	if code, ok := mapping[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}

// ErrorCode extracts the stable code from any error, or UNKNOWN
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.Code
	}
	return ErrCodeUnknown
}

// IsCode reports whether err carries the given stable error code
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
