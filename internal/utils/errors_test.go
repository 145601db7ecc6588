package utils

import (
	"fmt"
	"testing"
)

func TestErrorBuilder(t *testing.T) {
	cliErr := NewCLIError(ErrCodeTransferFailed, "upload failed").
		WithHTTPStatus(503).
		WithRetryable(true).
		WithContext("path", "docs/big.bin").
		Build()

	if cliErr.Code != ErrCodeTransferFailed || cliErr.HTTPStatus != 503 || !cliErr.Retryable {
		t.Errorf("built error = %+v", cliErr)
	}
	if cliErr.Context["path"] != "docs/big.bin" {
		t.Errorf("context = %v", cliErr.Context)
	}
}

func TestErrorCodeExtraction(t *testing.T) {
	appErr := NewAppError(NewCLIError(ErrCodeIndexCorrupt, "two paths claim one id").Build())

	if !IsCode(appErr, ErrCodeIndexCorrupt) {
		t.Error("IsCode missed a direct AppError")
	}

	wrapped := fmt.Errorf("sync pass: %w", appErr)
	if !IsCode(wrapped, ErrCodeIndexCorrupt) {
		t.Error("IsCode missed a wrapped AppError")
	}

	if ErrorCode(fmt.Errorf("plain")) != ErrCodeUnknown {
		t.Error("plain errors should report UNKNOWN")
	}
	if IsCode(nil, ErrCodeIndexCorrupt) {
		t.Error("nil is not an error with a code")
	}
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeAuthRequired, ExitAuthRequired},
		{ErrCodeSyncInProgress, ExitSyncInProgress},
		{ErrCodeConflictUnresolved, ExitConflictUnresolved},
		{ErrCodeIndexCorrupt, ExitIndexCorrupt},
		{ErrCodeTransferFailed, ExitTransferFailed},
		{ErrCodeRateLimited, ExitRateLimited},
		{ErrCodeChangeTracking, ExitNetworkError},
		{"SOMETHING_NEW", ExitUnknown},
	}
	for _, tt := range tests {
		if got := GetExitCode(tt.code); got != tt.want {
			t.Errorf("GetExitCode(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
