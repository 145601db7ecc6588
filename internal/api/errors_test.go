package api

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/drivevault/drivevault/internal/utils"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"bad request", &googleapi.Error{Code: 400, Message: "bad"}, utils.ErrCodeInvalidArgument},
		{"unauthorized", &googleapi.Error{Code: 401, Message: "token"}, utils.ErrCodeAuthExpired},
		{"forbidden", &googleapi.Error{Code: 403, Message: "nope"}, utils.ErrCodePermissionDenied},
		{
			"rate limit disguised as 403",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}},
			utils.ErrCodeRateLimited,
		},
		{"not found", &googleapi.Error{Code: 404, Message: "gone"}, utils.ErrCodeFileNotFound},
		{"too many requests", &googleapi.Error{Code: 429}, utils.ErrCodeRateLimited},
		{"server error", &googleapi.Error{Code: 503}, utils.ErrCodeNetworkError},
		{"plain transport error", fmt.Errorf("connection reset"), utils.ErrCodeNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if !utils.IsCode(got, tt.wantCode) {
				t.Errorf("ClassifyError(%v) = %v, want code %s", tt.err, got, tt.wantCode)
			}
		})
	}
}

func TestClassifyErrorPassesInvalidPageTokenThrough(t *testing.T) {
	got := ClassifyError(fmt.Errorf("listing changes: %w", ErrInvalidPageToken))
	if !errors.Is(got, ErrInvalidPageToken) {
		t.Errorf("ClassifyError() = %v, want the sentinel preserved", got)
	}
}

func TestIsRetryable(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryable(&googleapi.Error{Code: code}) {
			t.Errorf("IsRetryable(%d) = false", code)
		}
	}
	for _, code := range []int{400, 401, 403, 404} {
		if IsRetryable(&googleapi.Error{Code: code}) {
			t.Errorf("IsRetryable(%d) = true", code)
		}
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are not retryable at this layer")
	}
}

func TestIsInvalidPageToken(t *testing.T) {
	structured := &googleapi.Error{
		Code:   404,
		Errors: []googleapi.ErrorItem{{Reason: "invalid", Message: "Invalid Value for: pageToken"}},
	}
	if !IsInvalidPageToken(structured) {
		t.Error("structured pageToken rejection not recognized")
	}

	unrelated := &googleapi.Error{
		Code:   404,
		Errors: []googleapi.ErrorItem{{Reason: "invalid", Message: "Invalid Value for: fields"}},
	}
	if IsInvalidPageToken(unrelated) {
		t.Error("a 404 about another field is not a token rejection")
	}

	bare400 := &googleapi.Error{Code: 400}
	if !IsInvalidPageToken(bare400) {
		t.Error("bare 400 on the changes feed should count as a token rejection")
	}

	if IsInvalidPageToken(&googleapi.Error{Code: 404}) {
		t.Error("plain 404 is not a token rejection")
	}
	if IsInvalidPageToken(fmt.Errorf("other")) {
		t.Error("non-API error is not a token rejection")
	}
}
