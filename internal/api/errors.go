package api

import (
	"errors"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/drivevault/drivevault/internal/utils"
)

// ErrInvalidPageToken marks a changes cursor the API refused to accept.
// The tracker distinguishes this from transport failures.
var ErrInvalidPageToken = errors.New("invalid page token")

// ClassifyError converts Drive API errors into stable-coded errors
func ClassifyError(err error) error {
	if errors.Is(err, ErrInvalidPageToken) {
		return err
	}
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeNetworkError, err.Error()).
			WithRetryable(true).
			Build())
	}

	var code string
	var retryable bool

	switch apiErr.Code {
	case 400:
		code = utils.ErrCodeInvalidArgument
	case 401:
		code = utils.ErrCodeAuthExpired
	case 403:
		code = utils.ErrCodePermissionDenied
		for _, e := range apiErr.Errors {
			switch e.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded":
				code = utils.ErrCodeRateLimited
				retryable = true
			}
		}
	case 404:
		code = utils.ErrCodeFileNotFound
	case 429:
		code = utils.ErrCodeRateLimited
		retryable = true
	case 500, 502, 503, 504:
		code = utils.ErrCodeNetworkError
		retryable = true
	default:
		code = utils.ErrCodeUnknown
	}

	return utils.NewAppError(utils.NewCLIError(code, apiErr.Message).
		WithHTTPStatus(apiErr.Code).
		WithRetryable(retryable).
		Build())
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	if apiErr, ok := err.(*googleapi.Error); ok {
		return apiErr.Code == 404
	}
	return utils.IsCode(err, utils.ErrCodeFileNotFound)
}

// IsInvalidPageToken reports whether err is the Drive API rejecting a
// changes-feed page token
func IsInvalidPageToken(err error) bool {
	if apiErr, ok := err.(*googleapi.Error); ok {
		if apiErr.Code != 400 && apiErr.Code != 404 {
			return false
		}
		for _, e := range apiErr.Errors {
			if e.Reason == "invalid" && strings.Contains(e.Message, "pageToken") {
				return true
			}
		}
		// Some rejections come back without a structured reason
		return apiErr.Code == 400
	}
	return false
}
