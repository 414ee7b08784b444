package hcloud

import (
	"context"
	"errors"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/stackctl/internal/util/retry"
)

// transientCodes are API errors that go away on their own.
var transientCodes = []hcloud.ErrorCode{
	hcloud.ErrorCodeRateLimitExceeded,
	hcloud.ErrorCodeLocked,         // Item is locked (action running)
	hcloud.ErrorCodeConflict,       // Resource changed during request
	hcloud.ErrorCodeResourceLocked, // Resource locked (contact support)
	hcloud.ErrorCodeResourceUnavailable,
	hcloud.ErrorCodeServiceError,
	hcloud.ErrorCodeMaintenance,
	hcloud.ErrorCode("timeout"),
}

// Classify maps an error from the Hetzner Cloud API to a retry outcome.
//
// Rate limits, locks, conflicts and server-side errors are transient. Any
// other API error code (invalid input, uniqueness, forbidden, limits) is
// permanent. Errors that never reached the API, such as connection resets,
// are transient. Errors already marked by retry.Permanent or retry.Transient
// keep their marking.
func Classify(err error) retry.Outcome {
	switch {
	case err == nil:
		return retry.Success
	case retry.IsTransient(err):
		return retry.TransientFailure
	case retry.IsPermanent(err), errors.Is(err, context.Canceled):
		return retry.PermanentFailure
	case isHCloudErrorCode(err, transientCodes...):
		return retry.TransientFailure
	}

	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		return retry.PermanentFailure
	}
	return retry.TransientFailure
}

// isHCloudErrorCode checks if the error is an hcloud API error with one of the given codes.
func isHCloudErrorCode(err error, codes ...hcloud.ErrorCode) bool {
	if err == nil {
		return false
	}

	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		for _, code := range codes {
			if hcloudErr.Code == code {
				return true
			}
		}
	}
	return false
}

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	return isHCloudErrorCode(err, hcloud.ErrorCodeNotFound)
}
