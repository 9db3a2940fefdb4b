package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Error codes the object stores use for throttling and server trouble.
var transientCodes = map[string]bool{
	"SlowDown":             true,
	"RequestTimeout":       true,
	"RequestTimeTooSkewed": true,
	"InternalError":        true,
	"ServiceUnavailable":   true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"RequestLimitExceeded": true,
}

func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func isNotFound(err error) bool {
	if isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// translateError maps SDK errors onto io/fs sentinels while keeping the SDK
// error in the chain.
func translateError(err error, operation, uri string) error {
	if err == nil {
		return nil
	}

	var sentinel error
	switch {
	case isErrorType[*s3types.NoSuchBucket](err):
		sentinel = fs.ErrNotExist
	case isNotFound(err):
		sentinel = fs.ErrNotExist
	case statusCode(err) == 403:
		sentinel = fs.ErrPermission
	}
	if sentinel == nil {
		return fmt.Errorf("%s %s: %w", operation, uri, err)
	}
	return fmt.Errorf("%s %s: %w: %w", operation, uri, sentinel, err)
}

func statusCode(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

// IsTransient reports whether err is throttling, a server fault or a
// network failure.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrExist), errors.Is(err, fs.ErrPermission):
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case isErrorType[*retry.MaxAttemptsError](err):
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && transientCodes[apiErr.ErrorCode()] {
		return true
	}
	if code := statusCode(err); code == 429 || code >= 500 {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
