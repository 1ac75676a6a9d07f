package storageapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nucleus/ucl-loader/pkg/loader"
)

const (
	CodeInvalidConfig    = "E_INVALID_CONFIG"
	CodeUnreachable      = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid      = "E_AUTH_INVALID"
	CodePermissionDenied = "E_PERMISSION_DENIED"
	CodeNotFound         = "E_NOT_FOUND"
	CodeRateLimited      = "E_RATE_LIMITED"
	CodeServerError      = "E_SERVER_ERROR"
	CodeRequestRejected  = "E_REQUEST_REJECTED"
	CodeBadResponse      = "E_BAD_RESPONSE"
)

// Error is a Storage API failure with retryability hints. 403 and 404
// responses match loader.ErrPermissionDenied and loader.ErrNotFound.
type Error struct {
	Code       string
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

func (e *Error) Is(target error) bool {
	switch target {
	case loader.ErrNotFound:
		return e.Code == CodeNotFound
	case loader.ErrPermissionDenied:
		return e.Code == CodePermissionDenied
	}
	return false
}

func wrapError(code string, retryable bool, status int, err error) *Error {
	return &Error{Code: code, Retryable: retryable, StatusCode: status, Err: err}
}

// apiError is the error body the storage service returns.
type apiError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func classifyStatus(status int, body []byte) *Error {
	msg := string(body)
	var parsed apiError
	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.Error != "":
			msg = parsed.Error
		case parsed.Message != "":
			msg = parsed.Message
		}
	}
	err := fmt.Errorf("HTTP %d: %s", status, msg)

	switch {
	case status == http.StatusUnauthorized:
		return wrapError(CodeAuthInvalid, false, status, err)
	case status == http.StatusForbidden:
		return wrapError(CodePermissionDenied, false, status, err)
	case status == http.StatusNotFound:
		return wrapError(CodeNotFound, false, status, err)
	case status == http.StatusTooManyRequests:
		return wrapError(CodeRateLimited, true, status, err)
	case status >= 500:
		return wrapError(CodeServerError, true, status, err)
	}
	return wrapError(CodeRequestRejected, false, status, err)
}

func isRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

func isRateLimited(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == CodeRateLimited
}
