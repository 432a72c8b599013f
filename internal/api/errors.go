package api

import (
	"context"
	"errors"
	"net/http"

	"liveattend/internal/common"
)

// Error codes carried in error responses.
const (
	CodeConflict           = "conflict"
	CodeNotFound           = "not_found"
	CodeValidation         = "validation"
	CodeDuplicate          = "duplicate"
	CodeInactiveSession    = "inactive_session"
	CodeVerificationFailed = "verification_failed"
	CodeStoreUnavailable   = "store_unavailable"
	CodeCancelled          = "cancelled"
	CodeTimeout            = "timeout"
	CodeInternal           = "internal"
)

// statusClientClosed is used when the caller went away before the reply.
const statusClientClosed = 499

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{common.ErrValidation, http.StatusBadRequest, CodeValidation},
	{common.ErrVerificationFailed, http.StatusUnprocessableEntity, CodeVerificationFailed},
	{common.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{common.ErrInactiveSession, http.StatusGone, CodeInactiveSession},
	{common.ErrConflict, http.StatusConflict, CodeConflict},
	{common.ErrDuplicate, http.StatusConflict, CodeDuplicate},
	{common.ErrStoreUnavailable, http.StatusServiceUnavailable, CodeStoreUnavailable},
	{context.Canceled, statusClientClosed, CodeCancelled},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
}

// StatusFor maps a coordinator error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// ErrorForCode returns the sentinel behind an error code, or nil for codes
// without one.
func ErrorForCode(code string) error {
	for _, e := range errorTable {
		if e.code == code {
			return e.err
		}
	}
	return nil
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
