package webdav

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davio/internal/core/urn"
)

var (
	ErrInvalidPath          = urn.ErrInvalidPath
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrConflict             = errors.New("conflict")
	ErrAlreadyExists        = errors.New("resource already exists")
	ErrLocked               = errors.New("resource locked")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrTransfer             = errors.New("transfer failed")
	ErrCancelled            = errors.New("cancelled")
	ErrServer               = errors.New("server error")
	ErrInsufficientStorage  = errors.New("insufficient storage")
	ErrNotSupported         = errors.New("not supported by server")
	ErrNetwork              = errors.New("network failure")
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 4 << 10

// StatusError is a non-2xx response. It matches the sentinel errors of its
// class through errors.Is.
type StatusError struct {
	Op   string
	Path string
	Code int
	Body []byte

	kinds []error
}

func NewStatusError(op, path string, code int, body []byte) *StatusError {
	return &StatusError{Op: op, Path: path, Code: code, Body: body, kinds: Classify(op, code)}
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %v (status %d %s)", e.Op, e.Path, e.kinds[0], e.Code, http.StatusText(e.Code))
	if body := strings.TrimSpace(string(e.Body)); body != "" && len(body) < 256 {
		msg += ": " + body
	}
	return msg
}

func (e *StatusError) Unwrap() []error { return e.kinds }

// Retryable reports whether the caller may try the operation again later.
func (e *StatusError) Retryable() bool {
	return e.Code == StatusLocked || e.Code == http.StatusServiceUnavailable || e.Code == http.StatusTooManyRequests
}

// Classify maps a status code for the given method onto the error taxonomy,
// most specific sentinel first.
func Classify(op string, code int) []error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return []error{ErrAuthenticationFailed}
	case code == http.StatusNotFound:
		return []error{ErrResourceNotFound}
	case code == http.StatusMethodNotAllowed && op == MKCOL:
		// RFC 4918 9.3.1: MKCOL on an existing resource
		return []error{ErrAlreadyExists, ErrConflict}
	case code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented:
		return []error{ErrNotSupported, ErrServer}
	case code == http.StatusConflict || code == http.StatusPreconditionFailed:
		return []error{ErrConflict}
	case code == StatusLocked:
		return []error{ErrLocked, ErrConflict}
	case code == StatusInsufficientStorage:
		return []error{ErrInsufficientStorage, ErrServer}
	default:
		return []error{ErrServer}
	}
}

// CheckStatus returns nil for 2xx responses. Otherwise it drains a bounded
// part of the body into a *StatusError and closes it.
func CheckStatus(op string, path urn.Urn, resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
	}
	return NewStatusError(op, path.String(), resp.StatusCode, body)
}

// TransferError is a failure in the middle of a streamed body. Offset is the
// number of bytes that reached their destination, usable to resume.
type TransferError struct {
	Op     string
	Path   string
	Offset int64
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: transfer failed at offset %d: %v", e.Op, e.Path, e.Offset, e.Err)
}

func (e *TransferError) Unwrap() []error { return []error{ErrTransfer, e.Err} }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
