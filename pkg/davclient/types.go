package davclient

import (
	"github.com/davio/internal/core/transfer"
	"github.com/davio/internal/core/transport"
	"github.com/davio/internal/core/webdav"
)

type (
	ResourceProperty = webdav.ResourceProperty
	PropName         = webdav.PropName
	Request          = webdav.Request
	Response         = webdav.Response
	StatusError      = webdav.StatusError
	TransferError    = webdav.TransferError

	Progress     = transfer.Progress
	ProgressFunc = transfer.ProgressFunc
	CancelToken  = transfer.CancelToken

	Executor = transport.Executor
)

var (
	NewCancelToken = transfer.NewCancelToken
	DAVProp        = webdav.DAVProp
)

var (
	ErrInvalidPath          = webdav.ErrInvalidPath
	ErrAuthenticationFailed = webdav.ErrAuthenticationFailed
	ErrResourceNotFound     = webdav.ErrResourceNotFound
	ErrConflict             = webdav.ErrConflict
	ErrAlreadyExists        = webdav.ErrAlreadyExists
	ErrLocked               = webdav.ErrLocked
	ErrMalformedResponse    = webdav.ErrMalformedResponse
	ErrTransfer             = webdav.ErrTransfer
	ErrCancelled            = webdav.ErrCancelled
	ErrServer               = webdav.ErrServer
	ErrInsufficientStorage  = webdav.ErrInsufficientStorage
	ErrNotSupported         = webdav.ErrNotSupported
	ErrNetwork              = webdav.ErrNetwork
)

// Quota is the server's storage report; nil fields were not reported.
type Quota struct {
	Available *uint64
	Used      *uint64
}

// Total is Available+Used when both are known.
func (q Quota) Total() (uint64, bool) {
	if q.Available == nil || q.Used == nil {
		return 0, false
	}
	return *q.Available + *q.Used, true
}

type transferOptions struct {
	progress  ProgressFunc
	cancel    *CancelToken
	resume    bool
	overwrite bool
}

// TransferOption tunes Upload and Download.
type TransferOption func(*transferOptions)

func WithProgress(fn ProgressFunc) TransferOption {
	return func(o *transferOptions) { o.progress = fn }
}

func WithCancel(token *CancelToken) TransferOption {
	return func(o *transferOptions) { o.cancel = token }
}

// WithResume makes Download append to an existing local file, fetching
// only the missing tail.
func WithResume() TransferOption {
	return func(o *transferOptions) { o.resume = true }
}

// WithOverwrite controls whether Upload replaces an existing remote file.
// It does by default.
func WithOverwrite(overwrite bool) TransferOption {
	return func(o *transferOptions) { o.overwrite = overwrite }
}

func collect(opts []TransferOption) transferOptions {
	o := transferOptions{overwrite: true}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o transferOptions) engine() transfer.Options {
	return transfer.Options{Progress: o.progress, Cancel: o.cancel}
}
