package interfaces

import (
	"context"
	"io"

	"github.com/davio/pkg/davclient"
)

// Remote is what the command line needs from a WebDAV session.
// *davclient.Client implements it; tests substitute their own.
type Remote interface {
	// Metadata and directory listing
	List(ctx context.Context, path string) ([]davclient.ResourceProperty, error)
	Info(ctx context.Context, path string) (davclient.ResourceProperty, error)
	Exists(ctx context.Context, path string) (bool, error)
	FreeSpace(ctx context.Context) (davclient.Quota, error)

	// Collections and moves
	Mkdir(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	Move(ctx context.Context, src, dst string, overwrite bool) error
	Copy(ctx context.Context, src, dst string, overwrite bool) error

	// Transfers
	Upload(ctx context.Context, local, remote string, opts ...davclient.TransferOption) error
	Download(ctx context.Context, remote, local string, opts ...davclient.TransferOption) error
	UploadFrom(ctx context.Context, r io.Reader, size int64, remote string, opts ...davclient.TransferOption) error
	DownloadTo(ctx context.Context, remote string, w io.Writer, opts ...davclient.TransferOption) (int64, error)

	// Properties
	GetProperty(ctx context.Context, path string, name davclient.PropName) (string, bool, error)
	SetProperty(ctx context.Context, path string, name davclient.PropName, value string) error
	Publish(ctx context.Context, path string) (string, error)
	Unpublish(ctx context.Context, path string) error

	Close() error
}

var _ Remote = (*davclient.Client)(nil)
