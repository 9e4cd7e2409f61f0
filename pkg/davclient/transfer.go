package davclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/davio/internal/core/urn"
)

// Upload copies the local file or directory at local to remote. Directories
// go through UploadDir.
func (c *Client) Upload(ctx context.Context, local, remote string, opts ...TransferOption) error {
	fi, err := os.Stat(local)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return c.UploadDir(ctx, local, remote, opts...)
	}
	u, err := urn.Normalize(remote)
	if err != nil {
		return err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.uploadFile(ctx, local, u, collect(opts))
}

func (c *Client) uploadFile(ctx context.Context, local string, u urn.Urn, o transferOptions) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	return c.upload(ctx, f, fi.Size(), u, o)
}

// UploadFrom streams size bytes of r to remote; size is -1 when unknown.
func (c *Client) UploadFrom(ctx context.Context, r io.Reader, size int64, remote string, opts ...TransferOption) error {
	u, err := urn.Normalize(remote)
	if err != nil {
		return err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.upload(ctx, r, size, u, collect(opts))
}

func (c *Client) upload(ctx context.Context, r io.Reader, size int64, u urn.Urn, o transferOptions) error {
	if !o.overwrite {
		_, err := c.info(ctx, u)
		if err == nil {
			return fmt.Errorf("%s: %w", u, ErrAlreadyExists)
		}
		if !errors.Is(err, ErrResourceNotFound) {
			return err
		}
	}
	c.log.Debug().Str("path", u.String()).Int64("size", size).Msg("upload")
	return c.engine.Upload(ctx, u, r, size, o.engine())
}

// Download copies the remote file or collection at remote to local. With
// WithResume an existing local file is extended rather than replaced.
func (c *Client) Download(ctx context.Context, remote, local string, opts ...TransferOption) error {
	u, err := urn.Normalize(remote)
	if err != nil {
		return err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	rp, err := c.info(ctx, u)
	if err != nil {
		return err
	}
	o := collect(opts)
	if rp.IsCollection {
		return c.downloadDir(ctx, rp.Path, local, o)
	}
	return c.downloadFile(ctx, rp, local, o)
}

func (c *Client) downloadFile(ctx context.Context, rp ResourceProperty, local string, o transferOptions) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	var offset int64
	if o.resume {
		if fi, err := os.Stat(local); err == nil && fi.Mode().IsRegular() {
			offset = fi.Size()
		}
		if rp.Size != nil && uint64(offset) > *rp.Size {
			offset = 0 // local copy is not a prefix of this file
		}
		if offset > 0 {
			flags = os.O_WRONLY | os.O_APPEND
		}
	}
	if rp.Size != nil && offset > 0 && uint64(offset) == *rp.Size {
		c.log.Debug().Str("path", rp.Path.String()).Msg("already complete")
		return nil
	}

	f, err := os.OpenFile(local, flags, 0o644)
	if err != nil {
		return err
	}
	_, err = c.engine.Download(ctx, rp.Path, f, offset, o.engine())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// DownloadTo streams the remote file into w and returns the bytes written.
func (c *Client) DownloadTo(ctx context.Context, remote string, w io.Writer, opts ...TransferOption) (int64, error) {
	u, err := urn.Normalize(remote)
	if err != nil {
		return 0, err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	return c.engine.Download(ctx, u, w, 0, collect(opts).engine())
}
