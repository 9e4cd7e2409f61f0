package autochecks

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/davio/pkg/davclient"
)

const largeSize = 10 << 20

// CheckLargeWrite streams a 10 MiB file up and back down.
func CheckLargeWrite(ctx context.Context, t Target) (retErr error) {
	const name = "Large write"
	c := t.Client
	fpath := path.Join(t.Base, "largefile.largewrite")
	data := payload(largeSize, 3)
	defer func() { _ = c.Delete(ctx, fpath) }()

	var events int
	var last davclient.Progress
	if err := step(name, "writeChunks", func() error {
		return c.UploadFrom(ctx, bytesReader(data), int64(len(data)), fpath,
			davclient.WithProgress(func(p davclient.Progress) { events++; last = p }))
	}); err != nil {
		return err
	}
	if last.Transferred != largeSize {
		return fmt.Errorf("progress ended at %s after %d events", humanize.IBytes(uint64(last.Transferred)), events)
	}

	// some servers finalise large uploads asynchronously
	retries := 5
	if err := step(name, "stat", func() error {
		for {
			rp, err := c.Info(ctx, fpath)
			if err != nil {
				return err
			}
			if rp.Size != nil && *rp.Size == largeSize {
				return nil
			}
			if retries == 0 {
				return fmt.Errorf("size still %v after 5 retries", rp.Size)
			}
			retries--
			time.Sleep(500 * time.Millisecond)
		}
	}); err != nil {
		return err
	}

	if err := step(name, "readBack", func() error {
		got, err := download(ctx, c, fpath)
		if err != nil {
			return err
		}
		return sameBytes(fpath, got, data)
	}); err != nil {
		return err
	}

	return step(name, "peerStat", func() error {
		fi, err := t.Peer.Stat(fpath)
		if err != nil {
			return err
		}
		if fi.Size() != largeSize {
			return fmt.Errorf("peer sees %d bytes", fi.Size())
		}
		return nil
	})
}
