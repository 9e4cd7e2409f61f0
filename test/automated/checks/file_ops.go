package autochecks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/davio/pkg/davclient"
)

// CheckFileOps covers mkdir, upload, stat, rename, move, copy and delete.
func CheckFileOps(ctx context.Context, t Target) (retErr error) {
	const name = "File operations"
	c := t.Client
	dir := path.Join(t.Base, "ops")
	f := path.Join(dir, "basic.create")
	data := []byte("hello world\n")

	start := time.Now()
	log.Printf("[CheckFileOps] start base=%s", t.Base)
	defer func() {
		_ = c.Delete(ctx, dir)
		log.Printf("[CheckFileOps] finished (total elapsed=%s) err=%v", time.Since(start), retErr)
	}()

	if err := step(name, "makeDir", func() error {
		return c.MkdirAll(ctx, path.Join(dir, "nested", "deeper"))
	}); err != nil {
		return err
	}

	if err := step(name, "upload", func() error { return upload(ctx, c, f, data) }); err != nil {
		return err
	}

	if err := step(name, "statCheck", func() error {
		rp, err := c.Info(ctx, f)
		if err != nil {
			return err
		}
		if rp.IsCollection || rp.Size == nil || *rp.Size != uint64(len(data)) {
			return fmt.Errorf("unexpected properties %+v", rp)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := step(name, "peerRead", func() error {
		got, err := t.Peer.Read(f)
		if err != nil {
			return err
		}
		return sameBytes(f, got, data)
	}); err != nil {
		return err
	}

	renamed := path.Join(dir, "basic.renamed")
	if err := step(name, "rename", func() error {
		return c.Rename(ctx, f, "basic.renamed")
	}); err != nil {
		return err
	}

	moved := path.Join(dir, "nested", "basic.renamed")
	if err := step(name, "moveIntoDir", func() error {
		return c.Move(ctx, renamed, moved, false)
	}); err != nil {
		return err
	}

	if err := step(name, "copy", func() error {
		if err := c.Copy(ctx, moved, renamed, false); err != nil {
			return err
		}
		err := c.Copy(ctx, moved, renamed, false)
		if !errors.Is(err, davclient.ErrConflict) {
			return fmt.Errorf("copy onto existing target without overwrite: %v", err)
		}
		return nil
	}); err != nil {
		return err
	}

	return step(name, "cleanupRemove", func() error {
		if err := c.Delete(ctx, renamed); err != nil {
			return err
		}
		ok, err := c.Exists(ctx, renamed)
		if err != nil {
			return err
		}
		if ok {
			return errors.New("deleted resource still exists")
		}
		return nil
	})
}
