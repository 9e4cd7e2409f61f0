package autochecks

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// CheckConcurrentTransfers uploads files from several goroutines on one
// session, then pulls the whole tree back with DownloadDir.
func CheckConcurrentTransfers(ctx context.Context, t Target) error {
	const (
		name = "Concurrent"
		n    = 8
	)
	c := t.Client
	dir := path.Join(t.Base, "stream")
	defer func() { _ = c.Delete(ctx, dir) }()

	if err := step(name, "mkdir", func() error { return c.Mkdir(ctx, dir) }); err != nil {
		return err
	}

	files := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		files[fmt.Sprintf("x%02d.bin", i)] = payload(64<<10+i*1000, byte(i))
	}

	if err := step(name, "parallelUpload", func() error {
		eg, ctx := errgroup.WithContext(ctx)
		for fname, data := range files {
			eg.Go(func() error { return upload(ctx, c, path.Join(dir, fname), data) })
		}
		return eg.Wait()
	}); err != nil {
		return err
	}

	if err := step(name, "list", func() error {
		entries, err := c.List(ctx, dir)
		if err != nil {
			return err
		}
		if len(entries) != n {
			return fmt.Errorf("listed %d entries, expected %d", len(entries), n)
		}
		return nil
	}); err != nil {
		return err
	}

	local, err := os.MkdirTemp("", "davio-check-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(local)

	return step(name, "downloadDir", func() error {
		if err := c.DownloadDir(ctx, dir, local); err != nil {
			return err
		}
		for fname, want := range files {
			got, err := os.ReadFile(filepath.Join(local, fname))
			if err != nil {
				return err
			}
			if err := sameBytes(fname, got, want); err != nil {
				return err
			}
		}
		return nil
	})
}
