package davclient

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/davio/internal/core/transfer"
	"github.com/davio/internal/core/urn"
)

// UploadDir copies the local directory tree at local into the remote
// collection remote, creating collections as needed. Files are sent by up
// to Config.Parallel workers. Nothing on either side is deleted; without
// WithOverwrite(false) existing remote files are replaced, with it they
// are skipped.
func (c *Client) UploadDir(ctx context.Context, local, remote string, opts ...TransferOption) error {
	root, err := urn.Normalize(remote)
	if err != nil {
		return err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	type job struct {
		path string
		dst  urn.Urn
		size int64
	}
	var (
		dirs  = []urn.Urn{root.AsCollection()}
		jobs  []job
		total int64
	)
	err = filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst, err := urn.Join(root, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			dirs = append(dirs, dst.AsCollection())
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			jobs = append(jobs, job{path: p, dst: dst, size: fi.Size()})
			total += fi.Size()
		default:
			c.log.Debug().Str("path", p).Msg("skipping non-regular file")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := c.mkdirAll(ctx, dirs[0]); err != nil {
		return err
	}
	for _, d := range dirs[1:] {
		err := c.run(ctx, c.builder.Mkdir(d), d)
		if err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	}

	o := collect(opts)
	agg := newAggregate(o.progress, total)
	start := time.Now()

	eg, subctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.parallel)
	for i, j := range jobs {
		fo := o
		fo.progress = agg.file(i)
		eg.Go(func() error {
			err := c.uploadFile(subctx, j.path, j.dst, fo)
			if errors.Is(err, ErrAlreadyExists) && !o.overwrite {
				c.log.Debug().Str("path", j.dst.String()).Msg("exists, skipped")
				return nil
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	c.log.Info().
		Int("files", len(jobs)).
		Str("bytes", humanize.IBytes(uint64(total))).
		Dur("elapsed", time.Since(start)).
		Msg("directory uploaded")
	return nil
}

// DownloadDir copies the remote collection tree at remote into the local
// directory local. Local files not on the server are left in place.
func (c *Client) DownloadDir(ctx context.Context, remote, local string, opts ...TransferOption) error {
	root, err := urn.Normalize(remote)
	if err != nil {
		return err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.downloadDir(ctx, root.AsCollection(), local, collect(opts))
}

func (c *Client) downloadDir(ctx context.Context, root urn.Urn, local string, o transferOptions) error {
	var (
		files []ResourceProperty
		total int64
	)
	queue := []urn.Urn{root}
	seen := map[string]bool{root.Path(): true}
	for len(queue) > 0 {
		if err := transfer.Interrupted(ctx, o.cancel); err != nil {
			return err
		}
		dir := queue[0]
		queue = queue[1:]
		if err := os.MkdirAll(localPath(local, root, dir), 0o755); err != nil {
			return err
		}
		members, err := c.list(ctx, dir)
		if err != nil {
			return err
		}
		for _, m := range members {
			// servers may list ancestors or unrelated paths; stay inside dir
			if urn.Equal(m.Path, dir) || !urn.MatchesPrefix(dir, m.Path) || seen[m.Path.Path()] {
				c.log.Debug().Str("path", m.Path.String()).Msg("skipping listed entry outside tree")
				continue
			}
			seen[m.Path.Path()] = true
			if m.IsCollection {
				queue = append(queue, m.Path)
				continue
			}
			files = append(files, m)
			if total >= 0 && m.Size != nil {
				total += int64(*m.Size)
			} else {
				total = -1
			}
		}
	}

	agg := newAggregate(o.progress, total)
	start := time.Now()

	eg, subctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.parallel)
	for i, f := range files {
		fo := o
		fo.progress = agg.file(i)
		eg.Go(func() error {
			return c.downloadFile(subctx, f, localPath(local, root, f.Path), fo)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	c.log.Info().
		Int("files", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("directory downloaded")
	return nil
}

func localPath(local string, root, u urn.Urn) string {
	rel, ok := u.Rel(root)
	if !ok || rel.IsRoot() {
		return local
	}
	return filepath.Join(append([]string{local}, rel.Segments()...)...)
}

// aggregate folds per-file progress of a tree transfer into one stream.
// The observer is called under a lock, from whichever worker advanced.
type aggregate struct {
	mu    sync.Mutex
	fn    ProgressFunc
	total int64
	sum   int64
	last  map[int]int64
}

func newAggregate(fn ProgressFunc, total int64) *aggregate {
	return &aggregate{fn: fn, total: total, last: make(map[int]int64)}
}

func (a *aggregate) file(i int) ProgressFunc {
	if a.fn == nil {
		return nil
	}
	return func(p Progress) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.sum += p.Transferred - a.last[i]
		a.last[i] = p.Transferred
		a.fn(Progress{Transferred: a.sum, Total: a.total})
	}
}
