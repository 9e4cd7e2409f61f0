// Package transfer streams file content to and from a WebDAV server in
// fixed-size chunks, reporting progress and honouring cancellation between
// chunks.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/davio/internal/core/transport"
	"github.com/davio/internal/core/urn"
	"github.com/davio/internal/core/webdav"
)

const DefaultChunkSize = 64 << 10

type Options struct {
	Progress ProgressFunc
	Cancel   *CancelToken
}

type Engine struct {
	exec      transport.Executor
	builder   *webdav.Builder
	chunkSize int
	log       zerolog.Logger
}

// New returns an engine moving chunkSize bytes per step; values below one
// select DefaultChunkSize.
func New(exec transport.Executor, builder *webdav.Builder, chunkSize int, log zerolog.Logger) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{exec: exec, builder: builder, chunkSize: chunkSize, log: log}
}

func (e *Engine) ChunkSize() int { return e.chunkSize }

// Upload PUTs size bytes of src to u; size is -1 when unknown. The request
// body is fed one chunk at a time from the calling goroutine.
func (e *Engine) Upload(ctx context.Context, u urn.Urn, src io.Reader, size int64, opts Options) error {
	if u.IsCollection() {
		return fmt.Errorf("%w: upload target %s is a collection", webdav.ErrInvalidPath, u)
	}
	if err := Interrupted(ctx, opts.Cancel); err != nil {
		return err
	}

	if size == 0 {
		resp, err := e.exec.Execute(ctx, e.builder.Upload(u, nil, 0))
		if err != nil {
			return failed(ctx, webdav.PUT, u, 0, err)
		}
		return finish(u, resp)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	type result struct {
		resp *webdav.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := e.exec.Execute(ctx, e.builder.Upload(u, pr, size))
		// unblock the writer if the server answered before reading everything
		pr.CloseWithError(errResponded)
		done <- result{resp, err}
	}()

	total := size
	if total < 0 {
		total = -1
	} else {
		src = io.LimitReader(src, size)
	}
	buf := make([]byte, e.chunkSize)
	var sent int64
	var failure error
	for {
		if err := Interrupted(ctx, opts.Cancel); err != nil {
			failure = err
			break
		}
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, werr := pw.Write(buf[:n]); werr != nil {
				break // request ended; its outcome decides
			}
			sent += int64(n)
			if opts.Progress != nil {
				opts.Progress(Progress{Transferred: sent, Total: total})
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			if size > 0 && sent < size {
				failure = &webdav.TransferError{Op: webdav.PUT, Path: u.String(), Offset: sent, Err: io.ErrUnexpectedEOF}
			}
			break
		}
		if rerr != nil {
			failure = &webdav.TransferError{Op: webdav.PUT, Path: u.String(), Offset: sent, Err: rerr}
			break
		}
		if size > 0 && sent >= size {
			break
		}
	}

	if failure != nil {
		pw.CloseWithError(failure)
		cancel()
		res := <-done
		if res.resp != nil {
			res.resp.Body.Close()
		}
		e.log.Debug().Str("path", u.String()).Int64("sent", sent).Err(failure).Msg("upload aborted")
		return failure
	}
	pw.Close()

	res := <-done
	if res.err != nil {
		return failed(ctx, webdav.PUT, u, sent, res.err)
	}
	return finish(u, res.resp)
}

var errResponded = errors.New("server responded before the body was sent")

func finish(u urn.Urn, resp *webdav.Response) error {
	if err := webdav.CheckStatus(webdav.PUT, u, resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Download GETs u starting at offset and writes it to dst. It returns the
// number of bytes written to dst.
func (e *Engine) Download(ctx context.Context, u urn.Urn, dst io.Writer, offset int64, opts Options) (int64, error) {
	if offset < 0 {
		offset = 0
	}
	if err := Interrupted(ctx, opts.Cancel); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := e.exec.Execute(ctx, e.builder.Download(u, offset))
	if err != nil {
		return 0, failed(ctx, webdav.GET, u, offset, err)
	}
	if err := webdav.CheckStatus(webdav.GET, u, resp); err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	total := int64(-1)
	if resp.StatusCode == http.StatusPartialContent {
		start, size, ok := parseContentRange(resp.Header.Get(webdav.ContentRangeHeader))
		if ok && start != offset {
			return 0, fmt.Errorf("%w: range starts at %d, asked for %d", webdav.ErrMalformedResponse, start, offset)
		}
		total = size
		if total < 0 && resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}
	} else {
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}
		if offset > 0 {
			// the server ignored Range and sent the whole entity
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				return 0, failed(ctx, webdav.GET, u, offset, err)
			}
		}
	}

	buf := make([]byte, e.chunkSize)
	pos := offset
	for {
		if err := Interrupted(ctx, opts.Cancel); err != nil {
			e.log.Debug().Str("path", u.String()).Int64("offset", pos).Msg("download cancelled")
			return pos - offset, err
		}
		n, rerr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return pos - offset, &webdav.TransferError{Op: webdav.GET, Path: u.String(), Offset: pos, Err: werr}
			}
			pos += int64(n)
			if opts.Progress != nil {
				opts.Progress(Progress{Transferred: pos, Total: total})
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return pos - offset, failed(ctx, webdav.GET, u, pos, rerr)
		}
	}
	if total >= 0 && pos < total {
		return pos - offset, &webdav.TransferError{Op: webdav.GET, Path: u.String(), Offset: pos, Err: io.ErrUnexpectedEOF}
	}
	return pos - offset, nil
}

// failed maps an I/O error that ended a transfer at offset.
func failed(ctx context.Context, op string, u urn.Urn, offset int64, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", webdav.ErrCancelled, ctx.Err())
	}
	return &webdav.TransferError{Op: op, Path: u.String(), Offset: offset, Err: err}
}

// Interrupted reports a pending cancellation from either the token or ctx.
func Interrupted(ctx context.Context, token *CancelToken) error {
	if token.Cancelled() {
		return webdav.ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", webdav.ErrCancelled, err)
	}
	return nil
}

// parseContentRange reads "bytes 100-199/200". size is -1 for "*".
func parseContentRange(v string) (start, size int64, ok bool) {
	v, found := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !found {
		return 0, -1, false
	}
	rng, total, found := strings.Cut(v, "/")
	if !found {
		return 0, -1, false
	}
	first, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, -1, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return 0, -1, false
	}
	size = -1
	if total != "*" {
		if size, err = strconv.ParseInt(strings.TrimSpace(total), 10, 64); err != nil {
			size = -1
		}
	}
	return start, size, true
}
