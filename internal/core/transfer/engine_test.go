package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davio/internal/core/urn"
	"github.com/davio/internal/core/webdav"
)

// fakeExecutor keeps one file in memory and serves PUT and GET for it.
type fakeExecutor struct {
	mu       sync.Mutex
	content  []byte
	requests []*webdav.Request

	ignoreRange bool
	failAfter   int // GET body fails after this many bytes when positive
	putStatus   int
}

var errLink = errors.New("connection reset by peer")

type failingReader struct {
	r    io.Reader
	left int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.left <= 0 {
		return 0, errLink
	}
	if len(p) > f.left {
		p = p[:f.left]
	}
	n, err := f.r.Read(p)
	f.left -= n
	return n, err
}

func (f *fakeExecutor) Execute(ctx context.Context, req *webdav.Request) (*webdav.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	switch req.Method {
	case webdav.PUT:
		var data []byte
		if req.Body != nil {
			var err error
			if data, err = io.ReadAll(req.Body); err != nil {
				return nil, err
			}
		}
		f.mu.Lock()
		f.content = data
		f.mu.Unlock()
		status := http.StatusCreated
		if f.putStatus != 0 {
			status = f.putStatus
		}
		return &webdav.Response{StatusCode: status, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil))}, nil

	case webdav.GET:
		f.mu.Lock()
		data := append([]byte(nil), f.content...)
		f.mu.Unlock()
		h := http.Header{}
		status := http.StatusOK
		if rng := req.Header.Get(webdav.RangeHeader); rng != "" && !f.ignoreRange {
			var start int
			_, _ = fmt.Sscanf(rng, "bytes=%d-", &start)
			h.Set(webdav.ContentRangeHeader, fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
			data = data[start:]
			status = http.StatusPartialContent
		}
		h.Set("Content-Length", strconv.Itoa(len(data)))
		var body io.Reader = bytes.NewReader(data)
		if f.failAfter > 0 {
			body = &failingReader{r: body, left: f.failAfter}
		}
		return &webdav.Response{StatusCode: status, Header: h, Body: io.NopCloser(body), ContentLength: int64(len(data))}, nil
	}
	return &webdav.Response{StatusCode: http.StatusMethodNotAllowed, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func (f *fakeExecutor) Close() error { return nil }

func newEngine(t *testing.T, exec *fakeExecutor, chunk int) *Engine {
	t.Helper()
	b, err := webdav.NewBuilder("http://dav.test/", webdav.NoAuth())
	require.NoError(t, err)
	return New(exec, b, chunk, zerolog.Nop())
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

var file = urn.MustNormalize("/data/blob.bin")

func TestUploadProgress(t *testing.T) {
	cases := []struct{ size, chunk int }{
		{size: 10, chunk: 4},
		{size: 12, chunk: 4},
		{size: 1, chunk: 4096},
		{size: 100000, chunk: 1000},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d/%d", tc.size, tc.chunk), func(t *testing.T) {
			exec := &fakeExecutor{}
			eng := newEngine(t, exec, tc.chunk)
			data := pattern(tc.size)

			var events []Progress
			err := eng.Upload(context.Background(), file, bytes.NewReader(data), int64(tc.size), Options{
				Progress: func(p Progress) { events = append(events, p) },
			})
			require.NoError(t, err)
			assert.Equal(t, data, exec.content)

			want := (tc.size + tc.chunk - 1) / tc.chunk
			require.Len(t, events, want)
			last := events[len(events)-1]
			assert.EqualValues(t, tc.size, last.Transferred)
			assert.EqualValues(t, tc.size, last.Total)
			for i := 1; i < len(events); i++ {
				assert.Greater(t, events[i].Transferred, events[i-1].Transferred)
			}
		})
	}
}

func TestUploadUnknownSize(t *testing.T) {
	exec := &fakeExecutor{}
	eng := newEngine(t, exec, 3)
	var last Progress
	err := eng.Upload(context.Background(), file, bytes.NewReader([]byte("abcdefg")), -1, Options{
		Progress: func(p Progress) { last = p },
	})
	require.NoError(t, err)
	assert.Equal(t, "abcdefg", string(exec.content))
	assert.Equal(t, Progress{Transferred: 7, Total: -1}, last)
	assert.EqualValues(t, -1, exec.requests[0].ContentLength)
}

func TestUploadEmpty(t *testing.T) {
	exec := &fakeExecutor{content: []byte("old")}
	eng := newEngine(t, exec, 3)
	calls := 0
	err := eng.Upload(context.Background(), file, bytes.NewReader(nil), 0, Options{
		Progress: func(Progress) { calls++ },
	})
	require.NoError(t, err)
	assert.Empty(t, exec.content)
	assert.Zero(t, calls)
}

func TestUploadCancelledAfterSecondChunk(t *testing.T) {
	exec := &fakeExecutor{}
	eng := newEngine(t, exec, 4)
	token := NewCancelToken()

	calls := 0
	err := eng.Upload(context.Background(), file, bytes.NewReader(pattern(40)), 40, Options{
		Cancel: token,
		Progress: func(p Progress) {
			calls++
			if calls == 2 {
				token.Cancel()
			}
		},
	})
	assert.ErrorIs(t, err, webdav.ErrCancelled)
	assert.Equal(t, 2, calls)
}

func TestUploadSourceFailure(t *testing.T) {
	exec := &fakeExecutor{}
	eng := newEngine(t, exec, 4)
	src := &failingReader{r: bytes.NewReader(pattern(40)), left: 10}

	err := eng.Upload(context.Background(), file, src, 40, Options{})
	var te *webdav.TransferError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, webdav.ErrTransfer)
	assert.ErrorIs(t, err, errLink)
	assert.EqualValues(t, 10, te.Offset)
}

func TestUploadShortSource(t *testing.T) {
	exec := &fakeExecutor{}
	eng := newEngine(t, exec, 4)
	err := eng.Upload(context.Background(), file, bytes.NewReader(pattern(6)), 10, Options{})
	var te *webdav.TransferError
	require.ErrorAs(t, err, &te)
	assert.EqualValues(t, 6, te.Offset)
}

func TestUploadServerRejects(t *testing.T) {
	exec := &fakeExecutor{putStatus: webdav.StatusInsufficientStorage}
	eng := newEngine(t, exec, 4)
	err := eng.Upload(context.Background(), file, bytes.NewReader(pattern(10)), 10, Options{})
	assert.ErrorIs(t, err, webdav.ErrInsufficientStorage)
	assert.ErrorIs(t, err, webdav.ErrServer)
}

func TestUploadToCollection(t *testing.T) {
	eng := newEngine(t, &fakeExecutor{}, 4)
	err := eng.Upload(context.Background(), urn.MustNormalize("/dir/"), bytes.NewReader(nil), 0, Options{})
	assert.ErrorIs(t, err, webdav.ErrInvalidPath)
}

func TestUploadContextDone(t *testing.T) {
	exec := &fakeExecutor{}
	eng := newEngine(t, exec, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := eng.Upload(ctx, file, bytes.NewReader(pattern(10)), 10, Options{})
	assert.ErrorIs(t, err, webdav.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.requests)
}

func TestDownloadProgress(t *testing.T) {
	data := pattern(1000)
	exec := &fakeExecutor{content: data}
	eng := newEngine(t, exec, 64)

	var (
		dst    bytes.Buffer
		events []Progress
	)
	n, err := eng.Download(context.Background(), file, &dst, 0, Options{
		Progress: func(p Progress) { events = append(events, p) },
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1000, n)
	assert.Equal(t, data, dst.Bytes())
	require.Len(t, events, 16)
	assert.Equal(t, Progress{Transferred: 1000, Total: 1000}, events[15])
	assert.Empty(t, exec.requests[0].Header.Get(webdav.RangeHeader))
}

func TestDownloadResume(t *testing.T) {
	data := pattern(300)
	exec := &fakeExecutor{content: data}
	eng := newEngine(t, exec, 64)

	var (
		dst  bytes.Buffer
		last Progress
	)
	n, err := eng.Download(context.Background(), file, &dst, 100, Options{
		Progress: func(p Progress) { last = p },
	})
	require.NoError(t, err)
	assert.EqualValues(t, 200, n)
	assert.Equal(t, data[100:], dst.Bytes())
	assert.Equal(t, Progress{Transferred: 300, Total: 300}, last)
	assert.Equal(t, "bytes=100-", exec.requests[0].Header.Get(webdav.RangeHeader))
}

func TestDownloadResumeRangeIgnored(t *testing.T) {
	data := pattern(300)
	exec := &fakeExecutor{content: data, ignoreRange: true}
	eng := newEngine(t, exec, 64)

	var dst bytes.Buffer
	n, err := eng.Download(context.Background(), file, &dst, 100, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 200, n)
	assert.Equal(t, data[100:], dst.Bytes())
}

func TestDownloadCancelledAfterSecondChunk(t *testing.T) {
	exec := &fakeExecutor{content: pattern(1000)}
	eng := newEngine(t, exec, 100)
	token := NewCancelToken()

	calls := 0
	var dst bytes.Buffer
	n, err := eng.Download(context.Background(), file, &dst, 0, Options{
		Cancel: token,
		Progress: func(Progress) {
			calls++
			if calls == 2 {
				token.Cancel()
			}
		},
	})
	assert.ErrorIs(t, err, webdav.ErrCancelled)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 200, n)
	assert.Equal(t, 200, dst.Len())
}

func TestDownloadNetworkFailure(t *testing.T) {
	exec := &fakeExecutor{content: pattern(1000), failAfter: 250}
	eng := newEngine(t, exec, 100)

	var dst bytes.Buffer
	n, err := eng.Download(context.Background(), file, &dst, 0, Options{})
	var te *webdav.TransferError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, webdav.ErrTransfer)
	assert.EqualValues(t, 250, te.Offset)
	assert.EqualValues(t, 250, n)
	assert.Equal(t, pattern(1000)[:250], dst.Bytes())

	// resuming from the reported offset completes the file
	exec.failAfter = 0
	_, err = eng.Download(context.Background(), file, &dst, te.Offset, Options{})
	require.NoError(t, err)
	assert.Equal(t, pattern(1000), dst.Bytes())
}

func TestDownloadNotFound(t *testing.T) {
	eng := newEngine(t, &fakeExecutor{}, 100)
	eng.exec = statusExecutor(http.StatusNotFound)
	n, err := eng.Download(context.Background(), file, io.Discard, 0, Options{})
	assert.ErrorIs(t, err, webdav.ErrResourceNotFound)
	assert.Zero(t, n)
}

type statusExecutor int

func (s statusExecutor) Execute(context.Context, *webdav.Request) (*webdav.Response, error) {
	return &webdav.Response{StatusCode: int(s), Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func (statusExecutor) Close() error { return nil }

func TestParseContentRange(t *testing.T) {
	start, size, ok := parseContentRange("bytes 100-199/200")
	assert.True(t, ok)
	assert.EqualValues(t, 100, start)
	assert.EqualValues(t, 200, size)

	_, size, ok = parseContentRange("bytes 0-9/*")
	assert.True(t, ok)
	assert.EqualValues(t, -1, size)

	_, _, ok = parseContentRange("items 0-1/2")
	assert.False(t, ok)
}

func TestProgressFraction(t *testing.T) {
	assert.InDelta(t, 0.5, Progress{Transferred: 5, Total: 10}.Fraction(), 1e-9)
	assert.EqualValues(t, -1, Progress{Transferred: 5, Total: -1}.Fraction())
	assert.EqualValues(t, 1, Progress{}.Fraction())

	var nilToken *CancelToken
	assert.False(t, nilToken.Cancelled())
	nilToken.Cancel()
}
