package davclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davio/pkg/davclient"
)

// scripted answers every request with the same status and body.
type scripted struct {
	status int
	body   string
	err    error
	closed bool
}

func (s *scripted) Execute(_ context.Context, _ *davclient.Request) (*davclient.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &davclient.Response{
		StatusCode: s.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

func (s *scripted) Close() error {
	s.closed = true
	return nil
}

func open(t *testing.T, exec davclient.Executor) *davclient.Client {
	t.Helper()
	c, err := davclient.Open(davclient.Config{URL: "https://dav.example.com/", Executor: exec})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   []error
	}{
		{http.StatusUnauthorized, []error{davclient.ErrAuthenticationFailed}},
		{http.StatusForbidden, []error{davclient.ErrAuthenticationFailed}},
		{http.StatusNotFound, []error{davclient.ErrResourceNotFound}},
		{http.StatusConflict, []error{davclient.ErrConflict}},
		{http.StatusPreconditionFailed, []error{davclient.ErrConflict}},
		{423, []error{davclient.ErrLocked, davclient.ErrConflict}},
		{507, []error{davclient.ErrInsufficientStorage, davclient.ErrServer}},
		{http.StatusBadGateway, []error{davclient.ErrServer}},
		{http.StatusNotImplemented, []error{davclient.ErrNotSupported, davclient.ErrServer}},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c := open(t, &scripted{status: tc.status, body: "details"})
			err := c.Delete(context.Background(), "/x")
			for _, want := range tc.want {
				assert.ErrorIs(t, err, want)
			}
			var se *davclient.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.status, se.Code)
			assert.Equal(t, "details", string(se.Body))
		})
	}
}

func TestLockedIsRetryable(t *testing.T) {
	c := open(t, &scripted{status: 423})
	err := c.Mkdir(context.Background(), "/x")
	var se *davclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable())
}

func TestMalformedMultistatus(t *testing.T) {
	c := open(t, &scripted{status: 207, body: "<html>oops</html>"})
	_, err := c.List(context.Background(), "/")
	assert.ErrorIs(t, err, davclient.ErrMalformedResponse)
	_, err = c.Info(context.Background(), "/")
	assert.ErrorIs(t, err, davclient.ErrMalformedResponse)
	_, err = c.FreeSpace(context.Background())
	assert.ErrorIs(t, err, davclient.ErrMalformedResponse)
}

func TestNetworkErrorMapped(t *testing.T) {
	dial := errors.New("dial tcp: connection refused")
	c := open(t, &scripted{err: dial})
	_, err := c.Info(context.Background(), "/x")
	assert.ErrorIs(t, err, davclient.ErrNetwork)
	assert.ErrorIs(t, err, dial)
	assert.NotErrorIs(t, err, davclient.ErrServer)
	assert.NotErrorIs(t, err, davclient.ErrCancelled)
}

// endless never runs dry.
type endless struct{}

func (endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = ' '
	}
	return len(p), nil
}

type oversized struct{ scripted }

func (o *oversized) Execute(_ context.Context, _ *davclient.Request) (*davclient.Response, error) {
	body := io.MultiReader(strings.NewReader(`<?xml version="1.0"?><D:multistatus xmlns:D="DAV:">`), endless{})
	return &davclient.Response{StatusCode: 207, Header: http.Header{}, Body: io.NopCloser(body)}, nil
}

func TestOversizedMultistatus(t *testing.T) {
	c := open(t, &oversized{})
	_, err := c.List(context.Background(), "/")
	assert.ErrorIs(t, err, davclient.ErrMalformedResponse)
	assert.ErrorContains(t, err, "too large")
}

// listings answers PROPFIND with a canned multistatus per request path.
type listings map[string]string

func (l listings) Execute(_ context.Context, req *davclient.Request) (*davclient.Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	body, ok := l[u.Path]
	if !ok {
		return &davclient.Response{StatusCode: 404, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	return &davclient.Response{StatusCode: 207, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (listings) Close() error { return nil }

func collections(hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><D:multistatus xmlns:D="DAV:">`)
	for _, h := range hrefs {
		b.WriteString(`<D:response><D:href>` + h + `</D:href><D:propstat><D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>`)
	}
	b.WriteString(`</D:multistatus>`)
	return b.String()
}

func TestDownloadDirIgnoresEntriesOutsideTree(t *testing.T) {
	exec := listings{
		"/d/":     collections("/d/", "/", "/other/", "/d/sub/"),
		"/":       collections("/", "/d/"),
		"/d/sub/": collections("/d/sub/", "/d/", "/d/sub/"),
	}
	c := open(t, exec)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	local := t.TempDir()
	require.NoError(t, c.DownloadDir(ctx, "/d", local))
	fi, err := os.Stat(filepath.Join(local, "sub"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	_, err = os.Stat(filepath.Join(local, "other"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadDirCancelled(t *testing.T) {
	c := open(t, listings{"/d/": collections("/d/", "/d/sub/")})
	token := davclient.NewCancelToken()
	token.Cancel()
	err := c.DownloadDir(context.Background(), "/d", t.TempDir(), davclient.WithCancel(token))
	assert.ErrorIs(t, err, davclient.ErrCancelled)
}

func TestSuppliedExecutorNotClosed(t *testing.T) {
	exec := &scripted{status: 201}
	c, err := davclient.Open(davclient.Config{URL: "https://dav.example.com/", Executor: exec})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.False(t, exec.closed)
}
