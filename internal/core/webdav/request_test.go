package webdav

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davio/internal/core/urn"
)

func newTestBuilder(t *testing.T, raw string, auth Auth) *Builder {
	t.Helper()
	b, err := NewBuilder(raw, auth)
	require.NoError(t, err)
	return b
}

func body(t *testing.T, req *Request) string {
	t.Helper()
	require.NotNil(t, req.Body)
	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), req.ContentLength)
	return string(data)
}

func TestNewBuilderRejects(t *testing.T) {
	for _, raw := range []string{"", "ftp://host/", "http://", "webdav.example.com/dav", "http://host/\x01"} {
		_, err := NewBuilder(raw, NoAuth())
		assert.Error(t, err, raw)
	}
}

func TestBuilderURL(t *testing.T) {
	b := newTestBuilder(t, "https://dav.example.com:8443/remote.php/dav/", NoAuth())
	assert.Equal(t, "/remote.php/dav/", b.Root().String())

	u := urn.MustNormalize("/my docs/ünïcode?.txt")
	assert.Equal(t, "https://dav.example.com:8443/remote.php/dav/my%20docs/%C3%BCn%C3%AFcode%3F.txt", b.URL(u))
	assert.Equal(t, "https://dav.example.com:8443/remote.php/dav/", b.URL(urn.Root))

	bare := newTestBuilder(t, "http://localhost:8080", NoAuth())
	assert.True(t, bare.Root().IsRoot())
	assert.Equal(t, "http://localhost:8080/a", bare.URL(urn.MustNormalize("a")))
}

func TestCommonHeaders(t *testing.T) {
	b := newTestBuilder(t, "http://h/", BasicAuth("alice", "s3cret"))
	req := b.Delete(urn.MustNormalize("/x"))
	assert.Equal(t, DELETE, req.Method)
	assert.Equal(t, "*/*", req.Header.Get(AcceptHeader))
	assert.Equal(t, "Basic YWxpY2U6czNjcmV0", req.Header.Get(AuthorizationHeader))
	assert.Nil(t, req.Body)

	bearer := newTestBuilder(t, "http://h/", BearerAuth("tok"))
	assert.Equal(t, "Bearer tok", bearer.Delete(urn.Root).Header.Get(AuthorizationHeader))

	anon := newTestBuilder(t, "http://h/", NoAuth())
	assert.Empty(t, anon.Delete(urn.Root).Header.Values(AuthorizationHeader))
}

func TestListAndInfo(t *testing.T) {
	b := newTestBuilder(t, "http://h/dav", NoAuth())
	dir := urn.MustNormalize("/photos")

	list := b.List(dir)
	assert.Equal(t, PROPFIND, list.Method)
	assert.Equal(t, "http://h/dav/photos/", list.URL)
	assert.Equal(t, DepthOne, list.Header.Get(DepthHeader))
	assert.Equal(t, xmlContentType, list.Header.Get(ContentTypeHeader))
	assert.Contains(t, body(t, list), "<D:allprop></D:allprop>")

	info := b.Info(urn.MustNormalize("/photos/cat.jpg"))
	assert.Equal(t, "http://h/dav/photos/cat.jpg", info.URL)
	assert.Equal(t, DepthZero, info.Header.Get(DepthHeader))
	doc := body(t, info)
	assert.True(t, strings.HasPrefix(doc, xml.Header))
	assert.Contains(t, doc, `<D:propfind xmlns:D="DAV:">`)
}

func TestMkdirUsesCollectionURL(t *testing.T) {
	b := newTestBuilder(t, "http://h/", NoAuth())
	req := b.Mkdir(urn.MustNormalize("/a/b"))
	assert.Equal(t, MKCOL, req.Method)
	assert.Equal(t, "http://h/a/b/", req.URL)
}

func TestMoveAndCopy(t *testing.T) {
	b := newTestBuilder(t, "http://h/root/", NoAuth())
	src, dst := urn.MustNormalize("/a b"), urn.MustNormalize("/c/d e")

	mv := b.Move(src, dst, true)
	assert.Equal(t, MOVE, mv.Method)
	assert.Equal(t, "http://h/root/a%20b", mv.URL)
	assert.Equal(t, "http://h/root/c/d%20e", mv.Header.Get(DestinationHeader))
	assert.Equal(t, "T", mv.Header.Get(OverwriteHeader))
	assert.Empty(t, mv.Header.Get(DepthHeader))

	cp := b.Copy(src, dst, false)
	assert.Equal(t, COPY, cp.Method)
	assert.Equal(t, "F", cp.Header.Get(OverwriteHeader))
	assert.Equal(t, DepthInfinity, cp.Header.Get(DepthHeader))
}

func TestUploadAndDownload(t *testing.T) {
	b := newTestBuilder(t, "http://h/", NoAuth())
	u := urn.MustNormalize("/f.bin")

	up := b.Upload(u, strings.NewReader("hello"), 5)
	assert.Equal(t, PUT, up.Method)
	assert.Equal(t, binaryContentType, up.Header.Get(ContentTypeHeader))
	assert.EqualValues(t, 5, up.ContentLength)

	unknown := b.Upload(u, strings.NewReader("x"), -1)
	assert.EqualValues(t, -1, unknown.ContentLength)

	empty := b.Upload(u, nil, 10)
	assert.Zero(t, empty.ContentLength)

	get := b.Download(u, 0)
	assert.Equal(t, GET, get.Method)
	assert.Empty(t, get.Header.Get(RangeHeader))

	resume := b.Download(u, 1024)
	assert.Equal(t, "bytes=1024-", resume.Header.Get(RangeHeader))
}

func TestFreeSpace(t *testing.T) {
	b := newTestBuilder(t, "http://h/dav/", NoAuth())
	req := b.FreeSpace()
	assert.Equal(t, PROPFIND, req.Method)
	assert.Equal(t, "http://h/dav/", req.URL)
	assert.Equal(t, DepthZero, req.Header.Get(DepthHeader))
	doc := body(t, req)
	assert.Contains(t, doc, "<D:quota-available-bytes></D:quota-available-bytes>")
	assert.Contains(t, doc, "<D:quota-used-bytes></D:quota-used-bytes>")
	assert.NotContains(t, doc, "allprop")
}

func TestPropPatch(t *testing.T) {
	b := newTestBuilder(t, "http://h/", NoAuth())
	name := PropName{Space: "urn:yandex:disk:meta", Local: "public_url"}

	set := b.PropPatch(urn.MustNormalize("/f"), []PropValue{{Name: name, Value: "true"}}, nil)
	assert.Equal(t, PROPPATCH, set.Method)
	doc := body(t, set)
	assert.Contains(t, doc, `<D:set><D:prop><public_url xmlns="urn:yandex:disk:meta">true</public_url></D:prop></D:set>`)
	assert.NotContains(t, doc, "D:remove")

	rm := b.PropPatch(urn.MustNormalize("/f"), nil, []PropName{name, DAVProp("displayname")})
	doc = body(t, rm)
	assert.Contains(t, doc, `<D:remove><D:prop><public_url xmlns="urn:yandex:disk:meta"></public_url><D:displayname></D:displayname></D:prop></D:remove>`)
}

func TestAuthStringHidesSecrets(t *testing.T) {
	assert.Equal(t, "basic(alice)", BasicAuth("alice", "pw").String())
	assert.Equal(t, "bearer", BearerAuth("token").String())
	assert.Equal(t, "none", NoAuth().String())
}
