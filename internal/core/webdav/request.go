package webdav

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/davio/internal/core/urn"
)

// Quota properties of RFC 4331.
var (
	QuotaAvailableBytes = DAVProp("quota-available-bytes")
	QuotaUsedBytes      = DAVProp("quota-used-bytes")
)

// Builder assembles requests against one server root. It is safe for
// concurrent use.
type Builder struct {
	origin string // scheme://host[:port]
	root   urn.Urn
	auth   Auth
}

// NewBuilder parses the server URL. Its path becomes the root every
// request path is resolved under.
func NewBuilder(rawURL string, auth Auth) (*Builder, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: missing host", rawURL)
	}

	root := urn.Root
	if u.Path != "" {
		if root, err = urn.Normalize(u.Path); err != nil {
			return nil, fmt.Errorf("invalid server url %q: %w", rawURL, err)
		}
		root = root.AsCollection()
	}

	return &Builder{
		origin: u.Scheme + "://" + u.Host,
		root:   root,
		auth:   auth,
	}, nil
}

// Root is the server path requests are resolved under.
func (b *Builder) Root() urn.Urn { return b.root }

func (b *Builder) Auth() Auth { return b.auth }

// URL is the quoted absolute URL of u.
func (b *Builder) URL(u urn.Urn) string {
	return b.origin + u.Under(b.root).Quote()
}

func (b *Builder) newRequest(method string, u urn.Urn) *Request {
	h := make(http.Header)
	h.Set(AcceptHeader, "*/*")
	if v := b.auth.Header(); v != "" {
		h.Set(AuthorizationHeader, v)
	}
	return &Request{Method: method, URL: b.URL(u), Header: h}
}

func (b *Builder) withXML(req *Request, doc any) *Request {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	// documents are static shapes; encoding them cannot fail
	_ = xml.NewEncoder(&buf).Encode(doc)
	req.Header.Set(ContentTypeHeader, xmlContentType)
	req.Body = bytes.NewReader(buf.Bytes())
	req.ContentLength = int64(buf.Len())
	return req
}

// List asks for all properties of a collection and its direct members.
func (b *Builder) List(u urn.Urn) *Request {
	req := b.newRequest(PROPFIND, u.AsCollection())
	req.Header.Set(DepthHeader, DepthOne)
	return b.withXML(req, allpropDoc())
}

// Info asks for all properties of u alone.
func (b *Builder) Info(u urn.Urn) *Request {
	req := b.newRequest(PROPFIND, u)
	req.Header.Set(DepthHeader, DepthZero)
	return b.withXML(req, allpropDoc())
}

// PropFind asks for the named properties of u alone.
func (b *Builder) PropFind(u urn.Urn, names ...PropName) *Request {
	req := b.newRequest(PROPFIND, u)
	req.Header.Set(DepthHeader, DepthZero)
	return b.withXML(req, propfindDoc{NS: davNamespace, Prop: namesOnly(names)})
}

// FreeSpace asks the server root for its quota.
func (b *Builder) FreeSpace() *Request {
	return b.PropFind(urn.Root, QuotaAvailableBytes, QuotaUsedBytes)
}

func (b *Builder) Mkdir(u urn.Urn) *Request {
	return b.newRequest(MKCOL, u.AsCollection())
}

func (b *Builder) Delete(u urn.Urn) *Request {
	return b.newRequest(DELETE, u)
}

func (b *Builder) Move(src, dst urn.Urn, overwrite bool) *Request {
	return b.relocate(MOVE, src, dst, overwrite)
}

func (b *Builder) Copy(src, dst urn.Urn, overwrite bool) *Request {
	req := b.relocate(COPY, src, dst, overwrite)
	req.Header.Set(DepthHeader, DepthInfinity)
	return req
}

func (b *Builder) relocate(method string, src, dst urn.Urn, overwrite bool) *Request {
	req := b.newRequest(method, src)
	req.Header.Set(DestinationHeader, b.URL(dst))
	if overwrite {
		req.Header.Set(OverwriteHeader, "T")
	} else {
		req.Header.Set(OverwriteHeader, "F")
	}
	return req
}

// Upload streams body to u. size is -1 when unknown.
func (b *Builder) Upload(u urn.Urn, body io.Reader, size int64) *Request {
	req := b.newRequest(PUT, u)
	req.Header.Set(ContentTypeHeader, binaryContentType)
	req.Body = body
	req.ContentLength = size
	if body == nil {
		req.ContentLength = 0
	}
	return req
}

// Download fetches u, starting at offset when it is positive.
func (b *Builder) Download(u urn.Urn, offset int64) *Request {
	req := b.newRequest(GET, u)
	if offset > 0 {
		req.Header.Set(RangeHeader, "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	return req
}

// PropValue is a property and the text to store in it.
type PropValue struct {
	Name  PropName
	Value string
}

// PropPatch sets and removes dead properties of u in one request.
func (b *Builder) PropPatch(u urn.Urn, set []PropValue, remove []PropName) *Request {
	doc := propertyUpdateDoc{NS: davNamespace}
	if len(set) > 0 {
		items := make([]propValue, 0, len(set))
		for _, p := range set {
			items = append(items, propValue{XMLName: p.Name.xmlName(), Value: p.Value})
		}
		doc.Set = &propSet{Prop: propValues{Items: items}}
	}
	if len(remove) > 0 {
		doc.Remove = &propSet{Prop: *namesOnly(remove)}
	}
	return b.withXML(b.newRequest(PROPPATCH, u), doc)
}

func allpropDoc() propfindDoc {
	return propfindDoc{NS: davNamespace, Allprop: &struct{}{}}
}

func namesOnly(names []PropName) *propValues {
	items := make([]propValue, 0, len(names))
	for _, n := range names {
		items = append(items, propValue{XMLName: n.xmlName()})
	}
	return &propValues{Items: items}
}
