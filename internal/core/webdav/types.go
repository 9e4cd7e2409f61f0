package webdav

import (
	"encoding/xml"
	"io"
	"net/http"
	"time"

	"github.com/davio/internal/core/urn"
)

// ResourceProperty is one successful entry of a multistatus response.
type ResourceProperty struct {
	Path         urn.Urn
	IsCollection bool
	Size         *uint64   // nil when absent or unparseable; always nil for collections
	ModifiedAt   time.Time // zero when absent
	CreatedAt    time.Time // zero when absent
	ContentType  string
	ETag         string
	DisplayName  string
	// Props holds the text of every property received, keyed by local name.
	Props map[string]string
}

// Name is the last path segment.
func (r ResourceProperty) Name() string { return r.Path.Name() }

// PropName identifies a property by namespace and local name.
type PropName struct {
	Space string
	Local string
}

// DAVProp names a property in the DAV: namespace.
func DAVProp(local string) PropName { return PropName{Space: davNamespace, Local: local} }

func (n PropName) String() string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

func (n PropName) xmlName() xml.Name {
	if n.Space == davNamespace {
		return xml.Name{Local: "D:" + n.Local}
	}
	return xml.Name{Space: n.Space, Local: n.Local}
}

// Request describes one HTTP exchange; building it performs no I/O.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   io.Reader
	// ContentLength is -1 when unknown and ignored when Body is nil.
	ContentLength int64
}

// Response is what an executor hands back. Body must be closed.
type Response struct {
	StatusCode    int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}
