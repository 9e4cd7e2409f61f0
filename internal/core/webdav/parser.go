package webdav

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/davio/internal/core/urn"
)

// Parser decodes multistatus bodies. Hrefs below Base are made relative to
// it so records carry the same paths callers asked about.
type Parser struct {
	Base urn.Urn
}

// Parse returns every successful entry in document order.
func (p Parser) Parse(data []byte) ([]ResourceProperty, error) {
	ms, err := decode(data)
	if err != nil {
		return nil, err
	}

	var out []ResourceProperty
	for _, r := range ms.Responses {
		if !success(r.Status) {
			continue
		}
		props, ok := r.successfulProps()
		if !ok {
			continue
		}
		for _, href := range r.Hrefs {
			rp, err := p.record(href, props)
			if err != nil {
				return nil, err
			}
			out = append(out, rp)
		}
	}
	return out, nil
}

// List drops the entry echoing the requested collection itself.
func (p Parser) List(data []byte, request urn.Urn) ([]ResourceProperty, error) {
	all, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rp := range all {
		if !urn.Equal(rp.Path, request) {
			out = append(out, rp)
		}
	}
	return out, nil
}

// Info returns the entry for request.
func (p Parser) Info(data []byte, request urn.Urn) (ResourceProperty, error) {
	all, err := p.Parse(data)
	if err != nil {
		return ResourceProperty{}, err
	}
	for _, rp := range all {
		if urn.Equal(rp.Path, request) {
			return rp, nil
		}
	}
	return ResourceProperty{}, ErrResourceNotFound
}

// Quota reads RFC 4331 properties from the first entry reporting them. A
// value the server does not report, or reports as negative, is nil.
func (p Parser) Quota(data []byte) (available, used *uint64, err error) {
	all, err := p.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	for _, rp := range all {
		if v, ok := rp.Props[QuotaAvailableBytes.Local]; ok && available == nil {
			available = parseSize(v)
		}
		if v, ok := rp.Props[QuotaUsedBytes.Local]; ok && used == nil {
			used = parseSize(v)
		}
	}
	return available, used, nil
}

// Patched checks a PROPPATCH multistatus and reports the first failed
// propstat.
func (p Parser) Patched(data []byte) error {
	ms, err := decode(data)
	if err != nil {
		return err
	}
	for _, r := range ms.Responses {
		path := strings.Join(r.Hrefs, ",")
		if code := statusCode(r.Status); code != 0 && !is2xx(code) {
			return NewStatusError(PROPPATCH, path, code, nil)
		}
		for _, ps := range r.Propstat {
			if code := statusCode(ps.Status); code != 0 && !is2xx(code) {
				return NewStatusError(PROPPATCH, path, code, []byte(ps.names()))
			}
		}
	}
	return nil
}

func decode(data []byte) (*multistatus, error) {
	var ms multistatus
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&ms); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, malformed("empty body")
		}
		var se xml.UnmarshalError
		if errors.As(err, &se) {
			return nil, malformed("unexpected root element: %v", err)
		}
		return nil, malformed("%v", err)
	}
	// trailing garbage after the root element
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed("%v", err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			return nil, malformed("content after multistatus element")
		}
	}
	return &ms, nil
}

// successfulProps merges properties of 2xx propstats. A response carrying
// only failed propstats reports false.
func (r response) successfulProps() ([]element, bool) {
	if len(r.Propstat) == 0 {
		return nil, true
	}
	var (
		props []element
		found bool
	)
	for _, ps := range r.Propstat {
		if !success(ps.Status) {
			continue
		}
		found = true
		props = append(props, ps.Prop.Elements...)
	}
	return props, found
}

func (ps propstat) names() string {
	names := make([]string, 0, len(ps.Prop.Elements))
	for _, e := range ps.Prop.Elements {
		names = append(names, e.XMLName.Local)
	}
	return strings.Join(names, " ")
}

func (p Parser) record(href string, props []element) (ResourceProperty, error) {
	u, err := urn.FromHref(href)
	if err != nil {
		return ResourceProperty{}, malformed("bad href %q: %v", href, err)
	}
	if rel, ok := u.Rel(p.Base); ok {
		u = rel
	}

	rp := ResourceProperty{IsCollection: u.IsCollection()}
	for _, e := range props {
		text := strings.TrimSpace(e.Text)
		switch e.XMLName.Local {
		case "resourcetype":
			for _, c := range e.Children {
				if c.XMLName.Local == "collection" {
					rp.IsCollection = true
				}
			}
		case "getcontentlength":
			rp.Size = parseSize(text)
		case "getlastmodified":
			rp.ModifiedAt = parseTime(text)
		case "creationdate":
			rp.CreatedAt = parseTime(text)
		case "getcontenttype":
			rp.ContentType = text
		case "getetag":
			rp.ETag = unquoteETag(text)
		case "displayname":
			rp.DisplayName = text
		}
		if rp.Props == nil {
			rp.Props = make(map[string]string, len(props))
		}
		rp.Props[e.XMLName.Local] = text
	}

	if rp.IsCollection {
		rp.Size = nil
		u = u.AsCollection()
	}
	rp.Path = u
	return rp, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	"2006-01-02T15:04:05Z0700",
}

// parseTime accepts the HTTP date formats and ISO 8601. Failure yields the
// zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := http.ParseTime(s); err == nil {
		return t
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseSize(s string) *uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func unquoteETag(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// statusCode extracts the code from "HTTP/1.1 404 Not Found"; 0 when the
// line cannot be read.
func statusCode(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

func is2xx(code int) bool { return code >= 200 && code < 300 }

// success treats missing and unreadable status lines as success.
func success(line string) bool {
	code := statusCode(line)
	return code == 0 || is2xx(code)
}
