// Package urn normalizes remote WebDAV paths.
//
// A Urn stores the decoded, cleaned form of a path. Percent-encoding is
// applied only by Quote, when a request target is built; server hrefs are
// decoded by FromHref before they are compared with caller paths.
package urn

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

const separator = "/"

var ErrInvalidPath = errors.New("invalid path")

// Urn is an immutable normalized remote path.
type Urn struct {
	path string // cleaned, no trailing slash except for root
	dir  bool
}

// Root is the collection every other Urn descends from.
var Root = Urn{path: separator, dir: true}

// Normalize turns a caller supplied path into a Urn. The path is taken
// literally: a '%' is a percent sign, not an escape.
func Normalize(raw string) (Urn, error) {
	if raw == "" {
		return Urn{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if !utf8.ValidString(raw) {
		return Urn{}, fmt.Errorf("%w: %q is not valid utf-8", ErrInvalidPath, raw)
	}
	for _, r := range raw {
		if unicode.IsControl(r) {
			return Urn{}, fmt.Errorf("%w: %q contains control characters", ErrInvalidPath, raw)
		}
	}

	dir := strings.HasSuffix(raw, separator) || strings.HasSuffix(raw, "/.")
	cleaned := path.Clean(separator + raw)
	if cleaned == separator {
		return Root, nil
	}
	return Urn{path: cleaned, dir: dir}, nil
}

// MustNormalize is Normalize for constant paths; it panics on error.
func MustNormalize(raw string) Urn {
	u, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// FromHref decodes a path as returned by a server in a multistatus href.
// A leading scheme and host are dropped, as are query and fragment.
func FromHref(href string) (Urn, error) {
	p := strings.TrimSpace(href)
	if p == "" {
		return Urn{}, fmt.Errorf("%w: empty href", ErrInvalidPath)
	}
	if i := strings.Index(p, "://"); i > 0 && !strings.Contains(p[:i], separator) {
		rest := p[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			p = rest[j:]
		} else {
			p = separator
		}
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	// some servers send unescaped '%' characters; keep those literally
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	if p == "" {
		p = separator
	}
	return Normalize(p)
}

// Unquote reverses Quote.
func Unquote(s string) (string, error) {
	dec, err := url.PathUnescape(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return dec, nil
}

// Join appends a relative path to base.
func Join(base Urn, rel string) (Urn, error) {
	if rel == "" {
		return base, nil
	}
	return Normalize(base.Path() + separator + rel)
}

// Equal reports whether a and b name the same resource. The collection
// flag is not significant.
func Equal(a, b Urn) bool {
	return a.Path() == b.Path()
}

// MatchesPrefix reports whether u is candidate or one of its ancestors,
// comparing decoded segments.
func MatchesPrefix(u, candidate Urn) bool {
	us, cs := u.Segments(), candidate.Segments()
	if len(us) > len(cs) {
		return false
	}
	for i := range us {
		if us[i] != cs[i] {
			return false
		}
	}
	return true
}

func (u Urn) String() string {
	if u.dir && u.path != separator {
		return u.path + separator
	}
	return u.path
}

// Path is the decoded path without a trailing slash.
func (u Urn) Path() string {
	if u.path == "" {
		return separator
	}
	return u.path
}

func (u Urn) IsZero() bool { return u.path == "" }

func (u Urn) IsRoot() bool { return u.Path() == separator }

func (u Urn) IsCollection() bool { return u.dir || u.IsRoot() }

// AsCollection returns u flagged as a collection.
func (u Urn) AsCollection() Urn {
	return Urn{path: u.Path(), dir: true}
}

// Name is the last segment, empty for root.
func (u Urn) Name() string {
	if u.IsRoot() {
		return ""
	}
	return path.Base(u.path)
}

// Segments returns the decoded path segments; root has none.
func (u Urn) Segments() []string {
	if u.IsRoot() {
		return nil
	}
	return strings.Split(strings.TrimPrefix(u.path, separator), separator)
}

func (u Urn) Parent() Urn {
	if u.IsRoot() {
		return Root
	}
	parent := path.Dir(u.path)
	if parent == separator {
		return Root
	}
	return Urn{path: parent, dir: true}
}

// Ancestors lists the collections between root and u, top-down, excluding
// both.
func (u Urn) Ancestors() []Urn {
	segs := u.Segments()
	if len(segs) < 2 {
		return nil
	}
	out := make([]Urn, 0, len(segs)-1)
	for i := 1; i < len(segs); i++ {
		out = append(out, Urn{path: separator + strings.Join(segs[:i], separator), dir: true})
	}
	return out
}

// Under prefixes u with base.
func (u Urn) Under(base Urn) Urn {
	if base.IsRoot() || base.IsZero() {
		return u
	}
	if u.IsRoot() {
		return base.AsCollection()
	}
	return Urn{path: base.Path() + u.path, dir: u.dir}
}

// Rel strips base from u. It reports false when u is not below base.
func (u Urn) Rel(base Urn) (Urn, bool) {
	if base.IsRoot() || base.IsZero() {
		return u, true
	}
	if !MatchesPrefix(base, u) {
		return u, false
	}
	rest := strings.TrimPrefix(u.Path(), base.Path())
	if rest == "" {
		return Root, true
	}
	return Urn{path: rest, dir: u.dir}, true
}

// Quote percent-encodes every byte of the path except unreserved
// characters and the separator.
func (u Urn) Quote() string {
	const hex = "0123456789ABCDEF"
	s := u.String()
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) || c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
