// Package memserver runs an in-memory WebDAV server for tests. It wraps the
// golang.org/x/net/webdav handler and adds what that handler lacks: auth,
// quota reports, public links, request recording and fault injection.
package memserver

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"golang.org/x/net/webdav"
)

// Record is one request as the server saw it.
type Record struct {
	Method string
	Path   string // decoded, prefix included
	Header http.Header
}

type fault struct {
	after int64
	stall bool
}

type Server struct {
	*httptest.Server

	fs      webdav.FileSystem
	handler *webdav.Handler
	prefix  string

	user, pass string
	token      string

	quota    bool
	avail    int64
	used     int64
	publish  bool
	linkBase string

	mu       sync.Mutex
	records  []Record
	links    map[string]string
	faults   map[string]fault
	released chan struct{}
}

type Option func(*Server)

// WithPrefix mounts the tree below prefix, e.g. "/dav".
func WithPrefix(prefix string) Option {
	return func(s *Server) { s.prefix = strings.TrimSuffix(prefix, "/") }
}

func WithBasicAuth(user, pass string) Option {
	return func(s *Server) { s.user, s.pass = user, pass }
}

func WithBearer(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithQuota answers RFC 4331 quota queries with fixed numbers.
func WithQuota(available, used int64) Option {
	return func(s *Server) { s.quota, s.avail, s.used = true, available, used }
}

// WithPublish hands out public links the way Yandex Disk does when the
// public_url property is patched.
func WithPublish() Option {
	return func(s *Server) { s.publish = true }
}

func New(opts ...Option) *Server {
	s := &Server{
		fs:       webdav.NewMemFS(),
		links:    make(map[string]string),
		faults:   make(map[string]fault),
		released: make(chan struct{}),
		linkBase: "https://public.example/d/",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = &webdav.Handler{
		Prefix:     s.prefix,
		FileSystem: s.fs,
		LockSystem: webdav.NewMemLS(),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Close unblocks stalled responses and shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	select {
	case <-s.released:
	default:
		close(s.released)
	}
	s.mu.Unlock()
	s.Server.Close()
}

// URL is the root of the WebDAV tree, prefix included.
func (s *Server) URL() string {
	return s.Server.URL + s.prefix + "/"
}

func (s *Server) Requests() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Count returns how many requests used method.
func (s *Server) Count(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

func (s *Server) Reset() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// AbortAfter makes GETs of name drop the connection after n body bytes.
func (s *Server) AbortAfter(name string, n int64) {
	s.setFault(name, fault{after: n})
}

// StallAfter makes GETs of name hang after n body bytes until the client
// goes away.
func (s *Server) StallAfter(name string, n int64) {
	s.setFault(name, fault{after: n, stall: true})
}

func (s *Server) ClearFaults() {
	s.mu.Lock()
	s.faults = make(map[string]fault)
	s.mu.Unlock()
}

func (s *Server) setFault(name string, f fault) {
	s.mu.Lock()
	s.faults[clean(name)] = f
	s.mu.Unlock()
}

// Put seeds a file, creating parent directories.
func (s *Server) Put(name string, data []byte) error {
	ctx := context.Background()
	name = clean(name)
	if err := s.mkdirAll(ctx, path.Dir(name)); err != nil {
		return err
	}
	f, err := s.fs.OpenFile(ctx, name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Mkdir seeds a directory and its parents.
func (s *Server) Mkdir(name string) error {
	return s.mkdirAll(context.Background(), clean(name))
}

func (s *Server) mkdirAll(ctx context.Context, name string) error {
	cur := ""
	for _, seg := range strings.Split(strings.Trim(name, "/"), "/") {
		if seg == "" {
			continue
		}
		cur += "/" + seg
		if err := s.fs.Mkdir(ctx, cur, 0o755); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

func (s *Server) ReadFile(name string) ([]byte, error) {
	f, err := s.fs.OpenFile(context.Background(), clean(name), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Stat reports whether name exists and is a directory.
func (s *Server) Stat(name string) (exists, dir bool) {
	fi, err := s.fs.Stat(context.Background(), clean(name))
	if err != nil {
		return false, false
	}
	return true, fi.IsDir()
}

func clean(name string) string {
	return path.Clean("/" + name)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.records = append(s.records, Record{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()})
	s.mu.Unlock()

	if !s.authorized(r) {
		if s.token != "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="memserver"`)
		} else {
			w.Header().Set("WWW-Authenticate", `Basic realm="memserver"`)
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	name := clean(strings.TrimPrefix(r.URL.Path, s.prefix))

	switch r.Method {
	case "PROPFIND":
		body := peek(r)
		if s.quota && bytes.Contains(body, []byte("quota-available-bytes")) {
			s.writeQuota(w, r.URL.Path)
			return
		}
		if s.publish && bytes.Contains(body, []byte("public_url")) {
			s.writeLink(w, r.URL.Path, name)
			return
		}
	case "PROPPATCH":
		body := peek(r)
		if s.publish && bytes.Contains(body, []byte("public_url")) {
			s.patchLink(w, r.URL.Path, name, bytes.Contains(body, []byte("remove>")))
			return
		}
	case http.MethodGet:
		s.mu.Lock()
		f, ok := s.faults[name]
		s.mu.Unlock()
		if ok {
			fw := &faultyWriter{ResponseWriter: w, left: f.after, stall: f.stall, r: r, released: s.released}
			s.handler.ServeHTTP(fw, r)
			return
		}
	}
	s.handler.ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	switch {
	case s.token != "":
		return r.Header.Get("Authorization") == "Bearer "+s.token
	case s.user != "":
		u, p, ok := r.BasicAuth()
		return ok && u == s.user && p == s.pass
	}
	return true
}

// peek reads the request body and puts it back for the handler.
func peek(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	data, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data
}

func (s *Server) writeQuota(w http.ResponseWriter, href string) {
	writeMultistatus(w, href, fmt.Sprintf(
		"<D:quota-available-bytes>%d</D:quota-available-bytes><D:quota-used-bytes>%d</D:quota-used-bytes>",
		s.avail, s.used), "HTTP/1.1 200 OK")
}

func (s *Server) writeLink(w http.ResponseWriter, href, name string) {
	if _, err := s.fs.Stat(context.Background(), name); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	link, ok := s.links[name]
	s.mu.Unlock()
	if !ok {
		writeMultistatus(w, href, `<public_url xmlns="urn:yandex:disk:meta"/>`, "HTTP/1.1 404 Not Found")
		return
	}
	writeMultistatus(w, href, `<public_url xmlns="urn:yandex:disk:meta">`+link+`</public_url>`, "HTTP/1.1 200 OK")
}

func (s *Server) patchLink(w http.ResponseWriter, href, name string, remove bool) {
	if _, err := s.fs.Stat(context.Background(), name); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	if remove {
		delete(s.links, name)
	} else {
		sum := sha1.Sum([]byte(name))
		s.links[name] = s.linkBase + hex.EncodeToString(sum[:6])
	}
	s.mu.Unlock()
	writeMultistatus(w, href, `<public_url xmlns="urn:yandex:disk:meta"/>`, "HTTP/1.1 200 OK")
}

// Link returns the public link handed out for name, if any.
func (s *Server) Link(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[clean(name)]
	return link, ok
}

func writeMultistatus(w http.ResponseWriter, href, props, status string) {
	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<D:multistatus xmlns:D="DAV:"><D:response><D:href>%s</D:href><D:propstat><D:prop>%s</D:prop><D:status>%s</D:status></D:propstat></D:response></D:multistatus>`,
		hrefEscape(href), props, status)
}

func hrefEscape(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}

// faultyWriter passes through the first left body bytes, then either
// aborts the connection or blocks until the request is abandoned.
type faultyWriter struct {
	http.ResponseWriter
	left     int64
	stall    bool
	r        *http.Request
	released chan struct{}
}

func (f *faultyWriter) Write(p []byte) (int, error) {
	if int64(len(p)) <= f.left {
		f.left -= int64(len(p))
		return f.ResponseWriter.Write(p)
	}
	_, _ = f.ResponseWriter.Write(p[:f.left])
	f.left = 0
	if fl, ok := f.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
	if f.stall {
		select {
		case <-f.r.Context().Done():
		case <-f.released:
		}
	}
	panic(http.ErrAbortHandler)
}
