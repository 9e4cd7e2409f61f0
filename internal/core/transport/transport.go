// Package transport performs the HTTP exchanges described by webdav.Request.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/davio/internal/core/webdav"
)

const (
	RequestIDHeader = "X-Request-Id"
	maxRedirects    = 10
)

// Executor issues one request and hands back the status, headers and an
// open body stream. Request and response bodies are never buffered.
type Executor interface {
	Execute(ctx context.Context, req *webdav.Request) (*webdav.Response, error)
	Close() error
}

type Options struct {
	// Timeout bounds the wait for response headers; bodies may stream for
	// as long as the context allows. Zero disables it.
	Timeout             time.Duration
	Insecure            bool
	Proxy               string
	MaxIdleConnsPerHost int
	Logger              zerolog.Logger
}

// HTTP is the pooled net/http Executor.
type HTTP struct {
	client *http.Client
	log    zerolog.Logger
}

func New(opts Options) (*HTTP, error) {
	proxy := http.ProxyFromEnvironment
	if opts.Proxy != "" {
		pu, err := url.Parse(opts.Proxy)
		if err != nil || pu.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", opts.Proxy)
		}
		proxy = http.ProxyURL(pu)
	}
	idle := opts.MaxIdleConnsPerHost
	if idle <= 0 {
		idle = 8
	}

	tr := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          4 * idle,
		MaxIdleConnsPerHost:   idle,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		ExpectContinueTimeout: time.Second,
	}
	if opts.Insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}

	return &HTTP{
		client: &http.Client{
			Transport:     tr,
			CheckRedirect: checkRedirect,
		},
		log: opts.Logger,
	}, nil
}

// checkRedirect follows redirects for reads only. Following one for PUT or
// MOVE would replay a consumed body or change the method.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return http.ErrUseLastResponse
	}
	return nil
}

func (h *HTTP) Execute(ctx context.Context, req *webdav.Request) (*webdav.Response, error) {
	var body io.Reader
	if req.Body != nil && req.ContentLength != 0 {
		body = req.Body
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Method, err)
	}
	for k, vs := range req.Header {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	if body != nil {
		hreq.ContentLength = req.ContentLength
	}
	id := uuid.NewString()
	hreq.Header.Set(RequestIDHeader, id)

	start := time.Now()
	resp, err := h.client.Do(hreq)
	if err != nil {
		h.log.Debug().Str("id", id).Str("method", req.Method).Str("url", req.URL).Err(err).Msg("request failed")
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	h.log.Debug().
		Str("id", id).
		Str("method", req.Method).
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request")

	return &webdav.Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}, nil
}

// Close drops pooled idle connections. In-flight requests are unaffected.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
