// Package davclient is a WebDAV client: metadata queries, collection
// management and streamed file transfers against any RFC 4918 server.
//
// A Client is safe for concurrent use. Every operation takes a context;
// closing the client cancels operations still running and waits for them.
package davclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/davio/internal/core/transfer"
	"github.com/davio/internal/core/transport"
	"github.com/davio/internal/core/urn"
	"github.com/davio/internal/core/webdav"
)

// ErrClosed is returned by operations started after Close.
var ErrClosed = errors.New("client closed")

const (
	DefaultTimeout  = 30 * time.Second
	DefaultParallel = 4
)

type Config struct {
	// URL of the WebDAV root, e.g. https://webdav.yandex.ru or
	// https://cloud.example.com/remote.php/dav/files/alice/.
	URL string

	// Token selects bearer authentication; otherwise Username selects basic.
	Username string
	Password string
	Token    string

	ChunkSize int           // bytes per transfer step, 0 for DefaultChunkSize
	Timeout   time.Duration // wait for response headers, 0 for DefaultTimeout
	Insecure  bool          // skip TLS verification
	Proxy     string
	Parallel  int // concurrent files in directory transfers, 0 for DefaultParallel

	Logger zerolog.Logger

	// Executor replaces the HTTP transport. The client does not close it.
	Executor transport.Executor
}

func (cfg Config) auth() webdav.Auth {
	switch {
	case cfg.Token != "":
		return webdav.BearerAuth(cfg.Token)
	case cfg.Username != "":
		return webdav.BasicAuth(cfg.Username, cfg.Password)
	}
	return webdav.NoAuth()
}

// Client is a session against one server.
type Client struct {
	builder  *webdav.Builder
	parser   webdav.Parser
	exec     transport.Executor
	ownsExec bool
	engine   *transfer.Engine
	parallel int
	log      zerolog.Logger

	// ctx is cancelled by Close and parents every operation
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

// Open validates cfg and prepares a session. No request is sent.
func Open(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("server url is required")
	}
	builder, err := webdav.NewBuilder(cfg.URL, cfg.auth())
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	exec, owns := cfg.Executor, false
	if exec == nil {
		h, err := transport.New(transport.Options{
			Timeout:             timeout,
			Insecure:            cfg.Insecure,
			Proxy:               cfg.Proxy,
			MaxIdleConnsPerHost: parallel * 2,
			Logger:              cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		exec, owns = h, true
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		builder:  builder,
		parser:   webdav.Parser{Base: builder.Root()},
		exec:     exec,
		ownsExec: owns,
		engine:   transfer.New(exec, builder, cfg.ChunkSize, cfg.Logger),
		parallel: parallel,
		log:      cfg.Logger.With().Str("server", cfg.URL).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.log.Debug().Str("auth", builder.Auth().String()).Int("chunk", c.engine.ChunkSize()).Msg("session opened")
	return c, nil
}

// With opens a client, runs fn and closes the client however fn returns.
func With(ctx context.Context, cfg Config, fn func(context.Context, *Client) error) (err error) {
	c, err := Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, c)
}

// Close rejects new operations, cancels running ones, waits for them and
// releases pooled connections. It is safe to call more than once.
func (c *Client) Close() error {
	c.reject()
	c.cancel()
	c.wg.Wait()
	return c.release()
}

// Shutdown is Close that lets running operations finish until ctx is done.
func (c *Client) Shutdown(ctx context.Context) error {
	c.reject()
	idle := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		c.cancel()
		<-idle
	}
	c.cancel()
	return c.release()
}

func (c *Client) reject() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Client) release() error {
	var err error
	c.once.Do(func() {
		c.log.Debug().Msg("session closed")
		if c.ownsExec {
			err = c.exec.Close()
		}
	})
	return err
}

// begin admits one operation. The returned context is cancelled when the
// caller's context is or when the client closes; done must be called.
func (c *Client) begin(ctx context.Context) (context.Context, func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		c.wg.Done()
	}, nil
}

// Root is the server path every client path is resolved under.
func (c *Client) Root() string { return c.builder.Root().String() }

// URL is the absolute URL of path on the server.
func (c *Client) URL(path string) (string, error) {
	u, err := urn.Normalize(path)
	if err != nil {
		return "", err
	}
	return c.builder.URL(u), nil
}

// failure maps an executor error onto ErrNetwork. A cancelled context wins
// over whatever the transport made of it.
func failure(ctx context.Context, op string, u urn.Urn, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	return fmt.Errorf("%s %s: %w: %w", op, u, ErrNetwork, err)
}
