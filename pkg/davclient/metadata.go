package davclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/davio/internal/core/urn"
	"github.com/davio/internal/core/webdav"
)

// maxMultistatus bounds a PROPFIND response held in memory.
const maxMultistatus = 64 << 20

// PublicURL is the property a publishing server fills with the share link.
var PublicURL = PropName{Space: "urn:yandex:disk:meta", Local: "public_url"}

// do executes req and fails on any non-2xx status.
func (c *Client) do(ctx context.Context, req *webdav.Request, u urn.Urn) (*webdav.Response, error) {
	resp, err := c.exec.Execute(ctx, req)
	if err != nil {
		return nil, failure(ctx, req.Method, u, err)
	}
	if err := webdav.CheckStatus(req.Method, u, resp); err != nil {
		c.log.Debug().Str("method", req.Method).Str("path", u.String()).Err(err).Msg("request rejected")
		return nil, err
	}
	return resp, nil
}

// run executes a request whose response body carries nothing of interest.
func (c *Client) run(ctx context.Context, req *webdav.Request, u urn.Urn) error {
	resp, err := c.do(ctx, req, u)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxMultistatus))
	return resp.Body.Close()
}

// multistatus runs req and returns its body.
func (c *Client) multistatus(ctx context.Context, req *webdav.Request, u urn.Urn) ([]byte, error) {
	resp, err := c.do(ctx, req, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMultistatus+1))
	if err != nil {
		return nil, failure(ctx, req.Method, u, err)
	}
	if len(data) > maxMultistatus {
		return nil, fmt.Errorf("%w: %s %s: response too large (over %d bytes)",
			ErrMalformedResponse, req.Method, u, maxMultistatus)
	}
	if resp.StatusCode != webdav.StatusMultiStatus {
		c.log.Debug().Int("status", resp.StatusCode).Str("path", u.String()).Msg("propfind answered without 207")
	}
	return data, nil
}

func (c *Client) list(ctx context.Context, u urn.Urn) ([]ResourceProperty, error) {
	data, err := c.multistatus(ctx, c.builder.List(u), u)
	if err != nil {
		return nil, err
	}
	return c.parser.List(data, u)
}

func (c *Client) info(ctx context.Context, u urn.Urn) (ResourceProperty, error) {
	data, err := c.multistatus(ctx, c.builder.Info(u), u)
	if err != nil {
		return ResourceProperty{}, err
	}
	rp, err := c.parser.Info(data, u)
	if errors.Is(err, ErrResourceNotFound) {
		return rp, fmt.Errorf("%s: %w", u, err)
	}
	return rp, err
}

// List returns the direct members of the collection at path, in server
// order. The collection itself is not included.
func (c *Client) List(ctx context.Context, path string) ([]ResourceProperty, error) {
	u, err := urn.Normalize(path)
	if err != nil {
		return nil, err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return c.list(ctx, u)
}

// Info returns the properties of the resource at path.
func (c *Client) Info(ctx context.Context, path string) (ResourceProperty, error) {
	u, err := urn.Normalize(path)
	if err != nil {
		return ResourceProperty{}, err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return ResourceProperty{}, err
	}
	defer done()
	return c.info(ctx, u)
}

// Exists reports whether path exists. Only a "not found" answer makes it
// false; other failures are returned.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	_, err := c.Info(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrResourceNotFound):
		return false, nil
	}
	return false, err
}

func (c *Client) IsDir(ctx context.Context, path string) (bool, error) {
	rp, err := c.Info(ctx, path)
	if err != nil {
		return false, err
	}
	return rp.IsCollection, nil
}

// Mkdir creates one collection. The parent must exist.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	u, err := urn.Normalize(path)
	if err != nil {
		return err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.run(ctx, c.builder.Mkdir(u), u)
}

// MkdirAll creates path and any missing ancestors. Existing collections
// are left alone; an existing non-collection on the way is ErrConflict.
func (c *Client) MkdirAll(ctx context.Context, path string) error {
	u, err := urn.Normalize(path)
	if err != nil {
		return err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.mkdirAll(ctx, u)
}

func (c *Client) mkdirAll(ctx context.Context, u urn.Urn) error {
	if u.IsRoot() {
		return nil
	}
	chain := append(u.Ancestors(), u.AsCollection())

	// walk down to the first missing collection; everything below it is
	// missing too
	missing := len(chain)
	for i, dir := range chain {
		rp, err := c.info(ctx, dir)
		if errors.Is(err, ErrResourceNotFound) {
			missing = i
			break
		}
		if err != nil {
			return err
		}
		if !rp.IsCollection {
			return fmt.Errorf("%w: %s is not a collection", ErrConflict, dir)
		}
	}

	for _, dir := range chain[missing:] {
		err := c.run(ctx, c.builder.Mkdir(dir), dir)
		if err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	}
	return nil
}

// Delete removes path; collections are removed with their members.
func (c *Client) Delete(ctx context.Context, path string) error {
	u, err := urn.Normalize(path)
	if err != nil {
		return err
	}
	if u.IsRoot() {
		return fmt.Errorf("%w: refusing to delete the root collection", ErrInvalidPath)
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.run(ctx, c.builder.Delete(u), u)
}

// Move renames src to dst, replacing dst only when overwrite is set.
func (c *Client) Move(ctx context.Context, src, dst string, overwrite bool) error {
	return c.relocate(ctx, src, dst, overwrite, c.builder.Move)
}

// Copy duplicates src, recursively for collections, to dst.
func (c *Client) Copy(ctx context.Context, src, dst string, overwrite bool) error {
	return c.relocate(ctx, src, dst, overwrite, c.builder.Copy)
}

func (c *Client) relocate(ctx context.Context, src, dst string, overwrite bool, build func(src, dst urn.Urn, overwrite bool) *webdav.Request) error {
	from, err := urn.Normalize(src)
	if err != nil {
		return err
	}
	to, err := urn.Normalize(dst)
	if err != nil {
		return err
	}
	if urn.Equal(from, to) {
		return fmt.Errorf("%w: source and destination are both %s", ErrInvalidPath, from)
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.run(ctx, build(from, to, overwrite), from)
}

// Rename moves path within its parent collection without overwriting.
func (c *Client) Rename(ctx context.Context, path, name string) error {
	u, dst, err := renameTarget(path, name)
	if err != nil {
		return err
	}
	return c.Move(ctx, u.String(), dst.String(), false)
}

func renameTarget(path, name string) (urn.Urn, urn.Urn, error) {
	u, err := urn.Normalize(path)
	if err != nil {
		return u, u, err
	}
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return u, u, fmt.Errorf("%w: bad name %q", ErrInvalidPath, name)
	}
	dst, err := urn.Join(u.Parent(), name)
	return u, dst, err
}

// FreeSpace asks the server for its quota. Servers that do not report one
// yield a Quota with nil fields rather than an error.
func (c *Client) FreeSpace(ctx context.Context) (Quota, error) {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return Quota{}, err
	}
	defer done()
	data, err := c.multistatus(ctx, c.builder.FreeSpace(), urn.Root)
	if err != nil {
		return Quota{}, err
	}
	avail, used, err := c.parser.Quota(data)
	return Quota{Available: avail, Used: used}, err
}

// GetProperty reads one property of path. ok is false when the server
// has no value for it.
func (c *Client) GetProperty(ctx context.Context, path string, name PropName) (value string, ok bool, err error) {
	u, err := urn.Normalize(path)
	if err != nil {
		return "", false, err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer done()
	return c.property(ctx, u, name)
}

func (c *Client) property(ctx context.Context, u urn.Urn, name PropName) (string, bool, error) {
	data, err := c.multistatus(ctx, c.builder.PropFind(u, name), u)
	if err != nil {
		return "", false, err
	}
	all, err := c.parser.Parse(data)
	if err != nil {
		return "", false, err
	}
	for _, rp := range all {
		if urn.Equal(rp.Path, u) {
			v, ok := rp.Props[name.Local]
			return v, ok, nil
		}
	}
	return "", false, nil
}

// SetProperty stores a dead property on path.
func (c *Client) SetProperty(ctx context.Context, path string, name PropName, value string) error {
	return c.patch(ctx, path, []webdav.PropValue{{Name: name, Value: value}}, nil)
}

// RemoveProperty deletes a dead property from path.
func (c *Client) RemoveProperty(ctx context.Context, path string, name PropName) error {
	return c.patch(ctx, path, nil, []PropName{name})
}

func (c *Client) patch(ctx context.Context, path string, set []webdav.PropValue, remove []PropName) error {
	u, err := urn.Normalize(path)
	if err != nil {
		return err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.proppatch(ctx, u, set, remove)
}

func (c *Client) proppatch(ctx context.Context, u urn.Urn, set []webdav.PropValue, remove []PropName) error {
	data, err := c.multistatus(ctx, c.builder.PropPatch(u, set, remove), u)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return c.parser.Patched(data)
}

// Publish makes path reachable through a public link and returns it.
// Servers without public links fail with ErrNotSupported.
func (c *Client) Publish(ctx context.Context, path string) (string, error) {
	u, err := urn.Normalize(path)
	if err != nil {
		return "", err
	}
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	if err := c.proppatch(ctx, u, []webdav.PropValue{{Name: PublicURL, Value: "true"}}, nil); err != nil {
		return "", err
	}
	link, ok, err := c.property(ctx, u, PublicURL)
	if err != nil {
		return "", err
	}
	if !ok || !strings.Contains(link, "://") {
		return "", fmt.Errorf("%w: no public link for %s", ErrNotSupported, u)
	}
	return link, nil
}

// Unpublish revokes the public link of path.
func (c *Client) Unpublish(ctx context.Context, path string) error {
	return c.patch(ctx, path, nil, []PropName{PublicURL})
}
