package davclient

import (
	"context"

	"github.com/davio/internal/core/urn"
)

// Resource is a handle on one remote path. Rename and Move retarget it.
type Resource struct {
	c    *Client
	path urn.Urn
}

func (c *Client) Resource(path string) (*Resource, error) {
	u, err := urn.Normalize(path)
	if err != nil {
		return nil, err
	}
	return &Resource{c: c, path: u}, nil
}

func (r *Resource) Path() string { return r.path.String() }

func (r *Resource) Info(ctx context.Context) (ResourceProperty, error) {
	return r.c.Info(ctx, r.Path())
}

func (r *Resource) Exists(ctx context.Context) (bool, error) {
	return r.c.Exists(ctx, r.Path())
}

func (r *Resource) IsDir(ctx context.Context) (bool, error) {
	return r.c.IsDir(ctx, r.Path())
}

func (r *Resource) Delete(ctx context.Context) error {
	return r.c.Delete(ctx, r.Path())
}

func (r *Resource) Rename(ctx context.Context, name string) error {
	_, dst, err := renameTarget(r.Path(), name)
	if err != nil {
		return err
	}
	if err := r.c.Move(ctx, r.Path(), dst.String(), false); err != nil {
		return err
	}
	r.path = dst
	return nil
}

func (r *Resource) Move(ctx context.Context, dst string, overwrite bool) error {
	u, err := urn.Normalize(dst)
	if err != nil {
		return err
	}
	if err := r.c.Move(ctx, r.Path(), dst, overwrite); err != nil {
		return err
	}
	r.path = u
	return nil
}

// Copy duplicates the resource and returns a handle on the copy.
func (r *Resource) Copy(ctx context.Context, dst string, overwrite bool) (*Resource, error) {
	u, err := urn.Normalize(dst)
	if err != nil {
		return nil, err
	}
	if err := r.c.Copy(ctx, r.Path(), dst, overwrite); err != nil {
		return nil, err
	}
	return &Resource{c: r.c, path: u}, nil
}
