package git

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/wcsync/wcsync/internal/vcs"
)

// Cat implements vcs.Connector by reading the blob from the object
// database through go-git.
func (c *Connector) Cat(ctx context.Context, ref vcs.EntryRef) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commit, err := c.commit(ref.Revision)
	if err != nil {
		return nil, err
	}
	file, err := commit.File(vcs.CleanPath(ref.Path))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("failed to cat %s: %w", ref, vcs.ErrPathNotFound)
		}
		return nil, fmt.Errorf("failed to cat %s: %w", ref, err)
	}
	return file.Reader()
}

// ===================
// Properties
// ===================

// GetProperties implements vcs.Connector; git has no versioned properties
func (c *Connector) GetProperties(ctx context.Context, path string) ([]vcs.Property, error) {
	return nil, vcs.ErrNotSupported
}

// SetProperty implements vcs.Connector
func (c *Connector) SetProperty(ctx context.Context, path, name string, value []byte) error {
	return vcs.ErrNotSupported
}

// RemoveProperty implements vcs.Connector
func (c *Connector) RemoveProperty(ctx context.Context, path, name string) error {
	return vcs.ErrNotSupported
}
