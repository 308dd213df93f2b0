// Package wc is the local tree provider: it resolves working copy paths
// on a billy filesystem and reports node existence and kind.
//
// Paths are relative to the working copy root and use forward slashes.
// Production code opens the working copy on disk with Open; tests use
// New(memfs.New()).
package wc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/wcsync/wcsync/internal/vcs"
)

// DefaultAdminDirs are backend metadata directories never reported as children
var DefaultAdminDirs = []string{".git", ".svn", ".hg"}

// Tree is a working copy on a billy filesystem
type Tree struct {
	fs    billy.Filesystem
	admin map[string]struct{}
}

// New wraps fs. The filesystem root is the working copy root.
func New(fs billy.Filesystem) *Tree {
	t := &Tree{fs: fs, admin: make(map[string]struct{}, len(DefaultAdminDirs))}
	for _, name := range DefaultAdminDirs {
		t.admin[name] = struct{}{}
	}
	return t
}

// Open returns the working copy rooted at dir on the OS filesystem.
func Open(dir string) (*Tree, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working copy root: %w", err)
	}
	return New(osfs.New(abs)), nil
}

// Filesystem returns the underlying filesystem
func (t *Tree) Filesystem() billy.Filesystem {
	return t.fs
}

// Root returns the root of the underlying filesystem
func (t *Tree) Root() string {
	return t.fs.Root()
}

// OSPath resolves p to a path on the underlying filesystem
func (t *Tree) OSPath(p string) string {
	return filepath.Join(t.fs.Root(), filepath.FromSlash(vcs.CleanPath(p)))
}

func fsPath(p string) string {
	p = vcs.CleanPath(p)
	if p == "" {
		return "."
	}
	return p
}

// Stat returns the kind of the node at p, or vcs.KindNone when nothing exists there.
func (t *Tree) Stat(p string) (vcs.NodeKind, error) {
	info, err := t.fs.Lstat(fsPath(p))
	if err != nil {
		// a path below a file does not exist either
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return vcs.KindNone, nil
		}
		return vcs.KindNone, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if info.IsDir() {
		return vcs.KindDir, nil
	}
	return vcs.KindFile, nil
}

// Exists reports whether anything exists at p
func (t *Tree) Exists(p string) bool {
	kind, err := t.Stat(p)
	return err == nil && kind != vcs.KindNone
}

// IsAdmin reports whether name is a backend metadata directory
func (t *Tree) IsAdmin(name string) bool {
	_, ok := t.admin[name]
	return ok
}

// Children lists the direct children of the folder at p, sorted by name.
// A missing folder or a file has no children.
func (t *Tree) Children(p string) ([]string, error) {
	kind, err := t.Stat(p)
	if err != nil {
		return nil, err
	}
	if kind != vcs.KindDir {
		return nil, nil
	}

	infos, err := t.fs.ReadDir(fsPath(p))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p, err)
	}

	children := make([]string, 0, len(infos))
	for _, info := range infos {
		if t.IsAdmin(info.Name()) {
			continue
		}
		children = append(children, vcs.JoinPath(p, info.Name()))
	}
	sort.Strings(children)
	return children, nil
}

// Walk calls fn for p and every node below it, parents before children.
func (t *Tree) Walk(p string, fn func(path string, kind vcs.NodeKind) error) error {
	kind, err := t.Stat(p)
	if err != nil {
		return err
	}
	if kind == vcs.KindNone {
		return nil
	}
	if err := fn(vcs.CleanPath(p), kind); err != nil {
		return err
	}
	if kind != vcs.KindDir {
		return nil
	}
	children, err := t.Children(p)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.Walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// ===================
// Content
// ===================

// ReadFile returns the content of the file at p
func (t *Tree) ReadFile(p string) ([]byte, error) {
	data, err := util.ReadFile(t.fs, fsPath(p))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

// OpenFile opens the file at p for reading
func (t *Tree) OpenFile(p string) (billy.File, error) {
	f, err := t.fs.Open(fsPath(p))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	return f, nil
}

// WriteFile replaces the content of the file at p, creating parents.
func (t *Tree) WriteFile(p string, data []byte) error {
	if err := t.ensureParent(p); err != nil {
		return err
	}
	if err := util.WriteFile(t.fs, fsPath(p), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

// WriteFrom replaces the content of the file at p with everything read from r.
func (t *Tree) WriteFrom(p string, r io.Reader) error {
	if err := t.ensureParent(p); err != nil {
		return err
	}
	f, err := t.fs.OpenFile(fsPath(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", p, err)
	}
	return nil
}

// MkdirAll creates the folder at p and any missing parents
func (t *Tree) MkdirAll(p string) error {
	if err := t.fs.MkdirAll(fsPath(p), 0755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", p, err)
	}
	return nil
}

// RemoveAll removes p and everything below it. Missing paths are ignored.
func (t *Tree) RemoveAll(p string) error {
	if vcs.CleanPath(p) == "" {
		return fmt.Errorf("refusing to remove the working copy root")
	}
	if !t.Exists(p) {
		return nil
	}
	if err := util.RemoveAll(t.fs, fsPath(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

func (t *Tree) ensureParent(p string) error {
	parent := filepath.ToSlash(filepath.Dir(filepath.FromSlash(vcs.CleanPath(p))))
	if parent == "." || parent == "" {
		return nil
	}
	kind, err := t.Stat(parent)
	if err != nil {
		return err
	}
	switch kind {
	case vcs.KindDir:
		return nil
	case vcs.KindFile:
		return fmt.Errorf("failed to create %s: parent %s is a file", p, parent)
	}
	return t.MkdirAll(parent)
}
