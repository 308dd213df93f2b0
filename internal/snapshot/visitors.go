package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wcsync/wcsync/internal/changetree"
	"github.com/wcsync/wcsync/internal/report"
	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/wc"
)

// MineSuffix is appended to a path when captured content cannot be put
// back at its own location.
const MineSuffix = ".mine"

// PropertyReader reads versioned properties
type PropertyReader interface {
	GetProperties(ctx context.Context, path string) ([]vcs.Property, error)
}

// PropertyWriter reads and writes versioned properties
type PropertyWriter interface {
	PropertyReader
	SetProperty(ctx context.Context, path, name string, value []byte) error
	RemoveProperty(ctx context.Context, path, name string) error
}

// ===================
// Save
// ===================

// SaveProperties captures the versioned properties of every node
type SaveProperties struct {
	Conn PropertyReader
}

// PreVisit implements changetree.Visitor
func (v SaveProperties) PreVisit(ctx context.Context, t *changetree.Tree, id changetree.NodeID, _ changetree.Processor) error {
	n := t.Node(id)
	if !vcs.FilterVersioned.Accept(n.State) && n.State != vcs.StateAdded {
		return nil
	}
	props, err := v.Conn.GetProperties(ctx, n.Path)
	switch {
	case errors.Is(err, vcs.ErrNotSupported), errors.Is(err, vcs.ErrNotVersioned):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read properties of %s: %w", n.Path, err)
	}
	n.Props = props
	n.PropsCaptured = true
	return nil
}

// PostVisit implements changetree.Visitor
func (SaveProperties) PostVisit(context.Context, *changetree.Tree, changetree.NodeID, changetree.Processor) error {
	return nil
}

// SaveContent copies every node present on disk into the store
type SaveContent struct {
	Store *Store
	Tree  *wc.Tree
}

// PreVisit implements changetree.Visitor
func (v SaveContent) PreVisit(_ context.Context, t *changetree.Tree, id changetree.NodeID, _ changetree.Processor) error {
	n := t.Node(id)
	if n.Content != nil {
		return nil
	}
	kind, err := v.Tree.Stat(n.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotIO, err)
	}

	var entry *Entry
	switch kind {
	case vcs.KindFile:
		f, err := v.Tree.OpenFile(n.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSnapshotIO, err)
		}
		entry, err = v.Store.CaptureFile(n.Path, f)
		_ = f.Close()
		if err != nil {
			return err
		}
	case vcs.KindDir:
		entry, err = v.Store.CaptureDir(n.Path)
		if err != nil {
			return err
		}
	default:
		return nil
	}
	t.Node(id).Content = entry
	return nil
}

// PostVisit implements changetree.Visitor
func (SaveContent) PostVisit(context.Context, *changetree.Tree, changetree.NodeID, changetree.Processor) error {
	return nil
}

// ===================
// Strip
// ===================

// RemoveNonVersioned deletes unversioned entries from disk, children
// before parents. Paths matching a Preserve glob are kept.
type RemoveNonVersioned struct {
	Tree *wc.Tree

	// IncludeAdded also removes entries scheduled for addition
	IncludeAdded bool

	// Preserve holds doublestar globs matched against the full path
	// and the base name
	Preserve []string
}

// PreVisit implements changetree.Visitor
func (RemoveNonVersioned) PreVisit(context.Context, *changetree.Tree, changetree.NodeID, changetree.Processor) error {
	return nil
}

// PostVisit implements changetree.Visitor
func (v RemoveNonVersioned) PostVisit(ctx context.Context, t *changetree.Tree, id changetree.NodeID, proc changetree.Processor) error {
	n := t.Node(id)
	if n.Path == "" || Preserved(v.Preserve, n.Path) {
		return nil
	}
	if !vcs.FilterUnversioned.Accept(n.State) && !(v.IncludeAdded && n.State == vcs.StateAdded) {
		return nil
	}
	if v.keepsPreserved(t, id) {
		return nil
	}
	p := n.Path
	proc.Do(ctx, "remove unversioned "+p, func(context.Context) error {
		return v.Tree.RemoveAll(p)
	})
	return nil
}

// Preserved reports whether p or one of its ancestors matches one of
// globs, by full path or by base name
func Preserved(globs []string, p string) bool {
	for dir := p; dir != ""; dir = wc.Parent(dir) {
		for _, pattern := range globs {
			if ok, _ := doublestar.Match(pattern, dir); ok {
				return true
			}
			if ok, _ := doublestar.Match(pattern, wc.Name(dir)); ok {
				return true
			}
		}
	}
	return false
}

// keepsPreserved reports whether a preserved entry lives below id
func (v RemoveNonVersioned) keepsPreserved(t *changetree.Tree, id changetree.NodeID) bool {
	if len(v.Preserve) == 0 {
		return false
	}
	for _, child := range t.Node(id).Children {
		if Preserved(v.Preserve, t.Node(child).Path) || v.keepsPreserved(t, child) {
			return true
		}
	}
	return false
}

// ===================
// Restore
// ===================

// RestoreContent writes captured content back and disposes every entry.
//
// With NodeKindChanged unset, content is reapplied onto the current
// resource: files are rewritten only when their bytes differ, folders
// are recreated, and entries deleted locally before the run are removed
// again. With NodeKindChanged set, captured bytes are written to new
// files unconditionally. Either way, captured content that meets a node
// of the other kind is written next to it under MineSuffix and a
// warning goes to Sink.
type RestoreContent struct {
	Tree            *wc.Tree
	NodeKindChanged bool
	Sink            report.Sink

	relocated map[string]string
}

// PreVisit implements changetree.Visitor
func (v *RestoreContent) PreVisit(ctx context.Context, t *changetree.Tree, id changetree.NodeID, proc changetree.Processor) error {
	n := t.Node(id)
	entry, _ := n.Content.(*Entry)
	if n.Content != nil && entry == nil {
		return nil
	}
	n.Content = nil
	p := n.Path
	state := n.State

	proc.Do(ctx, "restore "+p, func(context.Context) error {
		if entry == nil {
			return v.reapplyDeletion(p, state)
		}
		err := v.restore(entry)
		if derr := entry.Dispose(); derr != nil && err == nil {
			err = derr
		}
		return err
	})
	return nil
}

// PostVisit implements changetree.Visitor
func (*RestoreContent) PostVisit(context.Context, *changetree.Tree, changetree.NodeID, changetree.Processor) error {
	return nil
}

// target maps p below a relocated folder to its new place
func (v *RestoreContent) target(p string) string {
	for dir := p; ; dir = wc.Parent(dir) {
		if moved, ok := v.relocated[dir]; ok {
			if dir == p {
				return moved
			}
			return moved + p[len(dir):]
		}
		if dir == "" {
			return p
		}
	}
}

func (v *RestoreContent) relocate(p, to string) {
	if v.relocated == nil {
		v.relocated = make(map[string]string)
	}
	v.relocated[p] = to
}

func (v *RestoreContent) warn(msg string) {
	report.OrDiscard(v.Sink).Report(report.SeverityWarning, msg, nil)
}

func (v *RestoreContent) restore(e *Entry) error {
	dest := v.target(e.Source)
	current, err := v.Tree.Stat(dest)
	if err != nil {
		return err
	}

	if e.Kind == ContentDir {
		if current == vcs.KindFile {
			mine := dest + MineSuffix
			v.relocate(e.Source, mine)
			v.warn(fmt.Sprintf("%s is now a file, local folder content restored to %s", dest, mine))
			return v.Tree.MkdirAll(mine)
		}
		return v.Tree.MkdirAll(dest)
	}

	if current == vcs.KindDir {
		mine := dest + MineSuffix
		v.warn(fmt.Sprintf("%s is now a folder, local file content restored to %s", dest, mine))
		return v.copyTo(e, mine)
	}
	if current == vcs.KindFile && !v.NodeKindChanged {
		same, err := v.sameContent(e, dest)
		if err != nil || same {
			return err
		}
	}
	return v.copyTo(e, dest)
}

func (v *RestoreContent) copyTo(e *Entry, dest string) error {
	r, err := e.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	return v.Tree.WriteFrom(dest, r)
}

func (v *RestoreContent) sameContent(e *Entry, dest string) (bool, error) {
	current, err := v.Tree.ReadFile(dest)
	if err != nil {
		return false, err
	}
	if int64(len(current)) != e.Size {
		return false, nil
	}
	r, err := e.Open()
	if err != nil {
		return false, err
	}
	defer r.Close()
	captured, err := io.ReadAll(r)
	if err != nil {
		return false, fmt.Errorf("%w: failed to read back %s: %v", ErrSnapshotIO, e.Source, err)
	}
	return bytes.Equal(captured, current), nil
}

// reapplyDeletion removes a node that was deleted locally before the run
// and brought back by revert or update
func (v *RestoreContent) reapplyDeletion(p string, state vcs.State) error {
	if p == "" || (state != vcs.StateDeleted && state != vcs.StateMissing) {
		return nil
	}
	if !v.Tree.Exists(p) {
		return nil
	}
	return v.Tree.RemoveAll(p)
}

// RestoreProperties reapplies captured properties. Nothing happens when
// the node kind changed, since the captured set belongs to a node that
// no longer exists.
type RestoreProperties struct {
	Conn            PropertyWriter
	NodeKindChanged bool
	Sink            report.Sink
}

// PreVisit implements changetree.Visitor
func (v RestoreProperties) PreVisit(ctx context.Context, t *changetree.Tree, id changetree.NodeID, proc changetree.Processor) error {
	n := t.Node(id)
	if v.NodeKindChanged || !n.PropsCaptured {
		return nil
	}
	p := n.Path
	captured := n.Props

	proc.Do(ctx, "restore properties "+p, func(ctx context.Context) error {
		current, err := v.Conn.GetProperties(ctx, p)
		switch {
		case errors.Is(err, vcs.ErrNotSupported):
			return nil
		case errors.Is(err, vcs.ErrNotVersioned):
			if len(captured) > 0 {
				report.OrDiscard(v.Sink).Report(report.SeverityWarning,
					fmt.Sprintf("%s is no longer versioned, %d properties not restored", p, len(captured)), err)
			}
			return nil
		case err != nil:
			return err
		}
		return v.apply(ctx, p, captured, current)
	})
	return nil
}

// PostVisit implements changetree.Visitor
func (RestoreProperties) PostVisit(context.Context, *changetree.Tree, changetree.NodeID, changetree.Processor) error {
	return nil
}

func (v RestoreProperties) apply(ctx context.Context, p string, captured, current []vcs.Property) error {
	have := make(map[string][]byte, len(current))
	for _, prop := range current {
		have[prop.Name] = prop.Value
	}
	want := make(map[string]struct{}, len(captured))
	for _, prop := range captured {
		want[prop.Name] = struct{}{}
		if value, ok := have[prop.Name]; ok && bytes.Equal(value, prop.Value) {
			continue
		}
		if err := v.Conn.SetProperty(ctx, p, prop.Name, prop.Value); err != nil {
			return fmt.Errorf("failed to set %s on %s: %w", prop.Name, p, err)
		}
	}
	for _, prop := range current {
		if _, ok := want[prop.Name]; ok {
			continue
		}
		if err := v.Conn.RemoveProperty(ctx, p, prop.Name); err != nil {
			return fmt.Errorf("failed to remove %s from %s: %w", prop.Name, p, err)
		}
	}
	return nil
}
