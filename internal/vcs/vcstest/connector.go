package vcstest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/wc"
)

func init() {
	vcs.Register(vcs.TypeMemory, func(root string, _ vcs.Options) (vcs.Connector, error) {
		return NewRepo().Import(osfs.New(root))
	})
}

// Op names a connector operation for call recording and failure injection
type Op string

const (
	OpStatus         Op = "status"
	OpRevert         Op = "revert"
	OpUpdate         Op = "update"
	OpCommit         Op = "commit"
	OpDelete         Op = "delete"
	OpMergeStatus    Op = "merge-status"
	OpMerge          Op = "merge"
	OpGetProperties  Op = "get-properties"
	OpSetProperty    Op = "set-property"
	OpRemoveProperty Op = "remove-property"
	OpCat            Op = "cat"
)

// Call is one recorded connector call
type Call struct {
	Op       Op
	Paths    []string
	Revision vcs.Revision
	Message  string
}

// baseEntry is the checked-out state of a versioned node
type baseEntry struct {
	rev int
	*node
}

// conflictMark records an unresolved conflict on a path
type conflictMark struct {
	tree *vcs.TreeConflict
}

// Connector is a working copy of a Repo
type Connector struct {
	repo *Repo
	wc   *wc.Tree

	mu        sync.Mutex
	base      map[string]baseEntry
	added     map[string]vcs.NodeKind
	deleted   map[string]struct{}
	props     map[string]map[string][]byte
	conflicts map[string]conflictMark
	forced    map[string]vcs.State
	failures  map[string]error
	calls     []Call

	// Ignore holds doublestar globs reported as ignored instead of unversioned
	Ignore []string
}

var _ vcs.Connector = (*Connector)(nil)

func newConnector(repo *Repo, fs billy.Filesystem) *Connector {
	return &Connector{
		repo:      repo,
		wc:        wc.New(fs),
		base:      make(map[string]baseEntry),
		added:     make(map[string]vcs.NodeKind),
		deleted:   make(map[string]struct{}),
		props:     make(map[string]map[string][]byte),
		conflicts: make(map[string]conflictMark),
		forced:    make(map[string]vcs.State),
		failures:  make(map[string]error),
	}
}

// Checkout materializes rev on fs and returns the working copy
func (r *Repo) Checkout(fs billy.Filesystem, rev vcs.Revision) (*Connector, error) {
	t, n, err := r.snapshot(rev)
	if err != nil {
		return nil, err
	}
	c := newConnector(r, fs)
	for _, p := range t.under("", vcs.DepthInfinity) {
		if err := c.materialize(p, t[p]); err != nil {
			return nil, err
		}
		c.checkout(p, n, t[p])
	}
	return c, nil
}

// Import commits everything on fs as a new revision and returns fs as a
// working copy of it
func (r *Repo) Import(fs billy.Filesystem) (*Connector, error) {
	local := wc.New(fs)
	files := make(map[string][]byte)
	var dirs []string
	err := local.Walk("", func(p string, kind vcs.NodeKind) error {
		if kind == vcs.KindDir {
			dirs = append(dirs, p)
			return nil
		}
		data, err := local.ReadFile(p)
		files[p] = data
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to import working copy: %w", err)
	}

	n, _, err := r.commit("import", func(head tree) ([]string, error) {
		var touched []string
		for _, d := range dirs {
			if d != "" {
				head[d] = &node{kind: vcs.KindDir}
				touched = append(touched, d)
			}
		}
		for p, data := range files {
			head[p] = &node{kind: vcs.KindFile, content: data}
			touched = append(touched, p)
		}
		return touched, nil
	})
	if err != nil {
		return nil, err
	}

	t, _, _ := r.snapshot(revision(n))
	c := newConnector(r, fs)
	for p, nd := range t {
		c.checkout(p, n, nd)
	}
	return c, nil
}

func (c *Connector) checkout(p string, rev int, n *node) {
	c.base[p] = baseEntry{rev: rev, node: n}
	c.props[p] = cloneProps(n.props)
}

// Repo returns the repository behind the working copy
func (c *Connector) Repo() *Repo {
	return c.repo
}

// Tree returns the working copy files
func (c *Connector) Tree() *wc.Tree {
	return c.wc
}

// ===================
// Test controls
// ===================

// Fail makes every op call on path return err until ClearFailures
func (c *Connector) Fail(op Op, path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[string(op)+" "+vcs.CleanPath(path)] = err
}

// ClearFailures removes all injected failures
func (c *Connector) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = make(map[string]error)
}

// ForceState makes Status report state for path
func (c *Connector) ForceState(path string, state vcs.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced[vcs.CleanPath(path)] = state
}

// MarkTreeConflict records a tree conflict on path as an update would
func (c *Connector) MarkTreeConflict(path string, incoming vcs.NodeKind, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts[vcs.CleanPath(path)] = conflictMark{tree: &vcs.TreeConflict{Incoming: incoming, Reason: reason}}
}

// Calls returns the recorded calls
func (c *Connector) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsOf returns the recorded calls of one operation
func (c *Connector) CallsOf(op Op) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// ResetCalls forgets the recorded calls
func (c *Connector) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// BaseRevision returns the checked-out revision of path
func (c *Connector) BaseRevision(path string) (vcs.Revision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.base[vcs.CleanPath(path)]
	if !ok {
		return "", false
	}
	return revision(b.rev), true
}

// record logs a call and returns an injected failure. Caller holds c.mu.
func (c *Connector) record(call Call) error {
	c.calls = append(c.calls, call)
	for _, p := range call.Paths {
		if err, ok := c.failures[string(call.Op)+" "+vcs.CleanPath(p)]; ok {
			return err
		}
	}
	return nil
}

// ===================
// Identity
// ===================

// Name implements vcs.Connector
func (c *Connector) Name() vcs.Type {
	return vcs.TypeMemory
}

// Root implements vcs.Connector
func (c *Connector) Root() string {
	return c.wc.Root()
}

// ===================
// Status
// ===================

// Status implements vcs.Connector
func (c *Connector) Status(ctx context.Context, path string, depth vcs.Depth) ([]vcs.EntryStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path = vcs.CleanPath(path)
	if err := c.record(Call{Op: OpStatus, Paths: []string{path}}); err != nil {
		return nil, err
	}

	paths, err := c.known(path, depth)
	if err != nil {
		return nil, err
	}
	out := make([]vcs.EntryStatus, 0, len(paths))
	for _, p := range paths {
		st, err := c.status(p)
		if err != nil {
			return nil, err
		}
		if st.State != vcs.StateNotExists {
			out = append(out, st)
		}
	}
	return out, nil
}

// known lists every path at or below root within depth that the
// working copy knows of, on disk or in its administrative state.
func (c *Connector) known(root string, depth vcs.Depth) ([]string, error) {
	set := make(map[string]struct{})
	add := func(p string) {
		if vcs.WithinDepth(root, p, depth) {
			set[p] = struct{}{}
		}
	}
	for p := range c.base {
		add(p)
	}
	for p := range c.added {
		add(p)
	}
	err := c.wc.Walk(root, func(p string, _ vcs.NodeKind) error {
		add(p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	wc.SortParentsFirst(paths)
	return paths, nil
}

func (c *Connector) status(p string) (vcs.EntryStatus, error) {
	disk, err := c.wc.Stat(p)
	if err != nil {
		return vcs.EntryStatus{}, err
	}
	b, versioned := c.base[p]
	addedKind, added := c.added[p]
	_, deleted := c.deleted[p]

	st := vcs.EntryStatus{Path: p, Kind: disk}
	if versioned {
		st.Revision = revision(b.rev)
		if disk == vcs.KindNone {
			st.Kind = b.kind
		}
	}
	if added && disk == vcs.KindNone {
		st.Kind = addedKind
	}

	if forced, ok := c.forced[p]; ok {
		st.State = forced
		return st, nil
	}
	if mark, ok := c.conflicts[p]; ok {
		st.State = vcs.StateConflicting
		st.TreeConflict = mark.tree
		return st, nil
	}

	switch {
	case deleted && added:
		st.State = vcs.StateReplaced
	case deleted && disk != vcs.KindNone:
		st.State = vcs.StatePrereplaced
	case deleted:
		st.State = vcs.StateDeleted
	case added:
		st.State = vcs.StateAdded
	case versioned && disk == vcs.KindNone:
		st.State = vcs.StateMissing
	case versioned:
		modified, err := c.modified(p)
		if err != nil {
			return st, err
		}
		st.State = vcs.StateNormal
		if modified {
			st.State = vcs.StateModified
		}
	case disk != vcs.KindNone:
		st.State = vcs.StateUnversioned
		if c.ignored(p) {
			st.State = vcs.StateIgnored
		}
	default:
		st.State = vcs.StateNotExists
	}
	return st, nil
}

// modified reports local edits of the versioned node p itself
func (c *Connector) modified(p string) (bool, error) {
	b := c.base[p]
	if !equalProps(c.props[p], b.props) {
		return true, nil
	}
	disk, err := c.wc.Stat(p)
	if err != nil {
		return false, err
	}
	if disk != b.kind {
		return true, nil
	}
	if disk != vcs.KindFile {
		return false, nil
	}
	data, err := c.wc.ReadFile(p)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(data, b.content), nil
}

// dirty reports local changes at or below p
func (c *Connector) dirty(p string) (bool, error) {
	for q := range c.base {
		if !vcs.IsAncestor(p, q) {
			continue
		}
		if _, ok := c.deleted[q]; ok {
			return true, nil
		}
		if _, ok := c.conflicts[q]; ok {
			return true, nil
		}
		disk, err := c.wc.Stat(q)
		if err != nil {
			return false, err
		}
		if disk == vcs.KindNone {
			continue
		}
		modified, err := c.modified(q)
		if err != nil || modified {
			return modified, err
		}
	}
	for q := range c.added {
		if vcs.IsAncestor(p, q) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Connector) ignored(p string) bool {
	for _, pattern := range c.Ignore {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, wc.Name(p)); ok {
			return true
		}
	}
	return false
}

// ===================
// Working copy mutations
// ===================

// Revert implements vcs.Connector
func (c *Connector) Revert(ctx context.Context, path string, recursive bool, notify vcs.NotifyFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path = vcs.CleanPath(path)
	if err := c.record(Call{Op: OpRevert, Paths: []string{path}}); err != nil {
		return err
	}

	depth := vcs.DepthEmpty
	if recursive {
		depth = vcs.DepthInfinity
	}
	paths, err := c.known(path, depth)
	if err != nil {
		return err
	}
	for _, p := range paths {
		reverted, err := c.revert(p)
		if err != nil {
			return fmt.Errorf("failed to revert %s: %w", p, err)
		}
		if reverted {
			notify.Emit(vcs.Notification{Path: p, Action: vcs.ActionRevert})
		}
	}
	return nil
}

func (c *Connector) revert(p string) (bool, error) {
	st, err := c.status(p)
	if err != nil {
		return false, err
	}
	if !vcs.FilterRevertable.Accept(st.State) {
		return false, nil
	}
	delete(c.conflicts, p)
	delete(c.deleted, p)
	if _, ok := c.added[p]; ok {
		// the file stays on disk, unversioned
		delete(c.added, p)
		delete(c.props, p)
		if _, versioned := c.base[p]; !versioned {
			return true, nil
		}
	}
	b, ok := c.base[p]
	if !ok {
		return true, nil
	}
	c.props[p] = cloneProps(b.props)
	return true, c.materialize(p, b.node)
}

// materialize writes n to disk at p, replacing a node of the other kind
func (c *Connector) materialize(p string, n *node) error {
	disk, err := c.wc.Stat(p)
	if err != nil {
		return err
	}
	if disk != vcs.KindNone && disk != n.kind {
		if err := c.wc.RemoveAll(p); err != nil {
			return err
		}
	}
	if n.kind == vcs.KindDir {
		return c.wc.MkdirAll(p)
	}
	if disk == vcs.KindFile {
		current, err := c.wc.ReadFile(p)
		if err != nil {
			return err
		}
		if bytes.Equal(current, n.content) {
			return nil
		}
	}
	return c.wc.WriteFile(p, n.content)
}

// Update implements vcs.Connector
func (c *Connector) Update(ctx context.Context, paths []string, rev vcs.Revision, opts vcs.UpdateOptions, notify vcs.NotifyFunc) (vcs.Revision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	targets := wc.ShrinkChildNodes(paths)
	if err := c.record(Call{Op: OpUpdate, Paths: targets, Revision: rev}); err != nil {
		return "", err
	}

	t, n, err := c.repo.snapshot(rev)
	if err != nil {
		return "", err
	}
	for _, root := range targets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := c.update(root, t, n, opts.Depth, notify); err != nil {
			return "", fmt.Errorf("failed to update %s: %w", root, err)
		}
	}
	return revision(n), nil
}

func (c *Connector) update(root string, t tree, rev int, depth vcs.Depth, notify vcs.NotifyFunc) error {
	set := make(map[string]struct{})
	for p := range c.base {
		if vcs.WithinDepth(root, p, depth) {
			set[p] = struct{}{}
		}
	}
	for _, p := range t.under(root, depth) {
		set[p] = struct{}{}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	wc.SortParentsFirst(paths)

	for _, p := range paths {
		if err := c.updateOne(p, t[p], rev, notify); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) treeConflict(p string, incoming vcs.NodeKind, reason string, notify vcs.NotifyFunc) {
	c.conflicts[p] = conflictMark{tree: &vcs.TreeConflict{Incoming: incoming, Reason: reason}}
	notify.Emit(vcs.Notification{Path: p, Action: vcs.ActionTreeConflict, Kind: incoming})
}

func (c *Connector) underConflict(p string) bool {
	for q, mark := range c.conflicts {
		if mark.tree != nil && q != p && vcs.IsAncestor(q, p) {
			return true
		}
	}
	return false
}

func (c *Connector) updateOne(p string, incoming *node, rev int, notify vcs.NotifyFunc) error {
	b, versioned := c.base[p]
	_, added := c.added[p]
	_, deleted := c.deleted[p]

	if c.underConflict(p) {
		return nil
	}

	switch {
	case added || deleted:
		if incoming != nil && (!versioned || !incoming.sameAs(b.node)) {
			c.treeConflict(p, incoming.kind, "local schedule, incoming change", notify)
		}
		if versioned && incoming != nil {
			c.base[p] = baseEntry{rev: rev, node: incoming}
		}
		return nil

	case !versioned && incoming == nil:
		return nil

	case !versioned:
		disk, err := c.wc.Stat(p)
		if err != nil {
			return err
		}
		if disk != vcs.KindNone && disk != incoming.kind {
			c.treeConflict(p, incoming.kind, "local unversioned, incoming add", notify)
			return nil
		}
		if disk == vcs.KindFile {
			data, err := c.wc.ReadFile(p)
			if err != nil {
				return err
			}
			if !bytes.Equal(data, incoming.content) {
				c.treeConflict(p, incoming.kind, "local unversioned, incoming add", notify)
				return nil
			}
		}
		if err := c.materialize(p, incoming); err != nil {
			return err
		}
		c.checkout(p, rev, incoming)
		notify.Emit(vcs.Notification{Path: p, Action: vcs.ActionUpdateAdd, Kind: incoming.kind, Revision: revision(rev)})
		return nil

	case incoming == nil:
		dirty, err := c.dirty(p)
		if err != nil {
			return err
		}
		if dirty {
			c.treeConflict(p, vcs.KindNone, "local edit, incoming delete", notify)
			return nil
		}
		if err := c.wc.RemoveAll(p); err != nil {
			return err
		}
		delete(c.base, p)
		delete(c.props, p)
		notify.Emit(vcs.Notification{Path: p, Action: vcs.ActionUpdateDelete, Kind: b.kind, Revision: revision(rev)})
		return nil
	}

	disk, err := c.wc.Stat(p)
	if err != nil {
		return err
	}
	if disk == vcs.KindNone {
		// missing nodes are restored
		if err := c.materialize(p, incoming); err != nil {
			return err
		}
		c.checkout(p, rev, incoming)
		notify.Emit(vcs.Notification{Path: p, Action: vcs.ActionUpdateAdd, Kind: incoming.kind, Revision: revision(rev)})
		return nil
	}

	if b.kind != incoming.kind {
		dirty, err := c.dirty(p)
		if err != nil {
			return err
		}
		if dirty {
			c.treeConflict(p, incoming.kind, "local edit, incoming replace", notify)
			return nil
		}
		if err := c.materialize(p, incoming); err != nil {
			return err
		}
		c.checkout(p, rev, incoming)
		notify.Emit(vcs.Notification{Path: p, Action: vcs.ActionUpdateUpdate, Kind: incoming.kind,
			ContentState: vcs.StatusChanged, Revision: revision(rev)})
		return nil
	}

	note := vcs.Notification{Path: p, Action: vcs.ActionUpdateUpdate, Kind: incoming.kind, Revision: revision(rev)}
	if incoming.kind == vcs.KindFile && !bytes.Equal(b.content, incoming.content) {
		current, err := c.wc.ReadFile(p)
		if err != nil {
			return err
		}
		switch {
		case bytes.Equal(current, b.content):
			if err := c.wc.WriteFile(p, incoming.content); err != nil {
				return err
			}
			note.ContentState = vcs.StatusChanged
		case bytes.Equal(current, incoming.content):
			note.ContentState = vcs.StatusMerged
		default:
			c.conflicts[p] = conflictMark{}
			note.ContentState = vcs.StatusConflicted
		}
	}
	if !equalProps(b.props, incoming.props) {
		switch {
		case equalProps(c.props[p], b.props):
			c.props[p] = cloneProps(incoming.props)
			note.PropState = vcs.StatusChanged
		case equalProps(c.props[p], incoming.props):
			note.PropState = vcs.StatusMerged
		default:
			c.conflicts[p] = conflictMark{}
			note.PropState = vcs.StatusConflicted
		}
	}
	c.base[p] = baseEntry{rev: rev, node: incoming}
	if note.ContentState != vcs.StatusUnchanged || note.PropState != vcs.StatusUnchanged {
		notify.Emit(note)
	}
	return nil
}

// Commit implements vcs.Connector
func (c *Connector) Commit(ctx context.Context, paths []string, message string, opts vcs.CommitOptions, notify vcs.NotifyFunc) (vcs.CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	targets := wc.ShrinkChildNodes(paths)
	if err := c.record(Call{Op: OpCommit, Paths: targets, Message: message}); err != nil {
		return vcs.CommitResult{}, err
	}

	changes, err := c.collect(targets, opts.Depth)
	if err != nil {
		return vcs.CommitResult{}, err
	}
	if len(changes) == 0 {
		return vcs.CommitResult{}, nil
	}

	for _, ch := range changes {
		if b, ok := c.base[ch.path]; ok && c.repo.changedSince(b.rev, ch.path) {
			return vcs.CommitResult{}, &vcs.ConflictError{Path: ch.path, Detail: vcs.ErrOutOfDate.Error()}
		}
	}

	rev, touched, err := c.repo.commit(message, func(head tree) ([]string, error) {
		var touched []string
		for _, ch := range changes {
			if ch.node == nil {
				head.remove(ch.path)
			} else {
				if _, ok := head[wc.Parent(ch.path)]; !ok {
					return nil, fmt.Errorf("%w: parent of %s", vcs.ErrNotVersioned, ch.path)
				}
				if old, ok := head[ch.path]; ok && old.kind != ch.node.kind {
					head.remove(ch.path)
				}
				head[ch.path] = ch.node
			}
			touched = append(touched, ch.path)
		}
		return touched, nil
	})
	if err != nil {
		return vcs.CommitResult{}, err
	}

	for _, ch := range changes {
		delete(c.added, ch.path)
		delete(c.deleted, ch.path)
		if ch.node == nil {
			for q := range c.base {
				if vcs.IsAncestor(ch.path, q) {
					delete(c.base, q)
					delete(c.props, q)
					delete(c.deleted, q)
				}
			}
		} else {
			c.base[ch.path] = baseEntry{rev: rev, node: ch.node}
		}
		notify.Emit(vcs.Notification{Path: ch.path, Action: vcs.ActionCommitted, Revision: revision(rev)})
	}

	result := vcs.CommitResult{Revision: revision(rev)}
	if hook := c.repo.PostCommitHook; hook != nil {
		result.PostCommitErrors = hook(result.Revision, touched)
	}
	return result, nil
}

type change struct {
	path string
	// node is nil for deletions
	node *node
}

// collect gathers committable changes below targets, parents first
func (c *Connector) collect(targets []string, depth vcs.Depth) ([]change, error) {
	var changes []change
	for _, root := range targets {
		paths, err := c.known(root, depth)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if c.coveredByDeletion(p, changes) {
				continue
			}
			st, err := c.status(p)
			if err != nil {
				return nil, err
			}
			switch st.State {
			case vcs.StateConflicting:
				return nil, &vcs.ConflictError{Path: p, Detail: "remains in conflict"}
			case vcs.StateDeleted, vcs.StatePrereplaced:
				changes = append(changes, change{path: p})
			case vcs.StateAdded, vcs.StateReplaced, vcs.StateModified:
				n, err := c.working(p)
				if err != nil {
					return nil, err
				}
				changes = append(changes, change{path: p, node: n})
			}
		}
	}
	return changes, nil
}

func (c *Connector) coveredByDeletion(p string, changes []change) bool {
	for _, ch := range changes {
		if ch.node == nil && ch.path != p && vcs.IsAncestor(ch.path, p) {
			return true
		}
	}
	return false
}

// working builds the node to commit for p from disk and working props
func (c *Connector) working(p string) (*node, error) {
	kind, err := c.wc.Stat(p)
	if err != nil {
		return nil, err
	}
	n := &node{kind: kind, props: cloneProps(c.props[p])}
	switch kind {
	case vcs.KindFile:
		if n.content, err = c.wc.ReadFile(p); err != nil {
			return nil, err
		}
	case vcs.KindNone:
		return nil, fmt.Errorf("%w: %s", vcs.ErrPathNotFound, p)
	}
	return n, nil
}

// Delete implements vcs.Connector
func (c *Connector) Delete(ctx context.Context, path string, notify vcs.NotifyFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path = vcs.CleanPath(path)
	if err := c.record(Call{Op: OpDelete, Paths: []string{path}}); err != nil {
		return err
	}

	disk, err := c.wc.Stat(path)
	if err != nil {
		return err
	}
	_, versioned := c.base[path]
	_, added := c.added[path]
	if !versioned && !added && disk == vcs.KindNone {
		return fmt.Errorf("%w: %s", vcs.ErrPathNotFound, path)
	}

	for q := range c.added {
		if vcs.IsAncestor(path, q) {
			delete(c.added, q)
			if _, ok := c.base[q]; !ok {
				delete(c.props, q)
			}
		}
	}
	for q := range c.base {
		if vcs.IsAncestor(path, q) {
			c.deleted[q] = struct{}{}
			delete(c.conflicts, q)
		}
	}
	if err := c.wc.RemoveAll(path); err != nil {
		return err
	}
	notify.Emit(vcs.Notification{Path: path, Action: vcs.ActionDelete, Kind: disk})
	return nil
}

// Add schedules path and everything below it for addition
func (c *Connector) Add(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wc.Walk(path, func(p string, kind vcs.NodeKind) error {
		if _, versioned := c.base[p]; versioned {
			if _, deleted := c.deleted[p]; !deleted {
				return nil
			}
		}
		c.added[p] = kind
		return nil
	})
}

// ===================
// Properties
// ===================

func (c *Connector) versioned(p string) bool {
	_, b := c.base[p]
	_, a := c.added[p]
	return a || b
}

// GetProperties implements vcs.Connector
func (c *Connector) GetProperties(ctx context.Context, path string) ([]vcs.Property, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path = vcs.CleanPath(path)
	if err := c.record(Call{Op: OpGetProperties, Paths: []string{path}}); err != nil {
		return nil, err
	}
	if !c.versioned(path) {
		return nil, fmt.Errorf("%w: %s", vcs.ErrNotVersioned, path)
	}
	return propList(c.props[path]), nil
}

// SetProperty implements vcs.Connector
func (c *Connector) SetProperty(ctx context.Context, path, name string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path = vcs.CleanPath(path)
	if err := c.record(Call{Op: OpSetProperty, Paths: []string{path}}); err != nil {
		return err
	}
	if !c.versioned(path) {
		return fmt.Errorf("%w: %s", vcs.ErrNotVersioned, path)
	}
	if c.props[path] == nil {
		c.props[path] = make(map[string][]byte)
	}
	c.props[path][name] = append([]byte(nil), value...)
	return nil
}

// RemoveProperty implements vcs.Connector
func (c *Connector) RemoveProperty(ctx context.Context, path, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path = vcs.CleanPath(path)
	if err := c.record(Call{Op: OpRemoveProperty, Paths: []string{path}}); err != nil {
		return err
	}
	if !c.versioned(path) {
		return fmt.Errorf("%w: %s", vcs.ErrNotVersioned, path)
	}
	delete(c.props[path], name)
	if len(c.props[path]) == 0 {
		c.props[path] = nil
	}
	return nil
}

// ===================
// Content
// ===================

// Cat implements vcs.Connector
func (c *Connector) Cat(ctx context.Context, ref vcs.EntryRef) (io.ReadCloser, error) {
	c.mu.Lock()
	p := vcs.CleanPath(ref.Path)
	err := c.record(Call{Op: OpCat, Paths: []string{p}, Revision: ref.Revision})
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	t, _, err := c.repo.snapshot(ref.Revision)
	if err != nil {
		return nil, err
	}
	n, ok := t[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vcs.ErrPathNotFound, ref)
	}
	if n.kind != vcs.KindFile {
		return nil, fmt.Errorf("%s is not a file", ref)
	}
	return io.NopCloser(bytes.NewReader(n.content)), nil
}
