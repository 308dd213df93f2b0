// Package changetree mirrors a subtree of the working copy in memory.
//
// A Tree is an arena of nodes addressed by NodeID. Each node owns the
// IDs of its children and keeps its parent as a plain back-reference;
// the parent link is never used for ownership or cleanup. Trees are
// built per reconciliation run from the live working copy and are
// discarded afterwards.
package changetree

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/wcsync/wcsync/internal/vcs"
)

// NodeID addresses a node in its Tree
type NodeID int

// NoParent is the parent of the root node
const NoParent NodeID = -1

// ContentRef is a handle on captured content. It must be disposed exactly once.
type ContentRef interface {
	Dispose() error
}

// Node is one working copy entry
type Node struct {
	// Path is relative to the working copy root
	Path string

	// Kind is the node kind at the time the tree was built
	Kind vcs.NodeKind

	// State is the local state at the time the tree was built
	State vcs.State

	// TreeConflict is set when the backend reported a tree conflict
	TreeConflict *vcs.TreeConflict

	// Props are the captured properties, valid when PropsCaptured is set
	Props         []vcs.Property
	PropsCaptured bool

	// Content is the captured content, nil when nothing was captured
	Content ContentRef

	Parent   NodeID
	Children []NodeID
}

// IsDir reports whether the node was a folder when the tree was built
func (n *Node) IsDir() bool {
	return n.Kind == vcs.KindDir
}

// Tree is an arena of nodes; the root has ID 0
type Tree struct {
	nodes []Node
	index map[string]NodeID
}

// NewTree creates a tree holding only root
func NewTree(root Node) *Tree {
	t := &Tree{index: make(map[string]NodeID)}
	root.Parent = NoParent
	root.Children = nil
	t.insert(root)
	return t
}

func (t *Tree) insert(n Node) NodeID {
	n.Path = vcs.CleanPath(n.Path)
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	t.index[n.Path] = id
	return id
}

// Add appends n as the last child of parent and returns its ID
func (t *Tree) Add(parent NodeID, n Node) NodeID {
	n.Parent = parent
	n.Children = nil
	id := t.insert(n)
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	return id
}

// Root returns the ID of the root node
func (t *Tree) Root() NodeID {
	return 0
}

// Len returns the number of nodes
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node with the given ID. The pointer stays valid
// until the next Add.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// Find returns the ID of the node at path
func (t *Tree) Find(path string) (NodeID, bool) {
	id, ok := t.index[vcs.CleanPath(path)]
	return id, ok
}

// Walk calls fn for every node in pre-order until fn returns false.
func (t *Tree) Walk(fn func(id NodeID, n *Node) bool) {
	t.walk(t.Root(), fn)
}

func (t *Tree) walk(id NodeID, fn func(id NodeID, n *Node) bool) bool {
	if !fn(id, &t.nodes[id]) {
		return false
	}
	for _, child := range t.nodes[id].Children {
		if !t.walk(child, fn) {
			return false
		}
	}
	return true
}

// Any reports whether some node's state passes filter
func (t *Tree) Any(filter vcs.Filter) bool {
	found := false
	t.Walk(func(_ NodeID, n *Node) bool {
		found = filter.Accept(n.State)
		return !found
	})
	return found
}

// Paths returns the paths of all nodes in pre-order
func (t *Tree) Paths() []string {
	paths := make([]string, 0, len(t.nodes))
	t.Walk(func(_ NodeID, n *Node) bool {
		paths = append(paths, n.Path)
		return true
	})
	return paths
}

// Dispose releases every content handle still attached to a node,
// children before parents. It is safe to call more than once.
func (t *Tree) Dispose() error {
	var result error
	t.dispose(t.Root(), &result)
	return result
}

func (t *Tree) dispose(id NodeID, result *error) {
	for _, child := range t.nodes[id].Children {
		t.dispose(child, result)
	}
	n := &t.nodes[id]
	if n.Content == nil {
		return
	}
	if err := n.Content.Dispose(); err != nil {
		*result = multierror.Append(*result, fmt.Errorf("failed to dispose snapshot of %s: %w", n.Path, err))
	}
	n.Content = nil
}

// ===================
// Building
// ===================

// Source is the local tree provider
type Source interface {
	Stat(path string) (vcs.NodeKind, error)
	Children(path string) ([]string, error)
}

// StatusSource reports backend states
type StatusSource interface {
	Status(ctx context.Context, path string, depth vcs.Depth) ([]vcs.EntryStatus, error)
}

// Build wraps the resource at path and, for folders, its children down
// to depth. Entries known only to the backend (deleted, missing) are
// included so they can be restored later.
func Build(ctx context.Context, local Source, status StatusSource, path string, depth vcs.Depth) (*Tree, error) {
	path = vcs.CleanPath(path)

	statuses, err := status.Status(ctx, path, depth)
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", path, err)
	}
	b := &builder{
		local:    local,
		byPath:   make(map[string]vcs.EntryStatus, len(statuses)),
		children: make(map[string][]string),
	}
	for _, st := range statuses {
		p := vcs.CleanPath(st.Path)
		b.byPath[p] = st
		b.link(path, p)
	}

	root, err := b.node(path)
	if err != nil {
		return nil, err
	}
	t := NewTree(root)
	if depth != vcs.DepthEmpty {
		if err := b.expand(t, t.Root(), depth); err != nil {
			return nil, err
		}
	}
	return t, nil
}

type builder struct {
	local    Source
	byPath   map[string]vcs.EntryStatus
	children map[string][]string
}

// link records p under its parent, and every missing ancestor up to root.
func (b *builder) link(root, p string) {
	for p != root && vcs.IsAncestor(root, p) {
		parent := parentOf(p)
		for _, existing := range b.children[parent] {
			if existing == p {
				return
			}
		}
		b.children[parent] = append(b.children[parent], p)
		p = parent
	}
}

func (b *builder) node(path string) (Node, error) {
	kind, err := b.local.Stat(path)
	if err != nil {
		return Node{}, err
	}
	n := Node{Path: path, Kind: kind}
	st, known := b.byPath[path]
	switch {
	case known:
		n.State = st.State
		n.TreeConflict = st.TreeConflict
		if kind == vcs.KindNone {
			n.Kind = st.Kind
		}
	case kind != vcs.KindNone:
		n.State = vcs.StateNormal
	case len(b.children[path]) > 0:
		// an ancestor of entries known only to the backend
		n.Kind = vcs.KindDir
		n.State = vcs.StateMissing
	default:
		n.State = vcs.StateNotExists
	}
	return n, nil
}

func (b *builder) expand(t *Tree, id NodeID, depth vcs.Depth) error {
	parent := t.Node(id)
	if !parent.IsDir() {
		return nil
	}
	parentPath := parent.Path

	names, err := b.local.Children(parentPath)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(names))
	for _, p := range names {
		seen[vcs.CleanPath(p)] = struct{}{}
	}
	for _, p := range b.children[parentPath] {
		if _, ok := seen[p]; !ok {
			names = append(names, p)
			seen[p] = struct{}{}
		}
	}
	sortPaths(names)

	for _, p := range names {
		n, err := b.node(p)
		if err != nil {
			return err
		}
		child := t.Add(id, n)
		if depth == vcs.DepthInfinity {
			if err := b.expand(t, child, depth); err != nil {
				return err
			}
		}
	}
	return nil
}
