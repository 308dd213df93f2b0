// Package vcstest provides an in-memory backend for tests.
//
// A Repo keeps a linear history of immutable trees. A Connector is a
// working copy of a Repo on a billy filesystem (usually memfs) and
// implements vcs.Connector with svn-like semantics: versioned
// properties, scheduled additions and deletions, mixed-revision working
// copies, out-of-date commits and tree conflicts.
//
//	repo := vcstest.NewRepo()
//	repo.Apply("initial", func(tx *vcstest.Tx) {
//	    tx.WriteFile("docs/readme.txt", "hello")
//	})
//	conn, err := repo.Checkout(memfs.New(), vcs.RevisionHead)
package vcstest

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/wc"
)

// node is one repository entry; nodes are never mutated once committed
type node struct {
	kind    vcs.NodeKind
	content []byte
	props   map[string][]byte
}

func (n *node) sameAs(o *node) bool {
	return n.kind == o.kind && bytes.Equal(n.content, o.content) && equalProps(n.props, o.props)
}

// tree maps repository paths to nodes. The root "" is always a folder.
type tree map[string]*node

func newTree() tree {
	return tree{"": {kind: vcs.KindDir}}
}

func (t tree) clone() tree {
	out := make(tree, len(t))
	for p, n := range t {
		out[p] = n
	}
	return out
}

// under returns the paths at or below root within depth, parents first
func (t tree) under(root string, depth vcs.Depth) []string {
	var out []string
	for p := range t {
		if vcs.WithinDepth(root, p, depth) {
			out = append(out, p)
		}
	}
	wc.SortParentsFirst(out)
	return out
}

// remove drops p and everything below it
func (t tree) remove(p string) {
	for q := range t {
		if vcs.IsAncestor(p, q) {
			delete(t, q)
		}
	}
}

// Repo is an in-memory repository with a linear history
type Repo struct {
	mu      sync.Mutex
	revs    []tree
	logs    []string
	changed []map[string]struct{}

	// PostCommitHook runs after every commit made through a Connector;
	// its errors end up in CommitResult.PostCommitErrors
	PostCommitHook func(rev vcs.Revision, paths []string) []vcs.PostCommitError
}

// NewRepo returns a repository holding only an empty root at revision 0
func NewRepo() *Repo {
	return &Repo{
		revs:    []tree{newTree()},
		logs:    []string{""},
		changed: []map[string]struct{}{{}},
	}
}

// Head returns the latest revision
func (r *Repo) Head() vcs.Revision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return revision(len(r.revs) - 1)
}

// Log returns the message of rev
func (r *Repo) Log(rev vcs.Revision) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.resolve(rev)
	if err != nil {
		return "", err
	}
	return r.logs[n], nil
}

// File returns the content of the file p at rev
func (r *Repo) File(rev vcs.Revision, p string) ([]byte, bool) {
	n := r.node(rev, p)
	if n == nil || n.kind != vcs.KindFile {
		return nil, false
	}
	return append([]byte(nil), n.content...), true
}

// Kind returns the kind of p at rev, vcs.KindNone when absent
func (r *Repo) Kind(rev vcs.Revision, p string) vcs.NodeKind {
	n := r.node(rev, p)
	if n == nil {
		return vcs.KindNone
	}
	return n.kind
}

// Props returns the properties of p at rev
func (r *Repo) Props(rev vcs.Revision, p string) map[string][]byte {
	n := r.node(rev, p)
	if n == nil {
		return nil
	}
	return cloneProps(n.props)
}

func (r *Repo) node(rev vcs.Revision, p string) *node {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.resolve(rev)
	if err != nil {
		return nil
	}
	return r.revs[n][vcs.CleanPath(p)]
}

func revision(n int) vcs.Revision {
	return vcs.Revision(strconv.Itoa(n))
}

// resolve maps rev to an index. Caller holds r.mu.
func (r *Repo) resolve(rev vcs.Revision) (int, error) {
	if rev.IsHead() {
		return len(r.revs) - 1, nil
	}
	n, err := strconv.Atoi(string(rev))
	if err != nil || n < 0 || n >= len(r.revs) {
		return 0, fmt.Errorf("%w: %s", vcs.ErrRevisionNotFound, rev)
	}
	return n, nil
}

// snapshot returns the tree at rev and its number
func (r *Repo) snapshot(rev vcs.Revision) (tree, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.resolve(rev)
	if err != nil {
		return nil, 0, err
	}
	return r.revs[n], n, nil
}

// changedSince reports whether a revision after base touched p, one of
// its descendants or one of its ancestors
func (r *Repo) changedSince(base int, p string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n := base + 1; n < len(r.revs); n++ {
		for q := range r.changed[n] {
			if vcs.IsAncestor(p, q) || (q != "" && vcs.IsAncestor(q, p)) {
				return true
			}
		}
	}
	return false
}

// commit appends a revision built by fn from head. fn returns the
// touched paths; an error leaves the history untouched.
func (r *Repo) commit(message string, fn func(head tree) ([]string, error)) (int, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.revs[len(r.revs)-1].clone()
	touched, err := fn(next)
	if err != nil {
		return 0, nil, err
	}
	changed := make(map[string]struct{}, len(touched))
	for _, p := range touched {
		changed[p] = struct{}{}
	}
	r.revs = append(r.revs, next)
	r.logs = append(r.logs, message)
	r.changed = append(r.changed, changed)
	return len(r.revs) - 1, touched, nil
}

// ===================
// Server-side changes
// ===================

// Tx stages server-side changes for Apply
type Tx struct {
	head    tree
	touched []string
	err     error
}

// WriteFile creates or replaces the file p, creating parent folders
func (tx *Tx) WriteFile(p, content string) {
	p = vcs.CleanPath(p)
	tx.mkdirs(wc.Parent(p))
	old := tx.head[p]
	n := &node{kind: vcs.KindFile, content: []byte(content)}
	if old != nil && old.kind == vcs.KindFile {
		n.props = old.props
	}
	if old != nil && old.kind == vcs.KindDir {
		tx.head.remove(p)
	}
	tx.head[p] = n
	tx.touch(p)
}

// Mkdir creates the folder p and its parents
func (tx *Tx) Mkdir(p string) {
	p = vcs.CleanPath(p)
	if old := tx.head[p]; old != nil && old.kind == vcs.KindFile {
		delete(tx.head, p)
	}
	tx.mkdirs(p)
}

func (tx *Tx) mkdirs(p string) {
	if p == "" {
		return
	}
	tx.mkdirs(wc.Parent(p))
	if old := tx.head[p]; old != nil {
		if old.kind != vcs.KindDir {
			tx.err = fmt.Errorf("%s is a file", p)
		}
		return
	}
	tx.head[p] = &node{kind: vcs.KindDir}
	tx.touch(p)
}

// Remove deletes p and everything below it
func (tx *Tx) Remove(p string) {
	p = vcs.CleanPath(p)
	if _, ok := tx.head[p]; !ok {
		tx.err = fmt.Errorf("%w: %s", vcs.ErrPathNotFound, p)
		return
	}
	for _, q := range tx.head.under(p, vcs.DepthInfinity) {
		tx.touch(q)
	}
	tx.head.remove(p)
}

// SetProp sets a property on the existing node p
func (tx *Tx) SetProp(p, name, value string) {
	p = vcs.CleanPath(p)
	old, ok := tx.head[p]
	if !ok {
		tx.err = fmt.Errorf("%w: %s", vcs.ErrPathNotFound, p)
		return
	}
	n := *old
	n.props = cloneProps(old.props)
	if n.props == nil {
		n.props = make(map[string][]byte)
	}
	n.props[name] = []byte(value)
	tx.head[p] = &n
	tx.touch(p)
}

// Copy copies the subtree at from to to, as a branch operation would
func (tx *Tx) Copy(from, to string) {
	from, to = vcs.CleanPath(from), vcs.CleanPath(to)
	if _, ok := tx.head[from]; !ok {
		tx.err = fmt.Errorf("%w: %s", vcs.ErrPathNotFound, from)
		return
	}
	tx.mkdirs(wc.Parent(to))
	for _, q := range tx.head.under(from, vcs.DepthInfinity) {
		dest := vcs.JoinPath(to, q[len(from):])
		tx.head[dest] = tx.head[q]
		tx.touch(dest)
	}
}

func (tx *Tx) touch(p string) {
	tx.touched = append(tx.touched, p)
}

// Apply commits server-side changes made by fn, as another client would
func (r *Repo) Apply(message string, fn func(tx *Tx)) (vcs.Revision, error) {
	n, _, err := r.commit(message, func(head tree) ([]string, error) {
		tx := &Tx{head: head}
		fn(tx)
		return tx.touched, tx.err
	})
	if err != nil {
		return "", err
	}
	return revision(n), nil
}

// ===================
// Helpers
// ===================

// withinDepth reports whether p is covered by an operation on root
func cloneProps(props map[string][]byte) map[string][]byte {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(props))
	for k, v := range props {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func equalProps(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !bytes.Equal(v, w) {
			return false
		}
	}
	return true
}

func propList(props map[string][]byte) []vcs.Property {
	if len(props) == 0 {
		return nil
	}
	out := make([]vcs.Property, 0, len(props))
	for k, v := range props {
		out = append(out, vcs.Property{Name: k, Value: append([]byte(nil), v...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
