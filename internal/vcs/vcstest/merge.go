package vcstest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/wc"
)

// mergeChange is one node a merge request changes
type mergeChange struct {
	// path is the working copy path
	path string

	// source is the repository path the change comes from
	source string

	left, right *node
}

type mergePair struct {
	left, right         tree
	leftRoot, rightRoot string
}

// mergeChanges computes what req brings to target. Caller holds c.mu.
func (c *Connector) mergeChanges(req vcs.MergeRequest, target string, depth vcs.Depth) ([]mergeChange, error) {
	pairs, err := c.mergePairs(req, target)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]*mergeChange)
	for _, pair := range pairs {
		rels := make(map[string]struct{})
		for p := range pair.left {
			if rel, ok := relative(pair.leftRoot, p); ok {
				rels[rel] = struct{}{}
			}
		}
		for p := range pair.right {
			if rel, ok := relative(pair.rightRoot, p); ok {
				rels[rel] = struct{}{}
			}
		}
		for rel := range rels {
			dest := vcs.JoinPath(target, rel)
			if !vcs.WithinDepth(target, dest, depth) {
				continue
			}
			l := pair.left[vcs.JoinPath(pair.leftRoot, rel)]
			r := pair.right[vcs.JoinPath(pair.rightRoot, rel)]
			if existing, ok := byPath[dest]; ok {
				existing.right = r
				continue
			}
			byPath[dest] = &mergeChange{path: dest, source: vcs.JoinPath(pair.rightRoot, rel), left: l, right: r}
		}
	}

	paths := make([]string, 0, len(byPath))
	for p, ch := range byPath {
		if sameNode(ch.left, ch.right) {
			continue
		}
		paths = append(paths, p)
	}
	wc.SortParentsFirst(paths)

	out := make([]mergeChange, 0, len(paths))
	for _, p := range paths {
		out = append(out, *byPath[p])
	}
	return out, nil
}

func (c *Connector) mergePairs(req vcs.MergeRequest, target string) ([]mergePair, error) {
	source := vcs.CleanPath(req.Source.Path)
	var pairs []mergePair

	switch req.Kind {
	case vcs.MergeSingle:
		for _, ch := range req.Changes {
			n, err := strconv.Atoi(string(ch))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: %s", vcs.ErrRevisionNotFound, ch)
			}
			p, err := c.pair(revision(n-1), source, ch, source)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, p)
		}
		for _, rg := range req.Ranges {
			p, err := c.pair(rg.From, source, rg.To, source)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, p)
		}

	case vcs.MergeDual:
		p, err := c.pair(req.Source.Revision, source, req.End.Revision, vcs.CleanPath(req.End.Path))
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)

	case vcs.MergeReintegrate:
		// everything the target lacks compared to the source
		p, err := c.pair(vcs.RevisionHead, target, vcs.RevisionHead, source)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func (c *Connector) pair(leftRev vcs.Revision, leftRoot string, rightRev vcs.Revision, rightRoot string) (mergePair, error) {
	l, _, err := c.repo.snapshot(leftRev)
	if err != nil {
		return mergePair{}, err
	}
	r, _, err := c.repo.snapshot(rightRev)
	if err != nil {
		return mergePair{}, err
	}
	return mergePair{left: l, right: r, leftRoot: leftRoot, rightRoot: rightRoot}, nil
}

// relative returns p relative to root when p lies under it
func relative(root, p string) (string, bool) {
	switch {
	case !vcs.IsAncestor(root, p):
		return "", false
	case root == "":
		return p, true
	case p == root:
		return "", true
	default:
		return p[len(root)+1:], true
	}
}

func sameNode(a, b *node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.sameAs(b)
}

// mergeStatus describes ch against the working copy. Caller holds c.mu.
func (c *Connector) mergeStatus(ch mergeChange) (vcs.MergeStatus, error) {
	st := vcs.MergeStatus{Path: ch.path, Source: ch.source, Eligible: true}
	switch {
	case ch.left == nil:
		st.Kind = ch.right.kind
		st.Text = vcs.ChangeAdded
	case ch.right == nil:
		st.Kind = ch.left.kind
		st.Text = vcs.ChangeDeleted
	default:
		st.Kind = ch.right.kind
		switch {
		case ch.left.kind != ch.right.kind:
			st.Text = vcs.ChangeReplaced
		case !bytes.Equal(ch.left.content, ch.right.content):
			st.Text = vcs.ChangeModified
		}
		if !equalProps(ch.left.props, ch.right.props) {
			st.Props = vcs.ChangeModified
		}
	}

	_, versioned := c.base[ch.path]
	disk, err := c.wc.Stat(ch.path)
	if err != nil {
		return st, err
	}

	if st.Text == vcs.ChangeAdded {
		if versioned || disk != vcs.KindNone {
			st.TreeConflict = true
		}
		return st, nil
	}
	if !versioned {
		st.Skipped = true
		st.Eligible = false
		return st, nil
	}
	if _, ok := c.conflicts[ch.path]; ok {
		st.TreeConflict = true
		return st, nil
	}

	dirty, err := c.dirty(ch.path)
	if err != nil || !dirty {
		return st, err
	}
	if st.Text == vcs.ChangeModified && ch.right.kind == vcs.KindFile {
		st.Text = vcs.ChangeConflicted
	} else if st.Text != vcs.ChangeNone {
		st.TreeConflict = true
	}
	if st.Props != vcs.ChangeNone {
		st.Props = vcs.ChangeConflicted
	}
	return st, nil
}

// MergeStatus implements vcs.Connector
func (c *Connector) MergeStatus(ctx context.Context, req vcs.MergeRequest, path string, opts vcs.MergeOptions, emit func(vcs.MergeStatus)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path = vcs.CleanPath(path)
	if err := c.record(Call{Op: OpMergeStatus, Paths: []string{path}}); err != nil {
		return err
	}

	changes, err := c.mergeChanges(req, path, opts.Depth)
	if err != nil {
		return err
	}
	for _, ch := range changes {
		st, err := c.mergeStatus(ch)
		if err != nil {
			return err
		}
		emit(st)
	}
	return nil
}

// Merge implements vcs.Connector. Conflicts are reported through notify.
func (c *Connector) Merge(ctx context.Context, req vcs.MergeRequest, path string, opts vcs.MergeOptions, notify vcs.NotifyFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path = vcs.CleanPath(path)
	if err := c.record(Call{Op: OpMerge, Paths: []string{path}}); err != nil {
		return err
	}

	changes, err := c.mergeChanges(req, path, opts.Depth)
	if err != nil {
		return err
	}
	notify.Emit(vcs.Notification{Path: path, Action: vcs.ActionMergeBegin})
	if opts.RecordOnly {
		return nil
	}

	for _, ch := range changes {
		if c.underConflict(ch.path) {
			continue
		}
		st, err := c.mergeStatus(ch)
		if err != nil {
			return err
		}
		if err := c.applyMerge(ch, st, notify); err != nil {
			return fmt.Errorf("failed to merge into %s: %w", ch.path, err)
		}
	}
	return nil
}

func (c *Connector) applyMerge(ch mergeChange, st vcs.MergeStatus, notify vcs.NotifyFunc) error {
	switch {
	case st.Skipped:
		notify.Emit(vcs.Notification{Path: ch.path, Action: vcs.ActionSkip, Kind: st.Kind, ContentState: vcs.StatusMissing})
		return nil
	case st.TreeConflict:
		c.treeConflict(ch.path, st.Kind, "merge over local change", notify)
		return nil
	case st.Text == vcs.ChangeConflicted || st.Props == vcs.ChangeConflicted:
		c.conflicts[ch.path] = conflictMark{}
		n := vcs.Notification{Path: ch.path, Action: vcs.ActionUpdateUpdate, Kind: st.Kind}
		if st.Text == vcs.ChangeConflicted {
			n.ContentState = vcs.StatusConflicted
		}
		if st.Props == vcs.ChangeConflicted {
			n.PropState = vcs.StatusConflicted
		}
		notify.Emit(n)
		return nil
	}

	switch st.Text {
	case vcs.ChangeAdded:
		if err := c.materialize(ch.path, ch.right); err != nil {
			return err
		}
		c.added[ch.path] = ch.right.kind
		c.props[ch.path] = cloneProps(ch.right.props)
		notify.Emit(vcs.Notification{Path: ch.path, Action: vcs.ActionUpdateAdd, Kind: ch.right.kind})
		return nil

	case vcs.ChangeDeleted, vcs.ChangeReplaced:
		for q := range c.base {
			if vcs.IsAncestor(ch.path, q) {
				c.deleted[q] = struct{}{}
			}
		}
		if err := c.wc.RemoveAll(ch.path); err != nil {
			return err
		}
		if st.Text == vcs.ChangeDeleted {
			notify.Emit(vcs.Notification{Path: ch.path, Action: vcs.ActionUpdateDelete, Kind: ch.left.kind})
			return nil
		}
		if err := c.materialize(ch.path, ch.right); err != nil {
			return err
		}
		c.added[ch.path] = ch.right.kind
		c.props[ch.path] = cloneProps(ch.right.props)
		notify.Emit(vcs.Notification{Path: ch.path, Action: vcs.ActionUpdateUpdate, Kind: ch.right.kind,
			ContentState: vcs.StatusChanged})
		return nil
	}

	n := vcs.Notification{Path: ch.path, Action: vcs.ActionUpdateUpdate, Kind: ch.right.kind}
	if st.Text == vcs.ChangeModified {
		if err := c.wc.WriteFile(ch.path, ch.right.content); err != nil {
			return err
		}
		n.ContentState = vcs.StatusMerged
	}
	if st.Props == vcs.ChangeModified {
		c.props[ch.path] = cloneProps(ch.right.props)
		n.PropState = vcs.StatusMerged
	}
	notify.Emit(n)
	return nil
}
