package changetree

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/wcsync/wcsync/internal/vcs"
)

// Processor runs sub-operations requested by visitors and reports their
// failures. A failing sub-operation never stops the traversal.
type Processor interface {
	Do(ctx context.Context, name string, fn func(context.Context) error)
}

// Visitor is applied to every node of a traversal
type Visitor interface {
	// PreVisit runs before the node's children
	PreVisit(ctx context.Context, t *Tree, id NodeID, proc Processor) error

	// PostVisit runs after the node's children
	PostVisit(ctx context.Context, t *Tree, id NodeID, proc Processor) error
}

// Composite applies its visitors in order at each step
type Composite []Visitor

// PreVisit implements Visitor
func (c Composite) PreVisit(ctx context.Context, t *Tree, id NodeID, proc Processor) error {
	for _, v := range c {
		if err := v.PreVisit(ctx, t, id, proc); err != nil {
			return err
		}
	}
	return nil
}

// PostVisit implements Visitor
func (c Composite) PostVisit(ctx context.Context, t *Tree, id NodeID, proc Processor) error {
	for _, v := range c {
		if err := v.PostVisit(ctx, t, id, proc); err != nil {
			return err
		}
	}
	return nil
}

// Funcs adapts plain functions to a Visitor. Nil functions are skipped.
type Funcs struct {
	Pre  func(ctx context.Context, t *Tree, id NodeID, proc Processor) error
	Post func(ctx context.Context, t *Tree, id NodeID, proc Processor) error
}

// PreVisit implements Visitor
func (f Funcs) PreVisit(ctx context.Context, t *Tree, id NodeID, proc Processor) error {
	if f.Pre == nil {
		return nil
	}
	return f.Pre(ctx, t, id, proc)
}

// PostVisit implements Visitor
func (f Funcs) PostVisit(ctx context.Context, t *Tree, id NodeID, proc Processor) error {
	if f.Post == nil {
		return nil
	}
	return f.Post(ctx, t, id, proc)
}

// Traverse visits the tree depth-first: PreVisit, the children (for
// folders, limited by depth), then PostVisit. Cancellation is checked
// between siblings. A visitor error stops the traversal.
func (t *Tree) Traverse(ctx context.Context, v Visitor, depth vcs.Depth, proc Processor) error {
	if proc == nil {
		proc = &Collector{}
	}
	return t.traverse(ctx, t.Root(), v, depth, proc)
}

func (t *Tree) traverse(ctx context.Context, id NodeID, v Visitor, depth vcs.Depth, proc Processor) error {
	if err := v.PreVisit(ctx, t, id, proc); err != nil {
		return err
	}
	if depth != vcs.DepthEmpty {
		next := depth
		if depth == vcs.DepthImmediates {
			next = vcs.DepthEmpty
		}
		for _, child := range t.nodes[id].Children {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.traverse(ctx, child, v, next, proc); err != nil {
				return err
			}
		}
	}
	return v.PostVisit(ctx, t, id, proc)
}

// Collector is a Processor that runs sub-operations directly and
// accumulates their errors.
type Collector struct {
	Err error
}

// Do implements Processor
func (c *Collector) Do(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		c.Err = multierror.Append(c.Err, fmt.Errorf("%s: %w", name, err))
	}
}

func parentOf(p string) string {
	dir := path.Dir("/" + p)
	return vcs.CleanPath(dir)
}

func sortPaths(paths []string) {
	sort.Strings(paths)
}
