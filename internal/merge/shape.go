// Package merge computes, per local resource, whether and how a merge
// from the backend applies.
//
// Three shapes name the merge source:
//
//   - SingleReference: one source and a list of revision ranges
//   - DualReference: the difference between two source endpoints
//   - Reintegrate: a branch merged back, the backend finds the base
//
// A Correlator asks the backend for the merge status of every target of
// a Set and accumulates the entries in it.
package merge

import (
	"errors"
	"fmt"

	"github.com/wcsync/wcsync/internal/vcs"
)

// ErrInvalidShape is returned for shapes that cannot name a merge
var ErrInvalidShape = errors.New("invalid merge shape")

// Shape is one of SingleReference, DualReference or Reintegrate
type Shape interface {
	// Request converts the shape to its backend form
	Request() (vcs.MergeRequest, error)

	shape()
}

// SingleReference merges revision ranges of one source
type SingleReference struct {
	Source vcs.EntryRef
	Ranges []vcs.RevisionRange
}

func (SingleReference) shape() {}

// Request implements Shape. Ranges with From == To collapse to single
// changesets.
func (s SingleReference) Request() (vcs.MergeRequest, error) {
	if s.Source.Path == "" {
		return vcs.MergeRequest{}, fmt.Errorf("%w: single reference without source", ErrInvalidShape)
	}
	if len(s.Ranges) == 0 {
		return vcs.MergeRequest{}, fmt.Errorf("%w: single reference without revision ranges", ErrInvalidShape)
	}
	req := vcs.MergeRequest{Kind: vcs.MergeSingle, Source: s.Source}
	for _, r := range s.Ranges {
		if r.From == "" || r.To == "" {
			return vcs.MergeRequest{}, fmt.Errorf("%w: open revision range %s:%s", ErrInvalidShape, r.From, r.To)
		}
		if r.IsSingle() {
			req.Changes = append(req.Changes, r.To)
			continue
		}
		req.Ranges = append(req.Ranges, r)
	}
	return req, nil
}

// DualReference merges the difference between Start and End
type DualReference struct {
	Start vcs.EntryRef
	End   vcs.EntryRef
}

func (DualReference) shape() {}

// Request implements Shape
func (d DualReference) Request() (vcs.MergeRequest, error) {
	if d.Start.Path == "" || d.End.Path == "" {
		return vcs.MergeRequest{}, fmt.Errorf("%w: dual reference needs both endpoints", ErrInvalidShape)
	}
	return vcs.MergeRequest{Kind: vcs.MergeDual, Source: d.Start, End: d.End}, nil
}

// Reintegrate merges a branch back into its parent
type Reintegrate struct {
	Source vcs.EntryRef
}

func (Reintegrate) shape() {}

// Request implements Shape. The backend determines the reintegration
// point; the revision of Source only pins the branch.
func (r Reintegrate) Request() (vcs.MergeRequest, error) {
	if r.Source.Path == "" {
		return vcs.MergeRequest{}, fmt.Errorf("%w: reintegrate without source", ErrInvalidShape)
	}
	return vcs.MergeRequest{Kind: vcs.MergeReintegrate, Source: r.Source}, nil
}

// Options are passed through to the backend unchanged
type Options struct {
	Depth          vcs.Depth
	IgnoreAncestry bool
	RecordOnly     bool
}

// Backend returns the connector form of the options
func (o Options) Backend() vcs.MergeOptions {
	return vcs.MergeOptions{
		Depth:          o.Depth,
		IgnoreAncestry: o.IgnoreAncestry,
		RecordOnly:     o.RecordOnly,
	}
}
