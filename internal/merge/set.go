package merge

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/wc"
)

// Entry is the merge status of one path
type Entry struct {
	Path         string         `json:"path" yaml:"path"`
	Kind         vcs.NodeKind   `json:"kind" yaml:"kind"`
	Text         vcs.ChangeKind `json:"text" yaml:"text"`
	Props        vcs.ChangeKind `json:"props" yaml:"props"`
	Eligible     bool           `json:"eligible" yaml:"eligible"`
	Skipped      bool           `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	TreeConflict bool           `json:"tree_conflict,omitempty" yaml:"tree_conflict,omitempty"`

	// Source is the repository path the change comes from
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

func entryFromStatus(st vcs.MergeStatus) Entry {
	return Entry{
		Path:         vcs.CleanPath(st.Path),
		Kind:         st.Kind,
		Text:         st.Text,
		Props:        st.Props,
		Eligible:     st.Eligible,
		Skipped:      st.Skipped,
		TreeConflict: st.TreeConflict,
		Source:       st.Source,
	}
}

// Set is a merge request over a list of local targets together with the
// statuses collected so far. Statuses accumulate across Correlator runs.
type Set struct {
	Shape   Shape
	Targets []string
	Options Options

	mu       sync.Mutex
	statuses map[string]Entry
}

// NewSet creates a set for shape over targets
func NewSet(shape Shape, targets []string, opts Options) *Set {
	return &Set{
		Shape:    shape,
		Targets:  wc.ShrinkChildNodes(targets),
		Options:  opts,
		statuses: make(map[string]Entry),
	}
}

// Add records e, replacing an earlier entry for the same path
func (s *Set) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = make(map[string]Entry)
	}
	s.statuses[vcs.CleanPath(e.Path)] = e
}

// Statuses returns the collected entries sorted by path
func (s *Set) Statuses() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Values(s.statuses)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of collected entries
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.statuses)
}

// Scope returns the paths with entries, sorted
func (s *Set) Scope() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := lo.Keys(s.statuses)
	sort.Strings(paths)
	return paths
}

// Covers reports whether some entry lies at or below resource
func (s *Set) Covers(resource string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.SomeBy(lo.Keys(s.statuses), func(p string) bool {
		return vcs.IsAncestor(resource, p)
	})
}

// Reset discards the collected entries
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = make(map[string]Entry)
}
