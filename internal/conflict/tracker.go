// Package conflict tracks which resources of a batch operation went
// through and which ended up in conflict.
package conflict

import (
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/wcsync/wcsync/internal/vcs"
)

// Tracker partitions the resources of one batch operation into
// processed (expected to succeed) and unprocessed (ended in conflict or
// failed). The two sets are disjoint at all times.
type Tracker struct {
	mu          sync.Mutex
	processed   mapset.Set[string]
	unprocessed mapset.Set[string]
	unresolved  bool
	messages    []string
}

// NewTracker returns a tracker with empty sets
func NewTracker() *Tracker {
	return &Tracker{
		processed:   mapset.NewThreadUnsafeSet[string](),
		unprocessed: mapset.NewThreadUnsafeSet[string](),
	}
}

// DefineInitialResourceSet seeds processed with resources and clears
// everything else
func (t *Tracker) DefineInitialResourceSet(resources []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed = mapset.NewThreadUnsafeSet[string]()
	for _, r := range resources {
		t.processed.Add(vcs.CleanPath(r))
	}
	t.unprocessed = mapset.NewThreadUnsafeSet[string]()
	t.unresolved = false
	t.messages = nil
}

// AddUnprocessed moves r out of processed into unprocessed
func (t *Tracker) AddUnprocessed(r string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addUnprocessed(vcs.CleanPath(r))
}

func (t *Tracker) addUnprocessed(r string) {
	t.processed.Remove(r)
	t.unprocessed.Add(r)
}

// RemoveProcessed drops r from processed
func (t *Tracker) RemoveProcessed(r string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed.Remove(vcs.CleanPath(r))
}

// Drop forgets r entirely, for resources that no longer exist
func (t *Tracker) Drop(r string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r = vcs.CleanPath(r)
	t.processed.Remove(r)
	t.unprocessed.Remove(r)
}

// SetUnresolvedConflict records whether a conflict occurred
func (t *Tracker) SetUnresolvedConflict(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unresolved = v
}

// SetConflictMessage replaces the conflict message
func (t *Tracker) SetConflictMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
	if msg != "" {
		t.messages = []string{msg}
	}
}

// MapConflict records a backend conflict on path. The coarsest processed
// resource containing path leaves processed when it is path itself;
// otherwise the conflicting descendant is what goes to unprocessed.
// A path outside every processed resource only marks the conflict and
// its message; the partition is left alone. It returns the resource
// path was mapped to, or "" when no processed resource contains it.
func (t *Tracker) MapConflict(path, detail string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	path = vcs.CleanPath(path)
	t.unresolved = true
	msg := path
	if detail != "" {
		msg += ": " + detail
	}
	t.messages = append(t.messages, msg)

	owner, found := t.owner(path)
	if !found {
		return ""
	}
	if owner == path {
		t.processed.Remove(owner)
	}
	t.addUnprocessed(path)
	return owner
}

// Record applies the outcome of a backend step on resource. Conflicts
// are mapped through MapConflict; other failures move resource to
// unprocessed.
func (t *Tracker) Record(resource string, o vcs.Outcome) {
	switch o.Kind {
	case vcs.OutcomeConflict:
		p := o.Path
		if p == "" {
			p = resource
		}
		t.MapConflict(p, o.Detail)
	case vcs.OutcomeError:
		t.AddUnprocessed(resource)
	}
}

// owner finds the coarsest processed resource containing path
func (t *Tracker) owner(path string) (string, bool) {
	best, found := "", false
	t.processed.Each(func(r string) bool {
		if vcs.IsAncestor(r, path) && (!found || len(r) < len(best)) {
			best, found = r, true
		}
		return false
	})
	return best, found
}

// Processed returns the processed resources, sorted
func (t *Tracker) Processed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sorted(t.processed)
}

// Unprocessed returns the unprocessed resources, sorted
func (t *Tracker) Unprocessed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sorted(t.unprocessed)
}

// HasUnresolvedConflict reports whether a conflict was recorded
func (t *Tracker) HasUnresolvedConflict() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unresolved
}

// ConflictMessage returns the conflict message, one line per conflict
func (t *Tracker) ConflictMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.messages, "\n")
}

// Partition is a point-in-time copy of the tracker
type Partition struct {
	Processed   []string `json:"processed" yaml:"processed"`
	Unprocessed []string `json:"unprocessed" yaml:"unprocessed"`
	Conflict    bool     `json:"conflict" yaml:"conflict"`
	Message     string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// Snapshot returns the current partition
func (t *Tracker) Snapshot() Partition {
	return Partition{
		Processed:   t.Processed(),
		Unprocessed: t.Unprocessed(),
		Conflict:    t.HasUnresolvedConflict(),
		Message:     t.ConflictMessage(),
	}
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}
