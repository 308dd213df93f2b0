package git

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/wcsync/wcsync/internal/vcs"
)

// porcelainEntry is one record of `git status --porcelain=v1 -z`
type porcelainEntry struct {
	x, y byte
	path string
}

// parsePorcelain parses NUL terminated porcelain v1 output produced
// with --no-renames, so every record carries a single path.
func parsePorcelain(output []byte) []porcelainEntry {
	var out []porcelainEntry
	for _, rec := range vcs.ParseNulTerminated(output) {
		if len(rec) < 4 {
			continue
		}
		out = append(out, porcelainEntry{
			x:    rec[0],
			y:    rec[1],
			path: strings.TrimSuffix(rec[3:], "/"),
		})
	}
	return out
}

// unmerged reports the porcelain codes of an unresolved merge
// (DD, AU, UD, UA, DU, AA, UU)
func (e porcelainEntry) unmerged() bool {
	return e.x == 'U' || e.y == 'U' || (e.x == 'A' && e.y == 'A') || (e.x == 'D' && e.y == 'D')
}

// state maps a porcelain code to a local state
func (e porcelainEntry) state() vcs.State {
	switch {
	case e.x == '?' && e.y == '?':
		return vcs.StateUnversioned
	case e.x == '!' && e.y == '!':
		return vcs.StateIgnored
	case e.unmerged():
		return vcs.StateConflicting
	case e.x == 'A':
		return vcs.StateAdded
	case e.x == 'D':
		return vcs.StateDeleted
	case e.y == 'D':
		return vcs.StateMissing
	default:
		return vcs.StateModified
	}
}

// treeConflict describes the structural side of an unmerged entry
func (e porcelainEntry) treeConflict() *vcs.TreeConflict {
	switch string([]byte{e.x, e.y}) {
	case "DU":
		return &vcs.TreeConflict{Incoming: vcs.KindFile, Reason: "deleted by us"}
	case "UD":
		return &vcs.TreeConflict{Incoming: vcs.KindNone, Reason: "deleted by them"}
	case "AU":
		return &vcs.TreeConflict{Incoming: vcs.KindFile, Reason: "added by us"}
	case "UA":
		return &vcs.TreeConflict{Incoming: vcs.KindFile, Reason: "added by them"}
	case "DD":
		return &vcs.TreeConflict{Incoming: vcs.KindNone, Reason: "both deleted"}
	}
	return nil
}

// inHead reports whether a file in state s exists in the HEAD commit
func inHead(s vcs.State) bool {
	switch s {
	case vcs.StateNormal, vcs.StateModified, vcs.StateDeleted, vcs.StateMissing,
		vcs.StateConflicting, vcs.StatePrereplaced:
		return true
	}
	return false
}

// inIndex reports whether a file in state s has an index entry
func inIndex(s vcs.State) bool {
	switch s {
	case vcs.StateNormal, vcs.StateModified, vcs.StateAdded, vcs.StateMissing, vcs.StateConflicting:
		return true
	}
	return false
}

// dirFacts accumulates what lies below a folder
type dirFacts struct {
	inIndex     bool
	inHead      bool
	unversioned bool
}

func (d dirFacts) state(onDisk bool) vcs.State {
	switch {
	case d.inIndex && d.inHead:
		return vcs.StateNormal
	case d.inIndex:
		return vcs.StateAdded
	case d.inHead && onDisk:
		return vcs.StatePrereplaced
	case d.inHead:
		return vcs.StateDeleted
	case d.unversioned:
		return vcs.StateUnversioned
	default:
		return vcs.StateIgnored
	}
}

// Status implements vcs.Connector.
//
// Git tracks files only. Folder states are derived from what lies
// below them: a folder with index entries is versioned, a folder whose
// files were all removed from the index is deleted, and a folder with
// only untracked content is unversioned.
func (c *Connector) Status(ctx context.Context, path string, depth vcs.Depth) ([]vcs.EntryStatus, error) {
	path = vcs.CleanPath(path)

	head, err := c.headRevision(ctx)
	if err != nil {
		return nil, err
	}
	porcelain, err := c.run(ctx, withPaths([]string{"status", "--porcelain=v1", "-z",
		"--ignored", "--untracked-files=all", "--no-renames"}, path)...)
	if err != nil {
		return nil, err
	}
	index, err := c.run(ctx, withPaths([]string{"ls-files", "-z", "--cached"}, path)...)
	if err != nil {
		return nil, err
	}

	files := make(map[string]*vcs.EntryStatus)
	for _, p := range vcs.ParseNulTerminated(index) {
		files[p] = &vcs.EntryStatus{Path: p, Kind: vcs.KindFile, State: vcs.StateNormal}
	}
	for _, e := range parsePorcelain(porcelain) {
		st := e.state()
		if prev, ok := files[e.path]; ok {
			switch {
			case prev.State == vcs.StateDeleted && st == vcs.StateUnversioned,
				prev.State == vcs.StateUnversioned && st == vcs.StateDeleted:
				prev.State = vcs.StatePrereplaced
				continue
			case e.unmerged():
				prev.TreeConflict = e.treeConflict()
			}
			prev.State = st
			continue
		}
		files[e.path] = &vcs.EntryStatus{
			Path:         e.path,
			Kind:         vcs.KindFile,
			State:        st,
			TreeConflict: e.treeConflict(),
		}
	}

	dirs := make(map[string]*dirFacts)
	for p, st := range files {
		kind := c.diskKind(p)
		if kind == vcs.KindDir {
			// nested repositories are reported as a single untracked entry
			st.Kind = vcs.KindDir
		}
		if inHead(st.State) {
			st.Revision = head
		}
		for a := parentPath(p); vcs.IsAncestor(path, a); a = parentPath(a) {
			d, ok := dirs[a]
			if !ok {
				d = &dirFacts{}
				dirs[a] = d
			}
			d.inIndex = d.inIndex || inIndex(st.State)
			d.inHead = d.inHead || inHead(st.State)
			d.unversioned = d.unversioned || st.State == vcs.StateUnversioned
			if a == "" || a == path {
				break
			}
		}
	}

	entries := make(map[string]vcs.EntryStatus, len(files)+len(dirs))
	for p, st := range files {
		entries[p] = *st
	}
	for p, d := range dirs {
		if _, isFile := entries[p]; isFile {
			continue
		}
		onDisk := c.diskKind(p) == vcs.KindDir
		st := vcs.EntryStatus{Path: p, Kind: vcs.KindDir, State: d.state(onDisk)}
		if inHead(st.State) {
			st.Revision = head
		}
		entries[p] = st
	}
	if _, ok := entries[path]; !ok {
		// empty folders and untracked paths git does not list
		if kind := c.diskKind(path); kind != vcs.KindNone {
			entries[path] = vcs.EntryStatus{Path: path, Kind: kind, State: vcs.StateUnversioned}
		}
	}

	keys := lo.Filter(lo.Keys(entries), func(p string, _ int) bool {
		return vcs.WithinDepth(path, p, depth)
	})
	sort.Strings(keys)
	out := make([]vcs.EntryStatus, 0, len(keys))
	for _, p := range keys {
		out = append(out, entries[p])
	}
	return out, nil
}

// diskKind returns the kind of p on disk
func (c *Connector) diskKind(p string) vcs.NodeKind {
	info, err := os.Lstat(c.abs(p))
	switch {
	case err != nil:
		return vcs.KindNone
	case info.IsDir():
		return vcs.KindDir
	default:
		return vcs.KindFile
	}
}

// parentPath returns the parent of a working copy path; the parent of
// a top-level entry is the root "".
func parentPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// conflicted lists unmerged paths at or below paths
func (c *Connector) conflicted(ctx context.Context, paths []string) ([]string, error) {
	output, err := c.run(ctx, withPaths([]string{"diff", "--name-only", "--diff-filter=U", "-z"}, paths...)...)
	if err != nil {
		return nil, err
	}
	return lo.Uniq(vcs.ParseNulTerminated(output)), nil
}

// tracked reports whether the index has entries at or below p
func (c *Connector) tracked(ctx context.Context, p string) (bool, error) {
	output, err := c.run(ctx, withPaths([]string{"ls-files", "-z", "--cached"}, p)...)
	if err != nil {
		return false, err
	}
	return len(vcs.ParseNulTerminated(output)) > 0, nil
}
