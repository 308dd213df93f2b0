package wc

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/wcsync/wcsync/internal/vcs"
)

// ShrinkChildNodes drops every path contained in another path of the
// set, keeping the coarsest resources. The result is sorted parents first.
func ShrinkChildNodes(paths []string) []string {
	cleaned := lo.Uniq(lo.Map(paths, func(p string, _ int) string {
		return vcs.CleanPath(p)
	}))
	SortParentsFirst(cleaned)

	var kept []string
	for _, p := range cleaned {
		covered := lo.ContainsBy(kept, func(k string) bool {
			return vcs.IsAncestor(k, p)
		})
		if !covered {
			kept = append(kept, p)
		}
	}
	return kept
}

// SortParentsFirst orders paths so that every ancestor precedes its
// descendants; siblings are ordered by name.
func SortParentsFirst(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		di, dj := depth(paths[i]), depth(paths[j])
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
}

// SortChildrenFirst orders paths so that every descendant precedes its ancestors.
func SortChildrenFirst(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		di, dj := depth(paths[i]), depth(paths[j])
		if di != dj {
			return di > dj
		}
		return paths[i] < paths[j]
	})
}

// Name returns the last element of p
func Name(p string) string {
	p = vcs.CleanPath(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Parent returns the parent of p; the root has parent "".
func Parent(p string) string {
	p = vcs.CleanPath(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i]
	}
	return ""
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// Rel converts an OS path, absolute or relative to the current
// directory, to a path of the working copy rooted at root.
func Rel(root, osPath string) (string, error) {
	abs, err := filepath.Abs(osPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", osPath, err)
	}
	rel, err := filepath.Rel(resolveLinks(root), resolveLinks(abs))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the working copy %s", osPath, root)
	}
	return vcs.CleanPath(filepath.ToSlash(rel)), nil
}

// resolveLinks evaluates symlinks of p when it exists
func resolveLinks(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return p
}
