package snapshot

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcsync/wcsync/internal/changetree"
	"github.com/wcsync/wcsync/internal/report"
	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/wc"
)

// statusMap serves fixed states for the paths it holds
type statusMap map[string]vcs.EntryStatus

func (m statusMap) Status(_ context.Context, root string, _ vcs.Depth) ([]vcs.EntryStatus, error) {
	var out []vcs.EntryStatus
	for p, st := range m {
		if vcs.IsAncestor(root, p) {
			st.Path = p
			out = append(out, st)
		}
	}
	return out, nil
}

// propStore keeps properties in memory
type propStore struct {
	props       map[string][]vcs.Property
	unsupported bool
	writes      int
}

func newPropStore() *propStore {
	return &propStore{props: make(map[string][]vcs.Property)}
}

func (s *propStore) GetProperties(_ context.Context, path string) ([]vcs.Property, error) {
	if s.unsupported {
		return nil, vcs.ErrNotSupported
	}
	return append([]vcs.Property(nil), s.props[path]...), nil
}

func (s *propStore) SetProperty(_ context.Context, path, name string, value []byte) error {
	s.writes++
	for i, p := range s.props[path] {
		if p.Name == name {
			s.props[path][i].Value = value
			return nil
		}
	}
	s.props[path] = append(s.props[path], vcs.Property{Name: name, Value: value})
	return nil
}

func (s *propStore) RemoveProperty(_ context.Context, path, name string) error {
	s.writes++
	kept := s.props[path][:0]
	for _, p := range s.props[path] {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	s.props[path] = kept
	return nil
}

type fixture struct {
	ctx   context.Context
	wc    *wc.Tree
	store *Store
	props *propStore
	sink  *report.Collector
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		wc:    wc.New(memfs.New()),
		store: NewStore(memfs.New()),
		props: newPropStore(),
		sink:  &report.Collector{},
	}
	for p, content := range files {
		require.NoError(t, f.wc.WriteFile(p, []byte(content)))
	}
	return f
}

func (f *fixture) build(t *testing.T, path string, status statusMap) *changetree.Tree {
	t.Helper()
	tree, err := changetree.Build(f.ctx, f.wc, status, path, vcs.DepthInfinity)
	require.NoError(t, err)
	return tree
}

func (f *fixture) save(t *testing.T, tree *changetree.Tree) {
	t.Helper()
	proc := &changetree.Collector{}
	save := changetree.Composite{
		SaveProperties{Conn: f.props},
		SaveContent{Store: f.store, Tree: f.wc},
	}
	require.NoError(t, tree.Traverse(f.ctx, save, vcs.DepthInfinity, proc))
	require.NoError(t, proc.Err)
}

func (f *fixture) restore(t *testing.T, tree *changetree.Tree, kindChanged bool) {
	t.Helper()
	proc := &changetree.Collector{}
	restore := changetree.Composite{
		&RestoreContent{Tree: f.wc, NodeKindChanged: kindChanged, Sink: f.sink},
		RestoreProperties{Conn: f.props, NodeKindChanged: kindChanged, Sink: f.sink},
	}
	require.NoError(t, tree.Traverse(f.ctx, restore, vcs.DepthInfinity, proc))
	require.NoError(t, proc.Err)
}

func (f *fixture) read(t *testing.T, p string) string {
	t.Helper()
	data, err := f.wc.ReadFile(p)
	require.NoError(t, err)
	return string(data)
}

func TestSaveStripRestoreRoundTrip(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a/x.txt":   "local edit",
		"a/new.txt": "scratch",
	})
	status := statusMap{
		"a/x.txt":   {State: vcs.StateModified, Kind: vcs.KindFile},
		"a/new.txt": {State: vcs.StateUnversioned, Kind: vcs.KindFile},
	}
	tree := f.build(t, "a", status)
	f.save(t, tree)
	assert.Equal(t, 3, f.store.Stats().Created)

	// what revert and update would do
	require.NoError(t, f.wc.WriteFile("a/x.txt", []byte("pristine")))
	proc := &changetree.Collector{}
	strip := RemoveNonVersioned{Tree: f.wc, IncludeAdded: true}
	require.NoError(t, tree.Traverse(f.ctx, strip, vcs.DepthInfinity, proc))
	require.NoError(t, proc.Err)
	assert.False(t, f.wc.Exists("a/new.txt"))

	f.restore(t, tree, false)

	assert.Equal(t, "local edit", f.read(t, "a/x.txt"))
	assert.Equal(t, "scratch", f.read(t, "a/new.txt"))
	assert.Zero(t, f.store.Stats().Leaked())
	assert.Empty(t, f.sink.Entries())
	assert.Zero(t, f.props.writes)
}

func TestRemoveNonVersionedKeepsPreserved(t *testing.T) {
	f := newFixture(t, map[string]string{
		"p/.idea/workspace.xml": "<project/>",
		"p/build/out.o":         "obj",
		"p/added.txt":           "added",
		"p/main.go":             "package main",
	})
	status := statusMap{
		"p/.idea":     {State: vcs.StateUnversioned, Kind: vcs.KindDir},
		"p/build":     {State: vcs.StateIgnored, Kind: vcs.KindDir},
		"p/added.txt": {State: vcs.StateAdded, Kind: vcs.KindFile},
	}
	tree := f.build(t, "p", status)

	proc := &changetree.Collector{}
	strip := RemoveNonVersioned{Tree: f.wc, Preserve: []string{".idea"}}
	require.NoError(t, tree.Traverse(f.ctx, strip, vcs.DepthInfinity, proc))
	require.NoError(t, proc.Err)

	assert.True(t, f.wc.Exists("p/.idea/workspace.xml"))
	assert.False(t, f.wc.Exists("p/build"))
	assert.True(t, f.wc.Exists("p/added.txt"), "added entries stay without IncludeAdded")
	assert.True(t, f.wc.Exists("p/main.go"))

	strip.IncludeAdded = true
	require.NoError(t, tree.Traverse(f.ctx, strip, vcs.DepthInfinity, proc))
	assert.False(t, f.wc.Exists("p/added.txt"))
}

func TestRestoreFileFacingFolder(t *testing.T) {
	f := newFixture(t, map[string]string{"a/x.txt": "mine"})
	tree := f.build(t, "a/x.txt", statusMap{})
	f.save(t, tree)

	require.NoError(t, f.wc.RemoveAll("a/x.txt"))
	require.NoError(t, f.wc.WriteFile("a/x.txt/inner.txt", []byte("theirs")))

	f.restore(t, tree, false)

	assert.Equal(t, "mine", f.read(t, "a/x.txt"+MineSuffix))
	assert.Equal(t, "theirs", f.read(t, "a/x.txt/inner.txt"))
	assert.Equal(t, 1, f.sink.Count(report.SeverityWarning))
	assert.Zero(t, f.store.Stats().Leaked())
}

func TestRestoreKindChangedRecreatesFolder(t *testing.T) {
	f := newFixture(t, map[string]string{
		"src/util/a.go":   "package util",
		"src/util/b/c.go": "package b",
	})
	tree := f.build(t, "src/util", statusMap{})
	f.save(t, tree)
	assert.Equal(t, 4, f.store.Stats().Created)

	require.NoError(t, f.wc.RemoveAll("src/util"))

	f.restore(t, tree, true)

	assert.Equal(t, "package util", f.read(t, "src/util/a.go"))
	assert.Equal(t, "package b", f.read(t, "src/util/b/c.go"))
	assert.Zero(t, f.store.Stats().Leaked())
}

func TestRestoreKindChangedFolderFacingFile(t *testing.T) {
	f := newFixture(t, map[string]string{"src/util/a.go": "package util"})
	tree := f.build(t, "src/util", statusMap{})
	f.save(t, tree)

	require.NoError(t, f.wc.RemoveAll("src/util"))
	require.NoError(t, f.wc.WriteFile("src/util", []byte("remote file")))

	f.restore(t, tree, true)

	assert.Equal(t, "remote file", f.read(t, "src/util"))
	assert.Equal(t, "package util", f.read(t, "src/util"+MineSuffix+"/a.go"))
	assert.Equal(t, 1, f.sink.Count(report.SeverityWarning))
	assert.Zero(t, f.store.Stats().Leaked())
}

func TestRestoreReappliesLocalDeletion(t *testing.T) {
	f := newFixture(t, map[string]string{"a/keep.txt": "k"})
	status := statusMap{
		"a/gone.txt": {State: vcs.StateDeleted, Kind: vcs.KindFile},
	}
	tree := f.build(t, "a", status)
	_, ok := tree.Find("a/gone.txt")
	require.True(t, ok)
	f.save(t, tree)

	// revert brings the file back
	require.NoError(t, f.wc.WriteFile("a/gone.txt", []byte("revived")))

	f.restore(t, tree, false)

	assert.False(t, f.wc.Exists("a/gone.txt"))
	assert.Equal(t, "k", f.read(t, "a/keep.txt"))
}

func TestRestoreProperties(t *testing.T) {
	f := newFixture(t, map[string]string{"docs/readme.txt": "text"})
	f.props.props["docs/readme.txt"] = []vcs.Property{{Name: "key", Value: []byte("value")}}
	status := statusMap{"docs/readme.txt": {State: vcs.StateModified, Kind: vcs.KindFile}}

	tree := f.build(t, "docs/readme.txt", status)
	f.save(t, tree)
	n := tree.Node(tree.Root())
	require.True(t, n.PropsCaptured)

	// revert drops the local property edit
	f.props.props["docs/readme.txt"] = []vcs.Property{{Name: "other", Value: []byte("1")}}

	f.restore(t, tree, false)

	assert.Equal(t, []vcs.Property{{Name: "key", Value: []byte("value")}}, f.props.props["docs/readme.txt"])
}

func TestRestorePropertiesSkippedOnKindChange(t *testing.T) {
	f := newFixture(t, map[string]string{"docs/readme.txt": "text"})
	f.props.props["docs/readme.txt"] = []vcs.Property{{Name: "key", Value: []byte("value")}}
	status := statusMap{"docs/readme.txt": {State: vcs.StateModified, Kind: vcs.KindFile}}

	tree := f.build(t, "docs/readme.txt", status)
	f.save(t, tree)
	f.props.props["docs/readme.txt"] = nil

	f.restore(t, tree, true)

	assert.Empty(t, f.props.props["docs/readme.txt"])
	assert.Zero(t, f.props.writes)
}

func TestSavePropertiesNotSupported(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "x"})
	f.props.unsupported = true

	tree := f.build(t, "a.txt", statusMap{})
	f.save(t, tree)

	assert.False(t, tree.Node(tree.Root()).PropsCaptured)
	require.NoError(t, tree.Dispose())
	assert.Zero(t, f.store.Stats().Leaked())
}
