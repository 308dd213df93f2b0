package vcstest

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcsync/wcsync/internal/vcs"
)

func setupRepo(t *testing.T) (*Repo, *Connector) {
	t.Helper()
	repo := NewRepo()
	_, err := repo.Apply("initial", func(tx *Tx) {
		tx.WriteFile("docs/readme.txt", "hello")
		tx.WriteFile("src/util/a.go", "package util")
		tx.WriteFile("lib/old.txt", "old")
	})
	require.NoError(t, err)

	conn, err := repo.Checkout(memfs.New(), vcs.RevisionHead)
	require.NoError(t, err)
	return repo, conn
}

func states(t *testing.T, conn *Connector, path string) map[string]vcs.State {
	t.Helper()
	statuses, err := conn.Status(context.Background(), path, vcs.DepthInfinity)
	require.NoError(t, err)
	out := make(map[string]vcs.State, len(statuses))
	for _, st := range statuses {
		out[st.Path] = st.State
	}
	return out
}

func read(t *testing.T, conn *Connector, p string) string {
	t.Helper()
	data, err := conn.Tree().ReadFile(p)
	require.NoError(t, err)
	return string(data)
}

type notes []vcs.Notification

func (n *notes) add(note vcs.Notification) {
	*n = append(*n, note)
}

func (n notes) find(p string) (vcs.Notification, bool) {
	for _, note := range n {
		if note.Path == p {
			return note, true
		}
	}
	return vcs.Notification{}, false
}

func TestCheckoutAndStatus(t *testing.T) {
	_, conn := setupRepo(t)
	conn.Ignore = []string{"*.log"}
	tree := conn.Tree()

	assert.Equal(t, "hello", read(t, conn, "docs/readme.txt"))
	assert.Equal(t, vcs.StateNormal, states(t, conn, "docs")["docs/readme.txt"])

	require.NoError(t, tree.WriteFile("docs/readme.txt", []byte("edited")))
	require.NoError(t, tree.WriteFile("docs/new.txt", []byte("new")))
	require.NoError(t, tree.WriteFile("docs/build.log", []byte("log")))
	require.NoError(t, tree.RemoveAll("lib/old.txt"))

	got := states(t, conn, "")
	assert.Equal(t, vcs.StateModified, got["docs/readme.txt"])
	assert.Equal(t, vcs.StateUnversioned, got["docs/new.txt"])
	assert.Equal(t, vcs.StateIgnored, got["docs/build.log"])
	assert.Equal(t, vcs.StateMissing, got["lib/old.txt"])
	assert.Equal(t, vcs.StateNormal, got["src/util/a.go"])
}

func TestStatusDepth(t *testing.T) {
	_, conn := setupRepo(t)

	got := states(t, conn, "src")
	assert.Len(t, got, 3)

	statuses, err := conn.Status(context.Background(), "src", vcs.DepthImmediates)
	require.NoError(t, err)
	assert.Len(t, statuses, 2)

	statuses, err = conn.Status(context.Background(), "src", vcs.DepthEmpty)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, vcs.KindDir, statuses[0].Kind)
	assert.Equal(t, vcs.Revision("1"), statuses[0].Revision)
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	_, conn := setupRepo(t)
	tree := conn.Tree()

	require.NoError(t, tree.WriteFile("docs/readme.txt", []byte("edited")))
	require.NoError(t, conn.SetProperty(ctx, "docs/readme.txt", "key", []byte("value")))
	require.NoError(t, tree.RemoveAll("lib/old.txt"))
	require.NoError(t, tree.WriteFile("docs/added.txt", []byte("a")))
	require.NoError(t, conn.Add("docs/added.txt"))

	var got notes
	require.NoError(t, conn.Revert(ctx, "", true, got.add))

	assert.Equal(t, "hello", read(t, conn, "docs/readme.txt"))
	assert.Equal(t, "old", read(t, conn, "lib/old.txt"))
	props, err := conn.GetProperties(ctx, "docs/readme.txt")
	require.NoError(t, err)
	assert.Empty(t, props)

	st := states(t, conn, "docs")
	assert.Equal(t, vcs.StateUnversioned, st["docs/added.txt"], "reverted additions stay on disk")
	assert.Len(t, got, 3)
}

func TestRevertNonRecursive(t *testing.T) {
	ctx := context.Background()
	_, conn := setupRepo(t)
	require.NoError(t, conn.Tree().WriteFile("src/util/a.go", []byte("edited")))

	require.NoError(t, conn.Revert(ctx, "src", false, nil))
	assert.Equal(t, "edited", read(t, conn, "src/util/a.go"))
}

func TestUpdateBringsRemoteChanges(t *testing.T) {
	ctx := context.Background()
	repo, conn := setupRepo(t)

	_, err := repo.Apply("remote", func(tx *Tx) {
		tx.WriteFile("docs/readme.txt", "remote edit")
		tx.WriteFile("docs/guide.txt", "guide")
		tx.Remove("lib/old.txt")
		tx.SetProp("docs", "owner", "docs-team")
	})
	require.NoError(t, err)

	var got notes
	rev, err := conn.Update(ctx, []string{""}, vcs.RevisionHead, vcs.UpdateOptions{Depth: vcs.DepthInfinity}, got.add)
	require.NoError(t, err)
	assert.Equal(t, vcs.Revision("2"), rev)

	assert.Equal(t, "remote edit", read(t, conn, "docs/readme.txt"))
	assert.Equal(t, "guide", read(t, conn, "docs/guide.txt"))
	assert.False(t, conn.Tree().Exists("lib/old.txt"))

	props, err := conn.GetProperties(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []vcs.Property{{Name: "owner", Value: []byte("docs-team")}}, props)

	note, ok := got.find("lib/old.txt")
	require.True(t, ok)
	assert.Equal(t, vcs.ActionUpdateDelete, note.Action)
	note, ok = got.find("docs/guide.txt")
	require.True(t, ok)
	assert.Equal(t, vcs.ActionUpdateAdd, note.Action)

	base, ok := conn.BaseRevision("src/util/a.go")
	require.True(t, ok)
	assert.Equal(t, vcs.Revision("2"), base)
}

func TestUpdateTextConflict(t *testing.T) {
	ctx := context.Background()
	repo, conn := setupRepo(t)
	require.NoError(t, conn.Tree().WriteFile("docs/readme.txt", []byte("local")))

	_, err := repo.Apply("remote", func(tx *Tx) {
		tx.WriteFile("docs/readme.txt", "remote")
	})
	require.NoError(t, err)

	var got notes
	_, err = conn.Update(ctx, []string{"docs"}, vcs.RevisionHead, vcs.UpdateOptions{Depth: vcs.DepthInfinity}, got.add)
	require.NoError(t, err)

	note, ok := got.find("docs/readme.txt")
	require.True(t, ok)
	assert.True(t, note.Conflicted())
	assert.Equal(t, "local", read(t, conn, "docs/readme.txt"))
	assert.Equal(t, vcs.StateConflicting, states(t, conn, "docs")["docs/readme.txt"])

	// revert resolves to the new base
	require.NoError(t, conn.Revert(ctx, "docs/readme.txt", false, nil))
	assert.Equal(t, "remote", read(t, conn, "docs/readme.txt"))
}

func TestUpdateRestoresMissing(t *testing.T) {
	_, conn := setupRepo(t)
	require.NoError(t, conn.Tree().RemoveAll("lib/old.txt"))

	_, err := conn.Update(context.Background(), []string{"lib"}, vcs.RevisionHead, vcs.UpdateOptions{Depth: vcs.DepthInfinity}, nil)
	require.NoError(t, err)
	assert.Equal(t, "old", read(t, conn, "lib/old.txt"))
}

func TestUpdateKindChange(t *testing.T) {
	ctx := context.Background()
	repo, conn := setupRepo(t)

	_, err := repo.Apply("folder becomes file", func(tx *Tx) {
		tx.Remove("src/util")
		tx.WriteFile("src/util", "now a file")
	})
	require.NoError(t, err)

	_, err = conn.Update(ctx, []string{"src/util"}, vcs.RevisionHead, vcs.UpdateOptions{Depth: vcs.DepthInfinity}, nil)
	require.NoError(t, err)

	kind, err := conn.Tree().Stat("src/util")
	require.NoError(t, err)
	assert.Equal(t, vcs.KindFile, kind)
	assert.Equal(t, "now a file", read(t, conn, "src/util"))
	assert.NotContains(t, states(t, conn, "src"), "src/util/a.go")
}

func TestUpdateTreeConflictOnLocalEdit(t *testing.T) {
	repo, conn := setupRepo(t)
	require.NoError(t, conn.Tree().WriteFile("lib/old.txt", []byte("local")))

	_, err := repo.Apply("remove", func(tx *Tx) { tx.Remove("lib/old.txt") })
	require.NoError(t, err)

	var got notes
	_, err = conn.Update(context.Background(), []string{"lib"}, vcs.RevisionHead, vcs.UpdateOptions{Depth: vcs.DepthInfinity}, got.add)
	require.NoError(t, err)

	note, ok := got.find("lib/old.txt")
	require.True(t, ok)
	assert.Equal(t, vcs.ActionTreeConflict, note.Action)
	assert.Equal(t, "local", read(t, conn, "lib/old.txt"))

	statuses, err := conn.Status(context.Background(), "lib/old.txt", vcs.DepthEmpty)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.NotNil(t, statuses[0].TreeConflict)
	assert.Equal(t, vcs.KindNone, statuses[0].TreeConflict.Incoming)
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	repo, conn := setupRepo(t)
	tree := conn.Tree()

	require.NoError(t, tree.WriteFile("docs/readme.txt", []byte("edited")))
	require.NoError(t, tree.WriteFile("docs/new.txt", []byte("new")))
	require.NoError(t, conn.Add("docs/new.txt"))
	require.NoError(t, tree.WriteFile("docs/scratch.txt", []byte("not added")))

	var got notes
	res, err := conn.Commit(ctx, []string{"docs"}, "edit docs", vcs.CommitOptions{Depth: vcs.DepthInfinity}, got.add)
	require.NoError(t, err)
	assert.Equal(t, vcs.Revision("2"), res.Revision)
	assert.Len(t, got, 2)

	content, ok := repo.File(vcs.RevisionHead, "docs/readme.txt")
	require.True(t, ok)
	assert.Equal(t, "edited", string(content))
	_, ok = repo.File(vcs.RevisionHead, "docs/new.txt")
	assert.True(t, ok)
	_, ok = repo.File(vcs.RevisionHead, "docs/scratch.txt")
	assert.False(t, ok)

	msg, err := repo.Log(res.Revision)
	require.NoError(t, err)
	assert.Equal(t, "edit docs", msg)

	st := states(t, conn, "docs")
	assert.Equal(t, vcs.StateNormal, st["docs/readme.txt"])
	assert.Equal(t, vcs.StateNormal, st["docs/new.txt"])

	// nothing left to commit
	res, err = conn.Commit(ctx, []string{"docs"}, "again", vcs.CommitOptions{Depth: vcs.DepthInfinity}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Revision)
}

func TestCommitOutOfDate(t *testing.T) {
	ctx := context.Background()
	repo, conn := setupRepo(t)
	require.NoError(t, conn.Tree().WriteFile("docs/readme.txt", []byte("local")))

	_, err := repo.Apply("remote", func(tx *Tx) { tx.WriteFile("docs/readme.txt", "remote") })
	require.NoError(t, err)

	_, err = conn.Commit(ctx, []string{"docs"}, "stale", vcs.CommitOptions{Depth: vcs.DepthInfinity}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, vcs.ErrConflicts)

	o := vcs.Classify(err)
	assert.Equal(t, vcs.OutcomeConflict, o.Kind)
	assert.Equal(t, "docs/readme.txt", o.Path)
}

func TestDeleteAndCommit(t *testing.T) {
	ctx := context.Background()
	repo, conn := setupRepo(t)

	var got notes
	require.NoError(t, conn.Delete(ctx, "src/util", got.add))
	assert.False(t, conn.Tree().Exists("src/util"))
	assert.Equal(t, vcs.StateDeleted, states(t, conn, "src")["src/util"])
	require.Len(t, got, 1)
	assert.Equal(t, vcs.ActionDelete, got[0].Action)

	res, err := conn.Commit(ctx, []string{"src/util"}, "drop util", vcs.CommitOptions{Depth: vcs.DepthInfinity}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Revision)
	assert.Equal(t, vcs.KindNone, repo.Kind(vcs.RevisionHead, "src/util"))
	assert.Equal(t, vcs.KindNone, repo.Kind(vcs.RevisionHead, "src/util/a.go"))
	assert.NotContains(t, states(t, conn, "src"), "src/util")

	err = conn.Delete(ctx, "nowhere", nil)
	assert.ErrorIs(t, err, vcs.ErrPathNotFound)
}

func TestPostCommitHook(t *testing.T) {
	repo, conn := setupRepo(t)
	repo.PostCommitHook = func(rev vcs.Revision, paths []string) []vcs.PostCommitError {
		return []vcs.PostCommitError{{Path: paths[0], Message: "hook failed at " + string(rev)}}
	}
	require.NoError(t, conn.Tree().WriteFile("docs/readme.txt", []byte("edited")))

	res, err := conn.Commit(context.Background(), []string{"docs/readme.txt"}, "m", vcs.CommitOptions{}, nil)
	require.NoError(t, err)
	require.Len(t, res.PostCommitErrors, 1)
	assert.Equal(t, "post-commit docs/readme.txt: hook failed at 2", res.PostCommitErrors[0].Error())
}

func TestProperties(t *testing.T) {
	ctx := context.Background()
	_, conn := setupRepo(t)

	require.NoError(t, conn.SetProperty(ctx, "docs/readme.txt", "b", []byte("2")))
	require.NoError(t, conn.SetProperty(ctx, "docs/readme.txt", "a", []byte("1")))
	props, err := conn.GetProperties(ctx, "docs/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, []vcs.Property{{Name: "a", Value: []byte("1")}, {Name: "b", Value: []byte("2")}}, props)
	assert.Equal(t, vcs.StateModified, states(t, conn, "docs")["docs/readme.txt"])

	require.NoError(t, conn.RemoveProperty(ctx, "docs/readme.txt", "a"))
	require.NoError(t, conn.RemoveProperty(ctx, "docs/readme.txt", "b"))
	assert.Equal(t, vcs.StateNormal, states(t, conn, "docs")["docs/readme.txt"])

	require.NoError(t, conn.Tree().WriteFile("docs/free.txt", []byte("x")))
	_, err = conn.GetProperties(ctx, "docs/free.txt")
	assert.ErrorIs(t, err, vcs.ErrNotVersioned)
}

func TestCat(t *testing.T) {
	ctx := context.Background()
	repo, conn := setupRepo(t)
	_, err := repo.Apply("remote", func(tx *Tx) { tx.WriteFile("docs/readme.txt", "v2") })
	require.NoError(t, err)

	r, err := conn.Cat(ctx, vcs.EntryRef{Path: "docs/readme.txt", Revision: "1"})
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	r, err = conn.Cat(ctx, vcs.EntryRef{Path: "docs/readme.txt"})
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = conn.Cat(ctx, vcs.EntryRef{Path: "docs/missing.txt"})
	assert.ErrorIs(t, err, vcs.ErrPathNotFound)
	_, err = conn.Cat(ctx, vcs.EntryRef{Path: "docs/readme.txt", Revision: "99"})
	assert.ErrorIs(t, err, vcs.ErrRevisionNotFound)
}

func setupBranches(t *testing.T) (*Repo, *Connector) {
	t.Helper()
	repo := NewRepo()
	_, err := repo.Apply("trunk", func(tx *Tx) {
		tx.WriteFile("trunk/a.txt", "a")
		tx.WriteFile("trunk/b.txt", "b")
	})
	require.NoError(t, err)
	_, err = repo.Apply("branch", func(tx *Tx) { tx.Copy("trunk", "branches/feature") })
	require.NoError(t, err)
	_, err = repo.Apply("work on branch", func(tx *Tx) {
		tx.WriteFile("branches/feature/a.txt", "a feature")
		tx.WriteFile("branches/feature/c.txt", "c")
		tx.Remove("branches/feature/b.txt")
	})
	require.NoError(t, err)

	conn, err := repo.Checkout(memfs.New(), vcs.RevisionHead)
	require.NoError(t, err)
	return repo, conn
}

func collectStatus(t *testing.T, conn *Connector, req vcs.MergeRequest, target string) map[string]vcs.MergeStatus {
	t.Helper()
	out := make(map[string]vcs.MergeStatus)
	err := conn.MergeStatus(context.Background(), req, target, vcs.MergeOptions{Depth: vcs.DepthInfinity}, func(st vcs.MergeStatus) {
		out[st.Path] = st
	})
	require.NoError(t, err)
	return out
}

func TestMergeStatusReintegrate(t *testing.T) {
	_, conn := setupBranches(t)
	req := vcs.MergeRequest{Kind: vcs.MergeReintegrate, Source: vcs.EntryRef{Path: "branches/feature"}}

	got := collectStatus(t, conn, req, "trunk")

	require.Len(t, got, 3)
	assert.Equal(t, vcs.ChangeModified, got["trunk/a.txt"].Text)
	assert.Equal(t, vcs.ChangeDeleted, got["trunk/b.txt"].Text)
	assert.Equal(t, vcs.ChangeAdded, got["trunk/c.txt"].Text)
	assert.Equal(t, "branches/feature/c.txt", got["trunk/c.txt"].Source)
	assert.True(t, got["trunk/a.txt"].Eligible)
}

func TestMergeStatusReintegrateAlreadyMerged(t *testing.T) {
	repo := NewRepo()
	_, err := repo.Apply("trunk", func(tx *Tx) { tx.WriteFile("trunk/a.txt", "a") })
	require.NoError(t, err)
	_, err = repo.Apply("branch", func(tx *Tx) { tx.Copy("trunk", "branches/feature") })
	require.NoError(t, err)
	conn, err := repo.Checkout(memfs.New(), vcs.RevisionHead)
	require.NoError(t, err)

	req := vcs.MergeRequest{Kind: vcs.MergeReintegrate, Source: vcs.EntryRef{Path: "branches/feature"}}
	assert.Empty(t, collectStatus(t, conn, req, "trunk"))
}

func TestMergeStatusSingleChange(t *testing.T) {
	_, conn := setupBranches(t)
	req := vcs.MergeRequest{
		Kind:    vcs.MergeSingle,
		Source:  vcs.EntryRef{Path: "branches/feature"},
		Changes: []vcs.Revision{"3"},
	}
	got := collectStatus(t, conn, req, "trunk")
	assert.Len(t, got, 3)

	req.Changes = nil
	req.Ranges = []vcs.RevisionRange{{From: "2", To: "3"}}
	got = collectStatus(t, conn, req, "trunk")
	assert.Len(t, got, 3)

	// revision 2 created the branch: its files collide with trunk
	req.Ranges = nil
	req.Changes = []vcs.Revision{"2"}
	got = collectStatus(t, conn, req, "trunk")
	assert.Equal(t, vcs.ChangeAdded, got["trunk/a.txt"].Text)
	assert.True(t, got["trunk/a.txt"].TreeConflict)
}

func TestMergeStatusLocalEdits(t *testing.T) {
	_, conn := setupBranches(t)
	require.NoError(t, conn.Tree().WriteFile("trunk/a.txt", []byte("local")))
	require.NoError(t, conn.Tree().RemoveAll("trunk/b.txt"))
	require.NoError(t, conn.Delete(context.Background(), "trunk/b.txt", nil))

	req := vcs.MergeRequest{Kind: vcs.MergeReintegrate, Source: vcs.EntryRef{Path: "branches/feature"}}
	got := collectStatus(t, conn, req, "trunk")

	assert.Equal(t, vcs.ChangeConflicted, got["trunk/a.txt"].Text)
	assert.True(t, got["trunk/b.txt"].TreeConflict)
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	_, conn := setupBranches(t)
	req := vcs.MergeRequest{Kind: vcs.MergeReintegrate, Source: vcs.EntryRef{Path: "branches/feature"}}

	var got notes
	require.NoError(t, conn.Merge(ctx, req, "trunk", vcs.MergeOptions{Depth: vcs.DepthInfinity}, got.add))

	assert.Equal(t, "a feature", read(t, conn, "trunk/a.txt"))
	assert.Equal(t, "c", read(t, conn, "trunk/c.txt"))
	assert.False(t, conn.Tree().Exists("trunk/b.txt"))

	st := states(t, conn, "trunk")
	assert.Equal(t, vcs.StateModified, st["trunk/a.txt"])
	assert.Equal(t, vcs.StateAdded, st["trunk/c.txt"])
	assert.Equal(t, vcs.StateDeleted, st["trunk/b.txt"])
	assert.Equal(t, vcs.ActionMergeBegin, got[0].Action)
}

func TestMergeRecordOnly(t *testing.T) {
	_, conn := setupBranches(t)
	req := vcs.MergeRequest{Kind: vcs.MergeReintegrate, Source: vcs.EntryRef{Path: "branches/feature"}}

	require.NoError(t, conn.Merge(context.Background(), req, "trunk", vcs.MergeOptions{Depth: vcs.DepthInfinity, RecordOnly: true}, nil))
	assert.Equal(t, "a", read(t, conn, "trunk/a.txt"))
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	_, conn := setupRepo(t)
	boom := errors.New("connection reset")
	conn.Fail(OpUpdate, "docs", boom)

	_, err := conn.Update(ctx, []string{"docs"}, vcs.RevisionHead, vcs.UpdateOptions{}, nil)
	assert.ErrorIs(t, err, boom)
	_, err = conn.Update(ctx, []string{"src"}, vcs.RevisionHead, vcs.UpdateOptions{}, nil)
	assert.NoError(t, err)

	calls := conn.CallsOf(OpUpdate)
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"docs"}, calls[0].Paths)

	conn.ClearFailures()
	_, err = conn.Update(ctx, []string{"docs"}, vcs.RevisionHead, vcs.UpdateOptions{}, nil)
	assert.NoError(t, err)

	conn.ResetCalls()
	assert.Empty(t, conn.Calls())
}

func TestForceState(t *testing.T) {
	_, conn := setupRepo(t)
	conn.ForceState("docs/readme.txt", vcs.StateInvalid)
	assert.Equal(t, vcs.StateInvalid, states(t, conn, "docs")["docs/readme.txt"])
}

func TestImport(t *testing.T) {
	fs := memfs.New()
	tree := NewRepo()
	conn, err := tree.Import(fs)
	require.NoError(t, err)
	assert.Equal(t, vcs.Revision("1"), tree.Head())
	assert.Equal(t, vcs.TypeMemory, conn.Name())
}
