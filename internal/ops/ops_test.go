package ops

import (
	"context"
	"errors"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcsync/wcsync/internal/merge"
	"github.com/wcsync/wcsync/internal/report"
	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/vcs/vcstest"
)

func setupRepo(t *testing.T) (*vcstest.Repo, *vcstest.Connector) {
	t.Helper()
	repo := vcstest.NewRepo()
	_, err := repo.Apply("initial", func(tx *vcstest.Tx) {
		tx.WriteFile("docs/readme.txt", "hello")
		tx.WriteFile("lib/old.txt", "old")
	})
	require.NoError(t, err)

	conn, err := repo.Checkout(memfs.New(), vcs.RevisionHead)
	require.NoError(t, err)
	return repo, conn
}

func TestUpdateMapsConflictToDescendant(t *testing.T) {
	ctx := context.Background()
	repo, conn := setupRepo(t)
	require.NoError(t, conn.Tree().WriteFile("docs/readme.txt", []byte("local")))
	_, err := repo.Apply("remote", func(tx *vcstest.Tx) {
		tx.WriteFile("docs/readme.txt", "remote")
	})
	require.NoError(t, err)

	sink := &report.Collector{}
	res, err := NewRunner(conn, sink, nil).Update(ctx, []string{"docs", "lib"}, vcs.RevisionHead,
		vcs.UpdateOptions{Depth: vcs.DepthInfinity})

	assert.ErrorIs(t, err, vcs.ErrConflicts)
	assert.Equal(t, vcs.Revision("2"), res.Revision)
	assert.Equal(t, []string{"docs", "lib"}, res.Partition.Processed)
	assert.Equal(t, []string{"docs/readme.txt"}, res.Partition.Unprocessed)
	assert.True(t, res.Partition.Conflict)
	assert.Contains(t, res.Partition.Message, "docs/readme.txt: text conflict")
	assert.Equal(t, 1, sink.Count(report.SeverityWarning))
}

func TestUpdateShrinksResources(t *testing.T) {
	_, conn := setupRepo(t)
	res, err := NewRunner(conn, nil, nil).Update(context.Background(),
		[]string{"docs/readme.txt", "docs", "lib"}, vcs.RevisionHead, vcs.UpdateOptions{Depth: vcs.DepthInfinity})
	require.NoError(t, err)

	assert.Equal(t, []string{"docs", "lib"}, res.Partition.Processed)
	calls := conn.CallsOf(vcstest.OpUpdate)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"docs", "lib"}, calls[0].Paths)
}

func TestCommitOutOfDateConflict(t *testing.T) {
	ctx := context.Background()
	repo, conn := setupRepo(t)
	require.NoError(t, conn.Tree().WriteFile("docs/readme.txt", []byte("local")))
	_, err := repo.Apply("remote", func(tx *vcstest.Tx) {
		tx.WriteFile("docs/readme.txt", "remote")
	})
	require.NoError(t, err)

	res, err := NewRunner(conn, nil, nil).Commit(ctx, []string{"docs/readme.txt"}, "edit", vcs.CommitOptions{Depth: vcs.DepthInfinity})

	assert.ErrorIs(t, err, vcs.ErrConflicts)
	assert.Empty(t, res.Partition.Processed)
	assert.Equal(t, []string{"docs/readme.txt"}, res.Partition.Unprocessed)
	assert.True(t, res.Partition.Conflict)
}

func TestCommitPostCommitErrors(t *testing.T) {
	repo, conn := setupRepo(t)
	repo.PostCommitHook = func(rev vcs.Revision, paths []string) []vcs.PostCommitError {
		return []vcs.PostCommitError{{Path: paths[0], Message: "hook failed"}}
	}
	require.NoError(t, conn.Tree().WriteFile("lib/old.txt", []byte("new")))

	sink := &report.Collector{}
	res, err := NewRunner(conn, sink, nil).Commit(context.Background(), []string{"lib"}, "edit", vcs.CommitOptions{Depth: vcs.DepthInfinity})
	require.NoError(t, err)

	assert.Equal(t, vcs.Revision("2"), res.Revision)
	require.Len(t, res.PostCommitErrors, 1)
	assert.Equal(t, "hook failed", res.PostCommitErrors[0].Message)
	assert.Equal(t, []string{"lib"}, res.Partition.Processed)
	assert.Equal(t, 1, sink.Count(report.SeverityWarning))
}

func TestCommitNothing(t *testing.T) {
	_, conn := setupRepo(t)
	res, err := NewRunner(conn, nil, nil).Commit(context.Background(), nil, "empty", vcs.CommitOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Partition.Processed)
	assert.Empty(t, conn.CallsOf(vcstest.OpCommit))
}

func TestRevertContinuesAfterFailure(t *testing.T) {
	_, conn := setupRepo(t)
	require.NoError(t, conn.Tree().WriteFile("docs/readme.txt", []byte("local")))
	require.NoError(t, conn.Tree().WriteFile("lib/old.txt", []byte("local")))
	conn.Fail(vcstest.OpRevert, "docs", errors.New("locked"))

	sink := &report.Collector{}
	res, err := NewRunner(conn, sink, nil).Revert(context.Background(), []string{"docs", "lib"}, true)

	require.Error(t, err)
	assert.NotErrorIs(t, err, vcs.ErrConflicts)
	assert.Equal(t, []string{"lib"}, res.Partition.Processed)
	assert.Equal(t, []string{"docs"}, res.Partition.Unprocessed)
	assert.False(t, res.Partition.Conflict)
	assert.Equal(t, 1, sink.Count(report.SeverityError))

	data, err := conn.Tree().ReadFile("lib/old.txt")
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestDeleteMissingPath(t *testing.T) {
	_, conn := setupRepo(t)
	res, err := NewRunner(conn, nil, nil).Delete(context.Background(), []string{"lib/old.txt", "nope"})

	assert.ErrorIs(t, err, vcs.ErrPathNotFound)
	assert.Equal(t, []string{"lib/old.txt"}, res.Partition.Processed)
	assert.Equal(t, []string{"nope"}, res.Partition.Unprocessed)
	assert.False(t, conn.Tree().Exists("lib/old.txt"))
}

func TestRevertCancelled(t *testing.T) {
	_, conn := setupRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(conn, nil, nil).Revert(ctx, []string{"docs", "lib"}, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"docs", "lib"}, res.Partition.Unprocessed)
	assert.Empty(t, conn.CallsOf(vcstest.OpRevert))
}

func setupBranches(t *testing.T) *vcstest.Connector {
	t.Helper()
	repo := vcstest.NewRepo()
	_, err := repo.Apply("trunk", func(tx *vcstest.Tx) {
		tx.WriteFile("trunk/a.txt", "a")
		tx.Mkdir("docs")
	})
	require.NoError(t, err)
	_, err = repo.Apply("branch", func(tx *vcstest.Tx) { tx.Copy("trunk", "branches/feature") })
	require.NoError(t, err)
	_, err = repo.Apply("work on branch", func(tx *vcstest.Tx) {
		tx.WriteFile("branches/feature/a.txt", "a feature")
	})
	require.NoError(t, err)

	conn, err := repo.Checkout(memfs.New(), vcs.RevisionHead)
	require.NoError(t, err)
	return conn
}

func TestMergeOnlyTargetsInScope(t *testing.T) {
	ctx := context.Background()
	conn := setupBranches(t)

	set := merge.NewSet(merge.Reintegrate{Source: vcs.EntryRef{Path: "branches/feature"}},
		[]string{"trunk", "docs"}, merge.Options{Depth: vcs.DepthInfinity})
	set.Add(merge.Entry{Path: "trunk/a.txt", Kind: vcs.KindFile, Text: vcs.ChangeModified, Eligible: true})

	res, err := NewRunner(conn, nil, nil).Merge(ctx, set)
	require.NoError(t, err)

	calls := conn.CallsOf(vcstest.OpMerge)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"trunk"}, calls[0].Paths)
	assert.Equal(t, []string{"trunk"}, res.Partition.Processed)

	data, err := conn.Tree().ReadFile("trunk/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a feature", string(data))
}

func TestMergeEmptyScope(t *testing.T) {
	conn := setupBranches(t)
	set := merge.NewSet(merge.Reintegrate{Source: vcs.EntryRef{Path: "branches/feature"}},
		[]string{"trunk"}, merge.Options{Depth: vcs.DepthInfinity})

	res, err := NewRunner(conn, nil, nil).Merge(context.Background(), set)
	require.NoError(t, err)
	assert.Empty(t, conn.CallsOf(vcstest.OpMerge))
	assert.Empty(t, res.Partition.Processed)
	assert.Empty(t, res.Partition.Unprocessed)
}

func TestMergeConflictMapped(t *testing.T) {
	conn := setupBranches(t)
	require.NoError(t, conn.Tree().WriteFile("trunk/a.txt", []byte("local")))

	set := merge.NewSet(merge.Reintegrate{Source: vcs.EntryRef{Path: "branches/feature"}},
		[]string{"trunk"}, merge.Options{Depth: vcs.DepthInfinity})
	require.NoError(t, merge.NewCorrelator(conn, nil).Run(context.Background(), set))
	require.Equal(t, 1, set.Len())

	res, err := NewRunner(conn, nil, nil).Merge(context.Background(), set)
	assert.ErrorIs(t, err, vcs.ErrConflicts)
	assert.Equal(t, []string{"trunk"}, res.Partition.Processed)
	assert.Equal(t, []string{"trunk/a.txt"}, res.Partition.Unprocessed)
}

func TestMergeInvalidShapeLeavesTargetsUnprocessed(t *testing.T) {
	conn := setupBranches(t)
	set := merge.NewSet(merge.SingleReference{Source: vcs.EntryRef{Path: "branches/feature"}},
		[]string{"trunk", "docs"}, merge.Options{Depth: vcs.DepthInfinity})
	set.Add(merge.Entry{Path: "trunk/a.txt", Kind: vcs.KindFile, Text: vcs.ChangeModified, Eligible: true})

	sink := &report.Collector{}
	res, err := NewRunner(conn, sink, nil).Merge(context.Background(), set)

	assert.ErrorIs(t, err, merge.ErrInvalidShape)
	assert.Empty(t, conn.CallsOf(vcstest.OpMerge))
	assert.Empty(t, res.Partition.Processed)
	assert.Equal(t, []string{"trunk"}, res.Partition.Unprocessed)
	assert.Equal(t, 1, sink.Count(report.SeverityError))
}
