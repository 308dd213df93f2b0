package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcsync/wcsync/internal/merge"
	"github.com/wcsync/wcsync/internal/vcs"
)

func parseMergeFlags(t *testing.T, prefix string, args ...string) (mergeFlags, error) {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	addMergeFlags(c, prefix)
	require.NoError(t, c.Flags().Parse(args))
	return mergeFlagsFrom(c, prefix)
}

func TestParseEntryRef(t *testing.T) {
	tests := []struct {
		in   string
		want vcs.EntryRef
	}{
		{"branches/feature@42", vcs.EntryRef{Path: "branches/feature", Revision: "42"}},
		{"trunk", vcs.EntryRef{Path: "trunk"}},
		{"@feature", vcs.EntryRef{Path: ".", Revision: "feature"}},
		{"user@host/path@7", vcs.EntryRef{Path: "user@host/path", Revision: "7"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseEntryRef(tt.in), tt.in)
	}
}

func TestParseRange(t *testing.T) {
	r, err := parseRange("5:9")
	require.NoError(t, err)
	assert.Equal(t, vcs.RevisionRange{From: "5", To: "9"}, r)

	for _, bad := range []string{"5", ":9", "5:"} {
		_, err := parseRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDepth(t *testing.T) {
	d, err := parseDepth("Immediates")
	require.NoError(t, err)
	assert.Equal(t, vcs.DepthImmediates, d)

	_, err = parseDepth("deep")
	assert.Error(t, err)
}

func TestMergeFlagsSingleReference(t *testing.T) {
	flags, err := parseMergeFlags(t, "", "--source", "trunk@HEAD", "--range", "5:9", "--change", "12", "--record-only")
	require.NoError(t, err)

	shape, ok := flags.shape().(merge.SingleReference)
	require.True(t, ok)
	assert.Equal(t, vcs.EntryRef{Path: "trunk", Revision: "HEAD"}, shape.Source)
	assert.Equal(t, []vcs.RevisionRange{{From: "5", To: "9"}, {From: "12", To: "12"}}, shape.Ranges)
	assert.True(t, flags.opts.RecordOnly)
	assert.Equal(t, vcs.DepthInfinity, flags.opts.Depth)

	set, err := flags.newSet([]string{"src", "src/sub", "docs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "src"}, set.Targets)
}

func TestMergeFlagsShapes(t *testing.T) {
	flags, err := parseMergeFlags(t, "merge-", "--merge-source", "tags/v1@5", "--merge-end", "tags/v2@9")
	require.NoError(t, err)
	assert.Equal(t, merge.DualReference{
		Start: vcs.EntryRef{Path: "tags/v1", Revision: "5"},
		End:   vcs.EntryRef{Path: "tags/v2", Revision: "9"},
	}, flags.shape())

	flags, err = parseMergeFlags(t, "", "--source", "@feature", "--reintegrate", "--depth", "empty")
	require.NoError(t, err)
	assert.Equal(t, merge.Reintegrate{Source: vcs.EntryRef{Path: ".", Revision: "feature"}}, flags.shape())
	assert.Equal(t, vcs.DepthEmpty, flags.opts.Depth)
}

func TestMergeFlagsErrors(t *testing.T) {
	_, err := parseMergeFlags(t, "", "--range", "1:2")
	assert.ErrorContains(t, err, "--source is required")

	_, err = parseMergeFlags(t, "", "--source", "trunk")
	assert.ErrorContains(t, err, "exactly one of")

	_, err = parseMergeFlags(t, "", "--source", "trunk", "--reintegrate", "--range", "1:2")
	assert.ErrorContains(t, err, "exactly one of")

	_, err = parseMergeFlags(t, "", "--source", "trunk", "--range", "oops")
	assert.ErrorContains(t, err, "invalid revision range")
}
