package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedgerInitSchemaIdempotent(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.InitSchema(context.Background()))
	require.NoError(t, l.InitSchema(context.Background()))
}

func TestStoreRecordsInLedger(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	store, err := OpenStore(filepath.Join(t.TempDir(), "scratch"), WithLedger(l))
	require.NoError(t, err)

	kept, err := store.CaptureFile("docs/readme.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	gone, err := store.CaptureDir("src")
	require.NoError(t, err)
	require.NoError(t, gone.Dispose())

	all, err := l.Run(ctx, store.RunID())
	require.NoError(t, err)
	require.Len(t, all, 2)

	outstanding, err := l.Outstanding(ctx)
	require.NoError(t, err)
	require.Len(t, outstanding, 1)

	rec := outstanding[0]
	assert.Equal(t, kept.ID, rec.ID)
	assert.Equal(t, store.RunID(), rec.RunID)
	assert.Equal(t, "docs/readme.txt", rec.Source)
	assert.Equal(t, kept.Location, rec.Location)
	assert.Equal(t, ContentFile, rec.Kind)
	assert.EqualValues(t, 5, rec.Size)
	assert.Nil(t, rec.DisposedAt)
}

func TestLedgerPurge(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	scratch := filepath.Join(t.TempDir(), "scratch")

	store, err := OpenStore(scratch, WithLedger(l))
	require.NoError(t, err)
	e, err := store.CaptureFile("a.txt", strings.NewReader("leaked"))
	require.NoError(t, err)

	onDisk := filepath.Join(scratch, filepath.FromSlash(e.Location))
	_, err = os.Stat(onDisk)
	require.NoError(t, err)

	// entries newer than the cutoff stay
	n, err := l.Purge(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = l.Purge(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(onDisk)
	assert.True(t, os.IsNotExist(err))

	outstanding, err := l.Outstanding(ctx)
	require.NoError(t, err)
	assert.Empty(t, outstanding)

	all, err := l.Run(ctx, store.RunID())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].DisposedAt)
}

func TestLedgerCloseTwice(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
