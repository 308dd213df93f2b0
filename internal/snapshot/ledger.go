package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Ledger is a sqlite record of snapshot entries.
//
// A reconciliation run that crashes between capture and restore leaves
// its entries behind. The ledger keeps enough to find them again:
//   - Database file: <scratch dir>/ledger.db by default
//   - WAL mode: a CLI listing entries while a run is active is fine
//   - Schema: one snapshot_entries table, indexed on disposal
type Ledger struct {
	conn *sql.DB
	path string
}

// Record is one ledger row
type Record struct {
	ID       string
	RunID    string
	Source   string
	Location string

	// Root is the scratch filesystem root holding Location
	Root string

	Kind       ContentKind
	Size       int64
	CreatedAt  time.Time
	DisposedAt *time.Time
}

// OpenLedger opens or creates the ledger database at path and ensures
// its schema.
//
// The caller MUST call Close() when done.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	l := &Ledger{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := l.InitSchema(context.Background()); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the database file path
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.conn == nil {
		return nil
	}
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	l.conn = nil
	return nil
}

// InitSchema creates the ledger table if it doesn't exist. Idempotent.
func (l *Ledger) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot_entries (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		source TEXT NOT NULL,
		location TEXT NOT NULL,
		root TEXT NOT NULL,
		kind TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		disposed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_snapshot_entries_disposed ON snapshot_entries(disposed_at);
	CREATE INDEX IF NOT EXISTS idx_snapshot_entries_run ON snapshot_entries(run_id);
	`
	if _, err := l.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// Record inserts a new entry
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO snapshot_entries (id, run_id, source, location, root, kind, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Source, rec.Location, rec.Root, rec.Kind.String(), rec.Size,
		rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record entry %s: %w", rec.ID, err)
	}
	return nil
}

// MarkDisposed stamps the disposal time of an entry
func (l *Ledger) MarkDisposed(ctx context.Context, id string, at time.Time) error {
	_, err := l.conn.ExecContext(ctx,
		`UPDATE snapshot_entries SET disposed_at = ? WHERE id = ? AND disposed_at IS NULL`,
		at.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s disposed: %w", id, err)
	}
	return nil
}

// Outstanding lists entries never disposed, oldest first
func (l *Ledger) Outstanding(ctx context.Context) ([]Record, error) {
	return l.query(ctx, `
		SELECT id, run_id, source, location, root, kind, size, created_at, disposed_at
		FROM snapshot_entries WHERE disposed_at IS NULL ORDER BY created_at`)
}

// Run lists all entries of one run
func (l *Ledger) Run(ctx context.Context, runID string) ([]Record, error) {
	return l.query(ctx, `
		SELECT id, run_id, source, location, root, kind, size, created_at, disposed_at
		FROM snapshot_entries WHERE run_id = ? ORDER BY created_at`, runID)
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := l.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			kind      string
			created   string
			disposedN sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Source, &rec.Location, &rec.Root,
			&kind, &rec.Size, &created, &disposedN); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if kind == ContentDir.String() {
			rec.Kind = ContentDir
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("failed to parse created_at of %s: %w", rec.ID, err)
		}
		if disposedN.Valid {
			at, err := time.Parse(time.RFC3339Nano, disposedN.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse disposed_at of %s: %w", rec.ID, err)
			}
			rec.DisposedAt = &at
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Purge removes the temporary storage of every outstanding entry
// created before cutoff and marks it disposed. It returns the number of
// entries purged. A zero cutoff purges everything outstanding.
func (l *Ledger) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := l.Outstanding(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	now := time.Now().UTC()
	for _, rec := range records {
		if !cutoff.IsZero() && !rec.CreatedAt.Before(cutoff) {
			continue
		}
		fs := osfs.New(rec.Root)
		if err := util.RemoveAll(fs, rec.Location); err != nil && !errors.Is(err, os.ErrNotExist) {
			return purged, fmt.Errorf("failed to remove %s: %w", rec.Location, err)
		}
		if err := l.MarkDisposed(ctx, rec.ID, now); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
