// Package snapshot captures working copy content and properties before a
// destructive backend step and reapplies them afterwards.
//
// A Store is the temporary storage allocator. Every capture produces an
// Entry at a location named after the resource plus a uuid suffix, so
// runs over disjoint resources never collide even when resource names
// repeat. Each Entry must be disposed exactly once; Stats lets callers
// verify that nothing leaked.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/wcsync/wcsync/internal/wc"
)

var (
	// ErrSnapshotIO is returned when temporary storage cannot be created,
	// written or read back.
	ErrSnapshotIO = errors.New("snapshot storage failure")

	// ErrAlreadyDisposed is returned by a second Dispose of the same entry.
	ErrAlreadyDisposed = errors.New("snapshot entry already disposed")
)

// ContentKind tells whether an entry holds a file or marks a folder
type ContentKind int

const (
	ContentFile ContentKind = iota
	ContentDir
)

func (k ContentKind) String() string {
	if k == ContentDir {
		return "dir"
	}
	return "file"
}

// Entry is one captured node
type Entry struct {
	// ID is unique across stores
	ID string

	// Source is the working copy path the content came from
	Source string

	// Location is the path inside the store's filesystem
	Location string

	Kind ContentKind
	Size int64

	store    *Store
	disposed bool
}

// Dispose releases the temporary storage of the entry.
// A second call returns ErrAlreadyDisposed.
func (e *Entry) Dispose() error {
	return e.store.release(e)
}

// Disposed reports whether the entry was released
func (e *Entry) Disposed() bool {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.disposed
}

// Open returns the captured bytes of a file entry
func (e *Entry) Open() (io.ReadCloser, error) {
	return e.store.Open(e)
}

// Stats counts entries over the life of a store
type Stats struct {
	Created  int
	Disposed int
}

// Leaked returns the number of entries not disposed yet
func (s Stats) Leaked() int {
	return s.Created - s.Disposed
}

// Store allocates temporary storage for snapshot entries
type Store struct {
	fs     billy.Filesystem
	runID  string
	ledger *Ledger
	log    *slog.Logger

	mu       sync.Mutex
	created  int
	released int
	live     map[string]*Entry
}

// Option configures a Store
type Option func(*Store)

// WithLedger records every entry in l
func WithLedger(l *Ledger) Option {
	return func(s *Store) {
		s.ledger = l
	}
}

// WithLogger sets the logger used for ledger failures
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// NewStore creates a store writing into fs
func NewStore(fs billy.Filesystem, opts ...Option) *Store {
	s := &Store{
		fs:    fs,
		runID: uuid.NewString(),
		log:   slog.Default(),
		live:  make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenStore creates a store in dir on the OS filesystem
func OpenStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: failed to create scratch directory: %v", ErrSnapshotIO, err)
	}
	return NewStore(osfs.New(dir), opts...), nil
}

// RunID identifies this store in the ledger
func (s *Store) RunID() string {
	return s.runID
}

// Filesystem returns the scratch filesystem
func (s *Store) Filesystem() billy.Filesystem {
	return s.fs
}

// Stats returns creation and disposal counts
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Created: s.created, Disposed: s.released}
}

// Live returns the entries not disposed yet
func (s *Store) Live() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.live))
	for _, e := range s.live {
		out = append(out, e)
	}
	return out
}

// CaptureFile copies r into a new file entry for source
func (s *Store) CaptureFile(source string, r io.Reader) (*Entry, error) {
	e := s.newEntry(source, ContentFile)

	f, err := s.fs.OpenFile(e.Location, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to allocate %s: %v", ErrSnapshotIO, e.Location, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(e.Location)
		return nil, fmt.Errorf("%w: failed to capture %s: %v", ErrSnapshotIO, source, err)
	}
	e.Size = n

	s.track(e)
	return e, nil
}

// CaptureDir allocates a folder entry for source
func (s *Store) CaptureDir(source string) (*Entry, error) {
	e := s.newEntry(source, ContentDir)
	if err := s.fs.MkdirAll(e.Location, 0700); err != nil {
		return nil, fmt.Errorf("%w: failed to allocate %s: %v", ErrSnapshotIO, e.Location, err)
	}
	s.track(e)
	return e, nil
}

// Open returns the captured bytes of a file entry
func (s *Store) Open(e *Entry) (io.ReadCloser, error) {
	if e.Kind != ContentFile {
		return nil, fmt.Errorf("%w: %s is not a file entry", ErrSnapshotIO, e.Source)
	}
	s.mu.Lock()
	disposed := e.disposed
	s.mu.Unlock()
	if disposed {
		return nil, ErrAlreadyDisposed
	}
	f, err := s.fs.Open(e.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read back %s: %v", ErrSnapshotIO, e.Source, err)
	}
	return f, nil
}

func (s *Store) newEntry(source string, kind ContentKind) *Entry {
	id := uuid.NewString()
	return &Entry{
		ID:       id,
		Source:   source,
		Location: path.Join(s.runID[:8], entryName(source)+"-"+id),
		Kind:     kind,
		store:    s,
	}
}

func (s *Store) track(e *Entry) {
	s.mu.Lock()
	s.created++
	s.live[e.ID] = e
	s.mu.Unlock()

	if s.ledger != nil {
		rec := Record{
			ID:        e.ID,
			RunID:     s.runID,
			Source:    e.Source,
			Location:  e.Location,
			Root:      s.fs.Root(),
			Kind:      e.Kind,
			Size:      e.Size,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.ledger.Record(context.Background(), rec); err != nil {
			s.log.Warn("failed to record snapshot entry", "source", e.Source, "error", err)
		}
	}
}

func (s *Store) release(e *Entry) error {
	s.mu.Lock()
	if e.disposed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyDisposed, e.Source)
	}
	e.disposed = true
	s.released++
	delete(s.live, e.ID)
	s.mu.Unlock()

	err := util.RemoveAll(s.fs, e.Location)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		err = fmt.Errorf("%w: failed to release %s: %v", ErrSnapshotIO, e.Location, err)
	} else {
		err = nil
	}

	if s.ledger != nil {
		if lerr := s.ledger.MarkDisposed(context.Background(), e.ID, time.Now().UTC()); lerr != nil {
			s.log.Warn("failed to record snapshot disposal", "source", e.Source, "error", lerr)
		}
	}
	return err
}

// entryName derives a readable location prefix from a working copy path
func entryName(source string) string {
	name := wc.Name(source)
	if name == "" {
		name = "root"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// Close removes the store's run directory. It fails when entries are
// still live, leaving them in place for Ledger.Purge.
func (s *Store) Close() error {
	s.mu.Lock()
	leaked := len(s.live)
	s.mu.Unlock()
	if leaked > 0 {
		return fmt.Errorf("%w: %d snapshot entries were not disposed", ErrSnapshotIO, leaked)
	}
	if err := util.RemoveAll(s.fs, s.runID[:8]); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}
	return nil
}
