package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/wcsync/wcsync/internal/report"
	"github.com/wcsync/wcsync/internal/snapshot"
	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/wc"
)

// workspace is everything a command needs to act on a working copy
type workspace struct {
	conn  vcs.Connector
	tree  *wc.Tree
	store *snapshot.Store

	ledger *snapshot.Ledger

	// scratch is removed on close when it was created for this run
	scratch     string
	tempScratch bool
}

// openWorkspace opens the working copy of the configured root. With
// withStore it also prepares snapshot storage and the ledger.
func openWorkspace(withStore bool) (*workspace, error) {
	start := cfg.Root
	if start == "" {
		start = "."
	}
	conn, err := vcs.OpenType(vcs.Type(cfg.Backend), start, vcs.Options{
		Timeout: cfg.Git.Timeout,
		Push:    cfg.Git.Push,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	tree, err := wc.Open(conn.Root())
	if err != nil {
		return nil, err
	}
	if wt, ok := conn.(interface{ IsWorktree() bool }); ok && wt.IsWorktree() {
		logger.Debug("working copy is a linked worktree", "root", conn.Root())
	}
	w := &workspace{conn: conn, tree: tree}
	if !withStore {
		return w, nil
	}

	w.scratch = cfg.ScratchDir
	if w.scratch == "" {
		dir, err := os.MkdirTemp("", "wcs-scratch-")
		if err != nil {
			return nil, fmt.Errorf("failed to create scratch directory: %w", err)
		}
		w.scratch, w.tempScratch = dir, true
	}

	var opts []snapshot.Option
	if cfg.Ledger != "" {
		ledger, err := snapshot.OpenLedger(cfg.Ledger)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		w.ledger = ledger
		opts = append(opts, snapshot.WithLedger(ledger))
	}
	opts = append(opts, snapshot.WithLogger(logger))

	store, err := snapshot.OpenStore(w.scratch, opts...)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	w.store = store
	logger.Debug("workspace opened", "root", conn.Root(), "backend", conn.Name(), "scratch", w.scratch, "run", store.RunID())
	return w, nil
}

// resources converts command line paths to working copy paths. No
// arguments means the whole working copy.
func (w *workspace) resources(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	out := make([]string, 0, len(args))
	for _, a := range args {
		if !filepath.IsAbs(a) && cfg.Root != "" {
			a = filepath.Join(cfg.Root, a)
		}
		p, err := wc.Rel(w.tree.Root(), a)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// sink reports to the command logger
func (w *workspace) sink() report.Sink {
	return report.LogSink{Logger: logger}
}

// Close releases the store, the ledger and a temporary scratch directory.
// A store with live entries keeps its scratch directory for a later purge.
func (w *workspace) Close() error {
	var result error
	keepScratch := false
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			result = multierror.Append(result, err)
			keepScratch = true
		}
	}
	if w.ledger != nil {
		if err := w.ledger.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if w.tempScratch && !keepScratch {
		if err := os.RemoveAll(w.scratch); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
