package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store holds the process's current policy table and supports atomic
// replacement: readers always observe a complete table, never a partially
// updated one.
type Store struct {
	current atomic.Pointer[Table]
}

// NewStore seeds a store with an initial table.
func NewStore(t *Table) (*Store, error) {
	if t == nil {
		return nil, errors.New("policy: initial table is required")
	}
	s := &Store{}
	s.current.Store(t)
	return s, nil
}

// NewStoreFromFile loads path and seeds a store with the result. Load
// failures abort startup.
func NewStoreFromFile(path string) (*Store, error) {
	t, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewStore(t)
}

// Current returns the active table.
func (s *Store) Current() *Table { return s.current.Load() }

// Replace installs a new table.
func (s *Store) Replace(t *Table) {
	if t != nil {
		s.current.Store(t)
	}
}

// Resolve is a convenience over Current().Resolve.
func (s *Store) Resolve(method, path string) Policy {
	return s.Current().Resolve(method, path)
}

// Watch reloads the policy file whenever it changes, installing each
// successfully parsed table atomically. A reload that fails to parse keeps
// the previous table in place and logs the failure; startup validation
// already guaranteed an initial good table. Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, path string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: start watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory rather than the file: editors and config
	// management tend to replace files via rename, which drops a watch on
	// the file itself.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("policy: watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			t, err := LoadFile(path)
			if err != nil {
				log.WarnContext(ctx, "policy.reload.fail", slog.String("path", path), slog.String("err", err.Error()))
				continue
			}
			s.Replace(t)
			log.InfoContext(ctx, "policy.reload.ok", slog.String("path", path), slog.Int("targets", t.Len()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "policy.watch.err", slog.String("err", err.Error()))
		}
	}
}
