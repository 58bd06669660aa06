package credstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"ptygate/util"
)

// Holder publishes the current Store.  Replacing it never mutates a
// Store that sessions may still reference.
type Holder struct {
	p atomic.Pointer[Store]
}

// NewHolder returns a Holder publishing s.
func NewHolder(s *Store) *Holder {
	h := &Holder{}
	h.p.Store(s)
	return h
}

// Load returns the current store.
func (h *Holder) Load() *Store { return h.p.Load() }

// Swap publishes s and returns the previous store.
func (h *Holder) Swap(s *Store) *Store { return h.p.Swap(s) }

// reloadDelay coalesces the burst of events an editor or the passwd
// subcommand produces for one save.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the credential file into h whenever it changes, until
// ctx is cancelled.  The directory is watched rather than the file so
// that atomic replace-by-rename is seen.  A file that fails to parse
// leaves the previous store in place.
func Watch(ctx context.Context, path string, h *Holder, logger *util.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credential watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	logger.Verbose("watching %s for credential changes", abs)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(reloadDelay)
			}

		case <-pending:
			pending = nil
			s, err := Load(abs)
			if err != nil {
				logger.Warn("credential reload failed, keeping %d records: %v", h.Load().Len(), err)
				continue
			}
			h.Swap(s)
			logger.Info("reloaded %d credential records", s.Len())

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("credential watcher: %v", err)
		}
	}
}
