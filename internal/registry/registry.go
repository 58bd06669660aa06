// Package registry keeps the table of live sessions.
//
// The table is a fixed-capacity arena.  Callers hold a Handle (slot
// index plus generation) rather than a slot reference; every time a
// slot is reused its generation is bumped, so a handle kept past the
// teardown of its session can never reach the newcomer.  One mutex
// guards the whole table and is held only for the scan or mutation,
// never across descriptor I/O.
package registry

import (
	"fmt"
	"sync"

	gwerr "ptygate/internal/errors"
	"ptygate/internal/session"
)

// Handle identifies one occupancy of one slot.
type Handle struct {
	Index int
	Gen   uint32
}

func (h Handle) String() string { return fmt.Sprintf("slot %d/gen %d", h.Index, h.Gen) }

type slot struct {
	used bool // explicit occupancy flag; descriptor values mean nothing here
	gen  uint32
	sess *session.Session
}

// Registry is the session table.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	live  int
}

// New returns a registry with room for capacity sessions.
func New(capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry{slots: make([]slot, capacity)}
}

// Cap returns the fixed capacity.
func (r *Registry) Cap() int { return len(r.slots) }

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Insert stores s in the first free slot.
func (r *Registry) Insert(s *session.Session) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		sl := &r.slots[i]
		if sl.used {
			continue
		}
		sl.used = true
		sl.gen++
		sl.sess = s
		r.live++
		return Handle{Index: i, Gen: sl.gen}, nil
	}
	return Handle{}, gwerr.ErrRegistryFull
}

// Lookup finds the live session whose socket or pty master is fd.
func (r *Registry) Lookup(fd int) (Handle, *session.Session, bool) {
	if fd < 0 {
		return Handle{}, nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		sl := &r.slots[i]
		if sl.used && (sl.sess.Fd == fd || sl.sess.PtyFd == fd) {
			return Handle{Index: i, Gen: sl.gen}, sl.sess, true
		}
	}
	return Handle{}, nil, false
}

// Get resolves h.  It fails once the session behind h was removed.
func (r *Registry) Get(h Handle) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sl, ok := r.resolve(h)
	if !ok {
		return nil, false
	}
	return sl.sess, true
}

// AttachPty records the pty master of the session behind h so that
// Lookup can route its events.  The caller must own the session.
func (r *Registry) AttachPty(h Handle, fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sl, ok := r.resolve(h)
	if !ok {
		return fmt.Errorf("%v: %w", h, gwerr.ErrStaleHandle)
	}
	sl.sess.PtyFd = fd
	return nil
}

// Remove frees the slot behind h.  Only the first call for a given
// occupancy reports true; later calls (from a racing timeout and
// hangup, say) are no-ops.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sl, ok := r.resolve(h)
	if !ok {
		return false
	}
	sl.used = false
	sl.sess = nil
	r.live--
	return true
}

// Snapshot returns the handles of all live sessions.
func (r *Registry) Snapshot() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs := make([]Handle, 0, r.live)
	for i := range r.slots {
		if r.slots[i].used {
			hs = append(hs, Handle{Index: i, Gen: r.slots[i].gen})
		}
	}
	return hs
}

func (r *Registry) resolve(h Handle) (*slot, bool) {
	if h.Index < 0 || h.Index >= len(r.slots) {
		return nil, false
	}
	sl := &r.slots[h.Index]
	if !sl.used || sl.gen != h.Gen {
		return nil, false
	}
	return sl, true
}
