// Package session holds the per-connection state shared between the
// registry, the authentication engine and the bridge.
//
// A Session is only ever touched by the worker that owns its dispatch
// lock (see [Session.Acquire]).  The registry reads Fd and PtyFd under
// its own lock while scanning; PtyFd is therefore written only through
// the registry, with both locks held.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ptygate/internal/credstore"
	"ptygate/internal/shell"
	"ptygate/util"
)

// AuthState is the position of a session in the login exchange.
type AuthState int

const (
	RequestLogin AuthState = iota
	AwaitLogin
	RequestPassword
	AwaitPassword
	Authenticated
)

func (s AuthState) String() string {
	switch s {
	case RequestLogin:
		return "request-login"
	case AwaitLogin:
		return "await-login"
	case RequestPassword:
		return "request-password"
	case AwaitPassword:
		return "await-password"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// Pending work bits recorded by [Session.Acquire].
const (
	PendingSocket uint32 = 1 << iota
	PendingPty
	PendingFailed // the socket reported EPOLLERR
)

// Session is one accepted client connection.
type Session struct {
	ID     uuid.UUID
	Fd     int    // client socket
	PtyFd  int    // pty master, -1 until a shell is attached
	Remote string // peer address

	State      AuthState
	Attempts   int               // failed password checks
	Credential *credstore.Record // set once the login matched

	LastActivity time.Time
	Input        []byte // client bytes not yet consumed by the login exchange
	Shell        *shell.Process

	Logger *util.Logger

	mu      sync.Mutex
	pending atomic.Uint32
	closed  bool
}

// New returns a session for a freshly accepted socket, waiting to send
// the login prompt.
func New(fd int, remote string, now time.Time, logger *util.Logger) *Session {
	id := uuid.New()
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Session{
		ID:           id,
		Fd:           fd,
		PtyFd:        -1,
		Remote:       remote,
		State:        RequestLogin,
		LastActivity: now,
		Logger:       logger.With(fmt.Sprintf("conn=%s fd=%d", id.String()[:8], fd)),
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (fd=%d pty=%d %s %s)", s.ID, s.Fd, s.PtyFd, s.Remote, s.State)
}

// ── Idle tracking ────────────────────────────────────────────────────

// Expired reports whether the session has been idle for longer than
// idle at time now.
func (s *Session) Expired(now time.Time, idle time.Duration) bool {
	return now.Sub(s.LastActivity) > idle
}

// Touch records activity at time now.
func (s *Session) Touch(now time.Time) { s.LastActivity = now }

// CheckAndRefresh reports false when the session has expired;
// otherwise it refreshes the activity timestamp and reports true.
func (s *Session) CheckAndRefresh(now time.Time, idle time.Duration) bool {
	if s.Expired(now, idle) {
		return false
	}
	s.Touch(now)
	return true
}

// ── Dispatch serialisation ───────────────────────────────────────────
//
// Readiness is edge-triggered, so an event must never be dropped just
// because another worker is busy on the same session.  A worker records
// its event in the pending mask and then tries the lock: if it wins it
// processes the mask, otherwise the current holder will see the bits
// when it releases.

// Acquire records bits as pending and tries to take the dispatch lock.
// It reports whether the caller now owns the session.
func (s *Session) Acquire(bits uint32) bool {
	for {
		old := s.pending.Load()
		if old|bits == old || s.pending.CompareAndSwap(old, old|bits) {
			break
		}
	}
	return s.mu.TryLock()
}

// TakePending clears and returns the pending mask.  The caller must
// own the session.
func (s *Session) TakePending() uint32 { return s.pending.Swap(0) }

// Release gives up the dispatch lock.  When work arrived in the
// meantime and the lock could be taken again, it returns true and the
// caller still owns the session and must process the new bits.
func (s *Session) Release() bool {
	s.mu.Unlock()
	if s.pending.Load() == 0 {
		return false
	}
	return s.mu.TryLock()
}

// MarkClosed flags the session as torn down.  The caller must own the
// session.
func (s *Session) MarkClosed() { s.closed = true }

// Closed reports whether the session was torn down.  The caller must
// own the session.
func (s *Session) Closed() bool { return s.closed }
