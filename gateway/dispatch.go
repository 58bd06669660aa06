package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/sys/unix"

	gwerr "ptygate/internal/errors"
	"ptygate/internal/reactor"
	"ptygate/internal/registry"
	"ptygate/internal/session"
	"ptygate/util"
)

// ── Worker pool ──────────────────────────────────────────────────────

// worker pops events until ctx is done or the queue closes.  Errors are
// logged and counted; none of them stops the worker.
func (g *Gateway) worker(ctx context.Context, id int) {
	log := g.Logger.With(fmt.Sprintf("worker=%d", id))
	log.Debug("started")
	defer log.Debug("stopped")

	for {
		ev, err := g.queue.Pop(ctx)
		if err != nil {
			return
		}
		g.Metrics.EventDispatched()
		if err := g.dispatch(ev); err != nil {
			g.Metrics.RecordError(err.Error())
			if gwerr.IsRetryable(err) {
				// e.g. accept out of descriptors; the next event retries.
				log.Info("%v: %v (transient)", ev, err)
				continue
			}
			log.Warn("%v: %v", ev, err)
		}
	}
}

// dispatch routes one readiness event.  The listener gets accepted;
// anything else is resolved through the registry and handed to the
// session's owner.
func (g *Gateway) dispatch(ev reactor.Event) error {
	if ev.Fd == g.listener.Fd() {
		return g.acceptAll()
	}

	h, s, ok := g.registry.Lookup(ev.Fd)
	if !ok {
		// Already torn down; the event was queued before the close.
		g.Logger.Debug("dropping event for unknown fd %d", ev.Fd)
		return nil
	}

	var bit uint32
	switch {
	case ev.Fd != s.Fd:
		bit = session.PendingPty
	case ev.Failed():
		bit = session.PendingFailed
	case ev.Readable(), ev.Hangup():
		bit = session.PendingSocket
	default:
		g.Logger.Debug("ignoring %v", ev)
		return nil
	}
	if !s.Acquire(bit) {
		// The current owner picks the bit up when it releases.
		return nil
	}
	g.serve(h, s)
	return nil
}

// serve processes pending work for s until none is left.  The caller
// must own s; serve releases it.
func (g *Gateway) serve(h registry.Handle, s *session.Session) {
	for {
		if bits := s.TakePending(); bits != 0 && !s.Closed() {
			g.handle(h, s, bits)
		}
		if !s.Release() {
			return
		}
	}
}

// handle runs one round for s: idle check, then the socket side, then
// the pty side.  A panic tears the session down instead of the worker.
func (g *Gateway) handle(h registry.Handle, s *session.Session, bits uint32) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("panic: %v\n%s", r, debug.Stack())
			g.Metrics.RecordError(fmt.Sprint(r))
			g.closeSession(h, s, "internal error")
		}
	}()

	if bits&session.PendingFailed != 0 {
		// Nothing worth reading is left on a socket in error.
		g.fail(h, s, socketError(s.Fd))
		return
	}

	if !s.CheckAndRefresh(g.now(), g.Config.IdleTimeout) {
		g.Metrics.IdleTimeout()
		g.closeSession(h, s, gwerr.ErrIdleTimeout.Error())
		return
	}

	if bits&session.PendingSocket != 0 {
		if err := g.onSocket(h, s); err != nil {
			g.fail(h, s, err)
			return
		}
	}
	if bits&session.PendingPty != 0 {
		if err := g.onPty(s); err != nil {
			g.fail(h, s, err)
		}
	}
}

// socketError returns the pending error of a socket that epoll
// reported as failed.
func socketError(fd int) error {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return gwerr.WrapFd("getsockopt", fd, err)
	}
	if code == 0 {
		return gwerr.WrapFd("epoll", fd, errors.New("error condition with no pending error"))
	}
	return gwerr.WrapFd("epoll", fd, unix.Errno(code))
}

// ── Accept ───────────────────────────────────────────────────────────

// acceptAll accepts until the backlog is empty; the listener is
// edge-triggered too.  Another worker having drained it first is not
// an error.
func (g *Gateway) acceptAll() error {
	for {
		fd, remote, err := g.listener.Accept()
		if errors.Is(err, gwerr.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
		g.admit(fd, remote)
	}
}

// admit registers a freshly accepted socket and sends the login prompt.
func (g *Gateway) admit(fd int, remote string) {
	s := session.New(fd, remote, g.now(), g.Logger)

	h, err := g.registry.Insert(s)
	if err != nil {
		g.Metrics.ConnectionRejected()
		g.Logger.Warn("rejecting %s: %v", remote, err)
		if _, werr := util.WriteAll(fd, []byte(MsgServerBusy)); werr != nil {
			g.Logger.Debug("busy notice to %s: %v", remote, werr)
		}
		unix.Close(fd)
		return
	}
	g.Metrics.ConnectionOpened()
	s.Logger.Verbose("accepted %s into %v", remote, h)

	// Own the session before the poller can report it, so the prompt
	// always goes out before any input is handled.
	s.Acquire(0)
	if err := g.poller.Add(fd, reactor.Readable); err != nil {
		g.fail(h, s, err)
	} else if _, err := g.auth.Advance(s, util.FdWriter(fd)); err != nil {
		g.fail(h, s, err)
	}
	g.serve(h, s)
}

// ── Teardown ─────────────────────────────────────────────────────────

// fail logs err at a level matching its kind and tears s down.
func (g *Gateway) fail(h registry.Handle, s *session.Session, err error) {
	reason := err.Error()
	switch {
	case gwerr.IsPeerGone(err):
		reason = "peer closed"
	case errors.Is(err, gwerr.ErrTooManyAttempts):
		s.Logger.Info("too many password attempts from %s", s.Remote)
	default:
		s.Logger.Warn("%v", err)
		g.Metrics.RecordError(reason)
	}
	g.closeSession(h, s, reason)
}

// closeSession releases everything s owns.  Only the call that frees
// the registry slot does the work, so racing teardowns are harmless.
// The caller must own s (or be the only goroutine left).
func (g *Gateway) closeSession(h registry.Handle, s *session.Session, reason string) {
	if !g.registry.Remove(h) {
		return
	}
	s.MarkClosed()

	if err := g.poller.Remove(s.Fd); err != nil {
		s.Logger.Debug("%v", err)
	}
	if s.Shell != nil {
		if err := g.poller.Remove(s.Shell.Fd()); err != nil {
			s.Logger.Debug("%v", err)
		}
		if err := s.Shell.Close(); err != nil {
			s.Logger.Debug("closing shell: %v", err)
		}
	}
	if err := unix.Close(s.Fd); err != nil {
		s.Logger.Warn("closing socket: %v", err)
	}

	g.Metrics.ConnectionClosed()
	s.Logger.Verbose("closed (%s)", reason)
}
