// Package reactor owns the kernel readiness machinery: the epoll
// instance, the listening socket and the single loop that turns ready
// descriptors into queued events.  It never reads or writes
// application data.
package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"

	gwerr "ptygate/internal/errors"
)

// Interest is an epoll event mask.
type Interest uint32

// Readable is edge-triggered read interest, including peer half-close.
const Readable Interest = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET

// Event is a ready descriptor, copied by value through the work queue.
type Event struct {
	Fd   int
	Mask uint32
}

func (e Event) Readable() bool { return e.Mask&(unix.EPOLLIN|unix.EPOLLPRI) != 0 }
func (e Event) Hangup() bool   { return e.Mask&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 }
func (e Event) Failed() bool   { return e.Mask&unix.EPOLLERR != 0 }

func (e Event) String() string { return fmt.Sprintf("fd=%d mask=%#x", e.Fd, e.Mask) }

// Poller wraps an epoll instance.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates an epoll instance that reports up to maxEvents
// descriptors per Wait.
func NewPoller(maxEvents int) (*Poller, error) {
	if maxEvents < 1 {
		maxEvents = 1
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, gwerr.Wrap("epoll_create1", "", err)
	}
	return &Poller{epfd: epfd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// Add starts watching fd.
func (p *Poller) Add(fd int, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, in)
}

// Modify changes the interest of a watched fd.
func (p *Poller) Modify(fd int, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, in)
}

// Remove stops watching fd.  Removing a descriptor that is not watched
// (or already closed) is not an error.
func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	if err != nil {
		return gwerr.WrapFd("epoll_ctl del", fd, err)
	}
	return nil
}

func (p *Poller) ctl(op, fd int, in Interest) error {
	ev := unix.EpollEvent{Events: uint32(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return gwerr.WrapFd("epoll_ctl", fd, err)
	}
	return nil
}

// Wait blocks for up to timeoutMs milliseconds (-1 for ever) and
// returns the ready descriptors.  An interrupted wait returns no
// events and no error.  The returned slice is only valid until the
// next Wait.
func (p *Poller) Wait(timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, gwerr.Wrap("epoll_wait", "", err)
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = Event{Fd: int(p.events[i].Fd), Mask: p.events[i].Events}
	}
	return out, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error { return unix.Close(p.epfd) }
