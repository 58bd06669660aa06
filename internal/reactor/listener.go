package reactor

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	gwerr "ptygate/internal/errors"
	"ptygate/util"
)

// DefaultBacklog is the listen(2) backlog.
const DefaultBacklog = 128

// Listener is a non-blocking TCP listening socket on a raw descriptor.
type Listener struct {
	fd   int
	addr string
}

// Listen resolves address ("host:port"), then creates, binds and
// listens on a non-blocking socket with SO_REUSEADDR.
func Listen(address string, backlog int) (*Listener, error) {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	tcp, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, gwerr.Wrap("resolve", address, err)
	}

	var (
		domain = unix.AF_INET
		sa     unix.Sockaddr
	)
	if ip4 := tcp.IP.To4(); ip4 != nil || tcp.IP == nil {
		a := &unix.SockaddrInet4{Port: tcp.Port}
		if ip4 != nil {
			copy(a.Addr[:], ip4)
		}
		sa = a
	} else {
		domain = unix.AF_INET6
		a := &unix.SockaddrInet6{Port: tcp.Port}
		copy(a.Addr[:], tcp.IP.To16())
		sa = a
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, gwerr.Wrap("socket", address, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, gwerr.Wrap("setsockopt", address, err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, gwerr.Wrap("bind", address, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, gwerr.Wrap("listen", address, err)
	}

	bound := address
	if local, err := unix.Getsockname(fd); err == nil {
		bound = util.SockaddrString(local)
	}
	return &Listener{fd: fd, addr: bound}, nil
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Addr returns the bound address, with the real port when 0 was asked
// for.
func (l *Listener) Addr() string { return l.addr }

// Port returns the bound port.
func (l *Listener) Port() int {
	_, p, err := net.SplitHostPort(l.addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}

// Accept takes one pending connection.  The new descriptor is already
// non-blocking and close-on-exec.  When nothing is pending it returns
// gwerr.ErrWouldBlock.
func (l *Listener) Accept() (int, string, error) {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return fd, util.SockaddrString(sa), nil
		case err == unix.EINTR, err == unix.ECONNABORTED:
			continue
		case gwerr.IsWouldBlock(err):
			return -1, "", gwerr.ErrWouldBlock
		default:
			return -1, "", gwerr.Wrap("accept", l.addr, err)
		}
	}
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	if err := unix.Close(l.fd); err != nil {
		return fmt.Errorf("closing listener %s: %w", l.addr, err)
	}
	return nil
}
