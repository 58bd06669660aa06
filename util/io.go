package util

import (
	"bytes"
	"context"

	"golang.org/x/sys/unix"

	gwerr "ptygate/internal/errors"
	"ptygate/internal/retry"
)

const (
	// DefaultBufSize is the size of pooled bridge buffers (32 KiB).
	DefaultBufSize = 32 * 1024

	// InitialReadSize is the starting capacity of a DrainRead buffer.
	// The buffer doubles every time it fills.
	InitialReadSize = 64

	// WriteChunkSize bounds a single write(2) issued by WriteAll.
	WriteChunkSize = 4 * 1024
)

// DrainRead reads fd until the kernel reports it would block, which is
// what an edge-triggered watcher must do on every readiness event.
//
// The returned bytes are everything read so far.  A zero-length read
// means the peer closed: the data read before it is returned together
// with [gwerr.ErrPeerClosed].  EIO, which a pty master reports once the
// child has exited, is treated the same way.
func DrainRead(fd int) ([]byte, error) {
	buf := make([]byte, 0, InitialReadSize)
	err := DrainAppend(fd, &buf)
	return buf, err
}

// DrainAppend is [DrainRead] appending to *buf, so that callers can
// reuse buffers from [GetBuf].  *buf is updated even when an error is
// returned.
func DrainAppend(fd int, buf *[]byte) error {
	b := *buf
	defer func() { *buf = b }()
	for {
		if len(b) == cap(b) {
			b = grow(b)
		}

		r, err := unix.Read(fd, b[len(b):cap(b)])
		switch {
		case err == unix.EINTR:
			continue
		case gwerr.IsWouldBlock(err):
			return nil
		case err == unix.EIO, err == unix.ECONNRESET:
			return gwerr.ErrPeerClosed
		case err != nil:
			return gwerr.WrapFd("read", fd, err)
		case r == 0:
			return gwerr.ErrPeerClosed
		}
		b = b[:len(b)+r]
	}
}

// grow returns b with its contents and twice its capacity.
func grow(b []byte) []byte {
	n := 2 * cap(b)
	if n < InitialReadSize {
		n = InitialReadSize
	}
	grown := make([]byte, len(b), n)
	copy(grown, b)
	return grown
}

// WriteAll writes p to the non-blocking descriptor fd in chunks of at
// most [WriteChunkSize], continuing after partial writes.  When the
// descriptor stays full and no progress can be made within the
// [retry.WriteStallBackoff] budget, it gives up with an error wrapping
// [gwerr.ErrWouldBlock].  It returns the number of bytes written.
func WriteAll(fd int, p []byte) (int, error) {
	written := 0
	b := retry.WriteStallBackoff()

	for written < len(p) {
		end := written + WriteChunkSize
		if end > len(p) {
			end = len(p)
		}

		var n int
		err := b.Do(context.Background(), func(_ int) error {
			var werr error
			for {
				n, werr = unix.Write(fd, p[written:end])
				if werr != unix.EINTR {
					break
				}
			}
			switch {
			case werr == nil:
				return nil
			case gwerr.IsWouldBlock(werr):
				return gwerr.ErrWouldBlock
			case werr == unix.EPIPE, werr == unix.ECONNRESET, werr == unix.EIO:
				return retry.Permanent(gwerr.ErrPeerClosed)
			default:
				return retry.Permanent(werr)
			}
		})
		if err != nil {
			if gwerr.Is(err, gwerr.ErrPeerClosed) {
				return written, err
			}
			return written, gwerr.WrapFd("write", fd, err)
		}
		written += n
	}
	return written, nil
}

// FdWriter adapts a non-blocking descriptor to io.Writer using
// [WriteAll].
type FdWriter int

func (w FdWriter) Write(p []byte) (int, error) { return WriteAll(int(w), p) }

// TrimLineEnding strips a single trailing "\r\n", "\n" or "\r".
func TrimLineEnding(p []byte) []byte {
	switch {
	case bytes.HasSuffix(p, []byte("\r\n")):
		return p[:len(p)-2]
	case bytes.HasSuffix(p, []byte("\n")), bytes.HasSuffix(p, []byte("\r")):
		return p[:len(p)-1]
	}
	return p
}

// SplitLine takes the first newline-terminated line off buf.  The line
// keeps its terminator; ok is false when buf holds no complete line.
func SplitLine(buf []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return nil, buf, false
	}
	return buf[:i+1], buf[i+1:], true
}
