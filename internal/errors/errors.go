// Package errors provides domain-specific error types for ptygate.
//
// The types carry structured context (operation, descriptor,
// retryability) so that the dispatch loop can tell a connection-scoped
// failure from a transient condition and log it with useful detail.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrPeerClosed      = errors.New("peer closed the stream")
	ErrWouldBlock      = errors.New("operation would block")
	ErrRegistryFull    = errors.New("connection registry is full")
	ErrStaleHandle     = errors.New("stale connection handle")
	ErrTooManyAttempts = errors.New("too many password attempts")
	ErrQueueEmpty      = errors.New("queue is empty")
	ErrQueueClosed     = errors.New("queue is closed")
	ErrSpawnRejected   = errors.New("shell spawning temporarily disabled")
	ErrIdleTimeout     = errors.New("connection idle timeout")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a descriptor-level operation.
type NetworkError struct {
	Op        string // "accept", "read", "write", "listen", "epoll_ctl", ...
	Addr      string // network address or "fd=N"
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapFd is Wrap with the address rendered as "fd=N".
func WrapFd(op string, fd int, err error) *NetworkError {
	return Wrap(op, fmt.Sprintf("fd=%d", fd), err)
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsWouldBlock reports whether err means "no data / no space now".
func IsWouldBlock(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrWouldBlock) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK)
}

// IsPeerGone reports whether err means the other end of a stream is
// gone: a clean close, a reset, or a pty whose child has exited.
func IsPeerGone(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EIO)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range []syscall.Errno{
		syscall.EAGAIN, syscall.EINTR,
		// Descriptor or buffer exhaustion clears once other sessions close.
		syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use ptygate/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
