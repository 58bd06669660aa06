// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of the gateway.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one gateway process.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	connectionsActive   atomic.Int64
	connectionsTotal    atomic.Int64
	connectionsRejected atomic.Int64
	bytesIn             atomic.Int64
	bytesOut            atomic.Int64
	authSuccesses       atomic.Int64
	authFailures        atomic.Int64
	authLockouts        atomic.Int64
	idleTimeouts        atomic.Int64
	shellsSpawned       atomic.Int64
	shellsFailed        atomic.Int64
	eventsDispatched    atomic.Int64
	errorsTotal         atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ConnectionRejected records an accept turned away because the
// registry was full.
func (c *Collector) ConnectionRejected() {
	if c == nil {
		return
	}
	c.connectionsRejected.Add(1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// RejectedConnections returns the number of accepts refused.
func (c *Collector) RejectedConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsRejected.Load()
}

// IdleTimeout records a connection torn down for inactivity.
func (c *Collector) IdleTimeout() {
	if c == nil {
		return
	}
	c.idleTimeouts.Add(1)
}

// IdleTimeouts returns the number of idle teardowns.
func (c *Collector) IdleTimeouts() int64 {
	if c == nil {
		return 0
	}
	return c.idleTimeouts.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from a client socket.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to a client socket.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// EventDispatched records one readiness event handled by a worker.
func (c *Collector) EventDispatched() {
	if c == nil {
		return
	}
	c.eventsDispatched.Add(1)
}

// EventsDispatched returns the number of events handled.
func (c *Collector) EventsDispatched() int64 {
	if c == nil {
		return 0
	}
	return c.eventsDispatched.Load()
}

// ── Authentication metrics ───────────────────────────────────────────

// AuthSucceeded records a completed login.
func (c *Collector) AuthSucceeded() {
	if c == nil {
		return
	}
	c.authSuccesses.Add(1)
}

// AuthFailed records a wrong login or password.
func (c *Collector) AuthFailed() {
	if c == nil {
		return
	}
	c.authFailures.Add(1)
}

// AuthLockout records a connection closed for too many attempts.
func (c *Collector) AuthLockout() {
	if c == nil {
		return
	}
	c.authLockouts.Add(1)
}

// AuthSuccesses returns the number of completed logins.
func (c *Collector) AuthSuccesses() int64 {
	if c == nil {
		return 0
	}
	return c.authSuccesses.Load()
}

// AuthFailures returns the number of rejected credentials.
func (c *Collector) AuthFailures() int64 {
	if c == nil {
		return 0
	}
	return c.authFailures.Load()
}

// AuthLockouts returns the number of attempt-exhaustion teardowns.
func (c *Collector) AuthLockouts() int64 {
	if c == nil {
		return 0
	}
	return c.authLockouts.Load()
}

// ── Shell metrics ────────────────────────────────────────────────────

// ShellSpawned records a successful pty/shell start.
func (c *Collector) ShellSpawned() {
	if c == nil {
		return
	}
	c.shellsSpawned.Add(1)
}

// ShellFailed records a failed pty/shell start.
func (c *Collector) ShellFailed() {
	if c == nil {
		return
	}
	c.shellsFailed.Add(1)
}

// ShellsSpawned returns the number of shells started.
func (c *Collector) ShellsSpawned() int64 {
	if c == nil {
		return 0
	}
	return c.shellsSpawned.Load()
}

// ShellsFailed returns the number of failed spawns.
func (c *Collector) ShellsFailed() int64 {
	if c == nil {
		return 0
	}
	return c.shellsFailed.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime              string `json:"uptime"`
	ConnectionsActive   int64  `json:"connections_active"`
	ConnectionsTotal    int64  `json:"connections_total"`
	ConnectionsRejected int64  `json:"connections_rejected"`
	BytesIn             int64  `json:"bytes_in"`
	BytesOut            int64  `json:"bytes_out"`
	EventsDispatched    int64  `json:"events_dispatched"`
	AuthSuccesses       int64  `json:"auth_successes"`
	AuthFailures        int64  `json:"auth_failures"`
	AuthLockouts        int64  `json:"auth_lockouts"`
	IdleTimeouts        int64  `json:"idle_timeouts"`
	ShellsSpawned       int64  `json:"shells_spawned"`
	ShellsFailed        int64  `json:"shells_failed"`
	ErrorsTotal         int64  `json:"errors_total"`
	LastError           string `json:"last_error,omitempty"`
	LastErrorMessage    string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:              time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive:   c.connectionsActive.Load(),
		ConnectionsTotal:    c.connectionsTotal.Load(),
		ConnectionsRejected: c.connectionsRejected.Load(),
		BytesIn:             c.bytesIn.Load(),
		BytesOut:            c.bytesOut.Load(),
		EventsDispatched:    c.eventsDispatched.Load(),
		AuthSuccesses:       c.authSuccesses.Load(),
		AuthFailures:        c.authFailures.Load(),
		AuthLockouts:        c.authLockouts.Load(),
		IdleTimeouts:        c.idleTimeouts.Load(),
		ShellsSpawned:       c.shellsSpawned.Load(),
		ShellsFailed:        c.shellsFailed.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
