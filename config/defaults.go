package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultWorkers is the size of the worker pool.
	DefaultWorkers = 4

	// DefaultBindAddress listens on every IPv4 interface.
	DefaultBindAddress = "0.0.0.0"

	// DefaultMaxConnections is the fixed capacity of the session table.
	DefaultMaxConnections = 256

	// DefaultIdleTimeout tears down sessions without traffic.
	DefaultIdleTimeout = 300 * time.Second

	// DefaultSweepInterval is how often idle sessions are reaped
	// proactively.  Zero disables the sweep.
	DefaultSweepInterval = 60 * time.Second

	// DefaultMaxPasswordAttempts is the password budget per connection.
	DefaultMaxPasswordAttempts = 5

	// DefaultShell is started for authenticated clients.
	DefaultShell = "/bin/bash"

	// DefaultQueueCapacity is the channel size of the work queue.
	DefaultQueueCapacity = 128

	// DefaultPollInterval bounds a single epoll wait.
	DefaultPollInterval = 500 * time.Millisecond

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "PTYD"
)
