// Package config defines the runtime configuration of the ptygate
// daemon and the layers it is assembled from: defaults, an optional
// YAML file, PTYD_* environment variables and command-line flags.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	gwerr "ptygate/internal/errors"
)

// Config holds every tuneable of one daemon run.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Workers     int    `yaml:"workers"`
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind" split_words:"true"`

	// ── Credentials ──────────────────────────────────────────────────
	CredentialsPath     string `yaml:"credentials" split_words:"true"`
	WatchCredentials    bool   `yaml:"watch_credentials" split_words:"true"`
	MaxPasswordAttempts int    `yaml:"max_attempts" split_words:"true"`

	// ── Sessions ─────────────────────────────────────────────────────
	MaxConnections int           `yaml:"max_conns" split_words:"true"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" split_words:"true"`
	SweepInterval  time.Duration `yaml:"sweep_interval" split_words:"true"`
	Shell          string        `yaml:"shell"`

	// ── Event loop ───────────────────────────────────────────────────
	QueueCapacity int           `yaml:"queue_capacity" split_words:"true"`
	PollInterval  time.Duration `yaml:"poll_interval" split_words:"true"`

	// ── Output ───────────────────────────────────────────────────────
	MetricsAddress string `yaml:"metrics_addr" split_words:"true"`
	Verbose        int    `yaml:"verbose"`
}

// Default returns a Config populated from defaults.go.  Port and
// CredentialsPath have no default.
func Default() *Config {
	return &Config{
		Workers:             DefaultWorkers,
		BindAddress:         DefaultBindAddress,
		MaxPasswordAttempts: DefaultMaxPasswordAttempts,
		MaxConnections:      DefaultMaxConnections,
		IdleTimeout:         DefaultIdleTimeout,
		SweepInterval:       DefaultSweepInterval,
		Shell:               DefaultShell,
		QueueCapacity:       DefaultQueueCapacity,
		PollInterval:        DefaultPollInterval,
	}
}

// ListenAddress returns "bind:port".
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is usable.  Failures are
// *errors.ConfigError values carrying a hint for the operator.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 1:
		return &gwerr.ConfigError{
			Field: "workers", Value: c.Workers,
			Message: "at least one worker is required",
			Hint:    fmt.Sprintf("the default is %d", DefaultWorkers),
		}
	case c.Port < 1 || c.Port > 65535:
		return &gwerr.ConfigError{
			Field: "port", Value: c.Port,
			Message: "port out of range 1-65535",
			Hint:    "pass the listening port as -p PORT or the second argument",
		}
	case c.CredentialsPath == "":
		return &gwerr.ConfigError{
			Field:   "credentials",
			Message: "credential file is required",
			Hint:    "create one with `ptygate passwd -f FILE` and pass it with -f",
		}
	case c.MaxConnections < 1:
		return &gwerr.ConfigError{
			Field: "max-conns", Value: c.MaxConnections,
			Message: "must allow at least one connection",
		}
	case c.IdleTimeout <= 0:
		return &gwerr.ConfigError{
			Field: "idle-timeout", Value: c.IdleTimeout,
			Message: "idle timeout must be positive",
			Hint:    "use a duration such as 300s or 5m",
		}
	case c.MaxPasswordAttempts < 1:
		return &gwerr.ConfigError{
			Field: "max-attempts", Value: c.MaxPasswordAttempts,
			Message: "at least one password attempt is required",
		}
	case c.Shell == "":
		return &gwerr.ConfigError{
			Field:   "shell",
			Message: "shell path is empty",
			Hint:    "the default is " + DefaultShell,
		}
	case c.SweepInterval < 0:
		return &gwerr.ConfigError{
			Field: "sweep-interval", Value: c.SweepInterval,
			Message: "sweep interval cannot be negative",
			Hint:    "use 0 to rely on per-event idle checks only",
		}
	case c.QueueCapacity < 1:
		return &gwerr.ConfigError{
			Field: "queue-capacity", Value: c.QueueCapacity,
			Message: "queue capacity must be at least 1",
		}
	case c.PollInterval <= 0:
		return &gwerr.ConfigError{
			Field: "poll-interval", Value: c.PollInterval,
			Message: "poll interval must be positive",
		}
	}
	return nil
}
