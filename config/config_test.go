package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gwerr "ptygate/internal/errors"
)

func validConfig() *Config {
	c := Default()
	c.Port = 2323
	c.CredentialsPath = "/etc/ptygate/passwd"
	return c
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Workers != 4 || c.MaxConnections != 256 || c.IdleTimeout != 300*time.Second ||
		c.MaxPasswordAttempts != 5 || c.Shell != "/bin/bash" {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if err := validConfig().Validate(); err != nil {
		t.Errorf("defaults plus port and credentials should validate: %v", err)
	}
}

func TestListenAddress(t *testing.T) {
	c := validConfig()
	if got := c.ListenAddress(); got != "0.0.0.0:2323" {
		t.Errorf("ListenAddress = %q", got)
	}
	c.BindAddress = "::1"
	if got := c.ListenAddress(); got != "[::1]:2323" {
		t.Errorf("ListenAddress = %q", got)
	}
}

// TestValidate_ErrorMessages verifies that Validate names the field and
// returns a ConfigError.
func TestValidate_ErrorMessages(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
		wantHint  bool
	}{
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers", true},
		{"port zero", func(c *Config) { c.Port = 0 }, "port", true},
		{"port too big", func(c *Config) { c.Port = 70000 }, "port", true},
		{"no credentials", func(c *Config) { c.CredentialsPath = "" }, "credentials", true},
		{"no slots", func(c *Config) { c.MaxConnections = 0 }, "max-conns", false},
		{"zero idle", func(c *Config) { c.IdleTimeout = 0 }, "idle-timeout", true},
		{"no attempts", func(c *Config) { c.MaxPasswordAttempts = 0 }, "max-attempts", false},
		{"empty shell", func(c *Config) { c.Shell = "" }, "shell", true},
		{"negative sweep", func(c *Config) { c.SweepInterval = -time.Second }, "sweep-interval", true},
		{"empty queue", func(c *Config) { c.QueueCapacity = 0 }, "queue-capacity", false},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, "poll-interval", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()

			var ce *gwerr.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("field = %q, want %q", ce.Field, tt.wantField)
			}
			if got := strings.Contains(err.Error(), "hint:"); got != tt.wantHint {
				t.Errorf("hint present = %v in %q", got, err.Error())
			}
		})
	}
}

func TestValidate_SweepDisabled(t *testing.T) {
	c := validConfig()
	c.SweepInterval = 0
	if err := c.Validate(); err != nil {
		t.Errorf("zero sweep interval should be accepted: %v", err)
	}
}

// ── Loading ──────────────────────────────────────────────────────────

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ptygate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
workers: 8
port: 2424
credentials: /srv/passwd.bin
idle_timeout: 90s
sweep_interval: 0s
watch_credentials: true
`)
	c := Default()
	if err := LoadFile(path, c); err != nil {
		t.Fatal(err)
	}
	if c.Workers != 8 || c.Port != 2424 || c.CredentialsPath != "/srv/passwd.bin" {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.IdleTimeout != 90*time.Second || c.SweepInterval != 0 || !c.WatchCredentials {
		t.Errorf("durations/bools not applied: %+v", c)
	}
	if c.MaxConnections != DefaultMaxConnections || c.Shell != DefaultShell {
		t.Error("keys absent from the file must keep their defaults")
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "wokers: 3\n"},
		{"bad duration", "idle_timeout: soon\n"},
		{"bad type", "port: [1, 2]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := LoadFile(writeFile(t, tt.body), Default()); err == nil {
				t.Error("expected error")
			}
		})
	}

	if err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), Default()); err == nil {
		t.Error("missing file accepted")
	}
}

func TestLoadFile_Empty(t *testing.T) {
	c := Default()
	if err := LoadFile(writeFile(t, ""), c); err != nil {
		t.Fatalf("empty file: %v", err)
	}
	if c.Workers != DefaultWorkers {
		t.Error("empty file changed values")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PTYD_WORKERS", "12")
	t.Setenv("PTYD_PORT", "2525")
	t.Setenv("PTYD_CREDENTIALS_PATH", "/tmp/creds")
	t.Setenv("PTYD_MAX_CONNECTIONS", "32")
	t.Setenv("PTYD_IDLE_TIMEOUT", "45s")
	t.Setenv("PTYD_WATCH_CREDENTIALS", "true")
	t.Setenv("PTYD_METRICS_ADDRESS", "127.0.0.1:9100")

	c := Default()
	if err := LoadFromEnv(c); err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.Workers = 12
	want.Port = 2525
	want.CredentialsPath = "/tmp/creds"
	want.MaxConnections = 32
	want.IdleTimeout = 45 * time.Second
	want.WatchCredentials = true
	want.MetricsAddress = "127.0.0.1:9100"
	if *c != *want {
		t.Errorf("got %+v\nwant %+v", c, want)
	}
}

func TestLoadFromEnv_UnprefixedIgnored(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	t.Setenv("PORT", "8080")

	c := Default()
	if err := LoadFromEnv(c); err != nil {
		t.Fatal(err)
	}
	if c.Shell != DefaultShell || c.Port != 0 {
		t.Errorf("unprefixed variables leaked into config: shell=%q port=%d", c.Shell, c.Port)
	}
}

func TestLoadFromEnv_Malformed(t *testing.T) {
	t.Setenv("PTYD_WORKERS", "many")
	if err := LoadFromEnv(Default()); err == nil {
		t.Error("malformed integer accepted")
	}
}

func TestPrecedence_EnvOverFile(t *testing.T) {
	path := writeFile(t, "workers: 8\nport: 2424\n")
	t.Setenv("PTYD_WORKERS", "2")

	c := Default()
	if err := LoadFile(path, c); err != nil {
		t.Fatal(err)
	}
	if err := LoadFromEnv(c); err != nil {
		t.Fatal(err)
	}
	if c.Workers != 2 || c.Port != 2424 {
		t.Errorf("workers=%d port=%d, want env to win over file", c.Workers, c.Port)
	}
}
