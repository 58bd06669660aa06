package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"ptygate/config"
	"ptygate/internal/credstore"
	gwerr "ptygate/internal/errors"
	"ptygate/util"
)

func credFile(t *testing.T) string {
	t.Helper()
	rec, err := credstore.NewRecord("alice", "secret")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "passwd.bin")
	if err := credstore.WriteFile(path, rec); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	if err := Execute(context.Background(), []string{"--version"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestExecute_Help verifies --help (and no args) returns without error.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			if err := Execute(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestExecute_DryRun(t *testing.T) {
	err := Execute(context.Background(), []string{
		"-p", "2323", "-f", credFile(t), "--dry-run",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	err := Execute(context.Background(), []string{"-f", "creds", "--dry-run"})
	var ce *gwerr.ConfigError
	if !errors.As(err, &ce) || ce.Field != "port" {
		t.Fatalf("expected a port ConfigError, got %v", err)
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	if err := Execute(context.Background(), []string{"--nonexistent-flag"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestResolve_Positional(t *testing.T) {
	path := credFile(t)
	cfg, _, err := resolve([]string{"8", "2323", path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 8 || cfg.Port != 2323 || cfg.CredentialsPath != path {
		t.Errorf("got workers=%d port=%d creds=%q", cfg.Workers, cfg.Port, cfg.CredentialsPath)
	}
	if cfg.Shell != config.DefaultShell || cfg.MaxConnections != config.DefaultMaxConnections {
		t.Errorf("defaults not kept: %+v", cfg)
	}
}

func TestResolve_PositionalErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"too few", []string{"4", "2323"}, "WORKERS PORT CREDFILE"},
		{"too many", []string{"4", "2323", "a", "b"}, "WORKERS PORT CREDFILE"},
		{"bad workers", []string{"four", "2323", "creds"}, "workers"},
		{"bad port", []string{"4", "http", "creds"}, "port"},
		{"conflict", []string{"-p", "1", "4", "2323", "creds"}, "conflict with --port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := resolve(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestResolve_Precedence(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "ptygate.yaml")
	doc := "workers: 2\nport: 1000\ncredentials: /from/file\nmax_conns: 10\nidle_timeout: 45s\n"
	if err := os.WriteFile(yml, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PTYD_PORT", "2000")
	t.Setenv("PTYD_MAX_CONNECTIONS", "20")

	cfg, _, err := resolve([]string{"--config", yml, "--max-conns", "30", "-vv"})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2 (file)", cfg.Workers)
	}
	if cfg.IdleTimeout != 45*time.Second {
		t.Errorf("IdleTimeout = %v, want 45s (file)", cfg.IdleTimeout)
	}
	if cfg.Port != 2000 {
		t.Errorf("Port = %d, want 2000 (env over file)", cfg.Port)
	}
	if cfg.MaxConnections != 30 {
		t.Errorf("MaxConnections = %d, want 30 (flag over env)", cfg.MaxConnections)
	}
	if cfg.Verbose != 2 {
		t.Errorf("Verbose = %d, want 2", cfg.Verbose)
	}
	// Unset flags must not clobber lower layers with their defaults.
	if cfg.CredentialsPath != "/from/file" {
		t.Errorf("CredentialsPath = %q", cfg.CredentialsPath)
	}
}

func TestResolve_ConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("wrokers: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{bad, filepath.Join(dir, "missing.yaml")} {
		if _, _, err := resolve([]string{"--config", path}); err == nil {
			t.Errorf("%s: expected error", filepath.Base(path))
		}
	}
}

// TestExecute_ServeAndStop runs the daemon through the classic
// positional form with an already cancelled context: it must bind,
// start and tear down cleanly.
func TestExecute_ServeAndStop(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = Execute(ctx, []string{
		"-b", "127.0.0.1", "--sweep-interval", "0",
		"1", strconv.Itoa(port), credFile(t),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecute_MissingCredentials(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(t.TempDir(), "none")
	err = Execute(context.Background(), []string{"-b", "127.0.0.1", "1", strconv.Itoa(port), missing})
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("err = %v", err)
	}
}
