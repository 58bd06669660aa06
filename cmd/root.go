// Package cmd wires up the CLI flags and dispatches to the gateway or
// to the credential-file writer.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"ptygate/config"
	"ptygate/gateway"
	"ptygate/internal/metrics"
	"ptygate/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X ptygate/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the daemon, or the passwd subcommand
// when args starts with "passwd".
func Execute(ctx context.Context, args []string) error {
	if len(args) > 0 && args[0] == "passwd" {
		return runPasswd(args[1:], os.Stdin, os.Stdout)
	}

	cfg, opts, err := resolve(args)
	if err != nil {
		return err
	}
	switch {
	case opts.showHelp:
		return nil
	case opts.showVersion:
		fmt.Printf("ptygate %s\n", version)
		return nil
	case opts.dryRun:
		fmt.Fprintf(os.Stderr, "configuration OK: %s, %d workers, credentials %s\n",
			cfg.ListenAddress(), cfg.Workers, cfg.CredentialsPath)
		return nil
	}

	logger := util.NewLogger(cfg.Verbose)
	return gateway.New(cfg, logger, metrics.New()).Run(ctx)
}

type options struct {
	configPath  string
	dryRun      bool
	showVersion bool
	showHelp    bool
}

// resolve builds the effective configuration.  Precedence, highest
// first: flags and positional arguments, PTYD_* environment, the
// --config file, defaults.
func resolve(args []string) (*config.Config, options, error) {
	var opts options
	fl := config.Default()
	fs := flag.NewFlagSet("ptygate", flag.ContinueOnError)

	// ── listener ─────────────────────────────────────────────────
	fs.IntVarP(&fl.Workers, "workers", "w", fl.Workers, "Number of worker goroutines")
	fs.IntVarP(&fl.Port, "port", "p", 0, "TCP port to listen on")
	fs.StringVarP(&fl.BindAddress, "bind", "b", fl.BindAddress, "Address to bind")

	// ── credentials ──────────────────────────────────────────────
	fs.StringVarP(&fl.CredentialsPath, "credentials", "f", "", "Credential file")
	fs.BoolVar(&fl.WatchCredentials, "watch-credentials", false, "Reload the credential file when it changes")
	fs.IntVar(&fl.MaxPasswordAttempts, "max-attempts", fl.MaxPasswordAttempts, "Password attempts before disconnect")

	// ── sessions ─────────────────────────────────────────────────
	fs.IntVar(&fl.MaxConnections, "max-conns", fl.MaxConnections, "Maximum concurrent sessions")
	fs.DurationVar(&fl.IdleTimeout, "idle-timeout", fl.IdleTimeout, "Close sessions idle this long")
	fs.DurationVar(&fl.SweepInterval, "sweep-interval", fl.SweepInterval, "Idle sweep period (0 disables)")
	fs.StringVar(&fl.Shell, "shell", fl.Shell, "Shell started for authenticated clients")

	// ── event loop ───────────────────────────────────────────────
	fs.IntVar(&fl.QueueCapacity, "queue-capacity", fl.QueueCapacity, "Work queue channel capacity")
	fs.DurationVar(&fl.PollInterval, "poll-interval", fl.PollInterval, "Reactor wait timeout")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&fl.MetricsAddress, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.CountVarP(&fl.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}
	if opts.showHelp || len(args) == 0 {
		printUsage(fs)
		opts.showHelp = true
		return nil, opts, nil
	}
	if opts.showVersion {
		return nil, opts, nil
	}

	// ── layers ───────────────────────────────────────────────────
	cfg := config.Default()
	if opts.configPath != "" {
		if err := config.LoadFile(opts.configPath, cfg); err != nil {
			return nil, opts, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, opts, err
	}
	if err := parsePositional(fs, fs.Args()); err != nil {
		return nil, opts, err
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply(cfg, fl)
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, opts, err
	}
	return cfg, opts, nil
}

// overrides copies one explicitly set flag from src onto dst.
var overrides = map[string]func(dst, src *config.Config){ //nolint:gochecknoglobals
	"workers":           func(d, s *config.Config) { d.Workers = s.Workers },
	"port":              func(d, s *config.Config) { d.Port = s.Port },
	"bind":              func(d, s *config.Config) { d.BindAddress = s.BindAddress },
	"credentials":       func(d, s *config.Config) { d.CredentialsPath = s.CredentialsPath },
	"watch-credentials": func(d, s *config.Config) { d.WatchCredentials = s.WatchCredentials },
	"max-attempts":      func(d, s *config.Config) { d.MaxPasswordAttempts = s.MaxPasswordAttempts },
	"max-conns":         func(d, s *config.Config) { d.MaxConnections = s.MaxConnections },
	"idle-timeout":      func(d, s *config.Config) { d.IdleTimeout = s.IdleTimeout },
	"sweep-interval":    func(d, s *config.Config) { d.SweepInterval = s.SweepInterval },
	"shell":             func(d, s *config.Config) { d.Shell = s.Shell },
	"queue-capacity":    func(d, s *config.Config) { d.QueueCapacity = s.QueueCapacity },
	"poll-interval":     func(d, s *config.Config) { d.PollInterval = s.PollInterval },
	"metrics-addr":      func(d, s *config.Config) { d.MetricsAddress = s.MetricsAddress },
	"verbose":           func(d, s *config.Config) { d.Verbose = s.Verbose },
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional accepts the classic "WORKERS PORT CREDFILE" form.
// Each argument counts as the matching flag having been given, so it
// cannot be combined with that flag.
func parsePositional(fs *flag.FlagSet, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil
	case 3:
	default:
		return fmt.Errorf("expected WORKERS PORT CREDFILE, got %d arguments (use --help for usage)", len(remaining))
	}

	for _, name := range []string{"workers", "port", "credentials"} {
		if fs.Changed(name) {
			return fmt.Errorf("positional arguments conflict with --%s", name)
		}
	}

	for i, name := range []string{"workers", "port"} {
		if _, err := strconv.Atoi(remaining[i]); err != nil {
			return fmt.Errorf("%s %q: not a number", name, remaining[i])
		}
	}

	// Setting through the flag set marks them changed, so the override
	// pass picks them up.
	for i, name := range []string{"workers", "port", "credentials"} {
		if err := fs.Set(name, remaining[i]); err != nil {
			return err
		}
	}
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ptygate – authenticated shell gateway v%s

Accepts TCP clients, asks for a login and password checked against a
fixed-width credential file, then bridges the connection to a shell
running in a pseudo-terminal.

Usage:
  ptygate [options] -p PORT -f CREDFILE       Serve
  ptygate [options] WORKERS PORT CREDFILE     Serve (classic form)
  ptygate passwd -f CREDFILE [-w]             Add credentials

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  Every option can also be set as PTYD_<FIELD>, e.g. PTYD_PORT=2323,
  PTYD_CREDENTIALS_PATH=/etc/ptygate/passwd, PTYD_IDLE_TIMEOUT=90s.
  Flags win over the environment, which wins over --config.

Examples:
  ptygate 4 2323 passwd.bin                   4 workers on port 2323
  ptygate -p 2323 -f passwd.bin --idle-timeout 90s -vv
  ptygate --config /etc/ptygate.yaml --metrics-addr :9102
  ptygate passwd -f passwd.bin                Prompt for a new login
`)
}
