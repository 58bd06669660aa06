// Package shell starts an interactive shell on a fresh pseudo-terminal
// and hands the parent-side master descriptor to the caller.
package shell

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	// DefaultShell is started when SpawnConfig.Shell is empty.
	DefaultShell = "/bin/bash"
	// DefaultGrace is how long Close waits after SIGHUP before SIGKILL.
	DefaultGrace = 2 * time.Second
)

// SpawnConfig describes the child to start.
type SpawnConfig struct {
	Shell string   // program path (default DefaultShell)
	Args  []string // arguments after argv[0]
	Env   []string // nil inherits the daemon's environment
	Dir   string   // working directory, empty for the daemon's own
	Grace time.Duration
}

// Process is a running shell and the master side of its terminal.
// The master descriptor is non-blocking and owned by the Process.
type Process struct {
	master *os.File
	fd     int
	cmd    *exec.Cmd
	grace  time.Duration

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Spawn allocates a pty pair, puts the slave into raw mode and starts
// the shell with the slave as its stdio and controlling terminal, in a
// new session.  The slave is closed in the parent once the child has
// it.  On any failure both ends are released and no child is left
// behind.
func Spawn(cfg SpawnConfig) (*Process, error) {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("allocating pty: %w", err)
	}
	fail := func(err error) (*Process, error) {
		master.Close()
		slave.Close()
		return nil, err
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail(fmt.Errorf("raw mode on %s: %w", slave.Name(), err))
	}

	// Fd() switches the file to blocking mode; undo that on the raw
	// descriptor, which is what the reactor watches.
	fd := int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail(fmt.Errorf("non-blocking pty master: %w", err))
	}

	cmd := exec.Command(cfg.Shell, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Dir
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0, // child's stdin
	}
	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("starting %s: %w", cfg.Shell, err))
	}
	// The child holds its own copies now.
	slave.Close()

	p := &Process{
		master: master,
		fd:     fd,
		cmd:    cmd,
		grace:  cfg.Grace,
		done:   make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

// Fd returns the non-blocking pty master descriptor.
func (p *Process) Fd() int { return p.fd }

// Pid returns the shell's process ID.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the shell has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr returns the result of waiting for the shell.  It is only
// meaningful after Done is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Close releases the master and makes sure the shell goes away: it
// gets SIGHUP now and SIGKILL if it is still running after the grace
// period.  Close does not wait for the child and is safe to call more
// than once.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.master.Close()

		select {
		case <-p.done:
			return
		default:
		}
		if err := p.cmd.Process.Signal(syscall.SIGHUP); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.closeErr = errors.Join(p.closeErr, err)
		}
		go func() {
			t := time.NewTimer(p.grace)
			defer t.Stop()
			select {
			case <-p.done:
			case <-t.C:
				p.cmd.Process.Kill()
			}
		}()
	})
	return p.closeErr
}
