package gateway

import (
	"errors"
	"fmt"

	"ptygate/internal/auth"
	gwerr "ptygate/internal/errors"
	"ptygate/internal/reactor"
	"ptygate/internal/registry"
	"ptygate/internal/retry"
	"ptygate/internal/session"
	"ptygate/internal/shell"
	"ptygate/util"
)

// onSocket drains the client socket.  Before authentication the bytes
// feed the login exchange; afterwards they go to the shell.
func (g *Gateway) onSocket(h registry.Handle, s *session.Session) error {
	buf := util.GetBuf()
	defer util.PutBuf(buf)
	rerr := util.DrainAppend(s.Fd, buf)
	data := *buf
	g.Metrics.BytesReceived(int64(len(data)))

	if s.State != session.Authenticated {
		// Lines that arrived together with end-of-stream are still
		// answered before the session is torn down.
		s.Input = append(s.Input, data...)
		out, err := g.auth.Advance(s, util.FdWriter(s.Fd))
		switch {
		case err != nil:
			return err
		case rerr != nil:
			return rerr
		case out == auth.Done:
			return g.startShell(h, s)
		}
		return nil
	}

	if s.Shell == nil {
		return fmt.Errorf("authenticated session without a shell")
	}
	if len(data) > 0 {
		if _, err := util.WriteAll(s.Shell.Fd(), data); err != nil {
			return fmt.Errorf("client -> shell: %w", err)
		}
	}
	return rerr
}

// onPty drains the pty master into the client socket.
func (g *Gateway) onPty(s *session.Session) error {
	if s.Shell == nil {
		return nil
	}
	buf := util.GetBuf()
	defer util.PutBuf(buf)
	rerr := util.DrainAppend(s.Shell.Fd(), buf)
	data := *buf
	if len(data) > 0 {
		n, err := util.WriteAll(s.Fd, data)
		g.Metrics.BytesSent(int64(n))
		if err != nil {
			return fmt.Errorf("shell -> client: %w", err)
		}
	}
	if gwerr.IsPeerGone(rerr) {
		if err := s.Shell.ExitErr(); err != nil {
			s.Logger.Verbose("shell exited: %v", err)
		} else {
			s.Logger.Verbose("shell exited")
		}
	}
	return rerr
}

// startShell spawns the shell for a freshly authenticated session,
// routes its pty through the registry and the poller, and forwards any
// input the client pipelined behind its password.
func (g *Gateway) startShell(h registry.Handle, s *session.Session) error {
	var p *shell.Process
	err := g.spawner.Execute(func() error {
		var err error
		p, err = shell.Spawn(shell.SpawnConfig{Shell: g.Config.Shell})
		return err
	})
	if err != nil {
		g.Metrics.ShellFailed()
		var open *retry.OpenError
		if errors.As(err, &open) {
			return fmt.Errorf("%w: %v", gwerr.ErrSpawnRejected, open)
		}
		return fmt.Errorf("spawning shell: %w", err)
	}
	g.Metrics.ShellSpawned()

	// From here closeSession owns the process.
	s.Shell = p
	if err := g.registry.AttachPty(h, p.Fd()); err != nil {
		return err
	}
	if err := g.poller.Add(p.Fd(), reactor.Readable); err != nil {
		return err
	}
	s.Logger.Info("shell %s started (pid %d, pty fd %d)", g.Config.Shell, p.Pid(), p.Fd())

	if len(s.Input) > 0 {
		pending := s.Input
		s.Input = nil
		if _, err := util.WriteAll(p.Fd(), pending); err != nil {
			return fmt.Errorf("client -> shell: %w", err)
		}
	}
	return nil
}
