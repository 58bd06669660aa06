// Package auth runs the login/password exchange of a session.
//
// The exchange is a small state machine stored on the session:
//
//	RequestLogin -> AwaitLogin -> RequestPassword -> AwaitPassword -> Authenticated
//
// A failed check falls back to the preceding Request state.  Wrong
// logins are free; each wrong password counts, and the session is
// refused once the count reaches the configured maximum.
package auth

import (
	"errors"
	"io"

	"ptygate/internal/credstore"
	gwerr "ptygate/internal/errors"
	"ptygate/internal/metrics"
	"ptygate/internal/session"
	"ptygate/util"
)

// State aliases the session's auth state so callers can name it here.
type State = session.AuthState

// Wire messages.
const (
	MsgLoginPrompt     = "Enter login: "
	MsgPasswordPrompt  = "Enter password: "
	MsgWrongLogin      = "Wrong login, try again\n"
	MsgWrongPassword   = "Wrong password, try again\n\n"
	MsgTooManyAttempts = "Too many password enter attempts\n"
	MsgAuthenticated   = "Authentication complete!\n"
)

const (
	// DefaultMaxAttempts is the password budget per connection.
	DefaultMaxAttempts = 5
	// MaxLineLength bounds how much unterminated input is buffered.
	MaxLineLength = 1024
)

// ErrLineTooLong is returned when the client sends more than
// MaxLineLength bytes without a newline.
var ErrLineTooLong = errors.New("credential line too long")

// Outcome tells the dispatcher what to do after Advance.
type Outcome int

const (
	// NeedInput means the engine is waiting for the next line.
	NeedInput Outcome = iota
	// Done means the session is authenticated; any bytes left in
	// s.Input belong to the shell.
	Done
)

// Engine checks credentials against the current store.
type Engine struct {
	Store       *credstore.Holder
	MaxAttempts int
	Metrics     *metrics.Collector
}

// Advance runs the state machine of s as far as the buffered input
// allows, writing prompts and verdicts to w.  It must be called by the
// session's owner.  An error means the session must be torn down;
// gwerr.ErrTooManyAttempts is returned after the final rejection has
// been sent.
func (e *Engine) Advance(s *session.Session, w io.Writer) (Outcome, error) {
	for {
		switch s.State {
		case session.RequestLogin:
			if err := send(w, MsgLoginPrompt); err != nil {
				return NeedInput, err
			}
			s.State = session.AwaitLogin

		case session.AwaitLogin:
			login, ok, err := nextLine(s)
			if !ok {
				return NeedInput, err
			}
			rec, found := e.Store.Load().Lookup(login)
			if !found {
				s.Logger.Verbose("unknown login %q", login)
				if err := send(w, MsgWrongLogin); err != nil {
					return NeedInput, err
				}
				s.State = session.RequestLogin
				continue
			}
			s.Credential = rec
			s.State = session.RequestPassword

		case session.RequestPassword:
			if err := send(w, MsgPasswordPrompt); err != nil {
				return NeedInput, err
			}
			s.State = session.AwaitPassword

		case session.AwaitPassword:
			password, ok, err := nextLine(s)
			if !ok {
				return NeedInput, err
			}
			if s.Credential.CheckPassword(password) {
				if err := send(w, MsgAuthenticated); err != nil {
					return NeedInput, err
				}
				s.State = session.Authenticated
				e.Metrics.AuthSucceeded()
				s.Logger.Info("authenticated as %q", s.Credential.LoginString())
				return Done, nil
			}

			s.Attempts++
			e.Metrics.AuthFailed()
			s.Logger.Verbose("wrong password for %q (%d/%d)", s.Credential.LoginString(), s.Attempts, e.maxAttempts())
			if s.Attempts >= e.maxAttempts() {
				e.Metrics.AuthLockout()
				if err := send(w, MsgTooManyAttempts); err != nil {
					return NeedInput, errors.Join(gwerr.ErrTooManyAttempts, err)
				}
				return NeedInput, gwerr.ErrTooManyAttempts
			}
			if err := send(w, MsgWrongPassword); err != nil {
				return NeedInput, err
			}
			s.State = session.RequestPassword

		case session.Authenticated:
			return Done, nil

		default:
			return NeedInput, errors.New("invalid auth state " + s.State.String())
		}
	}
}

func (e *Engine) maxAttempts() int {
	if e.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return e.MaxAttempts
}

// nextLine takes one line off s.Input with its terminator removed.
func nextLine(s *session.Session) ([]byte, bool, error) {
	line, rest, ok := util.SplitLine(s.Input)
	if !ok {
		if len(s.Input) > MaxLineLength {
			return nil, false, ErrLineTooLong
		}
		return nil, false, nil
	}
	s.Input = rest
	return util.TrimLineEnding(line), true, nil
}

func send(w io.Writer, msg string) error {
	_, err := io.WriteString(w, msg)
	return err
}
