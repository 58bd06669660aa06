package auth

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"ptygate/internal/credstore"
	gwerr "ptygate/internal/errors"
	"ptygate/internal/metrics"
	"ptygate/internal/session"
	"ptygate/util"
)

func newEngine(t *testing.T, maxAttempts int) *Engine {
	t.Helper()
	var buf bytes.Buffer
	for _, c := range [][2]string{{"alice", "secret"}, {"bob", "hunter2"}} {
		rec, err := credstore.NewRecord(c[0], c[1])
		if err != nil {
			t.Fatal(err)
		}
		credstore.Encode(&buf, rec)
	}
	store, err := credstore.Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	return &Engine{
		Store:       credstore.NewHolder(store),
		MaxAttempts: maxAttempts,
		Metrics:     metrics.New(),
	}
}

// feed appends input to the session and advances the engine.
func feed(e *Engine, s *session.Session, w *bytes.Buffer, input string) (Outcome, error) {
	s.Input = append(s.Input, input...)
	return e.Advance(s, w)
}

func TestAdvance_Success(t *testing.T) {
	e := newEngine(t, 3)
	s := session.New(3, "test", time.Now(), nil)
	var out bytes.Buffer

	if o, err := e.Advance(s, &out); err != nil || o != NeedInput {
		t.Fatalf("initial advance = %v, %v", o, err)
	}
	if out.String() != MsgLoginPrompt || s.State != session.AwaitLogin {
		t.Fatalf("after connect: out=%q state=%v", out.String(), s.State)
	}

	feed(e, s, &out, "alice\n")
	if s.State != session.AwaitPassword {
		t.Fatalf("state = %v after login", s.State)
	}
	o, err := feed(e, s, &out, "secret\n")
	if err != nil || o != Done {
		t.Fatalf("password advance = %v, %v", o, err)
	}

	want := MsgLoginPrompt + MsgPasswordPrompt + MsgAuthenticated
	if out.String() != want {
		t.Errorf("transcript = %q, want %q", out.String(), want)
	}
	if s.State != session.Authenticated || s.Credential.LoginString() != "alice" {
		t.Errorf("state=%v credential=%v", s.State, s.Credential)
	}
	if e.Metrics.AuthSuccesses() != 1 {
		t.Errorf("successes = %d", e.Metrics.AuthSuccesses())
	}

	// Further calls are no-ops.
	out.Reset()
	if o, err := e.Advance(s, &out); o != Done || err != nil || out.Len() != 0 {
		t.Errorf("advance after auth = %v, %v, %q", o, err, out.String())
	}
}

func TestAdvance_InputShapes(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
	}{
		{"pipelined", []string{"alice\nsecret\n"}},
		{"crlf", []string{"alice\r\n", "secret\r\n"}},
		{"byte by byte", strings.Split("alice\nsecret\n", "")},
		{"split across terminator", []string{"ali", "ce\r", "\nsec", "ret", "\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, 3)
			s := session.New(3, "test", time.Now(), nil)
			var out bytes.Buffer
			e.Advance(s, &out)

			var o Outcome
			for _, c := range tt.chunks {
				var err error
				if o, err = feed(e, s, &out, c); err != nil {
					t.Fatal(err)
				}
			}
			if o != Done {
				t.Fatalf("outcome = %v, state = %v, out = %q", o, s.State, out.String())
			}
		})
	}
}

func TestAdvance_ResidualInputKept(t *testing.T) {
	e := newEngine(t, 3)
	s := session.New(3, "test", time.Now(), nil)
	var out bytes.Buffer
	e.Advance(s, &out)

	if o, _ := feed(e, s, &out, "alice\nsecret\nls -l\n"); o != Done {
		t.Fatalf("outcome = %v", o)
	}
	if string(s.Input) != "ls -l\n" {
		t.Errorf("residual input = %q, want the shell command", s.Input)
	}
}

func TestAdvance_WrongLoginNotCounted(t *testing.T) {
	e := newEngine(t, 2)
	s := session.New(3, "test", time.Now(), nil)
	var out bytes.Buffer
	e.Advance(s, &out)

	for i := 0; i < 10; i++ {
		if _, err := feed(e, s, &out, "mallory\n"); err != nil {
			t.Fatalf("wrong login %d: %v", i, err)
		}
	}
	if s.Attempts != 0 {
		t.Errorf("attempts = %d after wrong logins", s.Attempts)
	}
	if s.State != session.AwaitLogin {
		t.Errorf("state = %v", s.State)
	}
	if n := strings.Count(out.String(), MsgWrongLogin); n != 10 {
		t.Errorf("wrong-login messages = %d", n)
	}
	if !strings.HasSuffix(out.String(), MsgWrongLogin+MsgLoginPrompt) {
		t.Errorf("login not re-prompted: %q", out.String())
	}
}

func TestAdvance_PrefixLoginRejected(t *testing.T) {
	e := newEngine(t, 3)
	s := session.New(3, "test", time.Now(), nil)
	var out bytes.Buffer
	e.Advance(s, &out)

	feed(e, s, &out, "ali\n")
	if s.Credential != nil {
		t.Fatal("prefix of a login matched")
	}
}

func TestAdvance_AttemptExhaustion(t *testing.T) {
	e := newEngine(t, 3)
	s := session.New(3, "test", time.Now(), nil)
	var out bytes.Buffer
	e.Advance(s, &out)
	feed(e, s, &out, "alice\n")

	for i := 1; i <= 2; i++ {
		if _, err := feed(e, s, &out, "wrong\n"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if s.Attempts != i || s.State != session.AwaitPassword {
			t.Fatalf("attempt %d: attempts=%d state=%v", i, s.Attempts, s.State)
		}
	}

	before := out.Len()
	_, err := feed(e, s, &out, "wrong\n")
	if !errors.Is(err, gwerr.ErrTooManyAttempts) {
		t.Fatalf("third wrong password: err = %v", err)
	}
	if tail := out.String()[before:]; tail != MsgTooManyAttempts {
		t.Errorf("final output = %q, want only the rejection", tail)
	}
	if s.Attempts != 3 {
		t.Errorf("attempts = %d", s.Attempts)
	}
	if e.Metrics.AuthFailures() != 3 || e.Metrics.AuthLockouts() != 1 {
		t.Errorf("failures=%d lockouts=%d", e.Metrics.AuthFailures(), e.Metrics.AuthLockouts())
	}

	wantPrefix := MsgLoginPrompt + MsgPasswordPrompt +
		MsgWrongPassword + MsgPasswordPrompt +
		MsgWrongPassword + MsgPasswordPrompt
	if !strings.HasPrefix(out.String(), wantPrefix) {
		t.Errorf("transcript = %q", out.String())
	}
}

func TestAdvance_LineTooLong(t *testing.T) {
	e := newEngine(t, 3)
	s := session.New(3, "test", time.Now(), nil)
	var out bytes.Buffer
	e.Advance(s, &out)

	_, err := feed(e, s, &out, strings.Repeat("x", MaxLineLength+1))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("err = %v, want ErrLineTooLong", err)
	}
}

// The whole exchange over a real non-blocking socket, with the client
// line arriving in 8-byte writes and drained in one go.
func TestAdvance_OverSocket(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	server, client := fds[0], fds[1]
	defer unix.Close(server)
	defer unix.Close(client)

	e := newEngine(t, 3)
	s := session.New(server, "test", time.Now(), nil)
	w := util.FdWriter(server)

	if _, err := e.Advance(s, w); err != nil {
		t.Fatal(err)
	}
	msg := []byte("alice\nsecret\n")
	for off := 0; off < len(msg); off += 8 {
		end := min(off+8, len(msg))
		if _, err := unix.Write(client, msg[off:end]); err != nil {
			t.Fatal(err)
		}
	}

	in, err := util.DrainRead(server)
	if err != nil {
		t.Fatal(err)
	}
	s.Input = append(s.Input, in...)
	if o, err := e.Advance(s, w); err != nil || o != Done {
		t.Fatalf("advance = %v, %v", o, err)
	}

	got, _ := util.DrainRead(client)
	want := MsgLoginPrompt + MsgPasswordPrompt + MsgAuthenticated
	if string(got) != want {
		t.Errorf("client received %q, want %q", got, want)
	}
}
