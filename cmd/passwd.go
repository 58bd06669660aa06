package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"ptygate/internal/credstore"
)

// runPasswd implements "ptygate passwd": it reads login/password pairs
// from in and writes them to the credential file.  On a terminal each
// pair is prompted for and the password is not echoed; otherwise in is
// read as alternating login and password lines until EOF.
func runPasswd(args []string, in io.Reader, out io.Writer) error {
	var (
		path     string
		truncate bool
		help     bool
	)
	fs := flag.NewFlagSet("ptygate passwd", flag.ContinueOnError)
	fs.StringVarP(&path, "file", "f", "", "Credential file to write")
	fs.BoolVarP(&truncate, "truncate", "w", false, "Replace the file instead of appending")
	fs.BoolVarP(&help, "help", "h", false, "Show this help")
	fs.BoolP("append", "a", true, "Append to the file (default)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		fmt.Fprintln(os.Stderr, "Usage: ptygate passwd -f CREDFILE [-a|-w]")
		fs.PrintDefaults()
		return nil
	}
	if path == "" {
		return errors.New("passwd: -f CREDFILE is required")
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("passwd: unexpected argument %q", fs.Arg(0))
	}

	var recs []credstore.Record
	var err error
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		recs, err = promptRecords(f, out)
	} else {
		recs, err = scanRecords(in)
	}
	if err != nil {
		return fmt.Errorf("passwd: %w", err)
	}
	if len(recs) == 0 {
		return errors.New("passwd: no credentials given")
	}

	write := credstore.Append
	if truncate {
		write = credstore.WriteFile
	}
	if err := write(path, recs...); err != nil {
		return fmt.Errorf("passwd: %w", err)
	}
	fmt.Fprintf(out, "wrote %d record(s) to %s\n", len(recs), path)
	return nil
}

// scanRecords reads alternating login and password lines.  A trailing
// login without a password is an error.
func scanRecords(in io.Reader) ([]credstore.Record, error) {
	var recs []credstore.Record
	sc := bufio.NewScanner(in)
	for line := 1; sc.Scan(); line++ {
		login := strings.TrimRight(sc.Text(), "\r")
		if login == "" {
			continue
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("line %d: login %q has no password", line, login)
		}
		line++
		rec, err := credstore.NewRecord(login, strings.TrimRight(sc.Text(), "\r"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	return recs, sc.Err()
}

// promptRecords asks for one login and a confirmed password.
func promptRecords(tty *os.File, out io.Writer) ([]credstore.Record, error) {
	fmt.Fprint(out, "Login: ")
	login, err := bufio.NewReader(tty).ReadString('\n')
	if err != nil {
		return nil, err
	}
	login = strings.TrimRight(login, "\r\n")

	fd := int(tty.Fd())
	fmt.Fprint(out, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return nil, err
	}
	fmt.Fprint(out, "Again: ")
	again, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return nil, err
	}
	if string(pw) != string(again) {
		return nil, errors.New("passwords do not match")
	}

	rec, err := credstore.NewRecord(login, string(pw))
	if err != nil {
		return nil, err
	}
	return []credstore.Record{rec}, nil
}
