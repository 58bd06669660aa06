// Package credstore reads and writes the credential file: a flat
// sequence of fixed-width (login, password) records with no delimiters
// and no header.
//
// Each field is FieldWidth bytes holding a NUL-terminated string, so a
// login or password is at most FieldWidth-1 bytes long.  A Store is
// immutable once loaded and may be shared by any number of goroutines
// without locking.
package credstore

import (
	"bufio"
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

const (
	// FieldWidth is the on-disk width of the login and password fields.
	FieldWidth = 13
	// RecordSize is the on-disk size of one record.
	RecordSize = 2 * FieldWidth
	// MaxFieldLen is the longest login or password that fits a field.
	MaxFieldLen = FieldWidth - 1

	initialCapacity = 8
)

var (
	// ErrTruncatedRecord means the file length is not a multiple of
	// RecordSize.
	ErrTruncatedRecord = errors.New("credential file ends in a partial record")
	// ErrFieldTooLong is returned by NewRecord for oversized input.
	ErrFieldTooLong = fmt.Errorf("field longer than %d bytes", MaxFieldLen)
	// ErrEmptyField is returned by NewRecord for an empty login or
	// password.
	ErrEmptyField = errors.New("field is empty")
)

// Record is one fixed-width credential pair.
type Record struct {
	Login    [FieldWidth]byte
	Password [FieldWidth]byte
}

// NewRecord builds a record, rejecting empty or oversized fields and
// fields containing NUL.
func NewRecord(login, password string) (Record, error) {
	var r Record
	for _, f := range []struct {
		name  string
		value string
		dst   []byte
	}{
		{"login", login, r.Login[:]},
		{"password", password, r.Password[:]},
	} {
		switch {
		case f.value == "":
			return Record{}, fmt.Errorf("%s: %w", f.name, ErrEmptyField)
		case len(f.value) > MaxFieldLen:
			return Record{}, fmt.Errorf("%s: %w", f.name, ErrFieldTooLong)
		case bytes.IndexByte([]byte(f.value), 0) >= 0:
			return Record{}, fmt.Errorf("%s: contains NUL", f.name)
		}
		copy(f.dst, f.value)
	}
	return r, nil
}

// field returns the stored bytes of a field, up to its first NUL.
func field(f *[FieldWidth]byte) []byte {
	if i := bytes.IndexByte(f[:], 0); i >= 0 {
		return f[:i]
	}
	return f[:]
}

// LoginString returns the login as a string.
func (r *Record) LoginString() string { return string(field(&r.Login)) }

// CheckPassword compares p with the stored password in constant time
// with respect to the content of the stored field.
func (r *Record) CheckPassword(p []byte) bool {
	want := field(&r.Password)
	return subtle.ConstantTimeEq(int32(len(p)), int32(len(want))) == 1 &&
		subtle.ConstantTimeCompare(p, want) == 1
}

// Store is the loaded, read-only credential table.
type Store struct {
	records []Record
}

// Load reads the credential file at path.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credential file: %w", err)
	}
	defer f.Close()

	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return s, nil
}

// Read decodes records from r until EOF.  The backing array starts
// small, doubles whenever it fills and is clipped to the exact record
// count at the end.
func Read(r io.Reader) (*Store, error) {
	br := bufio.NewReader(r)
	recs := make([]Record, 0, initialCapacity)

	var raw [RecordSize]byte
	for {
		_, err := io.ReadFull(br, raw[:])
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("record %d: %w", len(recs), ErrTruncatedRecord)
		}
		if err != nil {
			return nil, err
		}

		if len(recs) == cap(recs) {
			grown := make([]Record, len(recs), 2*cap(recs))
			copy(grown, recs)
			recs = grown
		}
		var rec Record
		copy(rec.Login[:], raw[:FieldWidth])
		copy(rec.Password[:], raw[FieldWidth:])
		recs = append(recs, rec)
	}
	return &Store{records: slices.Clip(recs)}, nil
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Records returns a copy of the records in file order.
func (s *Store) Records() []Record { return slices.Clone(s.records) }

// Lookup returns the first record whose login equals login.  Records
// with an empty login never match.
func (s *Store) Lookup(login []byte) (*Record, bool) {
	if len(login) == 0 {
		return nil, false
	}
	for i := range s.records {
		if bytes.Equal(field(&s.records[i].Login), login) {
			return &s.records[i], true
		}
	}
	return nil, false
}
