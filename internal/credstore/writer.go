package credstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Encode writes recs to w in the on-disk layout.
func Encode(w io.Writer, recs ...Record) error {
	bw := bufio.NewWriter(w)
	for i := range recs {
		if _, err := bw.Write(recs[i].Login[:]); err != nil {
			return err
		}
		if _, err := bw.Write(recs[i].Password[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile replaces the file at path with recs.
func WriteFile(path string, recs ...Record) error {
	return writeFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, recs)
}

// Append adds recs to the end of the file at path, creating it if
// needed.
func Append(path string, recs ...Record) error {
	return writeFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, recs)
}

func writeFile(path string, flag int, recs []Record) error {
	f, err := os.OpenFile(path, flag, 0o600)
	if err != nil {
		return fmt.Errorf("opening credential file: %w", err)
	}
	if err := Encode(f, recs...); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
