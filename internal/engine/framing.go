package engine

import (
	"bytes"
	"io"

	"ktail/internal/config"
)

// framer separates chunks on the output according to the result format.
type framer struct {
	format config.Format
	w      io.Writer
	n      int
}

func newFramer(f config.Format, w io.Writer) *framer {
	return &framer{format: f, w: w}
}

func (f *framer) write(chunk []byte) error {
	var prefix, suffix []byte
	switch f.format {
	case config.FormatArray:
		if f.n == 0 {
			prefix = []byte("[")
		} else {
			prefix = []byte(",")
		}
	case config.FormatLDJSON, config.FormatCSV:
		if !bytes.HasSuffix(chunk, []byte("\n")) {
			suffix = []byte("\n")
		}
	}
	f.n++
	for _, b := range [][]byte{prefix, chunk, suffix} {
		if len(b) == 0 {
			continue
		}
		if _, err := f.w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func (f *framer) close() error {
	if f.format != config.FormatArray {
		return nil
	}
	end := "]\n"
	if f.n == 0 {
		end = "[]\n"
	}
	_, err := io.WriteString(f.w, end)
	return err
}
