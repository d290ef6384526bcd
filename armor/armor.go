// Package armor provides a strict, streaming PEM-style wrapper around an
// entire sshovel container (header plus cipher body), for callers that
// want an ASCII-safe file over sshovel's ordinarily raw binary format.
//
// It's PEM with type "SSHOVEL ENCRYPTED FILE", 64 character columns, no
// headers, and strict base64 decoding. The writer side (wrapping at a fixed
// column width) is grounded on internal/format/armor.go's newlineWriter.
// The reader's envelope rules (header/footer detection, leading/trailing
// whitespace tolerance bounded by maxSlack, strict per-line decoding) match
// the top-level armor/armor.go from the same codebase, but the
// implementation is its own: a bufio.Scanner line cursor plus named state
// methods (skimToHeader, drainTrailing) in place of that file's manual
// ReadBytes('\n') loop and inline closures, since sshovel's container is a
// single flat header rather than that codebase's recipient-stanza list and
// has no internal stanza-format package to stay self-contained against.
package armor

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	Header = "-----BEGIN SSHOVEL ENCRYPTED FILE-----"
	Footer = "-----END SSHOVEL ENCRYPTED FILE-----"
)

const (
	columnsPerLine = 64
	bytesPerLine   = columnsPerLine / 4 * 3
)

// newlineWriter inserts a newline every columnsPerLine bytes written.
type newlineWriter struct {
	dst     io.Writer
	written int
}

func (w *newlineWriter) Write(p []byte) (n int, err error) {
	for len(p) > 0 {
		remainingInLine := columnsPerLine - (w.written % columnsPerLine)
		if remainingInLine == columnsPerLine && w.written != 0 {
			if _, err := w.dst.Write([]byte("\n")); err != nil {
				return n, err
			}
		}
		toWrite := remainingInLine
		if toWrite > len(p) {
			toWrite = len(p)
		}
		nn, err := w.dst.Write(p[:toWrite])
		n += nn
		w.written += nn
		p = p[nn:]
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

type armoredWriter struct {
	started, closed bool
	nl              *newlineWriter
	enc             io.WriteCloser
	dst             io.Writer
}

func (a *armoredWriter) Write(p []byte) (int, error) {
	if !a.started {
		if _, err := io.WriteString(a.dst, Header+"\n"); err != nil {
			return 0, err
		}
		a.started = true
	}
	return a.enc.Write(p)
}

func (a *armoredWriter) Close() error {
	if a.closed {
		return errors.New("armor: writer already closed")
	}
	a.closed = true
	if err := a.enc.Close(); err != nil {
		return err
	}
	footer := Footer + "\n"
	if a.nl.written != 0 {
		footer = "\n" + footer
	}
	_, err := io.WriteString(a.dst, footer)
	return err
}

// NewWriter wraps dst so that bytes written to the returned WriteCloser are
// base64-encoded and framed between Header and Footer. Close must be
// called to flush the final partial line and write the footer.
func NewWriter(dst io.Writer) io.WriteCloser {
	nl := &newlineWriter{dst: dst}
	return &armoredWriter{
		dst: dst,
		nl:  nl,
		enc: base64.NewEncoder(base64.StdEncoding, nl),
	}
}

// maxSlack bounds how much leading or trailing whitespace the reader will
// tolerate around the envelope before giving up, so a malformed stream
// can't make it buffer unboundedly while looking for a header or footer
// that will never come.
const maxSlack = 1024

// armoredReader strips a PEM-style envelope from an underlying line stream.
// It runs as a small state machine: skim blank lines up to the header,
// stream decoded body lines, then confirm the footer and drain any
// trailing whitespace.
type armoredReader struct {
	sc      *bufio.Scanner
	started bool
	pending []byte // decoded body bytes not yet returned, backed by out
	out     [bytesPerLine]byte
	err     error
}

// NewReader returns a Reader that strips the PEM-style envelope from r,
// yielding the decoded bytes in between.
func NewReader(r io.Reader) io.Reader {
	return &armoredReader{sc: bufio.NewScanner(r)}
}

func (r *armoredReader) Read(p []byte) (int, error) {
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}

	if !r.started {
		if err := r.skimToHeader(); err != nil {
			return 0, r.fail(err)
		}
		r.started = true
	}

	line, ok, err := r.nextLine()
	if err != nil {
		return 0, r.fail(err)
	}
	if !ok {
		return 0, r.fail(io.ErrUnexpectedEOF)
	}
	if string(line) == Footer {
		return 0, r.fail(r.drainTrailing())
	}
	if len(line) > columnsPerLine {
		return 0, r.fail(errors.New("column limit exceeded"))
	}

	r.pending = r.out[:]
	n, err := base64.StdEncoding.Strict().Decode(r.pending, line)
	if err != nil {
		return 0, r.fail(err)
	}
	r.pending = r.pending[:n]

	if n < bytesPerLine {
		footer, ok, err := r.nextLine()
		if err != nil {
			return 0, r.fail(err)
		}
		if !ok || string(footer) != Footer {
			return 0, r.fail(fmt.Errorf("invalid closing line: %q", footer))
		}
		r.fail(r.drainTrailing())
	}

	nn := copy(p, r.pending)
	r.pending = r.pending[nn:]
	return nn, nil
}

// nextLine reads the scanner's next line. ok is false with a nil err only
// when the underlying stream is cleanly exhausted; a non-nil err is a
// genuine read failure.
func (r *armoredReader) nextLine() (line []byte, ok bool, err error) {
	if r.sc.Scan() {
		return r.sc.Bytes(), true, nil
	}
	return nil, false, r.sc.Err()
}

// skimToHeader consumes leading blank lines (bounded by maxSlack) until it
// finds Header, or fails.
func (r *armoredReader) skimToHeader() error {
	var skipped int
	for {
		line, ok, err := r.nextLine()
		if err != nil {
			return err
		}
		if !ok {
			return io.ErrUnexpectedEOF
		}
		if len(bytes.TrimSpace(line)) == 0 {
			skipped += len(line) + 1
			if skipped > maxSlack {
				return errors.New("too much leading whitespace")
			}
			continue
		}
		if string(line) != Header {
			return fmt.Errorf("invalid first line: %q", line)
		}
		return nil
	}
}

// drainTrailing consumes whatever comes after Footer, succeeding (as
// io.EOF) only if it's all blank lines within maxSlack.
func (r *armoredReader) drainTrailing() error {
	var drained int
	for {
		line, ok, err := r.nextLine()
		if err != nil {
			return err
		}
		if !ok {
			return io.EOF
		}
		drained += len(line) + 1
		if len(bytes.TrimSpace(line)) != 0 {
			return errors.New("trailing data after armored file")
		}
		if drained > maxSlack {
			return errors.New("too much trailing whitespace")
		}
	}
}

// Error wraps an armor parse failure.
type Error struct {
	err error
}

func (e *Error) Error() string {
	return "invalid armor: " + e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

func (r *armoredReader) fail(err error) error {
	if err != io.EOF {
		err = &Error{err}
	}
	r.err = err
	return err
}

// IsArmored peeks at r's first line to check for the armor header without
// consuming input, the way internal/container.IsShovelStream sniffs the
// raw magic bytes. Callers should continue reading from the returned
// *bufio.Reader rather than the original r.
func IsArmored(r io.Reader) (bool, *bufio.Reader) {
	rr := bufio.NewReaderSize(r, 4096)
	start, _ := rr.Peek(len(Header))
	return string(start) == Header, rr
}
