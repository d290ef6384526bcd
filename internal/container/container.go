// Package container encodes and decodes the sshovel file format: a
// self-describing preamble (magic, version, cipher name, nonce, selector
// hash) followed by a cipher-defined opaque body.
//
// Grounded on internal/format/format.go's Header/Parse pair: the
// bufio.Reader.Peek sniffing idiom for detecting a format without
// consuming input, and the ParseError/errorf pattern for reporting parse
// failures.
package container

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/nod/sshovel/internal/sherrors"
	"github.com/nod/sshovel/internal/wire"
)

// Magic is the literal 15-byte preamble of every sshovel container.
const Magic = "HAZ.CAT/SSHOVEL"

// Version is the only header version this implementation writes or accepts.
const Version uint32 = 5807

// NonceLength is the fixed byte length of the nonce field.
const NonceLength = 1024

// SelectorHashLength is the byte length of a SHA-1 selector hash.
const SelectorHashLength = 20

// recipientCount is always 1: the format reserves the field for future
// multi-recipient support, but this implementation only ever writes and
// accepts exactly one.
const recipientCount uint32 = 1

// Header is the fully-parsed sshovel preamble.
type Header struct {
	CipherName   string
	Nonce        []byte
	SelectorHash []byte
}

// errorf builds a sherrors.Malformed error, the container analogue of
// internal/format.errorf/ParseError.
func errorf(format string, a ...interface{}) error {
	return sherrors.New(sherrors.Malformed, format, a...)
}

// IsShovelStream reports whether r begins with the sshovel magic, peeking
// the bytes without consuming them. The caller must continue reading from
// the returned *bufio.Reader rather than the original r, exactly as
// format.Parse wraps its input in a bufio.Reader before peeking.
func IsShovelStream(r io.Reader) (bool, *bufio.Reader) {
	rr := bufio.NewReaderSize(r, 4096)
	start, _ := rr.Peek(len(Magic))
	return bytes.Equal(start, []byte(Magic)), rr
}

// WriteHeader writes h to w in wire format.
func WriteHeader(w io.Writer, h *Header) error {
	if len(h.Nonce) != NonceLength {
		return fmt.Errorf("container: nonce must be %d bytes, got %d", NonceLength, len(h.Nonce))
	}
	if len(h.SelectorHash) != SelectorHashLength {
		return fmt.Errorf("container: selector hash must be %d bytes, got %d", SelectorHashLength, len(h.SelectorHash))
	}

	if _, err := w.Write([]byte(Magic)); err != nil {
		return err
	}

	body := wire.NewWriter().
		U32(Version).
		String([]byte(h.CipherName)).
		String(h.Nonce).
		U32(recipientCount).
		String(h.SelectorHash)
	_, err := w.Write(body.Bytes())
	return err
}

// ParseHeader reads and validates a header from r, returning the header and
// a reader positioned at the start of the cipher body.
func ParseHeader(r io.Reader) (*Header, io.Reader, error) {
	rr := bufio.NewReaderSize(r, 4096)

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(rr, magic); err != nil {
		return nil, nil, errorf("reading magic: %v", err)
	}
	if string(magic) != Magic {
		return nil, nil, errorf("bad magic: % x", magic)
	}

	wr := wire.NewReader(rr)
	version, err := wr.U32()
	if err != nil {
		return nil, nil, errorf("reading version: %v", err)
	}
	if version != Version {
		return nil, nil, errorf("unsupported version %d", version)
	}

	cipherName, err := wr.String()
	if err != nil {
		return nil, nil, errorf("reading cipher name: %v", err)
	}
	nonce, err := wr.String()
	if err != nil {
		return nil, nil, errorf("reading nonce: %v", err)
	}
	if len(nonce) != NonceLength {
		return nil, nil, errorf("nonce length %d, want %d", len(nonce), NonceLength)
	}
	count, err := wr.U32()
	if err != nil {
		return nil, nil, errorf("reading recipient count: %v", err)
	}
	if count != recipientCount {
		return nil, nil, errorf("recipient count %d, want %d", count, recipientCount)
	}
	selectorHash, err := wr.String()
	if err != nil {
		return nil, nil, errorf("reading selector hash: %v", err)
	}
	if len(selectorHash) != SelectorHashLength {
		return nil, nil, errorf("selector hash length %d, want %d", len(selectorHash), SelectorHashLength)
	}

	return &Header{
		CipherName:   string(cipherName),
		Nonce:        nonce,
		SelectorHash: selectorHash,
	}, rr, nil
}
