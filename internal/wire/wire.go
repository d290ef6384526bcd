// Package wire implements the length-prefixed, big-endian binary codec
// shared by the ssh-agent protocol and the sshovel container format.
//
// It mirrors the manual encoding/binary.BigEndian framing used throughout
// the age codebase's ssh-agent tooling (cmd/age-plugin-ssh-agent/protocol.go,
// cmd/simple-age-agent/main.go), generalized into a reusable Writer/Reader
// pair instead of duplicating offset arithmetic at each call site.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxStringLength bounds how large a length-prefixed string this codec will
// allocate for. It's a recommended, not protocol-mandated, bound: a peer
// that claims a larger field is almost certainly malformed or hostile.
const MaxStringLength = 16 << 20 // 16 MiB

// ErrOverflow is returned by Reader.String when a length field exceeds
// MaxStringLength.
var ErrOverflow = fmt.Errorf("wire: length field exceeds %d bytes", MaxStringLength)

// Writer accumulates primitives into a byte buffer, big-endian.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// U8 appends a single byte.
func (w *Writer) U8(b byte) *Writer {
	w.buf = append(w.buf, b)
	return w
}

// U32 appends a 32-bit unsigned integer, big-endian.
func (w *Writer) U32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// String appends a u32 length prefix followed by the raw bytes of s. s is
// byte-transparent: it may be an opaque blob or UTF-8 text, the codec
// doesn't care, but the length written is always the byte length, never a
// rune count.
func (w *Writer) String(s []byte) *Writer {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// Framed returns w's buffer wrapped as a string: a u32 length prefix
// followed by the buffer itself. This is how a complete agent request is
// framed on the wire (§4.1).
func (w *Writer) Framed() []byte {
	out := NewWriter()
	out.String(w.buf)
	return out.buf
}

// WriteTo writes the accumulated buffer, framed, to dst.
func (w *Writer) WriteTo(dst io.Writer) error {
	_, err := dst.Write(w.Framed())
	return err
}

// Reader decodes primitives from a read(n) -> bytes function. The agent
// client supplies the socket's io.Reader; the container parser supplies the
// file stream's io.Reader. Exact reads are assumed to return exactly the
// requested length or an error (callers must use a reader that loops until
// full, such as io.Reader backed by io.ReadFull, which is how this type's
// constructor wires things up).
type Reader struct {
	r io.Reader
}

// NewReader returns a Reader backed by r. Each primitive read uses
// io.ReadFull internally, so a short underlying read surfaces as
// io.ErrUnexpectedEOF rather than a partially-decoded value.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

func (r *Reader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, fmt.Errorf("wire: short read: %w", err)
	}
	return buf, nil
}

// U8 reads a single byte.
func (r *Reader) U8() (byte, error) {
	b, err := r.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U32 reads a 32-bit unsigned integer, big-endian.
func (r *Reader) U32() (uint32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// String reads a u32 length prefix followed by that many raw bytes.
func (r *Reader) String() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if n > MaxStringLength {
		return nil, ErrOverflow
	}
	return r.read(int(n))
}
