package container

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/nod/sshovel/internal/sherrors"
)

func mustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	h := &Header{
		CipherName:   "openssl",
		Nonce:        mustRandom(NonceLength),
		SelectorHash: mustRandom(SelectorHashLength),
	}
	var buf bytes.Buffer
	if err := WriteHeader(&buf, h); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("opaque-cipher-body")

	got, rest, err := ParseHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.CipherName != h.CipherName {
		t.Errorf("CipherName = %q, want %q", got.CipherName, h.CipherName)
	}
	if !bytes.Equal(got.Nonce, h.Nonce) {
		t.Error("Nonce mismatch")
	}
	if !bytes.Equal(got.SelectorHash, h.SelectorHash) {
		t.Error("SelectorHash mismatch")
	}

	tail, err := io.ReadAll(rest)
	if err != nil {
		t.Fatal(err)
	}
	if string(tail) != "opaque-cipher-body" {
		t.Errorf("body = %q, want %q", tail, "opaque-cipher-body")
	}
}

func TestMagicDetection(t *testing.T) {
	h := &Header{CipherName: "openssl", Nonce: mustRandom(NonceLength), SelectorHash: mustRandom(SelectorHashLength)}
	var buf bytes.Buffer
	WriteHeader(&buf, h)

	ok, rr := IsShovelStream(&buf)
	if !ok {
		t.Fatal("expected IsShovelStream to detect magic")
	}
	// Peek must not have consumed anything: a full header still parses.
	if _, _, err := ParseHeader(rr); err != nil {
		t.Fatalf("ParseHeader after peek: %v", err)
	}
}

func TestMagicDetectionPlaintext(t *testing.T) {
	ok, _ := IsShovelStream(bytes.NewReader([]byte("just some plaintext")))
	if ok {
		t.Fatal("expected IsShovelStream to reject plaintext")
	}
}

func TestBadMagicIsMalformed(t *testing.T) {
	_, _, err := ParseHeader(bytes.NewReader([]byte("NOT.THE.RIGHT.MAGIC...")))
	if sherrors.CategoryOf(err) != sherrors.Malformed {
		t.Fatalf("category = %v, want Malformed", sherrors.CategoryOf(err))
	}
}

func TestBadVersionIsMalformed(t *testing.T) {
	h := &Header{CipherName: "openssl", Nonce: mustRandom(NonceLength), SelectorHash: mustRandom(SelectorHashLength)}
	var buf bytes.Buffer
	WriteHeader(&buf, h)
	raw := buf.Bytes()
	// Flip the version field (bytes right after the 15-byte magic).
	raw[15] ^= 0xff

	_, _, err := ParseHeader(bytes.NewReader(raw))
	if sherrors.CategoryOf(err) != sherrors.Malformed {
		t.Fatalf("category = %v, want Malformed", sherrors.CategoryOf(err))
	}
}

func TestWrongNonceLengthRejected(t *testing.T) {
	h := &Header{CipherName: "openssl", Nonce: mustRandom(NonceLength - 1), SelectorHash: mustRandom(SelectorHashLength)}
	var buf bytes.Buffer
	if err := WriteHeader(&buf, h); err == nil {
		t.Fatal("expected WriteHeader to reject a short nonce")
	}
}
