// Package cipher defines the pluggable encrypt/decrypt abstraction that
// sshovel containers delegate their body to, plus a closed registry of the
// two concrete drivers: openssl (non-interactive) and scrypt (interactive,
// via internal/ptyexpect).
package cipher

import (
	"io"
	"sort"
	"strings"

	"github.com/nod/sshovel/internal/sherrors"
)

// Cipher is a pair of streaming operations over a passphrase. The encoded
// body format is entirely the cipher's concern; the container only records
// the cipher's name.
type Cipher interface {
	Name() string
	Encrypt(in io.Reader, out io.Writer, passphrase string) error
	Decrypt(in io.Reader, out io.Writer, passphrase string) error
}

// OptionConfigurable is implemented by ciphers that accept encrypt-time
// tuning options (scrypt's work factor flags). WithOptions returns a copy
// of the cipher configured with opts; decrypt ignores them, since they're
// embedded in the cipher's own body format.
type OptionConfigurable interface {
	WithOptions(opts []string) Cipher
}

var registry = map[string]Cipher{}

func register(c Cipher) {
	registry[strings.ToLower(c.Name())] = c
}

// Lookup resolves a cipher name (case-insensitive) to its implementation.
func Lookup(name string) (Cipher, error) {
	c, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, sherrors.New(sherrors.UnknownCipher, "no such cipher: %q", name)
	}
	return c, nil
}

// Names returns the registered cipher names, for the CLI's help text.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
