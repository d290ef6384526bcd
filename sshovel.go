// Package sshovel encrypts and decrypts files symmetrically, deriving the
// passphrase from an ssh-agent signature instead of a secret the user has to
// remember. Grounded on the top-level filippo.io/age package: a thin public
// API that wraps the internal engine so the internal package layout can
// change without breaking importers.
package sshovel

import (
	"io"

	"github.com/nod/sshovel/internal/container"
	"github.com/nod/sshovel/internal/sshagent"
	"github.com/nod/sshovel/internal/shovel"
)

// Header is a parsed container preamble, returned by ParseHeader.
type Header = container.Header

// ParseHeader reads a container header from r, returning the header and a
// reader positioned at the start of the cipher body.
func ParseHeader(r io.Reader) (*Header, io.Reader, error) {
	return container.ParseHeader(r)
}

// IsEncrypted reports whether r begins with the sshovel container magic,
// without consuming r. Continue reading from the returned reader.
func IsEncrypted(r io.Reader) (bool, io.Reader) {
	ok, rr := container.IsShovelStream(r)
	return ok, rr
}

// ResolveDecryptIdentity finds the agent identity whose selector hash
// matches header, the same lookup Decrypt performs internally.
func ResolveDecryptIdentity(header *Header, agent Agent) (*Identity, error) {
	return shovel.ResolveDecryptIdentity(header, agent)
}

// An Identity is an ssh-agent key usable to derive a passphrase.
type Identity = sshagent.Identity

// FingerprintAlgorithm selects how an Identity's Fingerprint is rendered.
type FingerprintAlgorithm = sshagent.FingerprintAlgorithm

const (
	FingerprintSHA256 = sshagent.FingerprintSHA256
	FingerprintMD5    = sshagent.FingerprintMD5
)

// ErrNoSignature is returned by an Agent's Sign when the agent declines to
// sign (the key has been removed, or the user refused a confirmation
// prompt).
var ErrNoSignature = sshagent.ErrNoSignature

// Agent is the ssh-agent operations the engine needs. *Client from
// DialAgent implements it; tests can substitute their own.
type Agent = shovel.Agent

// DialAgent connects to the ssh-agent at SSH_AUTH_SOCK. fingerprint selects
// how identities' Fingerprint field is rendered.
func DialAgent(fingerprint FingerprintAlgorithm) (*sshagent.Client, error) {
	return sshagent.Dial(fingerprint)
}

// Encrypt reads plaintext from in and writes a self-describing container to
// out, deriving the passphrase from agent's signature with identity over a
// freshly generated nonce. cipherName selects the body cipher ("scrypt",
// "openssl"); options are passed to ciphers that support encrypt-time
// tuning.
func Encrypt(in io.Reader, out io.Writer, agent Agent, identity *Identity, cipherName string, options []string) error {
	return shovel.Encrypt(in, out, agent, identity, cipherName, options)
}

// Decrypt parses a container from in, finds the agent identity whose
// selector hash matches, re-derives the passphrase, and writes the
// recovered plaintext to out.
func Decrypt(in io.Reader, out io.Writer, agent Agent) error {
	return shovel.Decrypt(in, out, agent)
}

// EncryptWithNonce is Encrypt with a caller-chosen nonce, used by the edit
// workflow to re-encrypt a revised file under the same selector hash it had
// before editing.
func EncryptWithNonce(in io.Reader, out io.Writer, agent Agent, identity *Identity, cipherName string, options []string, nonce []byte) error {
	return shovel.EncryptWithNonce(in, out, agent, identity, cipherName, options, nonce)
}
