// Package shovel is the engine that ties the ssh-agent client, the
// container format, and a cipher together: generate a nonce, sign it,
// derive a passphrase, and hand the body to the cipher. Grounded on
// internal/age/age.go's top-level Encrypt/Decrypt functions: a header fully
// written before body bytes, a small linear-scan identity match, and errors
// wrapped with enough context to be useful at the CLI without a stack
// trace.
package shovel

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strings"

	"github.com/nod/sshovel/internal/cipher"
	"github.com/nod/sshovel/internal/container"
	"github.com/nod/sshovel/internal/sherrors"
	"github.com/nod/sshovel/internal/sshagent"
)

// Agent is the subset of *sshagent.Client the engine needs, so tests can
// substitute an in-process fake.
type Agent interface {
	ListIdentities() ([]*sshagent.Identity, error)
	Sign(blob, message []byte, flags uint32) ([]byte, error)
}

// Encrypt generates a nonce, signs it with identity, derives a passphrase,
// writes the container header, and hands the body to the named cipher.
func Encrypt(in io.Reader, out io.Writer, agent Agent, identity *sshagent.Identity, cipherName string, options []string) error {
	nonce := make([]byte, container.NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return sherrors.Wrap(sherrors.Internal, err)
	}
	return EncryptWithNonce(in, out, agent, identity, cipherName, options, nonce)
}

// EncryptWithNonce is Encrypt with an explicit, caller-supplied nonce. The
// edit workflow uses this to re-encrypt an existing container with the same
// nonce it was decrypted with: the passphrase is unchanged, so reusing the
// nonce preserves the selector hash and only the cipher body's random salt
// differs between revisions (spec §9 Design Notes).
func EncryptWithNonce(in io.Reader, out io.Writer, agent Agent, identity *sshagent.Identity, cipherName string, options []string, nonce []byte) error {
	if len(nonce) != container.NonceLength {
		return sherrors.New(sherrors.Internal, "nonce must be %d bytes, got %d", container.NonceLength, len(nonce))
	}

	c, err := resolveCipher(cipherName, options)
	if err != nil {
		return err
	}

	passphrase, err := signAndDerive(agent, identity, nonce)
	if err != nil {
		return err
	}

	header := &container.Header{
		CipherName:   strings.ToLower(cipherName),
		Nonce:        nonce,
		SelectorHash: selectorHash(nonce, identity.Blob),
	}
	if err := container.WriteHeader(out, header); err != nil {
		return sherrors.Wrap(sherrors.Internal, err)
	}

	return c.Encrypt(in, out, passphrase)
}

// Decrypt parses the container header, finds the agent identity whose
// selector hash matches, re-derives the passphrase, and hands the body to
// the named cipher.
func Decrypt(in io.Reader, out io.Writer, agent Agent) error {
	header, body, err := container.ParseHeader(in)
	if err != nil {
		return err
	}
	c, err := cipher.Lookup(header.CipherName)
	if err != nil {
		return err
	}

	identity, err := ResolveDecryptIdentity(header, agent)
	if err != nil {
		return err
	}

	passphrase, err := signAndDerive(agent, identity, header.Nonce)
	if err != nil {
		return err
	}

	return c.Decrypt(body, out, passphrase)
}

// ResolveDecryptIdentity finds the agent identity whose selector hash
// matches header. The edit workflow calls this directly (rather than going
// through Decrypt) so it can remember which identity and nonce to reuse
// when re-encrypting a revised file.
func ResolveDecryptIdentity(header *container.Header, agent Agent) (*sshagent.Identity, error) {
	identities, err := agent.ListIdentities()
	if err != nil {
		return nil, err
	}
	return findBySelector(identities, header)
}

func resolveCipher(name string, options []string) (cipher.Cipher, error) {
	c, err := cipher.Lookup(name)
	if err != nil {
		return nil, err
	}
	if len(options) > 0 {
		if oc, ok := c.(cipher.OptionConfigurable); ok {
			c = oc.WithOptions(options)
		}
	}
	return c, nil
}

// signAndDerive signs message with identity (flags chosen per its
// algorithm) and reduces the signature to a hex passphrase. An agent
// failure tombstone is reported as KeyMissing naming the identity.
func signAndDerive(agent Agent, identity *sshagent.Identity, message []byte) (string, error) {
	sig, err := agent.Sign(identity.Blob, message, signFlags(identity))
	if err == sshagent.ErrNoSignature {
		return "", sherrors.New(sherrors.KeyMissing, "agent declined to sign with %s", identity.Comment)
	}
	if err != nil {
		return "", err
	}
	return derivePassphrase(sig), nil
}

// signFlags picks the signature flag for identity's algorithm: RSA keys
// request rsa-sha2-512; every other algorithm uses the legacy flag, which
// is the only choice that keeps the signature (and therefore the derived
// passphrase) deterministic across agent implementations.
func signFlags(identity *sshagent.Identity) uint32 {
	if identity.Algorithm == "ssh-rsa" {
		return sshagent.FlagRSASHA2_512
	}
	return sshagent.FlagNone
}

func derivePassphrase(signature []byte) string {
	sum := sha1.Sum(signature)
	return hex.EncodeToString(sum[:])
}

func selectorHash(nonce, blob []byte) []byte {
	h := sha1.New()
	h.Write(nonce)
	h.Write(blob)
	return h.Sum(nil)
}

// findBySelector scans identities for the one whose selector hash matches
// header's. A linear scan over a small slice is sufficient (§4.6): the
// agent rarely holds more than a handful of keys.
func findBySelector(identities []*sshagent.Identity, header *container.Header) (*sshagent.Identity, error) {
	for _, id := range identities {
		if bytes.Equal(selectorHash(header.Nonce, id.Blob), header.SelectorHash) {
			return id, nil
		}
	}
	return nil, sherrors.New(sherrors.KeyMissing, "no identity in the agent matches this container (missing key)")
}
