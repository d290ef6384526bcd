package cipher

import (
	"io"
	"time"

	"github.com/nod/sshovel/internal/ptyexpect"
	"github.com/nod/sshovel/internal/sherrors"
)

// promptTimeout bounds how long the scrypt driver waits for each
// "passphrase: " prompt to appear, per the protocol's 1-second deadline.
const promptTimeout = 1 * time.Second

// pumpTimeout bounds the bulk plaintext/ciphertext transfer. The protocol
// gives no deadline for this phase (only prompt detection is
// latency-sensitive); this is chosen generously so it never fires for
// realistic file sizes.
const pumpTimeout = 5 * time.Minute

// eof is the terminal driver's conventional end-of-input control byte
// (Ctrl-D), sent in place of a pipe close since a pty has no notion of a
// half-closed write side.
const eof = 0x04

// scryptCipher drives the interactive scrypt(1) CLI under a pseudo-terminal
// via internal/ptyexpect, since scrypt reads its passphrase from a
// controlling terminal rather than a pipe.
type scryptCipher struct {
	// EncryptOptions tunes scrypt's work factor on encrypt (e.g. -t, -m,
	// -p); decrypt takes no options, since they're embedded in scrypt's own
	// body format.
	EncryptOptions []string
}

func init() { register(scryptCipher{}) }

func (scryptCipher) Name() string { return "scrypt" }

// WithOptions returns a copy of the cipher with EncryptOptions set.
func (s scryptCipher) WithOptions(opts []string) Cipher {
	s.EncryptOptions = opts
	return s
}

func (s scryptCipher) Encrypt(in io.Reader, out io.Writer, passphrase string) error {
	args := append([]string{"enc"}, s.EncryptOptions...)
	args = append(args, "-")
	sess, err := ptyexpect.Spawn("scrypt", args...)
	if err != nil {
		return err
	}
	defer sess.Finish()

	if err := sess.Expect("passphrase: ", promptTimeout); err != nil {
		return err
	}
	if err := sess.Send([]byte(passphrase + "\n")); err != nil {
		return sherrors.Wrap(sherrors.CipherFailure, err)
	}
	if err := sess.Expect("passphrase: ", promptTimeout); err != nil { // confirmation
		return err
	}
	if err := sess.Send([]byte(passphrase + "\n")); err != nil {
		return sherrors.Wrap(sherrors.CipherFailure, err)
	}

	return pump(sess, in, out)
}

func (scryptCipher) Decrypt(in io.Reader, out io.Writer, passphrase string) error {
	sess, err := ptyexpect.Spawn("scrypt", "dec", "-")
	if err != nil {
		return err
	}
	defer sess.Finish()

	if err := sess.Expect("passphrase: ", promptTimeout); err != nil {
		return err
	}
	if err := sess.Send([]byte(passphrase + "\n")); err != nil {
		return sherrors.Wrap(sherrors.CipherFailure, err)
	}

	return pump(sess, in, out)
}

// pump sends plaintext/ciphertext through sess and waits for the child to
// exit. Session.Finish is idempotent, so the caller's deferred Finish after
// this returns just observes the cached result.
func pump(sess *ptyexpect.Session, in io.Reader, out io.Writer) error {
	if err := ptyexpect.Copy(sess, in, pumpTimeout); err != nil {
		return err
	}
	if err := sess.Send([]byte{eof}); err != nil {
		return sherrors.Wrap(sherrors.CipherFailure, err)
	}
	if err := ptyexpect.Copy(out, sess, pumpTimeout); err != nil {
		return err
	}
	code, err := sess.Finish()
	if err != nil {
		return sherrors.Wrap(sherrors.CipherFailure, err)
	}
	if code != 0 {
		return sherrors.New(sherrors.CipherFailure, "scrypt exited with status %d", code)
	}
	return nil
}
