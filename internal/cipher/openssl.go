package cipher

import (
	"bytes"
	"io"
	"os"

	exec "golang.org/x/sys/execabs"

	"github.com/nod/sshovel/internal/sherrors"
)

func init() { register(openSSLCipher{}) }

// openSSLCipher spawns the openssl(1) binary non-interactively, passing the
// passphrase through a pipe referenced by /dev/fd/N rather than on the
// command line or an environment variable.
//
// The child-process plumbing (extra file descriptor, stdin/stdout
// redirection, stderr capture for diagnostics) is grounded on
// plugin/client.go's openClientConnection, down to spawning through
// golang.org/x/sys/execabs instead of os/exec for the same reason age's
// plugin loader does: defense against a relative-path entry in $PATH
// resolving to something other than the intended binary.
type openSSLCipher struct{}

func (openSSLCipher) Name() string { return "openssl" }

func (openSSLCipher) Encrypt(in io.Reader, out io.Writer, passphrase string) error {
	return run("enc", in, out, passphrase)
}

func (openSSLCipher) Decrypt(in io.Reader, out io.Writer, passphrase string) error {
	return run("dec", in, out, passphrase)
}

func run(mode string, in io.Reader, out io.Writer, passphrase string) error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return sherrors.Wrap(sherrors.CipherFailure, err)
	}
	if _, err := pw.WriteString(passphrase); err != nil {
		pr.Close()
		pw.Close()
		return sherrors.Wrap(sherrors.CipherFailure, err)
	}
	if err := pw.Close(); err != nil {
		pr.Close()
		return sherrors.Wrap(sherrors.CipherFailure, err)
	}

	flag := "-e"
	if mode == "dec" {
		flag = "-d"
	}
	cmd := exec.Command("openssl", "aes-256-cbc", flag, "-a", "-salt", "-kfile", "/dev/fd/3")
	cmd.ExtraFiles = []*os.File{pr}
	cmd.Stdin = in
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	pr.Close()

	if runErr != nil {
		msg := stderr.String()
		if msg == "" {
			return sherrors.Wrapf(sherrors.CipherFailure, runErr, "openssl %s", mode)
		}
		return sherrors.New(sherrors.CipherFailure, "openssl %s: %v: %s", mode, runErr, trimTrailingNewline(msg))
	}
	return nil
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
