// Command sshovel encrypts and decrypts a file symmetrically, deriving the
// passphrase from an ssh-agent signature instead of a remembered secret.
// Grounded on cmd/age/age.go's CLI-glue structure: a flat flag.FlagSet, a
// small number of mutually exclusive modes, and a lazy-opened output file.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nod/sshovel"
	"github.com/nod/sshovel/armor"
	"github.com/nod/sshovel/internal/container"
	"github.com/nod/sshovel/internal/logger"
	"github.com/nod/sshovel/internal/mlock"
	"github.com/nod/sshovel/internal/sshagent"
	"github.com/nod/sshovel/internal/term"
)

const usage = `Usage:
    sshovel [--cipher NAME] --key MATCH [-a] [IN] [OUT]
    sshovel --cipher NAME [--fingerprint-hash {md5|sha256}] [IN] [OUT]
    sshovel --edit FILE [--cipher NAME] --key MATCH

IN and OUT default to standard input and output; "-" means the same.

Options:
    --cipher NAME               Body cipher: scrypt (default) or openssl.
                                 Default can also come from SSHOVEL_CIPHER.
    --key MATCH                 Identity whose comment contains MATCH.
                                 Required to encrypt; ignored to decrypt.
    --fingerprint-hash ALGO     md5 or sha256 (default sha256).
    -a, --armor                  Encrypt to an ASCII-armored file.
    --edit FILE                  Open FILE in $EDITOR, re-encrypting on save.

Whether sshovel encrypts or decrypts is decided by sniffing IN: if it
begins with the sshovel magic (armored or not), it's decrypted; otherwise
it's encrypted.`

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }

	if err := mlock.Try(); err != nil {
		logger.Global.Warningf("could not lock process memory: %v", err)
	}

	var (
		cipherFlag      string
		keyFlag         string
		fingerprintFlag string
		armorFlag       bool
		editFlag        string
	)
	flag.StringVar(&cipherFlag, "cipher", defaultCipher(), "body cipher")
	flag.StringVar(&keyFlag, "key", "", "identity comment substring")
	flag.StringVar(&fingerprintFlag, "fingerprint-hash", "sha256", "md5 or sha256")
	flag.BoolVar(&armorFlag, "a", false, "ASCII-armor the output")
	flag.BoolVar(&armorFlag, "armor", false, "ASCII-armor the output")
	flag.StringVar(&editFlag, "edit", "", "edit FILE in place")
	flag.Parse()

	if flag.NArg() > 2 {
		logger.Global.Errorf("too many arguments: %q", flag.Args())
	}

	fingerprintAlgo, err := parseFingerprintAlgo(fingerprintFlag)
	if err != nil {
		logger.Global.Errorf("%v", err)
	}

	agent, err := sshovel.DialAgent(fingerprintAlgo)
	if err != nil {
		logger.Global.Errorf("%v", err)
	}
	defer agent.Close()

	// resolveKeyIdentity is threaded through lazily rather than resolved
	// here: --key is only required on transitions that actually encrypt
	// fresh content. Decrypting (and editing an existing container) finds
	// its identity from the container's own selector hash instead.
	resolveKeyIdentity := func() (*sshagent.Identity, error) {
		return resolveIdentity(agent, keyFlag)
	}

	if editFlag != "" {
		if flag.NArg() > 0 {
			logger.Global.Errorf("--edit takes no positional arguments")
		}
		if err := runEdit(editFlag, agent, resolveKeyIdentity, cipherFlag, armorFlag); err != nil {
			logger.Global.Errorf("%v", err)
		}
		return
	}

	in, closeIn := openInput(flag.Arg(0))
	defer closeIn()

	armored, rr := armor.IsArmored(in)
	var body io.Reader = rr
	if armored {
		body = armor.NewReader(rr)
	}
	isCiphertext, rr2 := container.IsShovelStream(body)

	outArg := flag.Arg(1)
	out, closeOut := openOutput(outArg)
	defer func() {
		if err := closeOut(); err != nil {
			logger.Global.Errorf("writing output: %v", err)
		}
	}()

	if isCiphertext {
		if armorFlag {
			logger.Global.Errorf("-a/--armor can't be used with decryption; armored files are detected automatically")
		}
		if err := sshovel.Decrypt(rr2, out, agent); err != nil {
			logger.Global.Errorf("%v", err)
		}
		return
	}

	// Refuse to write raw binary ciphertext to an interactive terminal
	// unless the output is armored, mirroring cmd/age/age.go's terminal
	// safety check. OUT left unspecified defaults to stdout; passing "-"
	// explicitly overrides the refusal.
	if outArg == "" && term.IsTerminal(os.Stdout) && !armorFlag {
		logger.Global.ErrorWithHint(
			"refusing to output binary to the terminal",
			"did you mean to use -a/--armor?",
			`force with "-" as OUT`,
		)
	}

	identity, err := resolveKeyIdentity()
	if err != nil {
		logger.Global.Errorf("%v", err)
	}
	if err := encryptTo(out, rr2, agent, identity, cipherFlag, armorFlag); err != nil {
		logger.Global.Errorf("%v", err)
	}
}

// encryptTo runs Encrypt, optionally wrapping out in the armor writer.
func encryptTo(out io.Writer, in io.Reader, agent sshovel.Agent, identity *sshagent.Identity, cipherName string, armored bool) error {
	if !armored {
		return sshovel.Encrypt(in, out, agent, identity, cipherName, nil)
	}
	w := armor.NewWriter(out)
	if err := sshovel.Encrypt(in, w, agent, identity, cipherName, nil); err != nil {
		return err
	}
	return w.Close()
}

// resolveIdentity applies the --key substring matcher against the agent's
// identities. Exactly one match is required; this fixes the `_match_key`
// divergence noted in spec §9 (which only rejected strictly more than two
// matches) to reject any count other than one.
func resolveIdentity(agent sshovel.Agent, match string) (*sshagent.Identity, error) {
	if match == "" {
		return nil, fmt.Errorf("--key is required to select an identity")
	}
	identities, err := agent.ListIdentities()
	if err != nil {
		return nil, err
	}
	var matches []*sshagent.Identity
	for _, id := range identities {
		if strings.Contains(id.Comment, match) {
			matches = append(matches, id)
		}
	}
	if len(matches) != 1 {
		return nil, fmt.Errorf("--key %q matched %d identities, want exactly 1", match, len(matches))
	}
	return matches[0], nil
}

func parseFingerprintAlgo(s string) (sshagent.FingerprintAlgorithm, error) {
	switch s {
	case "sha256", "":
		return sshagent.FingerprintSHA256, nil
	case "md5":
		return sshagent.FingerprintMD5, nil
	default:
		return 0, fmt.Errorf("unknown --fingerprint-hash %q, want md5 or sha256", s)
	}
}

func defaultCipher() string {
	if c := os.Getenv("SSHOVEL_CIPHER"); c != "" {
		return c
	}
	return "scrypt"
}

func openInput(name string) (io.Reader, func() error) {
	if name == "" || name == "-" {
		return os.Stdin, func() error { return nil }
	}
	f, err := os.Open(name)
	if err != nil {
		logger.Global.Errorf("opening %q: %v", name, err)
	}
	return f, f.Close
}

// lazyOutput defers creating the output file until the first write, so a
// run that fails before writing anything (agent, header or key errors)
// leaves no file behind and does not truncate an existing one. A failure
// after output has started (e.g. the cipher exiting non-zero after the
// header was written) leaves the partial output in place.
type lazyOutput struct {
	name string
	f    *os.File
	err  error
}

func (l *lazyOutput) Write(p []byte) (int, error) {
	if l.f == nil && l.err == nil {
		l.f, l.err = os.Create(l.name)
	}
	if l.err != nil {
		return 0, l.err
	}
	return l.f.Write(p)
}

func openOutput(name string) (io.Writer, func() error) {
	if name == "" || name == "-" {
		return os.Stdout, func() error { return nil }
	}
	l := &lazyOutput{name: name}
	return l, func() error {
		if l.f != nil {
			return l.f.Close()
		}
		return l.err
	}
}
