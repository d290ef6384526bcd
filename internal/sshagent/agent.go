// Package sshagent implements a client for the ssh-agent wire protocol:
// just enough of it to list identities and ask the agent to sign a nonce.
// It never delegates to golang.org/x/crypto/ssh/agent's higher-level
// agent.Agent interface, since speaking the wire protocol directly is
// itself one of sshovel's audited core components (spec §2, §4.2).
//
// The framing is the same manual big-endian, length-prefixed encoding used
// throughout the age codebase's own agent tooling
// (cmd/age-plugin-ssh-agent/protocol.go, cmd/simple-age-agent/main.go),
// here built on internal/wire instead of ad-hoc offset arithmetic.
package sshagent

import (
	"errors"
	"net"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/nod/sshovel/internal/sherrors"
	"github.com/nod/sshovel/internal/wire"
)

// Message types, per the ssh-agent protocol (draft-miller-ssh-agent).
const (
	msgRequestIdentities = 11
	msgIdentitiesAnswer  = 12
	msgSignRequest       = 13
	msgSignResponse      = 14
	msgFailure           = 5
)

// Signature flags understood by SSH2_AGENTC_SIGN_REQUEST.
const (
	FlagNone        uint32 = 0
	FlagRSASHA2_256 uint32 = 2
	FlagRSASHA2_512 uint32 = 4
)

// FingerprintAlgorithm selects how Identity.Fingerprint is rendered.
type FingerprintAlgorithm int

const (
	FingerprintSHA256 FingerprintAlgorithm = iota
	FingerprintMD5
)

// Identity is a public key exposed by the agent, read-only after
// construction and bounded by the lifetime of a single invocation.
type Identity struct {
	Blob        []byte
	Comment     string
	Algorithm   string
	Fingerprint string
}

// ErrNoSignature is the tombstone the agent client returns when the agent
// replies to a sign request with SSH_AGENT_FAILURE. The engine converts
// this into a sherrors.KeyMissing carrying the identity's comment.
var ErrNoSignature = errors.New("sshagent: agent declined to sign")

// Client speaks the ssh-agent protocol over a single UNIX-domain stream
// connection.
type Client struct {
	conn        net.Conn
	fingerprint FingerprintAlgorithm
}

// Dial connects to the agent named by SSH_AUTH_SOCK. Both an unset and an
// empty SSH_AUTH_SOCK fail with AgentUnreachable (fixing the original
// implementation's crash-on-unset behavior, per spec §9 Open Questions).
func Dial(fingerprint FingerprintAlgorithm) (*Client, error) {
	sockPath, ok := os.LookupEnv("SSH_AUTH_SOCK")
	if !ok || sockPath == "" {
		return nil, sherrors.New(sherrors.AgentUnreachable, "SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, sherrors.Wrapf(sherrors.AgentUnreachable, err, "connecting to ssh-agent at %q", sockPath)
	}
	return &Client{conn: conn, fingerprint: fingerprint}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// ListIdentities sends a SSH2_AGENTC_REQUEST_IDENTITIES request and returns
// the agent's reply as a slice of Identity.
func (c *Client) ListIdentities() ([]*Identity, error) {
	req := wire.NewWriter().U8(msgRequestIdentities)
	if err := req.WriteTo(c.conn); err != nil {
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}

	r := wire.NewReader(c.conn)
	if _, err := r.U32(); err != nil { // outer message length, not re-validated
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}
	msgType, err := r.U8()
	if err != nil {
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}
	if msgType != msgIdentitiesAnswer {
		return nil, sherrors.New(sherrors.ProtocolViolation, "unexpected reply type %d to list_identities", msgType)
	}

	count, err := r.U32()
	if err != nil {
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}

	identities := make([]*Identity, 0, count)
	for i := uint32(0); i < count; i++ {
		blob, err := r.String()
		if err != nil {
			return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
		}
		comment, err := r.String()
		if err != nil {
			return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
		}
		id, err := newIdentity(blob, string(comment), c.fingerprint)
		if err != nil {
			return nil, err
		}
		identities = append(identities, id)
	}
	return identities, nil
}

// newIdentity parses the algorithm name out of blob's leading
// length-prefixed field and computes the identity's fingerprint.
func newIdentity(blob []byte, comment string, algo FingerprintAlgorithm) (*Identity, error) {
	algName, err := wire.NewReader(&byteReader{blob}).String()
	if err != nil {
		return nil, sherrors.Wrapf(sherrors.ProtocolViolation, err, "parsing identity algorithm")
	}

	pk, err := ssh.ParsePublicKey(blob)
	if err != nil {
		return nil, sherrors.Wrapf(sherrors.ProtocolViolation, err, "parsing identity public key")
	}

	var fp string
	switch algo {
	case FingerprintMD5:
		fp = "MD5:" + ssh.FingerprintLegacyMD5(pk)
	default:
		fp = ssh.FingerprintSHA256(pk)
	}

	return &Identity{
		Blob:        blob,
		Comment:     comment,
		Algorithm:   string(algName),
		Fingerprint: fp,
	}, nil
}

// Sign sends a SSH2_AGENTC_SIGN_REQUEST for blob/message/flags and returns
// the raw signature bytes. If the agent declines (SSH_AGENT_FAILURE),
// ErrNoSignature is returned.
func (c *Client) Sign(blob, message []byte, flags uint32) ([]byte, error) {
	req := wire.NewWriter().U8(msgSignRequest).String(blob).String(message).U32(flags)
	if err := req.WriteTo(c.conn); err != nil {
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}

	r := wire.NewReader(c.conn)
	if _, err := r.U32(); err != nil { // outer message length, not re-validated
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}
	msgType, err := r.U8()
	if err != nil {
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}
	if msgType == msgFailure {
		return nil, ErrNoSignature
	}
	if msgType != msgSignResponse {
		return nil, sherrors.New(sherrors.ProtocolViolation, "unexpected reply type %d to sign", msgType)
	}

	// The "signature length" read here is the outer string wrapper's
	// length, not a count of anything we need: the payload is two inner
	// strings (format tag, signature bytes), per spec §9 Open Questions.
	if _, err := r.U32(); err != nil {
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}
	if _, err := r.String(); err != nil { // signature format tag, e.g. "rsa-sha2-512"
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}
	sig, err := r.String()
	if err != nil {
		return nil, sherrors.Wrap(sherrors.ProtocolViolation, err)
	}
	return sig, nil
}

// byteReader adapts a byte slice to io.Reader without pulling in
// bytes.Reader's Seek/ReadAt surface, which wire.Reader never needs.
type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, errNoMoreBytes
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

var errNoMoreBytes = errors.New("sshagent: blob exhausted")
