// Package sherrors implements sshovel's error taxonomy: a small set of
// behavioral categories (not exhaustive types) that the CLI uses to decide
// how to report a failure and what exit code to use.
//
// The pattern mirrors internal/format.ParseError in the age codebase: a
// named error type that carries just enough structure to be categorized by
// the caller, wrapping an underlying error with %w so errors.Is/As still
// work.
package sherrors

import "fmt"

// Category groups errors by how the CLI should react to them. Every
// category other than Internal is UserError-class: a single concise line on
// stderr, no stack trace, exit 1.
type Category int

const (
	// Internal marks a programming error: something that should crash with
	// a diagnostic rather than be treated as user-facing.
	Internal Category = iota
	// AgentUnreachable: the ssh-agent socket is missing or unset, or the
	// connection to it failed.
	AgentUnreachable
	// ProtocolViolation: the agent spoke bytes the wire protocol doesn't
	// recognize: a short read, wrong message type, or truncated field.
	ProtocolViolation
	// KeyMissing: no identity matched a container's selector hash, or the
	// agent refused to sign.
	KeyMissing
	// CipherFailure: the child cipher process exited non-zero, produced
	// truncated output, or (PTY ciphers) never produced its expected
	// prompt, or hit EOF before it should have.
	CipherFailure
	// Malformed: header parse failed (magic, version, recipient count, or
	// a length field).
	Malformed
	// Interrupted: a signal-triggered abort. Cleanup still ran.
	Interrupted
	// UnknownCipher: a cipher name (from the CLI or a parsed header) has no
	// registered implementation.
	UnknownCipher
)

// Error is a categorized error. Use New or Wrap to construct one; use
// CategoryOf to read the category back out of an arbitrary error.
type Error struct {
	Category Category
	message  string
	err      error
}

func (e *Error) Error() string {
	if e.err != nil {
		if e.message == "" {
			return e.err.Error()
		}
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.err }

// New builds a categorized error from a format string, the way
// internal/format.errorf builds a ParseError.
func New(cat Category, format string, a ...interface{}) *Error {
	return &Error{Category: cat, message: fmt.Sprintf(format, a...)}
}

// Wrap attaches a category to an existing error, keeping it unwrappable.
func Wrap(cat Category, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok && e.Category == cat {
		return e
	}
	return &Error{Category: cat, err: err}
}

// Wrapf attaches a category and a message to an existing error.
func Wrapf(cat Category, err error, format string, a ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Category: cat, message: fmt.Sprintf(format, a...), err: err}
}

// CategoryOf reports the category of err, or Internal if err doesn't carry
// one.
func CategoryOf(err error) Category {
	var e *Error
	for err != nil {
		if se, ok := err.(*Error); ok {
			e = se
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return Internal
	}
	return e.Category
}

// Sentinel errors for the two PTY deadline failure modes (§4.4), always
// reported under CipherFailure.
var (
	ErrPromptTimeout = &Error{Category: CipherFailure, message: "timed out waiting for expected prompt"}
	ErrUnexpectedEOF = &Error{Category: CipherFailure, message: "child exited before producing expected prompt"}
)
