// Package ptyexpect drives an interactive child process under a
// pseudo-terminal: wait for an expected prompt with a deadline, send a
// response, pump bytes through in bulk, and collect the exit status.
//
// PTY allocation is grounded on
// postalsys-Muti-Metroo/internal/shell/pty_unix.go's use of
// github.com/creack/pty (pty.StartWithSize / pty.Setsize) to spawn a child
// under a controlling terminal. The deadline-driven read loop replaces that
// file's goroutine-and-channel Wait() plumbing with SetReadDeadline polling,
// since sshovel's PTY use is single-shot and latency-insensitive (spec's own
// substitute for raw O_NONBLOCK + sleep(100ms)).
package ptyexpect

import (
	"bytes"
	"errors"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/nod/sshovel/internal/sherrors"
)

// State is the expect session's lifecycle stage.
type State int

const (
	Spawned State = iota
	PromptWait
	Driving
	Finished
	Error
)

// pollInterval bounds how long a single read waits before the deadline is
// rechecked. It trades a little latency for never blocking past the
// caller's overall timeout.
const pollInterval = 100 * time.Millisecond

// Session is a child process running under a pseudo-terminal, driven
// through the Spawned -> PromptWait -> Driving -> Finished states.
type Session struct {
	ptmx      fileLike
	cmd       *exec.Cmd
	state     State
	buf       []byte
	exitCode  int
	finishErr error
}

// fileLike is the subset of *os.File that ptyexpect needs: Read, Write, and
// a read deadline for the polling loop.
type fileLike interface {
	io.Reader
	io.Writer
	SetReadDeadline(time.Time) error
}

// Spawn starts name with args under a freshly allocated pseudo-terminal.
func Spawn(name string, args ...string) (*Session, error) {
	cmd := exec.Command(name, args...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, sherrors.Wrapf(sherrors.CipherFailure, err, "spawning %s under a pty", name)
	}
	return &Session{ptmx: ptmx, cmd: cmd, state: Spawned}, nil
}

// Expect reads from the terminal, accumulating into an internal buffer,
// until phrase appears as a substring, the deadline elapses
// (ErrPromptTimeout), or the terminal yields EOF (ErrUnexpectedEOF). A
// successful match discards the accumulated buffer and transitions to
// Driving.
func (s *Session) Expect(phrase string, timeout time.Duration) error {
	s.state = PromptWait
	deadline := time.Now().Add(timeout)
	needle := []byte(phrase)
	chunk := make([]byte, 4096)

	for {
		if bytes.Contains(s.buf, needle) {
			s.buf = nil
			s.state = Driving
			return nil
		}
		if time.Now().After(deadline) {
			s.state = Error
			return sherrors.ErrPromptTimeout
		}

		s.ptmx.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := s.ptmx.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			s.state = Error
			return sherrors.ErrUnexpectedEOF
		}
	}
}

// Send writes b to the terminal.
func (s *Session) Send(b []byte) error {
	_, err := s.ptmx.Write(b)
	return err
}

// Read and Write let a Session stand in directly as either side of Copy, so
// callers can pump bytes between the terminal and an input or output
// stream without reaching into unexported fields.
func (s *Session) Read(p []byte) (int, error)  { return s.ptmx.Read(p) }
func (s *Session) Write(p []byte) (int, error) { return s.ptmx.Write(p) }

// SetReadDeadline passes through to the pty master so Session itself
// satisfies the deadline interface Copy polls on.
func (s *Session) SetReadDeadline(t time.Time) error { return s.ptmx.SetReadDeadline(t) }

// Copy pumps bytes from src to dst until src reaches EOF, capped by
// timeout. When src supports read deadlines (the pty master does), it is
// polled the same way Expect is; otherwise a plain io.Copy runs to
// completion and the deadline is not enforced mid-copy.
func Copy(dst io.Writer, src io.Reader, timeout time.Duration) error {
	deadliner, ok := src.(interface{ SetReadDeadline(time.Time) error })
	if !ok {
		_, err := io.Copy(dst, src)
		return err
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 32*1024)
	for {
		if time.Now().After(deadline) {
			return sherrors.ErrPromptTimeout
		}
		deadliner.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			// A pty master reports the child's end of output as EIO on
			// Linux rather than io.EOF.
			if err == io.EOF || errors.Is(err, syscall.EIO) {
				return nil
			}
			return err
		}
	}
}

// Finish closes the terminal, waits for the child, and returns its exit
// code.
func (s *Session) Finish() (int, error) {
	if s.state == Finished {
		return s.exitCode, s.finishErr
	}

	s.ptmx.(interface{ Close() error }).Close()
	err := s.cmd.Wait()
	s.state = Finished

	switch {
	case err == nil:
		s.exitCode, s.finishErr = 0, nil
	case isExitError(err):
		s.exitCode, s.finishErr = err.(*exec.ExitError).ExitCode(), nil
	default:
		s.exitCode, s.finishErr = -1, err
	}
	return s.exitCode, s.finishErr
}

func isExitError(err error) bool {
	_, ok := err.(*exec.ExitError)
	return ok
}

// State reports the session's current lifecycle stage.
func (s *Session) State() State { return s.state }

func isTimeout(err error) bool {
	te, ok := err.(interface{ Timeout() bool })
	return ok && te.Timeout()
}
