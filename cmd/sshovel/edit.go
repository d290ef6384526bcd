package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nod/sshovel"
	"github.com/nod/sshovel/armor"
	"github.com/nod/sshovel/internal/sherrors"
	"github.com/nod/sshovel/internal/sshagent"
)

// runEdit implements the edit workflow state machine (spec §9 Design
// Notes): open path in $EDITOR, then encrypt or re-encrypt the result
// depending on what path was before editing.
//
//   - path doesn't exist: edit a fresh tempfile; encrypt it into path only
//     if the editor exited zero and wrote something. --key is required for
//     this transition, since there is no existing container to recover an
//     identity from.
//   - path holds plaintext: copy it to a tempfile, edit, always re-encrypt.
//     --key is required here too.
//   - path holds a container, armored or not: decrypt it to a tempfile,
//     remembering the cipher, nonce, identity and armor state; edit;
//     re-encrypt only if changed, reusing the same nonce so the selector
//     hash (and therefore which identity can open it) doesn't move, and
//     preserving whether the file was armored. --key is not consulted: the
//     identity comes from matching the container's own selector hash.
//
// resolveIdentity is called lazily, only on the transitions that actually
// need --key, so editing an existing container never requires it.
//
// The tempfile and its containing directory are removed on every exit
// path, including a SIGINT/SIGQUIT during the editor.
func runEdit(path string, agent sshovel.Agent, resolveIdentity func() (*sshagent.Identity, error), cipherName string, armored bool) error {
	return withEditScratchDir(func(dir string) error {
		tmp := filepath.Join(dir, filepath.Base(path))

		existing, err := os.Open(path)
		switch {
		case os.IsNotExist(err):
			identity, err := resolveIdentity()
			if err != nil {
				return err
			}
			return editNewFile(tmp, path, agent, identity, cipherName, armored)
		case err != nil:
			return fmt.Errorf("opening %q: %w", path, err)
		}
		defer existing.Close()

		wasArmored, rr := armor.IsArmored(existing)
		var body io.Reader = rr
		if wasArmored {
			body = armor.NewReader(rr)
		}
		isCiphertext, rr2 := sshovel.IsEncrypted(body)
		if isCiphertext {
			return editCiphertext(tmp, path, rr2, agent, wasArmored)
		}

		identity, err := resolveIdentity()
		if err != nil {
			return err
		}
		return editPlaintext(tmp, path, rr2, agent, identity, cipherName, armored)
	})
}

// withEditScratchDir creates the edit workflow's scratch directory, runs fn
// with it, and guarantees it's removed whether fn returns normally or the
// process receives SIGINT/SIGQUIT mid-edit. Go's default disposition for
// those signals terminates the process before deferred cleanup runs, which
// would otherwise leak the directory (and its decrypted tempfile) across a
// Ctrl-C during the editor.
func withEditScratchDir(fn func(dir string) error) error {
	dir, err := os.MkdirTemp("", "sshovel-edit-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sig)

	done := make(chan error, 1)
	go func() { done <- fn(dir) }()

	select {
	case err := <-done:
		os.RemoveAll(dir)
		return err
	case s := <-sig:
		os.RemoveAll(dir)
		return sherrors.New(sherrors.Interrupted, "aborted on %s, scratch directory cleaned up", s)
	}
}

func editNewFile(tmp, path string, agent sshovel.Agent, identity *sshagent.Identity, cipherName string, armored bool) error {
	if err := runEditor(tmp); err != nil {
		// The editor itself failed to launch or exited non-zero: per the
		// NewFile transition, that means nothing gets written.
		return nil
	}
	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		return nil
	}
	return encryptTempInto(tmp, path, agent, identity, cipherName, nil, armored)
}

func editPlaintext(tmp, path string, body io.Reader, agent sshovel.Agent, identity *sshagent.Identity, cipherName string, armored bool) error {
	if err := copyToFile(tmp, body); err != nil {
		return err
	}
	_ = runEditor(tmp) // always re-encrypts, regardless of the editor's exit status
	return encryptTempInto(tmp, path, agent, identity, cipherName, nil, armored)
}

func editCiphertext(tmp, path string, body io.Reader, agent sshovel.Agent, armored bool) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}

	header, _, err := sshovel.ParseHeader(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	identity, err := sshovel.ResolveDecryptIdentity(header, agent)
	if err != nil {
		return err
	}

	var decrypted bytes.Buffer
	if err := sshovel.Decrypt(bytes.NewReader(raw), &decrypted, agent); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, decrypted.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing tempfile: %w", err)
	}

	_ = runEditor(tmp)

	edited, err := os.ReadFile(tmp)
	if err != nil {
		return fmt.Errorf("reading back tempfile: %w", err)
	}
	if bytes.Equal(edited, decrypted.Bytes()) {
		return nil
	}
	return encryptTempInto(tmp, path, agent, identity, header.CipherName, header.Nonce, armored)
}

// encryptTempInto encrypts tmp into path, optionally wrapping the output in
// armor. When nonce is non-nil, the existing container's nonce is reused so
// its selector hash doesn't move.
func encryptTempInto(tmp, path string, agent sshovel.Agent, identity *sshagent.Identity, cipherName string, nonce []byte, armored bool) error {
	in, err := os.Open(tmp)
	if err != nil {
		return fmt.Errorf("reading tempfile: %w", err)
	}
	defer in.Close()

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}
	defer out.Close()

	var w io.Writer = out
	var wc io.WriteCloser
	if armored {
		wc = armor.NewWriter(out)
		w = wc
	}

	var encErr error
	if nonce != nil {
		encErr = sshovel.EncryptWithNonce(in, w, agent, identity, cipherName, nil, nonce)
	} else {
		encErr = sshovel.Encrypt(in, w, agent, identity, cipherName, nil)
	}
	if wc != nil {
		if cerr := wc.Close(); cerr != nil && encErr == nil {
			encErr = cerr
		}
	}
	return encErr
}

func copyToFile(tmp string, src io.Reader) error {
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating tempfile: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(f, src)
	return err
}

func runEditor(path string) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "nano"
	}
	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
