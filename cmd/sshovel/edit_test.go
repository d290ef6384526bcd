package main

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/nod/sshovel"
	"github.com/nod/sshovel/armor"
	"github.com/nod/sshovel/internal/sshagent"
)

type editFakeAgent struct {
	identities []*sshagent.Identity
}

func (a *editFakeAgent) ListIdentities() ([]*sshagent.Identity, error) {
	return a.identities, nil
}

func (a *editFakeAgent) Sign(blob, message []byte, flags uint32) ([]byte, error) {
	sum := sha1.Sum(append(append([]byte{}, blob...), message...))
	return sum[:], nil
}

func installFakeOpenSSLForEdit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell available")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "openssl"), []byte("#!/bin/sh\ncat -\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// installEditor points $EDITOR at a one-line shell script, script is the
// script body (receives the edited path as $1).
func installEditor(t *testing.T, script string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-editor")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EDITOR", path)
}

func editTestIdentity() *sshagent.Identity {
	return &sshagent.Identity{Blob: []byte("blob"), Comment: "edit@test", Algorithm: "ssh-ed25519"}
}

// fixedIdentity wraps id as the lazy resolver runEdit expects, for tests
// that don't exercise --key resolution itself.
func fixedIdentity(id *sshagent.Identity) func() (*sshagent.Identity, error) {
	return func() (*sshagent.Identity, error) { return id, nil }
}

// TestEditNewFile covers S7: editing a nonexistent path with an editor that
// writes content produces an encrypted file holding that content.
func TestEditNewFile(t *testing.T) {
	installFakeOpenSSLForEdit(t)
	installEditor(t, `printf 'DATA' > "$1"`)

	id := editTestIdentity()
	agent := &editFakeAgent{identities: []*sshagent.Identity{id}}

	dir := t.TempDir()
	path := filepath.Join(dir, "newfile")
	if err := runEdit(path, agent, fixedIdentity(id), "openssl", false); err != nil {
		t.Fatalf("runEdit: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := sshovel.Decrypt(bytes.NewReader(raw), &out, agent); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if out.String() != "DATA" {
		t.Errorf("plaintext = %q, want %q", out.String(), "DATA")
	}
}

// TestEditNewFileEmptyIsNoop covers the other half of the NewFile
// transition: an editor that writes nothing leaves no file behind.
func TestEditNewFileEmptyIsNoop(t *testing.T) {
	installFakeOpenSSLForEdit(t)
	installEditor(t, `true`)

	id := editTestIdentity()
	agent := &editFakeAgent{identities: []*sshagent.Identity{id}}

	dir := t.TempDir()
	path := filepath.Join(dir, "newfile")
	if err := runEdit(path, agent, fixedIdentity(id), "openssl", false); err != nil {
		t.Fatalf("runEdit: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %q not to exist, stat err = %v", path, err)
	}
}

// TestEditPlaintextExistingAlwaysReencrypts covers S4: editing an existing
// plaintext file with an editor that appends "DATA" produces an encrypted
// file holding the original text plus "DATA". The noop-editor case (S6) is
// TestEditPlaintextNoopStillReencrypts.
func TestEditPlaintextExistingAlwaysReencrypts(t *testing.T) {
	installFakeOpenSSLForEdit(t)
	installEditor(t, `printf 'DATA' >> "$1"`)

	id := editTestIdentity()
	agent := &editFakeAgent{identities: []*sshagent.Identity{id}}

	dir := t.TempDir()
	path := filepath.Join(dir, "plain")
	if err := os.WriteFile(path, []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runEdit(path, agent, fixedIdentity(id), "openssl", false); err != nil {
		t.Fatalf("runEdit: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("HAZ.CAT/SSHOVEL")) {
		t.Fatal("expected the file to now be a shovel container")
	}
	var out bytes.Buffer
	if err := sshovel.Decrypt(bytes.NewReader(raw), &out, agent); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	want := "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789DATA"
	if out.String() != want {
		t.Errorf("plaintext = %q, want %q", out.String(), want)
	}
}

// TestEditPlaintextNoopStillReencrypts covers S6: a noop editor on a
// plaintext file still converts it to ciphertext, since going from
// plaintext to an encrypted container is itself a change.
func TestEditPlaintextNoopStillReencrypts(t *testing.T) {
	installFakeOpenSSLForEdit(t)
	installEditor(t, `true`)

	id := editTestIdentity()
	agent := &editFakeAgent{identities: []*sshagent.Identity{id}}

	dir := t.TempDir()
	path := filepath.Join(dir, "plain")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runEdit(path, agent, fixedIdentity(id), "openssl", false); err != nil {
		t.Fatalf("runEdit: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("HAZ.CAT/SSHOVEL")) {
		t.Fatal("expected the unchanged plaintext to still be re-encrypted")
	}
}

// TestEditCiphertextNoopLeavesFileUntouched covers S5: a noop editor on an
// existing container must not rewrite the file at all.
func TestEditCiphertextNoopLeavesFileUntouched(t *testing.T) {
	installFakeOpenSSLForEdit(t)

	id := editTestIdentity()
	agent := &editFakeAgent{identities: []*sshagent.Identity{id}}

	dir := t.TempDir()
	path := filepath.Join(dir, "cipher")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := sshovel.Encrypt(bytes.NewReader([]byte("original")), f, agent, id, "openssl", nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	infoBefore, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	installEditor(t, `true`)
	if err := runEdit(path, agent, fixedIdentity(id), "openssl", false); err != nil {
		t.Fatalf("runEdit: %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("noop edit on ciphertext rewrote the file")
	}
	infoAfter, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !infoAfter.ModTime().Equal(infoBefore.ModTime()) {
		t.Error("noop edit on ciphertext changed the file's modification time")
	}
}

// TestEditCiphertextChangedReusesNonce covers the CiphertextExisting ->
// re-encrypt transition, checking that the nonce (and therefore selector
// hash) is preserved across the edit.
func TestEditCiphertextChangedReusesNonce(t *testing.T) {
	installFakeOpenSSLForEdit(t)

	id := editTestIdentity()
	agent := &editFakeAgent{identities: []*sshagent.Identity{id}}

	dir := t.TempDir()
	path := filepath.Join(dir, "cipher")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := sshovel.Encrypt(bytes.NewReader([]byte("original")), f, agent, id, "openssl", nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	headerBefore, _, err := sshovel.ParseHeader(bytes.NewReader(before))
	if err != nil {
		t.Fatal(err)
	}

	installEditor(t, `printf 'DATA' >> "$1"`)
	if err := runEdit(path, agent, fixedIdentity(id), "openssl", false); err != nil {
		t.Fatalf("runEdit: %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	headerAfter, _, err := sshovel.ParseHeader(bytes.NewReader(after))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(headerBefore.Nonce, headerAfter.Nonce) {
		t.Error("re-encrypt after an edit did not reuse the original nonce")
	}

	var out bytes.Buffer
	if err := sshovel.Decrypt(bytes.NewReader(after), &out, agent); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if out.String() != "originalDATA" {
		t.Errorf("plaintext = %q, want %q", out.String(), "originalDATA")
	}
}

// TestEditCiphertextNeverResolvesKey covers the CiphertextExisting
// transition's --key independence: the identity comes from matching the
// container's own selector hash, so a resolver that would fail must never
// be invoked.
func TestEditCiphertextNeverResolvesKey(t *testing.T) {
	installFakeOpenSSLForEdit(t)

	id := editTestIdentity()
	agent := &editFakeAgent{identities: []*sshagent.Identity{id}}

	dir := t.TempDir()
	path := filepath.Join(dir, "cipher")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := sshovel.Encrypt(bytes.NewReader([]byte("original")), f, agent, id, "openssl", nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	installEditor(t, `printf 'DATA' >> "$1"`)
	failResolver := func() (*sshagent.Identity, error) {
		return nil, errors.New("--key should not have been consulted")
	}
	if err := runEdit(path, agent, failResolver, "openssl", false); err != nil {
		t.Fatalf("runEdit: %v", err)
	}
}

// TestEditArmoredCiphertextPreservesArmor covers armor detection and
// round-tripping on the edit path: an armored container, once changed,
// must be re-encrypted and re-wrapped in armor rather than misread as
// plaintext and left binary.
func TestEditArmoredCiphertextPreservesArmor(t *testing.T) {
	installFakeOpenSSLForEdit(t)

	id := editTestIdentity()
	agent := &editFakeAgent{identities: []*sshagent.Identity{id}}

	dir := t.TempDir()
	path := filepath.Join(dir, "cipher.asc")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := armor.NewWriter(f)
	if err := sshovel.Encrypt(bytes.NewReader([]byte("original")), w, agent, id, "openssl", nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	installEditor(t, `printf 'DATA' >> "$1"`)
	failResolver := func() (*sshagent.Identity, error) {
		return nil, errors.New("--key should not have been consulted")
	}
	if err := runEdit(path, agent, failResolver, "openssl", false); err != nil {
		t.Fatalf("runEdit: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte(armor.Header)) {
		t.Fatal("expected the re-encrypted file to still be armored")
	}

	armored, rr := armor.IsArmored(bytes.NewReader(raw))
	if !armored {
		t.Fatal("armor.IsArmored didn't detect the re-encrypted file")
	}
	var out bytes.Buffer
	if err := sshovel.Decrypt(armor.NewReader(rr), &out, agent); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if out.String() != "originalDATA" {
		t.Errorf("plaintext = %q, want %q", out.String(), "originalDATA")
	}
}
