package cipher

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// installFakeScrypt puts a shell script named scrypt on PATH that mimics
// the real binary's interactive prompt shape closely enough to drive the
// ptyexpect-based cipher driver end to end: two passphrase prompts on
// "enc", one on "dec", then stdin copied verbatim to stdout.
func installFakeScrypt(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("stty"); err != nil {
		t.Skip("stty unavailable, cannot build a faithful interactive fixture")
	}

	dir := t.TempDir()
	script := `#!/bin/sh
stty -echo
case "$1" in
  enc)
    printf "passphrase: "
    IFS= read -r p1
    printf "passphrase: "
    IFS= read -r p2
    ;;
  dec)
    printf "passphrase: "
    IFS= read -r p1
    ;;
esac
stty echo
cat -
`
	path := filepath.Join(dir, "scrypt")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestScryptRoundTripPlumbing(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell available")
	}
	installFakeScrypt(t)

	c, err := Lookup("scrypt")
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	var ciphertext bytes.Buffer
	if err := c.Encrypt(bytes.NewReader(plaintext), &ciphertext, "test-passphrase"); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var roundTripped bytes.Buffer
	if err := c.Decrypt(bytes.NewReader(ciphertext.Bytes()), &roundTripped, "test-passphrase"); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(roundTripped.Bytes(), plaintext) {
		t.Errorf("round trip = %q, want %q", roundTripped.Bytes(), plaintext)
	}
}

func TestScryptMissingPromptTimesOut(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell available")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\nsleep 5\n"
	path := filepath.Join(dir, "scrypt")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	c, _ := Lookup("scrypt")
	err := c.Decrypt(bytes.NewReader([]byte("x")), new(bytes.Buffer), "pass")
	if err == nil {
		t.Fatal("expected a prompt-timeout error")
	}
}
