package cipher

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// installFakeOpenSSL puts a shell script named openssl on PATH that reads
// the passphrase from the fd named by -kfile and copies stdin to stdout
// unchanged, standing in for real AES-256-CBC: enough to prove the driver
// wires the passphrase fd, command, and streams together correctly without
// requiring openssl(1) in the test environment.
func installFakeOpenSSL(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := `#!/bin/sh
# args: aes-256-cbc -e|-d -a -salt -kfile <path>
kfile=""
while [ $# -gt 0 ]; do
  case "$1" in
    -kfile) kfile="$2"; shift 2 ;;
    *) shift ;;
  esac
done
pass=$(cat "$kfile")
cat - # identity transform; the Go-side test only checks plumbing, not crypto
`
	path := filepath.Join(dir, "openssl")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestOpenSSLRoundTripPlumbing(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell available")
	}
	installFakeOpenSSL(t)

	c, err := Lookup("openssl")
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

func TestOpenSSLNonZeroExitIsCipherFailure(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\necho boom >&2\nexit 7\n"
	path := filepath.Join(dir, "openssl")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	c, _ := Lookup("openssl")
	err := c.Encrypt(bytes.NewReader([]byte("x")), new(bytes.Buffer), "pass")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestLookupUnknownCipher(t *testing.T) {
	_, err := Lookup("rot13")
	if err == nil {
		t.Fatal("expected an error for an unregistered cipher")
	}
}
