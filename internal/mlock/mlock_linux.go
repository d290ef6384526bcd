// Package mlock makes a best-effort attempt to lock the process's memory
// pages in RAM, so the derived passphrase (§5: "the passphrase is never
// held longer than necessary in process memory") is less likely to be
// swapped out.
//
// Adapted from internal/mlockall/mlockall_linux.go in the age codebase.
// Unlike age, which holds long-lived X25519/RSA secret keys and treats a
// locking failure as fatal, sshovel only holds a transient derived
// passphrase: a missing CAP_IPC_LOCK (common in unprivileged containers)
// shouldn't prevent the tool from running, so failure here is a warning,
// not a fatal error.
package mlock

import "syscall"

// Try locks the process's memory pages and reports whether it succeeded.
func Try() error {
	return syscall.Mlockall(syscall.MCL_CURRENT | syscall.MCL_FUTURE)
}
