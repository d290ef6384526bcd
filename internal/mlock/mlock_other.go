//go:build !linux

package mlock

// Try is a no-op on platforms without mlockall(2).
func Try() error { return nil }
