// Package term reports whether a file descriptor is attached to an
// interactive terminal. Trimmed from the age codebase's internal/term,
// which also drove a passphrase-prompt UI: sshovel never prompts for a
// passphrase itself (it comes from the agent's signature), so only the
// terminal-detection half of that package has a home here.
package term

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
