// Package logger provides sshovel's single-line stderr error reporting
// (spec §7: deep code never prints; the top level prints one concise line).
package logger

import (
	"log"
	"os"
)

type Logger struct {
	ll *log.Logger
	// If TestOnlyPanicInsteadOfExit is true, Exit sets TestOnlyDidExit and
	// panics with the code instead of calling os.Exit, so a TestMain wrapper
	// can recover the panic and assert on the exit code without forking a
	// subprocess for every CLI test case.
	TestOnlyPanicInsteadOfExit bool
	TestOnlyDidExit            bool
}

var Global = &Logger{ll: log.New(os.Stderr, "", 0)}

func (l *Logger) Exit(code int) {
	if l.TestOnlyPanicInsteadOfExit {
		l.TestOnlyDidExit = true
		panic(code)
	}
	os.Exit(code)
}

func (l *Logger) Printf(format string, v ...interface{}) {
	l.ll.Printf("sshovel: "+format, v...)
}

// Errorf reports a UserError-class failure and exits 1.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.Printf("error: "+format, v...)
	l.Exit(1)
}

func (l *Logger) Warningf(format string, v ...interface{}) {
	l.Printf("warning: "+format, v...)
}

// ErrorWithHint reports a failure followed by one or more hint lines, then
// exits 1.
func (l *Logger) ErrorWithHint(error string, hints ...string) {
	l.Printf("error: %s", error)
	for _, hint := range hints {
		l.Printf("hint: %s", hint)
	}
	l.Exit(1)
}
