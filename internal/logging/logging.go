// Package logging builds the shared *log.Logger instance passed into the
// broker, which also hands it to its state monitor. The gateway and runtime
// packages take no logger.
package logging

import (
	"io"
	"log"
	"os"
)

// New builds a *log.Logger with a bracketed prefix writing to w (os.Stderr
// if nil), timestamped to microsecond precision.
func New(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.New(w, "["+prefix+"] ", log.LstdFlags|log.Lmicroseconds)
}

// Open opens path for append, creating it if necessary, for use with
// --log-file. Callers are responsible for closing the returned file.
func Open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}
