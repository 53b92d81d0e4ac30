// Package ptyproc spawns an attach-session child under a pseudo-terminal and
// exposes byte I/O, resize, and exit notification.
package ptyproc

// Size is the terminal dimensions applied at spawn or on resize.
type Size struct {
	Cols int
	Rows int
}

// DefaultSize is applied when a process is spawned without an explicit size.
var DefaultSize = Size{Cols: 80, Rows: 24}

// PtyProcess is a single spawned child attached to a pseudo-terminal.
type PtyProcess interface {
	Write(data []byte) error
	Resize(cols, rows int) error
	OnData(handler func([]byte))
	OnExit(handler func(err error))
	Kill() error
}

// Factory spawns PtyProcess instances. sessionName is passed as a distinct
// argument, never interpolated into a shell command line.
type Factory interface {
	SpawnAttach(sessionName string) (PtyProcess, error)
}
