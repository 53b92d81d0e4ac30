// Package runtime owns a single attached pseudo-terminal per client and
// mediates byte flow between it and whatever is currently subscribed,
// preserving the last resize across reattach.
package runtime

import (
	"fmt"
	"math"
	"sync"

	"github.com/b/tmux-remote/internal/ptyproc"
)

// TerminalRuntime owns at most one ptyproc.PtyProcess at a time.
type TerminalRuntime struct {
	factory ptyproc.Factory

	mu      sync.Mutex
	session string
	proc    ptyproc.PtyProcess
	size    ptyproc.Size

	dataFn func([]byte)
	exitFn func(error)
}

// New returns a TerminalRuntime with no process attached yet.
func New(factory ptyproc.Factory) *TerminalRuntime {
	return &TerminalRuntime{factory: factory, size: ptyproc.DefaultSize}
}

// OnData registers the handler invoked for every chunk of bytes the
// currently attached process emits. Re-registered on every Attach so the
// new process's data is re-emitted through the same callback.
func (r *TerminalRuntime) OnData(handler func([]byte)) {
	r.mu.Lock()
	r.dataFn = handler
	r.mu.Unlock()
}

// OnExit registers the handler invoked when the currently attached process
// exits on its own (not via Shutdown).
func (r *TerminalRuntime) OnExit(handler func(error)) {
	r.mu.Lock()
	r.exitFn = handler
	r.mu.Unlock()
}

// Attach spawns sessionName's PTY. If sessionName is already the currently
// attached session and a process is alive, this is a no-op. Otherwise the
// current process (if any) is killed and a new one spawned, then the last
// known size is replayed.
func (r *TerminalRuntime) Attach(sessionName string) error {
	r.mu.Lock()
	if r.proc != nil && r.session == sessionName {
		r.mu.Unlock()
		return nil
	}
	prev := r.proc
	size := r.size
	r.mu.Unlock()

	if prev != nil {
		_ = prev.Kill()
	}

	proc, err := r.factory.SpawnAttach(sessionName)
	if err != nil {
		return fmt.Errorf("attach %s: %w", sessionName, err)
	}

	r.mu.Lock()
	r.session = sessionName
	r.proc = proc
	r.mu.Unlock()

	proc.OnData(func(b []byte) {
		r.mu.Lock()
		fn := r.dataFn
		r.mu.Unlock()
		if fn != nil {
			fn(b)
		}
	})
	proc.OnExit(func(err error) {
		r.mu.Lock()
		stillCurrent := r.proc == proc
		if stillCurrent {
			r.proc = nil
			r.session = ""
		}
		fn := r.exitFn
		r.mu.Unlock()
		// A proc that's no longer current was replaced by Attach (reattach to a
		// different session) or forgotten by Shutdown; either way its exit is
		// expected, not a live client's pty dying, so it must not re-emit.
		if fn != nil && stillCurrent {
			fn(err)
		}
	})
	if err := proc.Resize(size.Cols, size.Rows); err != nil {
		return fmt.Errorf("attach %s: initial resize: %w", sessionName, err)
	}
	return nil
}

// Write forwards text verbatim to the attached process. No-op if none.
func (r *TerminalRuntime) Write(text string) error {
	r.mu.Lock()
	proc := r.proc
	r.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Write([]byte(text))
}

// Resize rejects non-finite or sub-2 values; otherwise stores the truncated
// integer dimensions as last-known and applies them to the live process, if
// any.
func (r *TerminalRuntime) Resize(cols, rows float64) error {
	if math.IsNaN(cols) || math.IsInf(cols, 0) || math.IsNaN(rows) || math.IsInf(rows, 0) {
		return nil
	}
	c, rw := int(cols), int(rows)
	if c < 2 || rw < 2 {
		return nil
	}

	r.mu.Lock()
	r.size = ptyproc.Size{Cols: c, Rows: rw}
	proc := r.proc
	r.mu.Unlock()

	if proc == nil {
		return nil
	}
	return proc.Resize(c, rw)
}

// Shutdown kills the current process, if any, and forgets it.
func (r *TerminalRuntime) Shutdown() error {
	r.mu.Lock()
	proc := r.proc
	r.proc = nil
	r.session = ""
	r.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

// Session reports the currently attached session name, or "" if none.
func (r *TerminalRuntime) Session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}
