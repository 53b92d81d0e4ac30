package ptyproc

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// strippedEnvPrefixes names the variables removed from the child's
// environment (exact names, matched as "NAME="). It mirrors the gateway's
// env hygiene: a broker running
// inside the multiplexer it controls must not leak its own session identity
// into the children it spawns.
var strippedEnvPrefixes = []string{"TMUX", "TMUX_PANE"}

// CreackFactory spawns real PTY-backed processes via github.com/creack/pty.
type CreackFactory struct {
	// Bin is the multiplexer executable name or path. Defaults to "tmux".
	Bin string
}

func (f *CreackFactory) bin() string {
	if f.Bin != "" {
		return f.Bin
	}
	return "tmux"
}

func (f *CreackFactory) SpawnAttach(sessionName string) (PtyProcess, error) {
	cmd := exec.Command(f.bin(), "attach-session", "-t", sessionName)
	cmd.Env = strippedEnviron()
	cmd.WaitDelay = 5 * time.Second

	size := &pty.Winsize{Cols: uint16(DefaultSize.Cols), Rows: uint16(DefaultSize.Rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("spawn attach %s: %w", sessionName, err)
	}

	p := &creackProcess{cmd: cmd, ptmx: ptmx}
	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

func strippedEnviron() []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, kv := range env {
		stripped := false
		for _, prefix := range strippedEnvPrefixes {
			if strings.HasPrefix(kv, prefix+"=") {
				stripped = true
				break
			}
		}
		if !stripped {
			out = append(out, kv)
		}
	}
	return out
}

type creackProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu         sync.Mutex
	dataFn     func([]byte)
	exitFn     func(error)
	exitCalled bool
	killed     bool
}

func (p *creackProcess) Write(data []byte) error {
	_, err := p.ptmx.Write(data)
	return err
}

func (p *creackProcess) Resize(cols, rows int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (p *creackProcess) OnData(handler func([]byte)) {
	p.mu.Lock()
	p.dataFn = handler
	p.mu.Unlock()
}

func (p *creackProcess) OnExit(handler func(error)) {
	p.mu.Lock()
	p.exitFn = handler
	p.mu.Unlock()
}

func (p *creackProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *creackProcess) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.mu.Lock()
			fn := p.dataFn
			p.mu.Unlock()
			if fn != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				fn(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *creackProcess) waitLoop() {
	err := p.cmd.Wait()
	_ = p.ptmx.Close()
	p.mu.Lock()
	fn := p.exitFn
	alreadyCalled := p.exitCalled
	killed := p.killed
	p.exitCalled = true
	p.mu.Unlock()
	if fn != nil && !alreadyCalled && !killed {
		fn(err)
	}
}

var _ Factory = (*CreackFactory)(nil)
var _ PtyProcess = (*creackProcess)(nil)
