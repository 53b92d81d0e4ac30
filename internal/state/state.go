// Package state polls the gateway for the multiplexer's session tree,
// detects changes against the last published snapshot, and broadcasts
// updates, with a force-publish path that bypasses equality suppression.
package state

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/b/tmux-remote/internal/gateway"
	"github.com/b/tmux-remote/internal/model"
)

// DefaultInterval is the polling cadence when Monitor.Interval is unset.
const DefaultInterval = 2500 * time.Millisecond

// Monitor polls a gateway.Gateway on an interval, publishing a
// model.StateSnapshot to OnUpdate whenever the sessions sequence changes,
// plus on demand via ForcePublish. The next tick is only scheduled after
// the previous one resolves, so polls never overlap.
type Monitor struct {
	Gateway  gateway.Gateway
	Interval time.Duration
	OnUpdate func(model.StateSnapshot)
	OnError  func(error)
	Logger   *log.Logger

	mu              sync.Mutex
	generation      uint64
	lastFingerprint string
	started         bool

	resetCh chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func (m *Monitor) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Interval > 0 {
		return m.Interval
	}
	return DefaultInterval
}

// SetInterval changes the poll cadence. Takes effect on the next
// reschedule — immediately if the monitor is idle between ticks, at most
// one in-flight tick late otherwise.
func (m *Monitor) SetInterval(d time.Duration) {
	m.mu.Lock()
	m.Interval = d
	resetCh := m.resetCh
	m.mu.Unlock()
	if resetCh != nil {
		select {
		case resetCh <- struct{}{}:
		default:
		}
	}
}

func (m *Monitor) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Default()
}

// Start begins the poll loop. Calls after the first are no-ops, including
// after Stop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.resetCh = make(chan struct{}, 1)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(runCtx)
}

// Stop cancels the poll loop. In-flight ticks will not deliver further
// OnUpdate calls after this returns. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	started := m.started
	m.mu.Unlock()
	if !started || cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	timer := time.NewTimer(m.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.resetCh:
			timer.Reset(m.interval())
		case <-timer.C:
			m.tick(ctx)
			timer.Reset(m.interval())
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	snap, err := m.capture(ctx)
	if err != nil {
		if m.OnError != nil {
			m.OnError(err)
		} else {
			m.logger().Printf("state monitor tick: %v", err)
		}
		return
	}

	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if gen != m.generation {
		// A forcePublish advanced the generation while this tick's gateway
		// calls were in flight. The build-time generation no longer matches;
		// this snapshot is stale and must be dropped.
		m.mu.Unlock()
		return
	}
	fp := snap.Fingerprint()
	changed := fp != m.lastFingerprint
	if changed {
		m.lastFingerprint = fp
	}
	m.mu.Unlock()

	if changed && m.OnUpdate != nil {
		m.OnUpdate(snap)
	}
}

// ForcePublish captures a fresh snapshot, unconditionally updates the
// fingerprint, and delivers it to OnUpdate — unless another ForcePublish
// call advanced the generation counter while this one's capture was in
// flight, in which case the snapshot is dropped and not delivered. Errors
// from the capture are returned to the caller, not swallowed.
func (m *Monitor) ForcePublish(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	myGen := m.generation
	m.mu.Unlock()

	snap, err := m.capture(ctx)
	if err != nil {
		return fmt.Errorf("force publish: %w", err)
	}

	m.mu.Lock()
	stillLatest := myGen == m.generation
	if stillLatest {
		m.lastFingerprint = snap.Fingerprint()
	}
	m.mu.Unlock()

	if !stillLatest {
		return nil
	}

	if m.OnUpdate != nil {
		m.OnUpdate(snap)
	}

	if m.resetCh != nil {
		select {
		case m.resetCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *Monitor) capture(ctx context.Context) (model.StateSnapshot, error) {
	summaries, err := m.Gateway.ListSessions(ctx)
	if err != nil {
		return model.StateSnapshot{}, fmt.Errorf("capture: %w", err)
	}

	sessions := make([]model.SessionState, 0, len(summaries))
	for _, summary := range summaries {
		windows, err := m.Gateway.ListWindows(ctx, summary.Name)
		if err != nil {
			return model.StateSnapshot{}, fmt.Errorf("capture %s: %w", summary.Name, err)
		}
		windowStates := make([]model.WindowState, 0, len(windows))
		for _, w := range windows {
			panes, err := m.Gateway.ListPanes(ctx, summary.Name, w.Index)
			if err != nil {
				return model.StateSnapshot{}, fmt.Errorf("capture %s:%d: %w", summary.Name, w.Index, err)
			}
			windowStates = append(windowStates, model.WindowState{
				Index:     w.Index,
				Name:      w.Name,
				Active:    w.Active,
				Zoomed:    windowZoomed(panes),
				PaneCount: w.PaneCount,
				Panes:     panes,
			})
		}
		sessions = append(sessions, model.SessionState{
			SessionSummary: summary,
			Windows:        windowStates,
		})
	}

	return model.StateSnapshot{
		Sessions:   sessions,
		CapturedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func windowZoomed(panes []model.PaneState) bool {
	for _, p := range panes {
		if p.Active {
			return p.Zoomed
		}
	}
	return false
}
