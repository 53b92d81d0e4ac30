package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/b/tmux-remote/internal/auth"
	"github.com/b/tmux-remote/internal/config"
	"github.com/b/tmux-remote/internal/gateway"
	"github.com/b/tmux-remote/internal/model"
	"github.com/b/tmux-remote/internal/ptyproc"
)

// fakeGateway is a minimal in-memory multiplexer: sessions are just names in
// a set, CreateSession, CreateGroupedSession and KillSession maintain it,
// ZoomPane toggles a per-pane flag that IsPaneZoomed reports, and every
// other mutation is a no-op success. Good enough to drive the broker's attach and
// session-picker logic without a real tmux binary.
type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]bool
	zoomed   map[string]bool
}

func newFakeGateway(base ...string) *fakeGateway {
	g := &fakeGateway{sessions: make(map[string]bool), zoomed: make(map[string]bool)}
	for _, b := range base {
		g.sessions[b] = true
	}
	return g
}

func (g *fakeGateway) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.SessionSummary, 0, len(g.sessions))
	for name := range g.sessions {
		out = append(out, model.SessionSummary{Name: name})
	}
	return out, nil
}

func (g *fakeGateway) ListWindows(ctx context.Context, session string) ([]gateway.WindowRecord, error) {
	return nil, nil
}

func (g *fakeGateway) ListPanes(ctx context.Context, session string, windowIndex int) ([]model.PaneState, error) {
	return nil, nil
}

func (g *fakeGateway) CreateSession(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[name] = true
	return nil
}

func (g *fakeGateway) CreateGroupedSession(ctx context.Context, name, targetSession string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.sessions[targetSession] {
		return fmt.Errorf("no such session: %s", targetSession)
	}
	g.sessions[name] = true
	return nil
}

func (g *fakeGateway) KillSession(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, name)
	return nil
}

func (g *fakeGateway) SwitchClient(ctx context.Context, session string) error { return nil }
func (g *fakeGateway) NewWindow(ctx context.Context, session string) error    { return nil }
func (g *fakeGateway) KillWindow(ctx context.Context, session string, w int) error {
	return nil
}
func (g *fakeGateway) SelectWindow(ctx context.Context, session string, w int) error {
	return nil
}
func (g *fakeGateway) SplitWindow(ctx context.Context, paneID, orientation string) error {
	return nil
}
func (g *fakeGateway) KillPane(ctx context.Context, paneID string) error { return nil }
func (g *fakeGateway) SelectPane(ctx context.Context, paneID string) error {
	return nil
}
func (g *fakeGateway) ZoomPane(ctx context.Context, paneID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.zoomed[paneID] = !g.zoomed[paneID]
	return nil
}
func (g *fakeGateway) IsPaneZoomed(ctx context.Context, paneID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.zoomed[paneID], nil
}
func (g *fakeGateway) CapturePane(ctx context.Context, paneID string, lines int) (string, error) {
	return "line1\nline2\n", nil
}

var _ gateway.Gateway = (*fakeGateway)(nil)

// fakePtyProc and fakePtyFactory stand in for a real creack/pty process, the
// same shape as the doubles runtime's own tests use. OnData's handler is
// retained so a test can call Emit to simulate the attached session
// producing output, driving bytes through fanOutData the same way a real
// pty would.
type fakePtyProc struct {
	mu     sync.Mutex
	writes [][]byte
	dataFn func([]byte)
}

func (p *fakePtyProc) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, append([]byte(nil), data...))
	return nil
}
func (p *fakePtyProc) Resize(cols, rows int) error { return nil }
func (p *fakePtyProc) OnData(handler func([]byte)) {
	p.mu.Lock()
	p.dataFn = handler
	p.mu.Unlock()
}
func (p *fakePtyProc) OnExit(handler func(err error)) {}
func (p *fakePtyProc) Kill() error                    { return nil }

// Emit simulates the underlying process producing output.
func (p *fakePtyProc) Emit(data []byte) {
	p.mu.Lock()
	fn := p.dataFn
	p.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

type fakePtyFactory struct {
	mu    sync.Mutex
	procs map[string]*fakePtyProc
}

func newFakePtyFactory() *fakePtyFactory {
	return &fakePtyFactory{procs: make(map[string]*fakePtyProc)}
}

func (f *fakePtyFactory) SpawnAttach(sessionName string) (ptyproc.PtyProcess, error) {
	p := &fakePtyProc{}
	f.mu.Lock()
	f.procs[sessionName] = p
	f.mu.Unlock()
	return p, nil
}

func (f *fakePtyFactory) procFor(sessionName string) *fakePtyProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[sessionName]
}

var _ ptyproc.Factory = (*fakePtyFactory)(nil)

func testHub(t *testing.T, gw gateway.Gateway, token, password string) (*Hub, *httptest.Server) {
	t.Helper()
	h, srv, _ := testHubWithFactory(t, gw, token, password)
	return h, srv
}

func testHubWithFactory(t *testing.T, gw gateway.Gateway, token, password string) (*Hub, *httptest.Server, *fakePtyFactory) {
	t.Helper()
	cfg := config.RuntimeConfig{
		DefaultSession:  "main",
		ScrollbackLines: 100,
		PollIntervalMs:  24 * 60 * 60 * 1000, // effectively disabled for the test
	}
	authSvc := auth.New(token, password)
	logger := log.New(io.Discard, "", 0)
	factory := newFakePtyFactory()
	h := New(cfg, gw, authSvc, factory, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/control", h.HandleControl)
	mux.HandleFunc("/ws/terminal", h.HandleTerminal)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		h.Stop()
		srv.Close()
	})
	return h, srv, factory
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

// nextNonState returns the next message on conn that is not a tmux_state
// broadcast, or the read error that ends the stream. The hub force-publishes
// state after auth and after every control message, and those broadcasts
// are not ordered relative to replies.
func nextNonState(conn *websocket.Conn) ([]byte, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Type == "tmux_state" {
			continue
		}
		return data, nil
	}
}

// readReply is readJSON for the next message that is not a tmux_state
// broadcast.
func readReply(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := nextNonState(conn)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func writeJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

type envelope struct {
	Type string `json:"type"`
}
