// Package broker implements the connection-and-session hub: WebSocket
// upgrades on the control and data planes, per-client runtime and mobile
// session lifecycle, and the reconnect/identity model.
package broker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/b/tmux-remote/internal/auth"
	"github.com/b/tmux-remote/internal/config"
	"github.com/b/tmux-remote/internal/gateway"
	"github.com/b/tmux-remote/internal/model"
	"github.com/b/tmux-remote/internal/ptyproc"
	"github.com/b/tmux-remote/internal/state"
)

// maxClientIDLen bounds an adopted clientId per the auth message contract.
const maxClientIDLen = 128

// Hub is the broker. One Hub serves every control and data socket for a
// process; each controlContext is an independent unit of concurrency.
type Hub struct {
	cfg     config.RuntimeConfig
	gateway gateway.Gateway
	auth    *auth.Service
	factory ptyproc.Factory
	monitor *state.Monitor
	logger  *log.Logger

	upgrader websocket.Upgrader

	mu        sync.RWMutex
	contexts  map[string]*controlContext
	reconnect map[string]*reconnectState
	stopped   bool

	httpServer *http.Server

	stopOnce sync.Once
	stopDone chan struct{}
}

// New builds a Hub. logger defaults to log.Default() if nil.
func New(cfg config.RuntimeConfig, gw gateway.Gateway, authSvc *auth.Service, factory ptyproc.Factory, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	h := &Hub{
		cfg:       cfg,
		gateway:   gw,
		auth:      authSvc,
		factory:   factory,
		logger:    logger,
		contexts:  make(map[string]*controlContext),
		reconnect: make(map[string]*reconnectState),
		stopDone:  make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	h.monitor = &state.Monitor{
		Gateway:  gw,
		Interval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		Logger:   logger,
		OnUpdate: h.broadcastState,
		OnError:  func(err error) { logger.Printf("state monitor: %v", err) },
	}
	return h
}

// AttachHTTPServer registers the HTTP server this Hub's Stop() should close
// last, once every context has been shut down.
func (h *Hub) AttachHTTPServer(srv *http.Server) {
	h.mu.Lock()
	h.httpServer = srv
	h.mu.Unlock()
}

// StartMonitor begins the background poll loop.
func (h *Hub) StartMonitor(ctx context.Context) {
	h.monitor.Start(ctx)
}

// SetPollInterval changes the state monitor's poll cadence, for config
// hot-reload.
func (h *Hub) SetPollInterval(d time.Duration) {
	h.monitor.SetInterval(d)
}

func (h *Hub) isStopped() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopped
}

// Stop is idempotent and single-flight: a second call awaits the first
// rather than repeating the work. It stops the monitor, shuts down every
// controlContext concurrently, then closes the HTTP listener.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		contexts := make([]*controlContext, 0, len(h.contexts))
		for _, c := range h.contexts {
			contexts = append(contexts, c)
		}
		srv := h.httpServer
		h.mu.Unlock()

		h.monitor.Stop()

		var wg sync.WaitGroup
		for _, c := range contexts {
			wg.Add(1)
			go func(c *controlContext) {
				defer wg.Done()
				h.shutdownControlContext(c)
			}(c)
		}
		wg.Wait()

		if srv != nil {
			_ = srv.Close()
		}
		close(h.stopDone)
	})
	<-h.stopDone
}

// HandleControl upgrades and serves the /ws/control endpoint.
func (h *Hub) HandleControl(w http.ResponseWriter, r *http.Request) {
	if h.isStopped() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("control upgrade failed: %v", err)
		return
	}
	ctx := newControlContext(conn)
	go h.controlReadLoop(ctx)
}

// HandleTerminal upgrades and serves the /ws/terminal endpoint.
func (h *Hub) HandleTerminal(w http.ResponseWriter, r *http.Request) {
	if h.isStopped() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("terminal upgrade failed: %v", err)
		return
	}
	d := newDataContext(conn)
	go h.dataReadLoop(d)
}

func (h *Hub) controlReadLoop(ctx *controlContext) {
	defer func() {
		h.shutdownControlContext(ctx)
		_ = ctx.socket.Close()
	}()

	for {
		msgType, data, err := ctx.socket.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env inboundControl
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			h.send(ctx, errorMsg{Type: "error", Message: "invalid message format"})
			continue
		}

		if !ctx.isAuthenticated() {
			if env.Type != "auth" {
				h.send(ctx, authErrorMsg{Type: "auth_error", Reason: "auth required"})
				continue
			}
			h.handleAuth(ctx, env)
			continue
		}

		h.handleControlMessage(ctx, env)
	}
}

func (h *Hub) send(ctx *controlContext, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("marshal outbound message: %v", err)
		return
	}
	ctx.sendMu.Lock()
	defer ctx.sendMu.Unlock()
	if err := ctx.socket.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Printf("write control message: %v", err)
	}
}

func (h *Hub) broadcastState(snap model.StateSnapshot) {
	h.mu.RLock()
	contexts := make([]*controlContext, 0, len(h.contexts))
	for _, c := range h.contexts {
		contexts = append(contexts, c)
	}
	h.mu.RUnlock()

	msg := tmuxStateMsg{Type: "tmux_state", State: snap}
	for _, c := range contexts {
		if c.isAuthenticated() {
			h.send(c, msg)
		}
	}
}

func generateClientID() (string, error) {
	buf := make([]byte, 12) // 96 bits
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// adoptClientID resolves the clientId policy: a non-empty trimmed id up to
// maxClientIDLen is adopted (evicting any other context already holding
// it); otherwise a fresh one is minted.
func (h *Hub) adoptClientID(requested string, ctx *controlContext) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" || len(requested) > maxClientIDLen {
		id, err := generateClientID()
		if err != nil {
			return "", err
		}
		h.registerContext(id, ctx)
		return id, nil
	}

	h.mu.Lock()
	evicted := h.contexts[requested]
	h.contexts[requested] = ctx
	h.mu.Unlock()

	if evicted != nil && evicted != ctx {
		h.evict(evicted)
	}
	return requested, nil
}

func (h *Hub) registerContext(id string, ctx *controlContext) {
	h.mu.Lock()
	h.contexts[id] = ctx
	h.mu.Unlock()
}

// evict tears down a clientId's prior context before the adopting context
// proceeds. shutdownControlContext runs synchronously here, not left to the
// evicted socket's own read-loop goroutine to get to eventually: otherwise
// its KillSession(mobile) can race past the adopting context's
// CreateGroupedSession against that same mobile name and kill the
// reconnecting client's freshly (re)attached session out from under it.
func (h *Hub) evict(ctx *controlContext) {
	h.shutdownControlContext(ctx)
	_ = ctx.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(4000, "reconnected"), deadline())
	_ = ctx.socket.Close()
}

func (h *Hub) getContext(clientID string) *controlContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.contexts[clientID]
}

func (h *Hub) getReconnect(clientID string) (reconnectState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs, ok := h.reconnect[clientID]
	if !ok {
		return reconnectState{}, false
	}
	return *rs, true
}

func (h *Hub) updateReconnect(clientID string, mutate func(*reconnectState)) {
	h.mu.Lock()
	rs, ok := h.reconnect[clientID]
	if !ok {
		rs = &reconnectState{}
		h.reconnect[clientID] = rs
	}
	mutate(rs)
	rs.updatedAt = time.Now()
	h.mu.Unlock()
}

// shutdownControlContext is invariant-complete per spec 3.3: closes bound
// data sockets, shuts down the runtime, kills the mobile session, and
// records ReconnectState. Safe to call more than once for the same context.
func (h *Hub) shutdownControlContext(ctx *controlContext) {
	ctx.mu.Lock()
	clientID := ctx.clientID
	wasAuthed := ctx.authenticated
	ctx.authenticated = false
	rt := ctx.runtime
	attached := ctx.attachedSession
	base := ctx.baseSession
	ctx.runtime = nil
	ctx.attachedSession = ""
	dataSockets := make([]*dataContext, 0, len(ctx.dataSockets))
	for d := range ctx.dataSockets {
		dataSockets = append(dataSockets, d)
	}
	ctx.dataSockets = make(map[*dataContext]struct{})
	ctx.mu.Unlock()

	for _, d := range dataSockets {
		d.mu.Lock()
		d.authenticated = false
		d.mu.Unlock()
		_ = d.socket.Close()
	}

	if rt != nil {
		if err := rt.Shutdown(); err != nil {
			h.logger.Printf("shutdown runtime for %s: %v", clientID, err)
		}
	}

	if attached != "" {
		if err := h.gateway.KillSession(context.Background(), attached); err != nil {
			h.logger.Printf("kill mobile session %s on shutdown: %v", attached, err)
		}
	}

	if wasAuthed && clientID != "" {
		h.mu.Lock()
		if h.contexts[clientID] == ctx {
			delete(h.contexts, clientID)
		}
		h.mu.Unlock()
		h.updateReconnect(clientID, func(rs *reconnectState) {
			rs.baseSession = base
		})
	}
}
