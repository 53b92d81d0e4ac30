package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/b/tmux-remote/internal/auth"
	"github.com/b/tmux-remote/internal/gateway"
	"github.com/b/tmux-remote/internal/model"
	"github.com/b/tmux-remote/internal/runtime"
)

// mobileSessionPrefix re-exports model.MobileSessionPrefix under the name
// used throughout this package's prose; kept as an alias, not a copy, so
// the two can never drift.
const mobileSessionPrefix = model.MobileSessionPrefix

func (h *Hub) handleAuth(ctx *controlContext, env inboundControl) {
	err := h.auth.Verify(auth.Credentials{Token: env.Token, Password: env.Password})
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, auth.ErrInvalidPassword) {
			reason = "invalid password"
		}
		h.send(ctx, authErrorMsg{Type: "auth_error", Reason: reason})
		return
	}

	clientID, err := h.adoptClientID(env.ClientID, ctx)
	if err != nil {
		h.send(ctx, authErrorMsg{Type: "auth_error", Reason: "internal error"})
		return
	}

	ctx.mu.Lock()
	ctx.authenticated = true
	ctx.clientID = clientID
	if rs, ok := h.getReconnect(clientID); ok {
		ctx.baseSession = rs.baseSession
	}
	ctx.mu.Unlock()

	h.send(ctx, authOkMsg{Type: "auth_ok", ClientID: clientID, RequiresPassword: h.auth.RequiresPassword()})

	h.ensureAttachedSession(ctx, "")

	if err := h.monitor.ForcePublish(context.Background()); err != nil {
		h.logger.Printf("force publish after auth: %v", err)
	}
}

// ensureAttachedSession implements the initial-attach policy. forceSession,
// if non-empty, is attached to directly; otherwise the existing sessions
// are inspected to decide between reconnect-memory, auto-create, sole
// candidate, or emitting a session_picker.
func (h *Hub) ensureAttachedSession(ctx *controlContext, forceSession string) {
	bgCtx := context.Background()

	if forceSession != "" {
		h.attachControlToBaseSession(ctx, forceSession)
		return
	}

	sessions, err := h.gateway.ListSessions(bgCtx)
	if err != nil {
		h.send(ctx, errorMsg{Type: "error", Message: fmt.Sprintf("list sessions: %v", err)})
		return
	}
	candidates := filterBaseSessions(sessions)

	ctx.mu.Lock()
	remembered := ctx.baseSession
	ctx.mu.Unlock()

	if remembered != "" && containsSession(candidates, remembered) {
		h.attachControlToBaseSession(ctx, remembered)
		return
	}

	switch len(candidates) {
	case 0:
		if err := h.gateway.CreateSession(bgCtx, h.cfg.DefaultSession); err != nil {
			h.send(ctx, errorMsg{Type: "error", Message: fmt.Sprintf("create default session: %v", err)})
			return
		}
		h.attachControlToBaseSession(ctx, h.cfg.DefaultSession)
	case 1:
		h.attachControlToBaseSession(ctx, candidates[0].Name)
	default:
		h.send(ctx, sessionPickerMsg{Type: "session_picker", Sessions: candidates})
	}
}

func filterBaseSessions(sessions []model.SessionSummary) []model.SessionSummary {
	out := make([]model.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		if !strings.HasPrefix(s.Name, mobileSessionPrefix) {
			out = append(out, s)
		}
	}
	return out
}

func containsSession(sessions []model.SessionSummary, name string) bool {
	for _, s := range sessions {
		if s.Name == name {
			return true
		}
	}
	return false
}

// attachControlToBaseSession implements the grouped-session attach
// described in spec section 4.6: compute the mobile session name, create or
// reuse it against base, attach the runtime, and best-effort restore the
// remembered pane/zoom state.
func (h *Hub) attachControlToBaseSession(ctx *controlContext, base string) {
	bgCtx := context.Background()

	ctx.mu.Lock()
	clientID := ctx.clientID
	ctx.mu.Unlock()
	mobile := model.MobileSessionName(clientID)

	sessions, err := h.gateway.ListSessions(bgCtx)
	if err != nil {
		h.send(ctx, errorMsg{Type: "error", Message: fmt.Sprintf("attach: %v", err)})
		return
	}

	ctx.mu.Lock()
	priorBase := ctx.baseSession
	ctx.mu.Unlock()

	mobileExists := containsSession(sessions, mobile)
	if mobileExists && priorBase != base {
		if err := h.gateway.KillSession(bgCtx, mobile); err != nil {
			h.logger.Printf("kill stale mobile session %s: %v", mobile, err)
		}
		mobileExists = false
	}
	if !mobileExists {
		if err := h.gateway.CreateGroupedSession(bgCtx, mobile, base); err != nil {
			h.send(ctx, errorMsg{Type: "error", Message: fmt.Sprintf("attach %s: %v", base, err)})
			return
		}
	}

	ctx.mu.Lock()
	ctx.baseSession = base
	ctx.attachedSession = mobile
	if ctx.runtime == nil {
		ctx.runtime = runtime.New(h.factory)
		ctx.runtime.OnData(func(data []byte) { h.fanOutData(ctx, data) })
		ctx.runtime.OnExit(func(err error) { h.onRuntimeExit(ctx) })
	}
	rt := ctx.runtime
	ctx.mu.Unlock()

	h.updateReconnect(clientID, func(rs *reconnectState) {
		rs.baseSession = base
	})

	if err := rt.Attach(mobile); err != nil {
		h.send(ctx, errorMsg{Type: "error", Message: fmt.Sprintf("attach %s: %v", mobile, err)})
		return
	}

	h.restoreReconnectState(ctx, clientID)

	h.send(ctx, attachedMsg{Type: "attached", Session: mobile})
}

func (h *Hub) restoreReconnectState(ctx *controlContext, clientID string) {
	rs, ok := h.getReconnect(clientID)
	if !ok || rs.paneID == "" {
		return
	}
	bgCtx := context.Background()
	if err := h.gateway.SelectPane(bgCtx, rs.paneID); err != nil {
		h.logger.Printf("restore selected pane %s: %v", rs.paneID, err)
		return
	}
	zoomed, err := h.gateway.IsPaneZoomed(bgCtx, rs.paneID)
	if err != nil {
		h.logger.Printf("restore zoom query %s: %v", rs.paneID, err)
		return
	}
	if zoomed != rs.zoomed {
		if err := h.gateway.ZoomPane(bgCtx, rs.paneID); err != nil {
			h.logger.Printf("restore zoom toggle %s: %v", rs.paneID, err)
		}
	}
}

func (h *Hub) fanOutData(ctx *controlContext, data []byte) {
	for _, d := range ctx.boundDataSockets() {
		d.sendMu.Lock()
		err := d.socket.WriteMessage(websocket.BinaryMessage, data)
		d.sendMu.Unlock()
		if err != nil {
			h.logger.Printf("write data socket: %v", err)
		}
	}
}

func (h *Hub) onRuntimeExit(ctx *controlContext) {
	h.send(ctx, infoMsg{Type: "info", Message: "tmux client exited"})
}

// handleControlMessage dispatches one already-authenticated control
// message, always force-publishing afterward regardless of the handler's
// outcome.
func (h *Hub) handleControlMessage(ctx *controlContext, env inboundControl) {
	switch env.Type {
	case "select_session":
		h.attachControlToBaseSession(ctx, env.Session)
	case "new_session":
		if err := h.gateway.CreateSession(context.Background(), env.Name); err != nil {
			h.send(ctx, errorMsg{Type: "error", Message: err.Error()})
			break
		}
		h.attachControlToBaseSession(ctx, env.Name)
	case "new_window":
		h.withAttachedSession(ctx, func(session string) error {
			return h.gateway.NewWindow(context.Background(), session)
		})
	case "select_window":
		h.withAttachedSession(ctx, func(session string) error {
			return h.gateway.SelectWindow(context.Background(), session, env.WindowIndex)
		})
	case "kill_window":
		h.withAttachedSession(ctx, func(session string) error {
			return h.gateway.KillWindow(context.Background(), session, env.WindowIndex)
		})
	case "select_pane":
		h.withAttachedSession(ctx, func(session string) error {
			err := h.gateway.SelectPane(context.Background(), env.PaneID)
			if err == nil {
				ctx.mu.Lock()
				clientID := ctx.clientID
				ctx.mu.Unlock()
				h.updateReconnect(clientID, func(rs *reconnectState) { rs.paneID = env.PaneID })
			}
			return err
		})
	case "split_pane":
		h.withAttachedSession(ctx, func(session string) error {
			return h.gateway.SplitWindow(context.Background(), env.PaneID, env.Orientation)
		})
	case "kill_pane":
		h.withAttachedSession(ctx, func(session string) error {
			return h.gateway.KillPane(context.Background(), env.PaneID)
		})
	case "zoom_pane":
		h.withAttachedSession(ctx, func(session string) error {
			err := h.gateway.ZoomPane(context.Background(), env.PaneID)
			if err == nil {
				ctx.mu.Lock()
				clientID := ctx.clientID
				ctx.mu.Unlock()
				h.updateReconnect(clientID, func(rs *reconnectState) { rs.zoomed = !rs.zoomed })
			}
			return err
		})
	case "capture_scrollback":
		h.handleCaptureScrollback(ctx, env)
	case "send_compose":
		h.handleSendCompose(ctx, env)
	case "auth":
		// already authenticated; ignored per spec.
	default:
		h.send(ctx, errorMsg{Type: "error", Message: "invalid message format"})
	}

	if err := h.monitor.ForcePublish(context.Background()); err != nil {
		h.logger.Printf("force publish after mutation: %v", err)
	}
}

// withAttachedSession runs fn with the context's attachedSession, replying
// with the "no attached session" error if none is set.
func (h *Hub) withAttachedSession(ctx *controlContext, fn func(session string) error) {
	ctx.mu.Lock()
	session := ctx.attachedSession
	ctx.mu.Unlock()
	if session == "" {
		h.send(ctx, errorMsg{Type: "error", Message: "no attached session"})
		return
	}
	if err := fn(session); err != nil {
		if !errors.Is(err, gateway.ErrNoServer) {
			h.send(ctx, errorMsg{Type: "error", Message: err.Error()})
		}
	}
}

func (h *Hub) handleCaptureScrollback(ctx *controlContext, env inboundControl) {
	lines := env.Lines
	if lines <= 0 {
		lines = h.cfg.ScrollbackLines
	}
	text, err := h.gateway.CapturePane(context.Background(), env.PaneID, lines)
	if err != nil {
		h.send(ctx, errorMsg{Type: "error", Message: err.Error()})
		return
	}
	h.send(ctx, scrollbackMsg{Type: "scrollback", PaneID: env.PaneID, Text: text, Lines: lines})
}

func (h *Hub) handleSendCompose(ctx *controlContext, env inboundControl) {
	ctx.mu.Lock()
	rt := ctx.runtime
	ctx.mu.Unlock()
	if rt == nil {
		h.send(ctx, errorMsg{Type: "error", Message: "no attached session"})
		return
	}
	if err := rt.Write(env.Text + "\r"); err != nil {
		h.send(ctx, errorMsg{Type: "error", Message: err.Error()})
	}
}
