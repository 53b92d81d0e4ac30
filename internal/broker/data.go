package broker

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/b/tmux-remote/internal/auth"
)

func deadline() time.Time {
	return time.Now().Add(time.Second)
}

// dataReadLoop serves one /ws/terminal socket. Before auth, only a text
// JSON auth message is accepted; anything else closes with 4001. After
// auth, binary or non-JSON text frames are raw PTY input; a well-formed
// JSON resize message is consumed instead of forwarded.
func (h *Hub) dataReadLoop(d *dataContext) {
	defer func() {
		h.unbindDataSocket(d)
		_ = d.socket.Close()
	}()

	for {
		msgType, data, err := d.socket.ReadMessage()
		if err != nil {
			return
		}

		d.mu.Lock()
		authed := d.authenticated
		control := d.control
		d.mu.Unlock()

		if !authed {
			if msgType == websocket.BinaryMessage {
				h.closeData(d, 4001, "auth required")
				return
			}
			if !h.tryDataAuth(d, data) {
				h.closeData(d, 4001, "unauthorized")
				return
			}
			continue
		}

		if msgType == websocket.BinaryMessage {
			if err := control.runtimeWrite(data); err != nil {
				h.logger.Printf("write pty input: %v", err)
			}
			continue
		}

		if len(data) > 0 && data[0] == '{' {
			var resize dataResizeMsg
			if err := json.Unmarshal(data, &resize); err == nil && resize.Type == "resize" {
				if err := control.runtimeResize(resize.Cols, resize.Rows); err != nil {
					h.logger.Printf("resize: %v", err)
				}
				continue
			}
		}

		if err := control.runtimeWrite(data); err != nil {
			h.logger.Printf("write pty input: %v", err)
		}
	}
}

func (c *controlContext) runtimeWrite(data []byte) error {
	c.mu.Lock()
	rt := c.runtime
	c.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Write(string(data))
}

func (c *controlContext) runtimeResize(cols, rows float64) error {
	c.mu.Lock()
	rt := c.runtime
	c.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Resize(cols, rows)
}

// tryDataAuth parses data as a JSON auth message. clientId is required;
// the referenced control context must already be authenticated.
func (h *Hub) tryDataAuth(d *dataContext, data []byte) bool {
	var msg dataAuthMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "auth" || msg.ClientID == "" {
		return false
	}
	if err := h.auth.Verify(auth.Credentials{Token: msg.Token, Password: msg.Password}); err != nil {
		return false
	}
	ctx := h.getContext(msg.ClientID)
	if ctx == nil || !ctx.isAuthenticated() {
		return false
	}

	d.mu.Lock()
	d.authenticated = true
	d.clientID = msg.ClientID
	d.control = ctx
	d.mu.Unlock()

	ctx.addDataSocket(d)
	return true
}

func (h *Hub) closeData(d *dataContext, code int, reason string) {
	_ = d.socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline())
	_ = d.socket.Close()
}

func (h *Hub) unbindDataSocket(d *dataContext) {
	d.mu.Lock()
	ctx := d.control
	d.authenticated = false
	d.control = nil
	d.mu.Unlock()
	if ctx != nil {
		ctx.removeDataSocket(d)
	}
}
