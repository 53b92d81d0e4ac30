package broker

import "github.com/b/tmux-remote/internal/model"

// Inbound control-plane message, tagged by Type. Every variant-specific
// field lives here too; unused fields are simply left zero-valued for a
// given type. This mirrors the wire shape exactly (a flat JSON object with
// a string discriminator), not a nested payload envelope.
type inboundControl struct {
	Type string `json:"type"`

	// auth
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
	ClientID string `json:"clientId,omitempty"`

	// select_session
	Session string `json:"session,omitempty"`

	// new_session
	Name string `json:"name,omitempty"`

	// select_window / kill_window
	WindowIndex int `json:"windowIndex,omitempty"`

	// select_pane / split_pane / kill_pane / zoom_pane / capture_scrollback
	PaneID string `json:"paneId,omitempty"`

	// split_pane
	Orientation string `json:"orientation,omitempty"`

	// capture_scrollback
	Lines int `json:"lines,omitempty"`

	// send_compose
	Text string `json:"text,omitempty"`
}

// Outbound control-plane messages. Each struct carries its own Type field,
// set to the literal wire tag at the send call site, the same flat shape as
// inboundControl.

type authOkMsg struct {
	Type             string `json:"type"`
	ClientID         string `json:"clientId"`
	RequiresPassword bool   `json:"requiresPassword"`
}

type authErrorMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type attachedMsg struct {
	Type    string `json:"type"`
	Session string `json:"session"`
}

type sessionPickerMsg struct {
	Type     string                  `json:"type"`
	Sessions []model.SessionSummary `json:"sessions"`
}

type tmuxStateMsg struct {
	Type  string             `json:"type"`
	State model.StateSnapshot `json:"state"`
}

type scrollbackMsg struct {
	Type   string `json:"type"`
	PaneID string `json:"paneId"`
	Text   string `json:"text"`
	Lines  int    `json:"lines"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type infoMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Data-plane JSON messages (resize and auth), sent over /ws/terminal as
// text frames; anything else on that socket is raw PTY bytes.

type dataResizeMsg struct {
	Type string  `json:"type"`
	Cols float64 `json:"cols"`
	Rows float64 `json:"rows"`
}

type dataAuthMsg struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	Password string `json:"password"`
	ClientID string `json:"clientId"`
}
