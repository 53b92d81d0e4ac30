// Package model defines the data shapes shared across the gateway, the state
// monitor, and the broker: the multiplexer's session/window/pane tree and the
// snapshot that the StateMonitor diffs and broadcasts.
package model

import "encoding/json"

// SessionSummary describes a multiplexer session without its window tree.
type SessionSummary struct {
	Name     string `json:"name"`
	Attached bool   `json:"attached"`
	Windows  int    `json:"windows"`
}

// PaneState describes one pane within a window.
type PaneState struct {
	Index          int    `json:"index"`
	ID             string `json:"id"`
	CurrentCommand string `json:"currentCommand"`
	Active         bool   `json:"active"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	// Zoomed is true only when the window is zoomed AND this pane is active —
	// a multiplexer zooms a pane, not a window, but only the active pane of a
	// zoomed window is actually full-screen.
	Zoomed bool `json:"zoomed"`
}

// WindowState describes one window and its ordered panes.
type WindowState struct {
	Index     int         `json:"index"`
	Name      string      `json:"name"`
	Active    bool        `json:"active"`
	Zoomed    bool        `json:"zoomed"`
	PaneCount int         `json:"paneCount"`
	Panes     []PaneState `json:"panes"`
}

// SessionState is a SessionSummary plus its ordered windows.
type SessionState struct {
	SessionSummary
	Windows []WindowState `json:"windows"`
}

// StateSnapshot is the full tree of sessions at a point in time.
type StateSnapshot struct {
	Sessions   []SessionState `json:"sessions"`
	CapturedAt string         `json:"capturedAt"`
}

// Fingerprint returns the canonical serialization of the sessions sequence,
// excluding CapturedAt, used by the StateMonitor for change detection.
// json.Marshal on a slice of structs is deterministic (field order follows
// struct declaration order), so this is a stable fingerprint.
func (s StateSnapshot) Fingerprint() string {
	data, err := json.Marshal(s.Sessions)
	if err != nil {
		// Sessions is built entirely from this package's own types; marshaling
		// it can't fail in practice. Fall back to a value that never equals a
		// real fingerprint so a marshal bug shows up as "always changed"
		// rather than silently suppressing every update.
		return "!error:" + err.Error()
	}
	return string(data)
}

// Equal reports whether two snapshots have the same fingerprint, i.e. are
// equal ignoring CapturedAt.
func (s StateSnapshot) Equal(other StateSnapshot) bool {
	return s.Fingerprint() == other.Fingerprint()
}

// IsMobileSession reports whether name is a broker-managed grouped session
// rather than a user-visible base session.
func IsMobileSession(name string) bool {
	return len(name) >= len(MobileSessionPrefix) && name[:len(MobileSessionPrefix)] == MobileSessionPrefix
}

// MobileSessionPrefix is the name prefix the broker uses for every grouped
// session it creates. Only the broker creates or destroys sessions with this
// prefix.
const MobileSessionPrefix = "tmux-mobile-client-"

// MobileSessionName returns the mobile session name for a client id.
func MobileSessionName(clientID string) string {
	return MobileSessionPrefix + clientID
}
