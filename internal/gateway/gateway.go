// Package gateway abstracts the external terminal multiplexer behind a small
// interface, with a CLI-backed implementation that drives the real binary
// via argument-vector exec calls.
package gateway

import (
	"context"

	"github.com/b/tmux-remote/internal/model"
)

// Gateway runs multiplexer commands and parses their tabular output into
// typed records. All operations are safe to call concurrently; the
// underlying binary serializes against its own server, not this interface.
type Gateway interface {
	ListSessions(ctx context.Context) ([]model.SessionSummary, error)
	ListWindows(ctx context.Context, session string) ([]WindowRecord, error)
	ListPanes(ctx context.Context, session string, windowIndex int) ([]model.PaneState, error)

	CreateSession(ctx context.Context, name string) error
	CreateGroupedSession(ctx context.Context, name, targetSession string) error
	KillSession(ctx context.Context, name string) error
	SwitchClient(ctx context.Context, session string) error

	NewWindow(ctx context.Context, session string) error
	KillWindow(ctx context.Context, session string, windowIndex int) error
	SelectWindow(ctx context.Context, session string, windowIndex int) error

	SplitWindow(ctx context.Context, paneID string, orientation string) error
	KillPane(ctx context.Context, paneID string) error
	SelectPane(ctx context.Context, paneID string) error
	ZoomPane(ctx context.Context, paneID string) error
	IsPaneZoomed(ctx context.Context, paneID string) (bool, error)

	CapturePane(ctx context.Context, paneID string, lines int) (string, error)
}

// WindowRecord describes a window without its panes (ListWindows result).
type WindowRecord struct {
	Index     int
	Name      string
	Active    bool
	PaneCount int
}
