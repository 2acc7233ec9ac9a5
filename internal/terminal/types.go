// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
)

// TmuxExecutor executes tmux commands.
type TmuxExecutor interface {
	// HasSession checks if a session exists.
	HasSession(ctx context.Context, session string) bool
	// ListSessions lists all tmux sessions.
	ListSessions(ctx context.Context) ([]string, error)
	// NewSession creates a new tmux session with an optional first window name.
	NewSession(ctx context.Context, session, workdir, firstWindowName string) error
	// KillSession kills a tmux session.
	KillSession(ctx context.Context, session string) error
	// NewWindow creates a new window in a session.
	NewWindow(ctx context.Context, session, window, workdir string, command []string) error
	// KillWindow kills a window in a session.
	KillWindow(ctx context.Context, session, window string) error
	// ListWindows lists windows in a session.
	ListWindows(ctx context.Context, session string) ([]WindowInfo, error)
	// CapturePane captures the pane content.
	CapturePane(ctx context.Context, target string, withHistory bool) ([]byte, error)
	// SendKeys sends keys to a pane.
	SendKeys(ctx context.Context, target string, keys string, literal bool) error
	// SendText sends text via paste-buffer (handles special chars).
	SendText(ctx context.Context, target string, text string) error
	// StartPipePane starts pipe-pane for output streaming.
	StartPipePane(ctx context.Context, target, pipePath string) error
	// StopPipePane stops pipe-pane.
	StopPipePane(ctx context.Context, target string) error
	// ResizeWindow resizes a window.
	ResizeWindow(ctx context.Context, target string, cols, rows int) error
	// GetCursorPosition gets the cursor position in a pane.
	GetCursorPosition(ctx context.Context, target string) (x, y int, err error)
	// SetEnvironment sets an environment variable in a session.
	SetEnvironment(ctx context.Context, session, name, value string) error
	// SetOption sets a tmux option for a session.
	SetOption(ctx context.Context, session, name, value string) error
}

// WindowInfo contains information about a tmux window.
type WindowInfo struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Cwd    string `json:"cwd"`
}
