// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"log"
	"strconv"
)

// MuxWindow is the backend-agnostic representation of a multiplexer window
// (a tmux window or a Zellij tab).
type MuxWindow struct {
	WindowID   string // backend-specific opaque ID (tmux: "session:name", zellij: tab name)
	WindowName string
	Cwd        string
}

// Driver is the capability set every multiplexer backend must implement.
// It is the abstract boundary between the bridge and whatever terminal
// multiplexer is actually running the assistant.
type Driver interface {
	// EnsureSession makes the backing multiplexer session exist. Idempotent.
	EnsureSession(ctx context.Context) error
	// ListWindows lists all windows in the session, excluding the main
	// placeholder window.
	ListWindows(ctx context.Context) ([]MuxWindow, error)
	// CapturePane returns the visible text content of a window's active
	// pane. withANSI requests ANSI-escaped output; backends that cannot
	// provide it fall back to plain text and log a one-time warning.
	CapturePane(ctx context.Context, windowID string, withANSI bool) (string, error)
	// SendKeys sends text to a window. literal=true sends the exact bytes;
	// literal=false interprets the text as a special key name (Up, Down,
	// Left, Right, Enter, Escape). If enter && literal, the driver inserts
	// a >=500ms gap between the text and the Enter keystroke.
	SendKeys(ctx context.Context, windowID, text string, enter, literal bool) error
	// KillWindow destroys a window.
	KillWindow(ctx context.Context, windowID string) error
	// CreateWindow creates a new window rooted at workDir, deduplicating
	// windowName by appending "-2", "-3", ... when it collides, and
	// optionally starting the configured assistant command.
	CreateWindow(ctx context.Context, workDir, windowName string, startAssistant bool) (ok bool, message, createdName string, err error)
}

// FindWindowByName is the default find_window implementation shared by every
// backend: a linear scan of ListWindows. Per §4.1, backends do not override
// this — it is provided as a free function rather than duplicated per driver.
func FindWindowByName(ctx context.Context, d Driver, name string) (*MuxWindow, error) {
	windows, err := d.ListWindows(ctx)
	if err != nil {
		return nil, err
	}
	for i := range windows {
		if windows[i].WindowName == name {
			return &windows[i], nil
		}
	}
	log.Printf("terminal: window not found: %s", name)
	return nil, nil
}

// dedupeWindowName appends "-2", "-3", ... to base until find returns nil.
func dedupeWindowName(ctx context.Context, d Driver, base string) (string, error) {
	name := base
	counter := 2
	for {
		w, err := FindWindowByName(ctx, d, name)
		if err != nil {
			return "", err
		}
		if w == nil {
			return name, nil
		}
		name = base + "-" + strconv.Itoa(counter)
		counter++
	}
}
