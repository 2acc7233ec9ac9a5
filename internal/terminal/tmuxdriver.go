// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// ansiRe strips ANSI escape sequences. RealTmuxExecutor.CapturePane always
// captures with "-e" (ANSI colors included); when the caller asked for plain
// text we strip it here rather than adding a second tmux round-trip.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// TmuxDriver implements Driver against a single tmux session via
// RealTmuxExecutor (or a mock in tests). All focus-independent tmux
// commands address windows by "session:window_name", so WindowID doubles
// as the tmux target string.
type TmuxDriver struct {
	exec           TmuxExecutor
	sessionName    string
	mainWindowName string
	assistantCmd   string
}

// NewTmuxDriver builds a tmux-backed Driver.
func NewTmuxDriver(exec TmuxExecutor, sessionName, mainWindowName, assistantCmd string) *TmuxDriver {
	return &TmuxDriver{
		exec:           exec,
		sessionName:    sessionName,
		mainWindowName: mainWindowName,
		assistantCmd:   assistantCmd,
	}
}

func (d *TmuxDriver) EnsureSession(ctx context.Context) error {
	if d.exec.HasSession(ctx, d.sessionName) {
		return nil
	}
	home, _ := os.UserHomeDir()
	return d.exec.NewSession(ctx, d.sessionName, home, d.mainWindowName)
}

func (d *TmuxDriver) ListWindows(ctx context.Context) ([]MuxWindow, error) {
	infos, err := d.exec.ListWindows(ctx, d.sessionName)
	if err != nil {
		return nil, err
	}
	windows := make([]MuxWindow, 0, len(infos))
	for _, info := range infos {
		if info.Name == d.mainWindowName {
			continue
		}
		windows = append(windows, MuxWindow{
			WindowID:   fmt.Sprintf("%s:%s", d.sessionName, info.Name),
			WindowName: info.Name,
			Cwd:        info.Cwd,
		})
	}
	return windows, nil
}

func (d *TmuxDriver) CapturePane(ctx context.Context, windowID string, withANSI bool) (string, error) {
	out, err := d.exec.CapturePane(ctx, windowID, false)
	if err != nil {
		return "", err
	}
	if withANSI {
		return string(out), nil
	}
	return ansiRe.ReplaceAllString(string(out), ""), nil
}

// specialKeys maps §4.1's non-literal key tokens to tmux send-keys key names.
// tmux already understands these names directly, so no translation table is
// needed beyond passing them through non-literally.
var specialKeys = map[string]bool{
	"Up": true, "Down": true, "Left": true, "Right": true,
	"Enter": true, "Escape": true,
}

func (d *TmuxDriver) SendKeys(ctx context.Context, windowID, text string, enter, literal bool) error {
	if literal {
		if text != "" {
			if err := d.exec.SendKeys(ctx, windowID, text, true); err != nil {
				return err
			}
		}
		if enter {
			// The assistant's TUI treats a same-batch Enter as a literal
			// newline rather than submit; wait before pressing it.
			time.Sleep(500 * time.Millisecond)
			return d.exec.SendKeys(ctx, windowID, "Enter", false)
		}
		return nil
	}
	return d.exec.SendKeys(ctx, windowID, text, false)
}

func (d *TmuxDriver) KillWindow(ctx context.Context, windowID string) error {
	// windowID is "session:window"; KillWindow takes (session, window) separately.
	_, window := splitTarget(windowID)
	return d.exec.KillWindow(ctx, d.sessionName, window)
}

func (d *TmuxDriver) CreateWindow(ctx context.Context, workDir, windowName string, startAssistant bool) (bool, string, string, error) {
	path, err := resolveDir(workDir)
	if err != nil {
		return false, err.Error(), "", nil
	}
	base := windowName
	if base == "" {
		base = filepath.Base(path)
	}
	finalName, err := dedupeWindowName(ctx, d, base)
	if err != nil {
		return false, "", "", err
	}

	var cmd []string
	if startAssistant && d.assistantCmd != "" {
		cmd = []string{d.assistantCmd}
	}
	if err := d.exec.NewWindow(ctx, d.sessionName, finalName, path, cmd); err != nil {
		return false, fmt.Sprintf("failed to create window: %v", err), "", nil
	}
	return true, fmt.Sprintf("Created window '%s' at %s", finalName, path), finalName, nil
}

func splitTarget(windowID string) (session, window string) {
	for i := 0; i < len(windowID); i++ {
		if windowID[i] == ':' {
			return windowID[:i], windowID[i+1:]
		}
	}
	return "", windowID
}
