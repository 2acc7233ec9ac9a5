// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ZellijDriver implements Driver against a pre-existing Zellij session via
// the `zellij` CLI. Zellij actions are focus-dependent (they operate on the
// currently focused tab), so every tab-targeting operation navigates first
// under a single mutex — mirroring the capability-set note in §4.1 that
// focus-global backends must serialize such operations.
type ZellijDriver struct {
	sessionName    string
	mainWindowName string
	assistantCmd   string

	mu         sync.Mutex
	ansiWarned bool
}

// NewZellijDriver builds a Zellij-backed Driver. The session must already
// exist; Zellij offers no headless session-creation equivalent to tmux's
// `new-session -d`.
func NewZellijDriver(sessionName, mainWindowName, assistantCmd string) *ZellijDriver {
	return &ZellijDriver{sessionName: sessionName, mainWindowName: mainWindowName, assistantCmd: assistantCmd}
}

func (d *ZellijDriver) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "zellij", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func (d *ZellijDriver) action(ctx context.Context, actionArgs ...string) (string, string, error) {
	args := append([]string{"--session", d.sessionName, "action"}, actionArgs...)
	return d.run(ctx, args...)
}

func (d *ZellijDriver) EnsureSession(ctx context.Context) error {
	stdout, _, err := d.run(ctx, "list-sessions", "--short", "--no-formatting")
	if err != nil {
		return fmt.Errorf("failed to list zellij sessions: %w", err)
	}
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) == d.sessionName {
			return nil
		}
	}
	return fmt.Errorf("zellij session %q not found; create it first: zellij -s %s", d.sessionName, d.sessionName)
}

var tabCwdRe = regexp.MustCompile(`(?s)tab\s[^{]*?name="([^"]+)"[^{]*\{([^}]*)\}`)
var cwdAttrRe = regexp.MustCompile(`cwd="([^"]+)"`)

func (d *ZellijDriver) parseTabCwds(ctx context.Context) map[string]string {
	stdout, _, err := d.action(ctx, "dump-layout")
	if err != nil {
		return nil
	}
	result := make(map[string]string)
	for _, m := range tabCwdRe.FindAllStringSubmatch(stdout, -1) {
		if cwdM := cwdAttrRe.FindStringSubmatch(m[2]); cwdM != nil {
			result[m[1]] = cwdM[1]
		}
	}
	return result
}

func (d *ZellijDriver) ListWindows(ctx context.Context) ([]MuxWindow, error) {
	stdout, _, err := d.action(ctx, "query-tab-names")
	if err != nil {
		return nil, fmt.Errorf("failed to query zellij tab names: %w", err)
	}
	cwds := d.parseTabCwds(ctx)
	var windows []MuxWindow
	for _, name := range strings.Split(stdout, "\n") {
		name = strings.TrimSpace(name)
		if name == "" || name == d.mainWindowName {
			continue
		}
		windows = append(windows, MuxWindow{
			WindowID:   name, // Zellij addresses tabs by name
			WindowName: name,
			Cwd:        cwds[name],
		})
	}
	return windows, nil
}

func (d *ZellijDriver) CapturePane(ctx context.Context, windowID string, withANSI bool) (string, error) {
	if withANSI && !d.ansiWarned {
		log.Printf("terminal: zellij driver does not support ANSI pane capture; falling back to plain text")
		d.ansiWarned = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, _, err := d.action(ctx, "go-to-tab-name", windowID); err != nil {
		return "", fmt.Errorf("failed to navigate to tab %s: %w", windowID, err)
	}

	tmpFile := filepath.Join(os.TempDir(), fmt.Sprintf("bridge-zellij-%d.txt", os.Getpid()))
	defer os.Remove(tmpFile)

	if _, _, err := d.action(ctx, "dump-screen", tmpFile); err != nil {
		return "", fmt.Errorf("failed to dump screen for tab %s: %w", windowID, err)
	}
	data, err := os.ReadFile(tmpFile)
	if err != nil {
		return "", fmt.Errorf("failed to read dump-screen output: %w", err)
	}
	return string(data), nil
}

func (d *ZellijDriver) SendKeys(ctx context.Context, windowID, text string, enter, literal bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, _, err := d.action(ctx, "go-to-tab-name", windowID); err != nil {
		return fmt.Errorf("failed to navigate to tab %s: %w", windowID, err)
	}

	if literal {
		if text != "" {
			if _, _, err := d.action(ctx, "write-chars", text); err != nil {
				return fmt.Errorf("failed to write-chars to tab %s: %w", windowID, err)
			}
		}
		if enter {
			time.Sleep(500 * time.Millisecond)
			if _, _, err := d.action(ctx, "write", "13"); err != nil {
				return fmt.Errorf("failed to send Enter to tab %s: %w", windowID, err)
			}
		}
		return nil
	}
	return d.sendSpecialKey(ctx, text)
}

func (d *ZellijDriver) sendSpecialKey(ctx context.Context, key string) error {
	var err error
	switch strings.ToLower(key) {
	case "escape":
		_, _, err = d.action(ctx, "write", "27")
	case "enter":
		_, _, err = d.action(ctx, "write", "13")
	case "up":
		_, _, err = d.action(ctx, "write-chars", "\x1b[A")
	case "down":
		_, _, err = d.action(ctx, "write-chars", "\x1b[B")
	case "right":
		_, _, err = d.action(ctx, "write-chars", "\x1b[C")
	case "left":
		_, _, err = d.action(ctx, "write-chars", "\x1b[D")
	default:
		_, _, err = d.action(ctx, "write-chars", key)
	}
	return err
}

func (d *ZellijDriver) KillWindow(ctx context.Context, windowID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, _, err := d.action(ctx, "go-to-tab-name", windowID); err != nil {
		return fmt.Errorf("failed to navigate to tab %s: %w", windowID, err)
	}
	if _, _, err := d.action(ctx, "close-tab"); err != nil {
		return fmt.Errorf("failed to close tab %s: %w", windowID, err)
	}
	return nil
}

func (d *ZellijDriver) CreateWindow(ctx context.Context, workDir, windowName string, startAssistant bool) (bool, string, string, error) {
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

	if _, stderr, err := d.run(ctx, "--session", d.sessionName, "action", "new-tab", "--name", finalName, "--cwd", path); err != nil {
		return false, fmt.Sprintf("failed to create tab: %s", strings.TrimSpace(stderr)), "", nil
	}

	if startAssistant && d.assistantCmd != "" {
		time.Sleep(300 * time.Millisecond)
		d.mu.Lock()
		if _, _, err := d.action(ctx, "write-chars", d.assistantCmd); err == nil {
			time.Sleep(500 * time.Millisecond)
			d.action(ctx, "write", "13")
		}
		d.mu.Unlock()
	}

	return true, fmt.Sprintf("Created window '%s' at %s", finalName, path), finalName, nil
}
