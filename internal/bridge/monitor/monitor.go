// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package monitor tails per-window assistant transcript files and emits
// parsed events as new lines appear, tracking byte offsets so restarts
// never re-deliver already-seen content.
package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/wingedpig/trellis/internal/bridge/store"
	"github.com/wingedpig/trellis/internal/terminal"
	"github.com/wingedpig/trellis/internal/transcript"
)

// Message is a parsed transcript event tagged with the window it came from.
type Message struct {
	WindowName string
	transcript.ParsedEvent
}

// Callback receives each parsed message as the monitor's poll loop
// discovers it. Invoked synchronously from the poll goroutine; callers that
// need to fan out should do so asynchronously themselves.
type Callback func(Message)

// Config controls monitor behavior.
type Config struct {
	ProjectsRoot     string        // root directory under which transcript files live
	SessionMapPath   string        // hook-written session_map.json
	MuxSessionName   string        // this bridge's multiplexer session name
	StateFile        string        // monitor's own byte-offset state file
	PollInterval     time.Duration // default 2s if zero
	ShowUserMessages bool          // include role=user events
}

// Monitor is the transcript-tailing background task.
type Monitor struct {
	cfg    Config
	store  *store.Store
	driver terminal.Driver
	state  *state

	callback Callback

	pendingTools   map[string]*transcript.PendingTool // keyed by session_id
	fileMtimes     map[string]time.Time               // keyed by session_id
	lastSessionMap map[string]string                   // window_name -> session_id
}

// New constructs a Monitor. Call SetCallback before Run.
func New(cfg Config, st *store.Store, driver terminal.Driver) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Monitor{
		cfg:            cfg,
		store:          st,
		driver:         driver,
		state:          newState(cfg.StateFile),
		pendingTools:   make(map[string]*transcript.PendingTool),
		fileMtimes:     make(map[string]time.Time),
		lastSessionMap: make(map[string]string),
	}
}

// SetCallback registers the event sink.
func (m *Monitor) SetCallback(cb Callback) {
	m.callback = cb
}

// Run executes the poll loop until ctx is canceled. On return, final state
// is saved.
func (m *Monitor) Run(ctx context.Context) {
	log.Printf("bridge/monitor: started, polling every %s", m.cfg.PollInterval)
	defer func() {
		m.state.save()
		log.Printf("bridge/monitor: stopped")
	}()

	m.cleanupStaleSessionsOnStartup()
	m.lastSessionMap = m.readSessionMap()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	m.store.LoadSessionMap(m.cfg.SessionMapPath, m.cfg.MuxSessionName)

	currentMap := m.readSessionMap()
	m.detectAndCleanupChanges(currentMap)

	activeSessionIDs := make(map[string]bool, len(currentMap))
	for _, sessionID := range currentMap {
		activeSessionIDs[sessionID] = true
	}

	m.checkForUpdates(ctx, activeSessionIDs)
}

// readSessionMap loads the hook-written session_map.json and returns a
// window_name -> session_id map filtered to this bridge's multiplexer
// session, mirroring the store's own ingestion but kept separate so the
// monitor can diff against its previous view without reaching into the
// store's internals. A missing or malformed file yields an empty map.
func (m *Monitor) readSessionMap() map[string]string {
	out := make(map[string]string)
	data, err := os.ReadFile(m.cfg.SessionMapPath)
	if err != nil {
		return out
	}
	var raw map[string]struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return out
	}
	prefix := m.cfg.MuxSessionName + ":"
	for key, info := range raw {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if info.SessionID == "" {
			continue
		}
		out[key[len(prefix):]] = info.SessionID
	}
	return out
}

// detectAndCleanupChanges removes tracked state for any window whose
// session_id changed or whose window disappeared since the last tick.
func (m *Monitor) detectAndCleanupChanges(currentMap map[string]string) {
	for windowName, oldSessionID := range m.lastSessionMap {
		newSessionID, stillPresent := currentMap[windowName]
		if stillPresent && newSessionID != oldSessionID {
			log.Printf("bridge/monitor: window %s session changed: %s -> %s", windowName, oldSessionID, newSessionID)
			m.forgetSession(oldSessionID)
		} else if !stillPresent {
			log.Printf("bridge/monitor: window %s gone, removing session %s", windowName, oldSessionID)
			m.forgetSession(oldSessionID)
		}
	}
	m.state.saveIfDirty()
	m.lastSessionMap = currentMap
}

func (m *Monitor) forgetSession(sessionID string) {
	m.state.remove(sessionID)
	delete(m.fileMtimes, sessionID)
	delete(m.pendingTools, sessionID)
}

func (m *Monitor) cleanupStaleSessionsOnStartup() {
	currentMap := m.readSessionMap()
	activeSessionIDs := make(map[string]bool, len(currentMap))
	for _, sessionID := range currentMap {
		activeSessionIDs[sessionID] = true
	}
	var stale []string
	for sessionID := range m.state.sessions {
		if !activeSessionIDs[sessionID] {
			stale = append(stale, sessionID)
		}
	}
	if len(stale) > 0 {
		log.Printf("bridge/monitor: startup cleanup removing %d stale sessions", len(stale))
		for _, sessionID := range stale {
			m.forgetSession(sessionID)
		}
		m.state.saveIfDirty()
	}
}

// checkForUpdates enumerates transcript files belonging to active
// multiplexer windows and reads any new content for sessions present in
// the session map.
func (m *Monitor) checkForUpdates(ctx context.Context, activeSessionIDs map[string]bool) {
	activeWindows, err := m.activeWindowNames(ctx)
	if err != nil {
		log.Printf("bridge/monitor: failed to list windows: %v", err)
		return
	}

	for windowName, ws := range m.store.AllWindowStates() {
		if !activeWindows[windowName] || ws.SessionID == "" || ws.Cwd == "" {
			continue
		}
		if !activeSessionIDs[ws.SessionID] {
			continue
		}
		filePath, err := m.store.ResolveTranscriptPath(m.cfg.ProjectsRoot, windowName)
		if err != nil {
			continue
		}
		m.processSessionFile(windowName, ws.SessionID, filePath)
	}

	m.state.saveIfDirty()
}

func (m *Monitor) activeWindowNames(ctx context.Context) (map[string]bool, error) {
	windows, err := m.driver.ListWindows(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(windows))
	for _, w := range windows {
		out[w.WindowName] = true
	}
	return out, nil
}

func (m *Monitor) processSessionFile(windowName, sessionID, filePath string) {
	info, err := os.Stat(filePath)
	if err != nil {
		return
	}

	tracked, known := m.state.get(sessionID)
	if !known {
		// New session: start at end-of-file so no backlog is replayed.
		m.state.update(TrackedSession{
			SessionID:      sessionID,
			FilePath:       filePath,
			LastByteOffset: info.Size(),
		})
		m.fileMtimes[sessionID] = info.ModTime()
		log.Printf("bridge/monitor: started tracking session %s (window %s)", sessionID, windowName)
		return
	}

	lastMtime := m.fileMtimes[sessionID]
	if !info.ModTime().After(lastMtime) {
		return
	}

	entries := m.readNewLines(&tracked, filePath, info.Size())
	m.fileMtimes[sessionID] = info.ModTime()

	carry := m.pendingTools[sessionID]
	parsed, remaining := transcript.ParseEntries(entries, carry)
	if len(remaining) > 0 {
		m.pendingTools[sessionID] = remaining
	} else {
		delete(m.pendingTools, sessionID)
	}

	for _, event := range parsed {
		if event.Text == "" {
			continue
		}
		if event.Role == "user" && !m.cfg.ShowUserMessages {
			continue
		}
		if m.callback != nil {
			m.callback(Message{WindowName: windowName, ParsedEvent: event})
		}
	}

	m.state.update(tracked)
}

// readNewLines seeks to tracked.LastByteOffset and reads all subsequent
// lines as parsed JSON records, advancing the offset in place. A stored
// offset beyond the current file size indicates truncation (e.g. after a
// session reset) and is reset to 0.
func (m *Monitor) readNewLines(tracked *TrackedSession, filePath string, fileSize int64) []map[string]any {
	var entries []map[string]any

	if tracked.LastByteOffset > fileSize {
		log.Printf("bridge/monitor: file truncated for session %s (offset %d > size %d), resetting",
			tracked.SessionID, tracked.LastByteOffset, fileSize)
		tracked.LastByteOffset = 0
	}

	f, err := os.Open(filePath)
	if err != nil {
		log.Printf("bridge/monitor: failed to open %s: %v", filePath, err)
		return entries
	}
	defer f.Close()

	if _, err := f.Seek(tracked.LastByteOffset, 0); err != nil {
		log.Printf("bridge/monitor: failed to seek %s: %v", filePath, err)
		return entries
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	offset := tracked.LastByteOffset
	for scanner.Scan() {
		line := scanner.Text()
		offset += int64(len(line)) + 1
		if data := transcript.ParseLine(line); data != nil {
			entries = append(entries, data)
		}
	}
	tracked.LastByteOffset = offset

	return entries
}
