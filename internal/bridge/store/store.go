// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store is the bridge's authoritative in-memory state — window
// sessions, per-chat read offsets, and topic↔window bindings — with
// write-through atomic JSON persistence and session-map ingestion from the
// hook-written external file.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// WindowState is the persisted association between a multiplexer window
// and the assistant session_id/cwd it currently holds.
type WindowState struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
}

// Binding is a single (chat, thread) -> window association, as returned by
// a snapshot iteration.
type Binding struct {
	ChatID     int64
	ThreadID   int64
	WindowName string
}

// UnreadInfo describes whether a recipient has unread transcript content
// for a window.
type UnreadInfo struct {
	HasUnread   bool
	StartOffset int64
	EndOffset   int64
}

type reverseKey struct {
	ChatID     int64
	WindowName string
}

// persistedState is the on-disk shape of state.json.
type persistedState struct {
	WindowStates      map[string]WindowState       `json:"window_states"`
	UserWindowOffsets map[string]map[string]int64  `json:"user_window_offsets"`
	ThreadBindings    map[string]map[string]string `json:"thread_bindings"`
}

// Store is the bridge's session/binding state hub. All mutators persist
// synchronously before returning.
type Store struct {
	path string

	mu                sync.Mutex
	windowStates      map[string]WindowState
	userWindowOffsets map[int64]map[string]int64
	threadBindings    map[int64]map[int64]string
	windowToThread    map[reverseKey]int64
}

// New constructs a Store backed by path, loading existing state
// synchronously. A missing or malformed file silently initializes empty.
func New(path string) *Store {
	s := &Store{
		path:              path,
		windowStates:      make(map[string]WindowState),
		userWindowOffsets: make(map[int64]map[string]int64),
		threadBindings:    make(map[int64]map[int64]string),
		windowToThread:    make(map[reverseKey]int64),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("bridge/store: failed to parse %s, starting empty: %v", s.path, err)
		return
	}

	for name, ws := range state.WindowStates {
		s.windowStates[name] = ws
	}
	for chatStr, offsets := range state.UserWindowOffsets {
		chatID, err := strconv.ParseInt(chatStr, 10, 64)
		if err != nil {
			continue
		}
		s.userWindowOffsets[chatID] = offsets
	}
	for chatStr, bindings := range state.ThreadBindings {
		chatID, err := strconv.ParseInt(chatStr, 10, 64)
		if err != nil {
			continue
		}
		m := make(map[int64]string, len(bindings))
		for threadStr, windowName := range bindings {
			threadID, err := strconv.ParseInt(threadStr, 10, 64)
			if err != nil {
				continue
			}
			m[threadID] = windowName
			s.windowToThread[reverseKey{chatID, windowName}] = threadID
		}
		s.threadBindings[chatID] = m
	}
}

// save serializes all three maps and atomically replaces the on-disk file.
// Callers must hold s.mu.
func (s *Store) save() {
	state := persistedState{
		WindowStates:      s.windowStates,
		UserWindowOffsets: make(map[string]map[string]int64, len(s.userWindowOffsets)),
		ThreadBindings:    make(map[string]map[string]string, len(s.threadBindings)),
	}
	for chatID, offsets := range s.userWindowOffsets {
		state.UserWindowOffsets[strconv.FormatInt(chatID, 10)] = offsets
	}
	for chatID, bindings := range s.threadBindings {
		m := make(map[string]string, len(bindings))
		for threadID, windowName := range bindings {
			m[strconv.FormatInt(threadID, 10)] = windowName
		}
		state.ThreadBindings[strconv.FormatInt(chatID, 10)] = m
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Printf("bridge/store: failed to marshal state: %v", err)
		return
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("bridge/store: failed to create state dir: %v", err)
			return
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("bridge/store: failed to write temp state file: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		log.Printf("bridge/store: failed to rename state file: %v", err)
	}
}

// GetWindowState returns the window's state, or a zero WindowState if the
// window has none; it never inserts or persists anything.
func (s *Store) GetWindowState(windowName string) WindowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowStates[windowName]
}

// ClearWindowSession zeroes a window's session_id, e.g. after a user-issued
// /clear-like command.
func (s *Store) ClearWindowSession(windowName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.windowStates[windowName]
	ws.SessionID = ""
	s.windowStates[windowName] = ws
	s.save()
}

// Bind associates (chatID, threadID) with windowName, maintaining the
// reverse index.
func (s *Store) Bind(chatID, threadID int64, windowName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadBindings[chatID] == nil {
		s.threadBindings[chatID] = make(map[int64]string)
	}
	s.threadBindings[chatID][threadID] = windowName
	s.windowToThread[reverseKey{chatID, windowName}] = threadID
	s.save()
}

// Unbind removes a binding, returning the window it was bound to (if any).
func (s *Store) Unbind(chatID, threadID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bindings := s.threadBindings[chatID]
	windowName, ok := bindings[threadID]
	if !ok {
		return "", false
	}
	delete(bindings, threadID)
	delete(s.windowToThread, reverseKey{chatID, windowName})
	if len(bindings) == 0 {
		delete(s.threadBindings, chatID)
	}
	s.save()
	return windowName, true
}

// WindowForThread is the forward lookup.
func (s *Store) WindowForThread(chatID, threadID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	windowName, ok := s.threadBindings[chatID][threadID]
	return windowName, ok
}

// ThreadForWindow is the O(1) reverse lookup.
func (s *Store) ThreadForWindow(chatID int64, windowName string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	threadID, ok := s.windowToThread[reverseKey{chatID, windowName}]
	return threadID, ok
}

// IterBindings returns a snapshot of every (chat, thread, window) binding.
func (s *Store) IterBindings() []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Binding
	for chatID, bindings := range s.threadBindings {
		for threadID, windowName := range bindings {
			out = append(out, Binding{ChatID: chatID, ThreadID: threadID, WindowName: windowName})
		}
	}
	return out
}

// UpdateReadOffset records the byte offset up to which chatID has been
// delivered content for windowName.
func (s *Store) UpdateReadOffset(chatID int64, windowName string, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userWindowOffsets[chatID] == nil {
		s.userWindowOffsets[chatID] = make(map[string]int64)
	}
	s.userWindowOffsets[chatID][windowName] = offset
	s.save()
}

// readOffset returns the raw stored offset, and whether one exists.
func (s *Store) readOffset(chatID int64, windowName string) (int64, bool) {
	offsets := s.userWindowOffsets[chatID]
	if offsets == nil {
		return 0, false
	}
	offset, ok := offsets[windowName]
	return offset, ok
}

// UnreadInfo reports whether chatID has unread content for windowName's
// transcript file. On the first call for a (chat, window) pair, the offset
// is initialized to the current file size — no backlog is delivered on
// first view.
func (s *Store) UnreadInfo(chatID int64, windowName string, fileSize int64) UnreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset, ok := s.readOffset(chatID, windowName)
	if !ok {
		if s.userWindowOffsets[chatID] == nil {
			s.userWindowOffsets[chatID] = make(map[string]int64)
		}
		s.userWindowOffsets[chatID][windowName] = fileSize
		s.save()
		return UnreadInfo{HasUnread: false, StartOffset: fileSize, EndOffset: fileSize}
	}

	if offset > fileSize {
		offset = 0
	}
	return UnreadInfo{HasUnread: offset < fileSize, StartOffset: offset, EndOffset: fileSize}
}

// AllWindowStates returns a snapshot of every known window's state, keyed
// by window name.
func (s *Store) AllWindowStates() map[string]WindowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]WindowState, len(s.windowStates))
	for name, ws := range s.windowStates {
		out[name] = ws
	}
	return out
}

// LoadSessionMap reads the hook-written session-map file and updates
// matching window states, garbage-collecting entries for windows no longer
// present in the map. A malformed or missing file is a silent no-op — the
// hook process may be mid-write; the next poll tick retries.
func (s *Store) LoadSessionMap(sessionMapPath, muxSessionName string) {
	data, err := os.ReadFile(sessionMapPath)
	if err != nil {
		return
	}
	var raw map[string]struct {
		SessionID string `json:"session_id"`
		Cwd       string `json:"cwd"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := muxSessionName + ":"
	validWindows := make(map[string]bool)
	changed := false

	for key, info := range raw {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		windowName := key[len(prefix):]
		validWindows[windowName] = true
		if info.SessionID == "" {
			continue
		}
		cur := s.windowStates[windowName]
		if cur.SessionID != info.SessionID || cur.Cwd != info.Cwd {
			log.Printf("bridge/store: session map: window %s updated sid=%s cwd=%s", windowName, info.SessionID, info.Cwd)
			s.windowStates[windowName] = WindowState{SessionID: info.SessionID, Cwd: info.Cwd}
			changed = true
		}
	}

	for windowName := range s.windowStates {
		if windowName != "" && !validWindows[windowName] {
			log.Printf("bridge/store: removing stale window state: %s", windowName)
			delete(s.windowStates, windowName)
			changed = true
		}
	}

	if changed {
		s.save()
	}
}

// TranscriptPath builds the direct transcript file path for a session,
// encoding cwd by replacing "/" with "-".
func TranscriptPath(root, cwd, sessionID string) string {
	if sessionID == "" || cwd == "" {
		return ""
	}
	encodedCwd := replaceAll(cwd, "/", "-")
	return filepath.Join(root, encodedCwd, sessionID+".log")
}

func replaceAll(s, old, new string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == old[0] {
			out = append(out, new...)
		} else {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// WatchSessionMap loads sessionMapPath once, then watches its parent
// directory for writes and reloads on every one, until ctx is canceled.
// fsnotify doesn't reliably track a single path across the hook's
// write-then-rename, so the directory is watched and only write or create
// events on the session map's own filename trigger a reload.
func (s *Store) WatchSessionMap(ctx context.Context, sessionMapPath, muxSessionName string) error {
	dir := filepath.Dir(sessionMapPath)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create session map watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.LoadSessionMap(sessionMapPath, muxSessionName)
	target := filepath.Base(sessionMapPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.LoadSessionMap(sessionMapPath, muxSessionName)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("bridge/store: session map watch error: %v", err)
		}
	}
}

// ResolveTranscriptPath returns the transcript file path for windowName,
// falling back to a glob over root for "*/<session_id>.log" if the direct
// path doesn't exist (handles the rare cwd-mismatch case).
func (s *Store) ResolveTranscriptPath(root, windowName string) (string, error) {
	ws := s.GetWindowState(windowName)
	if ws.SessionID == "" || ws.Cwd == "" {
		return "", fmt.Errorf("window %s has no associated session", windowName)
	}

	direct := TranscriptPath(root, ws.Cwd, ws.SessionID)
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	matches, err := filepath.Glob(filepath.Join(root, "*", ws.SessionID+".log"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no transcript file found for session %s", ws.SessionID)
	}
	return matches[0], nil
}
