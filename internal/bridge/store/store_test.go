// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	return New(path), path
}

func TestNewStoreMissingFile(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, WindowState{}, s.GetWindowState("claude-1"))
}

func TestBindAndLookup(t *testing.T) {
	s, _ := newTestStore(t)

	s.Bind(100, 200, "claude-1")

	windowName, ok := s.WindowForThread(100, 200)
	require.True(t, ok)
	assert.Equal(t, "claude-1", windowName)

	threadID, ok := s.ThreadForWindow(100, "claude-1")
	require.True(t, ok)
	assert.Equal(t, int64(200), threadID)
}

func TestUnbindRemovesForwardAndReverse(t *testing.T) {
	s, _ := newTestStore(t)
	s.Bind(1, 2, "claude-1")

	windowName, ok := s.Unbind(1, 2)
	require.True(t, ok)
	assert.Equal(t, "claude-1", windowName)

	_, ok = s.WindowForThread(1, 2)
	assert.False(t, ok)
	_, ok = s.ThreadForWindow(1, "claude-1")
	assert.False(t, ok)

	_, ok = s.Unbind(1, 2)
	assert.False(t, ok)
}

func TestIterBindings(t *testing.T) {
	s, _ := newTestStore(t)
	s.Bind(1, 10, "claude-1")
	s.Bind(1, 11, "claude-2")
	s.Bind(2, 10, "claude-3")

	bindings := s.IterBindings()
	assert.Len(t, bindings, 3)
}

func TestStatePersistsAcrossReload(t *testing.T) {
	s, path := newTestStore(t)
	s.Bind(42, 7, "claude-1")
	s.UpdateReadOffset(42, "claude-1", 1234)

	reloaded := New(path)
	windowName, ok := reloaded.WindowForThread(42, 7)
	require.True(t, ok)
	assert.Equal(t, "claude-1", windowName)

	threadID, ok := reloaded.ThreadForWindow(42, "claude-1")
	require.True(t, ok)
	assert.Equal(t, int64(7), threadID)
}

func TestMalformedStateFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	s := New(path)
	assert.Empty(t, s.IterBindings())
}

func TestClearWindowSession(t *testing.T) {
	s, path := newTestStore(t)
	s.LoadSessionMap(writeSessionMap(t, map[string]sessionMapEntry{
		"mux:claude-1": {SessionID: "abc", Cwd: "/home/user/project"},
	}), "mux")

	assert.Equal(t, "abc", s.GetWindowState("claude-1").SessionID)

	s.ClearWindowSession("claude-1")
	assert.Equal(t, "", s.GetWindowState("claude-1").SessionID)

	// confirm the clear persisted
	reloaded := New(path)
	assert.Equal(t, "", reloaded.GetWindowState("claude-1").SessionID)
}

func TestUnreadInfoFirstViewHasNoBacklog(t *testing.T) {
	s, _ := newTestStore(t)
	info := s.UnreadInfo(1, "claude-1", 5000)
	assert.False(t, info.HasUnread)
	assert.Equal(t, int64(5000), info.StartOffset)
	assert.Equal(t, int64(5000), info.EndOffset)
}

func TestUnreadInfoDetectsNewContent(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpdateReadOffset(1, "claude-1", 1000)

	info := s.UnreadInfo(1, "claude-1", 2500)
	assert.True(t, info.HasUnread)
	assert.Equal(t, int64(1000), info.StartOffset)
	assert.Equal(t, int64(2500), info.EndOffset)
}

func TestUnreadInfoHandlesTruncation(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpdateReadOffset(1, "claude-1", 9000)

	info := s.UnreadInfo(1, "claude-1", 200)
	assert.True(t, info.HasUnread)
	assert.Equal(t, int64(0), info.StartOffset)
	assert.Equal(t, int64(200), info.EndOffset)
}

type sessionMapEntry struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
}

func writeSessionMap(t *testing.T, entries map[string]sessionMapEntry) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session_map.json")
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadSessionMapUpdatesWindowState(t *testing.T) {
	s, _ := newTestStore(t)
	mapPath := writeSessionMap(t, map[string]sessionMapEntry{
		"mysession:claude-1": {SessionID: "sid-1", Cwd: "/home/user/proj"},
		"mysession:claude-2": {SessionID: "sid-2", Cwd: "/home/user/proj2"},
		"othersession:claude-3": {SessionID: "sid-3", Cwd: "/home/user/proj3"},
	})

	s.LoadSessionMap(mapPath, "mysession")

	ws1 := s.GetWindowState("claude-1")
	assert.Equal(t, "sid-1", ws1.SessionID)
	assert.Equal(t, "/home/user/proj", ws1.Cwd)

	ws2 := s.GetWindowState("claude-2")
	assert.Equal(t, "sid-2", ws2.SessionID)

	// entries for a different mux session are ignored
	ws3 := s.GetWindowState("claude-3")
	assert.Equal(t, "", ws3.SessionID)
}

func TestLoadSessionMapGarbageCollectsStaleWindows(t *testing.T) {
	s, _ := newTestStore(t)
	firstMap := writeSessionMap(t, map[string]sessionMapEntry{
		"mysession:claude-1": {SessionID: "sid-1", Cwd: "/home/user/proj"},
	})
	s.LoadSessionMap(firstMap, "mysession")
	require.Equal(t, "sid-1", s.GetWindowState("claude-1").SessionID)

	secondMap := writeSessionMap(t, map[string]sessionMapEntry{
		"mysession:claude-2": {SessionID: "sid-2", Cwd: "/home/user/proj2"},
	})
	s.LoadSessionMap(secondMap, "mysession")

	assert.Equal(t, "", s.GetWindowState("claude-1").SessionID)
	assert.Equal(t, "sid-2", s.GetWindowState("claude-2").SessionID)
}

func TestLoadSessionMapMissingFileIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	s.Bind(1, 2, "claude-1")

	s.LoadSessionMap("/nonexistent/session_map.json", "mysession")

	windowName, ok := s.WindowForThread(1, 2)
	require.True(t, ok)
	assert.Equal(t, "claude-1", windowName)
}

func TestLoadSessionMapMalformedIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session_map.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	s, _ := newTestStore(t)
	s.LoadSessionMap(path, "mysession")
	assert.Empty(t, s.IterBindings())
}

func TestTranscriptPath(t *testing.T) {
	path := TranscriptPath("/root/projects", "/home/user/my-project", "sess-123")
	assert.Equal(t, "/root/projects/-home-user-my-project/sess-123.log", path)

	assert.Equal(t, "", TranscriptPath("/root/projects", "", "sess-123"))
	assert.Equal(t, "", TranscriptPath("/root/projects", "/home/user", ""))
}

func TestResolveTranscriptPathDirect(t *testing.T) {
	root := t.TempDir()
	cwd := "/home/user/proj"
	sessionID := "sess-1"
	encodedDir := filepath.Join(root, "-home-user-proj")
	require.NoError(t, os.MkdirAll(encodedDir, 0o755))
	transcriptFile := filepath.Join(encodedDir, sessionID+".log")
	require.NoError(t, os.WriteFile(transcriptFile, []byte("{}\n"), 0o644))

	s, _ := newTestStore(t)
	s.LoadSessionMap(writeSessionMap(t, map[string]sessionMapEntry{
		"mux:claude-1": {SessionID: sessionID, Cwd: cwd},
	}), "mux")

	resolved, err := s.ResolveTranscriptPath(root, "claude-1")
	require.NoError(t, err)
	assert.Equal(t, transcriptFile, resolved)
}

func TestResolveTranscriptPathGlobFallback(t *testing.T) {
	root := t.TempDir()
	sessionID := "sess-2"
	mismatchedDir := filepath.Join(root, "-some-other-cwd")
	require.NoError(t, os.MkdirAll(mismatchedDir, 0o755))
	transcriptFile := filepath.Join(mismatchedDir, sessionID+".log")
	require.NoError(t, os.WriteFile(transcriptFile, []byte("{}\n"), 0o644))

	s, _ := newTestStore(t)
	s.LoadSessionMap(writeSessionMap(t, map[string]sessionMapEntry{
		"mux:claude-1": {SessionID: sessionID, Cwd: "/home/user/actual-cwd"},
	}), "mux")

	resolved, err := s.ResolveTranscriptPath(root, "claude-1")
	require.NoError(t, err)
	assert.Equal(t, transcriptFile, resolved)
}

func TestResolveTranscriptPathNoSession(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.ResolveTranscriptPath(t.TempDir(), "claude-1")
	assert.Error(t, err)
}
