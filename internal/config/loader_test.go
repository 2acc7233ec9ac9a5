// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load_ValidConfig(t *testing.T) {
	configContent := `{
		version: "1.0"
		project: {
			name: "test-project"
			description: "A test project"
		}
		server: {
			port: 8080
			host: "127.0.0.1"
		}
		chat: {
			token: "bot-token"
			allowed_recipients: [111, 222]
		}
		multiplexer: {
			backend: "tmux"
			session_name: "bridge"
			main_window: "main"
		}
		assistant: {
			command: "claude"
		}
		paths: {
			root: "/srv/transcripts"
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "test-project", cfg.Project.Name)
	assert.Equal(t, "A test project", cfg.Project.Description)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "bot-token", cfg.Chat.Token)
	assert.Equal(t, []int64{111, 222}, cfg.Chat.AllowedRecipients)
	assert.Equal(t, "tmux", cfg.Multiplexer.Backend)
	assert.Equal(t, "claude", cfg.Assistant.Command)
	assert.Equal(t, "/srv/transcripts", cfg.Paths.TranscriptRoot)
}

func TestLoader_Load_HJSONFeatures(t *testing.T) {
	// Test HJSON-specific features: comments, unquoted keys, trailing commas
	configContent := `{
		// This is a comment
		version: "1.0"

		# Hash comment
		project: {
			name: test-project
			description: '''
				Multi-line
				description
			'''
		}

		server: {
			port: 8080,
			host: 127.0.0.1,
		}

		chat: {
			token: abc123,
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "test-project", cfg.Project.Name)
	assert.Contains(t, cfg.Project.Description, "Multi-line")
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "abc123", cfg.Chat.Token)
}

func TestLoader_Load_AllBridgeSections(t *testing.T) {
	configContent := `{
		version: "1.0"

		project: {
			name: "full-project"
		}

		server: {
			port: 1000
			host: "0.0.0.0"
		}

		chat: {
			token: "bot-token"
			allowed_recipients: [42]
		}

		recipients: {
			allowed: [42]
		}

		multiplexer: {
			backend: "zellij"
			session_name: "dev"
			main_window: "editor"
		}

		assistant: {
			command: "claude --dangerously-skip-permissions"
		}

		paths: {
			root: "/srv/transcripts"
			state_dir: "/srv/state"
		}

		monitor: {
			poll_interval_s: "1s"
			show_user_messages: true
		}

		browse: {
			start_path: "/srv/worktrees"
		}

		notify: {
			mode: "interactive"
		}

		diagnostics: {
			listen_addr: ":9090"
		}

		logging: {
			level: "debug"
			format: "text"
		}

		log: {
			level: "debug"
			format: "json"
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "zellij", cfg.Multiplexer.Backend)
	assert.Equal(t, "dev", cfg.Multiplexer.SessionName)
	assert.Equal(t, "editor", cfg.Multiplexer.MainWindow)
	assert.Equal(t, "claude --dangerously-skip-permissions", cfg.Assistant.Command)
	assert.Equal(t, "/srv/transcripts", cfg.Paths.TranscriptRoot)
	assert.Equal(t, "/srv/state", cfg.Paths.StateDir)
	assert.Equal(t, "1s", cfg.Monitor.PollInterval)
	assert.True(t, cfg.Monitor.ShowUserMessages)
	assert.Equal(t, "/srv/worktrees", cfg.Browse.StartPath)
	assert.Equal(t, "interactive", cfg.Notify.Mode)
	assert.Equal(t, ":9090", cfg.Diagnostics.ListenAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []int64{42}, cfg.Recipients.Allowed)
}

func TestLoader_Load_Defaults(t *testing.T) {
	configContent := `{
		version: "1.0"
		project: { name: "test" }
	}`

	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), writeTestConfig(t, configContent))
	require.NoError(t, err)

	// Check defaults are applied
	assert.Equal(t, 1000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "tmux", cfg.Multiplexer.Backend)
	assert.Equal(t, "bridge", cfg.Multiplexer.SessionName)
	assert.Equal(t, "main", cfg.Multiplexer.MainWindow)
	assert.Equal(t, "2s", cfg.Monitor.PollInterval)
	assert.Equal(t, "full", cfg.Notify.Mode)
}

func TestLoader_Load_FileNotFound(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load(context.Background(), "/nonexistent/path/config.hjson")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoader_Load_InvalidHJSON(t *testing.T) {
	configContent := `{
		version: "1.0"
		invalid json here {{{
	}`

	loader := NewLoader()
	path := writeTestConfig(t, configContent)
	_, err := loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoader_Load_ConfigPaths(t *testing.T) {
	dir := t.TempDir()

	hjsonPath := filepath.Join(dir, "bridge.hjson")
	require.NoError(t, os.WriteFile(hjsonPath, []byte(`{version: "1.0", project: {name: "hjson"}}`), 0644))

	jsonPath := filepath.Join(dir, "bridge.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"version": "1.0", "project": {"name": "json"}}`), 0644))

	loader := NewLoader()

	// Explicit path takes precedence
	cfg, err := loader.Load(context.Background(), hjsonPath)
	require.NoError(t, err)
	assert.Equal(t, "hjson", cfg.Project.Name)

	// Can also load JSON
	cfg, err = loader.Load(context.Background(), jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Project.Name)
}

func TestLoader_FindConfig(t *testing.T) {
	dir := t.TempDir()
	originalWd, _ := os.Getwd()
	defer os.Chdir(originalWd)
	os.Chdir(dir)

	loader := NewLoader()

	// No config file exists
	_, err := loader.FindConfig()
	assert.Error(t, err)

	// Create bridge.hjson
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bridge.hjson"), []byte(`{}`), 0644))
	path, err := loader.FindConfig()
	require.NoError(t, err)
	assert.Contains(t, path, "bridge.hjson")

	// Remove hjson, create json - json should be found
	os.Remove(filepath.Join(dir, "bridge.hjson"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bridge.json"), []byte(`{}`), 0644))
	path, err = loader.FindConfig()
	require.NoError(t, err)
	assert.Contains(t, path, "bridge.json")
}

// Helper functions

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := writeTestConfig(t, content)
	loader := NewLoader()
	cfg, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	return cfg
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
