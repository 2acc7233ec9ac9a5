// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyBridgeDefaults(t *testing.T) {
	cfg := &Config{}
	applyBridgeDefaults(cfg)

	assert.Equal(t, "tmux", cfg.Multiplexer.Backend)
	assert.Equal(t, "bridge", cfg.Multiplexer.SessionName)
	assert.Equal(t, "main", cfg.Multiplexer.MainWindow)
	assert.Equal(t, "2s", cfg.Monitor.PollInterval)
	assert.Equal(t, "full", cfg.Notify.Mode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ".bridge", cfg.Paths.StateDir)
}

func TestApplyBridgeDefaultsDoesNotOverride(t *testing.T) {
	cfg := &Config{Multiplexer: Multiplexer{Backend: "zellij"}, Notify: Notify{Mode: "interactive"}}
	applyBridgeDefaults(cfg)

	assert.Equal(t, "zellij", cfg.Multiplexer.Backend)
	assert.Equal(t, "interactive", cfg.Notify.Mode)
}

func TestValidateBridgeRequiresToken(t *testing.T) {
	cfg := &Config{
		Version:     "1",
		Project:     ProjectConfig{Name: "test"},
		Assistant:   Assistant{Command: "claude"},
		Paths:       Paths{TranscriptRoot: "/tmp/root"},
		Multiplexer: Multiplexer{Backend: "tmux"},
	}
	v := NewValidator()
	err := v.Validate(cfg)
	require := assert.New(t)
	require.Error(err)
	assert.Contains(t, err.Error(), "chat.token")
}

func TestValidateBridgeRejectsBadMultiplexerBackend(t *testing.T) {
	cfg := &Config{
		Version:     "1",
		Project:     ProjectConfig{Name: "test"},
		Chat:        Chat{Token: "x"},
		Assistant:   Assistant{Command: "claude"},
		Paths:       Paths{TranscriptRoot: "/tmp/root"},
		Multiplexer: Multiplexer{Backend: "screen"},
	}
	v := NewValidator()
	err := v.Validate(cfg)
	assert.ErrorContains(t, err, "multiplexer.backend")
}
