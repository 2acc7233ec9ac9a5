// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

// Chat configures the chat-platform connection the bridge dispatches
// through.
type Chat struct {
	Token             string  `json:"token"`
	AllowedRecipients []int64 `json:"allowed_recipients"`
}

// Multiplexer configures the terminal multiplexer backend the bridge
// drives.
type Multiplexer struct {
	Backend     string `json:"backend"` // "tmux" | "zellij"
	SessionName string `json:"session_name"`
	MainWindow  string `json:"main_window"`
}

// Assistant configures the command launched in each new window.
type Assistant struct {
	Command string `json:"command"`
}

// Paths configures where the bridge reads and writes its working files.
type Paths struct {
	TranscriptRoot string `json:"root"`
	StateDir       string `json:"state_dir"`
}

// Monitor configures the transcript-tailing poll loop.
type Monitor struct {
	PollInterval     string `json:"poll_interval_s"`
	ShowUserMessages bool   `json:"show_user_messages"`
}

// Browse configures the inline directory browser's starting point.
type Browse struct {
	StartPath string `json:"start_path"`
}

// Notify configures how much assistant activity is surfaced to chat.
type Notify struct {
	Mode string `json:"mode"` // "full" | "interactive"
}

// Diagnostics configures the optional operator-facing HTTP surface.
type Diagnostics struct {
	ListenAddr string `json:"listen_addr"` // empty disables it
}

// Log configures ambient process logging, independent of the top-level
// LoggingConfig (the "logging" section).
type Log struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "json", "text"
}

// applyBridgeDefaults fills in default values for the bridge's own config
// sections. Called from applyDefaults alongside the teacher's own
// defaulting.
func applyBridgeDefaults(cfg *Config) {
	if cfg.Multiplexer.Backend == "" {
		cfg.Multiplexer.Backend = "tmux"
	}
	if cfg.Multiplexer.SessionName == "" {
		cfg.Multiplexer.SessionName = "bridge"
	}
	if cfg.Multiplexer.MainWindow == "" {
		cfg.Multiplexer.MainWindow = "main"
	}
	if cfg.Monitor.PollInterval == "" {
		cfg.Monitor.PollInterval = "2s"
	}
	if cfg.Notify.Mode == "" {
		cfg.Notify.Mode = "full"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Paths.StateDir == "" {
		cfg.Paths.StateDir = ".bridge"
	}
}
