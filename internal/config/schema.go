// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading and template expansion.
package config

import (
	"time"
)

// Config is the root configuration structure for the bridge.
type Config struct {
	Version string        `json:"version"`
	Project ProjectConfig `json:"project"`
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`

	Chat        Chat        `json:"chat"`
	Recipients  Recipients  `json:"recipients"`
	Multiplexer Multiplexer `json:"multiplexer"`
	Assistant   Assistant   `json:"assistant"`
	Paths       Paths       `json:"paths"`
	Monitor     Monitor     `json:"monitor"`
	Browse      Browse      `json:"browse"`
	Notify      Notify      `json:"notify"`
	Diagnostics Diagnostics `json:"diagnostics"`
	Log         Log         `json:"log"`
}

// Recipients configures which chat ids may bind topics to windows.
type Recipients struct {
	Allowed []int64 `json:"allowed"`
}

// ProjectConfig contains project metadata, used as template context when
// expanding path and command values.
type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServerConfig configures the diagnostics HTTP server.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"` // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey  string `json:"tls_key"`  // Path to TLS private key file
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "json", "text"
}

// TemplateContext provides data for template expansion of config values
// such as paths.root and assistant.command.
type TemplateContext struct {
	Project ProjectTemplateData
}

// ProjectTemplateData provides project data for templates.
type ProjectTemplateData struct {
	Root string
	Name string
}

// ParseDuration parses a duration string, returning a default if empty.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
