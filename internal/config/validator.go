// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateRequired(cfg, errs)
	v.validateServer(cfg, errs)
	v.validateLogging(cfg, errs)
	v.validateBridge(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateRequired(cfg *Config, errs *ValidationError) {
	if cfg.Version == "" {
		errs.Add("version", "is required")
	}
	if cfg.Project.Name == "" {
		errs.Add("project.name", "is required")
	}
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port != 0 {
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			errs.Add("server.port", "must be between 0 and 65535")
		}
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}

	if cfg.Logging.Format != "" {
		validFormats := map[string]bool{
			"json": true,
			"text": true,
		}
		if !validFormats[cfg.Logging.Format] {
			errs.Add("logging.format", fmt.Sprintf("invalid format '%s', must be one of: json, text", cfg.Logging.Format))
		}
	}
}

func (v *Validator) validateBridge(cfg *Config, errs *ValidationError) {
	if cfg.Chat.Token == "" {
		errs.Add("chat.token", "is required")
	}
	if cfg.Multiplexer.Backend != "" && cfg.Multiplexer.Backend != "tmux" && cfg.Multiplexer.Backend != "zellij" {
		errs.Add("multiplexer.backend", "must be 'tmux' or 'zellij'")
	}
	if cfg.Assistant.Command == "" {
		errs.Add("assistant.command", "is required")
	}
	if cfg.Paths.TranscriptRoot == "" {
		errs.Add("paths.root", "is required")
	}
	if cfg.Monitor.PollInterval != "" {
		if d, err := time.ParseDuration(cfg.Monitor.PollInterval); err != nil {
			errs.Add("monitor.poll_interval_s", fmt.Sprintf("invalid duration format: %s", err))
		} else if d <= 0 {
			errs.Add("monitor.poll_interval_s", "must be positive")
		}
	}
	if cfg.Notify.Mode != "" && cfg.Notify.Mode != "full" && cfg.Notify.Mode != "interactive" {
		errs.Add("notify.mode", "must be 'full' or 'interactive'")
	}
	if cfg.Log.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[cfg.Log.Level] {
			errs.Add("log.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Log.Level))
		}
	}
	if cfg.Log.Format != "" && cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		errs.Add("log.format", fmt.Sprintf("invalid format '%s', must be one of: json, text", cfg.Log.Format))
	}
}
