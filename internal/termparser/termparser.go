// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package termparser detects Claude Code UI elements in captured terminal
// pane text: interactive UIs (AskUserQuestion, ExitPlanMode, permission
// prompts, checkpoint restores) and the bottom status line.
//
// All Claude Code text patterns live here. To support a new UI type or a
// changed Claude Code version, edit uiPatterns / statusSpinners.
package termparser

import (
	"regexp"
	"strings"
)

// InteractiveContent is the content extracted from an interactive UI region.
type InteractiveContent struct {
	Content string // the extracted display content
	Name    string // pattern name that matched (e.g. "AskUserQuestion")
}

// uiPattern is a text-marker pair that delimits an interactive UI region.
//
// Extraction scans lines top-down: the first line matching any Top pattern
// marks the start, the first subsequent line matching any Bottom pattern
// marks the end. Both boundary lines are included in the extracted content.
//
// Top and Bottom hold multiple regexes because Claude Code's wording shifts
// across versions (e.g. a reworded confirmation prompt); any single match
// in the set is sufficient.
type uiPattern struct {
	Name   string
	Top    []*regexp.Regexp
	Bottom []*regexp.Regexp
	MinGap int // minimum value of bottom index minus top index
}

// uiPatterns is tried in order — first match wins.
var uiPatterns = []uiPattern{
	{
		Name: "ExitPlanMode",
		Top: []*regexp.Regexp{
			regexp.MustCompile(`^\s*Would you like to proceed\?`),
			// v2.1.29+: longer prefix that may wrap across lines.
			regexp.MustCompile(`^\s*Claude has written up a plan`),
		},
		Bottom: []*regexp.Regexp{
			regexp.MustCompile(`^\s*ctrl-g to edit in `),
			regexp.MustCompile(`^\s*Esc to (cancel|exit)`),
		},
		MinGap: 2,
	},
	{
		Name:   "AskUserQuestion",
		Top:    []*regexp.Regexp{regexp.MustCompile(`^\s*☐`)},
		Bottom: []*regexp.Regexp{regexp.MustCompile(`^\s*Enter to select`)},
		MinGap: 1,
	},
	{
		Name: "PermissionPrompt",
		Top: []*regexp.Regexp{
			// v4.x: separator line above the command block.
			regexp.MustCompile(`^─{5,}\s*.+\s*─{5,}$`),
			// Legacy / fallback: no preceding separator.
			regexp.MustCompile(`^\s*Do you want to`),
		},
		Bottom: []*regexp.Regexp{
			regexp.MustCompile(`Esc to cancel .* Tab to amend`),
			regexp.MustCompile(`Enter confirm .* Esc cancel`),
			regexp.MustCompile(`^\s*Esc to cancel`), // legacy format
		},
		MinGap: 2,
	},
	{
		Name:   "RestoreCheckpoint",
		Top:    []*regexp.Regexp{regexp.MustCompile(`^\s*Restore the code`)},
		Bottom: []*regexp.Regexp{regexp.MustCompile(`^\s*Enter to continue`)},
		MinGap: 2,
	},
}

var longDashLine = regexp.MustCompile(`^─{5,}$`)

// shortenSeparators replaces lines of 5+ ─ characters with exactly ─────.
func shortenSeparators(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if longDashLine.MatchString(line) {
			lines[i] = "─────"
		}
	}
	return strings.Join(lines, "\n")
}

func anyMatch(patterns []*regexp.Regexp, line string) bool {
	for _, p := range patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

func tryExtract(lines []string, pattern uiPattern) *InteractiveContent {
	topIdx, bottomIdx := -1, -1

	for i, line := range lines {
		if topIdx == -1 {
			if anyMatch(pattern.Top, line) {
				topIdx = i
			}
			continue
		}
		if anyMatch(pattern.Bottom, line) {
			bottomIdx = i
			break
		}
	}

	if topIdx == -1 || bottomIdx == -1 || bottomIdx-topIdx < pattern.MinGap {
		return nil
	}

	content := strings.Join(lines[topIdx:bottomIdx+1], "\n")
	return &InteractiveContent{Content: shortenSeparators(content), Name: pattern.Name}
}

// ExtractInteractiveContent extracts content from an interactive UI in
// terminal output. Tries each UI pattern in declaration order; first match
// wins. Returns nil if no recognizable interactive UI is found.
func ExtractInteractiveContent(paneText string) *InteractiveContent {
	if paneText == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(paneText), "\n")
	for _, pattern := range uiPatterns {
		if result := tryExtract(lines, pattern); result != nil {
			return result
		}
	}
	return nil
}

// IsInteractiveUI reports whether the terminal currently shows an
// interactive UI.
func IsInteractiveUI(paneText string) bool {
	return ExtractInteractiveContent(paneText) != nil
}

// statusSpinners are the spinner characters Claude Code uses in its status line.
var statusSpinners = map[rune]bool{
	'·': true, '✻': true, '✽': true, '✶': true, '✳': true, '✢': true,
}

var (
	reCheckbox = regexp.MustCompile(`^\s*[☐☑✓]\s+(.+)`)
	reNumbered = regexp.MustCompile(`^\s*(?:❯\s*)?\d+\.\s+(.+)`)
)

// ParseCursorIndex finds the 0-based index of the currently focused option
// (the ❯ marker) among numbered or checkbox option lines. Returns 0 if no
// cursor marker is found.
func ParseCursorIndex(content string) int {
	optionIdx := 0
	for _, line := range strings.Split(content, "\n") {
		if reNumbered.MatchString(line) || reCheckbox.MatchString(line) {
			if strings.Contains(line, "❯") {
				return optionIdx
			}
			optionIdx++
		}
	}
	return 0
}

// ParseOptions parses option labels from interactive UI content. Recognizes
// "☐ Option A" / "☑ Option A" (AskUserQuestion checkboxes) and "❯ 1. Yes"
// (PermissionPrompt/ExitPlanMode numbered options).
func ParseOptions(content string) []string {
	var options []string
	for _, line := range strings.Split(content, "\n") {
		m := reNumbered.FindStringSubmatch(line)
		if m == nil {
			m = reCheckbox.FindStringSubmatch(line)
		}
		if m != nil {
			if label := strings.TrimSpace(m[1]); label != "" {
				options = append(options, label)
			}
		}
	}
	return options
}

// ParseStatusLine extracts the Claude Code status line from terminal
// output. Status lines start with a spinner character (see statusSpinners).
// Returns "", false if no status line is found.
//
// Searches from the bottom up across the last 15 non-empty lines — the
// status line sits near the bottom but may have separator lines, prompts,
// etc. below it.
func ParseStatusLine(paneText string) (string, bool) {
	if paneText == "" {
		return "", false
	}
	var window []string
	for _, l := range strings.Split(paneText, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			window = append(window, t)
		}
	}
	if len(window) > 15 {
		window = window[len(window)-15:]
	}

	for i := len(window) - 1; i >= 0; i-- {
		line := window[i]
		first := []rune(line)[0]
		if statusSpinners[first] {
			return strings.TrimSpace(string([]rune(line)[1:])), true
		}
	}
	return "", false
}
