// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transcript parses the append-only JSONL transcript log written by
// the assistant process into an ordered stream of chat-ready events, pairing
// tool_use records with their eventual tool_result across arbitrary gaps.
package transcript

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Markers wrapping thinking-block text; a downstream markdown pass renders
// the region as a collapsible blockquote.
const (
	ExpandableQuoteStart = "EXPANDABLE_QUOTE_START"
	ExpandableQuoteEnd   = "EXPANDABLE_QUOTE_END"
)

const maxToolSummaryLen = 200

// systemXMLTags are stripped wholesale (tag and body) from user text before
// any further processing.
var systemXMLTags = []string{"system-reminder", "system-warning", "system-notice"}

// ParsedEvent is one chat-ready unit derived from the transcript.
type ParsedEvent struct {
	Role        string // "user" or "assistant"
	ContentType string // "text", "local_command", "thinking", "tool_use", "tool_result"
	Text        string
	ToolUseID   string
	ToolName    string
	Timestamp   string
}

// PendingTool is a tool_use awaiting its tool_result.
type PendingTool struct {
	ToolName  string
	Input     map[string]any
	Timestamp string
}

// rawRecord is a single decoded JSONL line.
type rawRecord struct {
	Type      string      `json:"type"`
	Message   *rawMessage `json:"message,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

type rawMessage struct {
	Content json.RawMessage `json:"content"`
}

// rawBlock is a single content block; fields not applicable to a given
// block Type are simply left zero.
type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ParseLine decodes a single transcript JSONL line, returning nil for a
// blank or malformed line.
func ParseLine(line string) map[string]any {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return nil
	}
	return m
}

func decodeBlocks(raw json.RawMessage) []rawBlock {
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

// ExtractTextOnly joins every text block's Text field with newlines,
// skipping tool_use/tool_result/thinking blocks.
func ExtractTextOnly(content json.RawMessage) string {
	var s string
	if json.Unmarshal(content, &s) == nil {
		return s
	}
	blocks := decodeBlocks(content)
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ExtractToolResultText mirrors ExtractTextOnly but over a tool_result
// block's own Content field, which is either a bare string or a list of
// blocks (text blocks are joined; non-text blocks, e.g. images, are dropped).
func ExtractToolResultText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(content, &s) == nil {
		return s
	}
	blocks := decodeBlocks(content)
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func decodeInput(raw json.RawMessage) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

func truncateSummary(s string) string {
	r := []rune(s)
	if len(r) <= maxToolSummaryLen {
		return s
	}
	return string(r[:maxToolSummaryLen]) + "…"
}

// FormatToolUseSummary renders the one-line "**Tool**(primary-argument)"
// summary text for a tool_use block, selecting the primary argument by
// tool kind.
func FormatToolUseSummary(name string, input map[string]any) string {
	if input == nil {
		return fmt.Sprintf("**%s**", name)
	}

	var arg string
	switch name {
	case "Read", "Write":
		arg, _ = input["file_path"].(string)
	case "Bash":
		arg, _ = input["command"].(string)
	case "Grep", "Glob":
		arg, _ = input["pattern"].(string)
	case "WebFetch":
		arg, _ = input["url"].(string)
	case "WebSearch":
		arg, _ = input["query"].(string)
	case "TodoWrite":
		if todos, ok := input["todos"].([]any); ok {
			arg = fmt.Sprintf("%d item(s)", len(todos))
		}
	case "AskUserQuestion":
		if questions, ok := input["questions"].([]any); ok && len(questions) > 0 {
			if q, ok := questions[0].(map[string]any); ok {
				arg, _ = q["question"].(string)
			}
		}
	default:
		arg = firstStringValue(input)
	}

	if arg == "" {
		return fmt.Sprintf("**%s**", name)
	}
	return fmt.Sprintf("**%s**(%s)", name, truncateSummary(arg))
}

// firstStringValue returns the first string-typed value in an input map,
// in the JSON field order Go's decoder happens to preserve (none guaranteed
// for maps, so this is a best-effort fallback for unrecognized tools).
func firstStringValue(input map[string]any) string {
	for _, v := range input {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// formatEditDiff renders a unified-style diff between old and new strings
// via go-difflib, used for Edit tool-result text.
func formatEditDiff(oldStr, newStr string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldStr),
		B:        difflib.SplitLines(newStr),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			continue
		default:
			lines = append(lines, line)
		}
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// countLines returns the number of newline-separated lines in s, matching
// Python's len(s.split("\n")) for a non-empty string.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func quoted(text string) string {
	return ExpandableQuoteStart + "\n" + text + "\n" + ExpandableQuoteEnd
}

// formatToolResultText formats a tool_result's display text according to
// the originating tool_name.
func formatToolResultText(toolName string, resultText string, isError bool, editInfo *editCache) string {
	if isError {
		return "Error\n" + quoted(resultText)
	}
	if strings.Contains(resultText, "[Request interrupted by user") {
		return "Interrupted"
	}

	switch toolName {
	case "Read":
		return fmt.Sprintf("Read %d lines", countLines(resultText))
	case "Write":
		return fmt.Sprintf("Wrote %d lines", countLines(resultText))
	case "Edit":
		if editInfo != nil {
			diffText := formatEditDiff(editInfo.OldString, editInfo.NewString)
			added, removed := countDiffChanges(diffText)
			return fmt.Sprintf("%d line(s) added, %d line(s) removed\n%s", added, removed, diffText)
		}
		return quoted(resultText)
	case "Bash":
		return "Output:\n" + quoted(resultText)
	case "Grep":
		return fmt.Sprintf("Found %d matches\n%s", countLines(resultText), quoted(resultText))
	case "Glob":
		return fmt.Sprintf("Found %d files\n%s", countLines(resultText), quoted(resultText))
	case "WebFetch":
		return fmt.Sprintf("Fetched %d characters\n%s", len([]rune(resultText)), quoted(resultText))
	default:
		return quoted(resultText)
	}
}

type editCache struct {
	OldString string
	NewString string
}

// countDiffChanges counts +/- prefixed lines in a diff already stripped of
// its ---/+++/@@ header lines.
func countDiffChanges(diffText string) (added, removed int) {
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

var localCommandRe = regexp.MustCompile(`(?s)<command-name>(.*?)</command-name><local-command-stdout>(.*?)</local-command-stdout>`)

func stripSystemXML(text string) string {
	for _, tag := range systemXMLTags {
		re := regexp.MustCompile(`(?s)<` + tag + `>.*?</` + tag + `>`)
		text = re.ReplaceAllString(text, "")
	}
	return text
}

// ParseEntries parses a batch of decoded transcript records into
// ParsedEvents, pairing tool_use with tool_result across the call boundary
// via pendingTools.
//
// If pendingTools is nil, ParseEntries runs in one-shot mode: tools still
// pending at end-of-input (already emitted as tool_use events) are dropped
// and the returned pending map is always empty. If pendingTools is
// non-nil, it is mutated and returned, carrying unmatched tools across
// calls (streaming mode).
func ParseEntries(records []map[string]any, pendingTools map[string]*PendingTool) ([]ParsedEvent, map[string]*PendingTool) {
	oneshot := pendingTools == nil
	pending := pendingTools
	if pending == nil {
		pending = make(map[string]*PendingTool)
	}
	edits := make(map[string]*editCache)

	var events []ParsedEvent

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		var r rawRecord
		if json.Unmarshal(data, &r) != nil {
			continue
		}

		switch r.Type {
		case "user":
			if r.Message == nil {
				continue
			}
			events = append(events, parseUserRecord(r, pending, edits)...)
		case "assistant":
			if r.Message == nil {
				continue
			}
			events = append(events, parseAssistantRecord(r, pending, edits)...)
		default:
			// "summary" and any other record kinds carry no chat content.
		}
	}

	if oneshot {
		// Every tool_use is already emitted inline as it's encountered (see
		// parseAssistantRecord); orphaned entries here simply never get a
		// matching tool_result. One-shot mode discards the carry-over state
		// rather than threading it to a caller that will never call back.
		pending = make(map[string]*PendingTool)
	}

	return events, pending
}

func parseUserRecord(r rawRecord, pending map[string]*PendingTool, edits map[string]*editCache) []ParsedEvent {
	blocks := decodeBlocks(r.Message.Content)
	if blocks == nil {
		return nil
	}

	var events []ParsedEvent
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if ev, ok := parseUserText(b.Text, r.Timestamp); ok {
				events = append(events, ev)
			}
		case "tool_result":
			tool, ok := pending[b.ToolUseID]
			if !ok {
				continue
			}
			resultText := ExtractToolResultText(b.Content)
			text := formatToolResultText(tool.ToolName, resultText, b.IsError, edits[b.ToolUseID])
			events = append(events, ParsedEvent{
				Role:        "user",
				ContentType: "tool_result",
				Text:        text,
				ToolUseID:   b.ToolUseID,
				ToolName:    tool.ToolName,
				Timestamp:   r.Timestamp,
			})
			delete(pending, b.ToolUseID)
			delete(edits, b.ToolUseID)
		}
	}
	return events
}

func parseUserText(text string, timestamp string) (ParsedEvent, bool) {
	text = stripSystemXML(text)
	if m := localCommandRe.FindStringSubmatch(text); m != nil {
		name := strings.TrimSpace(m[1])
		stdout := strings.TrimSpace(m[2])
		return ParsedEvent{
			Role:        "user",
			ContentType: "local_command",
			Text:        fmt.Sprintf("/%s\n%s", name, stdout),
			Timestamp:   timestamp,
		}, true
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ParsedEvent{}, false
	}
	return ParsedEvent{Role: "user", ContentType: "text", Text: text, Timestamp: timestamp}, true
}

func parseAssistantRecord(r rawRecord, pending map[string]*PendingTool, edits map[string]*editCache) []ParsedEvent {
	blocks := decodeBlocks(r.Message.Content)
	if blocks == nil {
		return nil
	}

	var events []ParsedEvent
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text == "" || b.Text == "(no content)" {
				continue
			}
			events = append(events, ParsedEvent{
				Role: "assistant", ContentType: "text", Text: b.Text, Timestamp: r.Timestamp,
			})
		case "thinking":
			events = append(events, ParsedEvent{
				Role:        "assistant",
				ContentType: "thinking",
				Text:        quoted(b.Thinking),
				Timestamp:   r.Timestamp,
			})
		case "tool_use":
			input, _ := decodeInput(b.Input)

			if b.Name == "ExitPlanMode" {
				if plan, _ := input["plan"].(string); plan != "" {
					events = append(events, ParsedEvent{
						Role: "assistant", ContentType: "text", Text: plan, Timestamp: r.Timestamp,
					})
				}
			}
			if b.Name == "Edit" {
				oldStr, _ := input["old_string"].(string)
				newStr, _ := input["new_string"].(string)
				edits[b.ID] = &editCache{OldString: oldStr, NewString: newStr}
			}

			pending[b.ID] = &PendingTool{ToolName: b.Name, Input: input, Timestamp: r.Timestamp}
			events = append(events, ParsedEvent{
				Role:        "assistant",
				ContentType: "tool_use",
				Text:        FormatToolUseSummary(b.Name, input),
				ToolUseID:   b.ID,
				ToolName:    b.Name,
				Timestamp:   r.Timestamp,
			})
		}
	}
	return events
}
