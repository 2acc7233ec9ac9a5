// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package termparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	paneAskUserQuestion = "  ☐ Option A\n" +
		"  ☐ Option B\n" +
		"  ☐ Option C (Recommended)\n" +
		"\n" +
		"  Enter to select, arrows to navigate\n"

	paneExitPlanMode = "  Would you like to proceed?\n" +
		"\n" +
		"  Some plan description here\n" +
		"  with multiple lines\n" +
		"\n" +
		"  ctrl-g to edit in editor\n"

	paneExitPlanModeV2 = "  Claude has written up a plan for this task\n" +
		"\n" +
		"  1. Step one\n" +
		"  2. Step two\n" +
		"\n" +
		"  Esc to cancel\n"

	panePermissionPrompt = "  Do you want to proceed?\n" +
		"\n" +
		"  Allow running: rm -rf temp/\n" +
		"\n" +
		"  Esc to cancel\n"

	paneRestoreCheckpoint = "  Restore the code to this checkpoint?\n" +
		"\n" +
		"  Files changed: 3\n" +
		"  Lines changed: +42 / -18\n" +
		"\n" +
		"  Enter to continue\n"

	panePlainText = "Hello, this is just a normal terminal output.\n" +
		"Nothing interactive here.\n"

	paneStatusDot = "Some output above\n" +
		"\n" +
		"· Reading files...\n"

	paneStatusStar = "Previous content\n" +
		"\n" +
		"✻ Working on task...\n"
)

func TestIsInteractiveUI(t *testing.T) {
	assert.True(t, IsInteractiveUI(paneAskUserQuestion))
	assert.True(t, IsInteractiveUI(paneExitPlanMode))
	assert.True(t, IsInteractiveUI(paneExitPlanModeV2))
	assert.True(t, IsInteractiveUI(panePermissionPrompt))
	assert.True(t, IsInteractiveUI(paneRestoreCheckpoint))
	assert.False(t, IsInteractiveUI(panePlainText))
}

func TestExtractInteractiveContent(t *testing.T) {
	result := ExtractInteractiveContent(paneAskUserQuestion)
	if assert.NotNil(t, result) {
		assert.Equal(t, "AskUserQuestion", result.Name)
		assert.Contains(t, result.Content, "Option A")
	}

	result = ExtractInteractiveContent(paneExitPlanMode)
	if assert.NotNil(t, result) {
		assert.Equal(t, "ExitPlanMode", result.Name)
		assert.Contains(t, result.Content, "plan description")
	}

	result = ExtractInteractiveContent(panePermissionPrompt)
	if assert.NotNil(t, result) {
		assert.Equal(t, "PermissionPrompt", result.Name)
		assert.Contains(t, result.Content, "rm -rf")
	}

	assert.Nil(t, ExtractInteractiveContent(""))
	assert.Nil(t, ExtractInteractiveContent(panePlainText))
}

func TestLongSeparatorShortening(t *testing.T) {
	// shortenSeparators only shortens lines that are EXACTLY dashes (no leading spaces).
	pane := "  Would you like to proceed?\n" +
		"\n" +
		"──────────────────────────────────────\n" +
		"  Some plan content\n" +
		"\n" +
		"  ctrl-g to edit in editor\n"

	result := ExtractInteractiveContent(pane)
	if assert.NotNil(t, result) {
		assert.Contains(t, result.Content, "─────\n")
		assert.NotContains(t, result.Content, "──────────────────────────────────────")
	}
}

func TestParseCursorIndex(t *testing.T) {
	content := "  ❯ 1. Yes\n    2. No\n    3. Maybe\n"
	assert.Equal(t, 0, ParseCursorIndex(content))

	content = "    1. Yes\n  ❯ 2. No\n    3. Maybe\n"
	assert.Equal(t, 1, ParseCursorIndex(content))

	assert.Equal(t, 0, ParseCursorIndex("no options here"))
}

func TestParseOptions(t *testing.T) {
	assert.Equal(t, []string{"Option A", "Option B", "Option C (Recommended)"},
		ParseOptions(paneAskUserQuestion))

	content := "  ❯ 1. Yes\n    2. No\n"
	assert.Equal(t, []string{"Yes", "No"}, ParseOptions(content))

	assert.Empty(t, ParseOptions(panePlainText))
}

func TestParseStatusLine(t *testing.T) {
	line, ok := ParseStatusLine(paneStatusDot)
	assert.True(t, ok)
	assert.Equal(t, "Reading files...", line)

	line, ok = ParseStatusLine(paneStatusStar)
	assert.True(t, ok)
	assert.Equal(t, "Working on task...", line)

	_, ok = ParseStatusLine(panePlainText)
	assert.False(t, ok)

	_, ok = ParseStatusLine("")
	assert.False(t, ok)
}
