// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"log"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

func (d *Dispatcher) handleCallback(ctx context.Context, cb *models.CallbackQuery) {
	if cb.Message.Message == nil || !d.allowed(cb.Message.Message.Chat.ID) {
		return
	}
	d.bot.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{CallbackQueryID: cb.ID})

	chatID := cb.Message.Message.Chat.ID
	threadID := int64(cb.Message.Message.MessageThreadID)
	data := cb.Data

	switch {
	case strings.HasPrefix(data, cbDirSelect), data == cbDirUp, data == cbDirConfirm, data == cbDirCancel, strings.HasPrefix(data, cbDirPage):
		d.handleDirectoryCallback(ctx, chatID, threadID, int64(cb.Message.Message.ID), data)

	case strings.HasPrefix(data, cbHistoryPrev), strings.HasPrefix(data, cbHistoryNext):
		// History pagination is acknowledged but not rendered — this
		// bridge doesn't keep a browsable transcript-page store.
		log.Printf("bridge/chat: history pagination callback %q ignored (no history view configured)", data)

	case strings.HasPrefix(data, cbScreenshotRefresh):
		d.handleScreenshotRefresh(ctx, chatID, threadID)

	case strings.HasPrefix(data, "aq:"):
		d.handleAskCallback(ctx, chatID, threadID, data)
	}
}

func (d *Dispatcher) handleDirectoryCallback(ctx context.Context, chatID, threadID, messageID int64, data string) {
	key := pendingKey{chatID, threadID}
	d.mu.Lock()
	state, ok := d.browse[key]
	d.mu.Unlock()
	if !ok {
		return
	}

	switch {
	case data == cbDirCancel:
		d.mu.Lock()
		delete(d.browse, key)
		delete(d.pending, key)
		d.mu.Unlock()
		d.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{ChatID: chatID, MessageID: int(messageID)})

	case data == cbDirUp:
		parent := parentDir(state.Path)
		d.refreshDirectoryBrowser(ctx, chatID, threadID, messageID, parent, 0)

	case data == cbDirConfirm:
		d.confirmDirectory(ctx, chatID, threadID, state.Path)
		d.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{ChatID: chatID, MessageID: int(messageID)})

	case strings.HasPrefix(data, cbDirPage):
		if n, ok := parseIndexSuffix(data, cbDirPage); ok {
			d.refreshDirectoryBrowser(ctx, chatID, threadID, messageID, state.Path, n)
		}

	case strings.HasPrefix(data, cbDirSelect):
		idx, ok := parseIndexSuffix(data, cbDirSelect)
		if !ok || idx < 0 || idx >= len(state.Dirs) {
			return
		}
		next := state.Path + "/" + state.Dirs[idx]
		d.refreshDirectoryBrowser(ctx, chatID, threadID, messageID, next, 0)
	}
}

func (d *Dispatcher) refreshDirectoryBrowser(ctx context.Context, chatID, threadID, messageID int64, path string, page int) {
	text, kb, dirs := buildDirectoryBrowser(path, page)
	key := pendingKey{chatID, threadID}
	d.mu.Lock()
	d.browse[key] = &browseState{Path: path, Page: page, Dirs: dirs}
	d.mu.Unlock()

	d.bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   int(messageID),
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: kb,
	})
}

func parentDir(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

// handleScreenshotRefresh re-sends the interactive-UI keyboard's backing
// message by clearing the poller's cached "last text" for the window, which
// forces the next poll tick to treat the pane content as changed.
func (d *Dispatcher) handleScreenshotRefresh(ctx context.Context, chatID, threadID int64) {
	if windowName, ok := d.poller.InteractiveWindow(chatID, threadID); ok {
		d.poller.ClearInteractiveState(chatID, threadID)
		d.poller.SetInteractiveMode(chatID, threadID, windowName, "")
	}
}

// handleAskCallback maps an interactive-prompt button press to multiplexer
// keystrokes. Arrow/Enter/Escape/Refresh map directly; an option-index
// button (from an AskUserQuestion option list, keyed by option position)
// presses Up once per position of the reported cursor to reach the top,
// then Down once per position of the target index, before confirming with
// Enter, per §4.7's option-index-based answer.
func (d *Dispatcher) handleAskCallback(ctx context.Context, chatID, threadID int64, data string) {
	windowName, ok := d.poller.InteractiveWindow(chatID, threadID)
	if !ok {
		return
	}
	if strings.HasPrefix(data, cbAskRefres) {
		d.handleScreenshotRefresh(ctx, chatID, threadID)
		return
	}

	windowID, err := d.resolveWindowID(ctx, windowName)
	if err != nil {
		log.Printf("bridge/chat: %v", err)
		return
	}

	switch {
	case strings.HasPrefix(data, cbAskUp):
		d.driver.SendKeys(ctx, windowID, "Up", false, false)
	case strings.HasPrefix(data, cbAskDown):
		d.driver.SendKeys(ctx, windowID, "Down", false, false)
	case strings.HasPrefix(data, cbAskLeft):
		d.driver.SendKeys(ctx, windowID, "Left", false, false)
	case strings.HasPrefix(data, cbAskRight):
		d.driver.SendKeys(ctx, windowID, "Right", false, false)
	case strings.HasPrefix(data, cbAskEsc):
		d.driver.SendKeys(ctx, windowID, "Escape", false, false)
	case strings.HasPrefix(data, cbAskEnter):
		d.driver.SendKeys(ctx, windowID, "Enter", false, false)
	case strings.HasPrefix(data, cbAskOption):
		suffix := strings.TrimPrefix(data, cbAskOption)
		parts := strings.SplitN(suffix, ":", 2)
		if len(parts) != 2 {
			return
		}
		cursor, err1 := strconv.Atoi(parts[0])
		target, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return
		}
		d.selectOption(ctx, windowID, cursor, target)
	}
}

func (d *Dispatcher) selectOption(ctx context.Context, windowID string, cursor, target int) {
	for i := 0; i < cursor; i++ {
		d.driver.SendKeys(ctx, windowID, "Up", false, false)
	}
	for i := 0; i < target; i++ {
		d.driver.SendKeys(ctx, windowID, "Down", false, false)
	}
	d.driver.SendKeys(ctx, windowID, "Enter", false, false)
}
