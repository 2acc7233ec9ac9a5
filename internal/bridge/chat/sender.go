// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/wingedpig/trellis/internal/bridge/poller"
	"github.com/wingedpig/trellis/internal/terminal"
	"github.com/wingedpig/trellis/internal/termparser"
)

// telegramClient is the shared core the two role-specific senders below
// embed. Kept separate from Dispatcher so it can be constructed and tested
// without the rest of the dispatcher's handler plumbing.
type telegramClient struct {
	bot *bot.Bot
}

func (c *telegramClient) send(ctx context.Context, chatID, threadID int64, text string, kb models.ReplyMarkup) (int64, error) {
	html := renderHTML(text)
	params := &bot.SendMessageParams{
		ChatID:          chatID,
		MessageThreadID: int(threadID),
		Text:            html,
		ParseMode:       models.ParseModeHTML,
		ReplyMarkup:     kb,
	}
	msg, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		// Telegram rejects malformed HTML outright; fall back to an
		// unparsed plain-text send rather than dropping the message.
		params.Text = plainFallback(text)
		params.ParseMode = ""
		msg, err = c.bot.SendMessage(ctx, params)
	}
	if err != nil {
		return 0, wrapTopicErr(chatID, threadID, err)
	}
	return int64(msg.ID), nil
}

func (c *telegramClient) edit(ctx context.Context, chatID, messageID int64, text string, kb models.ReplyMarkup) error {
	params := &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   int(messageID),
		Text:        renderHTML(text),
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: kb,
	}
	if _, err := c.bot.EditMessageText(ctx, params); err != nil {
		params.Text = plainFallback(text)
		params.ParseMode = ""
		if _, err2 := c.bot.EditMessageText(ctx, params); err2 != nil {
			return wrapTopicErr(chatID, 0, err2)
		}
		return nil
	}
	return nil
}

func (c *telegramClient) delete(ctx context.Context, chatID, messageID int64) error {
	_, err := c.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: int(messageID)})
	return err
}

// wrapTopicErr recognizes the handful of Bot API error strings Telegram
// returns for a deleted forum topic and turns them into a
// poller.TopicInvalidError so callers can unbind instead of retrying.
func wrapTopicErr(chatID, threadID int64, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "thread not found") || strings.Contains(msg, "topic_deleted") || strings.Contains(msg, "topic deleted") {
		return &poller.TopicInvalidError{ChatID: chatID, ThreadID: threadID}
	}
	return err
}

// contentSender implements queue.Sender: HTML-rendered delivery (plain
// text only as a fallback) with no keyboard, used for ordinary transcript
// content and status messages.
type contentSender struct{ *telegramClient }

func newContentSender(b *bot.Bot) *contentSender {
	return &contentSender{&telegramClient{bot: b}}
}

func (s *contentSender) SendMessage(ctx context.Context, chatID, threadID int64, text string) (int64, error) {
	return s.send(ctx, chatID, threadID, text, nil)
}

func (s *contentSender) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	return s.edit(ctx, chatID, messageID, text, nil)
}

func (s *contentSender) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return s.delete(ctx, chatID, messageID)
}

func (s *contentSender) SendTyping(ctx context.Context, chatID, threadID int64) error {
	_, err := s.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID:          chatID,
		MessageThreadID: int(threadID),
		Action:          models.ChatActionTyping,
	})
	return err
}

// interactiveSender implements poller.InteractiveSender: the same
// delivery plumbing, plus the inline keyboard that makes a prompt
// answerable from the chat and the periodic topic-existence probe.
type interactiveSender struct {
	*telegramClient
	muxSessionName string
}

func newInteractiveSender(b *bot.Bot, muxSessionName string) *interactiveSender {
	return &interactiveSender{&telegramClient{bot: b}, muxSessionName}
}

func (s *interactiveSender) SendMessage(ctx context.Context, chatID, threadID int64, text string, kb poller.InteractiveKeyboard) (int64, error) {
	return s.send(ctx, chatID, threadID, text, buildInteractiveKeyboard(kb))
}

func (s *interactiveSender) EditMessage(ctx context.Context, chatID, messageID int64, text string, kb poller.InteractiveKeyboard) error {
	return s.edit(ctx, chatID, messageID, text, buildInteractiveKeyboard(kb))
}

func (s *interactiveSender) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return s.delete(ctx, chatID, messageID)
}

// ProbeTopic issues an unpin-all-messages call scoped to the topic. The call
// has no visible effect in the common case (nothing pinned) and Telegram
// rejects it with a thread-not-found error once the topic is deleted.
func (s *interactiveSender) ProbeTopic(ctx context.Context, chatID, threadID int64) error {
	_, err := s.bot.UnpinAllForumTopicMessages(ctx, &bot.UnpinAllForumTopicMessagesParams{
		ChatID:          chatID,
		MessageThreadID: int(threadID),
	})
	if err == nil {
		return nil
	}
	if wrapped := wrapTopicErr(chatID, threadID, err); wrapped != err {
		return wrapped
	}
	return nil // transient/unrelated error: ignored, never tears down a binding
}

// buildInteractiveKeyboard renders the arrow/enter/escape/refresh inline
// keyboard for an in-progress interactive-UI prompt. VerticalOnly drops the
// left/right row, used for RestoreCheckpoint which only ever needs up/down.
func buildInteractiveKeyboard(kb poller.InteractiveKeyboard) *models.InlineKeyboardMarkup {
	rows := [][]models.InlineKeyboardButton{
		{{Text: "▲", CallbackData: cbAskUp + kb.WindowName}},
	}
	if !kb.VerticalOnly {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "◀", CallbackData: cbAskLeft + kb.WindowName},
			{Text: "✓ Enter", CallbackData: cbAskEnter + kb.WindowName},
			{Text: "▶", CallbackData: cbAskRight + kb.WindowName},
		})
	} else {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "✓ Enter", CallbackData: cbAskEnter + kb.WindowName},
		})
	}
	rows = append(rows,
		[]models.InlineKeyboardButton{{Text: "▼", CallbackData: cbAskDown + kb.WindowName}},
		[]models.InlineKeyboardButton{
			{Text: "Esc", CallbackData: cbAskEsc + kb.WindowName},
			{Text: "↻ Refresh", CallbackData: cbAskRefres + kb.WindowName},
		},
	)
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// paneStatusReader implements queue.PaneStatusReader by capturing the
// window's current pane and extracting its status line, without the queue
// package ever importing the terminal/termparser packages directly.
type paneStatusReader struct {
	driver terminal.Driver
}

func newPaneStatusReader(d terminal.Driver) *paneStatusReader {
	return &paneStatusReader{driver: d}
}

func (r *paneStatusReader) StatusLine(ctx context.Context, windowName string) (string, bool) {
	window, err := terminal.FindWindowByName(ctx, r.driver, windowName)
	if err != nil || window == nil {
		return "", false
	}
	screen, err := r.driver.CapturePane(ctx, window.WindowID, false)
	if err != nil {
		return "", false
	}
	return termparser.ParseStatusLine(screen)
}
