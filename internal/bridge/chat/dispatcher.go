// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package chat is the Telegram-facing half of the bridge: it turns forum
// topic messages and inline button presses into terminal keystrokes, and
// owns the handful of multi-step conversations (directory picking,
// AskUserQuestion option selection) that need state between updates.
package chat

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/wingedpig/trellis/internal/bridge/poller"
	"github.com/wingedpig/trellis/internal/bridge/queue"
	"github.com/wingedpig/trellis/internal/bridge/store"
	"github.com/wingedpig/trellis/internal/terminal"
)

// Config controls dispatcher behavior.
type Config struct {
	AllowedChatIDs  []int64
	BrowseStartPath string
	MuxSessionName  string
	SessionMapPath  string
}

type pendingKey struct {
	ChatID, ThreadID int64
}

// Dispatcher owns the Telegram bot instance and every piece of
// conversation state the chat side needs that doesn't belong in the
// persisted store: pending text waiting on a working-directory choice, and
// an in-progress directory browse. Both are lost on restart by design —
// cleanup.go's Python ancestor treats this the same way, as ephemeral
// per-topic UI state rather than durable data.
type Dispatcher struct {
	cfg    Config
	bot    *tgbot.Bot
	driver terminal.Driver
	store  *store.Store
	queue  *queue.Dispatcher
	poller *poller.Poller

	content     *contentSender
	interactive *interactiveSender

	mu      sync.Mutex
	pending map[pendingKey]string       // unbound-topic text awaiting a directory
	browse  map[pendingKey]*browseState // in-progress directory browser
}

// NewClient constructs a Dispatcher and its underlying Telegram bot client,
// registering d.handleUpdate as the bot's default update handler, but leaves
// the queue dispatcher, poller, and store unset. Those three depend on the
// Sender/InteractiveSender/PaneStatusReader adapters this Dispatcher
// produces, and this Dispatcher's own update handling depends on them in
// turn — Wire closes that cycle once the caller has built them. The
// handleUpdate method value captures d by pointer, so registering it before
// Wire is safe: the bot won't start delivering updates until Run is called,
// by which point Wire has already filled in the remaining fields.
func NewClient(cfg Config, token string, driver terminal.Driver) (*Dispatcher, error) {
	d := &Dispatcher{
		cfg:     cfg,
		driver:  driver,
		pending: make(map[pendingKey]string),
		browse:  make(map[pendingKey]*browseState),
	}

	b, err := tgbot.New(token, tgbot.WithDefaultHandler(d.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	d.bot = b
	d.content = newContentSender(b)
	d.interactive = newInteractiveSender(b, cfg.MuxSessionName)
	return d, nil
}

// Wire attaches the store, queue dispatcher, and poller once the caller has
// constructed them from this Dispatcher's sender adapters. It must be
// called before Run.
func (d *Dispatcher) Wire(st *store.Store, q *queue.Dispatcher, p *poller.Poller) {
	d.store = st
	d.queue = q
	d.poller = p
}

// ContentSender exposes the queue.Sender implementation for wiring into
// queue.New.
func (d *Dispatcher) ContentSender() *contentSender { return d.content }

// InteractiveSender exposes the poller.InteractiveSender implementation for
// wiring into poller.New.
func (d *Dispatcher) InteractiveSender() *interactiveSender { return d.interactive }

// PaneStatusReader builds a queue.PaneStatusReader bound to this
// dispatcher's terminal driver.
func (d *Dispatcher) PaneStatusReader() queue.PaneStatusReader { return newPaneStatusReader(d.driver) }

// Run starts the long-poll loop until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.bot.Start(ctx)
}

// resolveWindowID turns a stored window name into the backend-specific ID
// SendKeys/CapturePane/KillWindow actually expect, the same lookup the
// poller performs before touching a window.
func (d *Dispatcher) resolveWindowID(ctx context.Context, windowName string) (string, error) {
	w, err := terminal.FindWindowByName(ctx, d.driver, windowName)
	if err != nil {
		return "", err
	}
	if w == nil {
		return "", fmt.Errorf("window %s not found", windowName)
	}
	return w.WindowID, nil
}

func (d *Dispatcher) allowed(chatID int64) bool {
	if len(d.cfg.AllowedChatIDs) == 0 {
		return true
	}
	for _, id := range d.cfg.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func (d *Dispatcher) handleUpdate(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	switch {
	case update.CallbackQuery != nil:
		d.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		d.handleMessage(ctx, update.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *models.Message) {
	chatID := msg.Chat.ID
	if !d.allowed(chatID) {
		return
	}
	threadID := int64(msg.MessageThreadID)

	if msg.ForumTopicClosed != nil {
		d.handleForumTopicClosed(ctx, chatID, threadID)
		return
	}

	key := pendingKey{chatID, threadID}

	d.mu.Lock()
	_, browsing := d.browse[key]
	d.mu.Unlock()
	if browsing {
		d.handleDirectoryReply(ctx, chatID, threadID, msg.Text)
		return
	}

	windowName, bound := d.store.WindowForThread(chatID, threadID)
	if !bound {
		d.handleUnboundTopicText(ctx, chatID, threadID, msg.Text)
		return
	}

	if strings.HasPrefix(msg.Text, "/") {
		d.handleSlashCommand(ctx, chatID, threadID, windowName, msg.Text)
		return
	}
	d.handleBoundTopicText(ctx, chatID, threadID, windowName, msg.Text)
}

// handleBoundTopicText implements §4.7's first bullet: forward the text as
// literal keystrokes, and if the recipient is mid-interactive-prompt, pause
// briefly before letting the poller's next tick refresh the UI message
// against the terminal's new state.
func (d *Dispatcher) handleBoundTopicText(ctx context.Context, chatID, threadID int64, windowName, text string) {
	windowID, err := d.resolveWindowID(ctx, windowName)
	if err != nil {
		log.Printf("bridge/chat: %v", err)
		return
	}
	if err := d.driver.SendKeys(ctx, windowID, text, true, true); err != nil {
		log.Printf("bridge/chat: send_keys failed for %s: %v", windowName, err)
		return
	}
	if _, inInteractive := d.poller.InteractiveWindow(chatID, threadID); inInteractive {
		time.Sleep(200 * time.Millisecond)
	}
}

// handleUnboundTopicText implements §4.7's second bullet.
func (d *Dispatcher) handleUnboundTopicText(ctx context.Context, chatID, threadID int64, text string) {
	d.mu.Lock()
	d.pending[pendingKey{chatID, threadID}] = text
	d.mu.Unlock()

	start := d.cfg.BrowseStartPath
	if start == "" {
		start, _ = os.UserHomeDir()
	}
	d.startDirectoryBrowse(ctx, chatID, threadID, start)
}

func (d *Dispatcher) startDirectoryBrowse(ctx context.Context, chatID, threadID int64, path string) {
	prompt, kb, dirs := buildDirectoryBrowser(path, 0)
	d.mu.Lock()
	d.browse[pendingKey{chatID, threadID}] = &browseState{Path: path, Page: 0, Dirs: dirs}
	d.mu.Unlock()

	d.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:          chatID,
		MessageThreadID: int(threadID),
		Text:            prompt,
		ParseMode:       models.ParseModeHTML,
		ReplyMarkup:     kb,
	})
}

// handleDirectoryReply implements §4.7's third bullet: a typed path is also
// accepted as an alternative to the inline browser.
func (d *Dispatcher) handleDirectoryReply(ctx context.Context, chatID, threadID int64, text string) {
	path := strings.TrimSpace(text)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		d.content.SendMessage(ctx, chatID, threadID, "Not a directory: "+text)
		return
	}
	d.confirmDirectory(ctx, chatID, threadID, path)
}

// confirmDirectory creates the window, waits for the hook to publish the
// new session_id, binds the thread, renames the topic, and forwards
// whatever text triggered the directory prompt in the first place.
func (d *Dispatcher) confirmDirectory(ctx context.Context, chatID, threadID int64, path string) {
	key := pendingKey{chatID, threadID}
	d.mu.Lock()
	pendingText := d.pending[key]
	delete(d.pending, key)
	delete(d.browse, key)
	d.mu.Unlock()

	windowName := fmt.Sprintf("chat-%d-%d", chatID, threadID)
	priorSessionID := d.store.GetWindowState(windowName).SessionID

	ok, message, createdName, err := d.driver.CreateWindow(ctx, path, windowName, true)
	if err != nil || !ok {
		d.content.SendMessage(ctx, chatID, threadID, "Failed to create window: "+message)
		return
	}

	if !d.awaitNewSession(createdName, priorSessionID, 5*time.Second) {
		log.Printf("bridge/chat: timed out waiting for session map entry for %s", createdName)
	}

	d.store.Bind(chatID, threadID, createdName)
	d.bot.EditForumTopic(ctx, &tgbot.EditForumTopicParams{
		ChatID:          chatID,
		MessageThreadID: int(threadID),
		Name:            createdName,
	})

	if pendingText != "" {
		windowID, err := d.resolveWindowID(ctx, createdName)
		if err != nil {
			log.Printf("bridge/chat: %v", err)
		} else if err := d.driver.SendKeys(ctx, windowID, pendingText, true, true); err != nil {
			log.Printf("bridge/chat: failed to forward pending text to %s: %v", createdName, err)
		}
	}
}

// awaitNewSession polls the session-map file (the hook's side channel) for
// up to timeout until windowName's session_id changes from priorSessionID,
// confirming the assistant process the hook just launched has actually
// registered. Returns false on timeout; callers proceed regardless since a
// slow hook write will simply be picked up by the next transcript-monitor
// tick.
func (d *Dispatcher) awaitNewSession(windowName, priorSessionID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.cfg.SessionMapPath != "" {
			d.store.LoadSessionMap(d.cfg.SessionMapPath, d.cfg.MuxSessionName)
		}
		if sid := d.store.GetWindowState(windowName).SessionID; sid != "" && sid != priorSessionID {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

// handleSlashCommand implements §4.7's fourth bullet.
func (d *Dispatcher) handleSlashCommand(ctx context.Context, chatID, threadID int64, windowName, text string) {
	cmd := strings.TrimSuffix(text, "@"+d.botUsername())
	if cmd == "/clear" {
		d.store.ClearWindowSession(windowName)
	}
	windowID, err := d.resolveWindowID(ctx, windowName)
	if err != nil {
		log.Printf("bridge/chat: %v", err)
		return
	}
	if err := d.driver.SendKeys(ctx, windowID, cmd, true, true); err != nil {
		log.Printf("bridge/chat: send_keys failed for slash command on %s: %v", windowName, err)
	}
}

func (d *Dispatcher) botUsername() string {
	me, err := d.bot.GetMe(context.Background())
	if err != nil || me == nil {
		return ""
	}
	return me.Username
}

func (d *Dispatcher) handleForumTopicClosed(ctx context.Context, chatID, threadID int64) {
	windowName, ok := d.store.WindowForThread(chatID, threadID)
	if !ok {
		return
	}
	if windowID, err := d.resolveWindowID(ctx, windowName); err != nil {
		log.Printf("bridge/chat: %v", err)
	} else if err := d.driver.KillWindow(ctx, windowID); err != nil {
		log.Printf("bridge/chat: failed to kill window %s on topic close: %v", windowName, err)
	}
	d.store.Unbind(chatID, threadID)
	d.CleanupTopic(ctx, chatID, threadID, windowName)
}

// CleanupTopic implements poller.TopicCleanup: it also runs when the poller
// itself discovers a binding's window or topic is gone, so it must not
// assume a window still exists.
func (d *Dispatcher) CleanupTopic(ctx context.Context, chatID, threadID int64, windowName string) {
	d.queue.ClearStatusMsgInfo(chatID, threadID)
	d.queue.ClearToolMsgIDsForTopic(chatID, threadID)
	d.poller.ClearInteractiveState(chatID, threadID)

	key := pendingKey{chatID, threadID}
	d.mu.Lock()
	delete(d.pending, key)
	delete(d.browse, key)
	d.mu.Unlock()
}
