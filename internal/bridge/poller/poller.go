// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package poller drives the 1Hz pane-capture loop: for every bound
// (chat_id, thread_id) recipient it samples the terminal window's visible
// pane, detects interactive-UI prompts (permission asks, plan reviews,
// checkpoint restores), keeps an editable keyboard-bearing message in sync
// with whatever prompt is currently on screen, and periodically confirms
// the chat platform still considers the bound topic valid.
package poller

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/wingedpig/trellis/internal/bridge/store"
	"github.com/wingedpig/trellis/internal/terminal"
	"github.com/wingedpig/trellis/internal/termparser"
)

// TopicInvalidError is returned by an InteractiveSender call (typically the
// topic-existence probe) when the chat platform reports the bound topic no
// longer exists, so the poller can unbind and clean up instead of treating
// it as a transient send failure.
type TopicInvalidError struct {
	ChatID, ThreadID int64
}

func (e *TopicInvalidError) Error() string {
	return "topic no longer exists"
}

// InteractiveKeyboard describes the inline keyboard to attach to an
// interactive-UI message, in platform-neutral terms. VerticalOnly
// suppresses the left/right arrows — used for the RestoreCheckpoint
// prompt, which only ever needs up/down.
type InteractiveKeyboard struct {
	WindowName   string
	VerticalOnly bool
}

// InteractiveSender is the chat-platform boundary the poller sends
// through. A concrete implementation owns markdown rendering and the
// platform's inline-keyboard wire format.
type InteractiveSender interface {
	SendMessage(ctx context.Context, chatID, threadID int64, text string, kb InteractiveKeyboard) (messageID int64, err error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string, kb InteractiveKeyboard) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	// ProbeTopic performs a benign no-op call scoped to the topic (e.g. an
	// unpin-all) purely to detect whether the topic still exists. It
	// returns a *TopicInvalidError when the platform confirms the topic is
	// gone, and nil on any other outcome (including unrelated errors,
	// which are logged and ignored — the probe must never tear down a
	// binding on a transient failure).
	ProbeTopic(ctx context.Context, chatID, threadID int64) error
}

// TopicCleanup is the narrow callback the poller invokes when a bound
// topic turns out to be gone. Kept as an interface supplied at
// construction time rather than a direct import of the dispatcher, so the
// poller never depends on chat-handler internals.
type TopicCleanup interface {
	CleanupTopic(ctx context.Context, chatID, threadID int64, windowName string)
}

// QueueEmptiness is the narrow slice of queue.Dispatcher the poller needs:
// it must never refresh or send a status/interactive message while a
// content task for the same recipient is still being delivered.
type QueueEmptiness interface {
	IsEmpty(chatID int64) bool
}

type bindingKey struct {
	ChatID, ThreadID int64
}

// interactiveState tracks the single outstanding interactive-UI message
// for one recipient. Owned exclusively by the Poller — the chat dispatcher
// reaches it only through SetInteractiveMode/ClearInteractiveState, so
// there is exactly one place this state lives.
type interactiveState struct {
	WindowName string
	MessageID  int64
	LastText   string
	UIName     string
}

// Config controls poller behavior.
type Config struct {
	PollInterval       time.Duration // default 1s if zero
	TopicCheckInterval time.Duration // default 60s if zero
	WithANSI           bool
}

// Poller is the background pane-capture task.
type Poller struct {
	cfg     Config
	driver  terminal.Driver
	store   *store.Store
	queue   QueueEmptiness
	sender  InteractiveSender
	cleanup TopicCleanup

	mu           sync.Mutex
	interactive  map[bindingKey]*interactiveState
	lastTopicChk time.Time
}

// New constructs a Poller.
func New(cfg Config, driver terminal.Driver, st *store.Store, q QueueEmptiness, sender InteractiveSender, cleanup TopicCleanup) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.TopicCheckInterval <= 0 {
		cfg.TopicCheckInterval = 60 * time.Second
	}
	return &Poller{
		cfg:         cfg,
		driver:      driver,
		store:       st,
		queue:       q,
		sender:      sender,
		cleanup:     cleanup,
		interactive: make(map[bindingKey]*interactiveState),
	}
}

// SetInteractiveMode records that (chatID, threadID) is in interactive
// mode for windowName without a tracked message (the chat dispatcher's
// Refresh button uses it). If the pane still shows a prompt, the next
// tick's pane capture sends a fresh message and tracks that one.
func (p *Poller) SetInteractiveMode(chatID, threadID int64, windowName, uiName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := bindingKey{chatID, threadID}
	if existing, ok := p.interactive[key]; ok && existing.WindowName == windowName {
		existing.UIName = uiName
		return
	}
	p.interactive[key] = &interactiveState{WindowName: windowName, UIName: uiName}
}

// ClearInteractiveState drops interactive tracking for a recipient,
// without sending a delete — used when the underlying window or topic is
// already gone.
func (p *Poller) ClearInteractiveState(chatID, threadID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.interactive, bindingKey{chatID, threadID})
}

// InteractiveWindow reports the window a recipient is currently in
// interactive mode for, if any.
func (p *Poller) InteractiveWindow(chatID, threadID int64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.interactive[bindingKey{chatID, threadID}]
	if !ok {
		return "", false
	}
	return st.WindowName, true
}

// Run executes the poll loop until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("bridge/poller: started, polling every %s", p.cfg.PollInterval)
	defer log.Printf("bridge/poller: stopped")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	bindings := p.store.IterBindings()
	for _, b := range bindings {
		p.pollBinding(ctx, b)
	}
	p.maybeProbeTopics(ctx, bindings)
}

// pollBinding implements §4.6's per-recipient steps 1-4.
func (p *Poller) pollBinding(ctx context.Context, b store.Binding) {
	// Step 2: a content/status delivery is in flight for this recipient;
	// capturing and possibly editing now would race it.
	if !p.queue.IsEmpty(b.ChatID) {
		return
	}

	window, err := terminal.FindWindowByName(ctx, p.driver, b.WindowName)
	if err != nil {
		log.Printf("bridge/poller: list windows failed: %v", err)
		return
	}
	if window == nil {
		p.handleMissingWindow(ctx, b)
		return
	}

	screen, err := p.driver.CapturePane(ctx, window.WindowID, p.cfg.WithANSI)
	if err != nil {
		log.Printf("bridge/poller: capture pane failed for %s: %v", b.WindowName, err)
		return
	}

	ui := termparser.ExtractInteractiveContent(screen)
	matched := ui != nil

	key := bindingKey{b.ChatID, b.ThreadID}
	p.mu.Lock()
	state, inInteractive := p.interactive[key]
	p.mu.Unlock()

	switch {
	case inInteractive && state.WindowName == b.WindowName && matched:
		// Step 4: same window, still an interactive prompt on screen —
		// refresh the message, but only if the extracted content actually
		// changed, to avoid useless edits.
		p.refreshInteractiveUI(ctx, b, state, ui)
	case inInteractive && state.WindowName == b.WindowName && !matched:
		// The prompt resolved (user answered from the terminal itself, or
		// the assistant moved on) — tear down the tracked message.
		p.dismissInteractiveUI(ctx, b, state)
	case inInteractive && state.WindowName != b.WindowName:
		// Interactive tracking belongs to a different window than this
		// binding currently maps to; nothing to do here for this window.
	case !inInteractive && matched:
		p.sendOrRefreshInteractiveUI(ctx, b, ui)
	}
}

func (p *Poller) handleMissingWindow(ctx context.Context, b store.Binding) {
	log.Printf("bridge/poller: window %s gone, unbinding chat=%d thread=%d", b.WindowName, b.ChatID, b.ThreadID)
	p.ClearInteractiveState(b.ChatID, b.ThreadID)
	if _, ok := p.store.Unbind(b.ChatID, b.ThreadID); ok {
		p.cleanup.CleanupTopic(ctx, b.ChatID, b.ThreadID, b.WindowName)
	}
}

// refreshInteractiveUI re-edits the tracked message only if extracted
// content changed since the last tick — a deliberate "no-op if unchanged"
// refresh on every matching tick for as long as the prompt is on screen.
func (p *Poller) refreshInteractiveUI(ctx context.Context, b store.Binding, state *interactiveState, ui *termparser.InteractiveContent) {
	if ui.Content == state.LastText {
		return
	}
	if state.MessageID == 0 {
		p.sendOrRefreshInteractiveUI(ctx, b, ui)
		return
	}
	kb := InteractiveKeyboard{WindowName: b.WindowName, VerticalOnly: ui.Name == "RestoreCheckpoint"}
	if err := p.sender.EditMessage(ctx, b.ChatID, state.MessageID, ui.Content, kb); err != nil {
		if handleTopicInvalid(ctx, p, b, err) {
			return
		}
		log.Printf("bridge/poller: failed to refresh interactive message for chat %d: %v", b.ChatID, err)
		return
	}
	p.mu.Lock()
	state.LastText = ui.Content
	p.mu.Unlock()
}

func (p *Poller) dismissInteractiveUI(ctx context.Context, b store.Binding, state *interactiveState) {
	if state.MessageID != 0 {
		if err := p.sender.DeleteMessage(ctx, b.ChatID, state.MessageID); err != nil {
			log.Printf("bridge/poller: failed to delete interactive message for chat %d: %v", b.ChatID, err)
		}
	}
	p.ClearInteractiveState(b.ChatID, b.ThreadID)
}

func (p *Poller) sendOrRefreshInteractiveUI(ctx context.Context, b store.Binding, ui *termparser.InteractiveContent) {
	kb := InteractiveKeyboard{WindowName: b.WindowName, VerticalOnly: ui.Name == "RestoreCheckpoint"}
	msgID, err := p.sender.SendMessage(ctx, b.ChatID, b.ThreadID, ui.Content, kb)
	if err != nil {
		if handleTopicInvalid(ctx, p, b, err) {
			return
		}
		log.Printf("bridge/poller: failed to send interactive message for chat %d: %v", b.ChatID, err)
		return
	}
	p.mu.Lock()
	p.interactive[bindingKey{b.ChatID, b.ThreadID}] = &interactiveState{
		WindowName: b.WindowName,
		MessageID:  msgID,
		LastText:   ui.Content,
		UIName:     ui.Name,
	}
	p.mu.Unlock()
}

// maybeProbeTopics runs the periodic topic-existence probe described in
// §4.6: every TopicCheckInterval, issue one benign call per binding and
// unbind+cleanup on confirmation the topic is gone.
func (p *Poller) maybeProbeTopics(ctx context.Context, bindings []store.Binding) {
	if time.Since(p.lastTopicChk) < p.cfg.TopicCheckInterval {
		return
	}
	p.lastTopicChk = time.Now()

	for _, b := range bindings {
		err := p.sender.ProbeTopic(ctx, b.ChatID, b.ThreadID)
		if err == nil {
			continue
		}
		var tie *TopicInvalidError
		if errors.As(err, &tie) {
			log.Printf("bridge/poller: topic gone, unbinding chat=%d thread=%d window=%s", b.ChatID, b.ThreadID, b.WindowName)
			p.ClearInteractiveState(b.ChatID, b.ThreadID)
			if _, ok := p.store.Unbind(b.ChatID, b.ThreadID); ok {
				p.cleanup.CleanupTopic(ctx, b.ChatID, b.ThreadID, b.WindowName)
			}
			continue
		}
		log.Printf("bridge/poller: topic probe failed for chat=%d thread=%d: %v", b.ChatID, b.ThreadID, err)
	}
}

// handleTopicInvalid checks err for a TopicInvalidError and, if found,
// unbinds and runs cleanup, reporting whether it did so.
func handleTopicInvalid(ctx context.Context, p *Poller, b store.Binding, err error) bool {
	var tie *TopicInvalidError
	if !errors.As(err, &tie) {
		return false
	}
	log.Printf("bridge/poller: topic gone while sending, unbinding chat=%d thread=%d window=%s", b.ChatID, b.ThreadID, b.WindowName)
	p.ClearInteractiveState(b.ChatID, b.ThreadID)
	if _, ok := p.store.Unbind(b.ChatID, b.ThreadID); ok {
		p.cleanup.CleanupTopic(ctx, b.ChatID, b.ThreadID, b.WindowName)
	}
	return true
}
