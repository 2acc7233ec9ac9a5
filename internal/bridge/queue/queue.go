// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package queue provides per-recipient ordered delivery of chat messages:
// a single FIFO worker per chat that merges consecutive content tasks,
// converts status messages into content in place where possible, tracks
// tool_use messages awaiting their tool_result edit, and respects the
// chat platform's rate limits.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MergeMax is the maximum combined length of merged content parts, chosen
// to leave headroom for the downstream markdown-rendering pass.
const MergeMax = 3800

// MinSendInterval is the minimum spacing enforced between outbound sends
// for a single chat.
const MinSendInterval = 1100 * time.Millisecond

// TaskKind discriminates the three task shapes a recipient's queue carries.
type TaskKind int

const (
	TaskContent TaskKind = iota
	TaskStatusUpdate
	TaskStatusClear
)

// Task is a single unit of queued work for one chat.
type Task struct {
	Kind        TaskKind
	WindowName  string
	Parts       []string
	ToolUseID   string
	ContentType string // "text", "tool_use", "tool_result", "thinking"
	Text        string // plain fallback text, or the status line for status tasks
	ThreadID    int64

	// TaskID correlates this task's log lines across merge/convert/retry,
	// since a single enqueued task can be split, merged with another, or
	// retried under rate limiting before it's finally sent.
	TaskID string
}

func (t Task) partsLen() int {
	n := 0
	for _, p := range t.Parts {
		n += len(p)
	}
	return n
}

// RateLimitError is returned by a Sender when the platform imposes
// flood control. The dispatcher sleeps RetryAfter and retries the same
// send; it is never surfaced as a failed task.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Sender is the chat-platform boundary the dispatcher sends through. A
// concrete implementation (e.g. over Telegram) owns markdown rendering and
// any plain-text fallback when rendering is rejected — the dispatcher
// only ever passes it body text and gets back a message id or error.
type Sender interface {
	SendMessage(ctx context.Context, chatID, threadID int64, text string) (messageID int64, err error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendTyping(ctx context.Context, chatID, threadID int64) error
}

// PaneStatusReader captures a window's current status line, if any. It
// exists so the queue package never needs to import the terminal driver or
// parser directly.
type PaneStatusReader interface {
	StatusLine(ctx context.Context, windowName string) (string, bool)
}

type toolMsgKey struct {
	ToolUseID string
	ChatID    int64
	ThreadID  int64
}

type statusKey struct {
	ChatID   int64
	ThreadID int64
}

type statusInfo struct {
	MessageID  int64
	WindowName string
	LastText   string
}

// Dispatcher owns one FIFO queue+worker per chat_id.
type Dispatcher struct {
	sender Sender
	panes  PaneStatusReader

	mu     sync.Mutex
	queues map[int64]*chatQueue

	toolMu      sync.Mutex
	toolMsgIDs  map[toolMsgKey]int64
	statusMu    sync.Mutex
	statusInfos map[statusKey]statusInfo

	rateMu    sync.Mutex
	lastSends map[int64]time.Time
}

// NewDispatcher constructs a Dispatcher. sender and panes must be non-nil.
func NewDispatcher(sender Sender, panes PaneStatusReader) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		panes:       panes,
		queues:      make(map[int64]*chatQueue),
		toolMsgIDs:  make(map[toolMsgKey]int64),
		statusInfos: make(map[statusKey]statusInfo),
		lastSends:   make(map[int64]time.Time),
	}
}

type chatQueue struct {
	mu     sync.Mutex
	items  []Task
	signal chan struct{}
}

func newChatQueue() *chatQueue {
	return &chatQueue{signal: make(chan struct{}, 1)}
}

func (q *chatQueue) push(t Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *chatQueue) popFront() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Task{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

func (q *chatQueue) isEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

func canMerge(base, candidate Task) bool {
	if base.WindowName != candidate.WindowName {
		return false
	}
	if candidate.Kind != TaskContent {
		return false
	}
	if base.ContentType == "tool_use" || base.ContentType == "tool_result" {
		return false
	}
	if candidate.ContentType == "tool_use" || candidate.ContentType == "tool_result" {
		return false
	}
	return true
}

// drainMergeable absorbs consecutive mergeable content tasks from the head
// of the queue into first, per §4.5's merge rule.
func (q *chatQueue) drainMergeable(first Task) Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	parts := append([]string(nil), first.Parts...)
	length := 0
	for _, p := range parts {
		length += len(p)
	}

	consumed := 0
	for _, cand := range q.items {
		if !canMerge(first, cand) {
			break
		}
		candLen := cand.partsLen()
		if length+candLen > MergeMax {
			break
		}
		parts = append(parts, cand.Parts...)
		length += candLen
		consumed++
	}

	if consumed > 0 {
		q.items = q.items[consumed:]
		first.Parts = parts
	}
	return first
}

// getOrCreate returns chatID's queue, starting its worker on first use.
func (d *Dispatcher) getOrCreate(ctx context.Context, chatID int64) *chatQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	cq, ok := d.queues[chatID]
	if ok {
		return cq
	}
	cq = newChatQueue()
	d.queues[chatID] = cq
	go d.worker(ctx, chatID, cq)
	return cq
}

// EnqueueContent enqueues a content task.
func (d *Dispatcher) EnqueueContent(ctx context.Context, chatID int64, task Task) {
	task.Kind = TaskContent
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	log.Printf("bridge/queue: enqueue content task=%s chat=%d window=%s content_type=%s", task.TaskID, chatID, task.WindowName, task.ContentType)
	d.getOrCreate(ctx, chatID).push(task)
}

// EnqueueStatusUpdate enqueues a status update, or a clear if statusText is
// empty.
func (d *Dispatcher) EnqueueStatusUpdate(ctx context.Context, chatID int64, windowName, statusText string, threadID int64) {
	var task Task
	if statusText != "" {
		task = Task{Kind: TaskStatusUpdate, WindowName: windowName, Text: statusText, ThreadID: threadID, TaskID: uuid.NewString()}
	} else {
		task = Task{Kind: TaskStatusClear, ThreadID: threadID}
	}
	d.getOrCreate(ctx, chatID).push(task)
}

// ClearStatusMsgInfo drops in-memory status tracking for (chatID, threadID)
// without sending a delete — used e.g. when a topic itself is gone.
func (d *Dispatcher) ClearStatusMsgInfo(chatID, threadID int64) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	delete(d.statusInfos, statusKey{chatID, threadID})
}

// ClearToolMsgIDsForTopic drops every tool_use->message_id mapping recorded
// for (chatID, threadID), e.g. on topic close.
func (d *Dispatcher) ClearToolMsgIDsForTopic(chatID, threadID int64) {
	d.toolMu.Lock()
	defer d.toolMu.Unlock()
	for key := range d.toolMsgIDs {
		if key.ChatID == chatID && key.ThreadID == threadID {
			delete(d.toolMsgIDs, key)
		}
	}
}

// IsEmpty reports whether chatID's queue currently has no pending tasks.
// A chat with no queue yet (nothing ever enqueued) is considered empty.
// Used by the pane poller to skip a tick while a content/status task is
// still in flight, per §4.6 step 2.
func (d *Dispatcher) IsEmpty(chatID int64) bool {
	d.mu.Lock()
	cq := d.queues[chatID]
	d.mu.Unlock()
	if cq == nil {
		return true
	}
	return cq.isEmpty()
}

// Shutdown is a no-op placeholder for symmetry with the start side;
// workers exit when ctx (passed to NewDispatcher's callers via EnqueueX's
// first call) is canceled.
func (d *Dispatcher) Shutdown() {
	log.Printf("bridge/queue: shutdown requested")
}

func (d *Dispatcher) worker(ctx context.Context, chatID int64, cq *chatQueue) {
	log.Printf("bridge/queue: worker started for chat %d", chatID)
	for {
		task, ok := cq.popFront()
		if !ok {
			select {
			case <-ctx.Done():
				log.Printf("bridge/queue: worker stopped for chat %d", chatID)
				return
			case <-cq.signal:
				continue
			}
		}

		switch task.Kind {
		case TaskContent:
			merged := cq.drainMergeable(task)
			d.processContentTask(ctx, chatID, cq, merged)
		case TaskStatusUpdate:
			d.processStatusUpdateTask(ctx, chatID, task)
		case TaskStatusClear:
			d.clearStatusMessage(ctx, chatID, task.ThreadID)
		}
	}
}

// rateLimitedSend waits out MinSendInterval since the chat's last send,
// invokes fn, and on a RateLimitError sleeps the platform-specified
// interval and retries the same fn indefinitely (per §4.5, rate-limit
// errors never abandon a task).
func (d *Dispatcher) rateLimitedSend(ctx context.Context, chatID int64, fn func() error) error {
	for {
		d.waitForSendSlot(ctx, chatID)
		err := fn()
		d.recordSend(chatID)

		var rle *RateLimitError
		if errors.As(err, &rle) {
			log.Printf("bridge/queue: flood control for chat %d, pausing %s", chatID, rle.RetryAfter)
			sleepCtx(ctx, rle.RetryAfter)
			continue
		}
		return err
	}
}

func (d *Dispatcher) waitForSendSlot(ctx context.Context, chatID int64) {
	d.rateMu.Lock()
	last, ok := d.lastSends[chatID]
	d.rateMu.Unlock()
	if !ok {
		return
	}
	wait := MinSendInterval - time.Since(last)
	if wait > 0 {
		sleepCtx(ctx, wait)
	}
}

func (d *Dispatcher) recordSend(chatID int64) {
	d.rateMu.Lock()
	d.lastSends[chatID] = time.Now()
	d.rateMu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processContentTask implements §4.5's content task processing.
func (d *Dispatcher) processContentTask(ctx context.Context, chatID int64, cq *chatQueue, task Task) {
	tid := task.ThreadID

	if task.ContentType == "tool_result" && task.ToolUseID != "" {
		key := toolMsgKey{ToolUseID: task.ToolUseID, ChatID: chatID, ThreadID: tid}
		d.toolMu.Lock()
		editMsgID, hasEdit := d.toolMsgIDs[key]
		if hasEdit {
			delete(d.toolMsgIDs, key)
		}
		d.toolMu.Unlock()

		if hasEdit {
			d.clearStatusMessage(ctx, chatID, tid)
			fullText := strings.Join(task.Parts, "\n\n")
			err := d.rateLimitedSend(ctx, chatID, func() error {
				return d.sender.EditMessage(ctx, chatID, editMsgID, fullText)
			})
			if err == nil {
				d.checkAndSendStatus(ctx, chatID, task.WindowName, tid)
				return
			}
			log.Printf("bridge/queue: failed to edit tool message %d for chat %d: %v, sending new", editMsgID, chatID, err)
		}
	}

	var lastMsgID int64
	haveLastMsgID := false
	for i, part := range task.Parts {
		if i == 0 {
			if convertedID, ok := d.convertStatusToContent(ctx, chatID, tid, task.WindowName, part); ok {
				lastMsgID, haveLastMsgID = convertedID, true
				continue
			}
		}

		var sentID int64
		err := d.rateLimitedSend(ctx, chatID, func() error {
			id, err := d.sender.SendMessage(ctx, chatID, tid, part)
			sentID = id
			return err
		})
		if err != nil {
			log.Printf("bridge/queue: failed to send message part for chat %d: %v", chatID, err)
			continue
		}
		lastMsgID, haveLastMsgID = sentID, true
	}

	if haveLastMsgID && task.ToolUseID != "" && task.ContentType == "tool_use" {
		d.toolMu.Lock()
		d.toolMsgIDs[toolMsgKey{ToolUseID: task.ToolUseID, ChatID: chatID, ThreadID: tid}] = lastMsgID
		d.toolMu.Unlock()
	}

	d.checkAndSendStatus(ctx, chatID, task.WindowName, tid)
}

// convertStatusToContent repurposes an active status message into the
// first content part by editing it in place, per §4.5 step 2.
func (d *Dispatcher) convertStatusToContent(ctx context.Context, chatID, threadID int64, windowName, text string) (int64, bool) {
	skey := statusKey{chatID, threadID}
	d.statusMu.Lock()
	info, ok := d.statusInfos[skey]
	if ok {
		delete(d.statusInfos, skey)
	}
	d.statusMu.Unlock()
	if !ok {
		return 0, false
	}

	if info.WindowName != windowName {
		_ = d.sender.DeleteMessage(ctx, chatID, info.MessageID)
		return 0, false
	}

	err := d.rateLimitedSend(ctx, chatID, func() error {
		return d.sender.EditMessage(ctx, chatID, info.MessageID, text)
	})
	if err != nil {
		log.Printf("bridge/queue: failed to convert status to content for chat %d: %v", chatID, err)
		return 0, false
	}
	return info.MessageID, true
}

// processStatusUpdateTask implements §4.5's status update processing.
func (d *Dispatcher) processStatusUpdateTask(ctx context.Context, chatID int64, task Task) {
	tid := task.ThreadID
	skey := statusKey{chatID, tid}
	statusText := task.Text

	if statusText == "" {
		d.clearStatusMessage(ctx, chatID, tid)
		return
	}

	if strings.Contains(strings.ToLower(statusText), "esc to interrupt") {
		if err := d.sender.SendTyping(ctx, chatID, tid); err != nil {
			log.Printf("bridge/queue: failed to send typing indicator for chat %d: %v", chatID, err)
		}
	}

	d.statusMu.Lock()
	current, exists := d.statusInfos[skey]
	d.statusMu.Unlock()

	switch {
	case !exists:
		d.sendStatusMessage(ctx, chatID, tid, task.WindowName, statusText)
	case current.WindowName != task.WindowName:
		d.clearStatusMessage(ctx, chatID, tid)
		d.sendStatusMessage(ctx, chatID, tid, task.WindowName, statusText)
	case current.LastText == statusText:
		// unchanged, avoid the platform's "message not modified" error
	default:
		err := d.rateLimitedSend(ctx, chatID, func() error {
			return d.sender.EditMessage(ctx, chatID, current.MessageID, statusText)
		})
		if err != nil {
			log.Printf("bridge/queue: failed to edit status message for chat %d: %v", chatID, err)
			d.statusMu.Lock()
			delete(d.statusInfos, skey)
			d.statusMu.Unlock()
			d.sendStatusMessage(ctx, chatID, tid, task.WindowName, statusText)
			return
		}
		d.statusMu.Lock()
		d.statusInfos[skey] = statusInfo{MessageID: current.MessageID, WindowName: task.WindowName, LastText: statusText}
		d.statusMu.Unlock()
	}
}

func (d *Dispatcher) sendStatusMessage(ctx context.Context, chatID, threadID int64, windowName, text string) {
	var sentID int64
	err := d.rateLimitedSend(ctx, chatID, func() error {
		id, err := d.sender.SendMessage(ctx, chatID, threadID, text)
		sentID = id
		return err
	})
	if err != nil {
		log.Printf("bridge/queue: failed to send status message for chat %d: %v", chatID, err)
		return
	}
	d.statusMu.Lock()
	d.statusInfos[statusKey{chatID, threadID}] = statusInfo{MessageID: sentID, WindowName: windowName, LastText: text}
	d.statusMu.Unlock()
}

func (d *Dispatcher) clearStatusMessage(ctx context.Context, chatID, threadID int64) {
	skey := statusKey{chatID, threadID}
	d.statusMu.Lock()
	info, ok := d.statusInfos[skey]
	if ok {
		delete(d.statusInfos, skey)
	}
	d.statusMu.Unlock()
	if !ok {
		return
	}
	if err := d.sender.DeleteMessage(ctx, chatID, info.MessageID); err != nil {
		log.Printf("bridge/queue: failed to delete status message %d for chat %d: %v", info.MessageID, chatID, err)
	}
}

// checkAndSendStatus captures the pane after the last content part and
// enqueues a status update if a status line is present — but only if this
// recipient's queue is observed empty, per §4.5 step 4.
func (d *Dispatcher) checkAndSendStatus(ctx context.Context, chatID int64, windowName string, threadID int64) {
	d.mu.Lock()
	cq := d.queues[chatID]
	d.mu.Unlock()
	if cq != nil && !cq.isEmpty() {
		return
	}

	statusLine, ok := d.panes.StatusLine(ctx, windowName)
	if !ok || statusLine == "" {
		return
	}
	d.EnqueueStatusUpdate(ctx, chatID, windowName, statusLine, threadID)
}
