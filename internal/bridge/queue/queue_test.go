// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentTask(window, contentType string, parts ...string) Task {
	if len(parts) == 0 {
		parts = []string{"hello"}
	}
	return Task{Kind: TaskContent, WindowName: window, ContentType: contentType, Parts: parts}
}

func statusTask(window string) Task {
	return Task{Kind: TaskStatusUpdate, WindowName: window, Text: "status"}
}

func TestCanMergeSameWindowText(t *testing.T) {
	assert.True(t, canMerge(contentTask("proj", "text"), contentTask("proj", "text")))
}

func TestCanMergeDifferentWindows(t *testing.T) {
	assert.False(t, canMerge(contentTask("proj1", "text"), contentTask("proj2", "text")))
}

func TestCanMergeToolUseBase(t *testing.T) {
	assert.False(t, canMerge(contentTask("proj", "tool_use"), contentTask("proj", "text")))
}

func TestCanMergeToolResultBase(t *testing.T) {
	assert.False(t, canMerge(contentTask("proj", "tool_result"), contentTask("proj", "text")))
}

func TestCanMergeToolUseCandidate(t *testing.T) {
	assert.False(t, canMerge(contentTask("proj", "text"), contentTask("proj", "tool_use")))
}

func TestCanMergeToolResultCandidate(t *testing.T) {
	assert.False(t, canMerge(contentTask("proj", "text"), contentTask("proj", "tool_result")))
}

func TestCanMergeStatusTask(t *testing.T) {
	assert.False(t, canMerge(contentTask("proj", "text"), statusTask("proj")))
}

func TestCanMergeThinkingTasks(t *testing.T) {
	assert.True(t, canMerge(contentTask("proj", "thinking"), contentTask("proj", "thinking")))
}

func TestMergeMaxConstant(t *testing.T) {
	assert.Equal(t, 3800, MergeMax)
}

// fakeSender records every call, optionally failing the Nth send.
type fakeSender struct {
	mu        sync.Mutex
	nextMsgID int64
	sent      []string
	edited    map[int64]string
	deleted   map[int64]bool
	typing    int
}

func newFakeSender() *fakeSender {
	return &fakeSender{edited: make(map[int64]string), deleted: make(map[int64]bool)}
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID, threadID int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	f.sent = append(f.sent, text)
	return f.nextMsgID, nil
}

func (f *fakeSender) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited[messageID] = text
	return nil
}

func (f *fakeSender) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[messageID] = true
	return nil
}

func (f *fakeSender) SendTyping(ctx context.Context, chatID, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

type fakePanes struct {
	line string
	ok   bool
}

func (f *fakePanes) StatusLine(ctx context.Context, windowName string) (string, bool) {
	return f.line, f.ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueContentSendsMessage(t *testing.T) {
	sender := newFakeSender()
	panes := &fakePanes{}
	d := NewDispatcher(sender, panes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.EnqueueContent(ctx, 1, contentTask("proj", "text", "hello world"))

	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	})
	assert.Equal(t, "hello world", sender.sent[0])
}

func TestToolResultEditsToolUseMessage(t *testing.T) {
	sender := newFakeSender()
	panes := &fakePanes{}
	d := NewDispatcher(sender, panes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.EnqueueContent(ctx, 1, Task{
		Kind: TaskContent, WindowName: "proj", ContentType: "tool_use",
		ToolUseID: "tool-1", Parts: []string{"**Read**(file.go)"},
	})
	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	})

	d.EnqueueContent(ctx, 1, Task{
		Kind: TaskContent, WindowName: "proj", ContentType: "tool_result",
		ToolUseID: "tool-1", Parts: []string{"Read 10 lines"},
	})

	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.edited) == 1
	})
	assert.Equal(t, "Read 10 lines", sender.edited[1])
}

func TestStatusUpdateSkipsUnchangedText(t *testing.T) {
	sender := newFakeSender()
	panes := &fakePanes{}
	d := NewDispatcher(sender, panes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.EnqueueStatusUpdate(ctx, 1, "proj", "Thinking...", 0)
	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	})

	d.EnqueueStatusUpdate(ctx, 1, "proj", "Thinking...", 0)
	time.Sleep(50 * time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Len(t, sender.sent, 1)
	assert.Empty(t, sender.edited)
}

func TestStatusUpdateEditsChangedText(t *testing.T) {
	sender := newFakeSender()
	panes := &fakePanes{}
	d := NewDispatcher(sender, panes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.EnqueueStatusUpdate(ctx, 1, "proj", "Thinking...", 0)
	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	})

	d.EnqueueStatusUpdate(ctx, 1, "proj", "Still thinking...", 0)
	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.edited) == 1
	})
}

func TestStatusUpdateWindowChangeDeletesAndSendsNew(t *testing.T) {
	sender := newFakeSender()
	panes := &fakePanes{}
	d := NewDispatcher(sender, panes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.EnqueueStatusUpdate(ctx, 1, "proj-a", "Thinking...", 0)
	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	})

	d.EnqueueStatusUpdate(ctx, 1, "proj-b", "Thinking...", 0)
	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 2 && len(sender.deleted) == 1
	})
}

func TestEmptyStatusTextClearsStatus(t *testing.T) {
	sender := newFakeSender()
	panes := &fakePanes{}
	d := NewDispatcher(sender, panes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.EnqueueStatusUpdate(ctx, 1, "proj", "Thinking...", 0)
	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	})

	d.EnqueueStatusUpdate(ctx, 1, "proj", "", 0)
	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.deleted) == 1
	})
}

func TestEscToInterruptTriggersTyping(t *testing.T) {
	sender := newFakeSender()
	panes := &fakePanes{}
	d := NewDispatcher(sender, panes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.EnqueueStatusUpdate(ctx, 1, "proj", "Working... (Esc to interrupt)", 0)

	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return sender.typing == 1
	})
}

func TestDrainMergeableMergesConsecutiveTextTasks(t *testing.T) {
	cq := newChatQueue()
	cq.push(contentTask("proj", "text", "world"))
	cq.push(contentTask("proj", "text", "!"))

	merged := cq.drainMergeable(contentTask("proj", "text", "hello"))
	assert.Equal(t, []string{"hello", "world", "!"}, merged.Parts)
	assert.True(t, cq.isEmpty())
}

func TestDrainMergeableStopsAtToolUse(t *testing.T) {
	cq := newChatQueue()
	cq.push(contentTask("proj", "text", "world"))
	cq.push(contentTask("proj", "tool_use", "read file"))

	merged := cq.drainMergeable(contentTask("proj", "text", "hello"))
	assert.Equal(t, []string{"hello", "world"}, merged.Parts)
	require.False(t, cq.isEmpty())
	remaining, ok := cq.popFront()
	require.True(t, ok)
	assert.Equal(t, "tool_use", remaining.ContentType)
}

func TestCheckAndSendStatusAfterContent(t *testing.T) {
	sender := newFakeSender()
	panes := &fakePanes{line: "Reading files...", ok: true}
	d := NewDispatcher(sender, panes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.EnqueueContent(ctx, 1, contentTask("proj", "text", "hi"))

	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 2 // content + status
	})
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, "Reading files...", sender.sent[1])
}
