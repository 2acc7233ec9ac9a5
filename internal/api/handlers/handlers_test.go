// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/trellis/internal/events"
)

type mockEventBus struct {
	events          []events.Event
	defaultWorktree string
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{
		events: []events.Event{
			{ID: "1", Type: "binding.created", Timestamp: time.Now()},
			{ID: "2", Type: "task.completed", Timestamp: time.Now()},
		},
	}
}

func (m *mockEventBus) SetDefaultWorktree(worktree string) {
	m.defaultWorktree = worktree
}

func (m *mockEventBus) Publish(ctx context.Context, event events.Event) error {
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventBus) Subscribe(pattern string, handler events.EventHandler) (events.SubscriptionID, error) {
	return "sub-1", nil
}

func (m *mockEventBus) SubscribeAsync(pattern string, handler events.EventHandler, bufferSize int) (events.SubscriptionID, error) {
	return "sub-1", nil
}

func (m *mockEventBus) Unsubscribe(id events.SubscriptionID) error {
	return nil
}

func (m *mockEventBus) History(filter events.EventFilter) ([]events.Event, error) {
	return m.events, nil
}

func (m *mockEventBus) Close() error {
	return nil
}

func TestEventHandler_History(t *testing.T) {
	handler := NewEventHandler(newMockEventBus())

	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	rec := httptest.NewRecorder()

	handler.History(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventHandler_History_WithFilters(t *testing.T) {
	handler := NewEventHandler(newMockEventBus())

	req := httptest.NewRequest("GET", "/api/v1/events?type=task.completed&limit=10", nil)
	rec := httptest.NewRecorder()

	handler.History(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteJSON(rec, http.StatusOK, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	err := json.Unmarshal(rec.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.NotNil(t, resp.Data)
	assert.NotNil(t, resp.Meta)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteError(rec, http.StatusNotFound, ErrNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	err := json.Unmarshal(rec.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, ErrNotFound, resp.Error.Code)
	assert.Equal(t, "resource not found", resp.Error.Message)
}

func TestWriteErrorWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()

	details := map[string]interface{}{
		"field": "name",
		"value": "test",
	}
	WriteErrorWithDetails(rec, http.StatusBadRequest, ErrBadRequest, "validation failed", details)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp Response
	err := json.Unmarshal(rec.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
	assert.Equal(t, "name", resp.Error.Details["field"])
}
