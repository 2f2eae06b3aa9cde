// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask() *Task {
	return &Task{
		TaskID:    newTaskID(),
		Status:    TaskStatusWorking,
		CreatedAt: formatTaskTime(time.Now()),
	}
}

func newTestStore(t *testing.T, opts *MemoryTaskStoreOptions) *MemoryTaskStore {
	t.Helper()
	store := NewMemoryTaskStore(opts)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryTaskStoreSessionIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	task := newTestTask()
	require.NoError(t, store.PutTask(ctx, "s1", task))

	got, err := store.GetTask(ctx, "s1", task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.TaskID, got.TaskID)

	// Another session cannot see, update, or cancel the task.
	_, err = store.GetTask(ctx, "s2", task.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = store.UpdateTaskStatus(ctx, "s2", task.TaskID, TaskStatusCancelled, "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, _, err = store.GetTaskResult(ctx, "s2", task.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryTaskStoreTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	task := newTestTask()
	require.NoError(t, store.PutTask(ctx, "s", task))

	// working <-> input_required is free movement.
	got, err := store.UpdateTaskStatus(ctx, "s", task.TaskID, TaskStatusInputRequired, "waiting")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusInputRequired, got.Status)
	assert.Equal(t, "waiting", got.StatusMessage)
	_, err = store.UpdateTaskStatus(ctx, "s", task.TaskID, TaskStatusWorking, "")
	require.NoError(t, err)

	// A terminal state is final.
	_, err = store.UpdateTaskStatus(ctx, "s", task.TaskID, TaskStatusCancelled, "")
	require.NoError(t, err)
	_, err = store.UpdateTaskStatus(ctx, "s", task.TaskID, TaskStatusWorking, "")
	assert.ErrorIs(t, err, ErrTaskTerminal)
	_, err = store.UpdateTaskStatus(ctx, "s", task.TaskID, TaskStatusCompleted, "")
	assert.ErrorIs(t, err, ErrTaskTerminal)
}

func TestMemoryTaskStoreResult(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	task := newTestTask()
	require.NoError(t, store.PutTask(ctx, "s", task))

	// No result before the task is terminal.
	_, _, err := store.GetTaskResult(ctx, "s", task.TaskID)
	require.Error(t, err)

	payload := json.RawMessage(`{"content":[]}`)
	got, err := store.SetTaskResult(ctx, "s", task.TaskID, TaskStatusCompleted, payload, "")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, got.Status)

	_, data, err := store.GetTaskResult(ctx, "s", task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// The result write is one-shot: the terminal state blocks a second.
	_, err = store.SetTaskResult(ctx, "s", task.TaskID, TaskStatusFailed, nil, "late")
	assert.ErrorIs(t, err, ErrTaskTerminal)

	// A non-terminal status is not a valid result status.
	other := newTestTask()
	require.NoError(t, store.PutTask(ctx, "s", other))
	_, err = store.SetTaskResult(ctx, "s", other.TaskID, TaskStatusWorking, payload, "")
	require.Error(t, err)
}

func TestMemoryTaskStoreListPagination(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	var ids []string
	for range 5 {
		task := newTestTask()
		require.NoError(t, store.PutTask(ctx, "s", task))
		ids = append(ids, task.TaskID)
	}

	var listed []string
	cursor := ""
	for {
		page, next, err := store.ListTasks(ctx, "s", cursor, 2)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page), 2)
		for _, task := range page {
			listed = append(listed, task.TaskID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, ids, listed)

	// A cursor is a strict lower bound: re-listing from the cursor of the
	// first page never repeats its entries.
	first, next, err := store.ListTasks(ctx, "s", "", 2)
	require.NoError(t, err)
	require.NotEmpty(t, next)
	rest, _, err := store.ListTasks(ctx, "s", next, 10)
	require.NoError(t, err)
	for _, task := range rest {
		assert.NotContains(t, []string{first[0].TaskID, first[1].TaskID}, task.TaskID)
	}

	// Garbage cursors are rejected.
	_, _, err = store.ListTasks(ctx, "s", "not base64!", 2)
	assert.Error(t, err)

	// Unknown sessions list empty.
	page, next, err := store.ListTasks(ctx, "nobody", "", 2)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, next)
}

func TestMemoryTaskStoreCaps(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, &MemoryTaskStoreOptions{MaxTasks: 3, MaxTasksPerSession: 2})

	require.NoError(t, store.PutTask(ctx, "s1", newTestTask()))
	require.NoError(t, store.PutTask(ctx, "s1", newTestTask()))
	assert.ErrorIs(t, store.PutTask(ctx, "s1", newTestTask()), ErrTooManyTasks)

	require.NoError(t, store.PutTask(ctx, "s2", newTestTask()))
	assert.ErrorIs(t, store.PutTask(ctx, "s2", newTestTask()), ErrTooManyTasks)
}

func TestMemoryTaskStoreCapsIgnoreExpired(t *testing.T) {
	ctx := context.Background()
	// No reaper: expired entries linger until something purges them.
	store := newTestStore(t, &MemoryTaskStoreOptions{MaxTasks: 1, MaxTasksPerSession: 1})

	ttl := int64(1)
	task := newTestTask()
	task.TTL = &ttl
	require.NoError(t, store.PutTask(ctx, "s1", task))
	time.Sleep(10 * time.Millisecond)

	// The expired task no longer counts against either cap.
	require.NoError(t, store.PutTask(ctx, "s1", newTestTask()))
}

func TestMemoryTaskStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, &MemoryTaskStoreOptions{ReapInterval: 10 * time.Millisecond})

	ttl := int64(20)
	task := newTestTask()
	task.TTL = &ttl
	require.NoError(t, store.PutTask(ctx, "s", task))

	keeper := newTestTask()
	require.NoError(t, store.PutTask(ctx, "s", keeper))

	// An expired task behaves as not found even before the reaper runs.
	time.Sleep(30 * time.Millisecond)
	_, err := store.GetTask(ctx, "s", task.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	page, _, err := store.ListTasks(ctx, "s", "", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, keeper.TaskID, page[0].TaskID)

	// The reaper eventually purges it for real.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		_, live := store.sessions["s"].entries[task.TaskID]
		store.mu.Unlock()
		if !live {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expired task never reaped")
}

func TestNewTaskIDOrdering(t *testing.T) {
	var prev string
	for range 1000 {
		id := newTaskID()
		require.Greater(t, id, prev, "task IDs must be lexically increasing")
		prev = id
	}
}
