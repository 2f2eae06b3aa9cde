// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/json"
	"time"
)

// Protocol types for the task extension.

// A TaskStatus is the lifecycle state of a task.
//
// Valid transitions are working->input_required, input_required->working, and
// from either of those into exactly one of the terminal states completed,
// failed, or cancelled. Terminal states never transition again.
type TaskStatus string

const (
	TaskStatusWorking       TaskStatus = "working"
	TaskStatusInputRequired TaskStatus = "input_required"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusFailed        TaskStatus = "failed"
	TaskStatusCancelled     TaskStatus = "cancelled"
)

// isTerminal reports whether s is a terminal status.
func (s TaskStatus) isTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// A Task is metadata describing a task-augmented request.
type Task struct {
	Meta `json:"_meta,omitempty"`
	// TaskID is the identifier of the task, unique within the session.
	TaskID string `json:"taskId"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// StatusMessage is an optional human-readable elaboration of Status.
	StatusMessage string `json:"statusMessage,omitempty"`
	// CreatedAt is the creation time in RFC 3339 format.
	CreatedAt string `json:"createdAt"`
	// LastUpdatedAt is the time of the last status change, in RFC 3339 format.
	LastUpdatedAt string `json:"lastUpdatedAt,omitempty"`
	// TTL is the effective retention duration in milliseconds, measured from
	// the last update. It may be lower than the requested TTL.
	TTL *int64 `json:"ttl,omitempty"`
	// PollInterval is the suggested tasks/get polling interval in
	// milliseconds.
	PollInterval *int64 `json:"pollInterval,omitempty"`
}

func (t *Task) clone() *Task {
	if t == nil {
		return nil
	}
	t2 := *t
	if t.TTL != nil {
		ttl := *t.TTL
		t2.TTL = &ttl
	}
	if t.PollInterval != nil {
		pi := *t.PollInterval
		t2.PollInterval = &pi
	}
	return &t2
}

// TaskParams is the task envelope attached to a request to make it
// task-augmented.
type TaskParams struct {
	// TTL is the requested retention duration in milliseconds from the last
	// status update. The receiver may clamp it.
	TTL *int64 `json:"ttl,omitempty"`
}

// CreateTaskResult is the immediate response to a task-augmented request.
// The actual result is retrieved with tasks/result.
type CreateTaskResult struct {
	Meta `json:"_meta,omitempty"`
	Task *Task `json:"task"`
}

func (*CreateTaskResult) isResult() {}

type GetTaskParams struct {
	Meta `json:"_meta,omitempty"`
	// TaskID identifies the task within the requesting session.
	TaskID string `json:"taskId"`
}

func (x *GetTaskParams) isParams()              {}
func (x *GetTaskParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *GetTaskParams) SetProgressToken(t any) { setProgressToken(x, t) }

type GetTaskResult = Task

func (*Task) isResult() {}

type GetTaskPayloadParams struct {
	Meta `json:"_meta,omitempty"`
	// TaskID identifies the task within the requesting session.
	TaskID string `json:"taskId"`
}

func (x *GetTaskPayloadParams) isParams()              {}
func (x *GetTaskPayloadParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *GetTaskPayloadParams) SetProgressToken(t any) { setProgressToken(x, t) }

// GetTaskPayloadResult is the result of the underlying task-augmented
// request, returned from tasks/result once the task is terminal. Its shape
// is that of the original request's result.
type GetTaskPayloadResult struct {
	Meta `json:"_meta,omitempty"`
	raw  json.RawMessage
}

func (*GetTaskPayloadResult) isResult() {}

func (r *GetTaskPayloadResult) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	return []byte("{}"), nil
}

func (r *GetTaskPayloadResult) UnmarshalJSON(data []byte) error {
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

type ListTasksParams struct {
	Meta   `json:"_meta,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

func (x *ListTasksParams) isParams()              {}
func (x *ListTasksParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ListTasksParams) SetProgressToken(t any) { setProgressToken(x, t) }
func (x *ListTasksParams) cursorPtr() *string     { return &x.Cursor }

type ListTasksResult struct {
	Meta       `json:"_meta,omitempty"`
	NextCursor string  `json:"nextCursor,omitempty"`
	Tasks      []*Task `json:"tasks"`
}

func (x *ListTasksResult) isResult()              {}
func (x *ListTasksResult) nextCursorPtr() *string { return &x.NextCursor }

type CancelTaskParams struct {
	Meta `json:"_meta,omitempty"`
	// TaskID identifies the task within the requesting session.
	TaskID string `json:"taskId"`
}

func (x *CancelTaskParams) isParams()              {}
func (x *CancelTaskParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *CancelTaskParams) SetProgressToken(t any) { setProgressToken(x, t) }

// CancelTaskResult is the task state after a tasks/cancel request.
type CancelTaskResult = Task

// TaskStatusNotificationParams is sent by the task owner whenever a task's
// status changes, if the session has status notifications enabled.
type TaskStatusNotificationParams struct {
	Meta `json:"_meta,omitempty"`
	// TaskID identifies the task whose status changed.
	TaskID string `json:"taskId"`
	// Status is its new lifecycle state.
	Status TaskStatus `json:"status"`
	// StatusMessage is an optional elaboration of Status.
	StatusMessage string `json:"statusMessage,omitempty"`
	// CreatedAt is the task's creation time in RFC 3339 format.
	CreatedAt string `json:"createdAt,omitempty"`
	// LastUpdatedAt is the time of this change, in RFC 3339 format.
	LastUpdatedAt string `json:"lastUpdatedAt,omitempty"`
	// TTL is the task's effective retention in milliseconds.
	TTL *int64 `json:"ttl,omitempty"`
	// PollInterval is the suggested polling interval in milliseconds.
	PollInterval *int64 `json:"pollInterval,omitempty"`
}

func (*TaskStatusNotificationParams) isParams() {}

// relatedTaskMetaKey associates a message with the task on whose behalf it
// is sent.
const relatedTaskMetaKey = "io.modelcontextprotocol/related-task"

// relatedTask extracts the task reference from a _meta map, if present.
func relatedTask(meta map[string]any) (taskID string, ok bool) {
	rel, ok := meta[relatedTaskMetaKey].(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := rel["taskId"].(string)
	return id, ok
}

// setRelatedTask marks params as sent on behalf of a task.
func setRelatedTask(p Params, taskID string) {
	m := p.GetMeta()
	if m == nil {
		m = map[string]any{}
		p.SetMeta(m)
	}
	m[relatedTaskMetaKey] = map[string]any{"taskId": taskID}
}

// formatTaskTime renders t in the RFC 3339 form used by task timestamps.
func formatTaskTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
