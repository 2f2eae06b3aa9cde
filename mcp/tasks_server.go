// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	internaljson "github.com/mcpwire/mcpwire/internal/json"
	"github.com/mcpwire/mcpwire/internal/jsonrpc2"
)

const (
	defaultTaskTTL          = 15 * time.Minute
	defaultTaskPollInterval = 500 * time.Millisecond
)

// A taskCoordinator runs task-augmented requests for a server: it admits
// them against the store, executes them in the background, and answers the
// tasks/* methods.
type taskCoordinator struct {
	server *Server
	store  TaskStore

	mu      sync.Mutex
	running map[string]*runningTask // keyed by sessionID + "\x00" + taskID
}

// A runningTask tracks a task executing in this process. Tasks read back
// from the store after a restart have no runningTask; waiters fall back to
// polling the store.
type runningTask struct {
	coord   *taskCoordinator
	session *ServerSession
	taskID  string
	cancel  context.CancelFunc
	done    chan struct{}
}

func newTaskCoordinator(s *Server, store TaskStore) *taskCoordinator {
	return &taskCoordinator{
		server:  s,
		store:   store,
		running: make(map[string]*runningTask),
	}
}

func runningKey(sessionID, taskID string) string { return sessionID + "\x00" + taskID }

// cancelSessionTasks trips the cancellation source of every task the session
// is still running, for session termination. The executing tools observe the
// cancellation and record their terminal state as usual.
func (tc *taskCoordinator) cancelSessionTasks(ss *ServerSession) {
	tc.mu.Lock()
	var cancels []context.CancelFunc
	for _, rt := range tc.running {
		if rt.session == ss {
			cancels = append(cancels, rt.cancel)
		}
	}
	tc.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// taskErr maps store errors to wire errors.
func taskErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTaskNotFound):
		return jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, err.Error())
	case errors.Is(err, ErrTooManyTasks):
		return jsonrpc2.NewError(jsonrpc2.CodeServerOverloaded, err.Error())
	default:
		return err
	}
}

func (tc *taskCoordinator) pollInterval() time.Duration {
	if tc.server.opts.TaskPollInterval > 0 {
		return tc.server.opts.TaskPollInterval
	}
	return defaultTaskPollInterval
}

// effectiveTTL clamps the requested retention against the server's maximum.
func (tc *taskCoordinator) effectiveTTL(requested *int64) int64 {
	limit := tc.server.opts.MaxTaskTTL
	if limit <= 0 {
		limit = defaultTaskTTL
	}
	ttl := limit.Milliseconds()
	if requested != nil && *requested >= 0 && *requested < ttl {
		ttl = *requested
	}
	return ttl
}

// startToolTask admits a task-augmented tool call, returning its stub
// immediately and running the tool in the background.
func (tc *taskCoordinator) startToolTask(ctx context.Context, ss *ServerSession, st *serverTool, params *CallToolParamsRaw) (Result, error) {
	ttl := tc.effectiveTTL(params.Task.TTL)
	poll := tc.pollInterval().Milliseconds()
	task := &Task{
		TaskID:       newTaskID(),
		Status:       TaskStatusWorking,
		CreatedAt:    formatTaskTime(time.Now()),
		TTL:          &ttl,
		PollInterval: &poll,
	}
	if err := tc.store.PutTask(ctx, ss.ID(), task); err != nil {
		return nil, taskErr(err)
	}

	// The task outlives the originating request: detach its context from the
	// request, bounding it by the TTL instead. tasks/cancel and session
	// termination trip the same cancellation source.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(ttl)*time.Millisecond)
	rt := &runningTask{
		coord:   tc,
		session: ss,
		taskID:  task.TaskID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	tc.mu.Lock()
	tc.running[runningKey(ss.ID(), task.TaskID)] = rt
	tc.mu.Unlock()

	go tc.runToolTask(runCtx, rt, st, params)

	tc.notifyStatus(ss, task)
	return &CreateTaskResult{Task: task}, nil
}

func (tc *taskCoordinator) runToolTask(ctx context.Context, rt *runningTask, st *serverTool, params *CallToolParamsRaw) {
	defer func() {
		tc.mu.Lock()
		delete(tc.running, runningKey(rt.session.ID(), rt.taskID))
		tc.mu.Unlock()
		close(rt.done)
		rt.cancel()
	}()

	// The handler sees the call without its task envelope.
	hp := *params
	hp.Task = nil
	req := &CallToolRequest{Session: rt.session, Params: &hp}
	ctx = withRunningTask(ctx, rt)

	res, err := st.handler(ctx, req)

	status := TaskStatusCompleted
	var result *CallToolResult
	msg := ""
	switch {
	case ctx.Err() != nil:
		status = TaskStatusCancelled
		msg = "cancelled"
		result = &CallToolResult{
			IsError: true,
			Content: []Content{&TextContent{Text: "task cancelled"}},
		}
	case err != nil:
		// Tool failures surface in the stored result, as they would in a
		// direct call.
		status = TaskStatusFailed
		msg = err.Error()
		result = &CallToolResult{
			IsError: true,
			Content: []Content{&TextContent{Text: err.Error()}},
		}
	case res != nil && res.IsError:
		// Typed handlers report failure as an IsError result rather than an
		// error return; the task is failed either way.
		status = TaskStatusFailed
		msg = resultErrorMessage(res)
		result = res
	default:
		result = res
	}

	data, merr := internaljson.Marshal(result)
	if merr != nil {
		status = TaskStatusFailed
		msg = merr.Error()
		data, _ = internaljson.Marshal(&CallToolResult{
			IsError: true,
			Content: []Content{&TextContent{Text: merr.Error()}},
		})
	}
	task, serr := tc.store.SetTaskResult(ctx, rt.session.ID(), rt.taskID, status, data, msg)
	if serr != nil {
		// A concurrent tasks/cancel may have won; the stored state stands.
		if !errors.Is(serr, ErrTaskTerminal) {
			tc.server.logger.Warn("failed to store task result", "taskId", rt.taskID, "error", serr)
		}
		return
	}
	tc.notifyStatus(rt.session, task)
}

// resultErrorMessage extracts a status message from a failed tool result.
func resultErrorMessage(res *CallToolResult) string {
	for _, c := range res.Content {
		if t, ok := c.(*TextContent); ok && t.Text != "" {
			return t.Text
		}
	}
	return "tool failed"
}

// setStatus transitions a task's working/input_required state, tolerating a
// concurrent move to a terminal state.
func (tc *taskCoordinator) setStatus(ctx context.Context, ss *ServerSession, taskID string, status TaskStatus, msg string) {
	task, err := tc.store.UpdateTaskStatus(ctx, ss.ID(), taskID, status, msg)
	if err != nil {
		if !errors.Is(err, ErrTaskTerminal) {
			tc.server.logger.Warn("failed to update task status", "taskId", taskID, "error", err)
		}
		return
	}
	tc.notifyStatus(ss, task)
}

// notifyStatus emits notifications/tasks/status, if enabled.
func (tc *taskCoordinator) notifyStatus(ss *ServerSession, task *Task) {
	if !tc.server.opts.TaskStatusNotifications {
		return
	}
	params := &TaskStatusNotificationParams{
		TaskID:        task.TaskID,
		Status:        task.Status,
		StatusMessage: task.StatusMessage,
		CreatedAt:     task.CreatedAt,
		LastUpdatedAt: task.LastUpdatedAt,
		TTL:           task.TTL,
		PollInterval:  task.PollInterval,
	}
	if err := ss.s.notify(context.Background(), notificationTaskStatus, params); err != nil {
		tc.server.logger.Debug("task status notification failed", "taskId", task.TaskID, "error", err)
	}
}

func (tc *taskCoordinator) getTask(ctx context.Context, ss *ServerSession, params *GetTaskParams) (Result, error) {
	task, err := tc.store.GetTask(ctx, ss.ID(), params.TaskID)
	if err != nil {
		return nil, taskErr(err)
	}
	return task, nil
}

// getTaskResult blocks until the task is terminal, then returns its stored
// result payload.
func (tc *taskCoordinator) getTaskResult(ctx context.Context, ss *ServerSession, params *GetTaskPayloadParams) (Result, error) {
	tc.mu.Lock()
	rt := tc.running[runningKey(ss.ID(), params.TaskID)]
	tc.mu.Unlock()

	if rt != nil {
		select {
		case <-rt.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		// The task is not executing in this process (already terminal, or
		// created before a restart): poll the store.
		if err := tc.waitTerminal(ctx, ss.ID(), params.TaskID); err != nil {
			return nil, taskErr(err)
		}
	}
	_, data, err := tc.store.GetTaskResult(ctx, ss.ID(), params.TaskID)
	if err != nil {
		return nil, taskErr(err)
	}
	res := new(GetTaskPayloadResult)
	res.raw = data
	return res, nil
}

func (tc *taskCoordinator) waitTerminal(ctx context.Context, sessionID, taskID string) error {
	ticker := time.NewTicker(tc.pollInterval())
	defer ticker.Stop()
	for {
		task, err := tc.store.GetTask(ctx, sessionID, taskID)
		if err != nil {
			return err
		}
		if task.Status.isTerminal() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (tc *taskCoordinator) listTasks(ctx context.Context, ss *ServerSession, params *ListTasksParams) (Result, error) {
	tasks, next, err := tc.store.ListTasks(ctx, ss.ID(), params.Cursor, tc.server.opts.PageSize)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, taskErr(err)
		}
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, err.Error())
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	return &ListTasksResult{Tasks: tasks, NextCursor: next}, nil
}

// cancelTask cancels a task. Cancelling a task that is already terminal is
// not an error: the task is returned unchanged.
func (tc *taskCoordinator) cancelTask(ctx context.Context, ss *ServerSession, params *CancelTaskParams) (Result, error) {
	tc.mu.Lock()
	rt := tc.running[runningKey(ss.ID(), params.TaskID)]
	tc.mu.Unlock()

	task, err := tc.store.UpdateTaskStatus(ctx, ss.ID(), params.TaskID, TaskStatusCancelled, "cancelled by client")
	if err != nil {
		if errors.Is(err, ErrTaskTerminal) {
			task, err = tc.store.GetTask(ctx, ss.ID(), params.TaskID)
			if err != nil {
				return nil, taskErr(err)
			}
			return task, nil
		}
		return nil, taskErr(err)
	}
	if rt != nil {
		rt.cancel()
	}
	tc.notifyStatus(ss, task)
	return task, nil
}

// The running task flows through the context of its tool handler, so that
// nested server-to-client calls can suspend it.

type runningTaskKey struct{}

func withRunningTask(ctx context.Context, rt *runningTask) context.Context {
	return context.WithValue(ctx, runningTaskKey{}, rt)
}

func runningTaskFrom(ctx context.Context) *runningTask {
	rt, _ := ctx.Value(runningTaskKey{}).(*runningTask)
	return rt
}

// relayForTask issues a server-to-client call on behalf of a possibly
// task-augmented handler. When the handler runs under a task and the client
// tolerates task-augmented calls of this kind, the task is reported as
// input_required while the nested call is outstanding.
func (ss *ServerSession) relayForTask(ctx context.Context, taskAugmented bool, params Params, call func(context.Context) error) error {
	rt := runningTaskFrom(ctx)
	if rt == nil || !taskAugmented {
		return call(ctx)
	}
	setRelatedTask(params, rt.taskID)
	rt.coord.setStatus(ctx, ss, rt.taskID, TaskStatusInputRequired, "awaiting client input")
	err := call(ctx)
	rt.coord.setStatus(ctx, ss, rt.taskID, TaskStatusWorking, "")
	return err
}

// TaskID reports the task on whose behalf the current tool handler runs, if
// any.
func TaskID(ctx context.Context) (string, bool) {
	if rt := runningTaskFrom(ctx); rt != nil {
		return rt.taskID, true
	}
	return "", false
}
