// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store-level task errors. Stores return these sentinel errors (possibly
// wrapped) so that the protocol layer can map them to wire errors.
var (
	// ErrTaskNotFound is returned for tasks that do not exist, were created
	// by another session, or have expired.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskTerminal is returned for status updates on tasks that have
	// already reached a terminal state.
	ErrTaskTerminal = errors.New("task is in a terminal state")
	// ErrTooManyTasks is returned when creating a task would exceed a
	// resource cap.
	ErrTooManyTasks = errors.New("too many tasks")
)

// A TaskStore persists task state and results on behalf of a server.
//
// Tasks are scoped to the session that created them: every operation takes
// the owning session ID, and tasks belonging to other sessions behave as if
// they did not exist.
//
// Implementations must be safe for concurrent use, and must enforce the
// status transition rules: working and input_required may move between each
// other and into a terminal state; terminal states never change again.
type TaskStore interface {
	// PutTask persists a newly created task. It fails with ErrTooManyTasks
	// if a resource cap would be exceeded.
	PutTask(ctx context.Context, sessionID string, task *Task) error

	// GetTask returns the task with the given ID.
	GetTask(ctx context.Context, sessionID, taskID string) (*Task, error)

	// UpdateTaskStatus transitions the task to the given status and updates
	// its last-updated time. It fails with ErrTaskTerminal if the task is
	// already terminal.
	UpdateTaskStatus(ctx context.Context, sessionID, taskID string, status TaskStatus, statusMessage string) (*Task, error)

	// SetTaskResult atomically records the task's result payload and
	// transitions it to the given terminal status.
	SetTaskResult(ctx context.Context, sessionID, taskID string, status TaskStatus, result json.RawMessage, statusMessage string) (*Task, error)

	// GetTaskResult returns the task and its stored result payload. It fails
	// if the task is not terminal or stored no result.
	GetTaskResult(ctx context.Context, sessionID, taskID string) (*Task, json.RawMessage, error)

	// ListTasks returns up to limit of the session's tasks in creation
	// order, starting after the given cursor. The returned cursor is ""
	// when no tasks remain.
	ListTasks(ctx context.Context, sessionID, cursor string, limit int) ([]*Task, string, error)
}

// Task IDs are UUIDv7: their time-ordered prefix makes creation order and
// lexical order agree, which keyset pagination relies on. The 12 rand_a bits
// directly after the timestamp hold a per-tick counter, so IDs minted within
// one millisecond still sort in creation order before any random byte is
// compared.
var taskIDState struct {
	mu      sync.Mutex
	millis  int64
	counter uint16
}

func newTaskID() string {
	var u uuid.UUID
	if _, err := rand.Read(u[8:]); err != nil {
		panic(fmt.Sprintf("generating task ID: %v", err))
	}
	now := time.Now().UnixMilli()

	taskIDState.mu.Lock()
	if now == taskIDState.millis {
		taskIDState.counter++
	} else {
		taskIDState.millis = now
		taskIDState.counter = 0
	}
	counter := taskIDState.counter & 0x0fff
	taskIDState.mu.Unlock()

	binary.BigEndian.PutUint16(u[0:2], uint16(now>>32))
	binary.BigEndian.PutUint32(u[2:6], uint32(now))
	u[6] = 0x70 | byte(counter>>8) // version 7
	u[7] = byte(counter)
	u[8] = 0x80 | (u[8] & 0x3f) // variant 10
	return u.String()
}

// Task list cursors encode the keyset position (createdAt, taskId) of the
// last returned task.

func encodeTaskCursor(createdAt, taskID string) string {
	return base64.URLEncoding.EncodeToString([]byte(createdAt + "\x00" + taskID))
}

func decodeTaskCursor(cursor string) (createdAt, taskID string, err error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", fmt.Errorf("invalid cursor: %w", err)
	}
	createdAt, taskID, ok := strings.Cut(string(raw), "\x00")
	if !ok {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return createdAt, taskID, nil
}

// MemoryTaskStoreOptions configures a [MemoryTaskStore].
type MemoryTaskStoreOptions struct {
	// MaxTasks caps the total number of retained tasks. Zero means a
	// sensible default.
	MaxTasks int
	// MaxTasksPerSession caps the number of retained tasks per session.
	// Zero means a sensible default.
	MaxTasksPerSession int
	// ReapInterval is how often expired tasks are purged. Zero means a
	// sensible default.
	ReapInterval time.Duration
}

const (
	defaultMaxTasks           = 10_000
	defaultMaxTasksPerSession = 1_000
	defaultReapInterval       = 30 * time.Second
)

// A MemoryTaskStore is a [TaskStore] backed by process memory. Task state
// does not survive a server restart.
//
// Expired tasks (those whose TTL has elapsed since their last update) are
// purged in the background, and behave as not found meanwhile.
type MemoryTaskStore struct {
	opts MemoryTaskStoreOptions

	mu       sync.Mutex
	sessions map[string]*sessionTasks
	total    int

	stopReaper func()
}

type sessionTasks struct {
	entries map[string]*taskEntry
	order   []string // task IDs in creation order
}

type taskEntry struct {
	task      *Task
	result    json.RawMessage
	hasResult bool
	expiresAt time.Time // zero means no expiry
}

// NewMemoryTaskStore returns a MemoryTaskStore with a running reaper.
// Call [MemoryTaskStore.Close] to release it.
func NewMemoryTaskStore(opts *MemoryTaskStoreOptions) *MemoryTaskStore {
	s := &MemoryTaskStore{sessions: make(map[string]*sessionTasks)}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.MaxTasks <= 0 {
		s.opts.MaxTasks = defaultMaxTasks
	}
	if s.opts.MaxTasksPerSession <= 0 {
		s.opts.MaxTasksPerSession = defaultMaxTasksPerSession
	}
	if s.opts.ReapInterval <= 0 {
		s.opts.ReapInterval = defaultReapInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopReaper = cancel
	go s.reap(ctx)
	return s
}

// Close stops the store's background reaper.
func (s *MemoryTaskStore) Close() error {
	s.stopReaper()
	return nil
}

func (s *MemoryTaskStore) reap(ctx context.Context) {
	ticker := time.NewTicker(s.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.purgeExpired(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (s *MemoryTaskStore) purgeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked(now)
}

func (s *MemoryTaskStore) purgeExpiredLocked(now time.Time) {
	for sid, st := range s.sessions {
		for id, e := range st.entries {
			if e.expired(now) {
				delete(st.entries, id)
				i := slices.Index(st.order, id)
				st.order = slices.Delete(st.order, i, i+1)
				s.total--
			}
		}
		if len(st.entries) == 0 {
			delete(s.sessions, sid)
		}
	}
}

func (e *taskEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// touch recomputes the entry's expiry from its TTL after an update.
func (e *taskEntry) touch(now time.Time) {
	e.task.LastUpdatedAt = formatTaskTime(now)
	if e.task.TTL != nil {
		e.expiresAt = now.Add(time.Duration(*e.task.TTL) * time.Millisecond)
	}
}

func (s *MemoryTaskStore) PutTask(ctx context.Context, sessionID string, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Expired but unreaped entries do not count against the caps.
	s.purgeExpiredLocked(time.Now())
	if s.total >= s.opts.MaxTasks {
		return fmt.Errorf("%w: store holds %d tasks", ErrTooManyTasks, s.total)
	}
	st := s.sessions[sessionID]
	if st == nil {
		st = &sessionTasks{entries: make(map[string]*taskEntry)}
		s.sessions[sessionID] = st
	}
	if len(st.entries) >= s.opts.MaxTasksPerSession {
		return fmt.Errorf("%w: session holds %d tasks", ErrTooManyTasks, len(st.entries))
	}
	if _, ok := st.entries[task.TaskID]; ok {
		return fmt.Errorf("task %q already exists", task.TaskID)
	}
	e := &taskEntry{task: task.clone()}
	e.touch(time.Now())
	st.entries[task.TaskID] = e
	st.order = append(st.order, task.TaskID)
	s.total++
	return nil
}

// lookup returns the live entry for the task, or ErrTaskNotFound. The caller
// must hold s.mu.
func (s *MemoryTaskStore) lookup(sessionID, taskID string) (*taskEntry, error) {
	st := s.sessions[sessionID]
	if st == nil {
		return nil, fmt.Errorf("task %q: %w", taskID, ErrTaskNotFound)
	}
	e := st.entries[taskID]
	if e == nil || e.expired(time.Now()) {
		return nil, fmt.Errorf("task %q: %w", taskID, ErrTaskNotFound)
	}
	return e, nil
}

func (s *MemoryTaskStore) GetTask(ctx context.Context, sessionID, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(sessionID, taskID)
	if err != nil {
		return nil, err
	}
	return e.task.clone(), nil
}

// validTransition reports whether a task may move from one status to
// another.
func validTransition(from, to TaskStatus) bool {
	if from.isTerminal() {
		return false
	}
	switch to {
	case TaskStatusWorking, TaskStatusInputRequired:
		return true
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

func (s *MemoryTaskStore) UpdateTaskStatus(ctx context.Context, sessionID, taskID string, status TaskStatus, statusMessage string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(sessionID, taskID)
	if err != nil {
		return nil, err
	}
	if !validTransition(e.task.Status, status) {
		return nil, fmt.Errorf("task %q: cannot move from %q to %q: %w", taskID, e.task.Status, status, ErrTaskTerminal)
	}
	e.task.Status = status
	e.task.StatusMessage = statusMessage
	e.touch(time.Now())
	return e.task.clone(), nil
}

func (s *MemoryTaskStore) SetTaskResult(ctx context.Context, sessionID, taskID string, status TaskStatus, result json.RawMessage, statusMessage string) (*Task, error) {
	if !status.isTerminal() {
		return nil, fmt.Errorf("task %q: result status %q is not terminal", taskID, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(sessionID, taskID)
	if err != nil {
		return nil, err
	}
	if !validTransition(e.task.Status, status) {
		return nil, fmt.Errorf("task %q: cannot move from %q to %q: %w", taskID, e.task.Status, status, ErrTaskTerminal)
	}
	e.task.Status = status
	e.task.StatusMessage = statusMessage
	e.result = append(json.RawMessage(nil), result...)
	e.hasResult = result != nil
	e.touch(time.Now())
	return e.task.clone(), nil
}

func (s *MemoryTaskStore) GetTaskResult(ctx context.Context, sessionID, taskID string) (*Task, json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(sessionID, taskID)
	if err != nil {
		return nil, nil, err
	}
	if !e.task.Status.isTerminal() {
		return nil, nil, fmt.Errorf("task %q is not terminal", taskID)
	}
	if !e.hasResult {
		return nil, nil, fmt.Errorf("task %q has no result", taskID)
	}
	return e.task.clone(), append(json.RawMessage(nil), e.result...), nil
}

func (s *MemoryTaskStore) ListTasks(ctx context.Context, sessionID, cursor string, limit int) ([]*Task, string, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	var afterCreated, afterID string
	if cursor != "" {
		var err error
		if afterCreated, afterID, err = decodeTaskCursor(cursor); err != nil {
			return nil, "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.sessions[sessionID]
	if st == nil {
		return nil, "", nil
	}
	now := time.Now()
	var page []*Task
	var more bool
	for _, id := range st.order {
		e := st.entries[id]
		if e.expired(now) {
			continue
		}
		// Keyset position: strictly after (createdAt, taskId).
		if cursor != "" {
			if e.task.CreatedAt < afterCreated {
				continue
			}
			if e.task.CreatedAt == afterCreated && id <= afterID {
				continue
			}
		}
		if len(page) == limit {
			more = true
			break
		}
		page = append(page, e.task.clone())
	}
	if !more {
		return page, "", nil
	}
	last := page[len(page)-1]
	return page, encodeTaskCursor(last.CreatedAt, last.TaskID), nil
}

var _ TaskStore = (*MemoryTaskStore)(nil)
