// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"
)

// A StreamMode determines how readers of a stream behave.
type StreamMode string

const (
	// StreamModeStreaming readers block awaiting new events until the stream
	// completes.
	StreamModeStreaming StreamMode = "streaming"
	// StreamModePolling readers return the events currently available and
	// stop.
	StreamModePolling StreamMode = "polling"
)

// An Event is one entry in a session's event stream.
type Event struct {
	// ID is the event's resumption ID, encoding its session, stream and
	// sequence.
	ID string `json:"id"`
	// SessionID and StreamID identify the stream within the store.
	SessionID string `json:"sessionId"`
	StreamID  string `json:"streamId"`
	// Sequence is the event's position in its stream, starting at 1.
	Sequence int64 `json:"sequence"`
	// Type is the event's SSE event name.
	Type string `json:"type,omitempty"`
	// Data is the event payload.
	Data []byte `json:"data"`
}

// EncodeEventID encodes an event's identity into a single opaque string,
// usable as an SSE event ID and parseable back with [ParseEventID].
func EncodeEventID(sessionID, streamID string, seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sessionID)) +
		":" + base64.RawURLEncoding.EncodeToString([]byte(streamID)) +
		":" + strconv.FormatInt(seq, 10)
}

// ParseEventID is the inverse of [EncodeEventID].
func ParseEventID(id string) (sessionID, streamID string, seq int64, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("invalid event ID %q", id)
	}
	sid, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid event ID %q: %w", id, err)
	}
	stid, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid event ID %q: %w", id, err)
	}
	seq, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 0 {
		return "", "", 0, fmt.Errorf("invalid event ID %q", id)
	}
	return string(sid), string(stid), seq, nil
}

// A StreamMetadataExpiredError reports that a stream's metadata is no longer
// retained, so the stream cannot be resumed at all.
type StreamMetadataExpiredError struct {
	SessionID string
	StreamID  string
}

func (e *StreamMetadataExpiredError) Error() string {
	return fmt.Sprintf("stream %q in session %q has expired", e.StreamID, e.SessionID)
}

// An EventExpiredError reports that a specific event is no longer retained,
// although its stream still exists: resumption would skip events.
type EventExpiredError struct {
	// EventID is the ID of the first missing event.
	EventID string
}

func (e *EventExpiredError) Error() string {
	return fmt.Sprintf("event %q has expired", e.EventID)
}

// An EventStore records per-session event streams so that clients can
// resume them after a disconnect.
//
// Implementations must retain each stream's events in sequence order, with
// sequences starting at 1, and must be safe for concurrent use.
type EventStore interface {
	// Open returns a writer for the given stream, creating the stream in the
	// given mode if it does not exist.
	Open(ctx context.Context, sessionID, streamID string, mode StreamMode) (StreamWriter, error)

	// Resume returns a reader yielding the events after lastEventID, which
	// must be an ID previously produced by this store ([EncodeEventID] with
	// sequence 0 positions the reader at the start of a stream).
	//
	// Resume returns (nil, nil) if lastEventID cannot be parsed: an opaque
	// foreign ID is not an error, it merely cannot be resumed.
	Resume(ctx context.Context, lastEventID string) (StreamReader, error)
}

// A StreamWriter appends events to a single stream.
type StreamWriter interface {
	// Append appends the payload as the stream's next event, returning the
	// stored event with its assigned sequence and ID.
	Append(ctx context.Context, typ string, data []byte) (Event, error)
	// SetMode changes the stream's mode, affecting current and future
	// readers.
	SetMode(ctx context.Context, mode StreamMode) error
	// Close marks the stream complete. Readers see the remaining events and
	// then stop. No further events may be appended.
	Close() error
}

// A StreamReader yields the events of one stream.
type StreamReader interface {
	// Events yields events in sequence order. In streaming mode it blocks
	// awaiting new events until the stream completes or ctx ends; in polling
	// mode it stops once the currently available events are consumed.
	//
	// If the stream's metadata is gone the iterator yields a
	// [*StreamMetadataExpiredError]; if an intermediate event is gone it
	// yields a [*EventExpiredError].
	Events(ctx context.Context) iter.Seq2[Event, error]
}

// MemoryEventStoreOptions configures a [MemoryEventStore].
type MemoryEventStoreOptions struct {
	// EventTTL is the per-event retention. Zero means events are retained
	// while their stream's metadata is.
	EventTTL time.Duration
	// MetadataTTL is the per-stream retention, sliding from the stream's
	// last write. Zero means a sensible default.
	MetadataTTL time.Duration
	// MaxEventsPerStream caps retained events per stream; the oldest are
	// evicted first. Zero means a sensible default.
	MaxEventsPerStream int
}

const (
	defaultMetadataTTL        = 30 * time.Minute
	defaultMaxEventsPerStream = 10_000
)

// A MemoryEventStore is an [EventStore] backed by process memory.
type MemoryEventStore struct {
	opts MemoryEventStoreOptions

	mu      sync.Mutex
	streams map[streamKey]*memoryStream

	stopJanitor func()
}

type streamKey struct {
	session, stream string
}

type memoryStream struct {
	mode      StreamMode
	completed bool
	lastSeq   int64
	firstSeq  int64 // sequence of events[0]; firstSeq-1 events have been evicted
	events    []memoryEvent
	touched   time.Time

	// wake is closed and replaced whenever the stream changes, waking
	// blocked streaming readers.
	wake chan struct{}
}

type memoryEvent struct {
	typ      string
	data     []byte
	storedAt time.Time
}

// NewMemoryEventStore returns a MemoryEventStore with a running expiration
// janitor. Call [MemoryEventStore.Close] to release it.
func NewMemoryEventStore(opts *MemoryEventStoreOptions) *MemoryEventStore {
	s := &MemoryEventStore{streams: make(map[streamKey]*memoryStream)}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.MetadataTTL <= 0 {
		s.opts.MetadataTTL = defaultMetadataTTL
	}
	if s.opts.MaxEventsPerStream <= 0 {
		s.opts.MaxEventsPerStream = defaultMaxEventsPerStream
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopJanitor = cancel
	go s.janitor(ctx)
	return s
}

// Close stops the store's background janitor.
func (s *MemoryEventStore) Close() error {
	s.stopJanitor()
	return nil
}

func (s *MemoryEventStore) janitor(ctx context.Context) {
	ticker := time.NewTicker(min(s.opts.MetadataTTL/2, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, st := range s.streams {
				if now.Sub(st.touched) > s.opts.MetadataTTL {
					delete(s.streams, k)
					st.broadcast()
					continue
				}
				st.evictExpired(now, s.opts.EventTTL)
			}
			s.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (st *memoryStream) broadcast() {
	close(st.wake)
	st.wake = make(chan struct{})
}

// evictExpired drops events older than ttl from the front of the stream.
func (st *memoryStream) evictExpired(now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	for len(st.events) > 0 && now.Sub(st.events[0].storedAt) > ttl {
		st.events = st.events[1:]
		st.firstSeq++
	}
}

// getStream returns the live stream, purging it if its metadata expired.
// The caller must hold s.mu.
func (s *MemoryEventStore) getStream(key streamKey) *memoryStream {
	st := s.streams[key]
	if st == nil {
		return nil
	}
	if time.Since(st.touched) > s.opts.MetadataTTL {
		delete(s.streams, key)
		st.broadcast()
		return nil
	}
	st.evictExpired(time.Now(), s.opts.EventTTL)
	return st
}

func (s *MemoryEventStore) Open(ctx context.Context, sessionID, streamID string, mode StreamMode) (StreamWriter, error) {
	key := streamKey{sessionID, streamID}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStream(key)
	if st == nil {
		st = &memoryStream{
			mode:     mode,
			firstSeq: 1,
			touched:  time.Now(),
			wake:     make(chan struct{}),
		}
		s.streams[key] = st
	}
	return &memoryStreamWriter{store: s, key: key}, nil
}

func (s *MemoryEventStore) Resume(ctx context.Context, lastEventID string) (StreamReader, error) {
	sessionID, streamID, seq, err := ParseEventID(lastEventID)
	if err != nil {
		return nil, nil
	}
	return &memoryStreamReader{
		store: s,
		key:   streamKey{sessionID, streamID},
		next:  seq + 1,
	}, nil
}

type memoryStreamWriter struct {
	store *MemoryEventStore
	key   streamKey
}

func (w *memoryStreamWriter) Append(ctx context.Context, typ string, data []byte) (Event, error) {
	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStream(w.key)
	if st == nil {
		return Event{}, &StreamMetadataExpiredError{SessionID: w.key.session, StreamID: w.key.stream}
	}
	if st.completed {
		return Event{}, fmt.Errorf("stream %q is complete", w.key.stream)
	}
	now := time.Now()
	st.lastSeq++
	st.events = append(st.events, memoryEvent{typ: typ, data: data, storedAt: now})
	for len(st.events) > s.opts.MaxEventsPerStream {
		st.events = st.events[1:]
		st.firstSeq++
	}
	st.touched = now
	st.broadcast()
	return Event{
		ID:        EncodeEventID(w.key.session, w.key.stream, st.lastSeq),
		SessionID: w.key.session,
		StreamID:  w.key.stream,
		Sequence:  st.lastSeq,
		Type:      typ,
		Data:      data,
	}, nil
}

func (w *memoryStreamWriter) SetMode(ctx context.Context, mode StreamMode) error {
	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStream(w.key)
	if st == nil {
		return &StreamMetadataExpiredError{SessionID: w.key.session, StreamID: w.key.stream}
	}
	st.mode = mode
	st.touched = time.Now()
	st.broadcast()
	return nil
}

func (w *memoryStreamWriter) Close() error {
	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStream(w.key)
	if st == nil {
		return nil
	}
	st.completed = true
	st.touched = time.Now()
	st.broadcast()
	return nil
}

type memoryStreamReader struct {
	store *MemoryEventStore
	key   streamKey
	next  int64
}

func (r *memoryStreamReader) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		next := r.next
		for {
			s := r.store
			s.mu.Lock()
			st := s.getStream(r.key)
			if st == nil {
				s.mu.Unlock()
				yield(Event{}, &StreamMetadataExpiredError{SessionID: r.key.session, StreamID: r.key.stream})
				return
			}
			if next < st.firstSeq {
				s.mu.Unlock()
				yield(Event{}, &EventExpiredError{EventID: EncodeEventID(r.key.session, r.key.stream, next)})
				return
			}
			if next <= st.lastSeq {
				e := st.events[next-st.firstSeq]
				s.mu.Unlock()
				ev := Event{
					ID:        EncodeEventID(r.key.session, r.key.stream, next),
					SessionID: r.key.session,
					StreamID:  r.key.stream,
					Sequence:  next,
					Type:      e.typ,
					Data:      e.data,
				}
				if !yield(ev, nil) {
					return
				}
				next++
				continue
			}
			if st.completed || st.mode == StreamModePolling {
				s.mu.Unlock()
				return
			}
			wake := st.wake
			s.mu.Unlock()
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}
}

var _ EventStore = (*MemoryEventStore)(nil)
