// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	internaljson "github.com/mcpwire/mcpwire/internal/json"
	"github.com/redis/go-redis/v9"
)

// RedisEventStoreOptions configures a [RedisEventStore].
type RedisEventStoreOptions struct {
	// KeyPrefix namespaces the store's keys. Zero means "mcp".
	KeyPrefix string
	// EventTTL is the per-event retention. Zero means a sensible default.
	EventTTL time.Duration
	// MetadataTTL is the per-stream retention, sliding from the stream's
	// last write. Zero means a sensible default.
	MetadataTTL time.Duration
	// PollInterval is how often blocked streaming readers re-check the
	// stream. Zero means a sensible default.
	PollInterval time.Duration
}

const (
	defaultRedisEventTTL     = 30 * time.Minute
	defaultRedisPollInterval = 250 * time.Millisecond
)

// A RedisEventStore is an [EventStore] backed by Redis, letting multiple
// server processes share event streams: a client can resume a stream on a
// different process than the one that produced it.
//
// Stream metadata lives in a hash with a sliding TTL; each event is stored
// under its own key with its own TTL, so that event and metadata expiry are
// observable independently, as the typed errors require.
type RedisEventStore struct {
	client redis.UniversalClient
	opts   RedisEventStoreOptions
}

// NewRedisEventStore returns a RedisEventStore using the given client.
func NewRedisEventStore(client redis.UniversalClient, opts *RedisEventStoreOptions) *RedisEventStore {
	s := &RedisEventStore{client: client}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.KeyPrefix == "" {
		s.opts.KeyPrefix = "mcp"
	}
	if s.opts.EventTTL <= 0 {
		s.opts.EventTTL = defaultRedisEventTTL
	}
	if s.opts.MetadataTTL <= 0 {
		s.opts.MetadataTTL = defaultMetadataTTL
	}
	if s.opts.PollInterval <= 0 {
		s.opts.PollInterval = defaultRedisPollInterval
	}
	return s
}

// Key layout. Session and stream IDs are base64-encoded to keep the ':'
// separators unambiguous.

func (s *RedisEventStore) metaKey(sessionID, streamID string) string {
	return s.opts.KeyPrefix + ":stream:" +
		base64.RawURLEncoding.EncodeToString([]byte(sessionID)) + ":" +
		base64.RawURLEncoding.EncodeToString([]byte(streamID))
}

func (s *RedisEventStore) eventKey(sessionID, streamID string, seq int64) string {
	return s.metaKey(sessionID, streamID) + ":" + strconv.FormatInt(seq, 10)
}

// storedEvent is the JSON shape of one event value in Redis.
type storedEvent struct {
	Type string `json:"type,omitempty"`
	Data []byte `json:"data"`
}

func (s *RedisEventStore) Open(ctx context.Context, sessionID, streamID string, mode StreamMode) (StreamWriter, error) {
	key := s.metaKey(sessionID, streamID)
	// Create the stream if absent; never clobber an existing mode, which a
	// writer may have changed.
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, "mode", string(mode))
	pipe.HSetNX(ctx, key, "lastSeq", 0)
	pipe.PExpire(ctx, key, s.opts.MetadataTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	return &redisStreamWriter{store: s, sessionID: sessionID, streamID: streamID}, nil
}

func (s *RedisEventStore) Resume(ctx context.Context, lastEventID string) (StreamReader, error) {
	sessionID, streamID, seq, err := ParseEventID(lastEventID)
	if err != nil {
		return nil, nil
	}
	return &redisStreamReader{store: s, sessionID: sessionID, streamID: streamID, next: seq + 1}, nil
}

type redisStreamWriter struct {
	store     *RedisEventStore
	sessionID string
	streamID  string
}

func (w *redisStreamWriter) Append(ctx context.Context, typ string, data []byte) (Event, error) {
	s := w.store
	key := s.metaKey(w.sessionID, w.streamID)

	completed, err := s.client.HGet(ctx, key, "completed").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Event{}, err
	}
	if completed == "1" {
		return Event{}, fmt.Errorf("stream %q is complete", w.streamID)
	}

	seq, err := s.client.HIncrBy(ctx, key, "lastSeq", 1).Result()
	if err != nil {
		return Event{}, err
	}
	value, err := internaljson.Marshal(storedEvent{Type: typ, Data: data})
	if err != nil {
		return Event{}, err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.eventKey(w.sessionID, w.streamID, seq), value, s.opts.EventTTL)
	pipe.PExpire(ctx, key, s.opts.MetadataTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return Event{}, err
	}
	return Event{
		ID:        EncodeEventID(w.sessionID, w.streamID, seq),
		SessionID: w.sessionID,
		StreamID:  w.streamID,
		Sequence:  seq,
		Type:      typ,
		Data:      data,
	}, nil
}

func (w *redisStreamWriter) SetMode(ctx context.Context, mode StreamMode) error {
	s := w.store
	key := s.metaKey(w.sessionID, w.streamID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "mode", string(mode))
	pipe.PExpire(ctx, key, s.opts.MetadataTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (w *redisStreamWriter) Close() error {
	ctx := context.Background()
	s := w.store
	key := s.metaKey(w.sessionID, w.streamID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "completed", "1")
	pipe.PExpire(ctx, key, s.opts.MetadataTTL)
	_, err := pipe.Exec(ctx)
	return err
}

type redisStreamReader struct {
	store     *RedisEventStore
	sessionID string
	streamID  string
	next      int64
}

// streamMeta is a snapshot of a stream's metadata hash.
type streamMeta struct {
	mode      StreamMode
	lastSeq   int64
	completed bool
}

func (r *redisStreamReader) readMeta(ctx context.Context) (*streamMeta, error) {
	fields, err := r.store.client.HGetAll(ctx, r.store.metaKey(r.sessionID, r.streamID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, &StreamMetadataExpiredError{SessionID: r.sessionID, StreamID: r.streamID}
	}
	meta := &streamMeta{
		mode:      StreamMode(fields["mode"]),
		completed: fields["completed"] == "1",
	}
	if meta.lastSeq, err = strconv.ParseInt(fields["lastSeq"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt stream metadata: %w", err)
	}
	return meta, nil
}

func (r *redisStreamReader) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		s := r.store
		next := r.next
		// Polling readers take exactly one metadata snapshot; streaming
		// readers refresh it while blocked.
		meta, err := r.readMeta(ctx)
		if err != nil {
			yield(Event{}, err)
			return
		}
		for {
			for next <= meta.lastSeq {
				value, err := s.client.Get(ctx, s.eventKey(r.sessionID, r.streamID, next)).Bytes()
				if errors.Is(err, redis.Nil) {
					yield(Event{}, &EventExpiredError{EventID: EncodeEventID(r.sessionID, r.streamID, next)})
					return
				}
				if err != nil {
					yield(Event{}, err)
					return
				}
				var se storedEvent
				if err := internaljson.Unmarshal(value, &se); err != nil {
					yield(Event{}, fmt.Errorf("corrupt event: %w", err))
					return
				}
				ev := Event{
					ID:        EncodeEventID(r.sessionID, r.streamID, next),
					SessionID: r.sessionID,
					StreamID:  r.streamID,
					Sequence:  next,
					Type:      se.Type,
					Data:      se.Data,
				}
				if !yield(ev, nil) {
					return
				}
				next++
			}
			if meta.completed || meta.mode == StreamModePolling {
				return
			}
			select {
			case <-time.After(s.opts.PollInterval):
			case <-ctx.Done():
				return
			}
			if meta, err = r.readMeta(ctx); err != nil {
				yield(Event{}, err)
				return
			}
		}
	}
}

var _ EventStore = (*RedisEventStore)(nil)
