// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

// redisStore connects to the Redis named by the MCP_TEST_REDIS_ADDR
// environment variable, skipping the test if it is unset or unreachable.
func redisStore(t *testing.T) *RedisEventStore {
	t.Helper()
	addr := os.Getenv("MCP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MCP_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis at %s unreachable: %v", addr, err)
	}
	return NewRedisEventStore(client, &RedisEventStoreOptions{
		KeyPrefix:    fmt.Sprintf("mcptest:%d", time.Now().UnixNano()),
		PollInterval: 10 * time.Millisecond,
	})
}

func TestRedisEventStoreAppendResume(t *testing.T) {
	ctx := context.Background()
	store := redisStore(t)

	w, err := store.Open(ctx, "sess", "stream", StreamModePolling)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		e, err := w.Append(ctx, "message", fmt.Appendf(nil, "event %d", i))
		if err != nil {
			t.Fatal(err)
		}
		if e.Sequence != int64(i) {
			t.Errorf("got sequence %d, want %d", e.Sequence, i)
		}
	}

	r, err := store.Resume(ctx, EncodeEventID("sess", "stream", 1))
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for e, err := range r.Events(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(e.Data))
	}
	want := []string{"event 2", "event 3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resume mismatch (-want, +got):\n%s", diff)
	}
}

func TestRedisEventStoreStreaming(t *testing.T) {
	ctx := context.Background()
	store := redisStore(t)

	w, err := store.Open(ctx, "sess", "live", StreamModeStreaming)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan string)
	go func() {
		defer close(got)
		r, err := store.Resume(ctx, EncodeEventID("sess", "live", 0))
		if err != nil {
			t.Error(err)
			return
		}
		for e, err := range r.Events(ctx) {
			if err != nil {
				t.Error(err)
				return
			}
			got <- string(e.Data)
		}
	}()

	if _, err := w.Append(ctx, "message", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-got:
		if s != "hello" {
			t.Errorf("got %q, want hello", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader never saw the event")
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case _, ok := <-got:
		if ok {
			t.Error("got unexpected event after close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader never terminated")
	}
}
