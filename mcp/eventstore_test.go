// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEventID(t *testing.T) {
	for _, tt := range []struct {
		session, stream string
		seq             int64
	}{
		{"s", "", 0},
		{"session-1", "stream-1", 1},
		{"with:colon", "and:another", 42},
		{"", "", 7},
	} {
		id := EncodeEventID(tt.session, tt.stream, tt.seq)
		session, stream, seq, err := ParseEventID(id)
		if err != nil {
			t.Fatalf("ParseEventID(%q): %v", id, err)
		}
		if session != tt.session || stream != tt.stream || seq != tt.seq {
			t.Errorf("round trip of (%q, %q, %d) = (%q, %q, %d)",
				tt.session, tt.stream, tt.seq, session, stream, seq)
		}
	}

	for _, bad := range []string{"", "x", "a:b", "a:b:c:d", "!!!:!!!:1", "YQ:YQ:notanumber", "YQ:YQ:-1"} {
		if _, _, _, err := ParseEventID(bad); err == nil {
			t.Errorf("ParseEventID(%q): got nil error", bad)
		}
	}
}

func TestMemoryEventStoreAppendResume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore(nil)
	defer store.Close()

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
		if e.ID != EncodeEventID("sess", "stream", int64(i)) {
			t.Errorf("got ID %q", e.ID)
		}
	}

	// Resuming from sequence 0 replays the whole stream.
	r, err := store.Resume(ctx, EncodeEventID("sess", "stream", 0))
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
	want := []string{"event 1", "event 2", "event 3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("replay mismatch (-want, +got):\n%s", diff)
	}

	// Resuming mid-stream yields only the later events.
	r, err = store.Resume(ctx, EncodeEventID("sess", "stream", 2))
	if err != nil {
		t.Fatal(err)
	}
	got = nil
	for e, err := range r.Events(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(e.Data))
	}
	if diff := cmp.Diff([]string{"event 3"}, got); diff != "" {
		t.Errorf("mid-stream resume mismatch (-want, +got):\n%s", diff)
	}

	// A foreign ID is not resumable, but not an error either.
	r, err = store.Resume(ctx, "some-opaque-id")
	if err != nil || r != nil {
		t.Errorf("foreign ID: got (%v, %v), want (nil, nil)", r, err)
	}
}

func TestMemoryEventStoreStreaming(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore(nil)
	defer store.Close()

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

	// The reader blocks for events appended after it started.
	for _, data := range []string{"one", "two"} {
		if _, err := w.Append(ctx, "message", []byte(data)); err != nil {
			t.Fatal(err)
		}
		select {
		case s := <-got:
			if s != data {
				t.Errorf("got %q, want %q", s, data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("reader never saw %q", data)
		}
	}

	// Closing the writer completes the stream and terminates the reader.
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case s, ok := <-got:
		if ok {
			t.Errorf("got unexpected event %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader never terminated")
	}

	// No appends after completion.
	if _, err := w.Append(ctx, "message", []byte("late")); err == nil {
		t.Error("append to completed stream: got nil error")
	}
}

func TestMemoryEventStorePollingSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore(nil)
	defer store.Close()

	w, err := store.Open(ctx, "sess", "poll", StreamModePolling)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(ctx, "message", []byte("first")); err != nil {
		t.Fatal(err)
	}

	// A polling reader stops at the end of the available events even though
	// the stream is not complete.
	r, err := store.Resume(ctx, EncodeEventID("sess", "poll", 0))
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, err := range r.Events(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 1 {
		t.Errorf("got %d events, want 1", n)
	}
}

func TestMemoryEventStoreExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("metadata", func(t *testing.T) {
		store := NewMemoryEventStore(&MemoryEventStoreOptions{MetadataTTL: 20 * time.Millisecond})
		defer store.Close()

		w, err := store.Open(ctx, "sess", "gone", StreamModePolling)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Append(ctx, "message", []byte("x")); err != nil {
			t.Fatal(err)
		}
		time.Sleep(40 * time.Millisecond)

		r, err := store.Resume(ctx, EncodeEventID("sess", "gone", 0))
		if err != nil {
			t.Fatal(err)
		}
		var gotErr error
		for _, err := range r.Events(ctx) {
			gotErr = err
			break
		}
		var expired *StreamMetadataExpiredError
		if !errors.As(gotErr, &expired) {
			t.Fatalf("got %v, want StreamMetadataExpiredError", gotErr)
		}
		if expired.SessionID != "sess" || expired.StreamID != "gone" {
			t.Errorf("got %+v", expired)
		}
	})

	t.Run("events", func(t *testing.T) {
		// Capping retained events evicts the oldest, so resumption from the
		// start reports the first missing event.
		store := NewMemoryEventStore(&MemoryEventStoreOptions{MaxEventsPerStream: 2})
		defer store.Close()

		w, err := store.Open(ctx, "sess", "capped", StreamModePolling)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i <= 3; i++ {
			if _, err := w.Append(ctx, "message", fmt.Appendf(nil, "%d", i)); err != nil {
				t.Fatal(err)
			}
		}

		r, err := store.Resume(ctx, EncodeEventID("sess", "capped", 0))
		if err != nil {
			t.Fatal(err)
		}
		var gotErr error
		for _, err := range r.Events(ctx) {
			gotErr = err
			break
		}
		var expired *EventExpiredError
		if !errors.As(gotErr, &expired) {
			t.Fatalf("got %v, want EventExpiredError", gotErr)
		}
		if want := EncodeEventID("sess", "capped", 1); expired.EventID != want {
			t.Errorf("got missing event %q, want %q", expired.EventID, want)
		}

		// Resuming past the eviction point still works.
		r, err = store.Resume(ctx, EncodeEventID("sess", "capped", 1))
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
		if diff := cmp.Diff([]string{"2", "3"}, got); diff != "" {
			t.Errorf("post-eviction resume mismatch (-want, +got):\n%s", diff)
		}
	})
}

func TestMemoryEventStoreReaderCancellation(t *testing.T) {
	store := NewMemoryEventStore(nil)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := store.Open(ctx, "sess", "idle", StreamModeStreaming); err != nil {
		t.Fatal(err)
	}
	r, err := store.Resume(ctx, EncodeEventID("sess", "idle", 0))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range r.Events(ctx) {
			t.Error("unexpected event on idle stream")
		}
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not observe cancellation")
	}
}
