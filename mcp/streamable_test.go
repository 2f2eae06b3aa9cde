// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"
)

// streamableServer starts an httptest server around a streamable handler for
// a server with the greet tool.
func streamableServer(t *testing.T, opts *StreamableHTTPOptions, config func(*Server)) *httptest.Server {
	t.Helper()
	server := NewServer(testImpl, nil)
	AddTool(server, greetTool(), sayHi)
	if config != nil {
		config(server)
	}
	handler := NewStreamableHTTPHandler(func(*http.Request) *Server { return server }, opts)
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	return httpServer
}

func connectStreamable(t *testing.T, url string, client *Client) *ClientSession {
	t.Helper()
	if client == nil {
		client = NewClient(testImpl, nil)
	}
	cs, err := client.Connect(context.Background(), &StreamableClientTransport{Endpoint: url}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestStreamableTransport(t *testing.T) {
	httpServer := streamableServer(t, nil, nil)
	cs := connectStreamable(t, httpServer.URL, nil)

	if cs.ID() == "" {
		t.Error("no session ID assigned")
	}

	res, err := cs.CallTool(context.Background(), &CallToolParams{
		Name:      "greet",
		Arguments: map[string]any{"Name": "bob"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := &CallToolResult{Content: []Content{&TextContent{Text: "hi bob"}}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("tool call mismatch (-want, +got):\n%s", diff)
	}
}

func TestStreamableServerNotifications(t *testing.T) {
	// Server-initiated notifications reach the client over its hanging GET.
	got := make(chan string, 10)
	client := NewClient(testImpl, &ClientOptions{
		LoggingMessageHandler: func(ctx context.Context, req *LoggingMessageRequest) {
			got <- fmt.Sprint(req.Params.Data)
		},
	})

	var ss *ServerSession
	httpServer := streamableServer(t, nil, func(s *Server) {
		s.opts.InitializedHandler = func(ctx context.Context, req *InitializedRequest) {
			ss = req.Session
		}
	})
	cs := connectStreamable(t, httpServer.URL, client)
	if err := cs.SetLoggingLevel(context.Background(), &SetLoggingLevelParams{Level: "info"}); err != nil {
		t.Fatal(err)
	}
	if ss == nil {
		t.Fatal("server session not captured")
	}

	if err := ss.Log(context.Background(), &LoggingMessageParams{Level: "info", Data: "hello"}); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-got:
		if s != "hello" {
			t.Errorf("got %q, want hello", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestStreamableSessionNotFound(t *testing.T) {
	httpServer := streamableServer(t, nil, nil)

	req, err := http.NewRequest(http.MethodGet, httpServer.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", "no-such-session")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestStreamableNonInitializePOST(t *testing.T) {
	// A sessionless POST must be an initialize request.
	httpServer := streamableServer(t, nil, nil)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	resp, err := http.Post(httpServer.URL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestStreamableDelete(t *testing.T) {
	httpServer := streamableServer(t, nil, nil)
	cs := connectStreamable(t, httpServer.URL, nil)
	sessionID := cs.ID()

	// Closing the client session DELETEs the server-side session; the
	// session ID then dangles.
	if err := cs.Close(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		req, err := http.NewRequest(http.MethodGet, httpServer.URL, nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Mcp-Session-Id", sessionID)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s still reachable: status %d", sessionID, resp.StatusCode)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamableResume(t *testing.T) {
	// A client reconnecting with Last-Event-ID sees events appended while it
	// was away.
	store := NewMemoryEventStore(nil)
	t.Cleanup(func() { store.Close() })
	httpServer := streamableServer(t, &StreamableHTTPOptions{EventStore: store}, nil)
	cs := connectStreamable(t, httpServer.URL, nil)
	sessionID := cs.ID()

	// Write an event to the session's default stream behind the transport's
	// back, then replay the stream from its start over a raw GET.
	w, err := store.Open(context.Background(), sessionID, "", StreamModeStreaming)
	if err != nil {
		t.Fatal(err)
	}
	notification := `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"replayed"}}`
	if _, err := w.Append(context.Background(), "message", []byte(notification)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Last-Event-ID", EncodeEventID(sessionID, "", 0))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	for e, err := range scanEvents(resp.Body) {
		if err != nil {
			t.Fatal(err)
		}
		if want := EncodeEventID(sessionID, "", 1); e.id != want {
			t.Errorf("got event ID %q, want %q", e.id, want)
		}
		if string(e.data) != notification {
			t.Errorf("got event data %q", e.data)
		}
		break
	}
}

func TestStreamableRateLimit(t *testing.T) {
	httpServer := streamableServer(t, &StreamableHTTPOptions{
		Limiter: rate.NewLimiter(rate.Limit(1), 1),
	}, nil)

	// The bucket holds one token: a second immediate request is rejected.
	resp, err := http.Post(httpServer.URL, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	resp, err = http.Post(httpServer.URL, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
}

func TestStreamableBodyLimit(t *testing.T) {
	httpServer := streamableServer(t, &StreamableHTTPOptions{MaxBodyBytes: 64}, nil)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"pad":"` +
		strings.Repeat("x", 200) + `"}}`
	resp, err := http.Post(httpServer.URL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}
