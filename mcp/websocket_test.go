// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func wsTestServer(t *testing.T) string {
	t.Helper()
	server := NewServer(testImpl, nil)
	AddTool(server, greetTool(), sayHi)
	handler := NewWebSocketHandler(func(*http.Request) *Server { return server })
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	return "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func TestWebSocketTransport(t *testing.T) {
	url := wsTestServer(t)

	client := NewClient(testImpl, nil)
	cs, err := client.Connect(context.Background(), &WebSocketClientTransport{Endpoint: url}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	res, err := cs.CallTool(context.Background(), &CallToolParams{
		Name:      "greet",
		Arguments: map[string]any{"Name": "carol"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := &CallToolResult{Content: []Content{&TextContent{Text: "hi carol"}}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("tool call mismatch (-want, +got):\n%s", diff)
	}
}

func TestWebSocketSubprotocol(t *testing.T) {
	url := wsTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	resp.Body.Close()
	if got := conn.Subprotocol(); got != "" && got != wsSubprotocol {
		t.Errorf("negotiated subprotocol %q, want %q or none", got, wsSubprotocol)
	}
}

func TestWebSocketClientClose(t *testing.T) {
	url := wsTestServer(t)

	client := NewClient(testImpl, nil)
	cs, err := client.Connect(context.Background(), &WebSocketClientTransport{Endpoint: url}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := cs.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := cs.ListTools(context.Background(), nil); err == nil {
		t.Error("call after close: got nil error")
	}
}
