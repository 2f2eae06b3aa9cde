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
)

func TestScanEvents(t *testing.T) {
	input := ": a comment\n" +
		"event: endpoint\n" +
		"data: /messages?sessionid=1\n" +
		"\n" +
		"id: 42\n" +
		"data: line one\n" +
		"data: line two\n" +
		"\n" +
		"data: no trailing blank"
	var got []sseEvent
	for e, err := range scanEvents(strings.NewReader(input)) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, e)
	}
	want := []sseEvent{
		{name: "endpoint", data: []byte("/messages?sessionid=1")},
		{id: "42", data: []byte("line one\nline two")},
		{data: []byte("no trailing blank")},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(sseEvent{})); diff != "" {
		t.Errorf("scanEvents mismatch (-want, +got):\n%s", diff)
	}
}

func TestWriteEventRoundTrip(t *testing.T) {
	var sb strings.Builder
	events := []sseEvent{
		{name: "message", id: "e1", data: []byte(`{"x":1}`)},
		{data: []byte("multi\nline")},
	}
	for _, e := range events {
		if _, err := writeEvent(&sb, e); err != nil {
			t.Fatal(err)
		}
	}
	var got []sseEvent
	for e, err := range scanEvents(strings.NewReader(sb.String())) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, e)
	}
	if diff := cmp.Diff(events, got, cmp.AllowUnexported(sseEvent{})); diff != "" {
		t.Errorf("round trip mismatch (-want, +got):\n%s", diff)
	}
}

func TestSSETransport(t *testing.T) {
	server := NewServer(testImpl, nil)
	AddTool(server, greetTool(), sayHi)
	handler := NewSSEHandler(func(*http.Request) *Server { return server }, nil)
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	client := NewClient(testImpl, nil)
	cs, err := client.Connect(context.Background(), &SSEClientTransport{Endpoint: httpServer.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	res, err := cs.CallTool(context.Background(), &CallToolParams{
		Name:      "greet",
		Arguments: map[string]any{"Name": "alice"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := &CallToolResult{Content: []Content{&TextContent{Text: "hi alice"}}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("tool call mismatch (-want, +got):\n%s", diff)
	}
}

func TestSSEUnknownSession(t *testing.T) {
	server := NewServer(testImpl, nil)
	handler := NewSSEHandler(func(*http.Request) *Server { return server }, nil)
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	resp, err := http.Post(httpServer.URL+"?sessionid=bogus", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
