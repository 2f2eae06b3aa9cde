// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mcpwire/mcpwire/jsonrpc"
)

var testImpl = &Implementation{Name: "test", Version: "v1.0.0"}

type hiParams struct {
	Name string
}

func greetTool() *Tool { return &Tool{Name: "greet", Description: "say hi"} }

func sayHi(ctx context.Context, req *CallToolRequest, args hiParams) (*CallToolResult, any, error) {
	if err := req.Session.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping failed: %v", err)
	}
	return &CallToolResult{Content: []Content{&TextContent{Text: "hi " + args.Name}}}, nil, nil
}

// errorCode returns the code associated with err.
// If err is nil, it returns 0. If there is no code, it returns -1.
func errorCode(err error) int64 {
	if err == nil {
		return 0
	}
	var werr *jsonrpc.Error
	if errors.As(err, &werr) {
		return werr.Code
	}
	return -1
}

// basicConnection returns a new basic client-server connection, with the
// server configured via the provided function.
//
// The returned func cleans up by closing the client and waiting for the
// server session to shut down.
func basicConnection(t *testing.T, config func(*Server)) (*ClientSession, *ServerSession, func()) {
	return basicClientServerConnection(t, nil, nil, config)
}

// basicClientServerConnection creates a basic connection between client and
// server. If either client or server is nil, empty implementations are used.
func basicClientServerConnection(t *testing.T, client *Client, server *Server, config func(*Server)) (*ClientSession, *ServerSession, func()) {
	t.Helper()

	ctx := context.Background()
	ct, st := NewInMemoryTransports()

	if server == nil {
		server = NewServer(testImpl, nil)
	}
	if config != nil {
		config(server)
	}
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	if client == nil {
		client = NewClient(testImpl, nil)
	}
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cs.Close() })

	return cs, ss, func() {
		cs.Close()
		ss.Wait()
	}
}

func TestToolCall(t *testing.T) {
	cs, _, cleanup := basicConnection(t, func(s *Server) {
		AddTool(s, greetTool(), sayHi)
	})
	defer cleanup()

	ctx := context.Background()
	res, err := cs.CallTool(ctx, &CallToolParams{
		Name:      "greet",
		Arguments: map[string]any{"Name": "user"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := &CallToolResult{Content: []Content{&TextContent{Text: "hi user"}}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("tool result mismatch (-want, +got):\n%s", diff)
	}
}

func TestToolErrorIsToolResult(t *testing.T) {
	cs, _, cleanup := basicConnection(t, func(s *Server) {
		AddTool(s, &Tool{Name: "fail"}, func(ctx context.Context, req *CallToolRequest, args struct{}) (*CallToolResult, any, error) {
			return nil, nil, errors.New("tool broke")
		})
	})
	defer cleanup()

	res, err := cs.CallTool(context.Background(), &CallToolParams{Name: "fail"})
	if err != nil {
		t.Fatalf("handler errors must become tool results, got protocol error %v", err)
	}
	if !res.IsError {
		t.Error("got IsError false, want true")
	}
	if len(res.Content) == 0 {
		t.Fatal("no content in error result")
	}
	if tc, ok := res.Content[0].(*TextContent); !ok || tc.Text != "tool broke" {
		t.Errorf("got content %v, want text %q", res.Content[0], "tool broke")
	}
}

func TestToolValidationError(t *testing.T) {
	cs, _, cleanup := basicConnection(t, func(s *Server) {
		AddTool(s, greetTool(), sayHi)
	})
	defer cleanup()

	_, err := cs.CallTool(context.Background(), &CallToolParams{
		Name:      "greet",
		Arguments: map[string]any{"Name": 3},
	})
	if got := errorCode(err); got != jsonrpc.CodeInvalidParams {
		t.Errorf("got error %v (code %d), want code %d", err, got, jsonrpc.CodeInvalidParams)
	}
}

func TestUnknownTool(t *testing.T) {
	cs, _, cleanup := basicConnection(t, func(s *Server) {
		AddTool(s, greetTool(), sayHi)
	})
	defer cleanup()

	_, err := cs.CallTool(context.Background(), &CallToolParams{Name: "nope"})
	if got := errorCode(err); got != jsonrpc.CodeInvalidParams {
		t.Errorf("got error %v (code %d), want code %d", err, got, jsonrpc.CodeInvalidParams)
	}
}

func TestServerClosing(t *testing.T) {
	cs, ss, cleanup := basicConnection(t, func(s *Server) {
		AddTool(s, greetTool(), sayHi)
	})
	defer cleanup()

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cs.Wait()
	}()
	if _, err := cs.CallTool(ctx, &CallToolParams{
		Name:      "greet",
		Arguments: map[string]any{"Name": "user"},
	}); err != nil {
		t.Fatalf("after connecting: %v", err)
	}
	ss.Close()
	wg.Wait()
	if _, err := cs.CallTool(ctx, &CallToolParams{
		Name:      "greet",
		Arguments: map[string]any{"Name": "user"},
	}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("after disconnection, got error %v, want ErrConnectionClosed", err)
	}
}

// traceCalls returns middleware that logs the start and end of each method.
func traceCalls(w *bytes.Buffer, prefix string) Middleware {
	var mu sync.Mutex
	return func(h MethodHandler) MethodHandler {
		return func(ctx context.Context, method string, req Request) (Result, error) {
			mu.Lock()
			fmt.Fprintf(w, "%s >%s\n", prefix, method)
			mu.Unlock()
			res, err := h(ctx, method, req)
			mu.Lock()
			fmt.Fprintf(w, "%s <%s\n", prefix, method)
			mu.Unlock()
			return res, err
		}
	}
}

func TestReceivingMiddleware(t *testing.T) {
	ctx := context.Background()
	ct, st := NewInMemoryTransports()

	s := NewServer(testImpl, nil)
	AddTool(s, greetTool(), sayHi)
	var sbuf bytes.Buffer
	sbuf.WriteByte('\n')
	// "1" is the outer layer, called first; then "2"; then the dispatcher.
	s.AddReceivingMiddleware(traceCalls(&sbuf, "R1"), traceCalls(&sbuf, "R2"))

	ss, err := s.Connect(ctx, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	cs, err := NewClient(testImpl, nil).Connect(ctx, ct, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cs.Close() })

	if _, err := cs.ListTools(ctx, nil); err != nil {
		t.Fatal(err)
	}

	want := `
R1 >initialize
R2 >initialize
R2 <initialize
R1 <initialize
R1 >notifications/initialized
R2 >notifications/initialized
R2 <notifications/initialized
R1 <notifications/initialized
R1 >tools/list
R2 >tools/list
R2 <tools/list
R1 <tools/list
`
	if diff := cmp.Diff(want, sbuf.String()); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestRequestCancellation(t *testing.T) {
	started := make(chan struct{})
	cs, _, cleanup := basicConnection(t, func(s *Server) {
		AddTool(s, &Tool{Name: "block"}, func(ctx context.Context, req *CallToolRequest, args struct{}) (*CallToolResult, any, error) {
			close(started)
			<-ctx.Done()
			return nil, nil, ctx.Err()
		})
	})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := cs.CallTool(ctx, &CallToolParams{Name: "block"})
		errc <- err
	}()
	<-started
	cancel()
	if err := <-errc; errorCode(err) != jsonrpc.CodeRequestCancelled {
		t.Errorf("got error %v, want code %d", err, jsonrpc.CodeRequestCancelled)
	}
}

func TestRequestTimeout(t *testing.T) {
	client := NewClient(testImpl, &ClientOptions{RequestTimeout: 50 * time.Millisecond})
	cs, _, cleanup := basicClientServerConnection(t, client, nil, func(s *Server) {
		AddTool(s, &Tool{Name: "block"}, func(ctx context.Context, req *CallToolRequest, args struct{}) (*CallToolResult, any, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		})
	})
	defer cleanup()

	_, err := cs.CallTool(context.Background(), &CallToolParams{Name: "block"})
	if errorCode(err) != jsonrpc.CodeRequestTimeout {
		t.Errorf("got error %v, want code %d", err, jsonrpc.CodeRequestTimeout)
	}
}

func TestProgress(t *testing.T) {
	cs, _, cleanup := basicConnection(t, func(s *Server) {
		AddTool(s, &Tool{Name: "steps"}, func(ctx context.Context, req *CallToolRequest, args struct{}) (*CallToolResult, any, error) {
			for i := 1; i <= 3; i++ {
				req.NotifyProgress(ctx, &ProgressNotificationParams{
					Progress: float64(i),
					Total:    3,
					Message:  fmt.Sprintf("step %d", i),
				})
			}
			return &CallToolResult{Content: []Content{&TextContent{Text: "done"}}}, nil, nil
		})
	})
	defer cleanup()

	var mu sync.Mutex
	var got []float64
	ctx := WithProgressHandler(context.Background(), func(p *ProgressNotificationParams) {
		mu.Lock()
		got = append(got, p.Progress)
		mu.Unlock()
	})
	if _, err := cs.CallTool(ctx, &CallToolParams{Name: "steps"}); err != nil {
		t.Fatal(err)
	}
	// Progress notifications are ordered, but may still be in flight when
	// the response arrives.
	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("got %d progress notifications, want 3", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, got); diff != "" {
		t.Errorf("progress mismatch (-want, +got):\n%s", diff)
	}
}

func TestInitializeGate(t *testing.T) {
	ctx := context.Background()
	ct, st := NewInMemoryTransports()

	s := NewServer(testImpl, nil)
	ss, err := s.Connect(ctx, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	// Speak raw JSON-RPC, skipping the initialize handshake.
	conn, err := ct.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	req := &jsonrpc.Request{ID: jsonrpc.Int64ID(1), Method: "tools/list"}
	if err := conn.Write(ctx, req); err != nil {
		t.Fatal(err)
	}
	msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		t.Fatalf("got %T, want response", msg)
	}
	var werr *jsonrpc.Error
	if !errors.As(resp.Error, &werr) || werr.Code != jsonrpc.CodeInvalidRequest {
		t.Errorf("got %v, want invalid request error", resp.Error)
	}
}

func TestLoggingLevelGate(t *testing.T) {
	received := make(chan *LoggingMessageParams, 10)
	client := NewClient(testImpl, &ClientOptions{
		LoggingMessageHandler: func(ctx context.Context, req *LoggingMessageRequest) {
			received <- req.Params
		},
	})
	cs, ss, cleanup := basicClientServerConnection(t, client, nil, nil)
	defer cleanup()

	ctx := context.Background()
	if err := cs.SetLoggingLevel(ctx, &SetLoggingLevelParams{Level: "warning"}); err != nil {
		t.Fatal(err)
	}
	if err := ss.Log(ctx, &LoggingMessageParams{Level: "info", Data: "quiet"}); err != nil {
		t.Fatal(err)
	}
	if err := ss.Log(ctx, &LoggingMessageParams{Level: "error", Data: "loud"}); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-received:
		if p.Level != "error" {
			t.Errorf("got level %q, want %q", p.Level, "error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log message")
	}
	select {
	case p := <-received:
		t.Errorf("unexpected extra log message: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCapabilityEnforcement(t *testing.T) {
	// The default test client supports neither sampling nor elicitation.
	cs, ss, cleanup := basicConnection(t, nil)
	defer cleanup()

	ctx := context.Background()
	if _, err := ss.Elicit(ctx, &ElicitParams{Message: "?"}); err == nil {
		t.Error("Elicit: got nil error, want capability error")
	}
	if _, err := ss.CreateMessage(ctx, &CreateMessageParams{}); err == nil {
		t.Error("CreateMessage: got nil error, want capability error")
	}
	// The default test server has no resources, so subscribing must fail.
	if err := cs.Subscribe(ctx, &SubscribeParams{URI: "file:///x"}); err == nil {
		t.Error("Subscribe: got nil error, want capability error")
	}
}

func TestSamplingAndElicitation(t *testing.T) {
	client := NewClient(testImpl, &ClientOptions{
		CreateMessageHandler: func(ctx context.Context, req *CreateMessageRequest) (*CreateMessageResult, error) {
			return &CreateMessageResult{
				Content: &TextContent{Text: "sampled"},
				Model:   "fake",
				Role:    "assistant",
			}, nil
		},
		ElicitationHandler: func(ctx context.Context, req *ElicitRequest) (*ElicitResult, error) {
			return &ElicitResult{Action: "accept", Content: map[string]any{"answer": "yes"}}, nil
		},
	})
	_, ss, cleanup := basicClientServerConnection(t, client, nil, nil)
	defer cleanup()

	ctx := context.Background()
	cm, err := ss.CreateMessage(ctx, &CreateMessageParams{})
	if err != nil {
		t.Fatal(err)
	}
	if tc, ok := cm.Content.(*TextContent); !ok || tc.Text != "sampled" {
		t.Errorf("got %v, want sampled text", cm.Content)
	}
	er, err := ss.Elicit(ctx, &ElicitParams{Message: "proceed?"})
	if err != nil {
		t.Fatal(err)
	}
	if er.Action != "accept" {
		t.Errorf("got action %q, want accept", er.Action)
	}
}

func TestListPagination(t *testing.T) {
	server := NewServer(testImpl, &ServerOptions{PageSize: 2})
	cs, _, cleanup := basicClientServerConnection(t, nil, server, func(s *Server) {
		for i := range 5 {
			name := fmt.Sprintf("tool-%d", i)
			s.AddTool(&Tool{Name: name}, func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
				return &CallToolResult{}, nil
			})
		}
	})
	defer cleanup()

	ctx := context.Background()
	res, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tools) != 2 {
		t.Errorf("got %d tools in first page, want 2", len(res.Tools))
	}
	if res.NextCursor == "" {
		t.Error("missing next cursor")
	}

	var all []string
	for tool, err := range cs.Tools(ctx, nil) {
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, tool.Name)
	}
	want := []string{"tool-0", "tool-1", "tool-2", "tool-3", "tool-4"}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("tools mismatch (-want, +got):\n%s", diff)
	}
}

func TestResourceNotFound(t *testing.T) {
	cs, _, cleanup := basicConnection(t, func(s *Server) {
		s.AddResource(&Resource{URI: "file:///there.txt", Name: "there"},
			func(ctx context.Context, req *ReadResourceRequest) (*ReadResourceResult, error) {
				return &ReadResourceResult{Contents: []*ResourceContents{{URI: req.Params.URI, Text: "hello"}}}, nil
			})
	})
	defer cleanup()

	_, err := cs.ReadResource(context.Background(), &ReadResourceParams{URI: "file:///missing.txt"})
	if got := errorCode(err); got != CodeResourceNotFound {
		t.Errorf("got error %v (code %d), want code %d", err, got, CodeResourceNotFound)
	}
}

func TestRootsRoundTrip(t *testing.T) {
	client := NewClient(testImpl, nil)
	client.AddRoots(&Root{URI: "file:///a", Name: "a"}, &Root{URI: "file:///b"})
	_, ss, cleanup := basicClientServerConnection(t, client, nil, nil)
	defer cleanup()

	res, err := ss.ListRoots(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Roots) != 2 {
		t.Errorf("got %d roots, want 2", len(res.Roots))
	}
}
