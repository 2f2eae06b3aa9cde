// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mcpwire/mcpwire/jsonrpc"
)

// memStream is an in-memory io.ReadWriteCloser: reads drain from in, writes
// land in out.
type memStream struct {
	in  io.Reader
	out bytes.Buffer
}

func (c *memStream) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *memStream) Write(p []byte) (int, error) { return c.out.Write(p) }
func (c *memStream) Close() error                { return nil }

func TestIOConnFraming(t *testing.T) {
	ctx := context.Background()
	input := `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n"
	conn := newIOConn(&memStream{in: strings.NewReader(input)})

	msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok || req.Method != "ping" || !req.IsCall() {
		t.Errorf("got %+v, want ping call", msg)
	}

	msg, err = conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if req, ok := msg.(*jsonrpc.Request); !ok || req.Method != "notifications/initialized" || req.IsCall() {
		t.Errorf("got %+v, want initialized notification", msg)
	}

	if _, err := conn.Read(ctx); err != io.EOF {
		t.Errorf("at end of input: got %v, want io.EOF", err)
	}
}

func TestIOConnWrite(t *testing.T) {
	ctx := context.Background()
	c := &memStream{in: strings.NewReader("")}
	conn := newIOConn(c)

	req := &jsonrpc.Request{ID: jsonrpc.Int64ID(1), Method: "ping"}
	if err := conn.Write(ctx, req); err != nil {
		t.Fatal(err)
	}
	out := c.out.String()
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("message not newline-terminated: %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("message contains embedded newlines: %q", out)
	}

	got, err := jsonrpc.DecodeMessage([]byte(strings.TrimSuffix(out, "\n")))
	if err != nil {
		t.Fatal(err)
	}
	idCmp := cmp.Comparer(func(a, b jsonrpc.ID) bool { return a.Raw() == b.Raw() })
	if diff := cmp.Diff(req, got, idCmp); diff != "" {
		t.Errorf("round trip mismatch (-want, +got):\n%s", diff)
	}

	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, req); err == nil {
		t.Error("write after close: got nil error")
	}
	if _, err := conn.Read(ctx); err != io.EOF {
		t.Errorf("read after close: got %v, want io.EOF", err)
	}
}

func TestIOConnGarbage(t *testing.T) {
	conn := newIOConn(&memStream{in: strings.NewReader("not json\n")})
	if _, err := conn.Read(context.Background()); err == nil {
		t.Error("got nil error reading garbage")
	}
}

func TestInMemoryTransports(t *testing.T) {
	ctx := context.Background()
	t1, t2 := NewInMemoryTransports()
	c1, err := t1.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := t2.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}

	req := &jsonrpc.Request{ID: jsonrpc.Int64ID(7), Method: "ping"}
	go func() {
		if err := c1.Write(ctx, req); err != nil {
			t.Error(err)
		}
	}()
	msg, err := c2.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	idCmp := cmp.Comparer(func(a, b jsonrpc.ID) bool { return a.Raw() == b.Raw() })
	if diff := cmp.Diff(req, msg, idCmp); diff != "" {
		t.Errorf("pipe mismatch (-want, +got):\n%s", diff)
	}

	c1.Close()
	if _, err := c2.Read(ctx); !errors.Is(err, io.EOF) && err == nil {
		t.Errorf("read from closed pipe: got nil error")
	}
}

func TestLoggingTransport(t *testing.T) {
	ctx := context.Background()
	t1, t2 := NewInMemoryTransports()

	var log bytes.Buffer
	lt := NewLoggingTransport(t1, &log)
	c1, err := lt.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := t2.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	defer c2.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c2.Read(ctx); err != nil {
			t.Error(err)
		}
	}()
	if err := c1.Write(ctx, &jsonrpc.Request{Method: "notifications/initialized"}); err != nil {
		t.Fatal(err)
	}
	<-done

	if got := log.String(); !strings.Contains(got, "write:") || !strings.Contains(got, "notifications/initialized") {
		t.Errorf("log missing write entry: %q", got)
	}
}
