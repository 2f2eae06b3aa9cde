// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/mcpwire/mcpwire/jsonrpc"
)

// A Transport is used to create a bidirectional connection between MCP
// client and server.
//
// Transports should be used for at most one call to [Server.Connect] or
// [Client.Connect].
type Transport interface {
	// Connect returns the logical JSON-RPC connection.
	//
	// It is called exactly once by [Server.Connect] or [Client.Connect].
	Connect(ctx context.Context) (Connection, error)
}

// A Connection is a logical bidirectional JSON-RPC connection.
type Connection interface {
	// Read reads the next message from the peer. It blocks until a message
	// arrives, the connection closes (io.EOF), or ctx is done.
	Read(ctx context.Context) (jsonrpc.Message, error)
	// Write writes a message to the peer. Write is safe for concurrent use.
	Write(ctx context.Context, msg jsonrpc.Message) error
	// Close closes the connection. Pending and subsequent reads fail.
	// Close is idempotent.
	Close() error
	// SessionID returns the transport-assigned session ID, or "" if the
	// transport does not assign one.
	SessionID() string
}

// An ioConn is a connection over a newline-delimited JSON stream: each
// message is serialized on a single line terminated by '\n', and messages
// contain no embedded newlines.
type ioConn struct {
	rwc io.ReadWriteCloser
	in  *bufio.Scanner

	writeMu sync.Mutex // serializes writes

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// maxLineBytes bounds a single newline-delimited message.
const maxLineBytes = 16 * 1024 * 1024

// newIOConn returns a connection speaking newline-delimited JSON over rwc.
func newIOConn(rwc io.ReadWriteCloser) *ioConn {
	in := bufio.NewScanner(rwc)
	in.Buffer(nil, maxLineBytes)
	return &ioConn{
		rwc:    rwc,
		in:     in,
		closed: make(chan struct{}),
	}
}

func (c *ioConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-c.closed:
		return nil, io.EOF
	default:
	}
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return jsonrpc.DecodeMessage(c.in.Bytes())
}

func (c *ioConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return fmt.Errorf("write on closed connection")
	default:
	}
	if _, err := c.rwc.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (c *ioConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

func (c *ioConn) SessionID() string { return "" }

// An IOTransport is a [Transport] over an arbitrary io.ReadWriteCloser,
// speaking newline-delimited JSON.
type IOTransport struct {
	rwc io.ReadWriteCloser
}

// NewIOTransport returns a transport over rwc.
func NewIOTransport(rwc io.ReadWriteCloser) *IOTransport {
	return &IOTransport{rwc: rwc}
}

func (t *IOTransport) Connect(ctx context.Context) (Connection, error) {
	return newIOConn(t.rwc), nil
}

// An InMemoryTransport is one end of a bidirectional in-memory pipe created
// by [NewInMemoryTransports].
type InMemoryTransport struct {
	conn net.Conn
}

// NewInMemoryTransports returns two connected in-memory transports. The two
// ends speak newline-delimited JSON over a synchronous pipe, so messages are
// delivered in order.
func NewInMemoryTransports() (*InMemoryTransport, *InMemoryTransport) {
	c1, c2 := net.Pipe()
	return &InMemoryTransport{conn: c1}, &InMemoryTransport{conn: c2}
}

func (t *InMemoryTransport) Connect(ctx context.Context) (Connection, error) {
	return newIOConn(t.conn), nil
}

// A LoggingTransport wraps a delegate and logs RPC traffic to an io.Writer,
// for debugging.
type LoggingTransport struct {
	delegate Transport
	w        io.Writer
}

// NewLoggingTransport returns a transport logging to w.
func NewLoggingTransport(delegate Transport, w io.Writer) *LoggingTransport {
	return &LoggingTransport{delegate: delegate, w: w}
}

func (t *LoggingTransport) Connect(ctx context.Context) (Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConn{conn: conn, w: t.w}, nil
}

type loggingConn struct {
	conn Connection

	mu sync.Mutex // serializes writes to w
	w  io.Writer
}

func (c *loggingConn) SessionID() string { return c.conn.SessionID() }

func (c *loggingConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.conn.Read(ctx)
	if err == nil {
		c.log("read", msg)
	}
	return msg, err
}

func (c *loggingConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	err := c.conn.Write(ctx, msg)
	if err == nil {
		c.log("write", msg)
	}
	return err
}

func (c *loggingConn) log(dir string, msg jsonrpc.Message) {
	data, err := jsonrpc.EncodeMessage(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		fmt.Fprintf(c.w, "%s error: %v\n", dir, err)
		return
	}
	fmt.Fprintf(c.w, "%s: %s\n", dir, data)
}

func (c *loggingConn) Close() error { return c.conn.Close() }
