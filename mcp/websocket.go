// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcpwire/mcpwire/jsonrpc"
)

// wsSubprotocol is the negotiated WebSocket subprotocol for MCP sessions.
const wsSubprotocol = "mcp"

// A WebSocketClientTransport is a [Transport] that dials a WebSocket
// endpoint. Each JSON-RPC message is one text frame.
type WebSocketClientTransport struct {
	// Endpoint is the ws:// or wss:// URL to dial.
	Endpoint string
	// Dialer is the dialer to use. If nil, websocket.DefaultDialer is used.
	Dialer *websocket.Dialer
	// Header is attached to the handshake request, for authorization and
	// the like.
	Header http.Header
}

func (t *WebSocketClientTransport) Connect(ctx context.Context) (Connection, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	d := *dialer
	d.Subprotocols = append([]string{wsSubprotocol}, d.Subprotocols...)
	conn, resp, err := d.DialContext(ctx, t.Endpoint, t.Header)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", t.Endpoint, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return newWSConn(conn), nil
}

// A WebSocketHandler is an http.Handler that upgrades requests to
// WebSocket MCP sessions.
type WebSocketHandler struct {
	getServer func(*http.Request) *Server
	upgrader  websocket.Upgrader
}

// NewWebSocketHandler returns a handler using getServer to select the
// server for each new connection.
func NewWebSocketHandler(getServer func(*http.Request) *Server) *WebSocketHandler {
	return &WebSocketHandler{
		getServer: getServer,
		upgrader:  websocket.Upgrader{Subprotocols: []string{wsSubprotocol}},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return // Upgrade already replied
	}
	server := h.getServer(req)
	if server == nil {
		conn.Close()
		return
	}
	wc := newWSConn(conn)
	if _, err := server.Connect(req.Context(), connTransport{wc}, nil); err != nil {
		wc.Close()
	}
}

// wsConn adapts a websocket connection to [Connection]. Reads are
// serialized by a single pump goroutine; writes hold a mutex, as the
// underlying connection permits one concurrent writer.
type wsConn struct {
	conn *websocket.Conn

	incoming chan wsRead

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

type wsRead struct {
	msg jsonrpc.Message
	err error
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn:     conn,
		incoming: make(chan wsRead),
		done:     make(chan struct{}),
	}
	go c.readPump()
	return c
}

func (c *wsConn) SessionID() string { return "" }

func (c *wsConn) readPump() {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			c.send(wsRead{err: err})
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		msg, err := jsonrpc.DecodeMessage(data)
		c.send(wsRead{msg: msg, err: err})
		if err != nil {
			return
		}
	}
}

func (c *wsConn) send(r wsRead) {
	select {
	case c.incoming <- r:
	case <-c.done:
	}
}

func (c *wsConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case r := <-c.incoming:
		return r.msg, r.err
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *wsConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
		close(c.done)
	})
	return c.closeErr
}
