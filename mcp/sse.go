// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mcpwire/mcpwire/jsonrpc"
)

// An sseEvent is one server-sent event frame.
type sseEvent struct {
	name string // the "event" field; empty means the default "message"
	id   string
	data []byte
}

// writeEvent writes the event to w in SSE wire format, flushing if w is an
// http.Flusher.
func writeEvent(w io.Writer, e sseEvent) (int, error) {
	var b bytes.Buffer
	if e.name != "" {
		fmt.Fprintf(&b, "event: %s\n", e.name)
	}
	if e.id != "" {
		fmt.Fprintf(&b, "id: %s\n", e.id)
	}
	for _, line := range bytes.Split(e.data, []byte{'\n'}) {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')
	n, err := w.Write(b.Bytes())
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// scanEvents iterates over the SSE frames in r. Unknown fields and comment
// lines are ignored, per the SSE specification.
func scanEvents(r io.Reader) iter.Seq2[sseEvent, error] {
	return func(yield func(sseEvent, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(nil, maxLineBytes)
		var e sseEvent
		var dataLines [][]byte
		flush := func() bool {
			if e.name == "" && e.id == "" && len(dataLines) == 0 {
				return true
			}
			e.data = bytes.Join(dataLines, []byte{'\n'})
			ok := yield(e, nil)
			e = sseEvent{}
			dataLines = nil
			return ok
		}
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if !flush() {
					return
				}
				continue
			}
			field, value, ok := strings.Cut(line, ":")
			if !ok {
				field, value = line, ""
			}
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				e.name = value
			case "id":
				e.id = value
			case "data":
				dataLines = append(dataLines, []byte(value))
			}
		}
		if err := scanner.Err(); err != nil {
			yield(sseEvent{}, err)
			return
		}
		flush()
	}
}

//
// Legacy HTTP+SSE transport (protocol version 2024-11-05): the server
// replies to a GET with an event stream whose first event names the message
// endpoint; the client POSTs messages there.
//

// SSEOptions configures an [SSEHandler]. It is reserved for future
// expansion; a nil value is valid.
type SSEOptions struct{}

// An SSEHandler is an http.Handler that serves MCP servers over the legacy
// HTTP+SSE transport.
type SSEHandler struct {
	getServer func(*http.Request) *Server

	mu       sync.Mutex
	sessions map[string]*sseServerConn
}

// NewSSEHandler returns an SSEHandler using getServer to select the server
// for each new session. getServer may return a distinct server per request,
// or the same server for all of them.
func NewSSEHandler(getServer func(*http.Request) *Server, opts *SSEOptions) *SSEHandler {
	_ = opts
	return &SSEHandler{
		getServer: getServer,
		sessions:  make(map[string]*sseServerConn),
	}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("sessionid")
	switch req.Method {
	case http.MethodGet:
		if sessionID != "" {
			http.Error(w, "GET on existing session", http.StatusBadRequest)
			return
		}
		h.serveStream(w, req)
	case http.MethodPost:
		h.mu.Lock()
		conn := h.sessions[sessionID]
		h.mu.Unlock()
		if conn == nil {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		body, err := io.ReadAll(io.LimitReader(req.Body, maxLineBytes))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg, err := jsonrpc.DecodeMessage(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		select {
		case conn.incoming <- msg:
			w.WriteHeader(http.StatusAccepted)
		case <-conn.done:
			http.Error(w, "session closed", http.StatusGone)
		case <-req.Context().Done():
		}
	default:
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (h *SSEHandler) serveStream(w http.ResponseWriter, req *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sessionID := uuid.NewString()
	conn := &sseServerConn{
		sessionID: sessionID,
		w:         w,
		incoming:  make(chan jsonrpc.Message, 16),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	h.sessions[sessionID] = conn
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
		conn.Close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	endpoint := *req.URL
	q := endpoint.Query()
	q.Set("sessionid", sessionID)
	endpoint.RawQuery = q.Encode()
	if _, err := writeEvent(w, sseEvent{name: "endpoint", data: []byte(endpoint.RequestURI())}); err != nil {
		return
	}

	server := h.getServer(req)
	ss, err := server.Connect(req.Context(), connTransport{conn}, nil)
	if err != nil {
		http.Error(w, "failed to connect", http.StatusInternalServerError)
		return
	}
	select {
	case <-req.Context().Done():
		ss.Close()
	case <-conn.done:
	}
}

// connTransport adapts an existing Connection into a single-use Transport.
type connTransport struct {
	conn Connection
}

func (t connTransport) Connect(ctx context.Context) (Connection, error) {
	return t.conn, nil
}

// An sseServerConn is the server half of a legacy SSE session: reads come
// from POSTs, writes go to the event stream.
type sseServerConn struct {
	sessionID string
	incoming  chan jsonrpc.Message

	writeMu sync.Mutex
	w       http.ResponseWriter

	closeOnce sync.Once
	done      chan struct{}
}

func (c *sseServerConn) SessionID() string { return c.sessionID }

func (c *sseServerConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *sseServerConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	_, err = writeEvent(c.w, sseEvent{name: "message", data: data})
	return err
}

func (c *sseServerConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// An SSEClientTransport is a [Transport] that connects to a server over the
// legacy HTTP+SSE transport.
type SSEClientTransport struct {
	// Endpoint is the SSE endpoint URL.
	Endpoint string
	// HTTPClient is the client to use. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

func (t *SSEClientTransport) Connect(ctx context.Context) (Connection, error) {
	endpoint, err := url.Parse(t.Endpoint)
	if err != nil {
		return nil, err
	}
	httpClient := t.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	// The stream outlives ctx, which scopes only the dial.
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("connecting: %s", resp.Status)
	}

	conn := &sseClientConn{
		client:  httpClient,
		body:    resp.Body,
		cancel:  cancel,
		events:  make(chan sseEvent, 16),
		readErr: make(chan error, 1),
	}
	go conn.scan()

	// The first event names the message endpoint.
	select {
	case e := <-conn.events:
		if e.name != "endpoint" {
			conn.Close()
			return nil, fmt.Errorf("expected endpoint event, got %q", e.name)
		}
		msgURL, err := endpoint.Parse(string(e.data))
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn.msgEndpoint = msgURL.String()
	case err := <-conn.readErr:
		conn.Close()
		return nil, fmt.Errorf("reading endpoint event: %w", err)
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
	return conn, nil
}

type sseClientConn struct {
	client      *http.Client
	msgEndpoint string
	body        io.ReadCloser
	cancel      context.CancelFunc

	events  chan sseEvent
	readErr chan error

	closeOnce sync.Once
}

func (c *sseClientConn) SessionID() string { return "" }

func (c *sseClientConn) scan() {
	for e, err := range scanEvents(c.body) {
		if err != nil {
			c.readErr <- err
			return
		}
		c.events <- e
	}
	c.readErr <- io.EOF
}

func (c *sseClientConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	for {
		select {
		case e := <-c.events:
			if e.name != "message" && e.name != "" {
				continue
			}
			return jsonrpc.DecodeMessage(e.data)
		case err := <-c.readErr:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *sseClientConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.msgEndpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("posting message: %s", resp.Status)
	}
	return nil
}

func (c *sseClientConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.body.Close()
	})
	return nil
}
