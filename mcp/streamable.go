// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	internaljson "github.com/mcpwire/mcpwire/internal/json"
	"github.com/mcpwire/mcpwire/jsonrpc"
	"golang.org/x/time/rate"
)

const (
	sessionIDHeader       = "Mcp-Session-Id"
	protocolVersionHeader = "MCP-Protocol-Version"
	lastEventIDHeader     = "Last-Event-ID"
)

// defaultMaxBodyBytes bounds request bodies accepted by the HTTP handlers.
const defaultMaxBodyBytes = 1_000_000

// StreamableHTTPOptions configures a [StreamableHTTPHandler].
type StreamableHTTPOptions struct {
	// EventStore records session streams for resumption. If nil, a
	// [MemoryEventStore] with default options is used.
	EventStore EventStore
	// MaxBodyBytes bounds request bodies. Zero means a sensible default.
	MaxBodyBytes int64
	// Limiter, if set, rate-limits incoming HTTP requests; rejected requests
	// get a 429 response.
	Limiter *rate.Limiter
}

// A StreamableHTTPHandler is an http.Handler that serves MCP servers over
// the streamable HTTP transport.
//
// Sessions are identified by the Mcp-Session-Id header, assigned during
// initialization. Each POST carrying a request opens a response event
// stream, recorded in the handler's event store so that the client can
// resume it with Last-Event-ID after a disconnect.
type StreamableHTTPHandler struct {
	getServer func(*http.Request) *Server
	opts      StreamableHTTPOptions

	mu       sync.Mutex
	sessions map[string]*StreamableServerTransport
}

// NewStreamableHTTPHandler returns a StreamableHTTPHandler using getServer
// to select the server for each new session.
func NewStreamableHTTPHandler(getServer func(*http.Request) *Server, opts *StreamableHTTPOptions) *StreamableHTTPHandler {
	h := &StreamableHTTPHandler{
		getServer: getServer,
		sessions:  make(map[string]*StreamableServerTransport),
	}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.EventStore == nil {
		h.opts.EventStore = NewMemoryEventStore(nil)
	}
	if h.opts.MaxBodyBytes <= 0 {
		h.opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return h
}

func (h *StreamableHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.opts.Limiter != nil && !h.opts.Limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	sessionID := req.Header.Get(sessionIDHeader)
	var t *StreamableServerTransport
	if sessionID != "" {
		h.mu.Lock()
		t = h.sessions[sessionID]
		h.mu.Unlock()
		if t == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	}

	switch req.Method {
	case http.MethodDelete:
		if t == nil {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		t.Close()
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		if t == nil {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		t.serveGET(w, req)
	case http.MethodPost:
		h.servePOST(w, req, t)
	default:
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (h *StreamableHTTPHandler) servePOST(w http.ResponseWriter, req *http.Request, t *StreamableServerTransport) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, h.opts.MaxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if t == nil {
		// Only an initialize request may start a session.
		mreq, ok := msg.(*jsonrpc.Request)
		if !ok || mreq.Method != methodInitialize {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		t = NewStreamableServerTransport(uuid.NewString(), h.opts.EventStore)
		server := h.getServer(req)
		if _, err := server.Connect(req.Context(), t, nil); err != nil {
			http.Error(w, "failed to connect", http.StatusInternalServerError)
			return
		}
		h.mu.Lock()
		h.sessions[t.sessionID] = t
		h.mu.Unlock()
		t.onClose = func() {
			h.mu.Lock()
			delete(h.sessions, t.sessionID)
			h.mu.Unlock()
		}
	}
	t.servePOST(w, req, msg)
}

// A StreamableServerTransport is the server side of one streamable HTTP
// session. It implements [Transport] for a single call to [Server.Connect];
// the handler then feeds it HTTP requests.
type StreamableServerTransport struct {
	sessionID string
	store     EventStore
	onClose   func()

	incoming chan jsonrpc.Message

	mu             sync.Mutex
	writers        map[string]StreamWriter // live stream writers, by stream ID
	requestStreams map[jsonrpc.ID]string   // open request -> owning stream
	streamRequests map[string]int          // stream -> open request count
	closed         bool

	done chan struct{}
}

// NewStreamableServerTransport returns a transport for one streamable
// session, recording its streams in the given store.
func NewStreamableServerTransport(sessionID string, store EventStore) *StreamableServerTransport {
	if store == nil {
		store = NewMemoryEventStore(nil)
	}
	return &StreamableServerTransport{
		sessionID:      sessionID,
		store:          store,
		incoming:       make(chan jsonrpc.Message, 16),
		writers:        make(map[string]StreamWriter),
		requestStreams: make(map[jsonrpc.ID]string),
		streamRequests: make(map[string]int),
		done:           make(chan struct{}),
	}
}

var _ Transport = (*StreamableServerTransport)(nil)
var _ Connection = (*StreamableServerTransport)(nil)

func (t *StreamableServerTransport) Connect(ctx context.Context) (Connection, error) {
	// Create the session's default stream, carrying server-initiated
	// messages to the client's hanging GET.
	w, err := t.store.Open(ctx, t.sessionID, "", StreamModeStreaming)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.writers[""] = w
	t.mu.Unlock()
	return t, nil
}

func (t *StreamableServerTransport) SessionID() string { return t.sessionID }

func (t *StreamableServerTransport) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-t.incoming:
		return msg, nil
	case <-t.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write routes a message to the stream of the request it belongs to:
// responses go to the stream of their request; other messages go to the
// stream of the request being handled on ctx, falling back to the default
// stream.
func (t *StreamableServerTransport) Write(ctx context.Context, msg jsonrpc.Message) error {
	var streamID string
	var respondedTo *jsonrpc.ID

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrConnectionClosed
	}
	switch msg := msg.(type) {
	case *jsonrpc.Response:
		if sid, ok := t.requestStreams[msg.ID]; ok {
			streamID = sid
			id := msg.ID
			respondedTo = &id
		}
	default:
		if id, ok := incomingRequestIDFrom(ctx); ok {
			if sid, ok := t.requestStreams[id]; ok {
				streamID = sid
			}
		}
	}
	w := t.writers[streamID]
	t.mu.Unlock()
	if w == nil {
		return fmt.Errorf("stream %q has no writer", streamID)
	}

	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if _, err := w.Append(ctx, "message", data); err != nil {
		return err
	}

	if respondedTo != nil {
		t.finishRequest(*respondedTo, streamID)
	}
	return nil
}

// finishRequest completes the bookkeeping for an answered request, closing
// its stream once all of the stream's requests are answered.
func (t *StreamableServerTransport) finishRequest(id jsonrpc.ID, streamID string) {
	t.mu.Lock()
	delete(t.requestStreams, id)
	var w StreamWriter
	if streamID != "" {
		t.streamRequests[streamID]--
		if t.streamRequests[streamID] <= 0 {
			delete(t.streamRequests, streamID)
			w = t.writers[streamID]
			delete(t.writers, streamID)
		}
	}
	t.mu.Unlock()
	if w != nil {
		w.Close()
	}
}

func (t *StreamableServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	writers := t.writers
	t.writers = map[string]StreamWriter{}
	t.mu.Unlock()
	for _, w := range writers {
		w.Close()
	}
	close(t.done)
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

// servePOST accepts one decoded message. Requests open a response event
// stream; notifications and responses are accepted with 202.
func (t *StreamableServerTransport) servePOST(w http.ResponseWriter, req *http.Request, msg jsonrpc.Message) {
	jreq, isRequest := msg.(*jsonrpc.Request)
	if !isRequest || !jreq.IsCall() {
		select {
		case t.incoming <- msg:
			w.Header().Set(sessionIDHeader, t.sessionID)
			w.WriteHeader(http.StatusAccepted)
		case <-t.done:
			http.Error(w, "session closed", http.StatusGone)
		case <-req.Context().Done():
		}
		return
	}

	streamID := uuid.NewString()
	sw, err := t.store.Open(req.Context(), t.sessionID, streamID, StreamModeStreaming)
	if err != nil {
		http.Error(w, "failed to open stream", http.StatusInternalServerError)
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		http.Error(w, "session closed", http.StatusGone)
		return
	}
	t.writers[streamID] = sw
	t.requestStreams[jreq.ID] = streamID
	t.streamRequests[streamID]++
	t.mu.Unlock()

	select {
	case t.incoming <- msg:
	case <-t.done:
		http.Error(w, "session closed", http.StatusGone)
		return
	case <-req.Context().Done():
		return
	}

	t.streamResponse(w, req, EncodeEventID(t.sessionID, streamID, 0))
}

// serveGET serves the hanging GET: the session's default stream, or a
// resumption of a previous stream when Last-Event-ID is given.
func (t *StreamableServerTransport) serveGET(w http.ResponseWriter, req *http.Request) {
	if !strings.Contains(req.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "must accept text/event-stream", http.StatusNotAcceptable)
		return
	}
	lastEventID := req.Header.Get(lastEventIDHeader)
	if lastEventID == "" {
		lastEventID = EncodeEventID(t.sessionID, "", 0)
	}
	t.streamResponse(w, req, lastEventID)
}

// streamResponse replays and follows a recorded stream as SSE.
func (t *StreamableServerTransport) streamResponse(w http.ResponseWriter, req *http.Request, lastEventID string) {
	reader, err := t.store.Resume(req.Context(), lastEventID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if reader == nil {
		http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(sessionIDHeader, t.sessionID)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	wroteHeader := false
	for ev, err := range reader.Events(ctx) {
		if err != nil {
			if !wroteHeader {
				switch err.(type) {
				case *StreamMetadataExpiredError, *EventExpiredError:
					http.Error(w, err.Error(), http.StatusNotFound)
				default:
					http.Error(w, err.Error(), http.StatusInternalServerError)
				}
			}
			return
		}
		wroteHeader = true
		if _, err := writeEvent(w, sseEvent{name: ev.Type, id: ev.ID, data: ev.Data}); err != nil {
			return
		}
	}
}

// A StreamableClientTransport is a [Transport] that connects to a server
// over the streamable HTTP transport.
type StreamableClientTransport struct {
	// Endpoint is the server's URL.
	Endpoint string
	// HTTPClient is the client to use. If nil, http.DefaultClient is used.
	// Wrap its transport to attach authorization.
	HTTPClient *http.Client
	// MaxRetries bounds reconnection attempts for broken streams. Zero
	// means a sensible default; a negative value disables retries.
	MaxRetries int
}

const defaultMaxRetries = 5

func (t *StreamableClientTransport) Connect(ctx context.Context) (Connection, error) {
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	retries := t.MaxRetries
	if retries == 0 {
		retries = defaultMaxRetries
	}
	conn := &streamableClientConn{
		endpoint:   t.Endpoint,
		client:     client,
		maxRetries: retries,
		incoming:   make(chan jsonrpc.Message, 16),
		readErr:    make(chan error, 1),
		done:       make(chan struct{}),
	}
	return conn, nil
}

type streamableClientConn struct {
	endpoint   string
	client     *http.Client
	maxRetries int

	incoming chan jsonrpc.Message
	readErr  chan error

	mu              sync.Mutex
	sessionID       string
	protocolVersion string
	startedGET      bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func (c *streamableClientConn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *streamableClientConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *streamableClientConn) setHeaders(req *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		req.Header.Set(sessionIDHeader, c.sessionID)
	}
	if c.protocolVersion != "" {
		req.Header.Set(protocolVersionHeader, c.protocolVersion)
	}
}

func (c *streamableClientConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	if sid := resp.Header.Get(sessionIDHeader); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("posting message: %s", resp.Status)
	}
	switch {
	case resp.StatusCode == http.StatusAccepted:
		resp.Body.Close()
	case strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"):
		go c.handleSSE(resp.Body)
	default:
		// Direct JSON response.
		go func() {
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return
			}
			c.deliver(body)
		}()
	}
	c.maybeStartGET()
	return nil
}

// maybeStartGET starts the session's hanging GET for server-initiated
// messages, once a session ID is known.
func (c *streamableClientConn) maybeStartGET() {
	c.mu.Lock()
	start := c.sessionID != "" && !c.startedGET
	if start {
		c.startedGET = true
	}
	c.mu.Unlock()
	if start {
		go c.runGET("")
	}
}

// runGET opens the server's event stream, resuming from lastEventID if
// given, and reconnects with backoff when it breaks.
func (c *streamableClientConn) runGET(lastEventID string) {
	for attempt := 0; ; attempt++ {
		select {
		case <-c.done:
			return
		default:
		}
		if attempt > 0 {
			if c.maxRetries < 0 || attempt > c.maxRetries {
				return
			}
			select {
			case <-time.After(backoff(attempt)):
			case <-c.done:
				return
			}
		}
		req, err := http.NewRequest(http.MethodGet, c.endpoint, nil)
		if err != nil {
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		if lastEventID != "" {
			req.Header.Set(lastEventIDHeader, lastEventID)
		}
		c.setHeaders(req)
		resp, err := c.client.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			// The session or stream is gone for good.
			resp.Body.Close()
			c.fail(fmt.Errorf("event stream: %s", resp.Status))
			return
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			continue
		}
		for e, err := range scanEvents(resp.Body) {
			if err != nil {
				break
			}
			if e.id != "" {
				lastEventID = e.id
			}
			c.deliver(e.data)
			attempt = 0
		}
		resp.Body.Close()
	}
}

// backoff returns the delay before the given reconnection attempt, with
// jitter.
func backoff(attempt int) time.Duration {
	d := min(time.Duration(1<<min(attempt, 6))*100*time.Millisecond, 5*time.Second)
	return d/2 + rand.N(d/2)
}

// handleSSE consumes one POST response stream. If the stream breaks before
// the server completes it, the connection resumes it over GET.
func (c *streamableClientConn) handleSSE(body io.ReadCloser) {
	defer body.Close()
	var lastEventID string
	for e, err := range scanEvents(body) {
		if err != nil {
			if lastEventID != "" {
				go c.runGET(lastEventID)
			}
			return
		}
		if e.id != "" {
			lastEventID = e.id
		}
		c.deliver(e.data)
	}
}

func (c *streamableClientConn) deliver(data []byte) {
	if len(data) == 0 {
		return
	}
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		c.fail(fmt.Errorf("decoding event: %w", err))
		return
	}
	// Sniff the negotiated protocol version from the initialize result, to
	// echo it on subsequent requests.
	if resp, ok := msg.(*jsonrpc.Response); ok && len(resp.Result) > 0 {
		var init struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		if err := internaljson.Unmarshal(resp.Result, &init); err == nil && init.ProtocolVersion != "" {
			c.mu.Lock()
			c.protocolVersion = init.ProtocolVersion
			c.mu.Unlock()
		}
	}
	select {
	case c.incoming <- msg:
	case <-c.done:
	}
}

func (c *streamableClientConn) fail(err error) {
	select {
	case c.readErr <- err:
	default:
	}
}

// Close terminates the session, informing the server with a DELETE.
func (c *streamableClientConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		sessionID := c.sessionID
		c.mu.Unlock()
		if sessionID == "" {
			return
		}
		req, err := http.NewRequest(http.MethodDelete, c.endpoint, nil)
		if err != nil {
			c.closeErr = err
			return
		}
		c.setHeaders(req)
		resp, err := c.client.Do(req)
		if err != nil {
			c.closeErr = err
			return
		}
		resp.Body.Close()
	})
	return c.closeErr
}
