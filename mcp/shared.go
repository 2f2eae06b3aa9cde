// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	internaljson "github.com/mcpwire/mcpwire/internal/json"
	"github.com/mcpwire/mcpwire/internal/jsonrpc2"
	"github.com/mcpwire/mcpwire/jsonrpc"
)

// ErrConnectionClosed is returned when sending a message to a connection
// that is closed or in the process of closing.
var ErrConnectionClosed = errors.New("connection closed")

// CodeResourceNotFound is the error code for reads of unknown resources.
const CodeResourceNotFound = jsonrpc.CodeResourceNotFound

// A Session is either a [ClientSession] or a [ServerSession].
type Session interface {
	// ID returns the session ID, or "" if the session's transport does not
	// assign one.
	ID() string
	// Close closes the session. It is idempotent.
	Close() error
	// Wait blocks until the session is terminated by the peer, and returns
	// the error, if any, with which it terminated.
	Wait() error

	core() *session
}

// A MethodHandler handles MCP messages.
//
// For methods, exactly one of the return values must be nil. For
// notifications, both must be nil.
type MethodHandler func(ctx context.Context, method string, req Request) (Result, error)

// Middleware is a function from MethodHandler to MethodHandler.
type Middleware func(MethodHandler) MethodHandler

// addMiddleware wraps the handler in mw functions, with the first function
// becoming the outermost.
func addMiddleware(handlerp *MethodHandler, mw []Middleware) {
	for _, m := range slicesReverse(mw) {
		*handlerp = m(*handlerp)
	}
}

func slicesReverse[T any](s []T) []T {
	r := make([]T, len(s))
	for i, v := range s {
		r[len(s)-1-i] = v
	}
	return r
}

// A Request is a request to a server or client. Concrete request types are
// the [ServerRequest] and [ClientRequest] instantiations.
type Request interface {
	isRequest()
	// GetSession returns the session for the request.
	GetSession() Session
	// GetParams returns the request parameters.
	GetParams() Params
}

// A ServerRequest is a request to a server.
type ServerRequest[P Params] struct {
	Session *ServerSession
	Params  P
}

func (*ServerRequest[P]) isRequest()            {}
func (r *ServerRequest[P]) GetSession() Session { return r.Session }
func (r *ServerRequest[P]) GetParams() Params   { return r.Params }

// A ClientRequest is a request to a client.
type ClientRequest[P Params] struct {
	Session *ClientSession
	Params  P
}

func (*ClientRequest[P]) isRequest()            {}
func (r *ClientRequest[P]) GetSession() Session { return r.Session }
func (r *ClientRequest[P]) GetParams() Params   { return r.Params }

// methodInfo describes how a session handles one incoming method.
type methodInfo struct {
	// newParams returns a fresh params value to unmarshal into.
	newParams func() Params
	// newRequest wraps unmarshaled params into the side's Request value.
	newRequest func(sess Session, params Params) Request
	// handler handles the request after params are unmarshaled. For
	// notifications the Result is nil.
	handler func(ctx context.Context, req Request) (Result, error)
	// isNotification marks notification methods, which get no response.
	isNotification bool
}

// serverMethod adapts a typed server handler into a methodInfo.
func serverMethod[T any, P interface {
	*T
	Params
}](isNotification bool, f func(context.Context, *ServerRequest[P]) (Result, error)) methodInfo {
	return methodInfo{
		newParams: func() Params { return P(new(T)) },
		newRequest: func(sess Session, params Params) Request {
			r := &ServerRequest[P]{Session: sess.(*ServerSession)}
			if params != nil {
				r.Params = params.(P)
			}
			return r
		},
		handler: func(ctx context.Context, req Request) (Result, error) {
			return f(ctx, req.(*ServerRequest[P]))
		},
		isNotification: isNotification,
	}
}

// clientMethod adapts a typed client handler into a methodInfo.
func clientMethod[T any, P interface {
	*T
	Params
}](isNotification bool, f func(context.Context, *ClientRequest[P]) (Result, error)) methodInfo {
	return methodInfo{
		newParams: func() Params { return P(new(T)) },
		newRequest: func(sess Session, params Params) Request {
			r := &ClientRequest[P]{Session: sess.(*ClientSession)}
			if params != nil {
				r.Params = params.(P)
			}
			return r
		},
		handler: func(ctx context.Context, req Request) (Result, error) {
			return f(ctx, req.(*ClientRequest[P]))
		},
		isNotification: isNotification,
	}
}

// A peer resolves the method table and ambient hooks for one side of a
// connection.
type peer interface {
	// methodInfos returns the side's method table.
	methodInfos() map[string]methodInfo
	// methodHandler returns the middleware-wrapped receiving handler.
	methodHandler() MethodHandler
	// onInitialized is invoked when the session becomes initialized.
	onInitialized()
	// logger returns the session's structured logger (never nil).
	logger() *slog.Logger
}

// methodsAllowedBeforeInit may flow on a session whose initialize handshake
// has not completed, in either direction. Everything else is rejected until
// then.
var methodsAllowedBeforeInit = map[string]bool{
	methodInitialize:        true,
	notificationInitialized: true,
	notificationCancelled:   true,
	methodPing:              true,
}

// A session is the transport-facing half of a ClientSession or
// ServerSession: it owns the read loop, request correlation, cancellation
// and progress routing.
type session struct {
	conn  Connection
	peer  peer
	owner Session // the ClientSession or ServerSession owning this core

	// requestTimeout bounds outgoing requests whose context carries no
	// deadline. Zero means no default bound.
	requestTimeout time.Duration

	ctx    context.Context // session lifetime
	cancel context.CancelFunc

	mu          sync.Mutex
	nextID      int64
	pending     map[jsonrpc.ID]chan *jsonrpc.Response
	incoming    map[jsonrpc.ID]*incomingRequest
	progress    map[any]ProgressFunc
	initialized bool
	closing     bool

	// notifications preserves peer notification order while keeping slow
	// notification handlers off the read loop.
	notifications chan *jsonrpc.Request

	done      chan struct{} // closed when the read loop exits
	err       error         // terminal error, set before done is closed
	closeOnce sync.Once
	closeErr  error

	onClose func() // invoked once after the session terminates
}

// An incomingRequest tracks one in-flight request from the peer.
type incomingRequest struct {
	cancel    context.CancelFunc
	cancelled bool // peer sent notifications/cancelled
}

func newSession(conn Connection, p peer, owner Session, requestTimeout time.Duration) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		conn:           conn,
		peer:           p,
		owner:          owner,
		requestTimeout: requestTimeout,
		ctx:            ctx,
		cancel:         cancel,
		pending:        make(map[jsonrpc.ID]chan *jsonrpc.Response),
		incoming:       make(map[jsonrpc.ID]*incomingRequest),
		progress:       make(map[any]ProgressFunc),
		notifications:  make(chan *jsonrpc.Request, 64),
		done:           make(chan struct{}),
	}
}

// start runs the read loop and the notification worker.
func (s *session) start() {
	go s.notificationLoop()
	go s.readLoop()
}

func (s *session) sessionID() string { return s.conn.SessionID() }

func (s *session) markInitialized() {
	s.mu.Lock()
	already := s.initialized
	s.initialized = true
	s.mu.Unlock()
	if !already {
		s.peer.onInitialized()
	}
}

func (s *session) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// close terminates the session. It is safe to call multiple times.
func (s *session) close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.cancel()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// wait blocks until the read loop exits.
func (s *session) wait() error {
	<-s.done
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

func (s *session) readLoop() {
	var err error
	for {
		var msg jsonrpc.Message
		msg, err = s.conn.Read(s.ctx)
		if err != nil {
			break
		}
		switch msg := msg.(type) {
		case *jsonrpc.Response:
			s.deliverResponse(msg)
		case *jsonrpc.Request:
			if msg.IsCall() {
				go s.handleCall(msg)
			} else {
				select {
				case s.notifications <- msg:
				case <-s.ctx.Done():
				}
			}
		}
	}

	// Tear down: fail all pending calls and in-flight handlers.
	s.mu.Lock()
	s.closing = true
	pending := s.pending
	s.pending = nil
	incoming := s.incoming
	s.incoming = nil
	s.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	for _, in := range incoming {
		in.cancel()
	}
	s.cancel()
	s.err = err
	close(s.done)
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *session) notificationLoop() {
	for {
		select {
		case req := <-s.notifications:
			s.handleNotification(req)
		case <-s.ctx.Done():
			return
		}
	}
}

// deliverResponse routes a response to its pending call. Responses to
// unknown IDs (cancelled or duplicate) are dropped.
func (s *session) deliverResponse(resp *jsonrpc.Response) {
	s.mu.Lock()
	ch, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	ch <- resp
}

// handleCall services one incoming call. It always writes a response;
// cancellation changes the response to an error but never suppresses it.
func (s *session) handleCall(req *jsonrpc.Request) {
	if !s.isInitialized() && !methodsAllowedBeforeInit[req.Method] {
		s.respondError(req.ID, jsonrpc2.NewError(jsonrpc2.CodeInvalidRequest,
			fmt.Sprintf("method %q is invalid during session initialization", req.Method)))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	in := &incomingRequest{cancel: cancel}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		cancel()
		return
	}
	s.incoming[req.ID] = in
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.incoming, req.ID)
		s.mu.Unlock()
		cancel()
	}()

	ctx = withIncomingRequestID(ctx, req.ID)
	result, err := s.dispatch(ctx, req)

	resp := &jsonrpc.Response{ID: req.ID}
	switch {
	case err != nil:
		resp.Error = callError(ctx, in, err)
	default:
		data, merr := marshalResult(result)
		if merr != nil {
			resp.Error = jsonrpc2.NewError(jsonrpc2.CodeInternal, merr.Error())
		} else {
			resp.Result = data
		}
	}
	if werr := s.conn.Write(ctx, resp); werr != nil {
		s.peer.logger().Debug("failed to write response", "method", req.Method, "error", werr)
	}
}

// callError maps a handler error to a wire error. Handler failures caused by
// peer cancellation are reported as request cancelled.
func callError(ctx context.Context, in *incomingRequest, err error) *jsonrpc.Error {
	if (errors.Is(err, context.Canceled) || ctx.Err() != nil) && in.cancelled {
		return jsonrpc2.NewError(jsonrpc2.CodeRequestCancelled, "request cancelled")
	}
	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		return wire
	}
	return jsonrpc2.NewError(jsonrpc2.CodeUnknown, err.Error())
}

func (s *session) respondError(id jsonrpc.ID, err *jsonrpc.Error) {
	resp := &jsonrpc.Response{ID: id, Error: err}
	if werr := s.conn.Write(s.ctx, resp); werr != nil {
		s.peer.logger().Debug("failed to write response", "error", werr)
	}
}

// dispatch resolves a method, unmarshals its params, and runs the receiving
// handler chain.
func (s *session) dispatch(ctx context.Context, req *jsonrpc.Request) (Result, error) {
	info, ok := s.peer.methodInfos()[req.Method]
	if !ok || info.isNotification == req.IsCall() {
		return nil, jsonrpc2.ErrMethodNotFound
	}
	params := info.newParams()
	if len(req.Params) > 0 {
		if err := unmarshalParams(req.Params, params); err != nil {
			return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, err.Error())
		}
	}
	mh := s.peer.methodHandler()
	return mh(ctx, req.Method, info.newRequest(s.owner, params))
}

// defaultMethodHandler is the innermost receiving handler: it runs the
// method-table handler for the request.
func (s *session) defaultMethodHandler(ctx context.Context, method string, req Request) (Result, error) {
	info := s.peer.methodInfos()[method]
	return info.handler(ctx, req)
}

func (s *session) handleNotification(req *jsonrpc.Request) {
	switch req.Method {
	case notificationCancelled:
		var params CancelledParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			s.peer.logger().Debug("malformed cancellation", "error", err)
			return
		}
		s.cancelIncoming(params.RequestID)
		return
	case notificationInitialized:
		s.markInitialized()
		// Fall through to side-specific handling, if any.
	case notificationProgress:
		var params ProgressNotificationParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			s.peer.logger().Debug("malformed progress notification", "error", err)
			return
		}
		if s.routeProgress(&params) {
			return
		}
		// No registered sink; fall through to the session-wide handler.
	}
	if !s.isInitialized() && !methodsAllowedBeforeInit[req.Method] {
		s.peer.logger().Debug("dropping notification before initialization", "method", req.Method)
		return
	}
	if _, err := s.dispatch(s.ctx, req); err != nil && !errors.Is(err, jsonrpc2.ErrMethodNotFound) {
		s.peer.logger().Debug("notification handler failed", "method", req.Method, "error", err)
	}
}

// cancelIncoming cancels the in-flight handler for the given wire request
// ID. Unknown or completed requests are ignored.
func (s *session) cancelIncoming(rawID any) {
	id, ok := idFromWire(rawID)
	if !ok {
		return
	}
	s.mu.Lock()
	in, ok := s.incoming[id]
	if ok {
		in.cancelled = true
	}
	s.mu.Unlock()
	if ok {
		in.cancel()
	}
}

// idFromWire converts an unmarshaled JSON value to a request ID.
func idFromWire(v any) (jsonrpc.ID, bool) {
	switch v := v.(type) {
	case string:
		return jsonrpc.StringID(v), true
	case int64:
		return jsonrpc.Int64ID(v), true
	case float64:
		if v == float64(int64(v)) {
			return jsonrpc.Int64ID(int64(v)), true
		}
	}
	return jsonrpc.ID{}, false
}

// routeProgress delivers a progress notification to the sink registered for
// its token, reporting whether one was found.
func (s *session) routeProgress(params *ProgressNotificationParams) bool {
	token := params.ProgressToken
	if f, ok := token.(float64); ok && f == float64(int64(f)) {
		token = int64(f)
	}
	s.mu.Lock()
	sink := s.progress[token]
	s.mu.Unlock()
	if sink == nil {
		return false
	}
	sink(params)
	return true
}

// call issues an outgoing request and blocks for its response.
//
// If ctx carries no deadline and the session has a default request timeout,
// the timeout applies. When ctx ends before the response arrives, call sends
// a single notifications/cancelled for the request and returns ctx's error
// mapped to the corresponding wire error code.
func (s *session) call(ctx context.Context, method string, params Params, result Result) error {
	if !s.isInitialized() && !methodsAllowedBeforeInit[method] {
		return fmt.Errorf("%q: %w", method, errSessionNotInitialized)
	}
	var cancelTimeout context.CancelFunc
	if _, ok := ctx.Deadline(); !ok && s.requestTimeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, s.requestTimeout)
		defer cancelTimeout()
	}

	s.mu.Lock()
	if s.closing || s.pending == nil {
		s.mu.Unlock()
		return ErrConnectionClosed
	}
	s.nextID++
	id := jsonrpc.Int64ID(s.nextID)
	ch := make(chan *jsonrpc.Response, 1)
	s.pending[id] = ch

	// Register the per-request progress sink, if any.
	var progressToken any
	if sink := progressSinkFrom(ctx); sink != nil && params != nil {
		progressToken = getProgressToken(params)
		if progressToken == nil {
			progressToken = fmt.Sprintf("p%d", s.nextID)
			setProgressToken(params, progressToken)
		}
		s.progress[progressToken] = sink
	}
	s.mu.Unlock()

	unregister := func() {
		s.mu.Lock()
		if s.pending != nil {
			delete(s.pending, id)
		}
		if progressToken != nil {
			delete(s.progress, progressToken)
		}
		s.mu.Unlock()
	}

	req := &jsonrpc.Request{ID: id, Method: method}
	var err error
	if req.Params, err = marshalParams(params); err != nil {
		unregister()
		return err
	}
	if err := s.conn.Write(ctx, req); err != nil {
		unregister()
		return err
	}

	select {
	case resp, ok := <-ch:
		s.mu.Lock()
		if progressToken != nil {
			delete(s.progress, progressToken)
		}
		s.mu.Unlock()
		if !ok {
			return ErrConnectionClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := unmarshalResult(resp.Result, result); err != nil {
				return fmt.Errorf("%s: unmarshaling result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		unregister()
		// Inform the peer exactly once; its response, if any, is dropped.
		reason := "client cancelled"
		code := int64(jsonrpc2.CodeRequestCancelled)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
			code = jsonrpc2.CodeRequestTimeout
		}
		cparams := &CancelledParams{RequestID: id.Raw(), Reason: reason}
		if err := s.notify(context.WithoutCancel(ctx), notificationCancelled, cparams); err != nil {
			s.peer.logger().Debug("failed to send cancellation", "method", method, "error", err)
		}
		return jsonrpc2.NewError(code, fmt.Sprintf("%s: %v", method, ctx.Err()))
	}
}

var errSessionNotInitialized = errors.New("session is not initialized")

// notify sends a notification. It does not wait for an acknowledgement.
func (s *session) notify(ctx context.Context, method string, params Params) error {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return ErrConnectionClosed
	}
	req := &jsonrpc.Request{Method: method}
	var err error
	if req.Params, err = marshalParams(params); err != nil {
		return err
	}
	return s.conn.Write(ctx, req)
}

func marshalParams(params Params) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := internaljson.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}
	return data, nil
}

func unmarshalParams(data json.RawMessage, params Params) error {
	if len(data) == 0 {
		return nil
	}
	return internaljson.Unmarshal(data, params)
}

func marshalResult(result Result) ([]byte, error) {
	if result == nil {
		result = &emptyResult{}
	}
	return internaljson.Marshal(result)
}

func unmarshalResult(data json.RawMessage, result Result) error {
	return internaljson.Unmarshal(data, result)
}

// startKeepalive pings the peer at the given interval, closing the session
// after a ping failure.
func startKeepalive(sess Session, interval time.Duration, cancelp *context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	*cancelp = cancel
	go func() {
		defer cancel()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, interval)
				err := sess.core().call(pingCtx, methodPing, &PingParams{}, nil)
				pingCancel()
				if err != nil {
					sess.Close()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Incoming request IDs flow through the context so that stream-aware
// transports can route messages sent from within a handler back to the
// stream of the request being handled.

type incomingRequestIDKey struct{}

func withIncomingRequestID(ctx context.Context, id jsonrpc.ID) context.Context {
	return context.WithValue(ctx, incomingRequestIDKey{}, id)
}

func incomingRequestIDFrom(ctx context.Context) (jsonrpc.ID, bool) {
	id, ok := ctx.Value(incomingRequestIDKey{}).(jsonrpc.ID)
	return id, ok
}
