// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	internaljson "github.com/mcpwire/mcpwire/internal/json"
	"github.com/mcpwire/mcpwire/internal/jsonrpc2"
	"github.com/yosida95/uritemplate/v3"
)

// A PromptHandler handles a call to prompts/get.
type PromptHandler func(context.Context, *GetPromptRequest) (*GetPromptResult, error)

// A ResourceHandler handles a call to resources/read.
type ResourceHandler func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error)

type serverPrompt struct {
	prompt  *Prompt
	handler PromptHandler
}

type serverResource struct {
	resource *Resource
	handler  ResourceHandler
}

type serverResourceTemplate struct {
	template *ResourceTemplate
	compiled *uritemplate.Template
	handler  ResourceHandler
}

// ServerOptions configures the behavior of the server.
type ServerOptions struct {
	// Instructions describes how to use the server and its features.
	Instructions string
	// PageSize is the maximum number of items to return in a single page for
	// a list request. Zero means a sensible default.
	PageSize int
	// KeepAlive, if non-zero, pings each session at this interval and closes
	// it when a ping fails.
	KeepAlive time.Duration
	// RequestTimeout, if non-zero, bounds outgoing server-to-client requests
	// whose context carries no deadline.
	RequestTimeout time.Duration
	// Logger receives structured diagnostics. If nil, logging is discarded.
	Logger *slog.Logger
	// HasTools, HasPrompts and HasResources advertise the corresponding
	// capability even before any feature is registered.
	HasTools     bool
	HasPrompts   bool
	HasResources bool
	// CompletionHandler, if set, advertises the completions capability and
	// handles completion/complete requests.
	CompletionHandler func(context.Context, *CompleteRequest) (*CompleteResult, error)
	// SubscribeHandler, if set, advertises the resource subscribe capability
	// and is invoked for resources/subscribe requests.
	SubscribeHandler func(context.Context, *SubscribeRequest) error
	// UnsubscribeHandler is invoked for resources/unsubscribe requests. It
	// must be set if SubscribeHandler is set.
	UnsubscribeHandler func(context.Context, *UnsubscribeRequest) error
	// RootsListChangedHandler is invoked when the client's roots change.
	RootsListChangedHandler func(context.Context, *RootsListChangedRequest)
	// ProgressNotificationHandler is invoked for progress notifications whose
	// token has no per-request handler registered.
	ProgressNotificationHandler func(context.Context, *ProgressNotificationServerRequest)
	// InitializedHandler is invoked when a session completes initialization.
	InitializedHandler func(context.Context, *InitializedRequest)

	// TaskStore, if set, advertises the tasks capability and enables
	// task-augmented tool calls, backed by the store.
	TaskStore TaskStore
	// TaskStatusNotifications enables notifications/tasks/status on each task
	// status change.
	TaskStatusNotifications bool
	// TaskPollInterval is the suggested tasks/get polling interval returned
	// to clients. Zero means a sensible default.
	TaskPollInterval time.Duration
	// MaxTaskTTL caps the retention requested by clients. Zero means a
	// sensible default.
	MaxTaskTTL time.Duration
}

const defaultPageSize = 1000

// A Server is an instance of an MCP server.
//
// Servers expose server-side MCP features, which can serve one or more MCP
// sessions by using [Server.Connect].
type Server struct {
	impl   *Implementation
	opts   ServerOptions
	logger *slog.Logger

	mu                  sync.Mutex
	prompts             *featureSet[*serverPrompt]
	resources           *featureSet[*serverResource]
	resourceTemplates   *featureSet[*serverResourceTemplate]
	tools               *featureSet[*serverTool]
	sessions            []*ServerSession
	receivingMiddleware []Middleware
	handlerCache        MethodHandler

	tasks *taskCoordinator
}

// NewServer creates a new MCP server. The resulting server has no features:
// add features using the various Add methods, then connect it to peers using
// [Server.Connect].
//
// The first argument must not be nil.
//
// If non-nil, the provided options are used to configure the server.
func NewServer(impl *Implementation, opts *ServerOptions) *Server {
	if impl == nil {
		panic("nil Implementation")
	}
	s := &Server{
		impl:              impl,
		prompts:           newFeatureSet(func(p *serverPrompt) string { return p.prompt.Name }),
		resources:         newFeatureSet(func(r *serverResource) string { return r.resource.URI }),
		resourceTemplates: newFeatureSet(func(t *serverResourceTemplate) string { return t.template.URITemplate }),
		tools:             newFeatureSet(func(t *serverTool) string { return t.tool.Name }),
	}
	if opts != nil {
		s.opts = *opts
	}
	if (s.opts.SubscribeHandler == nil) != (s.opts.UnsubscribeHandler == nil) {
		panic("SubscribeHandler and UnsubscribeHandler must be set together")
	}
	if s.opts.PageSize < 0 {
		panic(fmt.Errorf("invalid page size %d", s.opts.PageSize))
	}
	if s.opts.PageSize == 0 {
		s.opts.PageSize = defaultPageSize
	}
	s.logger = s.opts.Logger
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.opts.TaskStore != nil {
		s.tasks = newTaskCoordinator(s, s.opts.TaskStore)
	}
	return s
}

func (s *Server) capabilities() *ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps := &ServerCapabilities{Logging: &LoggingCapabilities{}}
	if s.opts.HasTools || s.tools.len() > 0 {
		caps.Tools = &ToolCapabilities{ListChanged: true}
	}
	if s.opts.HasPrompts || s.prompts.len() > 0 {
		caps.Prompts = &PromptCapabilities{ListChanged: true}
	}
	if s.opts.HasResources || s.resources.len() > 0 || s.resourceTemplates.len() > 0 {
		caps.Resources = &ResourceCapabilities{
			ListChanged: true,
			Subscribe:   s.opts.SubscribeHandler != nil,
		}
	}
	if s.opts.CompletionHandler != nil {
		caps.Completions = &CompletionCapabilities{}
	}
	if s.tasks != nil {
		caps.Tasks = &TasksCapabilities{
			List:   &TasksListCapabilities{},
			Cancel: &TasksCancelCapabilities{},
			Requests: &TasksRequestsCapabilities{
				Tools: &TasksToolsRequestCapabilities{Call: &TasksToolsCallCapabilities{}},
			},
		}
	}
	return caps
}

func (s *Server) addServerTool(st *serverTool) {
	s.mu.Lock()
	s.tools.add(st)
	s.mu.Unlock()
	s.changed(notificationToolListChanged)
}

// RemoveTools removes the tools with the given names. It is not an error to
// remove a nonexistent tool.
func (s *Server) RemoveTools(names ...string) {
	s.mu.Lock()
	changed := s.tools.remove(names...)
	s.mu.Unlock()
	if changed {
		s.changed(notificationToolListChanged)
	}
}

// AddPrompt adds a prompt and handler to the server.
func (s *Server) AddPrompt(p *Prompt, h PromptHandler) {
	s.mu.Lock()
	s.prompts.add(&serverPrompt{prompt: p, handler: h})
	s.mu.Unlock()
	s.changed(notificationPromptListChanged)
}

// RemovePrompts removes the prompts with the given names. It is not an error
// to remove a nonexistent prompt.
func (s *Server) RemovePrompts(names ...string) {
	s.mu.Lock()
	changed := s.prompts.remove(names...)
	s.mu.Unlock()
	if changed {
		s.changed(notificationPromptListChanged)
	}
}

// AddResource adds a resource and handler to the server.
func (s *Server) AddResource(r *Resource, h ResourceHandler) {
	s.mu.Lock()
	s.resources.add(&serverResource{resource: r, handler: h})
	s.mu.Unlock()
	s.changed(notificationResourceListChanged)
}

// AddResourceTemplate adds a resource template and handler to the server.
// It panics if the template's URI template is invalid.
func (s *Server) AddResourceTemplate(t *ResourceTemplate, h ResourceHandler) {
	compiled, err := uritemplate.New(t.URITemplate)
	if err != nil {
		panic(fmt.Sprintf("AddResourceTemplate %q: %v", t.URITemplate, err))
	}
	s.mu.Lock()
	s.resourceTemplates.add(&serverResourceTemplate{template: t, compiled: compiled, handler: h})
	s.mu.Unlock()
	s.changed(notificationResourceListChanged)
}

// RemoveResources removes the resources with the given URIs.
func (s *Server) RemoveResources(uris ...string) {
	s.mu.Lock()
	changed := s.resources.remove(uris...)
	s.mu.Unlock()
	if changed {
		s.changed(notificationResourceListChanged)
	}
}

// RemoveResourceTemplates removes the resource templates with the given URI
// templates.
func (s *Server) RemoveResourceTemplates(uriTemplates ...string) {
	s.mu.Lock()
	changed := s.resourceTemplates.remove(uriTemplates...)
	s.mu.Unlock()
	if changed {
		s.changed(notificationResourceListChanged)
	}
}

// ResourceUpdated notifies all sessions subscribed to the resource that it
// has changed.
func (s *Server) ResourceUpdated(ctx context.Context, params *ResourceUpdatedNotificationParams) error {
	for ss := range s.Sessions() {
		ss.mu.Lock()
		subscribed := ss.subscriptions[params.URI]
		ss.mu.Unlock()
		if subscribed {
			if err := ss.s.notify(ctx, notificationResourceUpdated, params); err != nil {
				s.logger.Debug("resource update notification failed", "uri", params.URI, "error", err)
			}
		}
	}
	return nil
}

// changed broadcasts a list-changed notification to all initialized
// sessions.
func (s *Server) changed(notification string) {
	for ss := range s.Sessions() {
		if !ss.s.isInitialized() {
			continue
		}
		if err := ss.s.notify(context.Background(), notification, nil); err != nil {
			s.logger.Debug("list changed notification failed", "method", notification, "error", err)
		}
	}
}

// Sessions iterates over the server's active sessions.
func (s *Server) Sessions() iter.Seq[*ServerSession] {
	s.mu.Lock()
	sessions := slices.Clone(s.sessions)
	s.mu.Unlock()
	return func(yield func(*ServerSession) bool) {
		for _, ss := range sessions {
			if !yield(ss) {
				return
			}
		}
	}
}

// AddReceivingMiddleware wraps the handlers for incoming messages. The first
// middleware becomes the outermost wrapper.
//
// Middleware must be added before any session is connected.
func (s *Server) AddReceivingMiddleware(middleware ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivingMiddleware = append(s.receivingMiddleware, middleware...)
	s.handlerCache = nil
}

func (s *Server) methodHandler() MethodHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlerCache == nil {
		h := MethodHandler(defaultMethodHandler)
		addMiddleware(&h, s.receivingMiddleware)
		s.handlerCache = h
	}
	return s.handlerCache
}

// defaultMethodHandler is the innermost receiving handler on both sides: it
// runs the method-table handler for the request.
func defaultMethodHandler(ctx context.Context, method string, req Request) (Result, error) {
	info := req.GetSession().core().peer.methodInfos()[method]
	return info.handler(ctx, req)
}

// ServerSessionOptions configures a single server session.
type ServerSessionOptions struct {
	// InitialLoggingLevel is the minimum level of log messages sent to the
	// client before it issues logging/setLevel. The default is "info".
	InitialLoggingLevel LoggingLevel
}

// Connect connects the server to a peer over the given transport and starts
// serving messages.
//
// Connect returns before the peer has initialized the session. Greetings,
// responses and notifications flow until the peer terminates the session or
// [ServerSession.Close] is called.
func (s *Server) Connect(ctx context.Context, t Transport, opts *ServerSessionOptions) (*ServerSession, error) {
	conn, err := t.Connect(ctx)
	if err != nil {
		return nil, err
	}
	ss := &ServerSession{
		server:        s,
		logLevel:      "info",
		subscriptions: make(map[string]bool),
	}
	if opts != nil && opts.InitialLoggingLevel != "" {
		ss.logLevel = opts.InitialLoggingLevel
	}
	ss.s = newSession(conn, ss, ss, s.opts.RequestTimeout)
	ss.s.onClose = func() {
		if s.tasks != nil {
			s.tasks.cancelSessionTasks(ss)
		}
		s.removeSession(ss)
	}
	s.mu.Lock()
	s.sessions = append(s.sessions, ss)
	s.mu.Unlock()
	ss.s.start()
	if s.opts.KeepAlive > 0 {
		startKeepalive(ss, s.opts.KeepAlive, &ss.keepaliveCancel)
	}
	return ss, nil
}

func (s *Server) removeSession(ss *ServerSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = slices.DeleteFunc(s.sessions, func(s2 *ServerSession) bool { return s2 == ss })
}

// findSession returns the active session with the given ID, if any.
func (s *Server) findSession(sessionID string) *ServerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ss := range s.sessions {
		if ss.ID() == sessionID {
			return ss
		}
	}
	return nil
}

// A ServerSession is a logical connection from a single MCP client. Its
// methods can be used to send requests or notifications to the client. Create
// a session by calling [Server.Connect].
type ServerSession struct {
	s      *session
	server *Server

	keepaliveCancel context.CancelFunc

	mu            sync.Mutex
	initParams    *InitializeParams
	logLevel      LoggingLevel
	subscriptions map[string]bool
}

var _ Session = (*ServerSession)(nil)

func (ss *ServerSession) core() *session { return ss.s }

// ID returns the session's ID, or "" if the transport does not assign one.
func (ss *ServerSession) ID() string { return ss.s.sessionID() }

// Close performs a graceful shutdown of the connection.
func (ss *ServerSession) Close() error {
	if ss.keepaliveCancel != nil {
		ss.keepaliveCancel()
	}
	return ss.s.close()
}

// Wait waits for the connection to be closed by the client.
func (ss *ServerSession) Wait() error { return ss.s.wait() }

// InitializeParams returns the parameters with which the client initialized
// this session, or nil if initialization has not happened yet.
func (ss *ServerSession) InitializeParams() *InitializeParams {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.initParams
}

func (ss *ServerSession) clientCapabilities() *ClientCapabilities {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.initParams == nil || ss.initParams.Capabilities == nil {
		return &ClientCapabilities{}
	}
	return ss.initParams.Capabilities
}

// peer implementation.

func (ss *ServerSession) methodInfos() map[string]methodInfo { return serverMethodInfos }
func (ss *ServerSession) methodHandler() MethodHandler       { return ss.server.methodHandler() }
func (ss *ServerSession) onInitialized()                     {}
func (ss *ServerSession) logger() *slog.Logger               { return ss.server.logger }

// Calls from server to client.

// Ping pings the client.
func (ss *ServerSession) Ping(ctx context.Context, params *PingParams) error {
	return ss.s.call(ctx, methodPing, orZero(params), nil)
}

// ListRoots lists the client's roots. It fails if the client does not
// advertise the roots capability.
func (ss *ServerSession) ListRoots(ctx context.Context, params *ListRootsParams) (*ListRootsResult, error) {
	if ss.clientCapabilities().Roots == nil {
		return nil, fmt.Errorf("client does not support roots")
	}
	res := new(ListRootsResult)
	if err := ss.s.call(ctx, methodListRoots, orZero(params), res); err != nil {
		return nil, err
	}
	return res, nil
}

// CreateMessage asks the client to sample an LLM. It fails if the client
// does not advertise the sampling capability.
//
// When called from the handler of a task-augmented tool call, and the client
// advertises task-augmented sampling, the owning task is reported as
// input_required while the sampling request is outstanding.
func (ss *ServerSession) CreateMessage(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error) {
	caps := ss.clientCapabilities()
	if caps.Sampling == nil {
		return nil, fmt.Errorf("client does not support sampling")
	}
	res := new(CreateMessageResult)
	err := ss.relayForTask(ctx, caps.TaskAugmentedSampling != nil, params, func(ctx context.Context) error {
		return ss.s.call(ctx, methodCreateMessage, params, res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Elicit asks the client to gather additional information from the user. It
// fails if the client does not advertise the elicitation capability.
//
// Task suspension applies as for [ServerSession.CreateMessage].
func (ss *ServerSession) Elicit(ctx context.Context, params *ElicitParams) (*ElicitResult, error) {
	caps := ss.clientCapabilities()
	if caps.Elicitation == nil {
		return nil, fmt.Errorf("client does not support elicitation")
	}
	res := new(ElicitResult)
	err := ss.relayForTask(ctx, caps.TaskAugmentedElicitation != nil, params, func(ctx context.Context) error {
		return ss.s.call(ctx, methodElicit, params, res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Log sends a log message to the client, if its severity meets the session's
// minimum logging level.
func (ss *ServerSession) Log(ctx context.Context, params *LoggingMessageParams) error {
	ss.mu.Lock()
	level := ss.logLevel
	ss.mu.Unlock()
	if compareLevels(params.Level, level) < 0 {
		return nil
	}
	return ss.s.notify(ctx, notificationLoggingMessage, params)
}

// orZero substitutes a zero value for nil params, so that handlers and
// marshaling never see a typed nil.
func orZero[T any](p *T) *T {
	if p == nil {
		return new(T)
	}
	return p
}

// Server method table.

var serverMethodInfos = map[string]methodInfo{
	methodInitialize:            serverMethod(false, handleInitialize),
	methodPing:                  serverMethod(false, handleServerPing),
	methodListTools:             serverMethod(false, handleListTools),
	methodCallTool:              serverMethod(false, handleCallTool),
	methodListPrompts:           serverMethod(false, handleListPrompts),
	methodGetPrompt:             serverMethod(false, handleGetPrompt),
	methodListResources:         serverMethod(false, handleListResources),
	methodListResourceTemplates: serverMethod(false, handleListResourceTemplates),
	methodReadResource:          serverMethod(false, handleReadResource),
	methodSubscribe:             serverMethod(false, handleSubscribe),
	methodUnsubscribe:           serverMethod(false, handleUnsubscribe),
	methodComplete:              serverMethod(false, handleComplete),
	methodSetLevel:              serverMethod(false, handleSetLevel),
	methodGetTask:               serverMethod(false, handleGetTask),
	methodTaskResult:            serverMethod(false, handleTaskResult),
	methodListTasks:             serverMethod(false, handleListTasks),
	methodCancelTask:            serverMethod(false, handleCancelTask),

	notificationInitialized:      serverMethod(true, handleInitializedNotification),
	notificationProgress:         serverMethod(true, handleServerProgress),
	notificationRootsListChanged: serverMethod(true, handleRootsListChanged),
}

func handleInitialize(ctx context.Context, req *InitializeRequest) (Result, error) {
	ss := req.Session
	version := req.Params.ProtocolVersion
	if !slices.Contains(supportedProtocolVersions, version) {
		version = latestProtocolVersion
	}
	ss.mu.Lock()
	ss.initParams = req.Params
	ss.mu.Unlock()
	return &InitializeResult{
		Capabilities:    ss.server.capabilities(),
		Instructions:    ss.server.opts.Instructions,
		ProtocolVersion: version,
		ServerInfo:      ss.server.impl,
	}, nil
}

func handleInitializedNotification(ctx context.Context, req *InitializedRequest) (Result, error) {
	if h := req.Session.server.opts.InitializedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func handleServerPing(ctx context.Context, req *ServerRequest[*PingParams]) (Result, error) {
	return &emptyResult{}, nil
}

func handleServerProgress(ctx context.Context, req *ProgressNotificationServerRequest) (Result, error) {
	if h := req.Session.server.opts.ProgressNotificationHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func handleRootsListChanged(ctx context.Context, req *RootsListChangedRequest) (Result, error) {
	if h := req.Session.server.opts.RootsListChangedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func handleListTools(ctx context.Context, req *ListToolsRequest) (Result, error) {
	s := req.Session.server
	pos, err := decodeCursor(req.Params.Cursor)
	if err != nil {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, err.Error())
	}
	s.mu.Lock()
	page, next := s.tools.page(pos, s.opts.PageSize)
	s.mu.Unlock()
	res := &ListToolsResult{Tools: make([]*Tool, 0, len(page)), NextCursor: encodeCursor(next)}
	for _, st := range page {
		res.Tools = append(res.Tools, st.tool)
	}
	return res, nil
}

func handleCallTool(ctx context.Context, req *CallToolRequest) (Result, error) {
	s := req.Session.server
	s.mu.Lock()
	st, ok := s.tools.get(req.Params.Name)
	s.mu.Unlock()
	if !ok {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams,
			fmt.Sprintf("unknown tool %q", req.Params.Name))
	}

	taskSupport := ToolTaskSupportForbidden
	if st.tool.Execution != nil && st.tool.Execution.TaskSupport != "" {
		taskSupport = st.tool.Execution.TaskSupport
	}
	if req.Params.Task != nil {
		if taskSupport == ToolTaskSupportForbidden {
			return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams,
				fmt.Sprintf("tool %q does not support task execution", req.Params.Name))
		}
		if s.tasks == nil {
			return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, "server does not support tasks")
		}
		return s.tasks.startToolTask(ctx, req.Session, st, req.Params)
	}
	if taskSupport == ToolTaskSupportRequired {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams,
			fmt.Sprintf("tool %q requires task execution", req.Params.Name))
	}
	return st.handler(ctx, req)
}

func handleListPrompts(ctx context.Context, req *ListPromptsRequest) (Result, error) {
	s := req.Session.server
	pos, err := decodeCursor(req.Params.Cursor)
	if err != nil {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, err.Error())
	}
	s.mu.Lock()
	page, next := s.prompts.page(pos, s.opts.PageSize)
	s.mu.Unlock()
	res := &ListPromptsResult{Prompts: make([]*Prompt, 0, len(page)), NextCursor: encodeCursor(next)}
	for _, sp := range page {
		res.Prompts = append(res.Prompts, sp.prompt)
	}
	return res, nil
}

func handleGetPrompt(ctx context.Context, req *GetPromptRequest) (Result, error) {
	s := req.Session.server
	s.mu.Lock()
	sp, ok := s.prompts.get(req.Params.Name)
	s.mu.Unlock()
	if !ok {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams,
			fmt.Sprintf("unknown prompt %q", req.Params.Name))
	}
	return sp.handler(ctx, req)
}

func handleListResources(ctx context.Context, req *ListResourcesRequest) (Result, error) {
	s := req.Session.server
	pos, err := decodeCursor(req.Params.Cursor)
	if err != nil {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, err.Error())
	}
	s.mu.Lock()
	page, next := s.resources.page(pos, s.opts.PageSize)
	s.mu.Unlock()
	res := &ListResourcesResult{Resources: make([]*Resource, 0, len(page)), NextCursor: encodeCursor(next)}
	for _, sr := range page {
		res.Resources = append(res.Resources, sr.resource)
	}
	return res, nil
}

func handleListResourceTemplates(ctx context.Context, req *ListResourceTemplatesRequest) (Result, error) {
	s := req.Session.server
	pos, err := decodeCursor(req.Params.Cursor)
	if err != nil {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, err.Error())
	}
	s.mu.Lock()
	page, next := s.resourceTemplates.page(pos, s.opts.PageSize)
	s.mu.Unlock()
	res := &ListResourceTemplatesResult{
		ResourceTemplates: make([]*ResourceTemplate, 0, len(page)),
		NextCursor:        encodeCursor(next),
	}
	for _, st := range page {
		res.ResourceTemplates = append(res.ResourceTemplates, st.template)
	}
	return res, nil
}

func handleReadResource(ctx context.Context, req *ReadResourceRequest) (Result, error) {
	s := req.Session.server
	uri := req.Params.URI
	s.mu.Lock()
	var handler ResourceHandler
	if sr, ok := s.resources.get(uri); ok {
		handler = sr.handler
	} else {
		for _, st := range s.resourceTemplates.all() {
			if st.compiled.Match(uri) != nil {
				handler = st.handler
				break
			}
		}
	}
	s.mu.Unlock()
	if handler == nil {
		return nil, resourceNotFoundError(uri)
	}
	return handler(ctx, req)
}

// resourceNotFoundError builds the typed resource-not-found error, carrying
// the offending URI in the error data.
func resourceNotFoundError(uri string) error {
	data, _ := internaljson.Marshal(map[string]string{"uri": uri})
	return &jsonrpc2.WireError{
		Code:    jsonrpc2.CodeResourceNotFound,
		Message: "Resource not found",
		Data:    data,
	}
}

func handleSubscribe(ctx context.Context, req *SubscribeRequest) (Result, error) {
	s := req.Session.server
	if s.opts.SubscribeHandler == nil {
		return nil, jsonrpc2.ErrMethodNotFound
	}
	if err := s.opts.SubscribeHandler(ctx, req); err != nil {
		return nil, err
	}
	req.Session.mu.Lock()
	req.Session.subscriptions[req.Params.URI] = true
	req.Session.mu.Unlock()
	return &emptyResult{}, nil
}

func handleUnsubscribe(ctx context.Context, req *UnsubscribeRequest) (Result, error) {
	s := req.Session.server
	if s.opts.UnsubscribeHandler == nil {
		return nil, jsonrpc2.ErrMethodNotFound
	}
	if err := s.opts.UnsubscribeHandler(ctx, req); err != nil {
		return nil, err
	}
	req.Session.mu.Lock()
	delete(req.Session.subscriptions, req.Params.URI)
	req.Session.mu.Unlock()
	return &emptyResult{}, nil
}

func handleComplete(ctx context.Context, req *CompleteRequest) (Result, error) {
	s := req.Session.server
	if s.opts.CompletionHandler == nil {
		return nil, jsonrpc2.ErrMethodNotFound
	}
	return s.opts.CompletionHandler(ctx, req)
}

func handleSetLevel(ctx context.Context, req *SetLoggingLevelRequest) (Result, error) {
	if _, ok := loggingLevelOrder[req.Params.Level]; !ok {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams,
			fmt.Sprintf("invalid logging level %q", req.Params.Level))
	}
	req.Session.mu.Lock()
	req.Session.logLevel = req.Params.Level
	req.Session.mu.Unlock()
	return &emptyResult{}, nil
}

func handleGetTask(ctx context.Context, req *GetTaskRequest) (Result, error) {
	s := req.Session.server
	if s.tasks == nil {
		return nil, jsonrpc2.ErrMethodNotFound
	}
	return s.tasks.getTask(ctx, req.Session, req.Params)
}

func handleTaskResult(ctx context.Context, req *GetTaskPayloadRequest) (Result, error) {
	s := req.Session.server
	if s.tasks == nil {
		return nil, jsonrpc2.ErrMethodNotFound
	}
	return s.tasks.getTaskResult(ctx, req.Session, req.Params)
}

func handleListTasks(ctx context.Context, req *ListTasksRequest) (Result, error) {
	s := req.Session.server
	if s.tasks == nil {
		return nil, jsonrpc2.ErrMethodNotFound
	}
	return s.tasks.listTasks(ctx, req.Session, req.Params)
}

func handleCancelTask(ctx context.Context, req *CancelTaskRequest) (Result, error) {
	s := req.Session.server
	if s.tasks == nil {
		return nil, jsonrpc2.ErrMethodNotFound
	}
	return s.tasks.cancelTask(ctx, req.Session, req.Params)
}
