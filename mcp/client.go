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
)

// ClientOptions configures the behavior of the client.
type ClientOptions struct {
	// KeepAlive, if non-zero, pings each session at this interval and closes
	// it when a ping fails.
	KeepAlive time.Duration
	// RequestTimeout, if non-zero, bounds outgoing client-to-server requests
	// whose context carries no deadline.
	RequestTimeout time.Duration
	// Logger receives structured diagnostics. If nil, logging is discarded.
	Logger *slog.Logger

	// CreateMessageHandler, if set, advertises the sampling capability and
	// handles sampling/createMessage requests from servers.
	CreateMessageHandler func(context.Context, *CreateMessageRequest) (*CreateMessageResult, error)
	// ElicitationHandler, if set, advertises the elicitation capability and
	// handles elicitation/create requests from servers.
	ElicitationHandler func(context.Context, *ElicitRequest) (*ElicitResult, error)
	// TaskAugmentedSampling advertises that sampling requests may be issued
	// from task execution. It requires CreateMessageHandler.
	TaskAugmentedSampling bool
	// TaskAugmentedElicitation advertises that elicitation requests may be
	// issued from task execution. It requires ElicitationHandler.
	TaskAugmentedElicitation bool

	// Handlers for server notifications.
	ToolListChangedHandler        func(context.Context, *ToolListChangedRequest)
	PromptListChangedHandler      func(context.Context, *PromptListChangedRequest)
	ResourceListChangedHandler    func(context.Context, *ResourceListChangedRequest)
	ResourceUpdatedHandler        func(context.Context, *ResourceUpdatedNotificationRequest)
	LoggingMessageHandler         func(context.Context, *LoggingMessageRequest)
	TaskStatusNotificationHandler func(context.Context, *TaskStatusNotificationRequest)
	// ProgressNotificationHandler is invoked for progress notifications whose
	// token has no per-request handler registered.
	ProgressNotificationHandler func(context.Context, *ProgressNotificationClientRequest)
}

// A Client is an MCP client, which may be connected to an MCP server using
// [Client.Connect].
type Client struct {
	impl   *Implementation
	opts   ClientOptions
	logger *slog.Logger

	mu                  sync.Mutex
	roots               *featureSet[*Root]
	sessions            []*ClientSession
	receivingMiddleware []Middleware
	handlerCache        MethodHandler
}

// NewClient creates a new [Client].
//
// Use [Client.Connect] to connect it to an MCP server.
//
// The first argument must not be nil.
//
// If non-nil, the provided options configure the client.
func NewClient(impl *Implementation, opts *ClientOptions) *Client {
	if impl == nil {
		panic("nil Implementation")
	}
	c := &Client{
		impl:  impl,
		roots: newFeatureSet(func(r *Root) string { return r.URI }),
	}
	if opts != nil {
		c.opts = *opts
	}
	c.logger = c.opts.Logger
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

func (c *Client) capabilities() *ClientCapabilities {
	caps := &ClientCapabilities{Roots: &RootCapabilities{ListChanged: true}}
	if c.opts.CreateMessageHandler != nil {
		caps.Sampling = &SamplingCapabilities{}
		if c.opts.TaskAugmentedSampling {
			caps.TaskAugmentedSampling = &TaskAugmentedCapabilities{}
		}
	}
	if c.opts.ElicitationHandler != nil {
		caps.Elicitation = &ElicitationCapabilities{}
		if c.opts.TaskAugmentedElicitation {
			caps.TaskAugmentedElicitation = &TaskAugmentedCapabilities{}
		}
	}
	return caps
}

// AddRoots adds the given roots to the client, replacing any with the same
// URIs, and notifies connected servers.
func (c *Client) AddRoots(roots ...*Root) {
	c.mu.Lock()
	c.roots.add(roots...)
	c.mu.Unlock()
	c.rootsChanged()
}

// RemoveRoots removes the roots with the given URIs and notifies connected
// servers. It is not an error to remove a nonexistent root.
func (c *Client) RemoveRoots(uris ...string) {
	c.mu.Lock()
	changed := c.roots.remove(uris...)
	c.mu.Unlock()
	if changed {
		c.rootsChanged()
	}
}

func (c *Client) rootsChanged() {
	c.mu.Lock()
	sessions := slices.Clone(c.sessions)
	c.mu.Unlock()
	for _, cs := range sessions {
		if !cs.s.isInitialized() {
			continue
		}
		if err := cs.s.notify(context.Background(), notificationRootsListChanged, nil); err != nil {
			c.logger.Debug("roots list changed notification failed", "error", err)
		}
	}
}

// AddReceivingMiddleware wraps the handlers for incoming messages. The first
// middleware becomes the outermost wrapper.
//
// Middleware must be added before any session is connected.
func (c *Client) AddReceivingMiddleware(middleware ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivingMiddleware = append(c.receivingMiddleware, middleware...)
	c.handlerCache = nil
}

func (c *Client) methodHandler() MethodHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlerCache == nil {
		h := MethodHandler(defaultMethodHandler)
		addMiddleware(&h, c.receivingMiddleware)
		c.handlerCache = h
	}
	return c.handlerCache
}

// ClientSessionOptions configures a single client session. It is reserved
// for future expansion; a nil value is valid.
type ClientSessionOptions struct{}

// Connect begins an MCP session by connecting over the given transport and
// initializing the session: Connect returns only once the initialize
// handshake has completed, or failed.
func (c *Client) Connect(ctx context.Context, t Transport, opts *ClientSessionOptions) (*ClientSession, error) {
	_ = opts
	conn, err := t.Connect(ctx)
	if err != nil {
		return nil, err
	}
	cs := &ClientSession{client: c}
	cs.s = newSession(conn, cs, cs, c.opts.RequestTimeout)
	cs.s.onClose = func() {
		c.mu.Lock()
		c.sessions = slices.DeleteFunc(c.sessions, func(cs2 *ClientSession) bool { return cs2 == cs })
		c.mu.Unlock()
	}
	c.mu.Lock()
	c.sessions = append(c.sessions, cs)
	c.mu.Unlock()
	cs.s.start()

	params := &InitializeParams{
		ClientInfo:      c.impl,
		Capabilities:    c.capabilities(),
		ProtocolVersion: latestProtocolVersion,
	}
	res := new(InitializeResult)
	if err := cs.s.call(ctx, methodInitialize, params, res); err != nil {
		cs.Close()
		return nil, fmt.Errorf("initializing: %w", err)
	}
	if !slices.Contains(supportedProtocolVersions, res.ProtocolVersion) {
		cs.Close()
		return nil, fmt.Errorf("initializing: unsupported protocol version %q", res.ProtocolVersion)
	}
	cs.mu.Lock()
	cs.initResult = res
	cs.mu.Unlock()
	if err := cs.s.notify(ctx, notificationInitialized, &InitializedParams{}); err != nil {
		cs.Close()
		return nil, fmt.Errorf("initializing: %w", err)
	}
	cs.s.markInitialized()
	if c.opts.KeepAlive > 0 {
		startKeepalive(cs, c.opts.KeepAlive, &cs.keepaliveCancel)
	}
	return cs, nil
}

// A ClientSession is a logical connection with an MCP server. Its methods
// can be used to send requests or notifications to the server. Create a
// session by calling [Client.Connect].
type ClientSession struct {
	s      *session
	client *Client

	keepaliveCancel context.CancelFunc

	mu         sync.Mutex
	initResult *InitializeResult
}

var _ Session = (*ClientSession)(nil)

func (cs *ClientSession) core() *session { return cs.s }

// ID returns the session's ID, or "" if the transport does not assign one.
func (cs *ClientSession) ID() string { return cs.s.sessionID() }

// Close performs a graceful close of the connection, preventing new requests
// from being handled, and waiting for ongoing requests to return.
func (cs *ClientSession) Close() error {
	if cs.keepaliveCancel != nil {
		cs.keepaliveCancel()
	}
	return cs.s.close()
}

// Wait waits for the connection to be closed by the server.
func (cs *ClientSession) Wait() error { return cs.s.wait() }

// InitializeResult returns the result of the session's initialize call.
func (cs *ClientSession) InitializeResult() *InitializeResult {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.initResult
}

func (cs *ClientSession) serverCapabilities() *ServerCapabilities {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.initResult == nil || cs.initResult.Capabilities == nil {
		return &ServerCapabilities{}
	}
	return cs.initResult.Capabilities
}

// peer implementation.

func (cs *ClientSession) methodInfos() map[string]methodInfo { return clientMethodInfos }
func (cs *ClientSession) methodHandler() MethodHandler       { return cs.client.methodHandler() }
func (cs *ClientSession) onInitialized()                     {}
func (cs *ClientSession) logger() *slog.Logger               { return cs.client.logger }

// Calls from client to server.

// Ping makes an MCP "ping" request to the server.
func (cs *ClientSession) Ping(ctx context.Context, params *PingParams) error {
	return cs.s.call(ctx, methodPing, orZero(params), nil)
}

// ListTools lists tools that are currently available on the server.
func (cs *ClientSession) ListTools(ctx context.Context, params *ListToolsParams) (*ListToolsResult, error) {
	if cs.serverCapabilities().Tools == nil {
		return nil, fmt.Errorf("server does not support tools")
	}
	res := new(ListToolsResult)
	if err := cs.s.call(ctx, methodListTools, orZero(params), res); err != nil {
		return nil, err
	}
	return res, nil
}

// CallTool calls the tool with the given parameters.
func (cs *ClientSession) CallTool(ctx context.Context, params *CallToolParams) (*CallToolResult, error) {
	if cs.serverCapabilities().Tools == nil {
		return nil, fmt.Errorf("server does not support tools")
	}
	if params == nil || params.Name == "" {
		return nil, fmt.Errorf("missing tool name")
	}
	res := new(CallToolResult)
	if err := cs.s.call(ctx, methodCallTool, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// CallToolTask calls the tool with the given parameters as a task-augmented
// request: the server responds immediately with a task stub, and the actual
// result is retrieved later with [ClientSession.TaskResult].
func (cs *ClientSession) CallToolTask(ctx context.Context, params *CallToolParams, task *TaskParams) (*CreateTaskResult, error) {
	caps := cs.serverCapabilities()
	if caps.Tools == nil {
		return nil, fmt.Errorf("server does not support tools")
	}
	if caps.Tasks == nil || caps.Tasks.Requests == nil ||
		caps.Tasks.Requests.Tools == nil || caps.Tasks.Requests.Tools.Call == nil {
		return nil, fmt.Errorf("server does not support task-augmented tool calls")
	}
	if params == nil || params.Name == "" {
		return nil, fmt.Errorf("missing tool name")
	}
	p := *params
	p.Task = task
	if p.Task == nil {
		p.Task = &TaskParams{}
	}
	res := new(CreateTaskResult)
	if err := cs.s.call(ctx, methodCallTool, &p, res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetTask retrieves the current state of a task created by this session.
func (cs *ClientSession) GetTask(ctx context.Context, params *GetTaskParams) (*Task, error) {
	if cs.serverCapabilities().Tasks == nil {
		return nil, fmt.Errorf("server does not support tasks")
	}
	res := new(Task)
	if err := cs.s.call(ctx, methodGetTask, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// TaskResult retrieves the result of a terminal task created by this
// session, blocking until the task reaches a terminal state.
//
// Task-augmented requests to servers are tool calls, so the result is a
// [CallToolResult].
func (cs *ClientSession) TaskResult(ctx context.Context, params *GetTaskPayloadParams) (*CallToolResult, error) {
	if cs.serverCapabilities().Tasks == nil {
		return nil, fmt.Errorf("server does not support tasks")
	}
	res := new(CallToolResult)
	if err := cs.s.call(ctx, methodTaskResult, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListTasks lists the session's tasks.
func (cs *ClientSession) ListTasks(ctx context.Context, params *ListTasksParams) (*ListTasksResult, error) {
	caps := cs.serverCapabilities()
	if caps.Tasks == nil || caps.Tasks.List == nil {
		return nil, fmt.Errorf("server does not support task listing")
	}
	res := new(ListTasksResult)
	if err := cs.s.call(ctx, methodListTasks, orZero(params), res); err != nil {
		return nil, err
	}
	return res, nil
}

// CancelTask requests cancellation of a task created by this session.
func (cs *ClientSession) CancelTask(ctx context.Context, params *CancelTaskParams) (*Task, error) {
	caps := cs.serverCapabilities()
	if caps.Tasks == nil || caps.Tasks.Cancel == nil {
		return nil, fmt.Errorf("server does not support task cancellation")
	}
	res := new(Task)
	if err := cs.s.call(ctx, methodCancelTask, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListPrompts lists prompts that are currently available on the server.
func (cs *ClientSession) ListPrompts(ctx context.Context, params *ListPromptsParams) (*ListPromptsResult, error) {
	if cs.serverCapabilities().Prompts == nil {
		return nil, fmt.Errorf("server does not support prompts")
	}
	res := new(ListPromptsResult)
	if err := cs.s.call(ctx, methodListPrompts, orZero(params), res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetPrompt gets a prompt from the server.
func (cs *ClientSession) GetPrompt(ctx context.Context, params *GetPromptParams) (*GetPromptResult, error) {
	if cs.serverCapabilities().Prompts == nil {
		return nil, fmt.Errorf("server does not support prompts")
	}
	res := new(GetPromptResult)
	if err := cs.s.call(ctx, methodGetPrompt, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListResources lists the resources that are currently available on the
// server.
func (cs *ClientSession) ListResources(ctx context.Context, params *ListResourcesParams) (*ListResourcesResult, error) {
	if cs.serverCapabilities().Resources == nil {
		return nil, fmt.Errorf("server does not support resources")
	}
	res := new(ListResourcesResult)
	if err := cs.s.call(ctx, methodListResources, orZero(params), res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListResourceTemplates lists the resource templates that are currently
// available on the server.
func (cs *ClientSession) ListResourceTemplates(ctx context.Context, params *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
	if cs.serverCapabilities().Resources == nil {
		return nil, fmt.Errorf("server does not support resources")
	}
	res := new(ListResourceTemplatesResult)
	if err := cs.s.call(ctx, methodListResourceTemplates, orZero(params), res); err != nil {
		return nil, err
	}
	return res, nil
}

// ReadResource asks the server to read a resource and return its contents.
func (cs *ClientSession) ReadResource(ctx context.Context, params *ReadResourceParams) (*ReadResourceResult, error) {
	if cs.serverCapabilities().Resources == nil {
		return nil, fmt.Errorf("server does not support resources")
	}
	res := new(ReadResourceResult)
	if err := cs.s.call(ctx, methodReadResource, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Subscribe asks the server to send notifications when the named resource
// changes. It fails if the server does not advertise the subscribe
// capability.
func (cs *ClientSession) Subscribe(ctx context.Context, params *SubscribeParams) error {
	caps := cs.serverCapabilities()
	if caps.Resources == nil || !caps.Resources.Subscribe {
		return fmt.Errorf("server does not support resource subscriptions")
	}
	return cs.s.call(ctx, methodSubscribe, params, nil)
}

// Unsubscribe cancels a previous subscription.
func (cs *ClientSession) Unsubscribe(ctx context.Context, params *UnsubscribeParams) error {
	caps := cs.serverCapabilities()
	if caps.Resources == nil || !caps.Resources.Subscribe {
		return fmt.Errorf("server does not support resource subscriptions")
	}
	return cs.s.call(ctx, methodUnsubscribe, params, nil)
}

// Complete asks the server for prompt or resource argument completions.
func (cs *ClientSession) Complete(ctx context.Context, params *CompleteParams) (*CompleteResult, error) {
	if cs.serverCapabilities().Completions == nil {
		return nil, fmt.Errorf("server does not support completion")
	}
	res := new(CompleteResult)
	if err := cs.s.call(ctx, methodComplete, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// SetLoggingLevel sets the minimum level of log messages the server sends to
// this session.
func (cs *ClientSession) SetLoggingLevel(ctx context.Context, params *SetLoggingLevelParams) error {
	if cs.serverCapabilities().Logging == nil {
		return fmt.Errorf("server does not support logging")
	}
	return cs.s.call(ctx, methodSetLevel, params, nil)
}

// Paginated iterators.

// Tools iterates over all tools on the server, making list calls as needed.
// The params argument may set the initial cursor; it may be nil.
func (cs *ClientSession) Tools(ctx context.Context, params *ListToolsParams) iter.Seq2[*Tool, error] {
	return paginatedItems(ctx, orZero(params), cs.ListTools,
		func(r *ListToolsResult) []*Tool { return r.Tools })
}

// Prompts iterates over all prompts on the server, making list calls as
// needed. The params argument may set the initial cursor; it may be nil.
func (cs *ClientSession) Prompts(ctx context.Context, params *ListPromptsParams) iter.Seq2[*Prompt, error] {
	return paginatedItems(ctx, orZero(params), cs.ListPrompts,
		func(r *ListPromptsResult) []*Prompt { return r.Prompts })
}

// Resources iterates over all resources on the server, making list calls as
// needed. The params argument may set the initial cursor; it may be nil.
func (cs *ClientSession) Resources(ctx context.Context, params *ListResourcesParams) iter.Seq2[*Resource, error] {
	return paginatedItems(ctx, orZero(params), cs.ListResources,
		func(r *ListResourcesResult) []*Resource { return r.Resources })
}

// ResourceTemplates iterates over all resource templates on the server,
// making list calls as needed. The params argument may set the initial
// cursor; it may be nil.
func (cs *ClientSession) ResourceTemplates(ctx context.Context, params *ListResourceTemplatesParams) iter.Seq2[*ResourceTemplate, error] {
	return paginatedItems(ctx, orZero(params), cs.ListResourceTemplates,
		func(r *ListResourceTemplatesResult) []*ResourceTemplate { return r.ResourceTemplates })
}

// listParams and listResult constrain the paginated list protocol types.
type listParams interface {
	Params
	cursorPtr() *string
}

type listResult interface {
	Result
	nextCursorPtr() *string
}

// paginatedItems drives a list method through all its pages.
func paginatedItems[P listParams, R listResult, T any](
	ctx context.Context,
	params P,
	list func(context.Context, P) (R, error),
	items func(R) []T,
) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			res, err := list(ctx, params)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range items(res) {
				if !yield(item, nil) {
					return
				}
			}
			next := *res.nextCursorPtr()
			if next == "" {
				return
			}
			*params.cursorPtr() = next
		}
	}
}

// Client method table.

var clientMethodInfos = map[string]methodInfo{
	methodPing:          clientMethod(false, handleClientPing),
	methodCreateMessage: clientMethod(false, handleCreateMessage),
	methodElicit:        clientMethod(false, handleElicit),
	methodListRoots:     clientMethod(false, handleListRoots),

	notificationToolListChanged:     clientMethod(true, handleToolListChanged),
	notificationPromptListChanged:   clientMethod(true, handlePromptListChanged),
	notificationResourceListChanged: clientMethod(true, handleResourceListChanged),
	notificationResourceUpdated:     clientMethod(true, handleResourceUpdated),
	notificationLoggingMessage:      clientMethod(true, handleLoggingMessage),
	notificationProgress:            clientMethod(true, handleClientProgress),
	notificationTaskStatus:          clientMethod(true, handleTaskStatus),
}

func handleClientPing(ctx context.Context, req *ClientRequest[*PingParams]) (Result, error) {
	return &emptyResult{}, nil
}

func handleCreateMessage(ctx context.Context, req *CreateMessageRequest) (Result, error) {
	h := req.Session.client.opts.CreateMessageHandler
	if h == nil {
		// The server did not check the client's capabilities.
		return nil, fmt.Errorf("client does not support sampling")
	}
	return h(ctx, req)
}

func handleElicit(ctx context.Context, req *ElicitRequest) (Result, error) {
	h := req.Session.client.opts.ElicitationHandler
	if h == nil {
		return nil, fmt.Errorf("client does not support elicitation")
	}
	return h(ctx, req)
}

func handleListRoots(ctx context.Context, req *ListRootsRequest) (Result, error) {
	c := req.Session.client
	c.mu.Lock()
	roots := c.roots.all()
	c.mu.Unlock()
	return &ListRootsResult{Roots: roots}, nil
}

func handleToolListChanged(ctx context.Context, req *ToolListChangedRequest) (Result, error) {
	if h := req.Session.client.opts.ToolListChangedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func handlePromptListChanged(ctx context.Context, req *PromptListChangedRequest) (Result, error) {
	if h := req.Session.client.opts.PromptListChangedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func handleResourceListChanged(ctx context.Context, req *ResourceListChangedRequest) (Result, error) {
	if h := req.Session.client.opts.ResourceListChangedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func handleResourceUpdated(ctx context.Context, req *ResourceUpdatedNotificationRequest) (Result, error) {
	if h := req.Session.client.opts.ResourceUpdatedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func handleLoggingMessage(ctx context.Context, req *LoggingMessageRequest) (Result, error) {
	if h := req.Session.client.opts.LoggingMessageHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func handleClientProgress(ctx context.Context, req *ProgressNotificationClientRequest) (Result, error) {
	if h := req.Session.client.opts.ProgressNotificationHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func handleTaskStatus(ctx context.Context, req *TaskStatusNotificationRequest) (Result, error) {
	if h := req.Session.client.opts.TaskStatusNotificationHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}
