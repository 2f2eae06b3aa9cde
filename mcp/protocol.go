// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

// Protocol types for version 2025-06-18, plus the task extension.

import (
	"encoding/json"
	"fmt"
	"maps"

	internaljson "github.com/mcpwire/mcpwire/internal/json"
)

// latestProtocolVersion is the newest protocol revision this module speaks.
const latestProtocolVersion = "2025-06-18"

var supportedProtocolVersions = []string{latestProtocolVersion, "2025-03-26", "2024-11-05"}

// Meta is the open-ended metadata bag reserved by the protocol on most
// params and results, carried in the "_meta" property.
type Meta map[string]any

// GetMeta returns the metadata map.
func (m Meta) GetMeta() map[string]any { return m }

// SetMeta replaces the metadata map.
func (m *Meta) SetMeta(x map[string]any) { *m = x }

const progressTokenKey = "progressToken"

func getProgressToken(p Params) any { return p.GetMeta()[progressTokenKey] }

func setProgressToken(p Params, token any) {
	switch token.(type) {
	case string, int, int32, int64:
	default:
		panic(fmt.Sprintf("progress token %v is not an int or string", token))
	}
	m := p.GetMeta()
	if m == nil {
		m = map[string]any{}
		p.SetMeta(m)
	}
	m[progressTokenKey] = token
}

// Params is the interface satisfied by all request parameter types.
type Params interface {
	isParams()
	GetMeta() map[string]any
	SetMeta(map[string]any)
}

// Result is the interface satisfied by all result types.
type Result interface {
	isResult()
}

// emptyResult is returned by handlers for methods whose result is an empty
// object (ping, logging/setLevel, ...).
type emptyResult struct{}

func (*emptyResult) isResult() {}

// An Implementation describes the name and version of an MCP implementation.
type Implementation struct {
	// Name is intended for programmatic or logical use.
	Name string `json:"name"`
	// Title is intended for UI and end-user contexts.
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// Optional annotations for the client, informing how objects are used or
// displayed.
type Annotations struct {
	// Audience describes who the intended customer of this object or data is.
	Audience []Role `json:"audience,omitempty"`
	// LastModified is the moment the resource was last modified, as an ISO 8601
	// formatted string.
	LastModified string `json:"lastModified,omitempty"`
	// Priority describes how important this data is for operating the server,
	// from 0 (entirely optional) to 1 (effectively required).
	Priority float64 `json:"priority,omitempty"`
}

// The sender or recipient of messages and data in a conversation: "user" or
// "assistant".
type Role string

// shallowClone returns a shallow clone of *p, or nil if p is nil.
func shallowClone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	x := *p
	return &x
}

//
// Capabilities.
//

// RootCapabilities describes a client's support for roots.
type RootCapabilities struct {
	// ListChanged reports whether the client emits notifications when the
	// roots list changes.
	ListChanged bool `json:"listChanged,omitempty"`
}

// SamplingCapabilities describes the client's support for sampling.
type SamplingCapabilities struct{}

// ElicitationCapabilities describes the client's support for elicitation.
type ElicitationCapabilities struct{}

// TaskAugmentedCapabilities marks a server-to-client request kind as safe to
// issue from within task execution: while such a nested call is outstanding,
// the owning task is reported as input_required.
type TaskAugmentedCapabilities struct{}

// ClientCapabilities describes capabilities a client supports. This is not a
// closed set: clients may advertise additional, experimental capabilities.
type ClientCapabilities struct {
	// Experimental reports non-standard capabilities.
	Experimental map[string]any `json:"experimental,omitempty"`
	// Roots is present if the client supports roots/list.
	Roots *RootCapabilities `json:"roots,omitempty"`
	// Sampling is present if the client supports sampling from an LLM.
	Sampling *SamplingCapabilities `json:"sampling,omitempty"`
	// Elicitation is present if the client supports elicitation from the server.
	Elicitation *ElicitationCapabilities `json:"elicitation,omitempty"`
	// TaskAugmentedSampling is present if the client tolerates sampling
	// requests issued from task execution.
	TaskAugmentedSampling *TaskAugmentedCapabilities `json:"taskAugmentedSampling,omitempty"`
	// TaskAugmentedElicitation is present if the client tolerates elicitation
	// requests issued from task execution.
	TaskAugmentedElicitation *TaskAugmentedCapabilities `json:"taskAugmentedElicitation,omitempty"`
}

func (c *ClientCapabilities) clone() *ClientCapabilities {
	cp := *c
	cp.Experimental = maps.Clone(c.Experimental)
	cp.Roots = shallowClone(c.Roots)
	cp.Sampling = shallowClone(c.Sampling)
	cp.Elicitation = shallowClone(c.Elicitation)
	cp.TaskAugmentedSampling = shallowClone(c.TaskAugmentedSampling)
	cp.TaskAugmentedElicitation = shallowClone(c.TaskAugmentedElicitation)
	return &cp
}

// CompletionCapabilities describes the server's support for argument
// autocompletion.
type CompletionCapabilities struct{}

// LoggingCapabilities describes the server's support for sending log
// messages to the client.
type LoggingCapabilities struct{}

// PromptCapabilities describes the server's support for prompts.
type PromptCapabilities struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourceCapabilities describes the server's support for resources.
type ResourceCapabilities struct {
	ListChanged bool `json:"listChanged,omitempty"`
	// Subscribe reports whether the server supports resources/subscribe.
	Subscribe bool `json:"subscribe,omitempty"`
}

// ToolCapabilities describes the server's support for tools.
type ToolCapabilities struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// TasksCapabilities describes the server's support for task-augmented
// requests.
type TasksCapabilities struct {
	// List is present if the server supports tasks/list.
	List *TasksListCapabilities `json:"list,omitempty"`
	// Cancel is present if the server supports tasks/cancel.
	Cancel *TasksCancelCapabilities `json:"cancel,omitempty"`
	// Requests names the request kinds that may be task-augmented.
	Requests *TasksRequestsCapabilities `json:"requests,omitempty"`
}

type TasksListCapabilities struct{}

type TasksCancelCapabilities struct{}

// TasksRequestsCapabilities enumerates request kinds accepting a task
// envelope.
type TasksRequestsCapabilities struct {
	Tools *TasksToolsRequestCapabilities `json:"tools,omitempty"`
}

type TasksToolsRequestCapabilities struct {
	Call *TasksToolsCallCapabilities `json:"call,omitempty"`
}

type TasksToolsCallCapabilities struct{}

// ServerCapabilities describes capabilities a server supports.
type ServerCapabilities struct {
	// Experimental reports non-standard capabilities.
	Experimental map[string]any `json:"experimental,omitempty"`
	// Completions is present if the server supports completion/complete.
	Completions *CompletionCapabilities `json:"completions,omitempty"`
	// Logging is present if the server supports log messages.
	Logging *LoggingCapabilities `json:"logging,omitempty"`
	// Prompts is present if the server supports prompts.
	Prompts *PromptCapabilities `json:"prompts,omitempty"`
	// Resources is present if the server supports resources.
	Resources *ResourceCapabilities `json:"resources,omitempty"`
	// Tools is present if the server supports tools.
	Tools *ToolCapabilities `json:"tools,omitempty"`
	// Tasks is present if the server supports task-augmented requests.
	Tasks *TasksCapabilities `json:"tasks,omitempty"`
}

func (c *ServerCapabilities) clone() *ServerCapabilities {
	cp := *c
	cp.Experimental = maps.Clone(c.Experimental)
	cp.Completions = shallowClone(c.Completions)
	cp.Logging = shallowClone(c.Logging)
	cp.Prompts = shallowClone(c.Prompts)
	cp.Resources = shallowClone(c.Resources)
	cp.Tools = shallowClone(c.Tools)
	if c.Tasks != nil {
		t := *c.Tasks
		t.List = shallowClone(c.Tasks.List)
		t.Cancel = shallowClone(c.Tasks.Cancel)
		if c.Tasks.Requests != nil {
			r := *c.Tasks.Requests
			if r.Tools != nil {
				tt := *r.Tools
				tt.Call = shallowClone(r.Tools.Call)
				r.Tools = &tt
			}
			t.Requests = &r
		}
		cp.Tasks = &t
	}
	return &cp
}

//
// Lifecycle.
//

// InitializeParams is sent by the client to initialize the session.
type InitializeParams struct {
	Meta `json:"_meta,omitempty"`
	// Capabilities describes the client's capabilities.
	Capabilities *ClientCapabilities `json:"capabilities"`
	// ClientInfo provides information about the client.
	ClientInfo *Implementation `json:"clientInfo"`
	// ProtocolVersion is the latest protocol version the client supports.
	ProtocolVersion string `json:"protocolVersion"`
}

func (x *InitializeParams) isParams()              {}
func (x *InitializeParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *InitializeParams) SetProgressToken(t any) { setProgressToken(x, t) }

// InitializeResult is sent by the server in response to initialize.
type InitializeResult struct {
	Meta `json:"_meta,omitempty"`
	// Capabilities describes the server's capabilities.
	Capabilities *ServerCapabilities `json:"capabilities"`
	// Instructions describes how to use the server and its features.
	Instructions string `json:"instructions,omitempty"`
	// ProtocolVersion is the version the server wants to use. It may not match
	// the version the client requested; if the client cannot support it, the
	// client must disconnect.
	ProtocolVersion string          `json:"protocolVersion"`
	ServerInfo      *Implementation `json:"serverInfo"`
}

func (*InitializeResult) isResult() {}

type InitializedParams struct {
	Meta `json:"_meta,omitempty"`
}

func (x *InitializedParams) isParams()              {}
func (x *InitializedParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *InitializedParams) SetProgressToken(t any) { setProgressToken(x, t) }

type PingParams struct {
	Meta `json:"_meta,omitempty"`
}

func (x *PingParams) isParams()              {}
func (x *PingParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *PingParams) SetProgressToken(t any) { setProgressToken(x, t) }

type CancelledParams struct {
	Meta `json:"_meta,omitempty"`
	// Reason optionally describes why the request was cancelled. It may be
	// logged or presented to the user.
	Reason string `json:"reason,omitempty"`
	// RequestID is the ID of the request to cancel. It must correspond to a
	// request previously issued in the same direction.
	RequestID any `json:"requestId"`
}

func (x *CancelledParams) isParams()              {}
func (x *CancelledParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *CancelledParams) SetProgressToken(t any) { setProgressToken(x, t) }

type ProgressNotificationParams struct {
	Meta `json:"_meta,omitempty"`
	// ProgressToken was given in the initial request; it associates this
	// notification with the request that is proceeding.
	ProgressToken any `json:"progressToken"`
	// Message optionally describes the current progress.
	Message string `json:"message,omitempty"`
	// Progress thus far. It should increase every time progress is made,
	// even if the total is unknown.
	Progress float64 `json:"progress"`
	// Total number of items to process, if known. Zero means unknown.
	Total float64 `json:"total,omitempty"`
}

func (*ProgressNotificationParams) isParams() {}

//
// Tools.
//

// ToolTaskSupport states a tool's relationship to task-augmented execution.
type ToolTaskSupport string

const (
	// ToolTaskSupportForbidden rejects task-augmented calls. The zero value of
	// [ToolExecution.TaskSupport] means forbidden.
	ToolTaskSupportForbidden ToolTaskSupport = "forbidden"
	// ToolTaskSupportOptional accepts both plain and task-augmented calls.
	ToolTaskSupportOptional ToolTaskSupport = "optional"
	// ToolTaskSupportRequired accepts only task-augmented calls.
	ToolTaskSupportRequired ToolTaskSupport = "required"
)

// ToolExecution carries execution-related tool hints.
type ToolExecution struct {
	// TaskSupport states whether the tool supports task-augmented execution.
	TaskSupport ToolTaskSupport `json:"taskSupport,omitempty"`
}

// A Tool the client can call.
type Tool struct {
	Meta `json:"_meta,omitempty"`
	// Annotations holds optional additional tool information.
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
	// Description is a human-readable description of the tool, used by clients
	// to improve the LLM's understanding of available tools.
	Description string `json:"description,omitempty"`
	// Execution holds execution-related hints, including task support.
	Execution *ToolExecution `json:"execution,omitempty"`
	// InputSchema is a JSON Schema object defining the tool's expected
	// parameters. It may be any value that marshals to a valid schema.
	InputSchema any `json:"inputSchema"`
	// Name identifies the tool: 1-128 characters from [A-Za-z0-9_.-].
	Name string `json:"name"`
	// OutputSchema optionally defines the structure of StructuredContent in
	// the tool's results.
	OutputSchema any `json:"outputSchema,omitempty"`
	// Title is intended for UI and end-user contexts.
	Title string `json:"title,omitempty"`
}

// ToolAnnotations are display and behavior hints for a tool. All properties
// are hints: they are not guaranteed to faithfully describe tool behavior.
type ToolAnnotations struct {
	// DestructiveHint: the tool may perform destructive updates (meaningful
	// only when ReadOnlyHint is false). Default: true.
	DestructiveHint *bool `json:"destructiveHint,omitempty"`
	// IdempotentHint: repeated calls with the same arguments have no
	// additional effect. Default: false.
	IdempotentHint bool `json:"idempotentHint,omitempty"`
	// OpenWorldHint: the tool may interact with an "open world" of external
	// entities. Default: true.
	OpenWorldHint *bool `json:"openWorldHint,omitempty"`
	// ReadOnlyHint: the tool does not modify its environment.
	ReadOnlyHint bool `json:"readOnlyHint,omitempty"`
	// Title is a human-readable title for the tool.
	Title string `json:"title,omitempty"`
}

// CallToolParams is used by clients to call a tool.
type CallToolParams struct {
	Meta `json:"_meta,omitempty"`
	// Name is the name of the tool to call.
	Name string `json:"name"`
	// Arguments holds the tool arguments: any value that marshals to JSON.
	Arguments any `json:"arguments,omitempty"`
	// Task, if set, requests task-augmented execution: the server returns a
	// [CreateTaskResult] stub and runs the tool in the background.
	Task *TaskParams `json:"task,omitempty"`
}

func (x *CallToolParams) isParams()              {}
func (x *CallToolParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *CallToolParams) SetProgressToken(t any) { setProgressToken(x, t) }

// CallToolParamsRaw is the form of tool-call params passed to server-side
// handlers: arguments are not yet unmarshaled, so handlers can unmarshal and
// validate them themselves.
type CallToolParamsRaw struct {
	Meta      `json:"_meta,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Task      *TaskParams     `json:"task,omitempty"`
}

func (x *CallToolParamsRaw) isParams()              {}
func (x *CallToolParamsRaw) GetProgressToken() any  { return getProgressToken(x) }
func (x *CallToolParamsRaw) SetProgressToken(t any) { setProgressToken(x, t) }

// A CallToolResult is the server's response to a tool call.
type CallToolResult struct {
	Meta `json:"_meta,omitempty"`
	// Content is the unstructured result of the tool call.
	Content []Content `json:"content"`
	// StructuredContent is an optional structured result; it must marshal to a
	// JSON object.
	StructuredContent any `json:"structuredContent,omitempty"`
	// IsError reports whether the tool call ended in an error.
	//
	// Errors originating from the tool itself are reported inside Content with
	// IsError set, not as protocol-level errors, so that the model can see
	// that an error occurred and self-correct.
	IsError bool `json:"isError,omitempty"`
}

func (*CallToolResult) isResult() {}

func (x *CallToolResult) UnmarshalJSON(data []byte) error {
	type res CallToolResult // avoid recursion
	var wire struct {
		res
		Content []*wireContent `json:"content"`
	}
	if err := internaljson.Unmarshal(data, &wire); err != nil {
		return err
	}
	var err error
	if wire.res.Content, err = contentsFromWire(wire.Content, nil); err != nil {
		return err
	}
	*x = CallToolResult(wire.res)
	return nil
}

type ListToolsParams struct {
	Meta `json:"_meta,omitempty"`
	// Cursor is an opaque pagination position; results start after it.
	Cursor string `json:"cursor,omitempty"`
}

func (x *ListToolsParams) isParams()              {}
func (x *ListToolsParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ListToolsParams) SetProgressToken(t any) { setProgressToken(x, t) }
func (x *ListToolsParams) cursorPtr() *string     { return &x.Cursor }

type ListToolsResult struct {
	Meta `json:"_meta,omitempty"`
	// NextCursor is the pagination position after the last returned result.
	// If present, there may be more results.
	NextCursor string  `json:"nextCursor,omitempty"`
	Tools      []*Tool `json:"tools"`
}

func (x *ListToolsResult) isResult()              {}
func (x *ListToolsResult) nextCursorPtr() *string { return &x.NextCursor }

type ToolListChangedParams struct {
	Meta `json:"_meta,omitempty"`
}

func (x *ToolListChangedParams) isParams()              {}
func (x *ToolListChangedParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ToolListChangedParams) SetProgressToken(t any) { setProgressToken(x, t) }

//
// Prompts.
//

// A Prompt or prompt template that the server offers.
type Prompt struct {
	Meta `json:"_meta,omitempty"`
	// Arguments to use for templating the prompt.
	Arguments []*PromptArgument `json:"arguments,omitempty"`
	// Description of what this prompt provides.
	Description string `json:"description,omitempty"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
}

// A PromptArgument describes an argument that a prompt can accept.
type PromptArgument struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	// Required reports whether this argument must be provided.
	Required bool `json:"required,omitempty"`
}

// A PromptMessage is a message returned as part of a prompt. Unlike
// [SamplingMessage], it supports embedded resources.
type PromptMessage struct {
	Content Content `json:"content"`
	Role    Role    `json:"role"`
}

func (m *PromptMessage) UnmarshalJSON(data []byte) error {
	type msg PromptMessage // avoid recursion
	var wire struct {
		msg
		Content *wireContent `json:"content"`
	}
	if err := internaljson.Unmarshal(data, &wire); err != nil {
		return err
	}
	var err error
	if wire.msg.Content, err = contentFromWire(wire.Content, nil); err != nil {
		return err
	}
	*m = PromptMessage(wire.msg)
	return nil
}

type GetPromptParams struct {
	Meta `json:"_meta,omitempty"`
	// Arguments to use for templating the prompt.
	Arguments map[string]string `json:"arguments,omitempty"`
	// Name of the prompt or prompt template.
	Name string `json:"name"`
}

func (x *GetPromptParams) isParams()              {}
func (x *GetPromptParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *GetPromptParams) SetProgressToken(t any) { setProgressToken(x, t) }

type GetPromptResult struct {
	Meta        `json:"_meta,omitempty"`
	Description string           `json:"description,omitempty"`
	Messages    []*PromptMessage `json:"messages"`
}

func (*GetPromptResult) isResult() {}

type ListPromptsParams struct {
	Meta   `json:"_meta,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

func (x *ListPromptsParams) isParams()              {}
func (x *ListPromptsParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ListPromptsParams) SetProgressToken(t any) { setProgressToken(x, t) }
func (x *ListPromptsParams) cursorPtr() *string     { return &x.Cursor }

type ListPromptsResult struct {
	Meta       `json:"_meta,omitempty"`
	NextCursor string    `json:"nextCursor,omitempty"`
	Prompts    []*Prompt `json:"prompts"`
}

func (x *ListPromptsResult) isResult()              {}
func (x *ListPromptsResult) nextCursorPtr() *string { return &x.NextCursor }

type PromptListChangedParams struct {
	Meta `json:"_meta,omitempty"`
}

func (x *PromptListChangedParams) isParams()              {}
func (x *PromptListChangedParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *PromptListChangedParams) SetProgressToken(t any) { setProgressToken(x, t) }

//
// Resources.
//

// A Resource that the server is capable of reading.
type Resource struct {
	Meta        `json:"_meta,omitempty"`
	Annotations *Annotations `json:"annotations,omitempty"`
	Description string       `json:"description,omitempty"`
	// MIMEType of this resource, if known.
	MIMEType string `json:"mimeType,omitempty"`
	Name     string `json:"name"`
	// Size of the raw resource content in bytes, if known.
	Size  int64  `json:"size,omitempty"`
	Title string `json:"title,omitempty"`
	// URI of this resource.
	URI string `json:"uri"`
}

// A ResourceTemplate describes a parameterized family of resources.
type ResourceTemplate struct {
	Meta        `json:"_meta,omitempty"`
	Annotations *Annotations `json:"annotations,omitempty"`
	Description string       `json:"description,omitempty"`
	MIMEType    string       `json:"mimeType,omitempty"`
	Name        string       `json:"name"`
	Title       string       `json:"title,omitempty"`
	// URITemplate is an RFC 6570 template for constructing resource URIs.
	URITemplate string `json:"uriTemplate"`
}

// ResourceContents holds the contents of a specific resource or sub-resource.
type ResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     []byte `json:"blob,omitzero"`
	Meta     Meta   `json:"_meta,omitempty"`
}

type ReadResourceParams struct {
	Meta `json:"_meta,omitempty"`
	// URI of the resource to read. The URI can use any protocol; it is up to
	// the server how to interpret it.
	URI string `json:"uri"`
}

func (x *ReadResourceParams) isParams()              {}
func (x *ReadResourceParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ReadResourceParams) SetProgressToken(t any) { setProgressToken(x, t) }

type ReadResourceResult struct {
	Meta     `json:"_meta,omitempty"`
	Contents []*ResourceContents `json:"contents"`
}

func (*ReadResourceResult) isResult() {}

type ListResourcesParams struct {
	Meta   `json:"_meta,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

func (x *ListResourcesParams) isParams()              {}
func (x *ListResourcesParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ListResourcesParams) SetProgressToken(t any) { setProgressToken(x, t) }
func (x *ListResourcesParams) cursorPtr() *string     { return &x.Cursor }

type ListResourcesResult struct {
	Meta       `json:"_meta,omitempty"`
	NextCursor string      `json:"nextCursor,omitempty"`
	Resources  []*Resource `json:"resources"`
}

func (x *ListResourcesResult) isResult()              {}
func (x *ListResourcesResult) nextCursorPtr() *string { return &x.NextCursor }

type ListResourceTemplatesParams struct {
	Meta   `json:"_meta,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

func (x *ListResourceTemplatesParams) isParams()              {}
func (x *ListResourceTemplatesParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ListResourceTemplatesParams) SetProgressToken(t any) { setProgressToken(x, t) }
func (x *ListResourceTemplatesParams) cursorPtr() *string     { return &x.Cursor }

type ListResourceTemplatesResult struct {
	Meta              `json:"_meta,omitempty"`
	NextCursor        string              `json:"nextCursor,omitempty"`
	ResourceTemplates []*ResourceTemplate `json:"resourceTemplates"`
}

func (x *ListResourceTemplatesResult) isResult()              {}
func (x *ListResourceTemplatesResult) nextCursorPtr() *string { return &x.NextCursor }

type ResourceListChangedParams struct {
	Meta `json:"_meta,omitempty"`
}

func (x *ResourceListChangedParams) isParams()              {}
func (x *ResourceListChangedParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ResourceListChangedParams) SetProgressToken(t any) { setProgressToken(x, t) }

// SubscribeParams requests resources/updated notifications for a resource.
type SubscribeParams struct {
	Meta `json:"_meta,omitempty"`
	// URI of the resource to subscribe to.
	URI string `json:"uri"`
}

func (*SubscribeParams) isParams() {}

// UnsubscribeParams cancels a previous resources/subscribe request.
type UnsubscribeParams struct {
	Meta `json:"_meta,omitempty"`
	URI  string `json:"uri"`
}

func (*UnsubscribeParams) isParams() {}

// ResourceUpdatedNotificationParams informs a subscribed client that a
// resource has changed and may need to be read again.
type ResourceUpdatedNotificationParams struct {
	Meta `json:"_meta,omitempty"`
	// URI of the resource that has been updated. This might be a sub-resource
	// of the one the client subscribed to.
	URI string `json:"uri"`
}

func (*ResourceUpdatedNotificationParams) isParams() {}

//
// Roots.
//

// A Root is a directory or file that the server can operate on.
type Root struct {
	Meta `json:"_meta,omitempty"`
	// Name is an optional human-readable identifier for the root.
	Name string `json:"name,omitempty"`
	// URI identifying the root; must start with file:// for now.
	URI string `json:"uri"`
}

type ListRootsParams struct {
	Meta `json:"_meta,omitempty"`
}

func (x *ListRootsParams) isParams()              {}
func (x *ListRootsParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ListRootsParams) SetProgressToken(t any) { setProgressToken(x, t) }

type ListRootsResult struct {
	Meta  `json:"_meta,omitempty"`
	Roots []*Root `json:"roots"`
}

func (*ListRootsResult) isResult() {}

type RootsListChangedParams struct {
	Meta `json:"_meta,omitempty"`
}

func (x *RootsListChangedParams) isParams()              {}
func (x *RootsListChangedParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *RootsListChangedParams) SetProgressToken(t any) { setProgressToken(x, t) }

//
// Sampling.
//

// A SamplingMessage is a message issued to or received from an LLM API.
type SamplingMessage struct {
	Content Content `json:"content"`
	Role    Role    `json:"role"`
}

func (m *SamplingMessage) UnmarshalJSON(data []byte) error {
	type msg SamplingMessage // avoid recursion
	var wire struct {
		msg
		Content *wireContent `json:"content"`
	}
	if err := internaljson.Unmarshal(data, &wire); err != nil {
		return err
	}
	var err error
	if wire.msg.Content, err = contentFromWire(wire.Content, map[string]bool{"text": true, "image": true, "audio": true}); err != nil {
		return err
	}
	*m = SamplingMessage(wire.msg)
	return nil
}

// A ModelHint suggests a model name; the client should treat it as a
// substring of a model name, and may map it to a different provider's model
// that fills a similar niche.
type ModelHint struct {
	Name string `json:"name,omitempty"`
}

// ModelPreferences are the server's advisory preferences for model selection
// during sampling. The client may ignore them.
type ModelPreferences struct {
	// CostPriority: how much to prioritize cost, 0 (unimportant) to 1.
	CostPriority float64 `json:"costPriority,omitempty"`
	// Hints are evaluated in order; the first match is taken.
	Hints []*ModelHint `json:"hints,omitempty"`
	// IntelligencePriority: how much to prioritize capabilities, 0 to 1.
	IntelligencePriority float64 `json:"intelligencePriority,omitempty"`
	// SpeedPriority: how much to prioritize sampling latency, 0 to 1.
	SpeedPriority float64 `json:"speedPriority,omitempty"`
}

type CreateMessageParams struct {
	Meta `json:"_meta,omitempty"`
	// IncludeContext requests context from one or more MCP servers to be
	// attached to the prompt. The client may ignore this request.
	IncludeContext string `json:"includeContext,omitempty"`
	// MaxTokens to sample; the client may sample fewer.
	MaxTokens int64              `json:"maxTokens"`
	Messages  []*SamplingMessage `json:"messages"`
	// Metadata is provider-specific passthrough.
	Metadata         any               `json:"metadata,omitempty"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
	StopSequences    []string          `json:"stopSequences,omitempty"`
	// SystemPrompt the server wants to use; the client may modify or omit it.
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	// Task, if set, requests task-augmented sampling.
	Task *TaskParams `json:"task,omitempty"`
}

func (x *CreateMessageParams) isParams()              {}
func (x *CreateMessageParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *CreateMessageParams) SetProgressToken(t any) { setProgressToken(x, t) }

// CreateMessageResult is the client's response to sampling/createMessage.
// The client should inform the user before returning the sampled message, to
// allow human-in-the-loop inspection.
type CreateMessageResult struct {
	Meta    `json:"_meta,omitempty"`
	Content Content `json:"content"`
	// Model that generated the message.
	Model string `json:"model"`
	Role  Role   `json:"role"`
	// StopReason: "endTurn", "stopSequence" or "maxTokens", if known.
	StopReason string `json:"stopReason,omitempty"`
}

func (*CreateMessageResult) isResult() {}

func (r *CreateMessageResult) UnmarshalJSON(data []byte) error {
	type result CreateMessageResult // avoid recursion
	var wire struct {
		result
		Content *wireContent `json:"content"`
	}
	if err := internaljson.Unmarshal(data, &wire); err != nil {
		return err
	}
	var err error
	if wire.result.Content, err = contentFromWire(wire.Content, map[string]bool{"text": true, "image": true, "audio": true}); err != nil {
		return err
	}
	*r = CreateMessageResult(wire.result)
	return nil
}

//
// Elicitation.
//

// ElicitParams is a request from the server to elicit additional information
// from the user via the client.
type ElicitParams struct {
	Meta `json:"_meta,omitempty"`
	// Message to present to the user.
	Message string `json:"message"`
	// RequestedSchema is a JSON schema object defining the requested shape.
	// Only top-level properties are allowed, without nesting.
	RequestedSchema any `json:"requestedSchema,omitempty"`
	// Task, if set, requests task-augmented elicitation.
	Task *TaskParams `json:"task,omitempty"`
}

func (x *ElicitParams) isParams()              {}
func (x *ElicitParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ElicitParams) SetProgressToken(t any) { setProgressToken(x, t) }

// ElicitResult is the client's response to elicitation/create.
type ElicitResult struct {
	Meta `json:"_meta,omitempty"`
	// Action taken by the user: "accept", "decline", or "cancel".
	Action string `json:"action"`
	// Content holds the submitted form data, present only on "accept".
	Content map[string]any `json:"content,omitempty"`
}

func (*ElicitResult) isResult() {}

//
// Completion.
//

type CompleteParamsArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CompleteContext is additional, optional context for completions.
type CompleteContext struct {
	// Arguments are previously-resolved variables in a URI template or prompt.
	Arguments map[string]string `json:"arguments,omitempty"`
}

// CompleteReference is a completion reference: the Type field determines
// which other fields are relevant.
type CompleteReference struct {
	Type string `json:"type"`
	// Name is relevant when Type is "ref/prompt".
	Name string `json:"name,omitempty"`
	// URI is relevant when Type is "ref/resource".
	URI string `json:"uri,omitempty"`
}

func (r *CompleteReference) UnmarshalJSON(data []byte) error {
	type wireRef CompleteReference // naive unmarshaling
	var r2 wireRef
	if err := internaljson.Unmarshal(data, &r2); err != nil {
		return err
	}
	switch r2.Type {
	case "ref/prompt":
		if r2.URI != "" {
			return fmt.Errorf("reference of type %q must not have a URI set", r2.Type)
		}
	case "ref/resource":
		if r2.Name != "" {
			return fmt.Errorf("reference of type %q must not have a Name set", r2.Type)
		}
	default:
		return fmt.Errorf("unrecognized reference type %q", r2.Type)
	}
	*r = CompleteReference(r2)
	return nil
}

func (r *CompleteReference) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case "ref/prompt":
		if r.URI != "" {
			return nil, fmt.Errorf("reference of type %q must not have a URI set", r.Type)
		}
	case "ref/resource":
		if r.Name != "" {
			return nil, fmt.Errorf("reference of type %q must not have a Name set", r.Type)
		}
	default:
		return nil, fmt.Errorf("unrecognized reference type %q", r.Type)
	}
	type wireRef CompleteReference
	return json.Marshal(wireRef(*r))
}

type CompleteParams struct {
	Meta     `json:"_meta,omitempty"`
	Argument CompleteParamsArgument `json:"argument"`
	Context  *CompleteContext       `json:"context,omitempty"`
	Ref      *CompleteReference     `json:"ref"`
}

func (*CompleteParams) isParams() {}

type CompletionResultDetails struct {
	HasMore bool     `json:"hasMore,omitempty"`
	Total   int      `json:"total,omitempty"`
	Values  []string `json:"values"`
}

type CompleteResult struct {
	Meta       `json:"_meta,omitempty"`
	Completion CompletionResultDetails `json:"completion"`
}

func (*CompleteResult) isResult() {}

//
// Logging.
//

// A LoggingLevel is the severity of a log message. The levels map to syslog
// severities (RFC 5424).
type LoggingLevel string

var loggingLevelOrder = map[LoggingLevel]int{
	"debug":     0,
	"info":      1,
	"notice":    2,
	"warning":   3,
	"error":     4,
	"critical":  5,
	"alert":     6,
	"emergency": 7,
}

// compareLevels returns a negative number if l1 is less severe than l2, 0 if
// equal, positive if more severe.
func compareLevels(l1, l2 LoggingLevel) int {
	return loggingLevelOrder[l1] - loggingLevelOrder[l2]
}

type LoggingMessageParams struct {
	Meta `json:"_meta,omitempty"`
	// Data to be logged: any JSON-serializable value.
	Data any `json:"data"`
	// Level is the severity of this log message.
	Level LoggingLevel `json:"level"`
	// Logger is an optional name of the logger issuing this message.
	Logger string `json:"logger,omitempty"`
}

func (x *LoggingMessageParams) isParams()              {}
func (x *LoggingMessageParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *LoggingMessageParams) SetProgressToken(t any) { setProgressToken(x, t) }

type SetLoggingLevelParams struct {
	Meta `json:"_meta,omitempty"`
	// Level of logging the client wants to receive from the server. All
	// messages at this level and higher are sent as notifications/message.
	Level LoggingLevel `json:"level"`
}

func (x *SetLoggingLevelParams) isParams()              {}
func (x *SetLoggingLevelParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *SetLoggingLevelParams) SetProgressToken(t any) { setProgressToken(x, t) }

//
// Method names.
//

const (
	methodCallTool                  = "tools/call"
	methodCancelTask                = "tasks/cancel"
	methodComplete                  = "completion/complete"
	methodCreateMessage             = "sampling/createMessage"
	methodElicit                    = "elicitation/create"
	methodGetPrompt                 = "prompts/get"
	methodGetTask                   = "tasks/get"
	methodInitialize                = "initialize"
	methodListPrompts               = "prompts/list"
	methodListResourceTemplates     = "resources/templates/list"
	methodListResources             = "resources/list"
	methodListRoots                 = "roots/list"
	methodListTasks                 = "tasks/list"
	methodListTools                 = "tools/list"
	methodPing                      = "ping"
	methodReadResource              = "resources/read"
	methodSetLevel                  = "logging/setLevel"
	methodSubscribe                 = "resources/subscribe"
	methodTaskResult                = "tasks/result"
	methodUnsubscribe               = "resources/unsubscribe"
	notificationCancelled           = "notifications/cancelled"
	notificationInitialized         = "notifications/initialized"
	notificationLoggingMessage      = "notifications/message"
	notificationProgress            = "notifications/progress"
	notificationPromptListChanged   = "notifications/prompts/list_changed"
	notificationResourceListChanged = "notifications/resources/list_changed"
	notificationResourceUpdated     = "notifications/resources/updated"
	notificationRootsListChanged    = "notifications/roots/list_changed"
	notificationTaskStatus          = "notifications/tasks/status"
	notificationToolListChanged     = "notifications/tools/list_changed"
)
