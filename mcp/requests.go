// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

// Requests to the server.
type (
	CallToolRequest              = ServerRequest[*CallToolParamsRaw]
	CancelTaskRequest            = ServerRequest[*CancelTaskParams]
	CompleteRequest              = ServerRequest[*CompleteParams]
	GetPromptRequest             = ServerRequest[*GetPromptParams]
	GetTaskRequest               = ServerRequest[*GetTaskParams]
	GetTaskPayloadRequest        = ServerRequest[*GetTaskPayloadParams]
	InitializeRequest            = ServerRequest[*InitializeParams]
	InitializedRequest           = ServerRequest[*InitializedParams]
	ListPromptsRequest           = ServerRequest[*ListPromptsParams]
	ListResourcesRequest         = ServerRequest[*ListResourcesParams]
	ListResourceTemplatesRequest = ServerRequest[*ListResourceTemplatesParams]
	ListTasksRequest             = ServerRequest[*ListTasksParams]
	ListToolsRequest             = ServerRequest[*ListToolsParams]
	ProgressNotificationServerRequest = ServerRequest[*ProgressNotificationParams]
	ReadResourceRequest          = ServerRequest[*ReadResourceParams]
	RootsListChangedRequest      = ServerRequest[*RootsListChangedParams]
	SetLoggingLevelRequest       = ServerRequest[*SetLoggingLevelParams]
	SubscribeRequest             = ServerRequest[*SubscribeParams]
	UnsubscribeRequest           = ServerRequest[*UnsubscribeParams]
)

// Requests to the client.
type (
	CreateMessageRequest              = ClientRequest[*CreateMessageParams]
	ElicitRequest                     = ClientRequest[*ElicitParams]
	ListRootsRequest                  = ClientRequest[*ListRootsParams]
	LoggingMessageRequest             = ClientRequest[*LoggingMessageParams]
	ProgressNotificationClientRequest = ClientRequest[*ProgressNotificationParams]
	PromptListChangedRequest          = ClientRequest[*PromptListChangedParams]
	ResourceListChangedRequest        = ClientRequest[*ResourceListChangedParams]
	ResourceUpdatedNotificationRequest = ClientRequest[*ResourceUpdatedNotificationParams]
	TaskStatusNotificationRequest     = ClientRequest[*TaskStatusNotificationParams]
	ToolListChangedRequest            = ClientRequest[*ToolListChangedParams]
)
