// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc is the public surface of the JSON-RPC 2.0 implementation
// used by this module's protocol and transports.
package jsonrpc

import (
	"github.com/mcpwire/mcpwire/internal/jsonrpc2"
)

type (
	// ID is a JSON-RPC request ID: a string, an integer, or absent.
	ID = jsonrpc2.ID
	// Message is a JSON-RPC message: a [Request] or a [Response].
	Message = jsonrpc2.Message
	// Request is a JSON-RPC request or notification.
	Request = jsonrpc2.Request
	// Response is a JSON-RPC response.
	Response = jsonrpc2.Response
	// Error is the JSON-RPC error object, and the Go error relayed for wire
	// failures.
	Error = jsonrpc2.WireError
)

// StringID returns an ID with the given string value.
func StringID(s string) ID { return jsonrpc2.StringID(s) }

// Int64ID returns an ID with the given integer value.
func Int64ID(i int64) ID { return jsonrpc2.Int64ID(i) }

// EncodeMessage marshals a message to its wire form.
func EncodeMessage(msg Message) ([]byte, error) { return jsonrpc2.EncodeMessage(msg) }

// DecodeMessage parses a message from its wire form.
func DecodeMessage(data []byte) (Message, error) { return jsonrpc2.DecodeMessage(data) }

// Error codes used by this protocol.
const (
	CodeParseError       = jsonrpc2.CodeParseError
	CodeInvalidRequest   = jsonrpc2.CodeInvalidRequest
	CodeMethodNotFound   = jsonrpc2.CodeMethodNotFound
	CodeInvalidParams    = jsonrpc2.CodeInvalidParams
	CodeInternalError    = jsonrpc2.CodeInternal
	CodeRequestCancelled = jsonrpc2.CodeRequestCancelled
	CodeRequestTimeout   = jsonrpc2.CodeRequestTimeout

	// CodeResourceNotFound is returned by resources/read for unknown URIs.
	CodeResourceNotFound = jsonrpc2.CodeResourceNotFound
)
