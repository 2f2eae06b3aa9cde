// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc2 implements the wire representation of JSON-RPC 2.0
// messages: requests, notifications, responses and errors, together with
// the ID tagged union that correlates them.
//
// Batch framing is deliberately not implemented; the protocol layered on top
// of this package does not use it.
package jsonrpc2

import (
	"encoding/json"
	"fmt"
	"math"

	internaljson "github.com/mcpwire/mcpwire/internal/json"
)

// An ID is a JSON-RPC request identifier: a string, an integer, or absent.
// The zero value is the absent ID, used for notifications.
//
// Two IDs are comparable with ==; equality is by tag and value, so the
// string "1" and the number 1 are distinct.
type ID struct {
	value any // nil, string, or int64
}

// StringID returns an ID with the given string value.
func StringID(s string) ID { return ID{value: s} }

// Int64ID returns an ID with the given integer value.
func Int64ID(i int64) ID { return ID{value: i} }

// IsValid reports whether the ID is set. Responses to unparseable requests
// carry an invalid ID, which marshals as JSON null.
func (id ID) IsValid() bool { return id.value != nil }

// Raw returns the underlying value of the ID: a string, an int64, or nil.
func (id ID) Raw() any { return id.value }

func (id ID) String() string {
	switch v := id.value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case int64:
		return fmt.Sprintf("#%d", v)
	default:
		return "<nil>"
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	*id = ID{}
	if string(data) == "null" {
		return nil
	}
	var v any
	if err := internaljson.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		id.value = v
	case float64:
		if v != math.Trunc(v) {
			return fmt.Errorf("%w: request ID %v is not an integer", ErrInvalidRequest, v)
		}
		id.value = int64(v)
	default:
		return fmt.Errorf("%w: invalid request ID type %T", ErrInvalidRequest, v)
	}
	return nil
}

// A Message is either a [Request] or a [Response].
type Message interface {
	marshal(*wireCombined)
}

// A Request is a message sent to a peer to invoke a method, either a call
// (with a valid ID, expecting a Response) or a notification (no ID).
type Request struct {
	// ID of this request, used to correlate a response. Unset for notifications.
	ID ID
	// Method being invoked.
	Method string
	// Params for the method, a JSON object, array, or nil.
	Params json.RawMessage
	// Extra is an optional bag of out-of-band information attached by
	// transports (for example HTTP request data). It is never marshaled.
	Extra map[string]any
}

// IsCall reports whether the request expects a response.
func (r *Request) IsCall() bool { return r.ID.IsValid() }

func (r *Request) marshal(w *wireCombined) {
	w.ID = r.ID
	w.hasID = r.ID.IsValid()
	w.Method = r.Method
	w.Params = r.Params
}

// A Response is a reply to a call, carrying either a result or an error.
type Response struct {
	// ID of the request this responds to. Invalid only when responding to an
	// unparseable request, in which case it marshals as null.
	ID ID
	// Result of the call, if it succeeded.
	Result json.RawMessage
	// Error from the call, if it failed. Marshaled as a *WireError.
	Error error
}

func (r *Response) marshal(w *wireCombined) {
	w.ID = r.ID
	w.hasID = true // responses always carry an id, possibly null
	w.Result = r.Result
	w.Error = toWireError(r.Error)
}

// A WireError is the JSON-RPC error object, and the error type this package
// reports for failures it relays from the wire.
type WireError struct {
	// Code is an error code indicating the kind of failure.
	Code int64 `json:"code"`
	// Message is a short description of the error.
	Message string `json:"message"`
	// Data is optional structured detail.
	Data json.RawMessage `json:"data,omitempty"`
}

func (e *WireError) Error() string { return e.Message }

// Is reports error identity by code, so the sentinel errors below match
// wire errors carrying the same code regardless of message.
func (e *WireError) Is(other error) bool {
	w, ok := other.(*WireError)
	if !ok {
		return false
	}
	return e.Code == w.Code
}

// NewError returns an error that will encode on the wire correctly.
func NewError(code int64, message string) *WireError {
	return &WireError{Code: code, Message: message}
}

func toWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	if w, ok := err.(*WireError); ok {
		return w
	}
	return &WireError{Code: CodeInternal, Message: err.Error()}
}

// Error codes. The -32700..-32600 range is reserved by JSON-RPC 2.0; codes
// at -32800 and below are protocol extensions for abandonment.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternal         = -32603
	CodeServerOverloaded = -32000
	CodeUnknown          = -32001
	CodeResourceNotFound = -32002
	CodeRequestCancelled = -32800
	CodeRequestTimeout   = -32801
)

var (
	// ErrParse is used when invalid JSON was received by the peer.
	ErrParse = NewError(CodeParseError, "JSON RPC parse error")
	// ErrInvalidRequest is used when the JSON sent is not a valid Request object.
	ErrInvalidRequest = NewError(CodeInvalidRequest, "JSON RPC invalid request")
	// ErrMethodNotFound is returned when the method does not exist or is not
	// available in the current session phase.
	ErrMethodNotFound = NewError(CodeMethodNotFound, "JSON RPC method not found")
	// ErrInvalidParams is returned when the method parameters are invalid.
	ErrInvalidParams = NewError(CodeInvalidParams, "JSON RPC invalid params")
	// ErrInternal indicates a failure processing a valid request.
	ErrInternal = NewError(CodeInternal, "JSON RPC internal error")
	// ErrServerOverloaded is returned when a message was refused due to load.
	ErrServerOverloaded = NewError(CodeServerOverloaded, "JSON RPC overloaded")
	// ErrUnknown is used for all errors with no better code.
	ErrUnknown = NewError(CodeUnknown, "JSON RPC unknown error")
	// ErrRequestCancelled indicates the caller abandoned the request.
	ErrRequestCancelled = NewError(CodeRequestCancelled, "JSON RPC request cancelled")
	// ErrRequestTimeout indicates the request's deadline elapsed.
	ErrRequestTimeout = NewError(CodeRequestTimeout, "JSON RPC request timeout")
)

// wireCombined is the union of request and response wire shapes.
type wireCombined struct {
	VersionTag string          `json:"jsonrpc"`
	ID         ID              `json:"id,omitzero"`
	Method     string          `json:"method,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *WireError      `json:"error,omitempty"`

	hasID bool `json:"-"`
}

const wireVersion = "2.0"

func (w *wireCombined) MarshalJSON() ([]byte, error) {
	// Hand-rolled so that "id":null appears on responses but not on
	// notifications.
	m := map[string]any{"jsonrpc": wireVersion}
	if w.hasID {
		m["id"] = w.ID
	}
	if w.Method != "" {
		m["method"] = w.Method
	}
	if w.Params != nil {
		m["params"] = w.Params
	}
	if w.Result != nil {
		m["result"] = w.Result
	}
	if w.Error != nil {
		m["error"] = w.Error
	}
	return json.Marshal(m)
}

// EncodeMessage marshals a message to its wire form.
func EncodeMessage(msg Message) ([]byte, error) {
	w := &wireCombined{VersionTag: wireVersion}
	msg.marshal(w)
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshaling jsonrpc message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a single message from its wire form.
func DecodeMessage(data []byte) (Message, error) {
	var w struct {
		VersionTag string          `json:"jsonrpc"`
		ID         json.RawMessage `json:"id"`
		Method     string          `json:"method"`
		Params     json.RawMessage `json:"params"`
		Result     json.RawMessage `json:"result"`
		Error      *WireError      `json:"error"`
	}
	if err := StrictUnmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if w.VersionTag != wireVersion {
		return nil, fmt.Errorf("%w: invalid message version tag %q", ErrInvalidRequest, w.VersionTag)
	}
	var id ID
	if len(w.ID) > 0 {
		if err := id.UnmarshalJSON(w.ID); err != nil {
			return nil, err
		}
	}
	if w.Method != "" {
		// Requests must not carry result or error members.
		if w.Result != nil || w.Error != nil {
			return nil, fmt.Errorf("%w: request %q carries response members", ErrInvalidRequest, w.Method)
		}
		return &Request{ID: id, Method: w.Method, Params: w.Params}, nil
	}
	if w.Result == nil && w.Error == nil {
		return nil, fmt.Errorf("%w: message has no method, result or error", ErrInvalidRequest)
	}
	resp := &Response{ID: id, Result: w.Result}
	if w.Error != nil {
		resp.Error = w.Error
	}
	return resp, nil
}
