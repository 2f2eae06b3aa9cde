// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/jsonschema-go/jsonschema"
	internaljson "github.com/mcpwire/mcpwire/internal/json"
	"github.com/mcpwire/mcpwire/internal/jsonrpc2"
)

// A ToolHandler handles a call to tools/call.
//
// The arguments in the request have not been validated or unmarshaled.
type ToolHandler func(context.Context, *CallToolRequest) (*CallToolResult, error)

// A ToolHandlerFor handles a call to tools/call with typed arguments.
//
// Request arguments are unmarshaled into In, and validated against the
// tool's input schema, before the handler is invoked.
//
// If the handler returns a non-nil error, it is treated as a tool execution
// failure: the call result has IsError set, with the error text as content,
// so that the model can observe the failure. Context cancellation is the
// exception, and is reported as a protocol error.
type ToolHandlerFor[In, Out any] func(ctx context.Context, req *CallToolRequest, input In) (result *CallToolResult, output Out, err error)

// A serverTool is a tool bound to its handler and resolved schemas.
type serverTool struct {
	tool           *Tool
	handler        ToolHandler
	inputResolved  *jsonschema.Resolved
	outputResolved *jsonschema.Resolved
}

var toolNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

// AddTool adds a tool and typed handler to the server.
//
// If the tool's input schema is nil, it is inferred from In. If the output
// schema is nil and Out is not the empty interface, it is inferred from Out.
// AddTool panics if the tool's name or schemas are invalid.
func AddTool[In, Out any](s *Server, t *Tool, h ToolHandlerFor[In, Out]) {
	tt, err := newServerToolFor(t, h)
	if err != nil {
		panic(fmt.Sprintf("AddTool %q: %v", t.Name, err))
	}
	s.addServerTool(tt)
}

// AddTool adds a tool and handler to the server. The handler receives raw
// arguments: unlike the package-level [AddTool], no unmarshaling or schema
// validation is applied beyond what the handler itself performs.
//
// AddTool panics if the tool's name is invalid.
func (s *Server) AddTool(t *Tool, h ToolHandler) {
	if !toolNameRegexp.MatchString(t.Name) {
		panic(fmt.Sprintf("AddTool: invalid tool name %q", t.Name))
	}
	if t.InputSchema == nil {
		// tools/list requires an input schema.
		t = shallowClone(t)
		t.InputSchema = &jsonschema.Schema{Type: "object"}
	}
	s.addServerTool(&serverTool{tool: t, handler: h})
}

func newServerToolFor[In, Out any](t *Tool, h ToolHandlerFor[In, Out]) (*serverTool, error) {
	if !toolNameRegexp.MatchString(t.Name) {
		return nil, fmt.Errorf("invalid tool name %q", t.Name)
	}
	t = shallowClone(t)

	if t.InputSchema == nil {
		schema, err := jsonschema.For[In](nil)
		if err != nil {
			return nil, fmt.Errorf("inferring input schema: %w", err)
		}
		t.InputSchema = schema
	}
	inputResolved, err := resolveSchema(t.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("input schema: %w", err)
	}

	// Out == any means the tool has unstructured output only.
	var out Out
	var outputResolved *jsonschema.Resolved
	if _, outIsAny := any(&out).(*any); !outIsAny && t.OutputSchema == nil {
		schema, err := jsonschema.For[Out](nil)
		if err != nil {
			return nil, fmt.Errorf("inferring output schema: %w", err)
		}
		t.OutputSchema = schema
	}
	if t.OutputSchema != nil {
		if outputResolved, err = resolveSchema(t.OutputSchema); err != nil {
			return nil, fmt.Errorf("output schema: %w", err)
		}
	}

	handler := func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		var input In
		if len(req.Params.Arguments) > 0 {
			if err := internaljson.Unmarshal(req.Params.Arguments, &input); err != nil {
				return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams,
					fmt.Sprintf("unmarshaling arguments: %v", err))
			}
		}
		if inputResolved != nil {
			if err := inputResolved.ApplyDefaults(&input); err != nil {
				return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, err.Error())
			}
			if err := validateValue(inputResolved, input); err != nil {
				return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams,
					fmt.Sprintf("validating arguments: %v", err))
			}
		}

		res, output, err := h(ctx, req, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return &CallToolResult{
				IsError: true,
				Content: []Content{&TextContent{Text: err.Error()}},
			}, nil
		}
		if res == nil {
			res = &CallToolResult{}
		}
		if res.StructuredContent == nil && outputResolved != nil {
			res.StructuredContent = output
		}
		if outputResolved != nil && res.StructuredContent != nil {
			if err := validateValue(outputResolved, res.StructuredContent); err != nil {
				return nil, fmt.Errorf("validating structured content: %w", err)
			}
		}
		if res.Content == nil {
			if res.StructuredContent != nil {
				data, err := internaljson.Marshal(res.StructuredContent)
				if err != nil {
					return nil, err
				}
				res.Content = []Content{&TextContent{Text: string(data)}}
			} else {
				res.Content = []Content{}
			}
		}
		return res, nil
	}

	return &serverTool{
		tool:           t,
		handler:        handler,
		inputResolved:  inputResolved,
		outputResolved: outputResolved,
	}, nil
}

// resolveSchema resolves a schema given either as a *jsonschema.Schema or as
// any value marshaling to a valid schema object.
func resolveSchema(v any) (*jsonschema.Resolved, error) {
	schema, ok := v.(*jsonschema.Schema)
	if !ok {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		schema = new(jsonschema.Schema)
		if err := json.Unmarshal(data, schema); err != nil {
			return nil, err
		}
	}
	return schema.Resolve(nil)
}

// validateValue validates a Go value against a resolved schema by round-
// tripping it through JSON, since schema validation is defined on JSON
// values.
func validateValue(resolved *jsonschema.Resolved, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var jsonValue any
	if err := json.Unmarshal(data, &jsonValue); err != nil {
		return err
	}
	return resolved.Validate(jsonValue)
}
