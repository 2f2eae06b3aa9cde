// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc2

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		wire string
	}{
		{
			"call",
			&Request{ID: Int64ID(1), Method: "ping", Params: json.RawMessage(`{"x":1}`)},
			`{"id":1,"jsonrpc":"2.0","method":"ping","params":{"x":1}}`,
		},
		{
			"string ID",
			&Request{ID: StringID("a"), Method: "ping"},
			`{"id":"a","jsonrpc":"2.0","method":"ping"}`,
		},
		{
			"notification",
			&Request{Method: "notify"},
			`{"jsonrpc":"2.0","method":"notify"}`,
		},
		{
			"result",
			&Response{ID: Int64ID(2), Result: json.RawMessage(`{"ok":true}`)},
			`{"id":2,"jsonrpc":"2.0","result":{"ok":true}}`,
		},
		{
			"error",
			&Response{ID: Int64ID(3), Error: NewError(CodeMethodNotFound, "nope")},
			`{"error":{"code":-32601,"message":"nope"},"id":3,"jsonrpc":"2.0"}`,
		},
		{
			"error with null ID",
			&Response{Error: NewError(CodeParseError, "bad")},
			`{"error":{"code":-32700,"message":"bad"},"id":null,"jsonrpc":"2.0"}`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data, err := EncodeMessage(test.msg)
			if err != nil {
				t.Fatal(err)
			}
			// Marshaling goes through a map, so keys come out sorted.
			if got := string(data); got != test.wire {
				t.Errorf("encoded %s, want %s", got, test.wire)
			}
			got, err := DecodeMessage(data)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.msg, got, cmp.AllowUnexported(ID{})); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		wire string
		want error
	}{
		{"empty", ``, ErrParse},
		{"not JSON", `hello`, ErrParse},
		{"missing version", `{"method":"m"}`, ErrInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","method":"m"}`, ErrInvalidRequest},
		{"fractional ID", `{"jsonrpc":"2.0","id":1.5,"method":"m"}`, ErrInvalidRequest},
		{"boolean ID", `{"jsonrpc":"2.0","id":true,"method":"m"}`, ErrInvalidRequest},
		{"request with result", `{"jsonrpc":"2.0","id":1,"method":"m","result":{}}`, ErrInvalidRequest},
		{"neither request nor response", `{"jsonrpc":"2.0","id":1}`, ErrInvalidRequest},
		// Strict decoding: field names are case-sensitive, and extra
		// members are not part of JSON-RPC 2.0.
		{"case-variant member", `{"jsonrpc":"2.0","id":1,"Method":"m"}`, ErrParse},
		{"case-variant duplicate", `{"jsonrpc":"2.0","id":1,"method":"m","METHOD":"m2"}`, ErrParse},
		{"unknown member", `{"jsonrpc":"2.0","id":1,"method":"m","extra":1}`, ErrParse},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(test.wire))
			if !errors.Is(err, test.want) {
				t.Errorf("got %v, want %v", err, test.want)
			}
		})
	}
}

func TestStrictUnmarshal(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count,omitempty"`
	}
	tests := []struct {
		name    string
		data    string
		wantErr string // substring, or "" for success
	}{
		{"exact fields", `{"name":"a","count":3}`, ""},
		{"omitted field", `{"name":"a"}`, ""},
		{"case mismatch", `{"Name":"a"}`, "case mismatch"},
		{"case duplicate", `{"name":"a","NAME":"b"}`, "duplicate key"},
		{"unknown field", `{"name":"a","what":1}`, "unknown field"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var p payload
			err := StrictUnmarshal([]byte(test.data), &p)
			if test.wantErr == "" {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("got %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestIDString(t *testing.T) {
	if got := Int64ID(7).String(); got != "#7" {
		t.Errorf("got %q", got)
	}
	if got := StringID("x").String(); got != `"x"` {
		t.Errorf("got %q", got)
	}
	var id ID
	if id.IsValid() {
		t.Error("zero ID is valid")
	}
}

func TestWireErrorIs(t *testing.T) {
	err := NewError(CodeRequestCancelled, "client went away")
	if !errors.Is(err, ErrRequestCancelled) {
		t.Error("code identity not matched")
	}
	if errors.Is(err, ErrRequestTimeout) {
		t.Error("distinct codes matched")
	}
}
