// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc2

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// StrictUnmarshal unmarshals data into v, enforcing the case-sensitive field
// matching that JSON-RPC 2.0 requires but encoding/json does not: keys that
// differ from a struct tag only by case are rejected rather than silently
// matched, as are case-variant duplicate keys and unknown fields.
//
// Without this, a peer could smuggle a value past validation by sending
// "Method" where "method" is expected.
func StrictUnmarshal(data []byte, v any) error {
	if err := checkDuplicateKeys(data); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	if err := checkFieldCase(data, v); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	return nil
}

// checkDuplicateKeys rejects objects containing keys that differ only by
// case, recursing through nested objects and arrays.
func checkDuplicateKeys(data json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		seen := make(map[string]string, len(obj)) // lowercase -> original
		for key := range obj {
			lower := strings.ToLower(key)
			if orig, ok := seen[lower]; ok && orig != key {
				return fmt.Errorf("duplicate key with different case: %q and %q", orig, key)
			}
			seen[lower] = key
		}
		for key, val := range obj {
			if err := checkDuplicateKeys(val); err != nil {
				return fmt.Errorf("in field %q: %w", key, err)
			}
		}
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		for i, elem := range arr {
			if err := checkDuplicateKeys(elem); err != nil {
				return fmt.Errorf("in array index %d: %w", i, err)
			}
		}
	}
	// Primitive values cannot contain duplicates.
	return nil
}

// checkFieldCase rejects keys that case-insensitively match a struct tag of v
// without matching it exactly. Unknown fields with no case-variant match are
// left for DisallowUnknownFields.
func checkFieldCase(data []byte, v any) error {
	expected := taggedFields(v)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil // not an object; nothing to validate
	}
	for key := range obj {
		if expected[key] {
			continue
		}
		lower := strings.ToLower(key)
		for want := range expected {
			if strings.ToLower(want) == lower {
				return fmt.Errorf("field name case mismatch: got %q, expected %q", key, want)
			}
		}
	}
	return nil
}

// taggedFields returns the set of JSON field names declared by v's struct tags.
func taggedFields(v any) map[string]bool {
	fields := make(map[string]bool)
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fields
	}
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name != "" {
			fields[name] = true
		}
	}
	return fields
}
