// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package json provides internal JSON utilities.
//
// Unmarshaling of wire data goes through this package so that the decoder can
// be swapped in one place. It currently uses github.com/segmentio/encoding,
// which is wire-compatible with encoding/json but considerably faster on the
// small, flat objects that dominate JSON-RPC traffic.
package json

import (
	"github.com/segmentio/encoding/json"
)

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Marshal encodes v.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
