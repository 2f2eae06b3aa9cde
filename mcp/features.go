// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/base64"
	"fmt"
	"slices"
)

// A featureSet is an ordered collection of named server features (tools,
// prompts, resources). Iteration order is ascending by name, which makes
// pagination cursors stable across list calls.
type featureSet[T any] struct {
	name     func(T) string
	features map[string]T
	names    []string // sorted
}

func newFeatureSet[T any](name func(T) string) *featureSet[T] {
	return &featureSet[T]{
		name:     name,
		features: make(map[string]T),
	}
}

// add adds or replaces features, keyed by name.
func (s *featureSet[T]) add(fs ...T) {
	for _, f := range fs {
		n := s.name(f)
		if _, ok := s.features[n]; !ok {
			i, _ := slices.BinarySearch(s.names, n)
			s.names = slices.Insert(s.names, i, n)
		}
		s.features[n] = f
	}
}

// remove removes the named features, reporting whether any was present.
func (s *featureSet[T]) remove(names ...string) bool {
	changed := false
	for _, n := range names {
		if _, ok := s.features[n]; ok {
			changed = true
			delete(s.features, n)
			i, _ := slices.BinarySearch(s.names, n)
			s.names = slices.Delete(s.names, i, i+1)
		}
	}
	return changed
}

func (s *featureSet[T]) get(name string) (T, bool) {
	f, ok := s.features[name]
	return f, ok
}

func (s *featureSet[T]) len() int { return len(s.names) }

// all returns all features in name order.
func (s *featureSet[T]) all() []T {
	fs := make([]T, 0, len(s.names))
	for _, n := range s.names {
		fs = append(fs, s.features[n])
	}
	return fs
}

// page returns up to pageSize features strictly after the named position.
// An empty position starts from the beginning. The second return value is
// the cursor position for the next page, or "" if this page is the last.
func (s *featureSet[T]) page(after string, pageSize int) ([]T, string) {
	i := 0
	if after != "" {
		j, found := slices.BinarySearch(s.names, after)
		i = j
		if found {
			i++
		}
	}
	end := min(i+pageSize, len(s.names))
	fs := make([]T, 0, end-i)
	for _, n := range s.names[i:end] {
		fs = append(fs, s.features[n])
	}
	if end < len(s.names) {
		return fs, s.names[end-1]
	}
	return fs, ""
}

// Cursors are opaque to clients: an encoded feature name.

func encodeCursor(pos string) string {
	if pos == "" {
		return ""
	}
	return base64.URLEncoding.EncodeToString([]byte(pos))
}

func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	pos, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", err)
	}
	return string(pos), nil
}
