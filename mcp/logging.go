// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"log/slog"
)

// slogLevels maps slog levels to protocol logging levels. Levels between
// bands round down.
func slogToLoggingLevel(l slog.Level) LoggingLevel {
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < slog.LevelWarn:
		return "info"
	case l < slog.LevelError:
		return "warning"
	default:
		return "error"
	}
}

// A LoggingHandler is a [slog.Handler] that forwards records to a session's
// client as logging message notifications. The client's configured logging
// level applies as usual.
type LoggingHandler struct {
	ss     *ServerSession
	opts   LoggingHandlerOptions
	attrs  []slog.Attr
	groups []string
}

// LoggingHandlerOptions configures a [LoggingHandler].
type LoggingHandlerOptions struct {
	// LoggerName is reported as the logger field of each notification.
	LoggerName string
	// MinLevel drops records below the given slog level before they reach
	// the session.
	MinLevel slog.Leveler
}

// NewLoggingHandler returns a [LoggingHandler] that logs to ss.
func NewLoggingHandler(ss *ServerSession, opts *LoggingHandlerOptions) *LoggingHandler {
	h := &LoggingHandler{ss: ss}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *LoggingHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.MinLevel != nil && level < h.opts.MinLevel.Level() {
		return false
	}
	return true
}

func (h *LoggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(h2.attrs[:len(h2.attrs):len(h2.attrs)], attrs...)
	return &h2
}

func (h *LoggingHandler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.groups = append(h2.groups[:len(h2.groups):len(h2.groups)], name)
	return &h2
}

func (h *LoggingHandler) Handle(ctx context.Context, r slog.Record) error {
	data := map[string]any{"msg": r.Message}
	dst := data
	for _, g := range h.groups {
		m := map[string]any{}
		dst[g] = m
		dst = m
	}
	for _, a := range h.attrs {
		addAttr(dst, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(dst, a)
		return true
	})
	return h.ss.Log(ctx, &LoggingMessageParams{
		Logger: h.opts.LoggerName,
		Level:  slogToLoggingLevel(r.Level),
		Data:   data,
	})
}

func addAttr(dst map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		attrs := v.Group()
		if len(attrs) == 0 {
			return
		}
		if a.Key == "" {
			for _, ga := range attrs {
				addAttr(dst, ga)
			}
			return
		}
		m := map[string]any{}
		for _, ga := range attrs {
			addAttr(m, ga)
		}
		dst[a.Key] = m
		return
	}
	if a.Key == "" {
		return
	}
	dst[a.Key] = v.Any()
}
