// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"sync"

	"github.com/mcpwire/mcpwire/internal/jsonrpc2"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware returns receiving middleware that rejects requests
// exceeding the limiter, with a server-overloaded error. The limiter is
// shared across all sessions of the wrapped client or server.
func RateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(next MethodHandler) MethodHandler {
		return func(ctx context.Context, method string, req Request) (Result, error) {
			if !limiter.Allow() {
				return nil, jsonrpc2.NewError(jsonrpc2.CodeServerOverloaded, "rate limit exceeded")
			}
			return next(ctx, method, req)
		}
	}
}

// PerMethodRateLimitMiddleware returns receiving middleware enforcing a
// separate limit per method. Methods without an entry in limits are not
// limited.
func PerMethodRateLimitMiddleware(limits map[string]*rate.Limiter) Middleware {
	var mu sync.Mutex
	return func(next MethodHandler) MethodHandler {
		return func(ctx context.Context, method string, req Request) (Result, error) {
			mu.Lock()
			limiter := limits[method]
			mu.Unlock()
			if limiter != nil && !limiter.Allow() {
				return nil, jsonrpc2.NewError(jsonrpc2.CodeServerOverloaded, "rate limit exceeded")
			}
			return next(ctx, method, req)
		}
	}
}
