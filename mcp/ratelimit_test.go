// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mcpwire/mcpwire/internal/jsonrpc2"
	"golang.org/x/time/rate"
)

func TestRateLimitMiddleware(t *testing.T) {
	ctx := context.Background()
	// Budget for the handshake (initialize, initialized) plus one call.
	limiter := rate.NewLimiter(rate.Every(time.Hour), 3)
	cs, _, cleanup := basicConnection(t, func(s *Server) {
		AddTool(s, greetTool(), sayHi)
		s.AddReceivingMiddleware(RateLimitMiddleware(limiter))
	})
	defer cleanup()

	if _, err := cs.ListTools(ctx, nil); err != nil {
		t.Fatal(err)
	}
	_, err := cs.ListTools(ctx, nil)
	if got := errorCode(err); got != jsonrpc2.CodeServerOverloaded {
		t.Errorf("got %v (code %d), want server overloaded", err, got)
	}
}

func TestPerMethodRateLimitMiddleware(t *testing.T) {
	ctx := context.Background()
	limits := map[string]*rate.Limiter{
		"tools/list": rate.NewLimiter(rate.Every(time.Hour), 1),
	}
	cs, _, cleanup := basicConnection(t, func(s *Server) {
		AddTool(s, greetTool(), sayHi)
		s.AddReceivingMiddleware(PerMethodRateLimitMiddleware(limits))
	})
	defer cleanup()

	if _, err := cs.ListTools(ctx, nil); err != nil {
		t.Fatal(err)
	}
	// The tools/list budget is spent; other methods are unaffected.
	_, err := cs.ListTools(ctx, nil)
	if got := errorCode(err); got != jsonrpc2.CodeServerOverloaded {
		t.Errorf("got %v (code %d), want server overloaded", err, got)
	}
	if err := cs.Ping(ctx, nil); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
