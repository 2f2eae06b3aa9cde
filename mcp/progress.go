// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import "context"

// A ProgressFunc receives progress notifications for a single request.
type ProgressFunc func(*ProgressNotificationParams)

type progressSinkKey struct{}

// WithProgressHandler returns a context that causes requests issued with it
// to receive per-request progress notifications through f.
//
// A progress token is assigned to the request's params if it does not
// already carry one. The handler is deregistered when the request completes;
// notifications for the token arriving after completion are delivered to the
// session-wide progress handler, if any.
func WithProgressHandler(ctx context.Context, f ProgressFunc) context.Context {
	return context.WithValue(ctx, progressSinkKey{}, f)
}

func progressSinkFrom(ctx context.Context) ProgressFunc {
	f, _ := ctx.Value(progressSinkKey{}).(ProgressFunc)
	return f
}

// NotifyProgress sends a progress notification from the server to the client
// associated with this request. The request's params must carry a progress
// token; if they do not, the notification is dropped, as the client has no
// way to associate it.
func (r *ServerRequest[P]) NotifyProgress(ctx context.Context, params *ProgressNotificationParams) error {
	return notifyProgress(ctx, r.Session.core(), r.Params, params)
}

// NotifyProgress sends a progress notification from the client to the server
// associated with this request. See [ServerRequest.NotifyProgress].
func (r *ClientRequest[P]) NotifyProgress(ctx context.Context, params *ProgressNotificationParams) error {
	return notifyProgress(ctx, r.Session.core(), r.Params, params)
}

func notifyProgress(ctx context.Context, s *session, reqParams Params, params *ProgressNotificationParams) error {
	token := getProgressToken(reqParams)
	if token == nil {
		return nil
	}
	params.ProgressToken = token
	return s.notify(ctx, notificationProgress, params)
}
