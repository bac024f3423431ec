/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpflow

import (
	"time"

	"go.uber.org/zap"

	"github.com/badu/httpflow/coordinator"
)

// Option configures a Server at construction time, generalizing the
// teacher's Server struct fields to an options constructor so Coordinator
// can also be embedded and exercised without a listening socket.
type Option func(*Server)

// WithAddr sets the TCP address to listen on (":8080", all interfaces, if
// empty).
func WithAddr(addr string) Option {
	return func(s *Server) { s.Addr = addr }
}

// WithHandler installs the buffered Handler style from spec.md §4.3.
func WithHandler(h coordinator.Handler) Option {
	return func(s *Server) { s.handlers.Buffered = h }
}

// WithStreamingHandler installs the writer-driven StreamingHandler style.
func WithStreamingHandler(h coordinator.StreamingHandler) Option {
	return func(s *Server) { s.handlers.Streaming = h }
}

// WithLogger installs a *zap.Logger; the zero value defaults to
// zap.NewNop(), same as the teacher's nil-ErrorLog-means-log.Printf default,
// generalized to structured logging.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.Logger = l }
}

// WithReadTimeout sets the read deadline for the TLS handshake and, when no
// ReadHeaderTimeout is set, the read deadline applied once when a connection
// is accepted, covering every request read on that connection.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.ReadTimeout = d }
}

// WithReadHeaderTimeout sets the read deadline applied once when a
// connection is accepted; it covers every read on the connection, request
// bodies and later keep-alive requests included.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) { s.ReadHeaderTimeout = d }
}

// WithWriteTimeout sets the write deadline applied once when a connection
// is accepted (and for the TLS handshake); it covers every response written
// on that connection.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.WriteTimeout = d }
}

// WithIdleTimeout records IdleTimeout on the Server. Connections do not
// apply it: no separate deadline bounds the wait for the next keep-alive
// request.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.IdleTimeout = d }
}

// WithBodyChannelCapacity overrides the request body channel's buffered
// capacity (spec.md §4.2); zero keeps the coordinator package default.
func WithBodyChannelCapacity(n int) Option {
	return func(s *Server) { s.bodyChannelCapacity = n }
}
