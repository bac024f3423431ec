/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpflow

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/badu/httpflow/coordinator"
	"github.com/badu/httpflow/wire"
)

// serverConn is the server side of one accepted connection: it owns the
// net.Conn, the TLS state if any, and the per-connection error tracked by
// checkConnErrorWriter, same shape as the teacher's conn.
type serverConn struct {
	server *Server
	rwc    net.Conn

	tlsState *tls.ConnectionState

	mu    sync.Mutex
	wErr  error
	wErrC context.CancelFunc

	curState atomic.Value // of ConnState
}

func (s *Server) newServerConn(rwc net.Conn) *serverConn {
	return &serverConn{server: s, rwc: rwc}
}

// checkConnErrorWriter writes to c.rwc and records the first write error,
// cancelling the connection's context so a stuck ResponseDriver unblocks.
type checkConnErrorWriter struct {
	c *serverConn
}

func (w checkConnErrorWriter) Write(p []byte) (int, error) {
	n, err := w.c.rwc.Write(p)
	if err != nil {
		w.c.mu.Lock()
		if w.c.wErr == nil {
			w.c.wErr = err
			if w.c.wErrC != nil {
				w.c.wErrC()
			}
		}
		w.c.mu.Unlock()
	}
	return n, err
}

// serve drives one accepted connection until the peer disconnects, a
// protocol/IO error ends it, or the server shuts down. It replaces the
// teacher's synchronous conn.serve request/response loop with a
// coordinator.Coordinator built over a wire.Codec.
func (c *serverConn) serve(ctx context.Context) {
	srv := c.server
	defer func() {
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			srv.Logger.Error("panic serving connection",
				zap.Stringer("remote", c.rwc.RemoteAddr()),
				zap.Any("panic", err),
				zap.ByteString("stack", buf))
		}
		c.rwc.Close()
		srv.setState(c, StateClosed)
		srv.trackConn(c, false)
	}()

	if tlsConn, ok := c.rwc.(*tls.Conn); ok {
		if d := srv.ReadTimeout; d != 0 {
			c.rwc.SetReadDeadline(time.Now().Add(d))
		}
		if d := srv.WriteTimeout; d != 0 {
			c.rwc.SetWriteDeadline(time.Now().Add(d))
		}
		if err := tlsConn.Handshake(); err != nil {
			srv.Logger.Warn("TLS handshake failed", zap.Stringer("remote", c.rwc.RemoteAddr()), zap.Error(err))
			return
		}
		state := tlsConn.ConnectionState()
		c.tlsState = &state
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.wErrC = cancel
	c.mu.Unlock()

	srv.setState(c, StateActive)

	if d := srv.readHeaderTimeout(); d != 0 {
		c.rwc.SetReadDeadline(time.Now().Add(d))
	}
	if d := srv.WriteTimeout; d != 0 {
		c.rwc.SetWriteDeadline(time.Now().Add(d))
	}

	bufReader := bufio.NewReader(c.rwc)
	bufWriter := bufio.NewWriter(checkConnErrorWriter{c})
	codec := wire.NewCodec(bufReader, bufWriter)

	coord := coordinator.New(codec, srv.handlers, srv.bodyChannelCapacity, srv.Logger)
	coord.RemoteAddr = c.rwc.RemoteAddr().String()
	coord.TLS = c.tlsState

	if err := coord.Run(ctx); err != nil {
		srv.Logger.Debug("connection ended", zap.Stringer("remote", c.rwc.RemoteAddr()), zap.Error(err))
	}
}
