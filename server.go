/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpflow

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/badu/httpflow/coordinator"
)

// ConnState represents the state of a client connection, mirroring the
// teacher's Server.ConnState hook.
type ConnState int

const (
	StateNew ConnState = iota
	StateActive
	StateIdle
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// shutdownPollInterval is how often Shutdown polls for quiescence.
const shutdownPollInterval = 500 * time.Millisecond

// ErrServerClosed is returned by Serve/ListenAndServe after a call to
// Shutdown or Close.
var ErrServerClosed = errors.New("httpflow: server closed")

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted connections,
// so dead TCP connections eventually go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (l tcpKeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(3 * time.Minute)
	return conn, nil
}

// Server holds the coordinator-backed HTTP/1.1 listener configuration, the
// same shape the teacher's Server struct fields already take (Addr,
// TLSConfig, the four timeouts, ConnState), generalized to an options
// constructor so Coordinator can also be built without a listening socket.
type Server struct {
	Addr      string
	TLSConfig *tls.Config

	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	ConnState func(net.Conn, ConnState)
	Logger    *zap.Logger

	handlers            coordinator.Handlers
	bodyChannelCapacity int

	disableKeepAlives int32
	inShutdown        int32

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	activeConn map[*serverConn]struct{}
	doneChan   chan struct{}
	onShutdown []func()
}

// NewServer builds a Server from the given options.
func NewServer(opts ...Option) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	return s
}

func (s *Server) readHeaderTimeout() time.Duration {
	if s.ReadHeaderTimeout != 0 {
		return s.ReadHeaderTimeout
	}
	return s.ReadTimeout
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout != 0 {
		return s.IdleTimeout
	}
	return s.ReadTimeout
}

func (s *Server) doKeepAlives() bool {
	return atomic.LoadInt32(&s.disableKeepAlives) == 0 && !s.shuttingDown()
}

func (s *Server) shuttingDown() bool {
	return atomic.LoadInt32(&s.inShutdown) != 0
}

// SetKeepAlivesEnabled records whether HTTP keep-alives are enabled and,
// when disabling, closes connections in the idle state. The coordinator
// serving each connection does not read this setting: keep-alive is still
// derived from each request's own headers.
func (s *Server) SetKeepAlivesEnabled(v bool) {
	if v {
		atomic.StoreInt32(&s.disableKeepAlives, 0)
		return
	}
	atomic.StoreInt32(&s.disableKeepAlives, 1)
	s.closeIdleConns()
}

func (s *Server) getDoneChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDoneChanLocked()
}

func (s *Server) getDoneChanLocked() chan struct{} {
	if s.doneChan == nil {
		s.doneChan = make(chan struct{})
	}
	return s.doneChan
}

func (s *Server) closeDoneChanLocked() {
	ch := s.getDoneChanLocked()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (s *Server) trackListener(ln net.Listener, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[net.Listener]struct{})
	}
	if add {
		if len(s.listeners) == 0 && len(s.activeConn) == 0 {
			s.doneChan = nil
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
}

func (s *Server) trackConn(c *serverConn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConn == nil {
		s.activeConn = make(map[*serverConn]struct{})
	}
	if add {
		s.activeConn[c] = struct{}{}
	} else {
		delete(s.activeConn, c)
	}
}

func (s *Server) closeListenersLocked() error {
	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(s.listeners, ln)
	}
	return err
}

// closeIdleConns closes all idle connections and reports whether the
// server is quiescent.
func (s *Server) closeIdleConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiescent := true
	for c := range s.activeConn {
		st, ok := c.curState.Load().(ConnState)
		if !ok || st != StateIdle {
			quiescent = false
			continue
		}
		c.rwc.Close()
		delete(s.activeConn, c)
	}
	return quiescent
}

func (s *Server) setState(c *serverConn, state ConnState) {
	c.curState.Store(state)
	if hook := s.ConnState; hook != nil {
		hook(c.rwc, state)
	}
}

// ListenAndServe listens on Addr ("" means ":8080") and calls Serve.
func (s *Server) ListenAndServe() error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return s.Serve(ln)
	}
	return s.Serve(tcpKeepAliveListener{tcpLn})
}

// Serve accepts connections on lsn, spawning one coordinator.Coordinator
// per accepted connection. It always returns a non-nil error; after
// Shutdown or Close the error is ErrServerClosed.
func (s *Server) Serve(lsn net.Listener) error {
	defer lsn.Close()
	s.trackListener(lsn, true)
	defer s.trackListener(lsn, false)

	var tempDelay time.Duration
	for {
		conn, err := lsn.Accept()
		if err != nil {
			select {
			case <-s.getDoneChan():
				return ErrServerClosed
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				s.Logger.Warn("accept error, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		sc := s.newServerConn(conn)
		s.trackConn(sc, true)
		s.setState(sc, StateNew)
		go sc.serve(context.Background())
	}
}

// ServeTLS wraps lsn in a tls.Listener using s.TLSConfig and calls Serve.
// The certificate is loaded from certFile/keyFile whenever either is given,
// or when s.TLSConfig carries no certificate of its own.
func (s *Server) ServeTLS(lsn net.Listener, certFile, keyFile string) error {
	config := s.TLSConfig.Clone()
	if config == nil {
		config = &tls.Config{}
	}
	hasCert := len(config.Certificates) > 0 || config.GetCertificate != nil
	if !hasCert || certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return err
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return s.Serve(tls.NewListener(lsn, config))
}

// Close immediately closes all active listeners and connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeDoneChanLocked()
	err := s.closeListenersLocked()
	for c := range s.activeConn {
		c.rwc.Close()
		delete(s.activeConn, c)
	}
	return err
}

// Shutdown gracefully shuts down the server: it closes listeners, then
// polls until no tracked connection remains. If ctx expires first, the
// remaining connections are closed and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	atomic.AddInt32(&s.inShutdown, 1)
	defer atomic.AddInt32(&s.inShutdown, -1)

	s.mu.Lock()
	lnErr := s.closeListenersLocked()
	s.closeDoneChanLocked()
	for _, f := range s.onShutdown {
		go f()
	}
	s.mu.Unlock()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if s.closeIdleConns() {
			return lnErr
		}
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RegisterOnShutdown registers a function to call on Shutdown.
func (s *Server) RegisterOnShutdown(f func()) {
	s.mu.Lock()
	s.onShutdown = append(s.onShutdown, f)
	s.mu.Unlock()
}
