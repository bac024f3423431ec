/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/badu/httpflow"
	"github.com/badu/httpflow/coordinator"
	"github.com/badu/httpflow/hdr"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	shutdownGrace := flag.Duration("shutdown-grace", 10*time.Second, "grace period for in-flight exchanges on shutdown")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	srv := httpflow.NewServer(
		httpflow.WithAddr(*addr),
		httpflow.WithLogger(logger),
		httpflow.WithHandler(echoHandler),
		httpflow.WithReadHeaderTimeout(5*time.Second),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && err != httpflow.ErrServerClosed {
			logger.Fatal("server exited", zap.Error(err))
		}
	}
}

// echoHandler is a minimal demonstration Handler: it echoes the request
// body back with the request method and target reported in a header.
func echoHandler(req *coordinator.Request) (*coordinator.Response, error) {
	var body []byte
	if req.Body != nil {
		for {
			chunk, err := req.Body.Next(req.Context())
			if err != nil {
				break
			}
			body = append(body, chunk...)
		}
	}

	h := make(hdr.Header)
	h.Set("X-Echo-Method", req.Method)
	h.Set("X-Echo-Target", req.Target)

	return &coordinator.Response{
		Status: 200,
		Header: h,
		Body:   coordinator.BufferBody(body, "application/octet-stream"),
	}, nil
}
