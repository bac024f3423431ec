/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpflow

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/badu/httpflow/coordinator"
	"github.com/badu/httpflow/wire"
)

// runExchange wires a coordinator.Coordinator to one end of a net.Pipe,
// writes raw inbound bytes into the other end, and returns whatever the
// coordinator writes back within the deadline.
func runExchange(t *testing.T, handlers coordinator.Handlers, inbound string) string {
	t.Helper()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	codec := wire.NewCodec(bufio.NewReader(server), bufio.NewWriter(server))
	coord := coordinator.New(codec, handlers, 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- coord.Run(ctx) }()

	writeErr := make(chan error, 1)
	go func() {
		_, err := client.Write([]byte(inbound))
		writeErr <- err
	}()
	require.NoError(t, <-writeErr)

	// net.Pipe is synchronous: each server-side Write call blocks for a
	// matching client-side Read. Drain reads until one comes back empty
	// after a short idle deadline, which marks the end of this response
	// (the coordinator's next NextInbound read produces no further writes
	// on a kept-alive connection).
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		n, err := client.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return string(buf)
}

// TestScenarioEchoKeepAlive is spec.md's S1: a GET with no body answered by
// a buffered 200 response keeps the connection open.
func TestScenarioEchoKeepAlive(t *testing.T) {
	handlers := coordinator.Handlers{
		Buffered: func(req *coordinator.Request) (*coordinator.Response, error) {
			return &coordinator.Response{
				Status: 200,
				Body:   coordinator.BufferBody([]byte("hi"), "text/plain"),
			}, nil
		},
	}

	out := runExchange(t, handlers, "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n")
	require.Contains(t, out, "HTTP/1.1 200 OK")
	require.Contains(t, out, "Content-Type: text/plain")
	require.Contains(t, out, "Content-Length: 2")
	require.Contains(t, out, "hi")
}

// TestScenarioStreamedRequestBodyEcho is spec.md's S2: a POST delivered as
// two body chunks, echoed back as a single buffered response.
func TestScenarioStreamedRequestBodyEcho(t *testing.T) {
	handlers := coordinator.Handlers{
		Buffered: func(req *coordinator.Request) (*coordinator.Response, error) {
			var body []byte
			for {
				chunk, err := req.Body.Next(req.Context())
				if err != nil {
					break
				}
				body = append(body, chunk...)
			}
			return &coordinator.Response{
				Status: 200,
				Body:   coordinator.BufferBody(body, "application/octet-stream"),
			}, nil
		},
	}

	inbound := "POST /echo HTTP/1.1\r\nHost: example.com\r\nContent-Length: 6\r\n\r\nfoobar"
	out := runExchange(t, handlers, inbound)
	require.Contains(t, out, "HTTP/1.1 200 OK")
	require.Contains(t, out, "Content-Type: application/octet-stream")
	require.Contains(t, out, "Content-Length: 6")
	require.Contains(t, out, "foobar")
}

// TestScenarioExpectContinueWritesInterimBeforeBody exercises SPEC_FULL.md
// §10's Expect: 100-continue adaptation end-to-end: the interim status
// line must appear before the final response, written as a side effect of
// the handler's first RequestBody.Next call.
func TestScenarioExpectContinueWritesInterimBeforeBody(t *testing.T) {
	handlers := coordinator.Handlers{
		Buffered: func(req *coordinator.Request) (*coordinator.Response, error) {
			var body []byte
			for {
				chunk, err := req.Body.Next(req.Context())
				if err != nil {
					break
				}
				body = append(body, chunk...)
			}
			return &coordinator.Response{
				Status: 200,
				Body:   coordinator.BufferBody(body, "application/octet-stream"),
			}, nil
		},
	}

	inbound := "POST /upload HTTP/1.1\r\nHost: example.com\r\nExpect: 100-continue\r\nContent-Length: 3\r\n\r\nabc"
	out := runExchange(t, handlers, inbound)
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 100 Continue\r\n\r\n"))
	require.Contains(t, out, "HTTP/1.1 200 OK")
	require.Contains(t, out, "abc")
}

// TestScenarioPeerHalfCloseDuringBodyStillEmitsResponse is spec.md §8's
// boundary behavior: a peer half-close mid-body must not abort the
// in-flight response. It uses io.Pipe (not net.Pipe) for the inbound side
// specifically because io.Pipe's Close is one-directional: pw.Close()
// ends only the inbound stream, leaving the separate outbound buffer free
// to receive the response the handler still produces.
func TestScenarioPeerHalfCloseDuringBodyStillEmitsResponse(t *testing.T) {
	pr, pw := io.Pipe()
	var outBuf bytes.Buffer
	codec := wire.NewCodec(bufio.NewReader(pr), bufio.NewWriter(&outBuf))

	handlers := coordinator.Handlers{
		Buffered: func(req *coordinator.Request) (*coordinator.Response, error) {
			var body []byte
			for {
				chunk, err := req.Body.Next(req.Context())
				if err != nil {
					break
				}
				body = append(body, chunk...)
			}
			return &coordinator.Response{
				Status: 200,
				Body:   coordinator.BufferBody(body, "text/plain"),
			}, nil
		},
	}
	coord := coordinator.New(codec, handlers, 0, zap.NewNop())

	runErr := make(chan error, 1)
	go func() { runErr <- coord.Run(context.Background()) }()

	_, err := pw.Write([]byte("POST /up HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator.Run did not return after peer half-close")
	}

	out := outBuf.String()
	require.Contains(t, out, "HTTP/1.1 200 OK")
	require.Contains(t, out, "abc")
}

// TestScenarioConnectionClose is spec.md's S3: an explicit Connection:
// close header, answered with an empty 204, ends the exchange without a
// body and without offering keep-alive.
func TestScenarioConnectionClose(t *testing.T) {
	handlers := coordinator.Handlers{
		Buffered: func(req *coordinator.Request) (*coordinator.Response, error) {
			return &coordinator.Response{Status: 204}, nil
		},
	}

	inbound := "GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	out := runExchange(t, handlers, inbound)
	require.Contains(t, out, "HTTP/1.1 204 No Content")
	require.NotContains(t, out, "Content-Length")
}

// TestScenarioChunkedAsyncResponse is spec.md's S4: a buffered handler
// returning an unknown-length StreamBody must be framed as chunked
// transfer-encoding.
func TestScenarioChunkedAsyncResponse(t *testing.T) {
	handlers := coordinator.Handlers{
		Buffered: func(req *coordinator.Request) (*coordinator.Response, error) {
			chunks := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
			i := 0
			return &coordinator.Response{
				Status: 200,
				Body: coordinator.StreamBody(coordinator.Unknown, "text/plain", func() (coordinator.NextFunc, error) {
					return func() ([]byte, error) {
						if i >= len(chunks) {
							return nil, nil
						}
						c := chunks[i]
						i++
						return c, nil
					}, nil
				}),
			}, nil
		},
	}

	out := runExchange(t, handlers, "GET /stream HTTP/1.1\r\nHost: example.com\r\n\r\n")
	require.Contains(t, out, "HTTP/1.1 200 OK")
	require.Contains(t, out, "Content-Type: text/plain")
	require.Contains(t, out, "Transfer-Encoding: chunked")
	require.NotContains(t, out, "Content-Length")
	require.Contains(t, out, "\r\na\r\n")
	require.Contains(t, out, "\r\nb\r\n")
	require.Contains(t, out, "\r\nc\r\n")
	require.Contains(t, out, "0\r\n\r\n")
}
