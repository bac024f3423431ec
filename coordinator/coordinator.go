package coordinator

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/badu/httpflow/hdr"
	"github.com/badu/httpflow/wire"
)

// Handlers bundles the two mutually-exclusive handling styles from spec.md
// §4.3. Exactly one of Buffered / Streaming should be set; Coordinator
// dispatches on whichever is non-nil.
type Handlers struct {
	Buffered  Handler
	Streaming StreamingHandler
}

// Coordinator drives one connection's request/response exchanges. One
// Coordinator serves one net.Conn across however many keep-alive exchanges
// it carries, replacing the teacher's single-goroutine conn.serve loop with
// two cooperating goroutines (InboundDispatcher, ResponseDriver) per
// exchange, sharing a mutex-guarded State and a channel-fed request body.
type Coordinator struct {
	codec *wire.Codec

	handlers Handlers
	bodyCap  int
	logger   *zap.Logger

	RemoteAddr string
	TLS        *tls.ConnectionState
}

// New builds a Coordinator over codec. bodyCap <= 0 falls back to
// defaultBodyChannelCapacity; a nil logger falls back to zap.NewNop().
func New(codec *wire.Codec, handlers Handlers, bodyCap int, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{codec: codec, handlers: handlers, bodyCap: bodyCap, logger: logger}
}

// Run drives exchanges on the connection until the peer or a protocol/IO
// error ends it, or keep-alive is exhausted. It returns nil on a clean
// connection close (peer EOF between exchanges).
func (c *Coordinator) Run(ctx context.Context) error {
	state := NewState()
	for {
		if err := c.runExchange(ctx, state); err != nil {
			return err
		}
		if !state.KeepAlive() {
			return nil
		}
		if !state.ReadyForNextExchange() {
			c.logger.Warn("exchange converged outside Idle/Idle",
				zap.String("request", state.RequestState()),
				zap.String("response", state.ResponseState()))
		}
		c.codec.ResetExchange()
		state.ResetForNextExchange()
	}
}

// runExchange drives a single request/response exchange via the
// InboundDispatcher/ResponseDriver pair, returning the first error either
// goroutine produces (errgroup cancels the sibling's context on failure).
func (c *Coordinator) runExchange(ctx context.Context, state *State) error {
	g, gctx := errgroup.WithContext(ctx)
	reqCh := make(chan *Request, 1)

	g.Go(func() error {
		return c.runInboundDispatcher(gctx, state, reqCh)
	})
	g.Go(func() error {
		return c.runResponseDriver(gctx, state, reqCh)
	})

	return g.Wait()
}

// runInboundDispatcher reads framed inbound parts off the wire, drives the
// request-side FSM, and publishes the Request exactly once, on Head. It
// closes reqCh on every return so runResponseDriver never blocks forever
// waiting for a Request that a half-closed connection will never send.
func (c *Coordinator) runInboundDispatcher(ctx context.Context, state *State, reqCh chan<- *Request) error {
	defer close(reqCh)
	for {
		part, err := c.codec.NextInbound()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A clean EOF: the peer closed its write side rather than
				// sending malformed bytes. Let the response side (if any)
				// keep emitting the current exchange; keep-alive is gone
				// either way.
				state.OnPeerHalfClose()
				return nil
			}
			state.OnReset(err)
			return &IOError{Op: "nextInbound", Err: err}
		}

		switch part.Kind {
		case wire.InboundHead:
			body, err := state.OnHead(part.ProtoMajor, part.ProtoMinor, c.bodyCap)
			if err != nil {
				return err
			}
			if !deriveKeepAlive(part.Header, part.ProtoMajor, part.ProtoMinor) {
				_ = state.DowngradeKeepAlive()
			}
			if wantsContinue(part.Header) {
				body.armExpectContinue(c.codec.WriteInterimContinue)
			}
			req := &Request{
				ID:         uuid.New(),
				Method:     part.Method,
				ProtoMajor: part.ProtoMajor,
				ProtoMinor: part.ProtoMinor,
				Target:     part.Target,
				Header:     part.Header,
				Body:       body,
				RemoteAddr: c.RemoteAddr,
				TLS:        c.TLS,
				ctx:        ctx,
			}
			select {
			case reqCh <- req:
			case <-ctx.Done():
				return ctx.Err()
			}

		case wire.InboundBody:
			if err := state.OnBodyChunk(part.Bytes); err != nil {
				return err
			}

		case wire.InboundEnd:
			if err := state.OnEnd(); err != nil {
				return err
			}
			return nil
		}
	}
}

// runResponseDriver waits for the published Request, invokes the configured
// handler, and drives the response-side FSM and outbound writes to
// completion.
func (c *Coordinator) runResponseDriver(ctx context.Context, state *State, reqCh <-chan *Request) error {
	var req *Request
	select {
	case r, ok := <-reqCh:
		if !ok {
			// The inbound side ended (peer half-close) before ever
			// publishing a Head; there is nothing to respond to.
			return nil
		}
		req = r
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := state.WaitForResponse(); err != nil {
		return err
	}
	sink := codecSink{codec: c.codec}

	var invokeErr error
	switch {
	case c.handlers.Streaming != nil:
		w := newResponseWriter(state, sink, req.ProtoMajor, req.ProtoMinor, nil)
		invokeErr = c.handlers.Streaming(req, w)
		if invokeErr == nil && w.State() != Completed {
			invokeErr = &WriterMisuseError{Attempted: "handler return", Observed: w.State().String()}
		}

	case c.handlers.Buffered != nil:
		resp, err := c.handlers.Buffered(req)
		if err != nil {
			resp = errorResponse(err)
		}
		invokeErr = emitResponse(state, sink, req.ProtoMajor, req.ProtoMinor, resp, nil)

	default:
		invokeErr = emitResponse(state, sink, req.ProtoMajor, req.ProtoMinor, errorResponse(nil), nil)
	}

	state.HandlerConfirmed()
	if invokeErr != nil {
		state.OnReset(invokeErr)
	}
	return invokeErr
}

// errorResponse builds the fallback 500 Response emitted when a buffered
// Handler returns an error instead of a Response, or no handler is
// configured at all.
func errorResponse(err error) *Response {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Response{
		Status: 500,
		Header: make(hdr.Header),
		Body:   BufferBody([]byte(msg), "text/plain; charset=utf-8"),
	}
}

// deriveKeepAlive applies spec.md §4.1's fresh-per-exchange derivation:
// HTTP/1.1 defaults to keep-alive unless Connection: close is present;
// HTTP/1.0 defaults to close unless Connection: keep-alive is present.
func deriveKeepAlive(h hdr.Header, protoMajor, protoMinor int) bool {
	conn := strings.ToLower(strings.TrimSpace(h.Get(hdr.Connection)))
	if protoMajor == 1 && protoMinor == 0 {
		return conn == "keep-alive"
	}
	return conn != "close"
}

// wantsContinue reports whether the request's Expect header asks for an
// interim 100-Continue response before the body is sent, per SPEC_FULL.md
// §10's adaptation of the teacher's expectContinueReader.
func wantsContinue(h hdr.Header) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get(hdr.Expect)), "100-continue")
}

// codecSink adapts a wire.Codec to the outboundSink interface the
// ResponseWriter writes through. ResponseDriver is the only goroutine that
// touches it, so no further synchronization is needed.
type codecSink struct {
	codec *wire.Codec
}

func (s codecSink) WriteHead(protoMajor, protoMinor, status int, reason string, header hdr.Header, chunked bool) error {
	return s.codec.WriteOutbound(wire.OutboundPart{
		Kind:       wire.OutboundHead,
		ProtoMajor: protoMajor,
		ProtoMinor: protoMinor,
		Status:     status,
		Reason:     reason,
		Header:     header,
		Chunked:    chunked,
	})
}

func (s codecSink) WriteBodyPart(b []byte) error {
	return s.codec.WriteOutbound(wire.OutboundPart{Kind: wire.OutboundBody, Bytes: b})
}

func (s codecSink) WriteEnd() error {
	return s.codec.WriteOutbound(wire.OutboundPart{Kind: wire.OutboundEnd})
}
