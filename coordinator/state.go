// Package coordinator implements the per-connection HTTP/1.1
// request-response coordinator: the coupled finite state machines that own
// one exchange's lifecycle, the request body stream, and the response
// writer façade.
package coordinator

import (
	"sync"

	"github.com/badu/httpflow/hdr"
)

// requestState is the request-side FSM from the spec's §4.1 transition
// table.
type requestState uint8

const (
	reqIdle requestState = iota
	reqAwaitingBody
	reqReceivingBody
	reqAwaitingResponseComplete
	reqIncomingStreamReset
)

func (s requestState) String() string {
	switch s {
	case reqIdle:
		return "Idle"
	case reqAwaitingBody:
		return "AwaitingBody"
	case reqReceivingBody:
		return "ReceivingBody"
	case reqAwaitingResponseComplete:
		return "AwaitingResponseComplete"
	case reqIncomingStreamReset:
		return "IncomingStreamReset"
	default:
		return "Unknown"
	}
}

// responseState is the response-side FSM from the spec's §4.1 transition
// table.
type responseState uint8

const (
	respIdle responseState = iota
	respPendingHead
	respPendingBody
	respSendingBody
	respAwaitingRequestComplete
	respAwaitingHandlingComplete
)

func (s responseState) String() string {
	switch s {
	case respIdle:
		return "Idle"
	case respPendingHead:
		return "PendingHead"
	case respPendingBody:
		return "PendingBody"
	case respSendingBody:
		return "SendingBody"
	case respAwaitingRequestComplete:
		return "AwaitingRequestComplete"
	case respAwaitingHandlingComplete:
		return "AwaitingHandlingComplete"
	default:
		return "Unknown"
	}
}

// LengthKind distinguishes a known response body length (emitted as
// Content-Length) from an unknown one (chunked transfer is implied).
type LengthKind uint8

const (
	LengthUnknown LengthKind = iota
	LengthKnown
)

// Length is the body-length contract a Response body variant carries.
type Length struct {
	Kind LengthKind
	N    uint64
}

// Known builds a Length that must be emitted as Content-Length: n, and that
// bounds the number of bytes the body producer may emit.
func Known(n uint64) Length { return Length{Kind: LengthKnown, N: n} }

// Unknown is the body-length contract for a body whose size isn't known
// ahead of time; the response is framed with chunked transfer-encoding.
var Unknown = Length{Kind: LengthUnknown}

// IsKnown reports whether l carries an upper-bound byte count.
func (l Length) IsKnown() bool { return l.Kind == LengthKnown }

// draft is the mutable response head being composed before commit: spec's
// "draft carries the mutable response head being composed before commit".
type draft struct {
	status      int
	reason      string
	contentType string
	bodyLength  Length
	headers     hdr.Header
}

func newDraft() draft {
	return draft{status: 200, headers: make(hdr.Header)}
}

// exchangeHead is the per-exchange context carried by value between states,
// replacing the cyclic back-references the source used (see spec.md §9,
// "Cyclic references").
type exchangeHead struct {
	protoMajor int
	protoMinor int
}

// State is the single source of truth for where one exchange sits in the
// HTTP/1.1 protocol, guarded by a coarse per-connection mutex. Every
// transition method is total: every event from every state produces either
// a valid next state or a typed error (*ProtocolError / *WriterMisuseError)
// — it never panics.
type State struct {
	mu sync.Mutex

	req  requestState
	resp responseState

	keepAlive bool

	head         exchangeHead
	draft        draft
	finalHeaders hdr.Header // frozen at commitHead

	body *RequestBody
}

// NewState builds a State in Idle/Idle, ready for its first exchange.
func NewState() *State {
	return &State{req: reqIdle, resp: respIdle, keepAlive: true}
}

// RequestState / ResponseState expose the current FSM labels for logging
// and tests; they take the lock like every other accessor.
func (s *State) RequestState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req.String()
}

func (s *State) ResponseState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resp.String()
}

// KeepAlive reports the current keep-alive flag.
func (s *State) KeepAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlive
}

// ---- request-side transitions ----

// OnHead handles an inbound Head event. Idle is the only valid source
// state; every other state is a protocol error.
func (s *State) OnHead(protoMajor, protoMinor int, bodyCap int) (*RequestBody, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.req != reqIdle {
		return nil, &ProtocolError{Event: "Head", Observed: s.req.String()}
	}
	s.req = reqAwaitingBody
	s.head = exchangeHead{protoMajor: protoMajor, protoMinor: protoMinor}
	s.body = newRequestBody(bodyCap)
	return s.body, nil
}

// OnBodyChunk handles an inbound Body(chunk) event.
func (s *State) OnBodyChunk(chunk []byte) error {
	s.mu.Lock()
	switch s.req {
	case reqAwaitingBody:
		s.req = reqReceivingBody
	case reqReceivingBody:
		// stays
	case reqIncomingStreamReset:
		s.mu.Unlock()
		return nil // ignored, chunk dropped
	default:
		observed := s.req.String()
		s.mu.Unlock()
		return &ProtocolError{Event: "Body", Observed: observed}
	}
	body := s.body
	s.mu.Unlock()
	body.send(chunk)
	return nil
}

// OnEnd handles the inbound End event: it finishes the request body channel
// and runs the converging transition against the response side described in
// spec.md §4.1.
func (s *State) OnEnd() error {
	s.mu.Lock()
	switch s.req {
	case reqAwaitingBody, reqReceivingBody:
		// valid, fall through to convergence below
	case reqAwaitingResponseComplete:
		s.mu.Unlock()
		return nil // no-op, already converged
	case reqIncomingStreamReset:
		s.mu.Unlock()
		return nil // ignored
	default:
		observed := s.req.String()
		s.mu.Unlock()
		return &ProtocolError{Event: "End", Observed: observed}
	}
	body := s.body
	s.finishEndLocked()
	s.mu.Unlock()
	body.finish(nil)
	return nil
}

// finishEndLocked runs the convergence rule for inbound End; caller holds mu.
func (s *State) finishEndLocked() {
	switch s.resp {
	case respIdle, respPendingHead, respPendingBody, respSendingBody:
		s.req = reqAwaitingResponseComplete
	case respAwaitingRequestComplete:
		s.req = reqIdle
		s.resp = respIdle
	case respAwaitingHandlingComplete:
		s.req = reqIdle
	}
}

// OnReset handles a peer/connection Reset event on the inbound side.
func (s *State) OnReset(cause error) {
	s.mu.Lock()
	switch s.req {
	case reqIdle, reqIncomingStreamReset:
		s.mu.Unlock()
		return
	default:
	}
	body := s.body
	s.req = reqIncomingStreamReset
	s.mu.Unlock()
	if body != nil {
		body.finish(cause)
	}
}

// ---- response-side transitions ----

// WaitForResponse handles the waitForResponse(head) event: Idle -> PendingHead.
func (s *State) WaitForResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp != respIdle {
		return &ProtocolError{Event: "waitForResponse", Observed: s.resp.String()}
	}
	s.resp = respPendingHead
	s.draft = newDraft()
	return nil
}

// Mutate applies fn to the pending draft head; valid only in PendingHead.
func (s *State) Mutate(fn func(*draft)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp != respPendingHead {
		return &WriterMisuseError{Attempted: "mutate", Observed: s.resp.String()}
	}
	fn(&s.draft)
	return nil
}

// Draft returns a copy of the current pending (or frozen, once committed)
// head fields; valid in any non-terminal state, per spec.md §4.3.
func (s *State) Draft() draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// CommitHead freezes the draft head and transitions PendingHead -> PendingBody,
// returning the frozen headers and chosen length/status for serialization.
func (s *State) CommitHead() (draft, hdr.Header, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp != respPendingHead {
		return draft{}, nil, false, &WriterMisuseError{Attempted: "commitHead", Observed: s.resp.String()}
	}
	final := computeFinalHeaders(s.draft)
	s.finalHeaders = final
	s.resp = respPendingBody
	chunked := !s.draft.bodyLength.IsKnown()
	return s.draft, final, chunked, nil
}

// computeFinalHeaders runs the commit algorithm from spec.md §4.1.
func computeFinalHeaders(d draft) hdr.Header {
	h := d.headers.Clone()
	if d.contentType != "" && h.Get(hdr.ContentType) == "" {
		h.Set(hdr.ContentType, d.contentType)
	}
	// 1xx and 204 responses never carry a Content-Length.
	noContentLength := d.status == 204 || (d.status >= 100 && d.status < 200)
	if d.bodyLength.IsKnown() {
		if !noContentLength && h.Get(hdr.ContentLength) == "" {
			h.Set(hdr.ContentLength, itoa(d.bodyLength.N))
		}
	} else if h.Get(hdr.TransferEncoding) == "" {
		h.Set(hdr.TransferEncoding, "chunked")
	}
	return h
}

// WriteBodyPart handles the writeBodyPart event: PendingBody -> SendingBody
// (emit Body), or stays in SendingBody (emit Body).
func (s *State) WriteBodyPart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.resp {
	case respPendingBody:
		s.resp = respSendingBody
		return nil
	case respSendingBody:
		return nil
	default:
		return &WriterMisuseError{Attempted: "writeBodyPart", Observed: s.resp.String()}
	}
}

// BodyComplete handles the bodyComplete event from PendingBody/SendingBody:
// the converging transition described in spec.md §4.1.
func (s *State) BodyComplete() (hdr.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.resp {
	case respPendingBody, respSendingBody:
	default:
		return nil, &WriterMisuseError{Attempted: "bodyComplete", Observed: s.resp.String()}
	}
	final := s.finalHeaders
	if s.req != reqAwaitingResponseComplete {
		s.resp = respAwaitingRequestComplete
	} else {
		s.resp = respAwaitingHandlingComplete
		s.req = reqIdle
	}
	return final, nil
}

// HandlerConfirmed is called once the handler invocation (buffered or
// streaming) has returned. It performs the second half of the converging
// bodyComplete transition described in spec.md §4.1 for the case where the
// request's End arrived before the response finished: AwaitingHandlingComplete
// -> Idle. It is a no-op in every other response state (in particular
// AwaitingRequestComplete, which converges to Idle/Idle only once the
// matching inbound End arrives).
func (s *State) HandlerConfirmed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp == respAwaitingHandlingComplete {
		s.resp = respIdle
	}
}

// DowngradeKeepAlive monotonically downgrades the keep-alive flag; it sets
// the flag from Idle (the response side may not have started yet when a
// Head's Connection header or a peer half-close asks for it) and everywhere
// the exchange is still in flight, and is an error once the response has
// reached one of the awaiting-completion states (the exchange's fate is
// already decided).
func (s *State) DowngradeKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downgradeKeepAliveLocked()
}

func (s *State) downgradeKeepAliveLocked() error {
	switch s.resp {
	case respIdle, respPendingHead, respPendingBody, respSendingBody:
		s.keepAlive = false
		return nil
	default:
		return &ProtocolError{Event: "downgradeKeepAlive", Observed: s.resp.String()}
	}
}

// OnPeerHalfClose handles a clean EOF read on the inbound side, per spec.md
// §8's boundary behavior: "peer half-close while response is in flight:
// set keep-alive to false; continue emitting current response; close after
// End." The connection is going away regardless of what the request ever
// said about Connection, so keep-alive always downgrades. If a request was
// still mid-body (Head seen, End not yet seen), its stream converges the
// same way an explicit End would, so a handler blocked on RequestBody.Next
// unblocks with a clean io.EOF instead of hanging until the response
// driver's context is torn down from elsewhere.
func (s *State) OnPeerHalfClose() {
	s.mu.Lock()
	switch s.req {
	case reqAwaitingBody, reqReceivingBody:
		body := s.body
		s.finishEndLocked()
		_ = s.downgradeKeepAliveLocked()
		s.mu.Unlock()
		body.finish(nil)
	default:
		_ = s.downgradeKeepAliveLocked()
		s.mu.Unlock()
	}
}

// ReadyForNextExchange reports whether both FSMs are back in Idle/Idle, the
// precondition (spec.md §8 property 3) for accepting the next inbound Head.
func (s *State) ReadyForNextExchange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req == reqIdle && s.resp == respIdle
}

// ResetForNextExchange resets per-exchange fields. Keep-alive's monotonic
// downgrade (invariant 5) applies within one exchange, not across them: each
// new exchange derives its own value from its own Head, so the flag is reset
// to true here and re-derived when the next Head arrives.
func (s *State) ResetForNextExchange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req = reqIdle
	s.resp = respIdle
	s.keepAlive = true
	s.draft = draft{}
	s.finalHeaders = nil
	s.body = nil
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
