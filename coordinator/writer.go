package coordinator

import "github.com/badu/httpflow/hdr"

// outboundSink is the minimal interface the writer needs onto the framed
// outbound boundary (spec.md §6); Coordinator supplies the concrete
// implementation backed by a wire.Codec.
type outboundSink interface {
	WriteHead(protoMajor, protoMinor, status int, reason string, header hdr.Header, chunked bool) error
	WriteBodyPart(b []byte) error
	WriteEnd() error
}

// WriterState is the observable state ResponseWriter exposes to handlers,
// per spec.md §4.3.
type WriterState uint8

const (
	NotCommitted WriterState = iota
	Committed
	Completed
)

func (w WriterState) String() string {
	switch w {
	case NotCommitted:
		return "NotCommitted"
	case Committed:
		return "Committed"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// ResponseWriter is the writer-driven response-shaping style from spec.md
// §4.3: every operation below is validated against the current
// response_state before it is allowed to mutate anything or emit bytes.
type ResponseWriter struct {
	state *State
	sink  outboundSink

	protoMajor, protoMinor int

	bodyLength Length
	emitted    uint64
	onComplete func(final hdr.Header)
}

func newResponseWriter(state *State, sink outboundSink, protoMajor, protoMinor int, onComplete func(hdr.Header)) *ResponseWriter {
	return &ResponseWriter{state: state, sink: sink, protoMajor: protoMajor, protoMinor: protoMinor, onComplete: onComplete}
}

// State reports the writer's current observable state.
func (w *ResponseWriter) State() WriterState {
	switch w.state.ResponseState() {
	case "PendingHead":
		return NotCommitted
	case "PendingBody", "SendingBody":
		return Committed
	default:
		return Completed
	}
}

// SetStatus sets the pending response status code; valid only in NotCommitted.
func (w *ResponseWriter) SetStatus(code int) error {
	return w.state.Mutate(func(d *draft) { d.status = code })
}

// SetReason sets the pending response's reason phrase.
func (w *ResponseWriter) SetReason(reason string) error {
	return w.state.Mutate(func(d *draft) { d.reason = reason })
}

// SetContentType sets the pending response's content type.
func (w *ResponseWriter) SetContentType(ct string) error {
	return w.state.Mutate(func(d *draft) { d.contentType = ct })
}

// SetBodyLength sets the pending response's body length contract.
func (w *ResponseWriter) SetBodyLength(l Length) error {
	return w.state.Mutate(func(d *draft) { d.bodyLength = l })
}

// SetHeader replaces the values for key in the pending response headers.
func (w *ResponseWriter) SetHeader(key, value string) error {
	return w.state.Mutate(func(d *draft) { d.headers.Set(key, value) })
}

// AddHeader appends a value for key in the pending response headers.
func (w *ResponseWriter) AddHeader(key, value string) error {
	return w.state.Mutate(func(d *draft) { d.headers.Add(key, value) })
}

// Status returns the current (pending or frozen) status code.
func (w *ResponseWriter) Status() int { return w.state.Draft().status }

// ContentType returns the current (pending or frozen) content type.
func (w *ResponseWriter) ContentType() string { return w.state.Draft().contentType }

// BodyLength returns the current (pending or frozen) body length contract.
func (w *ResponseWriter) BodyLength() Length { return w.state.Draft().bodyLength }

// Header returns a clone of the current (pending or frozen) headers.
func (w *ResponseWriter) Header() hdr.Header { return w.state.Draft().headers.Clone() }

// Commit freezes the response head and emits the outbound Head.
func (w *ResponseWriter) Commit() error {
	d, final, chunked, err := w.state.CommitHead()
	if err != nil {
		return err
	}
	w.bodyLength = d.bodyLength
	reason := d.reason
	if err := w.sink.WriteHead(w.protoMajor, w.protoMinor, d.status, reason, final, chunked); err != nil {
		return &IOError{Op: "writeHead", Err: err}
	}
	return nil
}

// WriteBodyPart emits one outbound Body part; valid only once Committed.
func (w *ResponseWriter) WriteBodyPart(chunk []byte) error {
	if err := w.state.WriteBodyPart(); err != nil {
		return err
	}
	if len(chunk) == 0 {
		return nil
	}
	if w.bodyLength.IsKnown() {
		w.emitted += uint64(len(chunk))
		if w.emitted > w.bodyLength.N {
			return &OverlengthBodyError{Declared: w.bodyLength.N, Emitted: w.emitted}
		}
	}
	if err := w.sink.WriteBodyPart(chunk); err != nil {
		return &IOError{Op: "writeBodyPart", Err: err}
	}
	return nil
}

// Complete emits the outbound End and drives the converging transition.
func (w *ResponseWriter) Complete() error {
	final, err := w.state.BodyComplete()
	if err != nil {
		return err
	}
	if err := w.sink.WriteEnd(); err != nil {
		return &IOError{Op: "writeEnd", Err: err}
	}
	if w.onComplete != nil {
		w.onComplete(final)
	}
	return nil
}

// CommitAndComplete is the compound atomic transition: commit a headers-only
// response (no body) and immediately complete it. Per spec.md §8 property 6
// it is observationally equivalent to calling Commit then Complete.
func (w *ResponseWriter) CommitAndComplete() error {
	if err := w.Commit(); err != nil {
		return err
	}
	return w.Complete()
}

// CommitAndCompleteWith is the compound atomic transition that commits,
// writes a single body part, and completes. If length is nil the body's
// length is taken from len(body).
func (w *ResponseWriter) CommitAndCompleteWith(body []byte, length *Length) error {
	l := Known(uint64(len(body)))
	if length != nil {
		l = *length
	}
	if err := w.state.Mutate(func(d *draft) { d.bodyLength = l }); err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	if len(body) > 0 {
		if err := w.WriteBodyPart(body); err != nil {
			return err
		}
	}
	return w.Complete()
}
