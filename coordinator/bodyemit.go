package coordinator

import "github.com/badu/httpflow/hdr"

// emitResponse drives a complete Response (the buffered Handler style) through
// a ResponseWriter: set the draft fields, commit, dispatch the body variant
// per spec.md §4.4, then complete. It is also exactly what CommitAndComplete /
// CommitAndCompleteWith would do by hand, just generalized over the three
// body kinds a buffered Handler can return.
func emitResponse(state *State, sink outboundSink, protoMajor, protoMinor int, resp *Response, onComplete func(hdr.Header)) error {
	w := newResponseWriter(state, sink, protoMajor, protoMinor, onComplete)

	if err := w.SetStatus(resp.Status); err != nil {
		return err
	}
	if err := w.SetReason(resp.Reason); err != nil {
		return err
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			if err := w.AddHeader(k, v); err != nil {
				return err
			}
		}
	}

	body := resp.Body
	if body.Kind == KindBuffer && body.Bytes == nil && !body.Length.IsKnown() {
		// No body was set on the Response at all: treat it as an empty,
		// known-length buffer rather than an unknown-length chunked body.
		body.Length = Known(0)
	}
	if body.ContentType != "" {
		if err := w.SetContentType(body.ContentType); err != nil {
			return err
		}
	}
	if err := w.SetBodyLength(body.Length); err != nil {
		return err
	}

	if err := w.Commit(); err != nil {
		return err
	}

	if err := emitBody(w, body); err != nil {
		return err
	}

	return w.Complete()
}

// emitBody dispatches on the response body's kind, writing zero or more
// Body parts through w. Empty chunks are skipped rather than emitted, per
// spec.md §4.4.
func emitBody(w *ResponseWriter, body ResponseBody) error {
	switch body.Kind {
	case KindBuffer:
		if len(body.Bytes) == 0 {
			return nil
		}
		return w.WriteBodyPart(body.Bytes)

	case KindSequence:
		if body.Producer == nil {
			return nil
		}
		chunk, err := body.Producer()
		if err != nil {
			return &HandlerError{Err: err}
		}
		if len(chunk) == 0 {
			return nil
		}
		return w.WriteBodyPart(chunk)

	case KindStream:
		if body.MakeIterator == nil {
			return nil
		}
		next, err := body.MakeIterator()
		if err != nil {
			return &HandlerError{Err: err}
		}
		for {
			chunk, err := next()
			if err != nil {
				return &HandlerError{Err: err}
			}
			if chunk == nil {
				return nil
			}
			if len(chunk) == 0 {
				continue
			}
			if err := w.WriteBodyPart(chunk); err != nil {
				return err
			}
		}

	default:
		return nil
	}
}
