package coordinator

// Handler is the buffered handling style from spec.md §4.3: it receives the
// published Request and returns a complete Response once it has decided the
// whole thing. The coordinator drives Commit/WriteBodyPart/Complete against
// the returned Response on the handler's behalf.
type Handler func(req *Request) (*Response, error)

// StreamingHandler is the writer-driven handling style from spec.md §4.3: it
// receives the published Request and a ResponseWriter, and shapes the
// response itself by calling the writer's operations directly. It must
// leave the writer in Completed state before returning (the coordinator
// fails the exchange with a *WriterMisuseError-wrapping error otherwise).
type StreamingHandler func(req *Request, w *ResponseWriter) error
