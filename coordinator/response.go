package coordinator

import "github.com/badu/httpflow/hdr"

// Response is the complete response a buffered Handler returns, per
// spec.md §3.
type Response struct {
	Status int
	Reason string
	Header hdr.Header
	Body   ResponseBody // the zero value means no body
}

// BodyKind tags which of the three response body variants a ResponseBody
// carries, per spec.md §3/§4.4.
type BodyKind uint8

const (
	KindBuffer BodyKind = iota
	KindSequence
	KindStream
)

// NextFunc is the shape of the iterator an AsyncStream body hands back from
// its MakeIterator call: it yields the next chunk, or a nil slice once
// exhausted.
type NextFunc func() ([]byte, error)

// ResponseBody is the closed sum type from spec.md §3: Buffer, Sequence, or
// AsyncStream. Exactly one of the three constructors below should be used
// to build a value; the coordinator dispatches on Kind.
type ResponseBody struct {
	Kind        BodyKind
	ContentType string
	Length      Length

	// Buffer: the complete body, already in memory.
	Bytes []byte

	// Sequence: invoked at most once to obtain the complete body
	// synchronously on demand.
	Producer func() ([]byte, error)

	// AsyncStream: invoked at most once to obtain a NextFunc, which is then
	// called repeatedly until it returns a nil slice.
	MakeIterator func() (NextFunc, error)
}

// BufferBody builds a Response body backed by an in-memory buffer; its
// length is always Known(len(b)).
func BufferBody(b []byte, contentType string) ResponseBody {
	return ResponseBody{
		Kind:        KindBuffer,
		ContentType: contentType,
		Length:      Known(uint64(len(b))),
		Bytes:       b,
	}
}

// SequenceBody builds a Response body whose bytes are produced once,
// synchronously, on demand.
func SequenceBody(length Length, contentType string, producer func() ([]byte, error)) ResponseBody {
	return ResponseBody{
		Kind:        KindSequence,
		ContentType: contentType,
		Length:      length,
		Producer:    producer,
	}
}

// StreamBody builds a Response body produced by an async iterator.
func StreamBody(length Length, contentType string, makeIterator func() (NextFunc, error)) ResponseBody {
	return ResponseBody{
		Kind:         KindStream,
		ContentType:  contentType,
		Length:       length,
		MakeIterator: makeIterator,
	}
}
