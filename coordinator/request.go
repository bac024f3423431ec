package coordinator

import (
	"context"
	"crypto/tls"

	"github.com/google/uuid"

	"github.com/badu/httpflow/hdr"
	"github.com/badu/httpflow/uri"
)

// Request is published once to the handler per inbound Head, per spec.md
// §3. Its Body stream begins yielding before the full request has arrived.
type Request struct {
	ID uuid.UUID

	Method     string
	ProtoMajor int
	ProtoMinor int
	Target     string
	Header     hdr.Header
	Body       *RequestBody

	RemoteAddr string
	TLS        *tls.ConnectionState

	ctx context.Context

	parsedURL *uri.URL
}

// Context returns the per-exchange context, cancelled when the exchange
// ends or the connection is torn down.
func (r *Request) Context() context.Context { return r.ctx }

// WithContext returns a shallow copy of r with its context replaced, in the
// style of the teacher's own Request.WithContext.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := new(Request)
	*r2 = *r
	r2.ctx = ctx
	return r2
}

// URL lazily parses Target into a structured URL, caching the result.
func (r *Request) URL() (*uri.URL, error) {
	if r.parsedURL != nil {
		return r.parsedURL, nil
	}
	u, err := uri.ParseRequestURI(r.Target)
	if err != nil {
		return nil, err
	}
	r.parsedURL = u
	return u, nil
}

// ProtoAtLeast reports whether the request's HTTP version is at least
// major.minor, as the teacher's Request.ProtoAtLeast does.
func (r *Request) ProtoAtLeast(major, minor int) bool {
	return r.ProtoMajor > major || (r.ProtoMajor == major && r.ProtoMinor >= minor)
}
