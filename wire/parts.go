/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package wire defines the framed HTTP/1.1 parts that cross the boundary
// between a byte-level connection and the coordinator, plus the Codec that
// translates between them and raw octets.
package wire

import "github.com/badu/httpflow/hdr"

// InboundPartKind tags the variant carried by an InboundPart.
type InboundPartKind uint8

const (
	InboundHead InboundPartKind = iota
	InboundBody
	InboundEnd
)

// InboundPart is one framed event read off the wire: a request line plus
// headers, a body chunk, or the terminal marker.
type InboundPart struct {
	Kind InboundPartKind

	// Populated when Kind == InboundHead.
	Method     string
	Target     string
	ProtoMajor int
	ProtoMinor int
	Header     hdr.Header

	// Populated when Kind == InboundBody.
	Bytes []byte
}

// OutboundPartKind tags the variant carried by an OutboundPart.
type OutboundPartKind uint8

const (
	OutboundHead OutboundPartKind = iota
	OutboundBody
	OutboundEnd
)

// OutboundPart is one framed event the coordinator asks the Codec to write.
type OutboundPart struct {
	Kind OutboundPartKind

	// Populated when Kind == OutboundHead.
	ProtoMajor int
	ProtoMinor int
	Status     int
	Reason     string
	Header     hdr.Header
	// Chunked tells the Codec to frame the following OutboundBody parts as
	// HTTP/1.1 chunked transfer-encoding instead of raw bytes. The
	// coordinator decides this (Known vs Unknown body length); the Codec
	// only obeys it.
	Chunked bool

	// Populated when Kind == OutboundBody.
	Bytes []byte
}
