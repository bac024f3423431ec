/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/badu/httpflow/hdr"
)

// readBodyMode tells the read side of a Codec how to find the end of the
// current request body on the wire.
type readBodyMode uint8

const (
	bodyNone readBodyMode = iota
	bodyIdentity
	bodyChunked
)

var (
	// ErrLineTooLong is returned when a chunk-size or header line exceeds
	// maxLineLength bytes, guarding against unbounded buffering of a
	// malformed peer.
	ErrLineTooLong = errors.New("wire: header or chunk line too long")

	crlf = []byte("\r\n")
)

const maxLineLength = 4096

// Codec turns a buffered connection into the InboundPart/OutboundPart
// boundary spec'd for the coordinator. One Codec serves one net.Conn across
// however many keep-alive exchanges it carries; ResetExchange is called by
// the connection loop between exchanges.
type Codec struct {
	r *bufio.Reader
	w *bufio.Writer

	readMode      readBodyMode
	identityLeft  int64
	chunkLeft     int64
	afterChunkCR  bool
	sawHeadRead   bool
	sawBodyEndRd  bool
	writeChunked  bool
	sawHeadWrite  bool
}

// NewCodec wraps the given buffered reader/writer pair. Callers own framing
// of the underlying net.Conn (deadlines, Close); Codec only reads/writes
// bytes through r/w.
func NewCodec(r *bufio.Reader, w *bufio.Writer) *Codec {
	return &Codec{r: r, w: w}
}

// ResetExchange must be called once both sides of an exchange have reached
// End, before the next exchange's Head is read/written on a kept-alive
// connection.
func (c *Codec) ResetExchange() {
	c.readMode = bodyNone
	c.identityLeft = 0
	c.chunkLeft = 0
	c.afterChunkCR = false
	c.sawHeadRead = false
	c.sawBodyEndRd = false
	c.writeChunked = false
	c.sawHeadWrite = false
}

// NextInbound reads the next framed inbound part: a Head (once per
// exchange), then zero or more Body parts, then a terminal End.
func (c *Codec) NextInbound() (InboundPart, error) {
	if !c.sawHeadRead {
		return c.readHead()
	}
	if c.sawBodyEndRd {
		return InboundPart{Kind: InboundEnd}, nil
	}
	return c.readBodyPart()
}

func (c *Codec) readHead() (InboundPart, error) {
	line, err := c.readLine()
	if err != nil {
		return InboundPart{}, err
	}
	method, target, proto, err := parseRequestLine(line)
	if err != nil {
		return InboundPart{}, err
	}
	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return InboundPart{}, fmt.Errorf("wire: malformed HTTP version %q", proto)
	}
	header, err := c.readHeaders()
	if err != nil {
		return InboundPart{}, err
	}

	c.sawHeadRead = true
	c.readMode, c.identityLeft = bodyModeFromHeader(header, method)
	if c.readMode == bodyNone {
		c.sawBodyEndRd = true
	}

	return InboundPart{
		Kind:       InboundHead,
		Method:     method,
		Target:     target,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     header,
	}, nil
}

func bodyModeFromHeader(h hdr.Header, method string) (readBodyMode, int64) {
	if method == "GET" || method == "HEAD" {
		if h.Get(hdr.ContentLength) == "" && !hasChunkedTransferEncoding(h) {
			return bodyNone, 0
		}
	}
	if hasChunkedTransferEncoding(h) {
		return bodyChunked, 0
	}
	if cl := h.Get(hdr.ContentLength); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return bodyNone, 0
		}
		if n == 0 {
			return bodyNone, 0
		}
		return bodyIdentity, n
	}
	return bodyNone, 0
}

func hasChunkedTransferEncoding(h hdr.Header) bool {
	te := h.Get(hdr.TransferEncoding)
	return strings.EqualFold(strings.TrimSpace(te), "chunked")
}

const maxReadChunk = 32 << 10

func (c *Codec) readBodyPart() (InboundPart, error) {
	switch c.readMode {
	case bodyIdentity:
		n := c.identityLeft
		if n > maxReadChunk {
			n = maxReadChunk
		}
		buf := make([]byte, n)
		read, err := io.ReadFull(c.r, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			return InboundPart{}, err
		}
		c.identityLeft -= int64(read)
		if c.identityLeft <= 0 {
			c.sawBodyEndRd = true
		}
		return InboundPart{Kind: InboundBody, Bytes: buf[:read]}, nil
	case bodyChunked:
		return c.readChunk()
	default:
		c.sawBodyEndRd = true
		return InboundPart{Kind: InboundEnd}, nil
	}
}

func (c *Codec) readChunk() (InboundPart, error) {
	line, err := c.readChunkLine()
	if err != nil {
		return InboundPart{}, err
	}
	size, err := parseHexUint(line)
	if err != nil {
		return InboundPart{}, fmt.Errorf("wire: invalid chunk size: %w", err)
	}
	if size == 0 {
		// Trailers are out of scope (spec.md Non-goals); drain until the
		// blank line that ends the (possibly empty) trailer block.
		for {
			tl, err := c.readLine()
			if err != nil {
				return InboundPart{}, err
			}
			if len(tl) == 0 {
				break
			}
		}
		c.sawBodyEndRd = true
		return InboundPart{Kind: InboundEnd}, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return InboundPart{}, err
	}
	if _, err := io.ReadFull(c.r, make([]byte, 2)); err != nil { // trailing CRLF
		return InboundPart{}, err
	}
	return InboundPart{Kind: InboundBody, Bytes: buf}, nil
}

// readLine reads one CRLF/LF-terminated line, trimmed, from the connection.
func (c *Codec) readLine() (string, error) {
	line, err := c.r.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			err = ErrLineTooLong
		}
		return "", err
	}
	if len(line) > maxLineLength {
		return "", ErrLineTooLong
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func (c *Codec) readChunkLine() ([]byte, error) {
	p, err := c.r.ReadSlice('\n')
	if err != nil {
		// A clean EOF before any byte of the chunk line is a peer close and
		// stays io.EOF; EOF partway through the line is a truncation.
		if err == io.EOF && len(p) > 0 {
			err = io.ErrUnexpectedEOF
		} else if err == bufio.ErrBufferFull {
			err = ErrLineTooLong
		}
		return nil, err
	}
	if len(p) >= maxLineLength {
		return nil, ErrLineTooLong
	}
	p = trimTrailingWhitespace(p)
	if semi := indexByte(p, ';'); semi != -1 {
		p = p[:semi]
	}
	return p, nil
}

func (c *Codec) readHeaders() (hdr.Header, error) {
	h := make(hdr.Header)
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			return h, nil
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("wire: malformed header line %q", line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if !hdr.ValidHeaderFieldName(key) {
			return nil, fmt.Errorf("wire: invalid header name %q", key)
		}
		h.Add(key, val)
	}
}

// WriteInterimContinue writes a bare "100 Continue" status line ahead of
// the real response Head, for Expect: 100-continue handling. It is flushed
// immediately since the peer is waiting on it before sending the request
// body, and it does not touch sawHeadWrite/writeChunked: the real response
// Head that follows later is still the exchange's only framed Head.
func (c *Codec) WriteInterimContinue() error {
	if _, err := c.w.WriteString("HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// WriteOutbound writes one framed outbound part to the connection. Head must
// be written first, Body parts framed per Head.Chunked, End last.
func (c *Codec) WriteOutbound(p OutboundPart) error {
	switch p.Kind {
	case OutboundHead:
		return c.writeHead(p)
	case OutboundBody:
		return c.writeBody(p.Bytes)
	case OutboundEnd:
		return c.writeEnd()
	default:
		return fmt.Errorf("wire: unknown outbound part kind %d", p.Kind)
	}
}

func (c *Codec) writeHead(p OutboundPart) error {
	c.sawHeadWrite = true
	c.writeChunked = p.Chunked
	reason := p.Reason
	if reason == "" {
		reason = statusText(p.Status)
	}
	if _, err := fmt.Fprintf(c.w, "HTTP/%d.%d %03d %s\r\n", p.ProtoMajor, p.ProtoMinor, p.Status, reason); err != nil {
		return err
	}
	if err := p.Header.Write(c.w); err != nil {
		return err
	}
	_, err := c.w.Write(crlf)
	return err
}

func (c *Codec) writeBody(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if c.writeChunked {
		if _, err := fmt.Fprintf(c.w, "%x\r\n", len(b)); err != nil {
			return err
		}
		if _, err := c.w.Write(b); err != nil {
			return err
		}
		_, err := c.w.Write(crlf)
		return err
	}
	_, err := c.w.Write(b)
	return err
}

func (c *Codec) writeEnd() error {
	if c.writeChunked {
		if _, err := c.w.WriteString("0\r\n\r\n"); err != nil {
			return err
		}
	}
	return c.w.Flush()
}

func parseRequestLine(line string) (method, target, proto string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("wire: malformed request line %q", line)
	}
	return parts[0], parts[1], parts[2], nil
}

func parseHTTPVersion(proto string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(proto, prefix) {
		return 0, 0, false
	}
	rest := proto[len(prefix):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, false
	}
	major, err1 := strconv.Atoi(rest[:dot])
	minor, err2 := strconv.Atoi(rest[dot+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func statusText(code int) string {
	if t, ok := statusTexts[code]; ok {
		return t
	}
	return "Status"
}

func trimTrailingWhitespace(b []byte) []byte {
	for len(b) > 0 && isASCIISpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// parseHexUint parses a hex chunk-size line, ported from the teacher's
// chunked-transfer reader.
func parseHexUint(v []byte) (uint64, error) {
	var n uint64
	for i, b := range v {
		switch {
		case '0' <= b && b <= '9':
			b = b - '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, errors.New("invalid byte in chunk length")
		}
		if i == 16 {
			return 0, errors.New("chunk length too large")
		}
		n <<= 4
		n |= uint64(b)
	}
	return n, nil
}
