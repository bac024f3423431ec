/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import (
	"strings"
	"sync"
	"time"
)

const (
	toLower = 'a' - 'A'

	// Common HTTP header names. Of these, the wire codec and coordinator
	// reference Connection, ContentLength, ContentType, Expect and
	// TransferEncoding; the rest are available to handler code and are
	// interned by commonHeader. The teacher's table also carried the
	// net/mail-flavored headers (Cc, DkimSignature, InReplyTo, MessageId,
	// Subject, To, ...) a mail transfer agent cares about; a request/response
	// coordinator never frames a mail message, so that half of the table is
	// gone rather than ported unused.
	Accept           = "Accept"
	AcceptCharset    = "Accept-Charset"
	AcceptEncoding   = "Accept-Encoding"
	AcceptLanguage   = "Accept-Language"
	AcceptRanges     = "Accept-Ranges"
	Authorization    = "Authorization"
	CacheControl     = "Cache-Control"
	Connection       = "Connection"
	ContentEncoding  = "Content-Encoding"
	ContentLanguage  = "Content-Language"
	ContentLength    = "Content-Length"
	ContentRange     = "Content-Range"
	ContentType      = "Content-Type"
	CookieHeader     = "Cookie"
	Date             = "Date"
	Etag             = "Etag"
	Expires          = "Expires"
	Expect           = "Expect"
	Host             = "Host"
	IfModifiedSince  = "If-Modified-Since"
	IfNoneMatch      = "If-None-Match"
	LastModified     = "Last-Modified"
	Location         = "Location"
	Pragma           = "Pragma"
	Referer          = "Referer"
	ServerHeader     = "Server"
	SetCookieHeader  = "Set-Cookie"
	TransferEncoding = "Transfer-Encoding"
	Trailer          = "Trailer"
	UpgradeHeader    = "Upgrade"
	UserAgent        = "User-Agent"
	Via              = "Via"
	XForwardedFor    = "X-Forwarded-For"
	XPoweredBy       = "X-Powered-By"

	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

var (
	timeFormats = []string{
		TimeFormat,
		time.RFC850,
		time.ANSIC,
	}

	// HeaderNewlineToSpace replaces the newline characters that header.Write
	// must not emit into a single line with a plain space.
	HeaderNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

	headerSorterPool = sync.Pool{
		New: func() interface{} { return new(headerSorter) },
	}

	// commonHeader interns the canonical form of the header names listed
	// above, so CanonicalHeaderKey doesn't allocate a new string every time
	// it canonicalizes a Host or Content-Length off the wire.
	commonHeader = make(map[string]string)

	// isTokenTable is a copy of net/http/lex.go's isTokenTable.
	// See https://httpwg.github.io/specs/rfc7230.html#rule.token.separators
	isTokenTable = [127]bool{
		'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
		'8': true, '9': true,

		'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
		'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
		'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
		'y': true, 'z': true,

		'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
		'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
		'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
		'Y': true, 'Z': true,

		'!':  true,
		'#':  true,
		'$':  true,
		'%':  true,
		'&':  true,
		'\'': true,
		'*':  true,
		'+':  true,
		'-':  true,
		'.':  true,
		'^':  true,
		'_':  true,
		'`':  true,
		'|':  true,
		'~':  true,
	}
)

func init() {
	for _, v := range []string{
		Accept,
		AcceptCharset,
		AcceptEncoding,
		AcceptLanguage,
		AcceptRanges,
		Authorization,
		CacheControl,
		Connection,
		ContentEncoding,
		ContentLanguage,
		ContentLength,
		ContentRange,
		ContentType,
		CookieHeader,
		Date,
		Etag,
		Expires,
		Expect,
		Host,
		IfModifiedSince,
		IfNoneMatch,
		LastModified,
		Location,
		Pragma,
		Referer,
		ServerHeader,
		SetCookieHeader,
		TransferEncoding,
		Trailer,
		UpgradeHeader,
		UserAgent,
		Via,
		XForwardedFor,
		XPoweredBy,
	} {
		commonHeader[v] = v
	}
}

type (
	// A Header represents the key-value pairs in an HTTP header.
	Header map[string][]string

	keyValues struct {
		key    string
		values []string
	}

	// A headerSorter implements sort.Interface by sorting a []keyValues
	// by key. It's used as a pointer, so it can fit in a sort.Interface
	// interface value without allocation.
	headerSorter struct {
		kvs []keyValues
	}
)

func (s *headerSorter) Len() int      { return len(s.kvs) }
func (s *headerSorter) Swap(i, j int) { s.kvs[i], s.kvs[j] = s.kvs[j], s.kvs[i] }

func (s *headerSorter) Less(i, j int) bool { return s.kvs[i].key < s.kvs[j].key }
