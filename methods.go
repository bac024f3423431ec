/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpflow

// HTTP method and protocol-version string constants, carried over from the
// teacher's types_strings.go for handler code that wants to compare
// Request.Method without typing string literals.
const (
	GET     = "GET"
	POST    = "POST"
	CONNECT = "CONNECT"
	DELETE  = "DELETE"
	HEAD    = "HEAD"
	OPTIONS = "OPTIONS"
	PUT     = "PUT"
	PATCH   = "PATCH"
	TRACE   = "TRACE"

	HTTP1_1 = "HTTP/1.1"
	HTTP1_0 = "HTTP/1.0"
)
