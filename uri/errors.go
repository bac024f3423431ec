/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package uri

import "strconv"

// Error reports an error and the operation and target that caused it.
// ParseRequestURI wraps every parse failure in one of these so a caller
// logging a rejected request line sees the raw target, not just "invalid
// percent-encoding".
func (e *Error) Error() string { return e.Op + " " + e.URL + ": " + e.Err.Error() }

func (e *Error) Timeout() bool {
	t, ok := e.Err.(timeout)
	return ok && t.Timeout()
}

func (e *Error) Temporary() bool {
	t, ok := e.Err.(temporary)
	return ok && t.Temporary()
}

// EscapeError is returned by unescape when a percent-encoded target
// contains a '%' not followed by two hex digits, or (in host mode) an
// encoded ASCII byte other than %25.
func (e EscapeError) Error() string {
	return "invalid URL escape " + strconv.Quote(string(e))
}
