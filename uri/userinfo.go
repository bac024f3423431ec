/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package uri

// Username returns the username carried by an authority-form target's
// userinfo@host, e.g. a proxy CONNECT request. Safe to call on a nil
// receiver: most request-line targets never carry one.
func (u *Userinfo) Username() string {
	if u == nil {
		return ""
	}
	return u.username
}

// Password returns the password, and whether one was present at all - a
// bare "user@host" reports ("", false), while "user:@host" reports a
// present, empty password as ("", true).
func (u *Userinfo) Password() (string, bool) {
	if u == nil {
		return "", false
	}
	return u.password, u.passwordSet
}

// String returns the percent-encoded "username[:password]" form.
func (u *Userinfo) String() string {
	if u == nil {
		return ""
	}
	s := escape(u.username, encodeUserPassword)
	if u.passwordSet {
		s += ":" + escape(u.password, encodeUserPassword)
	}
	return s
}
