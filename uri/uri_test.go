package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestURIOriginForm(t *testing.T) {
	u, err := ParseRequestURI("/upload?name=a+b&name=c")
	require.NoError(t, err)
	assert.Equal(t, "/upload", u.Path)
	assert.Equal(t, "name=a+b&name=c", u.RawQuery)

	values := u.Query()
	assert.Equal(t, []string{"a b", "c"}, values["name"])
}

func TestParseRequestURIRejectsRelativeWithoutLeadingSlash(t *testing.T) {
	_, err := ParseRequestURI("upload")
	assert.Error(t, err)
}

func TestParseRequestURIAbsoluteForm(t *testing.T) {
	u, err := ParseRequestURI("http://example.com:8080/a/b?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "example.com:8080", u.Host)
	assert.Equal(t, "example.com", u.Hostname())
	assert.Equal(t, "8080", u.Port())
	assert.Equal(t, "/a/b", u.Path)
	assert.Equal(t, "x=1", u.RawQuery)
}

func TestParseRequestURIAsteriskForm(t *testing.T) {
	u, err := ParseRequestURI("*")
	require.NoError(t, err)
	assert.Equal(t, "*", u.Path)
}

func TestParseRequestURIEscapedPath(t *testing.T) {
	u, err := ParseRequestURI("/a%2Fb/c")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", u.Path)
	assert.Equal(t, "/a%2Fb/c", u.RawPath)
	assert.Equal(t, "/a%2Fb/c", u.EscapedPath())
}

func TestParseRejectsControlBytes(t *testing.T) {
	_, err := Parse("/a\nb")
	assert.Error(t, err)
}

func TestPathAndQueryEscapeRoundTrip(t *testing.T) {
	const raw = "a b/c?d"
	assert.Equal(t, raw, mustUnescape(t, PathEscape(raw), PathUnescape))
	assert.Equal(t, raw, mustUnescape(t, QueryEscape(raw), QueryUnescape))
}

func mustUnescape(t *testing.T, s string, unescapeFn func(string) (string, error)) string {
	t.Helper()
	got, err := unescapeFn(s)
	require.NoError(t, err)
	return got
}

func TestParseQueryMalformedPairIsDroppedWithError(t *testing.T) {
	v, err := ParseQuery("a=1&%zz&b=2")
	assert.Error(t, err)
	assert.Equal(t, []string{"1"}, v["a"])
	assert.Equal(t, []string{"2"}, v["b"])
}

func TestValidHostHeader(t *testing.T) {
	assert.True(t, ValidHostHeader("example.com"))
	assert.True(t, ValidHostHeader("example.com:8080"))
	assert.True(t, ValidHostHeader("[::1]:8080"))
	assert.False(t, ValidHostHeader(""))
	assert.False(t, ValidHostHeader("exa mple.com"))
}

func TestUserinfoString(t *testing.T) {
	u, err := ParseRequestURI("http://example.com/")
	require.NoError(t, err)
	assert.Nil(t, u.User)

	withUser := User("alice")
	assert.Equal(t, "alice", withUser.String())

	withPassword := UserPassword("alice", "secret")
	username, ok := withPassword.Password()
	assert.Equal(t, "secret", username)
	assert.True(t, ok)
}
