package wire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpflow/hdr"
)

func newCodec(input string) (*Codec, *bytes.Buffer) {
	var out bytes.Buffer
	r := bufio.NewReader(strings.NewReader(input))
	w := bufio.NewWriter(&out)
	return NewCodec(r, w), &out
}

func TestCodecReadsIdentityBody(t *testing.T) {
	c, _ := newCodec("POST /upload HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")

	head, err := c.NextInbound()
	require.NoError(t, err)
	assert.Equal(t, InboundHead, head.Kind)
	assert.Equal(t, "POST", head.Method)
	assert.Equal(t, "/upload", head.Target)
	assert.Equal(t, 1, head.ProtoMajor)
	assert.Equal(t, 1, head.ProtoMinor)

	body, err := c.NextInbound()
	require.NoError(t, err)
	assert.Equal(t, InboundBody, body.Kind)
	assert.Equal(t, "hello", string(body.Bytes))

	end, err := c.NextInbound()
	require.NoError(t, err)
	assert.Equal(t, InboundEnd, end.Kind)
}

func TestCodecReadsChunkedBody(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	c, _ := newCodec(raw)

	_, err := c.NextInbound()
	require.NoError(t, err)

	var got []byte
	for {
		part, err := c.NextInbound()
		require.NoError(t, err)
		if part.Kind == InboundEnd {
			break
		}
		got = append(got, part.Bytes...)
	}
	assert.Equal(t, "Wikipedia", string(got))
}

func TestCodecGetHasNoBodyByDefault(t *testing.T) {
	c, _ := newCodec("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")

	_, err := c.NextInbound()
	require.NoError(t, err)

	end, err := c.NextInbound()
	require.NoError(t, err)
	assert.Equal(t, InboundEnd, end.Kind)
}

func TestCodecWritesChunkedOutbound(t *testing.T) {
	c, out := newCodec("")

	h := make(hdr.Header)
	require.NoError(t, c.WriteOutbound(OutboundPart{
		Kind: OutboundHead, ProtoMajor: 1, ProtoMinor: 1, Status: 200, Reason: "OK", Header: h, Chunked: true,
	}))
	require.NoError(t, c.WriteOutbound(OutboundPart{Kind: OutboundBody, Bytes: []byte("abc")}))
	require.NoError(t, c.WriteOutbound(OutboundPart{Kind: OutboundEnd}))

	s := out.String()
	assert.Contains(t, s, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, s, "3\r\nabc\r\n")
	assert.Contains(t, s, "0\r\n\r\n")
}

func TestCodecWritesIdentityOutbound(t *testing.T) {
	c, out := newCodec("")

	h := make(hdr.Header)
	h.Set(hdr.ContentLength, "3")
	require.NoError(t, c.WriteOutbound(OutboundPart{
		Kind: OutboundHead, ProtoMajor: 1, ProtoMinor: 1, Status: 200, Reason: "OK", Header: h,
	}))
	require.NoError(t, c.WriteOutbound(OutboundPart{Kind: OutboundBody, Bytes: []byte("abc")}))
	require.NoError(t, c.WriteOutbound(OutboundPart{Kind: OutboundEnd}))

	s := out.String()
	assert.Contains(t, s, "Content-Length: 3\r\n")
	assert.True(t, bytes.HasSuffix(out.Bytes(), []byte("abc")))
}

func TestCodecWriteInterimContinueThenRealHead(t *testing.T) {
	c, out := newCodec("")

	require.NoError(t, c.WriteInterimContinue())

	h := make(hdr.Header)
	h.Set(hdr.ContentLength, "2")
	require.NoError(t, c.WriteOutbound(OutboundPart{
		Kind: OutboundHead, ProtoMajor: 1, ProtoMinor: 1, Status: 200, Reason: "OK", Header: h,
	}))
	require.NoError(t, c.WriteOutbound(OutboundPart{Kind: OutboundBody, Bytes: []byte("hi")}))
	require.NoError(t, c.WriteOutbound(OutboundPart{Kind: OutboundEnd}))

	s := out.String()
	assert.True(t, strings.HasPrefix(s, "HTTP/1.1 100 Continue\r\n\r\n"))
	assert.Contains(t, s, "HTTP/1.1 200 OK\r\n")
}

func TestParseHexUint(t *testing.T) {
	n, err := parseHexUint([]byte("1a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(26), n)

	_, err = parseHexUint([]byte("zz"))
	assert.Error(t, err)
}
