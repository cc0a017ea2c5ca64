package httpconn

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/goreactor/internal/bytebuf"
)

func TestParseRequestLineAndHeaders(t *testing.T) {
	buf := bytebuf.New()
	buf.Append([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"))

	req, err := ParseRequest(buf)
	require.NoError(t, err)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/index.html", req.Path)
	require.True(t, req.KeepAlive)
	require.Equal(t, 0, buf.ReadableLen())
}

func TestParseIncompleteRequest(t *testing.T) {
	buf := bytebuf.New()
	buf.Append([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\n"))

	_, err := ParseRequest(buf)
	require.ErrorIs(t, err, ErrIncomplete)
	// nothing should have been consumed on an incomplete parse
	require.Equal(t, len("GET /index.html HTTP/1.1\r\nHost: x\r\n"), buf.ReadableLen())
}

func TestParseMalformedRequestLine(t *testing.T) {
	buf := bytebuf.New()
	buf.Append([]byte("NOTAVERB\r\n\r\n"))

	_, err := ParseRequest(buf)
	require.ErrorIs(t, err, ErrParse)
}

func TestParsePostWithBody(t *testing.T) {
	buf := bytebuf.New()
	body := "username=a&password=b"
	buf.Append([]byte("POST /login HTTP/1.1\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body))

	req, err := ParseRequest(buf)
	require.NoError(t, err)
	require.Equal(t, body, string(req.Body))
}

func TestParseWaitsForFullBody(t *testing.T) {
	buf := bytebuf.New()
	buf.Append([]byte("POST /login HTTP/1.1\r\nContent-Length: 20\r\n\r\nshort"))

	_, err := ParseRequest(buf)
	require.ErrorIs(t, err, ErrIncomplete)
}
