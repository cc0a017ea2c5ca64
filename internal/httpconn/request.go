// Package httpconn implements the per-fd connection state and, behind it,
// the request parser and response builder the worker pool runs off the
// reactor goroutine: enough to serve static files from srcDir plus the
// login/registration form actions.
package httpconn

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/xtaci/goreactor/internal/bytebuf"
)

// Sentinel parse results: an incomplete request keeps reading, a
// malformed one turns into a 400.
var (
	ErrIncomplete = errors.New("httpconn: request incomplete")
	ErrParse      = errors.New("httpconn: malformed request")
)

// Request is the parsed request line, headers, and body.
type Request struct {
	Method     string
	Path       string
	Query      string
	Version    string
	Headers    map[string]string
	Body       []byte
	KeepAlive  bool
}

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateDone
)

// requestParser holds the parse state for a single ParseRequest call. It
// is not kept between calls: a request that was incomplete is parsed again
// from its first byte once more data has arrived.
type requestParser struct {
	state         parseState
	req           Request
	contentLength int
}

// ParseRequest attempts to parse one full request out of buf's readable
// region, consuming exactly the bytes that belonged to it. It returns
// ErrIncomplete if more bytes are needed and ErrParse on malformed input;
// in both cases no bytes are consumed beyond what was fully parsed.
func ParseRequest(buf *bytebuf.Buffer) (*Request, error) {
	p := &requestParser{state: stateRequestLine, req: Request{Headers: map[string]string{}}}

	data := buf.Peek()
	consumed := 0

	for p.state != stateDone {
		switch p.state {
		case stateRequestLine, stateHeaders:
			idx := indexCRLF(data[consumed:])
			if idx < 0 {
				return nil, ErrIncomplete
			}
			line := string(data[consumed : consumed+idx])
			consumed += idx + 2

			if p.state == stateRequestLine {
				if err := p.parseRequestLine(line); err != nil {
					return nil, err
				}
				p.state = stateHeaders
				continue
			}

			if line == "" {
				if p.contentLength > 0 {
					p.state = stateBody
				} else {
					p.state = stateDone
				}
				continue
			}
			if err := p.parseHeaderLine(line); err != nil {
				return nil, err
			}

		case stateBody:
			remaining := len(data) - consumed
			if remaining < p.contentLength {
				return nil, ErrIncomplete
			}
			p.req.Body = append([]byte(nil), data[consumed:consumed+p.contentLength]...)
			consumed += p.contentLength
			p.state = stateDone
		}
	}

	if err := buf.Consume(consumed); err != nil {
		return nil, errors.Wrap(err, "httpconn: consume parsed request")
	}
	return &p.req, nil
}

func (p *requestParser) parseRequestLine(line string) error {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return ErrParse
	}
	method, target, version := parts[0], parts[1], parts[2]
	if method != "GET" && method != "POST" && method != "HEAD" {
		return ErrParse
	}
	if !strings.HasPrefix(version, "HTTP/1.") {
		return ErrParse
	}

	path, query := target, ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		path, query = target[:i], target[i+1:]
	}

	p.req.Method = method
	p.req.Path = path
	p.req.Query = query
	p.req.Version = version
	// HTTP/1.1 defaults to keep-alive unless overridden by a header.
	p.req.KeepAlive = version == "HTTP/1.1"
	return nil
}

func (p *requestParser) parseHeaderLine(line string) error {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return ErrParse
	}
	key := strings.TrimSpace(line[:i])
	val := strings.TrimSpace(line[i+1:])
	p.req.Headers[strings.ToLower(key)] = val

	switch strings.ToLower(key) {
	case "content-length":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return ErrParse
		}
		p.contentLength = n
	case "connection":
		switch strings.ToLower(val) {
		case "keep-alive":
			p.req.KeepAlive = true
		case "close":
			p.req.KeepAlive = false
		}
	}
	return nil
}

// indexCRLF returns the index of the first "\r\n" in b, or -1.
func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}
