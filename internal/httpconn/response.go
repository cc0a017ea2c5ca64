package httpconn

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/xtaci/goreactor/internal/dbpool"
)

// Response is the result of BuildResponse: a serialized head the reactor
// writes via iov[0], and an optional memory-mapped file body for iov[1].
type Response struct {
	Status    int
	Head      []byte // status line + headers + trailing CRLF
	File      *mmapFile
	KeepAlive bool
}

var statusText = map[int]string{
	200: "OK",
	301: "Moved Permanently",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
	503: "Service Unavailable",
}

// BuildResponse turns a parsed Request into a response: a static file
// from srcDir, a login/registration form action backed by db, or an
// error page.
func BuildResponse(req *Request, srcDir string, db *dbpool.Pool) (*Response, error) {
	switch {
	case req.Method == "POST" && (req.Path == "/login" || req.Path == "/register"):
		return buildFormActionResponse(req, db)
	case req.Method == "GET" || req.Method == "HEAD":
		return buildStaticResponse(req, srcDir)
	default:
		return errorResponse(400, req.KeepAlive), nil
	}
}

// Overload503 builds the inline 503 the reactor writes when accepting a
// connection would exceed its fd cap.
func Overload503() *Response {
	return errorResponse(503, false)
}

// BadRequest400 builds the inline 400 the reactor writes on ParseError.
func BadRequest400() *Response {
	return errorResponse(400, false)
}

func errorResponse(status int, keepAlive bool) *Response {
	body := fmt.Sprintf("<html><body><h1>%d %s</h1></body></html>", status, statusText[status])
	return &Response{
		Status:    status,
		Head:      renderHead(status, "text/html", len(body), keepAlive, []byte(body)),
		KeepAlive: keepAlive,
	}
}

func buildStaticResponse(req *Request, srcDir string) (*Response, error) {
	rel := req.Path
	if rel == "/" {
		rel = "/index.html"
	}
	if strings.Contains(rel, "..") {
		return errorResponse(403, req.KeepAlive), nil
	}
	full := filepath.Join(srcDir, filepath.Clean(rel))
	if !strings.HasPrefix(full, filepath.Clean(srcDir)+string(filepath.Separator)) {
		return errorResponse(403, req.KeepAlive), nil
	}

	mm, err := mmapOpen(full)
	if err != nil {
		return errorResponse(404, req.KeepAlive), nil
	}

	ct := mimeType(full)
	head := renderHead(200, ct, len(mm.data), req.KeepAlive, nil)
	if req.Method == "HEAD" {
		mm.Close()
		mm = nil
	}
	return &Response{Status: 200, Head: head, File: mm, KeepAlive: req.KeepAlive}, nil
}

// buildFormActionResponse handles the login/registration form against the
// users table through a leased pool connection.
func buildFormActionResponse(req *Request, db *dbpool.Pool) (*Response, error) {
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return errorResponse(400, req.KeepAlive), nil
	}
	user := form.Get("username")
	pass := form.Get("password")
	if user == "" || pass == "" {
		return errorResponse(400, req.KeepAlive), nil
	}
	if db == nil {
		return errorResponse(500, req.KeepAlive), nil
	}

	lease, err := db.Acquire(context.Background())
	if err != nil {
		return errorResponse(500, req.KeepAlive), nil
	}
	defer lease.Release()

	var ok bool
	var queryErr error
	if req.Path == "/register" {
		_, queryErr = lease.Conn().Exec(context.Background(),
			`INSERT INTO users(username, password) VALUES ($1, $2) ON CONFLICT DO NOTHING`, user, pass)
		ok = queryErr == nil
	} else {
		row := lease.Conn().QueryRow(context.Background(),
			`SELECT 1 FROM users WHERE username=$1 AND password=$2`, user, pass)
		var one int
		ok = row.Scan(&one) == nil
	}

	if !ok {
		return errorResponse(400, req.KeepAlive), nil
	}
	body := "<html><body><h1>OK</h1></body></html>"
	return &Response{
		Status:    200,
		Head:      renderHead(200, "text/html", len(body), req.KeepAlive, []byte(body)),
		KeepAlive: req.KeepAlive,
	}, nil
}

// renderHead serializes the status line and headers; when inlineBody is
// non-nil it is appended to the head itself (small error/text bodies don't
// need a separate mmap iovec).
func renderHead(status int, contentType string, contentLength int, keepAlive bool, inlineBody []byte) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", status, statusText[status])
	fmt.Fprintf(&sb, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&sb, "Content-Length: %d\r\n", contentLength)
	if keepAlive {
		sb.WriteString("Connection: keep-alive\r\n")
	} else {
		sb.WriteString("Connection: close\r\n")
	}
	sb.WriteString("\r\n")
	if inlineBody != nil {
		sb.Write(inlineBody)
	}
	return []byte(sb.String())
}
