package httpconn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildStaticResponseServesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))

	req := &Request{Method: "GET", Path: "/index.html", KeepAlive: true}
	resp, err := BuildResponse(req, dir, nil)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Contains(t, string(resp.Head), "200 OK")
	require.Contains(t, string(resp.Head), "Content-Length: 5")
	require.NotNil(t, resp.File)
	require.Equal(t, "hello", string(resp.File.data))
	resp.File.Close()
}

func TestBuildStaticResponseMissingFileIs404(t *testing.T) {
	dir := t.TempDir()
	req := &Request{Method: "GET", Path: "/missing.html", KeepAlive: true}
	resp, err := BuildResponse(req, dir, nil)
	require.NoError(t, err)
	require.Equal(t, 404, resp.Status)
}

func TestBuildStaticResponseRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	req := &Request{Method: "GET", Path: "/../../../etc/passwd", KeepAlive: true}
	resp, err := BuildResponse(req, dir, nil)
	require.NoError(t, err)
	require.Equal(t, 403, resp.Status)
}

func TestUnsupportedMethodIs400(t *testing.T) {
	req := &Request{Method: "PUT", Path: "/x"}
	resp, err := BuildResponse(req, "/tmp", nil)
	require.NoError(t, err)
	require.Equal(t, 400, resp.Status)
}
