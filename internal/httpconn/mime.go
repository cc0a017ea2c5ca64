package httpconn

import "strings"

// mimeTypes is the static extension->content-type lookup for files served
// out of srcDir.
var mimeTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".txt":  "text/plain",
}

func mimeType(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		if ct, ok := mimeTypes[path[i:]]; ok {
			return ct
		}
	}
	return "application/octet-stream"
}
