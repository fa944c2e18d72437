package httpproto

import "strings"

// mimeTypes mirrors the original's SUFFIX_TYPE table exactly.
var mimeTypes = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

// statusText mirrors CODE_STATUS.
var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	503: "Service Unavailable",
}

// errorPagePath mirrors CODE_PATH — 503 has no dedicated static page in
// the original table, it always falls through to the generated body.
var errorPagePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

func fileType(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return "text/plain"
	}
	if t, ok := mimeTypes[path[idx:]]; ok {
		return t
	}
	return "text/plain"
}
