// Package httpproto implements the pluggable request parser and response
// builder the reactor's HttpConnection delegates to: request-line/header
// parsing, keep-alive derivation, MIME lookup, static file resolution,
// and the credential-check routes backed by dbpool.
package httpproto

import (
	"bytes"
	"errors"
	"net/url"
	"strings"

	"github.com/xtaci/vortexd/buffer"
)

// maxFormBytes bounds the in-memory form body this parser will decode —
// the "optional form fields" capability the distilled spec names without
// detailing; original_source has no form support at all, so this is a
// dropped feature restored here rather than a transliteration.
const maxFormBytes = 1 << 16

// ErrMalformed is returned by Parse for any request-line or header
// syntax error; callers respond 400 and close the connection.
var ErrMalformed = errors.New("httpproto: malformed request")

// Request is the parsed state of one HTTP/1.1 request.
type Request struct {
	Method    string
	Path      string
	Version   string
	Headers   map[string]string
	KeepAlive bool
	Form      url.Values
}

// Parse consumes exactly one HTTP/1.1 request from buf's readable
// region, advancing buf past the parsed bytes (headers plus any
// decoded form body) on success. It returns ErrMalformed on any syntax
// violation; callers must not retry parsing on the same buffer state.
func Parse(buf *buffer.Buffer) (*Request, error) {
	data := buf.Peek()
	headerEnd := bytes.Index(data, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, ErrMalformed
	}

	head := data[:headerEnd]
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 {
		return nil, ErrMalformed
	}

	req := &Request{Headers: make(map[string]string)}
	if err := parseRequestLine(lines[0], req); err != nil {
		return nil, err
	}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, ErrMalformed
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		req.Headers[strings.ToLower(key)] = val
	}
	req.KeepAlive = deriveKeepAlive(req)

	consumed := headerEnd + len("\r\n\r\n")

	if req.Method == "POST" {
		if ct := req.Headers["content-type"]; strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
			clen, ok := contentLength(req)
			if !ok {
				return nil, ErrMalformed
			}
			if clen > maxFormBytes {
				return nil, ErrMalformed
			}
			if len(data) < consumed+clen {
				return nil, ErrMalformed // body not fully buffered yet
			}
			body := data[consumed : consumed+clen]
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return nil, ErrMalformed
			}
			req.Form = form
			consumed += clen
		}
	}

	buf.RetrieveUntil(consumed)
	return req, nil
}

func parseRequestLine(line string, req *Request) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return ErrMalformed
	}
	method, path, version := parts[0], parts[1], parts[2]
	if method == "" || !strings.HasPrefix(path, "/") || !strings.HasPrefix(version, "HTTP/") {
		return ErrMalformed
	}
	req.Method = method
	req.Path = path
	req.Version = version
	if req.Path == "/" {
		req.Path = "/index.html"
	}
	return nil
}

func deriveKeepAlive(req *Request) bool {
	conn := strings.ToLower(req.Headers["connection"])
	if conn == "keep-alive" {
		return true
	}
	if conn == "close" {
		return false
	}
	return req.Version == "HTTP/1.1"
}

func contentLength(req *Request) (int, bool) {
	v, ok := req.Headers["content-length"]
	if !ok {
		return 0, false
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
