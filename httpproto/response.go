package httpproto

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/xtaci/vortexd/buffer"
)

// MappedFile is a read-only mmap'd static file region, pointed to by a
// connection's second iovec slot for zero-copy writes.
type MappedFile struct {
	Data []byte
}

// Close unmaps the file. Safe to call on a nil *MappedFile.
func (m *MappedFile) Close() error {
	if m == nil || m.Data == nil {
		return nil
	}
	return unix.Munmap(m.Data)
}

// Handler resolves static files under SrcDir and services the
// credential-check routes against DB.
type Handler struct {
	SrcDir string
	DB     CredentialChecker
}

// CredentialChecker is satisfied by dbpool.Pool's credential-check query
// path; kept as an interface here so httpproto doesn't import dbpool's
// database/sql concrete types directly.
type CredentialChecker interface {
	CheckCredentials(username, password string) (bool, error)
}

// MakeResponse resolves req against the filesystem (or, for /login and
// /register, against DB), appends the status line, headers, and body (or
// Content-length header priming a mmap'd file region) to out, and
// returns the final status code plus the mapped file, if any.
//
// initialCode seeds the status before the filesystem check runs: pass 0
// ("unset") to let the file state alone decide between 200/403/404, or
// an explicit terminal code (400, from a parser failure in httpconn) to
// keep it — a request that failed to parse has no resource to resolve,
// so the filesystem check is skipped entirely rather than being allowed
// to demote it to 404/403 on whatever placeholder path accompanies it.
func (h *Handler) MakeResponse(req *Request, out *buffer.Buffer, initialCode int) (code int, file *MappedFile) {
	if req.Method == "POST" && (req.Path == "/login" || req.Path == "/register") {
		return h.handleCredentials(req, out)
	}

	code = initialCode
	path := req.Path
	fullPath := h.SrcDir + path

	if _, isTerminal := errorPagePath[code]; !isTerminal {
		info, err := os.Stat(fullPath)
		switch {
		case err != nil || info.IsDir():
			code = 404
		case info.Mode().Perm()&0o004 == 0:
			code = 403
		default:
			code = 200
		}
	}

	if errPath, isErr := errorPagePath[code]; isErr {
		path = errPath
		fullPath = h.SrcDir + path
	}

	addStateLine(out, code)
	addHeader(out, req.KeepAlive, fileType(path))

	f, err := os.Open(fullPath)
	if err != nil {
		writeErrorContent(out, code, "File NotFound!!!")
		return code, nil
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		writeErrorContent(out, code, "File NotFound!!!")
		return code, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		writeErrorContent(out, code, "File NotFound!!!!!")
		return code, nil
	}

	out.Append([]byte(fmt.Sprintf("Content-length: %d\r\n\r\n", len(data))))
	return code, &MappedFile{Data: data}
}

func (h *Handler) handleCredentials(req *Request, out *buffer.Buffer) (code int, file *MappedFile) {
	username := req.Form.Get("username")
	password := req.Form.Get("password")

	if h.DB == nil {
		addStateLine(out, 503)
		addHeader(out, req.KeepAlive, "text/html")
		writeErrorContent(out, 503, "database unavailable")
		return 503, nil
	}

	ok, err := h.DB.CheckCredentials(username, password)
	switch {
	case err != nil:
		code = 503
	case ok:
		code = 200
	default:
		code = 400
	}

	addStateLine(out, code)
	addHeader(out, req.KeepAlive, "text/html")
	msg := "invalid credentials"
	if ok {
		msg = "welcome"
	}
	if err != nil {
		msg = "database unavailable"
	}
	writeErrorContent(out, code, msg)
	return code, nil
}

func addStateLine(out *buffer.Buffer, code int) {
	status, ok := statusText[code]
	if !ok {
		code = 400
		status = statusText[400]
	}
	out.Append([]byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, status)))
}

func addHeader(out *buffer.Buffer, keepAlive bool, contentType string) {
	out.Append([]byte("Connection: "))
	if keepAlive {
		out.Append([]byte("keep-alive\r\n"))
		out.Append([]byte("Keep-Alive: max=6, timeout=120\r\n"))
	} else {
		out.Append([]byte("close\r\n"))
	}
	out.Append([]byte(fmt.Sprintf("Content-type: %s\r\n", contentType)))
}

func writeErrorContent(out *buffer.Buffer, code int, message string) {
	status, ok := statusText[code]
	if !ok {
		status = "Bad Request"
	}
	body := "<html><title>Error</title>" +
		"<body bgcolor=\"ffffff\">" +
		fmt.Sprintf("%d : %s\n", code, status) +
		"<p>" + message + "</p>" +
		"<hr><em>TinyWebServer</em></body></html>"
	out.Append([]byte(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body))))
	out.Append([]byte(body))
}
