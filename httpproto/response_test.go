package httpproto

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtaci/vortexd/buffer"
)

type fakeChecker struct {
	ok  bool
	err error
}

func (f fakeChecker) CheckCredentials(username, password string) (bool, error) {
	return f.ok, f.err
}

func TestMakeResponseServesStaticFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.html"), []byte("<p>hi</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := &Handler{SrcDir: dir}
	out := buffer.New(64)
	defer out.Release()

	req := &Request{Method: "GET", Path: "/a.html", Version: "HTTP/1.1", KeepAlive: true}
	code, file := h.MakeResponse(req, out, 0)
	if code != 200 {
		t.Fatalf("code = %d, want 200", code)
	}
	if file == nil {
		t.Fatal("expected a mapped file for an existing readable file")
	}
	defer file.Close()
	if string(file.Data) != "<p>hi</p>" {
		t.Fatalf("mapped data = %q", file.Data)
	}
	if !strings.Contains(string(out.Peek()), "200 OK") {
		t.Fatalf("status line missing: %q", out.Peek())
	}
}

func TestMakeResponseMissingFileIs404(t *testing.T) {
	dir := t.TempDir()
	h := &Handler{SrcDir: dir}
	out := buffer.New(64)
	defer out.Release()

	req := &Request{Method: "GET", Path: "/missing.html", Version: "HTTP/1.1"}
	code, file := h.MakeResponse(req, out, 0)
	if code != 404 {
		t.Fatalf("code = %d, want 404", code)
	}
	if file != nil {
		file.Close()
	}
	if !strings.Contains(string(out.Peek()), "404") {
		t.Fatalf("body missing 404 status: %q", out.Peek())
	}
}

func TestMakeResponseUnreadableFileIs403(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "secret.html")
	if err := os.WriteFile(p, []byte("shh"), 0o600); err != nil {
		t.Fatal(err)
	}
	if os.Geteuid() == 0 {
		t.Skip("running as root, permission bits don't apply")
	}
	h := &Handler{SrcDir: dir}
	out := buffer.New(64)
	defer out.Release()

	req := &Request{Method: "GET", Path: "/secret.html", Version: "HTTP/1.1"}
	code, file := h.MakeResponse(req, out, 0)
	if code != 403 {
		t.Fatalf("code = %d, want 403", code)
	}
	if file != nil {
		file.Close()
	}
}

func TestMakeResponseMalformedRequestKeeps400(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "400.html"), []byte("bad request"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := &Handler{SrcDir: dir}
	out := buffer.New(64)
	defer out.Release()

	req := &Request{KeepAlive: false}
	code, file := h.MakeResponse(req, out, 400)
	if code != 400 {
		t.Fatalf("code = %d, want 400 preserved from parse failure", code)
	}
	if file != nil {
		file.Close()
	}
	if !strings.Contains(string(out.Peek()), "400 Bad Request") {
		t.Fatalf("status line missing 400: %q", out.Peek())
	}
}

func TestMakeResponseMalformedRequestWithoutErrorPage(t *testing.T) {
	h := &Handler{SrcDir: t.TempDir()}
	out := buffer.New(64)
	defer out.Release()

	req := &Request{KeepAlive: false}
	code, file := h.MakeResponse(req, out, 400)
	if code != 400 {
		t.Fatalf("code = %d, want 400 even when /400.html is missing", code)
	}
	if file != nil {
		file.Close()
	}
}

func TestMakeResponseLoginSuccess(t *testing.T) {
	h := &Handler{SrcDir: t.TempDir(), DB: fakeChecker{ok: true}}
	out := buffer.New(64)
	defer out.Release()

	req := &Request{Method: "POST", Path: "/login", Version: "HTTP/1.1",
		Form: map[string][]string{"username": {"alice"}, "password": {"hunter2"}}}
	code, _ := h.MakeResponse(req, out, 0)
	if code != 200 {
		t.Fatalf("code = %d, want 200", code)
	}
}

func TestMakeResponseLoginBadCredentials(t *testing.T) {
	h := &Handler{SrcDir: t.TempDir(), DB: fakeChecker{ok: false}}
	out := buffer.New(64)
	defer out.Release()

	req := &Request{Method: "POST", Path: "/login", Version: "HTTP/1.1",
		Form: map[string][]string{"username": {"alice"}, "password": {"wrong"}}}
	code, _ := h.MakeResponse(req, out, 0)
	if code != 400 {
		t.Fatalf("code = %d, want 400", code)
	}
}

func TestMakeResponseLoginPoolExhausted(t *testing.T) {
	h := &Handler{SrcDir: t.TempDir(), DB: fakeChecker{err: errors.New("pool exhausted")}}
	out := buffer.New(64)
	defer out.Release()

	req := &Request{Method: "POST", Path: "/login", Version: "HTTP/1.1",
		Form: map[string][]string{"username": {"alice"}, "password": {"x"}}}
	code, _ := h.MakeResponse(req, out, 0)
	if code != 503 {
		t.Fatalf("code = %d, want 503 on pool error", code)
	}
}
