package httpproto

import (
	"testing"

	"github.com/xtaci/vortexd/buffer"
)

func TestParseSimpleGet(t *testing.T) {
	b := buffer.New(64)
	defer b.Release()
	b.Append([]byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n"))

	req, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != "GET" || req.Path != "/index.html" || req.Version != "HTTP/1.1" {
		t.Fatalf("parsed = %+v", req)
	}
	if !req.KeepAlive {
		t.Fatal("KeepAlive should be true for explicit keep-alive header")
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("Parse must consume the whole request, %d bytes left", b.ReadableBytes())
	}
}

func TestParseRootRewritesToIndex(t *testing.T) {
	b := buffer.New(64)
	defer b.Release()
	b.Append([]byte("GET / HTTP/1.1\r\n\r\n"))

	req, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if req.Path != "/index.html" {
		t.Fatalf("Path = %q, want /index.html", req.Path)
	}
}

func TestParseKeepAliveDefaultsByVersion(t *testing.T) {
	b := buffer.New(64)
	defer b.Release()
	b.Append([]byte("GET /a HTTP/1.0\r\n\r\n"))
	req, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if req.KeepAlive {
		t.Fatal("HTTP/1.0 with no Connection header must default to non-keep-alive")
	}
}

func TestParseMalformedRequestLine(t *testing.T) {
	b := buffer.New(64)
	defer b.Release()
	b.Append([]byte("GARBAGE\r\n\r\n"))
	if _, err := Parse(b); err != ErrMalformed {
		t.Fatalf("Parse = %v, want ErrMalformed", err)
	}
}

func TestParseIncompleteRequestIsMalformed(t *testing.T) {
	b := buffer.New(64)
	defer b.Release()
	b.Append([]byte("GET /a HTTP/1.1\r\nHost: x"))
	if _, err := Parse(b); err != ErrMalformed {
		t.Fatalf("Parse on headers without terminator = %v, want ErrMalformed", err)
	}
}

func TestParsePostFormBody(t *testing.T) {
	b := buffer.New(64)
	defer b.Release()
	body := "username=alice&password=hunter2"
	req := "POST /login HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: " +
		itoa(len(body)) + "\r\n\r\n" + body
	b.Append([]byte(req))

	parsed, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Form.Get("username") != "alice" || parsed.Form.Get("password") != "hunter2" {
		t.Fatalf("Form = %v", parsed.Form)
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("Parse must consume the form body too, %d bytes left", b.ReadableBytes())
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
