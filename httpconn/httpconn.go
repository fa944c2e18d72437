// Package httpconn implements the per-connection state machine: owned
// fd, read/write buffers, the writev iovec pair, and the parsed
// request/response — one instance per accepted socket, reused across
// keep-alive requests until Close.
package httpconn

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xtaci/vortexd/buffer"
	"github.com/xtaci/vortexd/httpproto"
)

// IsET selects edge-triggered read semantics across every connection —
// package-level because the trigger mode is a process-wide configuration
// choice, mirroring the original's static HttpConn::isET.
var IsET bool

// UserCount tracks the number of live connections.
var UserCount int64

const initialBufSize = 1024

// Conn is one HTTP/1.1 connection's state.
type Conn struct {
	fd       int
	peerAddr string
	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer

	iov    [2]unix.Iovec
	iovCnt int

	request  *httpproto.Request
	response *httpproto.MappedFile
	closed   bool

	// LastStatus is the status code of the most recently built response,
	// for the reactor's metrics to sample after Process returns.
	LastStatus int

	// InFlight is true for the duration of a worker task (onRead/onProcess/
	// onWrite) running against this connection. The reactor goroutine
	// checks it before touching fd-owned state: if set, closeConn only
	// raises PendingClose instead of closing, and the worker's own rearm
	// path finishes the teardown once it clears InFlight.
	InFlight atomic.Bool

	// PendingClose is set by the reactor goroutine when it wants to tear
	// the connection down while a worker task is still in flight on it;
	// the worker's rearm path checks this instead of calling poller.Mod.
	PendingClose bool
}

// Init resets c for reuse on a freshly accepted fd.
func Init(fd int, peerAddr string) *Conn {
	c := &Conn{
		fd:       fd,
		peerAddr: peerAddr,
		readBuf:  buffer.New(initialBufSize),
		writeBuf: buffer.New(initialBufSize),
	}
	atomic.AddInt64(&UserCount, 1)
	return c
}

// FD returns the connection's file descriptor.
func (c *Conn) FD() int { return c.fd }

// PeerAddr returns the remote address string recorded at Init.
func (c *Conn) PeerAddr() string { return c.peerAddr }

// Close releases the mapped response file (if any), closes the fd, and
// decrements UserCount. Idempotent via a plain bool guard rather than
// sync.Once — Close always runs on the single goroutine that currently
// owns the connection (reactor or the in-flight worker), never both at
// once, so no further synchronization is needed.
func (c *Conn) Close() error {
	if c.response != nil {
		c.response.Close()
		c.response = nil
	}
	if c.closed {
		return nil
	}
	c.closed = true
	atomic.AddInt64(&UserCount, -1)
	return unix.Close(c.fd)
}

// Closed reports whether Close has already run.
func (c *Conn) Closed() bool { return c.closed }

// Read drains the socket into readBuf. Under edge-triggered mode it
// loops until EAGAIN (or error/EOF); under level-triggered mode a single
// ReadFromFD call is enough since the next readiness notification will
// follow. Returns the last read's byte count (0 means peer closed) and
// any error (including EAGAIN, which callers must treat as "done for
// now", not a failure).
func (c *Conn) Read() (int, error) {
	var n int
	var err error
	for {
		n, err = c.readBuf.ReadFromFD(c.fd)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return n, err
		}
		if !IsET {
			return n, nil
		}
	}
}

// Write drains writeBuf (and any mapped file region) to the socket via
// writev, retiring iov[0] before iov[1] as partial writes land. Loops
// while edge-triggered or while more than 10 KiB remains queued,
// matching the original's ET/backlog heuristic.
func (c *Conn) Write() (int, error) {
	var total int
	for {
		if c.iov[0].Len == 0 && c.iov[1].Len == 0 {
			return total, nil
		}
		cnt := c.iovCnt
		n, err := unix.Writev(c.fd, c.iov[:cnt])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, err
		}
		if n <= 0 {
			return total, nil
		}
		total += n
		c.retire(n)
		if c.ToWriteBytes() == 0 {
			return total, nil
		}
		if !IsET && c.ToWriteBytes() <= 10240 {
			return total, nil
		}
	}
}

func (c *Conn) retire(n int) {
	iov0Len := int(c.iov[0].Len)
	if n < iov0Len {
		c.iov[0].Base = advance(c.iov[0].Base, n)
		c.iov[0].SetLen(iov0Len - n)
		c.writeBuf.Retrieve(n)
		return
	}
	remainder := n - iov0Len
	if iov0Len > 0 {
		c.writeBuf.RetrieveAll()
		c.iov[0].SetLen(0)
	}
	if remainder > 0 {
		c.iov[1].Base = advance(c.iov[1].Base, remainder)
		c.iov[1].SetLen(int(c.iov[1].Len) - remainder)
	}
}

func advance(base *byte, n int) *byte {
	if base == nil || n == 0 {
		return base
	}
	return (*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(base)) + uintptr(n)))
}

// ToWriteBytes reports the total bytes still queued across both iovec
// slots.
func (c *Conn) ToWriteBytes() int {
	return int(c.iov[0].Len) + int(c.iov[1].Len)
}

// Process parses one request out of readBuf and builds the response
// into writeBuf, pointing the iovec pair at the header region and (if
// any) the mapped static file. Returns false if readBuf had no readable
// bytes at all (nothing to do yet).
func (c *Conn) Process(h *httpproto.Handler) bool {
	if c.readBuf.ReadableBytes() <= 0 {
		return false
	}

	initialCode := 0
	req, err := httpproto.Parse(c.readBuf)
	if err != nil {
		req = &httpproto.Request{KeepAlive: false}
		initialCode = 400
	}
	c.request = req

	if c.response != nil {
		c.response.Close()
		c.response = nil
	}

	code, file := h.MakeResponse(req, c.writeBuf, initialCode)
	c.response = file
	c.LastStatus = code

	c.iov[0].Base = headPtr(c.writeBuf.Peek())
	c.iov[0].SetLen(c.writeBuf.ReadableBytes())
	c.iovCnt = 1

	if file != nil && len(file.Data) > 0 {
		c.iov[1].Base = headPtr(file.Data)
		c.iov[1].SetLen(len(file.Data))
		c.iovCnt = 2
	} else {
		c.iov[1].SetLen(0)
	}
	return true
}

// IsKeepAlive reports whether the most recently parsed request asked to
// keep the connection open.
func (c *Conn) IsKeepAlive() bool {
	return c.request != nil && c.request.KeepAlive
}

func headPtr(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}
