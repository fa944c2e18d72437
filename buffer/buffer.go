// Package buffer implements a grow-on-demand linear byte buffer for
// reading and writing non-blocking socket data, modeled on a classic
// readPos/writePos cursor pair rather than a ring.
package buffer

import (
	"errors"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

// scratchSize is the size of the stack-owned scatter-read fallback used
// when the buffer's own writable tail isn't large enough to hold a
// single readv in one shot.
const scratchSize = 65535

var pool bytebufferpool.Pool

// Buffer is a linear buffer with prependable/readable/writable regions,
// as in readPos <= writePos <= len(bb.B).
type Buffer struct {
	bb       *bytebufferpool.ByteBuffer
	readPos  int
	writePos int
}

// New returns a Buffer with at least initSize bytes of backing capacity.
func New(initSize int) *Buffer {
	bb := pool.Get()
	if cap(bb.B) < initSize {
		bb.B = append(bb.B, make([]byte, initSize-len(bb.B))...)
		bb.Reset()
	}
	b := &Buffer{bb: bb}
	b.bb.B = b.bb.B[:initSize]
	return b
}

// Release returns the backing array to the pool. The Buffer must not be
// used afterward.
func (b *Buffer) Release() {
	pool.Put(b.bb)
	b.bb = nil
}

// ReadableBytes returns the number of bytes available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writePos - b.readPos }

// WritableBytes returns the number of bytes available past writePos.
func (b *Buffer) WritableBytes() int { return len(b.bb.B) - b.writePos }

// PrependableBytes returns the number of bytes already retired at the front.
func (b *Buffer) PrependableBytes() int { return b.readPos }

// Peek returns the readable region without consuming it.
func (b *Buffer) Peek() []byte { return b.bb.B[b.readPos:b.writePos] }

// Retrieve advances readPos by n, which must not exceed ReadableBytes.
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		panic("buffer: Retrieve past writePos")
	}
	b.readPos += n
}

// RetrieveUntil retrieves bytes up to but excluding the given index into
// the readable region (relative to Peek()'s start), e.g. the offset of a
// "\r\n\r\n" found by the caller.
func (b *Buffer) RetrieveUntil(off int) {
	b.Retrieve(off)
}

// RetrieveAll resets both cursors to the front of the buffer and zeroes
// the backing region, matching the original's bzero on full reset.
func (b *Buffer) RetrieveAll() {
	clear(b.bb.B)
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllToString drains the readable region into a string and resets.
func (b *Buffer) RetrieveAllToString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// Append copies p into the writable region, growing the buffer first if
// necessary.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	n := copy(b.bb.B[b.writePos:], p)
	b.writePos += n
}

// EnsureWritable guarantees at least n writable bytes, either by
// compacting the already-retired prefix forward or by growing the
// backing array.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.WritableBytes()+b.PrependableBytes() < n {
		b.bb.B = append(b.bb.B, make([]byte, b.writePos+n+1-len(b.bb.B))...)
		return
	}
	readable := b.ReadableBytes()
	copy(b.bb.B, b.bb.B[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// ReadFromFD performs a scatter read: the buffer's writable tail is one
// iovec slot, a 64 KiB stack-owned scratch slice is the other, so a
// single readv(2) drains as much as the kernel has queued regardless of
// whether it fits the buffer's current capacity. Bytes beyond the
// buffer's writable tail are appended, growing the buffer as needed.
//
// Returns the number of bytes read, 0 on peer shutdown, and a non-nil
// error (wrapping the errno) on failure; EAGAIN is returned as an error
// too, callers branch with errors.Is. EINTR is retried internally rather
// than surfaced, since it signals an interrupted syscall, not a real
// I/O failure.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var scratch [scratchSize]byte
	writable := b.WritableBytes()
	if writable == 0 {
		b.EnsureWritable(1)
		writable = b.WritableBytes()
	}

	iov := []unix.Iovec{
		{Base: &b.bb.B[b.writePos]},
		{Base: &scratch[0]},
	}
	iov[0].SetLen(writable)
	iov[1].SetLen(len(scratch))

	var n int
	var err error
	for {
		n, err = unix.Readv(fd, iov)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return 0, err
	}
	got := n
	switch {
	case got <= writable:
		b.writePos += got
	default:
		b.writePos = len(b.bb.B)
		b.Append(scratch[:got-writable])
	}
	return got, nil
}

// WriteToFD writes the readable region to fd via write(2), advancing
// readPos by however many bytes were accepted.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	readable := b.Peek()
	if len(readable) == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, readable)
	if n > 0 {
		b.readPos += n
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

// ErrShortRead is returned by callers that require an exact read count;
// the buffer itself never returns it.
var ErrShortRead = errors.New("buffer: short read")
