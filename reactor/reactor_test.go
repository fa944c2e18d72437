package reactor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/xtaci/vortexd/httpconn"
	"github.com/xtaci/vortexd/httpproto"
	"github.com/xtaci/vortexd/poller"
	"github.com/xtaci/vortexd/timerheap"
	"github.com/xtaci/vortexd/workerpool"
)

func newTestServer(t *testing.T, srcDir string) *Server {
	t.Helper()
	p, err := poller.New()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	s := &Server{
		cfg:     Config{Workers: 1},
		users:   make(map[int]*httpconn.Conn),
		timer:   timerheap.New(),
		h:       &httpproto.Handler{SrcDir: srcDir},
		log:     zaptest.NewLogger(t),
		poller:  p,
		pool:    workerpool.New(1, 1),
		metrics: newMetricsRegistry(),
	}
	s.initEventMode(TriggerLevelLevel)
	t.Cleanup(func() { s.pool.Close() })
	return s
}

func TestOnReadProcessWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte("hi"), 0o644))
	s := newTestServer(t, dir)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])

	c := httpconn.Init(fds[1], "peer")
	s.users[fds[1]] = c

	_, err = unix.Write(fds[0], []byte("GET /a.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))
	require.NoError(t, err)

	n, err := c.Read()
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	s.onProcess(c)
	assert.False(t, c.PendingClose)

	s.onWrite(c)
	assert.Equal(t, 0, c.ToWriteBytes())
	assert.True(t, c.IsKeepAlive())

	out := make([]byte, 4096)
	n, err = unix.Read(fds[0], out)
	require.NoError(t, err)
	assert.Contains(t, string(out[:n]), "200 OK")
}

func TestCloseConnClosesConnWithNoTaskInFlight(t *testing.T) {
	s := newTestServer(t, t.TempDir())
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])

	c := httpconn.Init(fds[1], "peer")
	s.users[fds[1]] = c

	s.closeConn(c)
	assert.True(t, c.PendingClose)
	assert.True(t, c.Closed(), "finishClose should have run since no task is in flight here")
}

func TestCloseConnDefersWhileInFlight(t *testing.T) {
	s := newTestServer(t, t.TempDir())
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	c := httpconn.Init(fds[1], "peer")
	s.users[fds[1]] = c
	c.InFlight.Store(true)

	s.closeConn(c)
	assert.True(t, c.PendingClose)
	assert.False(t, c.Closed(), "closeConn must not tear down a connection a worker is using")
}

func TestSendBusyWritesLiteralAndCloses(t *testing.T) {
	// sendBusy writes a literal busy message and closes the fd without
	// registering it, independent of MaxFD bookkeeping elsewhere.
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])

	sendBusy(fds[1])

	out := make([]byte, 64)
	n, err := unix.Read(fds[0], out)
	require.NoError(t, err)
	assert.Equal(t, "Server busy!", string(out[:n]))
}
