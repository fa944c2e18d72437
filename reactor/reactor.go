// Package reactor implements the single-reactor/thread-pool server: one
// goroutine owns the listening socket and the epoll instance and
// dispatches ready connections to a bounded worker pool, which parses
// requests, builds responses, and writes them back through
// per-connection buffers. Idle connections are expired by a
// monotonic-time min-heap timer.
package reactor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/xtaci/vortexd/httpconn"
	"github.com/xtaci/vortexd/httpproto"
	"github.com/xtaci/vortexd/poller"
	"github.com/xtaci/vortexd/timerheap"
	"github.com/xtaci/vortexd/workerpool"
)

// MaxFD bounds the number of simultaneous connections; dealListen
// rejects further accepts past this with the literal "Server busy!"
// response, matching the original.
const MaxFD = 65536

// TriggerMode selects which of listen/conn sockets run edge-triggered,
// matching the original's four trigMode combinations.
type TriggerMode int

const (
	TriggerLevelLevel TriggerMode = 0 // both level-triggered
	TriggerConnEdge   TriggerMode = 1 // only connection sockets edge-triggered
	TriggerListenEdge TriggerMode = 2 // only the listen socket edge-triggered
	TriggerEdgeEdge   TriggerMode = 3 // both edge-triggered
)

// Config parameterizes one Server.
type Config struct {
	Port       int
	Trigger    TriggerMode
	TimeoutMS  int
	SOLinger   bool
	Workers    int
	Admission  int64
	SrcDir     string
	DB         httpproto.CredentialChecker
	Logger     *zap.Logger
}

// Server is the reactor: it owns the listen fd, the poller, the
// connection table, the timer heap, and the worker pool.
type Server struct {
	cfg Config

	listenFD        int
	listenEventMask poller.Events
	connEventMask   poller.Events

	poller *poller.Poller
	timer  *timerheap.Heap
	pool   *workerpool.Pool
	h      *httpproto.Handler
	log    *zap.Logger

	mu    sync.Mutex
	users map[int]*httpconn.Conn

	closed bool

	metrics *metricsRegistry
}

// New constructs a Server, binds and listens on cfg.Port, and registers
// the listen fd with the poller. The returned Server is ready for Run.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		cfg:   cfg,
		users: make(map[int]*httpconn.Conn),
		timer: timerheap.New(),
		h:     &httpproto.Handler{SrcDir: cfg.SrcDir, DB: cfg.DB},
		log:   cfg.Logger,
	}
	s.initEventMode(cfg.Trigger)

	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	s.poller = p

	if err := s.initSocket(); err != nil {
		p.Close()
		return nil, err
	}

	s.pool = workerpool.New(cfg.Workers, cfg.Admission)
	s.metrics = newMetricsRegistry()
	s.metrics.withInflightGauge(s.pool.Inflight)
	return s, nil
}

func (s *Server) initEventMode(mode TriggerMode) {
	s.listenEventMask = poller.PeerClosed
	s.connEventMask = poller.OneShot | poller.PeerClosed
	switch mode {
	case TriggerConnEdge:
		s.connEventMask |= poller.EdgeTriggered
	case TriggerListenEdge:
		s.listenEventMask |= poller.EdgeTriggered
	case TriggerEdgeEdge:
		s.listenEventMask |= poller.EdgeTriggered
		s.connEventMask |= poller.EdgeTriggered
	}
	httpconn.IsET = s.connEventMask&poller.EdgeTriggered != 0
}

func (s *Server) initSocket() error {
	if s.cfg.Port > 65535 || s.cfg.Port < 1024 {
		return fmt.Errorf("reactor: port %d out of range", s.cfg.Port)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}

	linger := unix.Linger{}
	if s.cfg.SOLinger {
		linger.Onoff = 1
		linger.Linger = 1
	}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return err
	}

	addr := unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, 6); err != nil {
		unix.Close(fd)
		return err
	}
	if err := s.poller.Add(fd, s.listenEventMask|poller.ReadReady); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}

	s.listenFD = fd
	s.log.Info("listening", zap.Int("port", s.cfg.Port))
	return nil
}

// Run blocks, driving the main event loop until ctx is canceled or Close
// is called. It blocks only in poller.Wait. Accepting, timer expiry and
// hangup/error closes run on this goroutine; reading, request
// processing and writing run on the worker pool.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("server start")
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	timeoutMS := -1
	for !s.isClosed() {
		if s.cfg.TimeoutMS > 0 {
			next := s.timer.GetNextTick()
			if next < 0 {
				timeoutMS = -1
			} else {
				timeoutMS = int(next / time.Millisecond)
			}
		}

		n, err := s.poller.Wait(timeoutMS)
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := s.poller.EventFD(i)
			ev := s.poller.EventMask(i)

			switch {
			case fd == s.listenFD:
				s.dealListen()
			case ev&(poller.PeerClosed|poller.Hangup|poller.Err) != 0:
				s.closeConnByFD(fd)
			case ev&poller.ReadReady != 0:
				s.dealRead(fd)
			case ev&poller.WriteReady != 0:
				s.dealWrite(fd)
			default:
				s.log.Warn("unexpected event", zap.Int("fd", fd), zap.Uint32("mask", uint32(ev)))
			}
		}
	}
	return nil
}

// dealListen accepts as many connections as are ready. Under an
// edge-triggered listen mask it must loop to EAGAIN or further
// connections won't be reported; under level-triggered a single accept
// per wakeup suffices since the next readiness notification will follow.
func (s *Server) dealListen() {
	for {
		fd, sa, err := unix.Accept(s.listenFD)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			s.log.Warn("accept error", zap.Error(err))
			return
		}

		if httpconn.UserCount >= MaxFD {
			sendBusy(fd)
			s.log.Warn("clients full")
		} else {
			s.addClient(fd, sa)
		}

		if s.listenEventMask&poller.EdgeTriggered == 0 {
			return
		}
	}
}

func sendBusy(fd int) {
	msg := []byte("Server busy!")
	unix.Write(fd, msg)
	unix.Close(fd)
}

func (s *Server) addClient(fd int, sa unix.Sockaddr) {
	peer := peerAddrString(sa)
	c := httpconn.Init(fd, peer)

	s.mu.Lock()
	s.users[fd] = c
	s.mu.Unlock()

	if s.cfg.TimeoutMS > 0 {
		s.timer.Add(fd, time.Duration(s.cfg.TimeoutMS)*time.Millisecond, func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("timer callback panic", zap.Int("fd", fd), zap.Any("panic", r))
				}
			}()
			s.closeConnByFD(fd)
		})
	}

	if err := s.poller.Add(fd, poller.ReadReady|s.connEventMask); err != nil {
		s.log.Warn("poller add failed", zap.Int("fd", fd), zap.Error(err))
		s.closeConnByFD(fd)
		return
	}
	unix.SetNonblock(fd, true)
	s.log.Info("client in", zap.Int("fd", fd), zap.Int64("userCount", httpconn.UserCount))
}

func peerAddrString(sa unix.Sockaddr) string {
	if v4, ok := sa.(*unix.SockaddrInet4); ok {
		ip := net.IP(v4.Addr[:])
		return fmt.Sprintf("%s:%d", ip.String(), v4.Port)
	}
	return "unknown"
}

func (s *Server) dealRead(fd int) {
	c := s.lookup(fd)
	if c == nil {
		return
	}
	s.extendTimer(fd)
	c.InFlight.Store(true)
	s.pool.AddTask(func() { defer c.InFlight.Store(false); s.onRead(c) })
}

func (s *Server) dealWrite(fd int) {
	c := s.lookup(fd)
	if c == nil {
		return
	}
	s.extendTimer(fd)
	c.InFlight.Store(true)
	s.pool.AddTask(func() { defer c.InFlight.Store(false); s.onWrite(c) })
}

func (s *Server) lookup(fd int) *httpconn.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[fd]
}

func (s *Server) extendTimer(fd int) {
	if s.cfg.TimeoutMS > 0 {
		s.timer.Adjust(fd, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
	}
}

// onRead runs on a worker: it drains the socket, then dispatches to
// onProcess. Any error other than EAGAIN (or a zero-byte peer-closed
// read) tears the connection down.
func (s *Server) onRead(c *httpconn.Conn) {
	n, err := c.Read()
	if n <= 0 && err != unix.EAGAIN {
		s.finishClose(c)
		return
	}
	s.onProcess(c)
}

// onProcess parses and builds a response, then rearms the fd for
// whichever direction is next — unless the reactor marked the
// connection pendingClose while this task was running, in which case
// the worker itself finishes the teardown instead of calling poller.Mod.
func (s *Server) onProcess(c *httpconn.Conn) {
	if c.PendingClose {
		s.finishClose(c)
		return
	}
	start := time.Now()
	hasResponse := c.Process(s.h)
	if hasResponse {
		s.metrics.observe(c.LastStatus, time.Since(start))
		s.poller.Mod(c.FD(), s.connEventMask|poller.WriteReady)
	} else {
		s.poller.Mod(c.FD(), s.connEventMask|poller.ReadReady)
	}
}

func (s *Server) onWrite(c *httpconn.Conn) {
	if c.PendingClose {
		s.finishClose(c)
		return
	}
	_, err := c.Write()

	if c.ToWriteBytes() == 0 {
		if c.IsKeepAlive() {
			s.onProcess(c)
			return
		}
		s.finishClose(c)
		return
	}

	// Bytes remain queued: EAGAIN and the level-triggered backlog
	// threshold both mean "wait for the next writable notification",
	// anything else is a genuine connection failure.
	if err == nil || err == unix.EAGAIN {
		s.poller.Mod(c.FD(), s.connEventMask|poller.WriteReady)
		return
	}
	s.finishClose(c)
}

// closeConnByFD is used by the reactor goroutine (timer callbacks,
// hangup/error events) where only the fd, not the *Conn, is in hand.
func (s *Server) closeConnByFD(fd int) {
	c := s.lookup(fd)
	if c == nil {
		return
	}
	s.closeConn(c)
}

// closeConn implements the teardown race resolution from the concurrency
// design: if a worker task is currently running on c, the reactor only
// raises PendingClose; the worker's own rearm path (onProcess/onWrite)
// notices the flag once it's done and finishes the close itself instead
// of calling poller.Mod. Intentionally does not erase the users map
// entry — an accepted arena-growth tradeoff, matching the original's
// CloseConn_.
func (s *Server) closeConn(c *httpconn.Conn) {
	c.PendingClose = true
	if c.InFlight.Load() {
		return
	}
	s.finishClose(c)
}

func (s *Server) finishClose(c *httpconn.Conn) {
	if c.Closed() {
		return
	}
	s.log.Info("client quit", zap.Int("fd", c.FD()))
	s.poller.Del(c.FD())
	s.timer.Del(c.FD())
	c.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close shuts the listen fd, stops accepting new work, and drains the
// worker pool. This bounds process exit time; it is not the "true
// graceful shutdown" the spec's Non-goals exclude.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	unix.Close(s.listenFD)
	s.poller.Close()
	s.pool.Close()
}
