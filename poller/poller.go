//go:build linux

// Package poller wraps Linux epoll behind the Add/Mod/Del/Wait contract
// the reactor needs, composing trigger-mode bits (level vs. edge) and the
// one-shot rearm bit into a single event mask per fd.
package poller

import (
	"golang.org/x/sys/unix"
)

// Events is a bitset over readiness, error, and registration modifiers.
type Events uint32

const (
	ReadReady     Events = unix.EPOLLIN
	WriteReady    Events = unix.EPOLLOUT
	PeerClosed    Events = unix.EPOLLRDHUP
	Hangup        Events = unix.EPOLLHUP
	Err           Events = unix.EPOLLERR
	EdgeTriggered Events = unix.EPOLLET
	OneShot       Events = unix.EPOLLONESHOT
)

// maxEvents bounds a single epoll_wait batch, mirroring the teacher's
// maxEvents constant.
const maxEvents = 1024

// Poller is a thin, non-reentrant wrapper over one epoll instance.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates an epoll instance sized for up to maxEvents ready
// descriptors per Wait call.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: epfd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// Close releases the underlying epoll fd.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

// Add registers fd for the given event mask.
func (p *Poller) Add(fd int, ev Events) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Fd:     int32(fd),
		Events: uint32(ev),
	})
}

// Mod rewrites fd's event mask — used to rearm a one-shot registration
// after its completion has been fully handled.
func (p *Poller) Mod(fd int, ev Events) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Fd:     int32(fd),
		Events: uint32(ev),
	})
}

// Del unregisters fd. Safe to call on an fd that is not registered
// (ENOENT is swallowed); other errors, such as EBADF for an fd that has
// already been closed, are returned.
func (p *Poller) Del(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Wait blocks up to timeoutMs (-1 for forever) and returns the number of
// ready descriptors, retrying internally on EINTR.
func (p *Poller) Wait(timeoutMs int) (int, error) {
	for {
		n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// EventFD returns the fd associated with the i'th ready event from the
// most recent Wait.
func (p *Poller) EventFD(i int) int {
	return int(p.events[i].Fd)
}

// EventMask returns the readiness bits of the i'th ready event from the
// most recent Wait.
func (p *Poller) EventMask(i int) Events {
	return Events(p.events[i].Events)
}
