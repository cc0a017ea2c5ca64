//go:build linux

// Package reactor implements the single-threaded event loop that owns the
// listening socket, the epoll readiness notifier, and dispatch into the
// worker pool. The loop drives epoll directly because it needs per-fd
// control over when interest flips from readable to writable.
package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	evRead  = unix.EPOLLIN
	evWrite = unix.EPOLLOUT
	evError = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
)

// poller wraps one epoll instance plus the timerfd that wakes the loop
// when the earliest idle deadline comes due.
type poller struct {
	epfd    int
	timerFD int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: epoll_create1")
	}
	timerFD, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "reactor: timerfd_create")
	}
	p := &poller{epfd: epfd, timerFD: timerFD}
	if err := p.add(timerFD, evRead, false); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func (p *poller) close() error {
	unix.Close(p.timerFD)
	return unix.Close(p.epfd)
}

func edgeFlag(et bool) uint32 {
	if et {
		return unix.EPOLLET
	}
	return 0
}

func (p *poller) add(fd int, events uint32, edgeTriggered bool) error {
	ev := unix.EpollEvent{Events: events | edgeFlag(edgeTriggered), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *poller) modify(fd int, events uint32, edgeTriggered bool) error {
	ev := unix.EpollEvent{Events: events | edgeFlag(edgeTriggered), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *poller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

// armTimer schedules the timerfd to fire once, waitMS from now. waitMS<=0
// fires as soon as possible.
func (p *poller) armTimer(waitMS int64) error {
	if waitMS <= 0 {
		waitMS = 1
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(waitMS * int64(1_000_000)),
	}
	return unix.TimerfdSettime(p.timerFD, 0, &spec, nil)
}

// drainTimer reads the expiration counter so the timerfd stops being
// readable until re-armed.
func (p *poller) drainTimer() {
	var buf [8]byte
	_, _ = unix.Read(p.timerFD, buf[:])
}

// wait blocks until at least one registered fd is ready or timeoutMS
// elapses (-1 blocks indefinitely), returning the ready events.
func (p *poller) wait(events []unix.EpollEvent, timeoutMS int) (int, error) {
	n, err := unix.EpollWait(p.epfd, events, timeoutMS)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
