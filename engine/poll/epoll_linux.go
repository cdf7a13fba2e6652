//go:build linux

package poll

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

// Epoll is the Linux implementation of [Poller]. A level-triggered
// epoll instance carries the registrations; an eventfd registered
// internally implements Wakeup.
type Epoll struct {
	epfd   int
	wakeFd int

	m             sync.Mutex
	registrations map[int]*registration
	closed        bool

	events []unix.EpollEvent
}

type registration struct {
	interest Interest
	listener Listener
}

var _ Poller = (*Epoll)(nil)

// New opens an epoll-based poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "creating epoll instance")
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "creating wakeup eventfd")
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, errors.Wrap(err, "registering wakeup eventfd")
	}

	return &Epoll{
		epfd:          epfd,
		wakeFd:        wakeFd,
		registrations: make(map[int]*registration),
		events:        make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (p *Epoll) Register(fd int, interest Interest, l Listener) error {
	p.m.Lock()
	defer p.m.Unlock()

	if p.closed {
		return ErrPollerClosed
	}

	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrap(err, "adding descriptor")
	}

	p.registrations[fd] = &registration{interest: interest, listener: l}
	return nil
}

func (p *Epoll) Update(fd int, interest Interest) error {
	p.m.Lock()
	defer p.m.Unlock()

	if p.closed {
		return ErrPollerClosed
	}

	reg, ok := p.registrations[fd]
	if !ok {
		return ErrNotRegistered
	}
	if reg.interest == interest {
		return nil
	}

	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errors.Wrap(err, "modifying descriptor")
	}

	reg.interest = interest
	return nil
}

func (p *Epoll) Unregister(fd int) error {
	p.m.Lock()
	defer p.m.Unlock()

	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.registrations[fd]; !ok {
		return ErrNotRegistered
	}

	delete(p.registrations, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrap(err, "removing descriptor")
	}
	return nil
}

func (p *Epoll) Wait(timeout time.Duration) ([]Event, error) {
	p.m.Lock()
	if p.closed {
		p.m.Unlock()
		return nil, ErrPollerClosed
	}
	p.m.Unlock()

	n, err := unix.EpollWait(p.epfd, p.events, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		if err == unix.EBADF {
			// Close raced the wait.
			return nil, ErrPollerClosed
		}
		return nil, errors.Wrap(err, "waiting on epoll")
	}

	var ready []Event
	p.m.Lock()
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)

		if fd == p.wakeFd {
			p.drainWakeupLocked()
			continue
		}

		reg, ok := p.registrations[fd]
		if !ok {
			continue
		}

		var r Interest
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			r |= Read
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
			r |= Write
		}
		r &= reg.interest | Read // error/hangup surfaces as a read

		if r != 0 {
			ready = append(ready, Event{Fd: fd, Ready: r, Listener: reg.listener})
		}
	}
	p.m.Unlock()

	return ready, nil
}

func (p *Epoll) Wakeup() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)

	if _, err := unix.Write(p.wakeFd, one[:]); err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "writing wakeup eventfd")
	}
	return nil
}

func (p *Epoll) Close() error {
	p.m.Lock()
	defer p.m.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	unix.Close(p.wakeFd)
	if err := unix.Close(p.epfd); err != nil {
		return errors.Wrap(err, "closing epoll instance")
	}
	return nil
}

func (p *Epoll) drainWakeupLocked() {
	var b [8]byte
	for {
		if _, err := unix.Read(p.wakeFd, b[:]); err != nil {
			return
		}
	}
}

func epollEvents(interest Interest) uint32 {
	var events uint32
	if interest.Has(Read) {
		events |= unix.EPOLLIN
	}
	if interest.Has(Write) {
		events |= unix.EPOLLOUT
	}
	return events
}
