//go:build linux

// Package poller is a small epoll wrapper for waiting on subprocess pipes.
package poller

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by calls on a closed Poller.
var ErrClosed = errors.New("poller: closed")

// Event reports readiness of one registered descriptor.
type Event struct {
	Fd       int
	Readable bool
	// Hangup is set when the writer side went away or the fd is in error.
	Hangup bool
}

// Poller multiplexes a set of non-blocking descriptors. Wait is meant for a
// single goroutine; Wake may be called from any goroutine, including after
// Close.
type Poller struct {
	epfd   int
	events []unix.EpollEvent

	mu     sync.Mutex
	wakefd int
}

// New creates an epoll instance with an eventfd registered for Wake.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("poller: eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("poller: register wake fd: %w", err)
	}
	return &Poller{epfd: epfd, wakefd: wakefd, events: make([]unix.EpollEvent, 32)}, nil
}

// Add registers fd for read readiness. With edge set the registration is
// edge-triggered and the caller must drain fd until EAGAIN on every event.
func (p *Poller) Add(fd int, edge bool) error {
	if p.epfd < 0 {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(fd)}
	if edge {
		ev.Events |= unix.EPOLLET
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("poller: add fd %d: %w", fd, err)
	}
	return nil
}

// Remove unregisters fd. Removing an fd that is already gone is not an error.
func (p *Poller) Remove(fd int) error {
	if p.epfd < 0 {
		return ErrClosed
	}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("poller: remove fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one descriptor is ready, the timeout passes, or
// Wake is called. A negative timeout waits forever. woken reports that Wake
// was called since the last Wait.
func (p *Poller) Wait(timeout time.Duration) (events []Event, woken bool, err error) {
	if p.epfd < 0 {
		return nil, false, ErrClosed
	}
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	var n int
	for {
		n, err = unix.EpollWait(p.epfd, p.events, msec)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, false, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	for _, ev := range p.events[:n] {
		fd := int(ev.Fd)
		if fd == p.wakefd {
			p.drainWake()
			woken = true
			continue
		}
		events = append(events, Event{
			Fd:       fd,
			Readable: ev.Events&unix.EPOLLIN != 0,
			Hangup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
		})
	}
	return events, woken, nil
}

// Wake makes a blocked (or the next) Wait return with woken set.
func (p *Poller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wakefd < 0 {
		return ErrClosed
	}
	var one = [8]byte{1}
	_, err := unix.Write(p.wakefd, one[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("poller: wake: %w", err)
	}
	return nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	unix.Read(p.wakefd, buf[:])
}

// Close releases the epoll instance. Registered descriptors are not closed.
func (p *Poller) Close() error {
	if p.epfd < 0 {
		return nil
	}
	p.mu.Lock()
	unix.Close(p.wakefd)
	p.wakefd = -1
	p.mu.Unlock()
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}
