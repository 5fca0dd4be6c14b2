//go:build linux

package linux

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollDesc describes a file descriptor the poller watches.
type pollDesc struct {
	fd     int
	events uint32
}

// pollEvent is one ready descriptor, handed from the epoll goroutine to
// whichever Poll call drains readyCh next.
type pollEvent struct {
	fd     int
	events uint32
}

// poller runs epoll_wait on a dedicated goroutine and funnels ready events
// through a buffered channel. This goroutine is the one sanctioned exception
// to the package's no-goroutines rule: epoll_wait itself blocks, and there is
// no non-blocking variant, so isolating the wait behind a channel is the only
// way to keep LowLevelDriver.Poll non-blocking.
type poller struct {
	epfd   int
	wakefd int

	mu  sync.Mutex
	fds map[int]*pollDesc

	readyCh chan pollEvent
	stop    chan struct{}
	done    chan struct{}
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &poller{
		epfd:    epfd,
		wakefd:  wakefd,
		fds:     make(map[int]*pollDesc),
		readyCh: make(chan pollEvent, MaxEpollEvents),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := p.addFD(wakefd, unix.EPOLLIN); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}

	go p.run()
	return p, nil
}

func (p *poller) close() error {
	close(p.stop)
	p.wake()
	<-p.done

	unix.Close(p.wakefd)
	unix.Close(p.epfd)
	return nil
}

func (p *poller) addFD(fd int, events uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	event := unix.EpollEvent{Events: events, Fd: int32(fd)}

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return err
	}
	p.fds[fd] = &pollDesc{fd: fd, events: events}
	return nil
}

func (p *poller) delFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.fds, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *poller) wake() {
	var buf [8]byte
	buf[0] = 1
	unix.Write(p.wakefd, buf[:])
}

// run is the sole blocking loop in this package; it owns no state any other
// goroutine mutates except through readyCh, fds (guarded by mu), and stop.
func (p *poller) run() {
	defer close(p.done)

	var events [MaxEpollEvents]unix.EpollEvent
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		n, err := unix.EpollWait(p.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == p.wakefd {
				var buf [8]byte
				unix.Read(p.wakefd, buf[:])
				continue
			}
			select {
			case p.readyCh <- pollEvent{fd: fd, events: events[i].Events}:
			default:
				// Drop if the consumer is falling behind; the next Poll's
				// reapURBNDelay drain will pick up the completion anyway.
			}
		}
	}
}

// drain moves any ready events accumulated since the last call into fn,
// without blocking.
func (p *poller) drain(fn func(fd int, events uint32)) {
	for {
		select {
		case ev := <-p.readyCh:
			fn(ev.fd, ev.events)
		default:
			return
		}
	}
}
