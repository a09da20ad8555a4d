//go:build linux

package evloop

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// EpollLoop is the sample Linux Loop implementation: one goroutine blocked
// in epoll_wait, dispatching readability callbacks sequentially so callback
// bodies never need their own locking, the same cooperative-loop shape the
// teacher's blockingPoll helper approximates with a single-fd poll().
type EpollLoop struct {
	epfd int

	mu       sync.Mutex
	handlers map[int]func()

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEpollLoop creates an EpollLoop and starts its dispatch goroutine.
func NewEpollLoop() (*EpollLoop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "evloop: epoll_create1")
	}

	l := &EpollLoop{
		epfd:     epfd,
		handlers: make(map[int]func()),
		closed:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *EpollLoop) Watch(fd int, onReadable func()) error {
	l.mu.Lock()
	l.handlers[fd] = onReadable
	l.mu.Unlock()

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		l.mu.Lock()
		delete(l.handlers, fd)
		l.mu.Unlock()
		return errors.Wrapf(err, "evloop: epoll_ctl add fd %d", fd)
	}
	return nil
}

func (l *EpollLoop) Unwatch(fd int) error {
	l.mu.Lock()
	delete(l.handlers, fd)
	l.mu.Unlock()

	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return errors.Wrapf(err, "evloop: epoll_ctl del fd %d", fd)
	}
	return nil
}

// Close stops the dispatch goroutine and releases the epoll fd.
func (l *EpollLoop) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return unix.Close(l.epfd)
}

func (l *EpollLoop) run() {
	events := make([]unix.EpollEvent, 32)
	for {
		select {
		case <-l.closed:
			return
		default:
		}

		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			l.mu.Lock()
			h := l.handlers[fd]
			l.mu.Unlock()
			if h != nil {
				h()
			}
		}
	}
}
