//go:build linux

package reactor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned once the poller is shut down.
var ErrClosed = errors.New("reactor: poller closed")

// ErrNotRegistered is returned for descriptors outside the interest set.
var ErrNotRegistered = errors.New("reactor: descriptor not registered")

// ErrRegistered is returned when a descriptor is registered twice.
var ErrRegistered = errors.New("reactor: descriptor already registered")

// waitSlice bounds one blocking poll(2) call, in milliseconds, so Wait
// notices context cancellation without an explicit wakeup.
const waitSlice = 100

// Poller tracks read interest for raw descriptors. Readiness queries use
// zero-timeout poll(2); Wait blocks in bounded slices and is interrupted
// through an eventfd, so Close never leaves a waiter stuck.
type Poller struct {
	mu      sync.Mutex
	fds     map[int]struct{}
	wake    int // eventfd; written on Close, never drained
	closed  bool
	waiters sync.WaitGroup
}

// New creates an empty poller.
func New() (*Poller, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	return &Poller{fds: make(map[int]struct{}), wake: efd}, nil
}

// Register adds fd to the read-interest set.
func (p *Poller) Register(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.fds[fd]; ok {
		return ErrRegistered
	}
	p.fds[fd] = struct{}{}
	return nil
}

// Rearm re-expresses read interest after a would-block read. poll(2) is
// level-triggered, so this only validates the registration.
func (p *Poller) Rearm(fd int) error { return p.check(fd) }

// Deregister removes fd from the interest set.
func (p *Poller) Deregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.fds[fd]; !ok {
		return ErrNotRegistered
	}
	delete(p.fds, fd)
	return nil
}

func (p *Poller) check(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.fds[fd]; !ok {
		return ErrNotRegistered
	}
	return nil
}

// Readable reports whether fd is readable right now. POLLERR and POLLHUP
// count as readable so the next read surfaces the condition.
func (p *Poller) Readable(fd int) (bool, error) {
	if err := p.check(fd); err != nil {
		return false, err
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("reactor: poll: %w", err)
		}
		if n == 0 {
			return false, nil
		}
		if pfd[0].Revents&unix.POLLNVAL != 0 {
			return false, fmt.Errorf("reactor: poll fd %d: %w", fd, unix.EBADF)
		}
		return pfd[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0, nil
	}
}

// Wait blocks until fd turns readable, ctx ends, or the poller closes.
func (p *Poller) Wait(ctx context.Context, fd int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if _, ok := p.fds[fd]; !ok {
		p.mu.Unlock()
		return ErrNotRegistered
	}
	p.waiters.Add(1)
	p.mu.Unlock()
	defer p.waiters.Done()

	for {
		if err := p.check(fd); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		pfds := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},
			{Fd: int32(p.wake), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfds, waitSlice)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("reactor: poll: %w", err)
		}
		if n == 0 {
			continue // slice elapsed, re-check ctx
		}
		if pfds[1].Revents != 0 {
			return ErrClosed
		}
		if pfds[0].Revents&unix.POLLNVAL != 0 {
			return fmt.Errorf("reactor: poll fd %d: %w", fd, unix.EBADF)
		}
		if pfds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
			return nil
		}
	}
}

// Close wakes every waiter, waits for them to leave, and releases the
// eventfd. Safe to call more than once.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// The eventfd counter is never read back, so it stays readable and
	// kicks every current waiter out of poll.
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, _ = unix.Write(p.wake, one[:])
	p.waiters.Wait()
	return unix.Close(p.wake)
}
