//go:build linux

package bcm

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// Reactor is the readiness facility a Stream drives its socket with.
// Implemented by reactor.Poller in production and by fakes in tests.
type Reactor interface {
	// Register adds a descriptor to the read-interest set.
	Register(fd int) error
	// Rearm re-expresses read interest after a would-block read.
	Rearm(fd int) error
	// Deregister removes a descriptor from the interest set.
	Deregister(fd int) error
	// Readable reports whether the descriptor is readable right now,
	// without blocking.
	Readable(fd int) (bool, error)
	// Wait blocks until the descriptor turns readable, the context ends,
	// or the reactor shuts down.
	Wait(ctx context.Context, fd int) error
}

// Stream turns readiness notifications into a pull-based sequence of
// decoded messages. It owns the socket it wraps: Close tears down the
// registration and the socket together. One goroutine drives a Stream.
type Stream struct {
	sock      *Socket
	r         Reactor
	err       error // terminal, sticky once set
	closeOnce sync.Once
}

// NewStream registers sock with r and transfers ownership of sock to the
// stream. If registration fails the socket is closed before returning.
func NewStream(sock *Socket, r Reactor) (*Stream, error) {
	if err := r.Register(sock.FD()); err != nil {
		_ = sock.Close()
		return nil, err
	}
	return &Stream{sock: sock, r: r}, nil
}

// Poll runs one non-blocking turn. ok reports whether msg carries a
// message; (nil, false, nil) means no message is ready yet. A would-block
// read re-arms read interest and counts as not ready. Any other failure
// ends the sequence: the stream latches the error and every later Poll
// returns it.
func (st *Stream) Poll() (msg *Message, ok bool, err error) {
	if st.err != nil {
		return nil, false, st.err
	}
	readable, err := st.r.Readable(st.sock.FD())
	if err != nil {
		st.err = err
		return nil, false, err
	}
	if !readable {
		return nil, false, nil
	}
	m, err := st.sock.ReadMessage()
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			if rerr := st.r.Rearm(st.sock.FD()); rerr != nil {
				st.err = rerr
				return nil, false, rerr
			}
			return nil, false, nil
		}
		st.err = err
		return nil, false, err
	}
	return m, true, nil
}

// Next blocks until a message arrives, the stream fails, or ctx ends.
// Context cancellation returns ctx.Err() without poisoning the stream.
func (st *Stream) Next(ctx context.Context) (*Message, error) {
	for {
		msg, ok, err := st.Poll()
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}
		if err := st.r.Wait(ctx, st.sock.FD()); err != nil {
			return nil, err
		}
	}
}

// Close deregisters the socket and closes it. Idempotent and best-effort.
func (st *Stream) Close() error {
	st.closeOnce.Do(func() {
		_ = st.r.Deregister(st.sock.FD())
		_ = st.sock.Close()
	})
	return nil
}
