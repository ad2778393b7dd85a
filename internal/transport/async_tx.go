package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-bcm-server/internal/can"
)

// AsyncTx funnels frame writes through a single worker goroutine so the
// sink only ever sees one writer. SendFrame never blocks: when the buffer
// is full it calls the OnDrop hook and returns its error (usually an
// overflow sentinel), keeping producers from stalling behind a wedged
// sink. The broadcast-manager socket and the serial port writer both sit
// on top of this.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.SendFrame(frame)
//	a.Close()
//
// After Close returns, SendFrame reports ErrAsyncTxClosed and no more
// frames are processed. Callers should stop sending before Close.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool // set when Close is called; prevents enqueue after shutdown
}

// Hooks let each sink keep its own metrics and logging without duplicating
// the goroutine + buffer plumbing.
type Hooks struct {
	// Busy classifies a send error as transient (the sink is saturated,
	// not broken). Busy errors are retried a bounded number of times
	// before they reach OnError. Nil means no error is retried.
	Busy func(error) bool
	// OnError is called when send gives up on a frame.
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called with the frame that did not fit into the buffer;
	// its return value becomes the SendFrame result. If nil, the overflow
	// is silent (best-effort fire-and-forget).
	OnDrop func(can.Frame) error
}

// A saturated sink drains within a few frame times on a healthy bus, so
// the retry budget stays in the low milliseconds.
const (
	busyRetries = 8
	busyDelay   = 500 * time.Microsecond
)

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok { // channel closed
				return
			}
			a.transmit(fr)
		case <-a.ctx.Done():
			return
		}
	}
}

// transmit pushes one frame into the sink, waiting out transient busy
// errors. Retrying stops when the budget runs out or the transmitter
// shuts down; only then does the error reach OnError.
func (a *AsyncTx) transmit(fr can.Frame) {
	var err error
	for attempt := 0; ; attempt++ {
		err = a.send(fr)
		if err == nil {
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
			return
		}
		if a.hooks.Busy == nil || !a.hooks.Busy(err) || attempt == busyRetries {
			break
		}
		select {
		case <-time.After(busyDelay):
		case <-a.ctx.Done():
			return
		}
	}
	if a.hooks.OnError != nil {
		a.hooks.OnError(err)
	}
}

// ErrAsyncTxClosed is returned by SendFrame after Close.
var ErrAsyncTxClosed = errors.New("async tx closed")

// SendFrame queues a frame for asynchronous transmission or returns the
// drop error if the buffer is full.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	// Fast-path check so steady-state sends avoid taking the lock when already shut down.
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop(fr)
		}
		return nil
	}
}

// Close stops the worker and waits for all pending operations to finish.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) { // already closed
		return
	}
	// Cancel context to stop loop, then close channel under the send lock to avoid races.
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
