//go:build linux

package bcm

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-bcm-server/internal/can"
	"github.com/kstaniek/go-bcm-server/internal/metrics"
	"github.com/kstaniek/go-bcm-server/internal/transport"
)

// Bus is the single-shot transmit capability the TX writer needs.
// Implemented by *Socket in production and by fakes in tests.
type Bus interface {
	TxSend(can.Frame) error
	Close() error
}

// TXWriter funnels every TX_SEND through a single goroutine, preserving
// the one-writer rule for the TX socket.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a bus TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, bus Bus, buf int) *TXWriter {
	send := func(fr can.Frame) error { return bus.TxSend(fr) }
	hooks := transport.Hooks{
		// The socket is non-blocking, so TX_SEND reports EAGAIN (socket
		// buffer full) or ENOBUFS (interface queue full) while the bus is
		// saturated. Both clear within a few frame times.
		Busy: func(err error) bool {
			return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOBUFS)
		},
		OnError: func(err error) { metrics.IncError(metrics.ErrBusSend) },
		OnAfter: func() { metrics.IncBusTx() },
		OnDrop: func(can.Frame) error {
			metrics.IncError(metrics.ErrBusOver)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous transmission (drops with
// ErrTxOverflow if the buffer is full).
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Close stops the writer and waits for the worker goroutine to finish.
func (w *TXWriter) Close() { w.base.Close() }
