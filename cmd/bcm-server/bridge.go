package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-bcm-server/internal/bcm"
	"github.com/kstaniek/go-bcm-server/internal/can"
	"github.com/kstaniek/go-bcm-server/internal/hub"
	"github.com/kstaniek/go-bcm-server/internal/metrics"
	"github.com/kstaniek/go-bcm-server/internal/slcan"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = slcan.Open

// initSerialBridge mirrors the bus onto an slcan serial adapter: inbound
// lines become immediate transmissions through the bus funnel, and frames
// fanned out by the hub are written back as slcan lines.
func initSerialBridge(ctx context.Context, cfg *appConfig, h *hub.Hub, send func(can.Frame) error, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
	codec := slcan.Codec{}
	w := slcan.NewTXWriter(ctx, sp, codec, txQueueSize)

	// Outbound mirror: a hub client drained onto the serial line.
	mirror := &hub.Client{Out: make(chan can.Frame, cfg.hubBuffer), Closed: make(chan struct{})}
	h.Add(mirror)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer h.Remove(mirror)
		for {
			select {
			case fr := <-mirror.Out:
				_ = w.SendFrame(fr) // overflow already counted by the writer hooks
			case <-mirror.Closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// Inbound: accumulate reads, decode lines, forward to the bus funnel.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		buf := make([]byte, serialReadBufSize)
		acc := bytes.NewBuffer(nil)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				acc.Write(buf[:n])
				_ = codec.DecodeStream(acc, func(fr can.Frame) {
					if serr := send(fr); serr != nil {
						if errors.Is(serr, bcm.ErrTxOverflow) {
							l.Debug("bus_overflow_drop", "can_id", fmt.Sprintf("0x%X", fr.CANID), "len", fr.Len)
						} else {
							l.Error("bus_tx_error", "error", serr, "can_id", fmt.Sprintf("0x%X", fr.CANID))
						}
					}
				})
				if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
					acc = bytes.NewBuffer(nil)
				}
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					return // device removed or fatal
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // ignore transient EOF
				}
				metrics.IncError(metrics.ErrSerialRead)
				l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()
	return func() { h.Remove(mirror); _ = sp.Close(); w.Close() }, nil
}
