//go:build linux

// Package monitor drives the broadcast-manager message loop: it pulls
// decoded messages from a stream and dispatches them to the hub and the
// metrics counters.
package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-bcm-server/internal/bcm"
	"github.com/kstaniek/go-bcm-server/internal/can"
	"github.com/kstaniek/go-bcm-server/internal/logging"
	"github.com/kstaniek/go-bcm-server/internal/metrics"
)

// Source yields broadcast-manager messages. Implemented by *bcm.Stream.
type Source interface {
	Next(ctx context.Context) (*bcm.Message, error)
}

// Broadcaster fans frames out to connected clients. Implemented by *hub.Hub.
type Broadcaster interface {
	BroadcastAll(frames []can.Frame)
}

// Monitor dispatches kernel notifications: content changes go to the hub,
// timeouts and expirations are counted and logged.
type Monitor struct {
	src    Source
	hub    Broadcaster
	logger *slog.Logger
}

func New(src Source, hub Broadcaster) *Monitor {
	return &Monitor{src: src, hub: hub, logger: logging.L()}
}

// Run pulls messages until ctx ends or the stream fails. Context
// cancellation returns nil; a stream error is counted and returned so the
// daemon can decide whether to restart or exit.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		msg, err := m.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.IncError(metrics.ErrBusStream)
			m.logger.Error("bus_stream_error", "error", err)
			return err
		}
		m.dispatch(msg)
	}
}

func (m *Monitor) dispatch(msg *bcm.Message) {
	id := msg.Head.CanID & can.CAN_EFF_MASK
	switch msg.Head.Opcode {
	case bcm.RxChanged:
		metrics.IncBcmMessage()
		metrics.AddBusRx(len(msg.Frames))
		m.hub.BroadcastAll(msg.Frames)
	case bcm.RxTimeout:
		metrics.IncRxTimeout()
		m.logger.Warn("rx_timeout", "can_id", fmt.Sprintf("0x%X", id))
	case bcm.TxExpired:
		metrics.IncTxExpired()
		m.logger.Info("tx_expired", "can_id", fmt.Sprintf("0x%X", id))
	case bcm.RxStatus, bcm.TxStatus:
		m.logger.Debug("bcm_status", "opcode", msg.Head.Opcode.String(), "can_id", fmt.Sprintf("0x%X", id))
	default:
		m.logger.Debug("bcm_unhandled", "opcode", uint32(msg.Head.Opcode))
	}
}
