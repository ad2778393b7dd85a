//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-bcm-server/internal/bcm"
	"github.com/kstaniek/go-bcm-server/internal/can"
	"github.com/kstaniek/go-bcm-server/internal/hub"
	"github.com/kstaniek/go-bcm-server/internal/monitor"
	"github.com/kstaniek/go-bcm-server/internal/reactor"
)

// openBCM is a hook for tests (overridden in unit tests).
var openBCM = bcm.OpenInterface

// initBus opens the broadcast-manager socket pair on cfg.canIf: the RX
// socket carries the receive filters and feeds the monitor; the TX socket
// carries the cyclic tasks and the TX funnel. Each socket keeps a single
// owner. A monitor stream error cancels the daemon context.
func initBus(ctx context.Context, cancel context.CancelFunc, cfg *appConfig, subs *subscriptions, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	rx, err := openBCM(cfg.canIf)
	if err != nil {
		return nil, func() {}, fmt.Errorf("bcm open %s: %w", cfg.canIf, err)
	}
	for _, f := range subs.Filters {
		if err := rx.FilterID(f.ID, f.Timeout.Duration, f.Throttle.Duration); err != nil {
			_ = rx.Close()
			return nil, func() {}, fmt.Errorf("install filter 0x%X: %w", f.ID, err)
		}
	}
	l.Info("bcm_open", "if", cfg.canIf, "filters", len(subs.Filters))

	poller, err := reactor.New()
	if err != nil {
		_ = rx.Close()
		return nil, func() {}, fmt.Errorf("reactor: %w", err)
	}
	stream, err := bcm.NewStream(rx, poller)
	if err != nil {
		_ = poller.Close()
		return nil, func() {}, fmt.Errorf("bcm stream: %w", err)
	}

	tx, err := openBCM(cfg.canIf)
	if err != nil {
		_ = stream.Close()
		_ = poller.Close()
		return nil, func() {}, fmt.Errorf("bcm open %s: %w", cfg.canIf, err)
	}
	// Cyclic tasks live on the TX socket; the kernel drops them with it.
	installed := make([]uint32, 0, len(subs.Cyclics))
	for _, c := range subs.Cyclics {
		fr, ferr := c.frame()
		if ferr == nil {
			ival1, ival2 := c.intervals()
			ferr = tx.TxSetup(c.canID(), []can.Frame{fr}, c.Count, ival1, ival2)
		}
		if ferr != nil {
			_ = tx.Close()
			_ = stream.Close()
			_ = poller.Close()
			return nil, func() {}, fmt.Errorf("install cyclic 0x%X: %w", c.ID, ferr)
		}
		installed = append(installed, c.canID())
	}
	if len(installed) > 0 {
		l.Info("cyclic_tasks", "count", len(installed))
	}
	w := bcm.NewTXWriter(ctx, tx, txQueueSize)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("bcm_monitor_end")
		if err := monitor.New(stream, h).Run(ctx); err != nil {
			l.Error("bcm_monitor_error", "error", err)
			cancel()
		}
	}()

	cleanup := func() {
		w.Close()
		for _, id := range installed {
			if err := tx.TxDelete(id); err != nil {
				l.Warn("tx_delete_failed", "can_id", fmt.Sprintf("0x%X", id), "error", err)
			}
		}
		_ = tx.Close()
		_ = stream.Close()
		_ = poller.Close()
	}
	return w.SendFrame, cleanup, nil
}
