//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-bcm-server/internal/can"
	"github.com/kstaniek/go-bcm-server/internal/hub"
)

// Placeholder so non-linux builds compile; the broadcast manager is linux-only.
func initBus(ctx context.Context, cancel context.CancelFunc, cfg *appConfig, subs *subscriptions, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	return nil, func() {}, fmt.Errorf("broadcast-manager bus unsupported on this platform")
}
