//go:build linux

package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kstaniek/go-bcm-server/internal/bcm"
	"github.com/kstaniek/go-bcm-server/internal/can"
	"github.com/kstaniek/go-bcm-server/internal/metrics"
)

// scriptedSource replays a fixed message sequence, then returns its
// terminal error, or blocks until ctx ends when no error is set.
type scriptedSource struct {
	msgs []*bcm.Message
	err  error
	i    int
}

func (s *scriptedSource) Next(ctx context.Context) (*bcm.Message, error) {
	if s.i < len(s.msgs) {
		m := s.msgs[s.i]
		s.i++
		return m, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type captureHub struct{ frames []can.Frame }

func (c *captureHub) BroadcastAll(frames []can.Frame) {
	c.frames = append(c.frames, frames...)
}

func msg(op bcm.Opcode, id uint32, frames ...can.Frame) *bcm.Message {
	m := &bcm.Message{Frames: frames}
	m.Opcode = op
	m.CanID = id
	m.NFrames = uint32(len(frames))
	return m
}

func TestRunDispatchesRxChanged(t *testing.T) {
	fr1 := can.Frame{CANID: 0x123, Len: 2, Data: [8]byte{0xDE, 0xAD}}
	fr2 := can.Frame{CANID: 0x123, Len: 1, Data: [8]byte{0x01}}
	src := &scriptedSource{
		msgs: []*bcm.Message{
			msg(bcm.RxChanged, 0x123, fr1),
			msg(bcm.RxChanged, 0x123, fr2),
		},
	}
	h := &captureHub{}
	pre := metrics.Snap()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := New(src, h).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.frames) != 2 || h.frames[0] != fr1 || h.frames[1] != fr2 {
		t.Fatalf("broadcast frames mismatch: %+v", h.frames)
	}
	post := metrics.Snap()
	if d := post.BcmMessages - pre.BcmMessages; d != 2 {
		t.Fatalf("expected 2 bcm message increments, got %d", d)
	}
	if d := post.BusRx - pre.BusRx; d != 2 {
		t.Fatalf("expected 2 bus rx increments, got %d", d)
	}
}

func TestRunCountsTimeoutsAndExpiry(t *testing.T) {
	src := &scriptedSource{
		msgs: []*bcm.Message{
			msg(bcm.RxTimeout, 0x200),
			msg(bcm.TxExpired, 0x201),
			msg(bcm.RxStatus, 0x202),
		},
	}
	h := &captureHub{}
	pre := metrics.Snap()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := New(src, h).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.frames) != 0 {
		t.Fatalf("timeout/status must not broadcast, got %+v", h.frames)
	}
	post := metrics.Snap()
	if d := post.RxTimeouts - pre.RxTimeouts; d != 1 {
		t.Fatalf("expected 1 rx timeout, got %d", d)
	}
	if d := post.TxExpired - pre.TxExpired; d != 1 {
		t.Fatalf("expected 1 tx expired, got %d", d)
	}
}

func TestRunReturnsStreamError(t *testing.T) {
	boom := errors.New("socket gone")
	src := &scriptedSource{
		msgs: []*bcm.Message{msg(bcm.RxChanged, 0x300, can.Frame{CANID: 0x300})},
		err:  boom,
	}
	pre := metrics.Snap()

	err := New(src, &captureHub{}).Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected stream error, got %v", err)
	}
	post := metrics.Snap()
	if post.Errors <= pre.Errors {
		t.Fatalf("expected error counter increment (pre=%d post=%d)", pre.Errors, post.Errors)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &scriptedSource{} // blocks immediately
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(src, &captureHub{}).Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
