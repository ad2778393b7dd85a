package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kstaniek/go-bcm-server/internal/can"
)

// duration wraps time.Duration so TOML values like "250ms" decode via
// time.ParseDuration.
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	d.Duration = v
	return err
}

// filterSpec is one [[filter]] table: a kernel-side receive subscription.
// The id is the bare 29-bit identifier; the extended-frame bit is applied
// by the socket when the filter is installed. A non-zero timeout raises
// RX_TIMEOUT when the id goes silent; a non-zero throttle rate-limits
// RX_CHANGED notifications.
type filterSpec struct {
	ID       uint32   `toml:"id"`
	Timeout  duration `toml:"timeout"`
	Throttle duration `toml:"throttle"`
}

func (f filterSpec) validate() error {
	if f.ID > can.CAN_EFF_MASK {
		return fmt.Errorf("id 0x%X out of range", f.ID)
	}
	if f.Timeout.Duration < 0 || f.Throttle.Duration < 0 {
		return fmt.Errorf("id 0x%X: negative interval", f.ID)
	}
	return nil
}

// cyclicSpec is one [[cyclic]] table: a kernel-side cyclic transmission
// task. Data is the hex-encoded payload (0..8 bytes).
type cyclicSpec struct {
	ID       uint32   `toml:"id"`
	Interval duration `toml:"interval"`
	Count    uint32   `toml:"count"`
	Data     string   `toml:"data"`
	Extended bool     `toml:"extended"`
}

func (c cyclicSpec) validate() error {
	if c.Extended && c.ID > can.CAN_EFF_MASK || !c.Extended && c.ID > can.CAN_SFF_MASK {
		return fmt.Errorf("id 0x%X out of range", c.ID)
	}
	if c.Interval.Duration <= 0 {
		return fmt.Errorf("id 0x%X: interval must be > 0", c.ID)
	}
	b, err := hex.DecodeString(c.Data)
	if err != nil {
		return fmt.Errorf("id 0x%X: payload: %w", c.ID, err)
	}
	if len(b) > 8 {
		return fmt.Errorf("id 0x%X: payload %d bytes (max 8)", c.ID, len(b))
	}
	return nil
}

// canID returns the identifier as stored in the kernel task, extended-frame
// bit included. TX_DELETE must present the identical value.
func (c cyclicSpec) canID() uint32 {
	if c.Extended {
		return c.ID | can.CAN_EFF_FLAG
	}
	return c.ID
}

func (c cyclicSpec) frame() (can.Frame, error) {
	b, err := hex.DecodeString(c.Data)
	if err != nil {
		return can.Frame{}, fmt.Errorf("payload: %w", err)
	}
	if len(b) > 8 {
		return can.Frame{}, fmt.Errorf("payload %d bytes (max 8)", len(b))
	}
	fr := can.Frame{CANID: c.canID(), Len: uint8(len(b))}
	copy(fr.Data[:], b)
	return fr, nil
}

// intervals maps the configured rate onto the kernel's two-phase timer:
// count > 0 sends count frames spaced by the interval and stops; count == 0
// repeats at the interval forever.
func (c cyclicSpec) intervals() (ival1, ival2 time.Duration) {
	if c.Count > 0 {
		return c.Interval.Duration, 0
	}
	return 0, c.Interval.Duration
}

type subsFile struct {
	Filter []filterSpec `toml:"filter"`
	Cyclic []cyclicSpec `toml:"cyclic"`
}

// subscriptions is the validated content of the -subscriptions file.
type subscriptions struct {
	Filters []filterSpec
	Cyclics []cyclicSpec
}

// loadSubscriptions parses and validates the TOML subscription file. An
// empty path yields an empty set.
func loadSubscriptions(path string) (*subscriptions, error) {
	subs := &subscriptions{}
	if path == "" {
		return subs, nil
	}
	var raw subsFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("subscriptions: %w", err)
	}
	for i, f := range raw.Filter {
		if err := f.validate(); err != nil {
			return nil, fmt.Errorf("subscriptions: filter %d: %w", i, err)
		}
	}
	for i, c := range raw.Cyclic {
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("subscriptions: cyclic %d: %w", i, err)
		}
	}
	subs.Filters = raw.Filter
	subs.Cyclics = raw.Cyclic
	return subs, nil
}
