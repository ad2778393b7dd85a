package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kstaniek/go-bcm-server/internal/can"
)

func writeSubsFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "subs.toml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write subs file: %v", err)
	}
	return p
}

func TestLoadSubscriptions_File(t *testing.T) {
	p := writeSubsFile(t, `
[[filter]]
id = 0x1E5
timeout = "500ms"
throttle = "100ms"

[[filter]]
id = 0x0F0

[[cyclic]]
id = 0x100
interval = "250ms"
count = 3
data = "DEADBEEF"

[[cyclic]]
id = 0x1ABCDEF0
interval = "1s"
data = "0102"
extended = true
`)
	subs, err := loadSubscriptions(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(subs.Filters) != 2 || len(subs.Cyclics) != 2 {
		t.Fatalf("expected 2 filters / 2 cyclics, got %d / %d", len(subs.Filters), len(subs.Cyclics))
	}
	f0 := subs.Filters[0]
	if f0.ID != 0x1E5 || f0.Timeout.Duration != 500*time.Millisecond || f0.Throttle.Duration != 100*time.Millisecond {
		t.Fatalf("filter 0 mismatch: %+v", f0)
	}
	if subs.Filters[1].Timeout.Duration != 0 || subs.Filters[1].Throttle.Duration != 0 {
		t.Fatalf("filter 1 should default to zero intervals: %+v", subs.Filters[1])
	}

	c0 := subs.Cyclics[0]
	iv1, iv2 := c0.intervals()
	if iv1 != 250*time.Millisecond || iv2 != 0 {
		t.Fatalf("counted task should use phase-one timer, got (%v, %v)", iv1, iv2)
	}
	fr, err := c0.frame()
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if fr.CANID != 0x100 || fr.Len != 4 {
		t.Fatalf("frame mismatch: %+v", fr)
	}
	if fr.Data[0] != 0xDE || fr.Data[3] != 0xEF {
		t.Fatalf("payload mismatch: % X", fr.Data[:fr.Len])
	}

	c1 := subs.Cyclics[1]
	if c1.canID() != 0x1ABCDEF0|can.CAN_EFF_FLAG {
		t.Fatalf("extended id should carry the frame-format bit, got 0x%X", c1.canID())
	}
	iv1, iv2 = c1.intervals()
	if iv1 != 0 || iv2 != time.Second {
		t.Fatalf("endless task should use phase-two timer, got (%v, %v)", iv1, iv2)
	}
}

func TestLoadSubscriptions_EmptyPath(t *testing.T) {
	subs, err := loadSubscriptions("")
	if err != nil {
		t.Fatalf("empty path should be ok, got %v", err)
	}
	if len(subs.Filters) != 0 || len(subs.Cyclics) != 0 {
		t.Fatalf("expected empty set, got %+v", subs)
	}
}

func TestLoadSubscriptions_MissingFile(t *testing.T) {
	if _, err := loadSubscriptions(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadSubscriptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"badHexPayload", "[[cyclic]]\nid = 0x100\ninterval = \"1s\"\ndata = \"XYZ\"\n"},
		{"payloadTooLong", "[[cyclic]]\nid = 0x100\ninterval = \"1s\"\ndata = \"010203040506070809\"\n"},
		{"zeroInterval", "[[cyclic]]\nid = 0x100\ninterval = \"0s\"\ndata = \"01\"\n"},
		{"badDuration", "[[filter]]\nid = 0x100\ntimeout = \"fast\"\n"},
		{"filterIDRange", "[[filter]]\nid = 0x20000000\n"},
		{"standardIDRange", "[[cyclic]]\nid = 0x800\ninterval = \"1s\"\ndata = \"01\"\n"},
	}
	for _, tc := range tests {
		p := writeSubsFile(t, tc.body)
		if _, err := loadSubscriptions(p); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
