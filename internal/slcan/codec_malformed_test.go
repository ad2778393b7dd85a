package slcan

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-bcm-server/internal/can"
	"github.com/kstaniek/go-bcm-server/internal/metrics"
)

// TestDecodeStreamMalformed ensures bad DLC / short lines increment metric
// and the decoder resynchronizes on the next valid frame.
func TestDecodeStreamMalformed(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}
	before := metrics.Snap().Malformed

	buf.WriteString("t123XFF\r")  // non-hex DLC position
	buf.WriteString("t1232AB\r")  // DLC says 2 bytes, only 1 present
	buf.WriteString("t4562BEEF\r") // valid

	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) {
		got = append(got, fr)
	}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	after := metrics.Snap().Malformed
	if after <= before {
		t.Fatalf("expected malformed metric increment, before=%d after=%d", before, after)
	}
	want := f(0x456, 0xBE, 0xEF)
	if len(got) != 1 || got[0] != want {
		t.Fatalf("resync failed: got %+v, want [%+v]", got, want)
	}
}

// A start byte with no CR within the longest possible line must be
// dropped so unterminated garbage cannot stall the decoder.
func TestDecodeStreamUnterminatedRun(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}

	buf.WriteString("T00000000000000000000000000000000") // > max line, no CR
	if err := codec.DecodeStream(&buf, func(fr can.Frame) {
		t.Fatalf("decoded frame from garbage: %+v", fr)
	}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("garbage not discarded, %d bytes left", buf.Len())
	}

	buf.WriteString("t00111A\r")
	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) {
		got = append(got, fr)
	}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	want := f(0x001, 0x1A)
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %+v, want [%+v]", got, want)
	}
}
