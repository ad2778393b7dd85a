package slcan

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-bcm-server/internal/can"
)

func f(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = id
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func TestEncodeGolden(t *testing.T) {
	cases := []struct {
		fr   can.Frame
		want string
	}{
		{f(0x123, 0xDE, 0xAD, 0xBE, 0xEF), "t1234DEADBEEF\r"},
		{f(0x7FF), "t7FF0\r"},
		{f(0x1234ABCD|can.CAN_EFF_FLAG, 0x01), "T1234ABCD101\r"},
		{f(0x123 | can.CAN_RTR_FLAG), "r1230\r"},
		{f(0x12345678 | can.CAN_EFF_FLAG | can.CAN_RTR_FLAG), "R123456780\r"},
	}
	codec := Codec{}
	for i, c := range cases {
		if got := string(codec.Encode(c.fr)); got != c.want {
			t.Fatalf("case %d: got %q want %q", i, got, c.want)
		}
	}
}

func TestSlcanCodec_RoundTrip_Chunked(t *testing.T) {
	codec := Codec{}

	want := []can.Frame{
		f(0x1E5, 0x34, 0x7B, 0x70, 0xD7, 0x94, 0x10, 0x0D, 0xF7), // 8B std
		f(0x0001F55|can.CAN_EFF_FLAG, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6),
		f(0x0123456|can.CAN_EFF_FLAG, 0x9A, 0xBC),
		f(0x7FF | can.CAN_RTR_FLAG),
		f(0x01ABCDE|can.CAN_EFF_FLAG, 0xDE, 0xAD, 0xBE),
	}

	// Build a continuous line stream with some inter-frame noise.
	stream := make([]byte, 0, 256)
	for i, fr := range want {
		if i == 2 {
			stream = append(stream, "\r\nz7"...) // adapter chatter between lines
		}
		stream = append(stream, codec.Encode(fr)...)
	}

	var buf bytes.Buffer
	got := make([]can.Frame, 0, len(want))

	// Feed in irregular small chunks to stress line alignment & partials.
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n

		if err := codec.DecodeStream(&buf, func(fr can.Frame) {
			got = append(got, fr)
		}); err != nil {
			t.Fatalf("DecodeStream error: %v", err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d mismatch\n got  id=0x%X len=%d data=% X\n want id=0x%X len=%d data=% X",
				i,
				got[i].CANID, got[i].Len, got[i].Data[:got[i].Len],
				want[i].CANID, want[i].Len, want[i].Data[:want[i].Len])
		}
	}
}

func TestDecodeLowercaseHex(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("t1232dead\r")

	var got []can.Frame
	if err := (Codec{}).DecodeStream(&buf, func(fr can.Frame) {
		got = append(got, fr)
	}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	want := f(0x123, 0xDE, 0xAD)
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %+v, want [%+v]", got, want)
	}
}
