// Package slcan speaks the LAWICEL slcan ASCII protocol used by serial
// CAN adapters: one frame per CR-terminated line, hex id and payload.
package slcan

import (
	"bytes"
	"errors"

	"github.com/kstaniek/go-bcm-server/internal/can"
	"github.com/kstaniek/go-bcm-server/internal/metrics"
)

type Codec struct{}

// ErrMalformedLine is returned by line parsing for anything that is not a
// complete, well-formed slcan frame.
var ErrMalformedLine = errors.New("slcan: malformed line")

// Longest valid line before the CR: 'T' + 8 id digits + DLC digit + 16
// data digits. A run from a start byte that grows past this can never
// become a frame.
const maxLineLen = 1 + 8 + 1 + 16

const hexDigits = "0123456789ABCDEF"

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred. Thresholds chosen to avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	// If buffer size < 1KB, skip.
	if len(data) < 1024 {
		return false
	}
	// If unread < 25% of capacity, compact.
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Encode renders one frame as an slcan line:
//
//	t123 4 DEADBEEF <CR>   standard data frame (spaces for illustration)
//	T1234ABCD 0 <CR>       extended data frame
//	r/R variants           remote request, no payload digits
//
// Hex is emitted uppercase; the trailing CR is included.
func (Codec) Encode(f can.Frame) []byte {
	ext := f.CANID&can.CAN_EFF_FLAG != 0
	rtr := f.CANID&can.CAN_RTR_FLAG != 0

	var kind byte
	idDigits := 3
	switch {
	case rtr && ext:
		kind = 'R'
		idDigits = 8
	case rtr:
		kind = 'r'
	case ext:
		kind = 'T'
		idDigits = 8
	default:
		kind = 't'
	}

	id := f.ID()
	n := int(f.Len)
	if n > 8 {
		n = 8
	}
	line := make([]byte, 0, maxLineLen+1)
	line = append(line, kind)
	for shift := (idDigits - 1) * 4; shift >= 0; shift -= 4 {
		line = append(line, hexDigits[(id>>shift)&0xF])
	}
	line = append(line, hexDigits[n])
	if !rtr {
		for _, b := range f.Data[:n] {
			line = append(line, hexDigits[b>>4], hexDigits[b&0xF])
		}
	}
	return append(line, '\r')
}

// DecodeStream consumes complete lines from in and emits decoded frames
// via out. Partial lines stay buffered for the next call; junk between
// frames is skipped byte-wise so a corrupted stream resynchronizes on the
// next valid frame. It returns nil when in holds no further complete line.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		data := in.Bytes()
		// Periodically compact to avoid unbounded growth from noise.
		_ = CompactBuffer(in)
		if len(data) == 0 {
			return nil
		}

		// Align to a frame start byte.
		i := bytes.IndexAny(data, "tTrR")
		if i < 0 {
			in.Reset()
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		j := bytes.IndexByte(data, '\r')
		if j < 0 {
			if len(data) > maxLineLen {
				// No terminator within the longest valid line: the start
				// byte was payload noise. Drop it and resync.
				metrics.IncMalformed()
				in.Next(1)
				continue
			}
			return nil // wait for the rest of the line
		}

		f, err := parseLine(data[:j])
		if err != nil {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		out(f)
		metrics.IncSerialRx()
		in.Next(j + 1)
	}
}

// parseLine decodes one CR-stripped slcan line. Hex is accepted in either
// case; the line must match its announced shape exactly.
func parseLine(line []byte) (can.Frame, error) {
	var f can.Frame
	if len(line) == 0 {
		return f, ErrMalformedLine
	}

	var idDigits int
	var ext, rtr bool
	switch line[0] {
	case 't':
		idDigits = 3
	case 'T':
		idDigits, ext = 8, true
	case 'r':
		idDigits, rtr = 3, true
	case 'R':
		idDigits, ext, rtr = 8, true, true
	default:
		return f, ErrMalformedLine
	}

	if len(line) < 1+idDigits+1 {
		return f, ErrMalformedLine
	}
	id, err := parseHex(line[1 : 1+idDigits])
	if err != nil {
		return f, err
	}
	if ext && id > can.CAN_EFF_MASK || !ext && id > can.CAN_SFF_MASK {
		return f, ErrMalformedLine
	}

	dlc := line[1+idDigits]
	if dlc < '0' || dlc > '8' {
		return f, ErrMalformedLine
	}
	n := int(dlc - '0')

	want := 1 + idDigits + 1
	if !rtr {
		want += 2 * n
	}
	if len(line) != want {
		return f, ErrMalformedLine
	}

	f.CANID = id
	if ext {
		f.CANID |= can.CAN_EFF_FLAG
	}
	if rtr {
		f.CANID |= can.CAN_RTR_FLAG
	}
	f.Len = uint8(n)
	if !rtr {
		for i := 0; i < n; i++ {
			b, err := parseHex(line[1+idDigits+1+2*i : 1+idDigits+1+2*i+2])
			if err != nil {
				return can.Frame{}, err
			}
			f.Data[i] = byte(b)
		}
	}
	return f, nil
}

func parseHex(b []byte) (uint32, error) {
	var v uint32
	for _, c := range b {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint32(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uint32(c-'A') + 10
		default:
			return 0, ErrMalformedLine
		}
	}
	return v, nil
}
