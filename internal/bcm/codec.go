//go:build linux

package bcm

import (
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-bcm-server/internal/can"
)

// MaxFrames is the largest frame array one message may carry (MAX_NFRAMES
// in linux/can/bcm.h).
const MaxFrames = 256

// The wire form is the kernel's in-memory bcm_msg_head (linux/can/bcm.h):
//
//	u32        opcode
//	u32        flags
//	u32        count
//	timeval    ival1     aligned like a kernel long
//	timeval    ival2
//	canid_t    can_id    4 bytes, flag bits included
//	u32        nframes
//	can_frame  frames[]  aligned to 8
//
// A timeval is two kernel longs, so field offsets differ between 32- and
// 64-bit targets, and the 8-aligned trailing array pads the frame-less head
// beyond its field sum on 32-bit targets. Everything below is computed from
// declared sizes and alignments, never hard-coded.
const (
	timevalSize  = int(unsafe.Sizeof(unix.Timeval{}))
	timevalAlign = int(unsafe.Alignof(unix.Timeval{}))
	longSize     = timevalSize / 2
	frameAlign   = 8 // can_frame is declared __attribute__((aligned(8)))

	offOpcode  = 0
	offFlags   = 4
	offCount   = 8
	offIval1   = (offCount + 4 + timevalAlign - 1) &^ (timevalAlign - 1)
	offIval2   = offIval1 + timevalSize
	offCanID   = offIval2 + timevalSize
	offNFrames = offCanID + 4

	// HeadSize is the wire size of a frame-less bcm_msg_head, trailing
	// padding included.
	HeadSize = (offNFrames + 4 + frameAlign - 1) &^ (frameAlign - 1)

	// FullSize is the wire size of a message carrying MaxFrames records,
	// large enough for any read or write on a BCM socket.
	FullSize = HeadSize + MaxFrames*can.FrameSize
)

// Head mirrors bcm_msg_head without the trailing frame array. Intervals
// are durations on this side; the codec converts to and from kernel
// timevals, truncating below microsecond resolution.
type Head struct {
	Opcode  Opcode
	Flags   Flags
	Count   uint32
	Ival1   time.Duration
	Ival2   time.Duration
	CanID   uint32 // identifier verbatim, flag bits included
	NFrames uint32
}

// Message is one decoded broadcast-manager exchange. After Unmarshal,
// Frames holds exactly NFrames records.
type Message struct {
	Head
	Frames []can.Frame
}

func putLong(b []byte, v uint64) {
	if longSize == 8 {
		binary.NativeEndian.PutUint64(b, v)
		return
	}
	binary.NativeEndian.PutUint32(b, uint32(v))
}

func getLong(b []byte) uint64 {
	if longSize == 8 {
		return binary.NativeEndian.Uint64(b)
	}
	return uint64(binary.NativeEndian.Uint32(b))
}

func putTimeval(b []byte, d time.Duration) {
	putLong(b, uint64(d/time.Second))
	putLong(b[longSize:], uint64(d%time.Second/time.Microsecond))
}

func getTimeval(b []byte) time.Duration {
	return time.Duration(getLong(b))*time.Second +
		time.Duration(getLong(b[longSize:]))*time.Microsecond
}

// putHead writes h into b, which must be at least HeadSize bytes. The
// kernel reads this structure from its own address space, so byte order
// is the host's.
func putHead(b []byte, h *Head) {
	binary.NativeEndian.PutUint32(b[offOpcode:], uint32(h.Opcode))
	binary.NativeEndian.PutUint32(b[offFlags:], uint32(h.Flags))
	binary.NativeEndian.PutUint32(b[offCount:], h.Count)
	putTimeval(b[offIval1:], h.Ival1)
	putTimeval(b[offIval2:], h.Ival2)
	binary.NativeEndian.PutUint32(b[offCanID:], h.CanID)
	binary.NativeEndian.PutUint32(b[offNFrames:], h.NFrames)
}

func parseHead(b []byte) Head {
	return Head{
		Opcode:  Opcode(binary.NativeEndian.Uint32(b[offOpcode:])),
		Flags:   Flags(binary.NativeEndian.Uint32(b[offFlags:])),
		Count:   binary.NativeEndian.Uint32(b[offCount:]),
		Ival1:   getTimeval(b[offIval1:]),
		Ival2:   getTimeval(b[offIval2:]),
		CanID:   binary.NativeEndian.Uint32(b[offCanID:]),
		NFrames: binary.NativeEndian.Uint32(b[offNFrames:]),
	}
}

// Marshal encodes m in the kernel layout. The wire frame count is taken
// from len(m.Frames), not from the head.
func Marshal(m *Message) []byte {
	b := make([]byte, HeadSize+len(m.Frames)*can.FrameSize)
	h := m.Head
	h.NFrames = uint32(len(m.Frames))
	putHead(b, &h)
	for i, fr := range m.Frames {
		fr.PutRecord(b[HeadSize+i*can.FrameSize:])
	}
	return b
}

// Unmarshal decodes one message from b. It rejects buffers shorter than a
// head, heads announcing more than MaxFrames records, and buffers that do
// not hold every announced record.
func Unmarshal(b []byte) (*Message, error) {
	if len(b) < HeadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(b))
	}
	m := &Message{Head: parseHead(b)}
	if m.NFrames > MaxFrames {
		return nil, fmt.Errorf("%w: %d", ErrFrameCount, m.NFrames)
	}
	if want := HeadSize + int(m.NFrames)*can.FrameSize; len(b) < want {
		return nil, fmt.Errorf("%w: %d bytes for %d frames", ErrShortMessage, len(b), m.NFrames)
	}
	if m.NFrames > 0 {
		m.Frames = make([]can.Frame, m.NFrames)
		for i := range m.Frames {
			m.Frames[i] = can.FrameFromRecord(b[HeadSize+i*can.FrameSize:])
		}
	}
	return m, nil
}
