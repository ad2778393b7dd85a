package can

import "encoding/binary"

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// FrameSize is sizeof(struct can_frame) for classic CAN: 4-byte can_id,
// 1-byte length, 3 pad bytes, 8 data bytes.
const FrameSize = 16

// Frame is a classic CAN frame as the kernel sees it.
// CANID carries EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is the payload length (0..8); only the first Len bytes of Data are valid.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [8]byte
}

// Extended reports whether the frame carries a 29-bit identifier.
func (f Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// ID returns the identifier with the flag bits masked off.
func (f Frame) ID() uint32 {
	if f.Extended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// PutRecord writes the frame into b using the kernel's can_frame layout.
// The record is an in-memory kernel structure, so byte order is the host's.
// b must be at least FrameSize bytes.
func (f Frame) PutRecord(b []byte) {
	binary.NativeEndian.PutUint32(b[0:4], f.CANID)
	b[4] = f.Len
	b[5], b[6], b[7] = 0, 0, 0
	copy(b[8:FrameSize], f.Data[:])
}

// FrameFromRecord decodes a kernel can_frame record of at least FrameSize
// bytes. The kernel guarantees Len <= 8 for classic frames.
func FrameFromRecord(b []byte) Frame {
	var f Frame
	f.CANID = binary.NativeEndian.Uint32(b[0:4])
	f.Len = b[4]
	copy(f.Data[:], b[8:FrameSize])
	return f
}
