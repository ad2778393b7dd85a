//go:build linux

package bcm

import (
	"fmt"
	"time"

	"github.com/kstaniek/go-bcm-server/internal/can"
)

// FilterID installs a kernel-side content filter for one identifier. The
// identifier is stored with the extended-frame bit set. With a non-zero
// timeout the kernel raises RxTimeout when the id goes silent for that
// long; a non-zero throttle rate-limits RxChanged notifications. Matching
// frames arrive as RxChanged messages on this socket.
//
// The request travels in a full-capacity buffer; the kernel consumes the
// head and reports that smaller count, so only the write error itself can
// fail the call.
func (s *Socket) FilterID(id uint32, timeout, throttle time.Duration) error {
	b := make([]byte, FullSize)
	putHead(b, &Head{
		Opcode: RxSetup,
		Flags:  SetTimer | RxFilterID,
		Ival1:  timeout,
		Ival2:  throttle,
		CanID:  id | can.CAN_EFF_FLAG,
	})
	if _, err := s.Write(b); err != nil {
		return fmt.Errorf("bcm %s %#x: %w", RxSetup, id, err)
	}
	return nil
}

// DeleteFilter removes the receive filter stored under id. The identifier
// must match the stored one bit for bit, flag bits included.
//
// The kernel acknowledges a delete by consuming exactly the frame-less
// head; any other count means both sides disagree about the message
// layout and is reported as a ProtocolMismatchError.
func (s *Socket) DeleteFilter(id uint32) error {
	b := make([]byte, FullSize)
	putHead(b, &Head{Opcode: RxDelete, CanID: id})
	n, err := s.Write(b)
	if err != nil {
		return fmt.Errorf("bcm %s %#x: %w", RxDelete, id, err)
	}
	if want := FullSize - MaxFrames*can.FrameSize; n != want {
		return &ProtocolMismatchError{Op: RxDelete.String(), Wrote: n, Want: want}
	}
	return nil
}

// ReadMessage pulls and decodes one queued notification. The read error is
// returned untouched, so callers can distinguish unix.EAGAIN from real
// failures.
func (s *Socket) ReadMessage() (*Message, error) {
	b := make([]byte, FullSize)
	n, err := s.Read(b)
	if err != nil {
		return nil, err
	}
	return Unmarshal(b[:n])
}

// TxSetup installs a cyclic transmission task for id. The kernel sends the
// frames in rotation: with count > 0, count cycles spaced by ival1 and
// then forever at ival2 (TxExpired reported if TxCountEvt is requested);
// with count == 0, forever at ival2. The head identifier is copied into
// every frame, so the records themselves need no id.
func (s *Socket) TxSetup(id uint32, frames []can.Frame, count uint32, ival1, ival2 time.Duration) error {
	if len(frames) == 0 || len(frames) > MaxFrames {
		return fmt.Errorf("%w: %d", ErrFrameCount, len(frames))
	}
	b := Marshal(&Message{
		Head: Head{
			Opcode: TxSetup,
			Flags:  SetTimer | StartTimer | TxCpCanID,
			Count:  count,
			Ival1:  ival1,
			Ival2:  ival2,
			CanID:  id,
		},
		Frames: frames,
	})
	n, err := s.Write(b)
	if err != nil {
		return fmt.Errorf("bcm %s %#x: %w", TxSetup, id, err)
	}
	if n != len(b) {
		return &ProtocolMismatchError{Op: TxSetup.String(), Wrote: n, Want: len(b)}
	}
	return nil
}

// TxDelete removes the cyclic transmission task stored under id.
func (s *Socket) TxDelete(id uint32) error { return s.writeHead(TxDelete, id) }

// TxRead asks for the properties of the transmission task stored under id.
// The answer arrives as a TxStatus notification on the read side.
func (s *Socket) TxRead(id uint32) error { return s.writeHead(TxRead, id) }

// RxRead asks for the properties of the receive filter stored under id.
// The answer arrives as an RxStatus notification on the read side.
func (s *Socket) RxRead(id uint32) error { return s.writeHead(RxRead, id) }

// TxSend hands one frame to the bus immediately, outside any cyclic task.
func (s *Socket) TxSend(fr can.Frame) error {
	b := Marshal(&Message{
		Head:   Head{Opcode: TxSend, CanID: fr.CANID},
		Frames: []can.Frame{fr},
	})
	n, err := s.Write(b)
	if err != nil {
		return fmt.Errorf("bcm %s %#x: %w", TxSend, fr.CANID, err)
	}
	if n != len(b) {
		return &ProtocolMismatchError{Op: TxSend.String(), Wrote: n, Want: len(b)}
	}
	return nil
}

// writeHead issues a head-only request. The kernel echoes the frame-less
// head size on success.
func (s *Socket) writeHead(op Opcode, id uint32) error {
	b := make([]byte, HeadSize)
	putHead(b, &Head{Opcode: op, CanID: id})
	n, err := s.Write(b)
	if err != nil {
		return fmt.Errorf("bcm %s %#x: %w", op, id, err)
	}
	if n != HeadSize {
		return &ProtocolMismatchError{Op: op.String(), Wrote: n, Want: HeadSize}
	}
	return nil
}
