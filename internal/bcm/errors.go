package bcm

import (
	"errors"
	"fmt"
)

// ErrShortMessage is returned when a read yields fewer bytes than the
// message head announces.
var ErrShortMessage = errors.New("bcm: short message")

// ErrFrameCount is returned when a message head announces more frames
// than the protocol allows.
var ErrFrameCount = errors.New("bcm: frame count out of range")

// ErrTxOverflow is returned by the TX writer when its queue is full.
var ErrTxOverflow = errors.New("bcm: tx overflow")

// OpenError reports which step of socket construction failed.
type OpenError struct {
	Op  string
	Err error
}

func (e *OpenError) Error() string { return "bcm open: " + e.Op + ": " + e.Err.Error() }

func (e *OpenError) Unwrap() error { return e.Err }

// ProtocolMismatchError reports that the kernel consumed a different byte
// count than the message layout predicts. It signals disagreement about
// the bcm_msg_head layout, not an I/O failure.
type ProtocolMismatchError struct {
	Op    string
	Wrote int
	Want  int
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("bcm %s: kernel consumed %d bytes, want %d", e.Op, e.Wrote, e.Want)
}
