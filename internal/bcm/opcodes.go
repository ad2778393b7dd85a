// Package bcm speaks the Linux SocketCAN broadcast-manager protocol: a
// datagram socket through which user space installs kernel-side content
// filters and cyclic transmission tasks, and receives change/timeout
// notifications. Every exchange is one bcm_msg_head structure in the
// kernel's native layout, optionally followed by can_frame records.
package bcm

import "fmt"

// Opcode selects the broadcast-manager operation. Request opcodes travel
// user space to kernel, notification opcodes come back. Values match
// <linux/can/bcm.h>.
type Opcode uint32

const (
	TxSetup   Opcode = iota + 1 // create or update a cyclic transmission task
	TxDelete                    // remove a cyclic transmission task
	TxRead                      // read back properties of a transmission task
	TxSend                      // send one frame immediately
	RxSetup                     // create or update a receive filter
	RxDelete                    // remove a receive filter
	RxRead                      // read back properties of a receive filter
	TxStatus                    // notification: transmission task properties
	TxExpired                   // notification: cyclic count finished
	RxStatus                    // notification: receive filter properties
	RxTimeout                   // notification: monitored id went silent
	RxChanged                   // notification: first or changed frame content
)

func (op Opcode) String() string {
	switch op {
	case TxSetup:
		return "TX_SETUP"
	case TxDelete:
		return "TX_DELETE"
	case TxRead:
		return "TX_READ"
	case TxSend:
		return "TX_SEND"
	case RxSetup:
		return "RX_SETUP"
	case RxDelete:
		return "RX_DELETE"
	case RxRead:
		return "RX_READ"
	case TxStatus:
		return "TX_STATUS"
	case TxExpired:
		return "TX_EXPIRED"
	case RxStatus:
		return "RX_STATUS"
	case RxTimeout:
		return "RX_TIMEOUT"
	case RxChanged:
		return "RX_CHANGED"
	}
	return fmt.Sprintf("OPCODE(%d)", uint32(op))
}

// Flags modify setup operations and annotate notifications. Unknown bits
// pass through the codec untouched.
type Flags uint32

const (
	SetTimer        Flags = 1 << iota // ival1/ival2 carry timer values
	StartTimer                        // start the timer on TX_SETUP
	TxCountEvt                        // notify with TX_EXPIRED when count runs out
	TxAnnounce                        // announce content changes immediately
	TxCpCanID                         // copy can_id from the head into all frames
	RxFilterID                        // match on can_id alone, no content filter
	RxCheckDLC                        // a changed DLC counts as a content change
	RxNoAutotimer                     // do not derive the timeout from ival1
	RxAnnounceResume                  // announce first frame after a timeout
	TxResetMultiIdx                   // restart multi-frame cycling at index 0
	RxRTRFrame                        // answer RTR frames with the configured frame
	CANFDFrame                        // frame records use the CAN FD layout
)
