//go:build linux

package bcm

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// Syscall seams, swapped by tests.
var (
	sysSocket      = unix.Socket
	sysSetNonblock = unix.SetNonblock
	sysConnect     = unix.Connect
	sysRead        = unix.Read
	sysWrite       = unix.Write
	sysClose       = unix.Close

	interfaceByName = net.InterfaceByName
)

// Socket is a connected, non-blocking broadcast-manager socket. It wraps
// exactly one descriptor and is meant to be driven by a single goroutine;
// it carries no locking of its own.
type Socket struct {
	fd        int
	closeOnce sync.Once
}

// Open creates a BCM socket attached to the CAN interface with the given
// index. The descriptor is switched to non-blocking mode before connecting,
// so reads return unix.EAGAIN while no notification is queued.
func Open(ifindex int) (*Socket, error) {
	fd, err := sysSocket(unix.AF_CAN, unix.SOCK_DGRAM, unix.CAN_BCM)
	if err != nil {
		return nil, &OpenError{Op: "socket", Err: err}
	}
	if err := sysSetNonblock(fd, true); err != nil {
		_ = sysClose(fd)
		return nil, &OpenError{Op: "set nonblock", Err: err}
	}
	// rx_id/tx_id stay zero: BCM addressing uses only the interface index.
	if err := sysConnect(fd, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		_ = sysClose(fd)
		return nil, &OpenError{Op: "connect", Err: err}
	}
	return &Socket{fd: fd}, nil
}

// OpenInterface resolves a CAN interface by name and opens a BCM socket on it.
func OpenInterface(iface string) (*Socket, error) {
	ifi, err := interfaceByName(iface)
	if err != nil {
		return nil, &OpenError{Op: "resolve " + iface, Err: err}
	}
	return Open(ifi.Index)
}

// FD exposes the descriptor for reactor registration.
func (s *Socket) FD() int { return s.fd }

// Write hands one encoded request to the broadcast manager and returns the
// raw system error, untouched.
func (s *Socket) Write(b []byte) (int, error) { return sysWrite(s.fd, b) }

// Read pulls one queued notification. While nothing is queued it returns
// unix.EAGAIN.
func (s *Socket) Read(b []byte) (int, error) { return sysRead(s.fd, b) }

// Close releases the descriptor. Idempotent and best-effort; close errors
// are discarded.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() { _ = sysClose(s.fd) })
	return nil
}
