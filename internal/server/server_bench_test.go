package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/go-bcm-server/internal/can"
	"github.com/kstaniek/go-bcm-server/internal/hub"
	"github.com/kstaniek/go-bcm-server/internal/wire"
)

// mockSend is a no-op bus send function.
func mockSend(can.Frame) error { return nil }

// startInMemoryServer launches the server on :0 for benchmarks.
func startInMemoryServer(b *testing.B, h *hub.Hub) (*Server, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(WithHub(h), WithCodec(&wire.Codec{}), WithSend(mockSend))
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		b.Fatalf("server not ready")
	}
	return srv, cancel
}

// benchClient dials, handshakes and drains everything the writer flushes so
// the TCP buffer never stalls the path under test.
func benchClient(b *testing.B, srv *Server, h *hub.Hub) net.Conn {
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		b.Fatalf("dial: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	if _, err := conn.Write([]byte("BCM-SERVERv1")); err != nil {
		b.Fatalf("handshake write: %v", err)
	}
	if _, err := conn.Read(make([]byte, 12)); err != nil {
		b.Fatalf("handshake read: %v", err)
	}
	_ = conn.SetDeadline(time.Time{})
	go func() {
		buf := make([]byte, 64<<10)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && h.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	return conn
}

func BenchmarkServerWriterFlush(b *testing.B) {
	h := hub.New()
	h.OutBufSize = 1024
	srv, cancel := startInMemoryServer(b, h)
	defer cancel()
	conn := benchClient(b, srv, h)
	defer conn.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Broadcast(can.Frame{CANID: uint32(i), Len: 0})
	}
}

// BenchmarkServerBroadcastBatch pushes whole notification batches the way
// a 256-frame bus message arrives.
func BenchmarkServerBroadcastBatch(b *testing.B) {
	h := hub.New()
	h.OutBufSize = 1024
	srv, cancel := startInMemoryServer(b, h)
	defer cancel()
	conn := benchClient(b, srv, h)
	defer conn.Close()

	frames := make([]can.Frame, 64)
	for i := range frames {
		frames[i] = can.Frame{CANID: uint32(0x100 + i), Len: 8, Data: [8]byte{byte(i)}}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.BroadcastAll(frames)
	}
}
