package sender

import (
	"net"
	"testing"

	"github.com/havenlink/transfercore/internal/congestion"
	"github.com/havenlink/transfercore/internal/control"
	"github.com/havenlink/transfercore/internal/progress"
)

func newTestBlaster(t *testing.T) *blaster {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var transferID [16]byte
	pr := progress.New(0, 1)
	return newBlaster(conn, transferID, 8, congestion.New(congestion.DefaultConfig()), pr, pr.Cancelled, nil, nil)
}

// TestBlasterHandleAckIdempotent ensures a duplicate ACK (§4.6's
// at-least-once delivery) does not over-count chunks_complete past the
// declared chunk count.
func TestBlasterHandleAckIdempotent(t *testing.T) {
	b := newTestBlaster(t)
	b.cache.Insert(encryptedChunk{index: 0})

	b.handleAck(control.Ack{ChunkIndex: 0})
	b.handleAck(control.Ack{ChunkIndex: 0})
	b.handleAck(control.Ack{ChunkIndex: 0})

	if got := b.progress.ChunksComplete(); got != 1 {
		t.Fatalf("chunks_complete = %d, want 1 after duplicate ACKs", got)
	}
}
