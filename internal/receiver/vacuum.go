package receiver

import (
	"net"
	"time"

	"github.com/havenlink/transfercore/internal/protocol"
)

const vacuumReadTimeout = 100 * time.Millisecond

// vacuum reads frames off the UDP socket it exclusively owns (§5), rejects
// ones addressed to a different transfer, and pushes the rest onto the
// frame channel — dropping silently if that channel is full, since the
// NACK scanner will simply ask for the frame again.
type vacuum struct {
	conn       *net.UDPConn
	transferID [16]byte

	rejectedCount int
}

func newVacuum(conn *net.UDPConn, transferID [16]byte) *vacuum {
	return &vacuum{conn: conn, transferID: transferID}
}

// run reads until cancelled returns true or the socket is closed, closing
// out on every exit path so the assembler's `for f := range in` loop
// always terminates instead of blocking forever on a vacuum that's gone.
func (v *vacuum) run(out chan<- incomingFrame, cancelled func() bool) {
	defer close(out)
	buf := make([]byte, protocol.FrameMaxSize)

	for {
		if cancelled() {
			return
		}
		_ = v.conn.SetReadDeadline(time.Now().Add(vacuumReadTimeout))
		n, err := v.conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if isBenignConnReset(err) {
				continue
			}
			return
		}

		header, err := protocol.DecodeFrameHeader(buf[:n])
		if err != nil {
			continue
		}
		if header.TransferID != v.transferID {
			v.rejectedCount++
			continue
		}

		payload := protocol.FramePayload(buf[:n])
		frame := incomingFrame{
			chunkIndex: header.ChunkIndex,
			frameIndex: header.FrameIndex,
			frameCount: header.FrameCount,
			payload:    append([]byte(nil), payload...),
		}

		select {
		case out <- frame:
		default:
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
