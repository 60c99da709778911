package sender

import (
	"net"
	"time"

	"github.com/havenlink/transfercore/internal/congestion"
	"github.com/havenlink/transfercore/internal/control"
	"github.com/havenlink/transfercore/internal/progress"
	"github.com/havenlink/transfercore/internal/protocol"
)

const (
	sendRetryAttempts = 50
	sendRetryDelay    = time.Millisecond
	lossFractionTrip  = 0.10
	rateDecreaseMul   = 0.80
	rateIncreaseMul   = 1.10
	drainPhase        = 60 * time.Second
	drainPollInterval = 100 * time.Millisecond
)

// blaster owns the UDP socket and the retransmit cache — no other stage
// touches either (§5). It paces frame transmission at the congestion
// controller's rate, falling back to a multiplicative NACK/ACK heuristic
// until the controller has both smoothed and min RTT (§4.3).
type blaster struct {
	conn       *net.UDPConn
	transferID [16]byte
	window     int

	cache      *retransmitCache
	congestion *congestion.Controller
	progress   *progress.Record

	manualRate  float64
	initialRate float64

	cancelled func() bool

	nackCh <-chan control.Nack
	ackCh  <-chan control.Ack
}

func newBlaster(conn *net.UDPConn, transferID [16]byte, window int, cc *congestion.Controller, pr *progress.Record, cancelled func() bool, nackCh <-chan control.Nack, ackCh <-chan control.Ack) *blaster {
	return &blaster{
		conn:        conn,
		transferID:  transferID,
		window:      window,
		cache:       newRetransmitCache(window),
		congestion:  cc,
		progress:    pr,
		manualRate:  float64(cc.Rate()),
		initialRate: float64(cc.Rate()),
		cancelled:   cancelled,
		nackCh:      nackCh,
		ackCh:       ackCh,
	}
}

// run consumes encrypted chunks from in, blasting each as a sequence of
// frames, and drains NACK/ACK feedback between frames and chunks. It
// returns once in closes and the drain phase completes.
func (b *blaster) run(in <-chan encryptedChunk) {
	frameBuf := make([]byte, protocol.FrameMaxSize)

	for chunk := range in {
		if b.progress.Cancelled() {
			return
		}
		b.cache.Insert(chunk)
		b.blastChunk(frameBuf, chunk)
		b.drainFeedback(false)
	}

	deadline := time.Now().Add(drainPhase)
	for time.Now().Before(deadline) {
		if b.progress.Cancelled() || b.allAcked() {
			return
		}
		b.drainFeedback(true)
	}
}

func (b *blaster) blastChunk(frameBuf []byte, chunk encryptedChunk) {
	for frameIndex := uint16(0); frameIndex < chunk.frameCount; frameIndex++ {
		if b.cancelled() {
			return
		}
		start := int(frameIndex) * framePayloadMax
		end := start + framePayloadMax
		if end > len(chunk.data) {
			end = len(chunk.data)
		}
		payload := chunk.data[start:end]

		n, err := protocol.EncodeFrame(frameBuf, b.transferID, chunk.index, frameIndex, chunk.frameCount, payload)
		if err != nil {
			b.progress.SetLastError(err.Error())
			return
		}
		b.sendWithRetry(frameBuf[:n])
		b.progress.AddBytesDone(int64(len(payload)))
		b.pace(len(payload))
	}
}

// sendWithRetry writes frame, retrying on transient buffer-exhaustion
// errors up to sendRetryAttempts times before giving up.
func (b *blaster) sendWithRetry(frame []byte) {
	for attempt := 0; attempt < sendRetryAttempts; attempt++ {
		_, err := b.conn.Write(frame)
		if err == nil {
			return
		}
		if !isTransientSendError(err) {
			b.progress.SetLastError(err.Error())
			return
		}
		time.Sleep(sendRetryDelay)
	}
	b.progress.SetLastError("send buffer exhausted after retry budget")
}

func (b *blaster) pace(payloadLen int) {
	interval := b.effectiveInterval(payloadLen)
	if interval <= 0 {
		return
	}
	deadline := time.Now().Add(interval)
	if interval > 200*time.Microsecond {
		time.Sleep(interval - 100*time.Microsecond)
	}
	for time.Now().Before(deadline) {
		// busy-spin below OS timer resolution
	}
}

func (b *blaster) effectiveInterval(payloadLen int) time.Duration {
	if _, ok := b.congestion.QueuingDelay(); ok {
		return b.congestion.PacketInterval(payloadLen)
	}
	rate := b.manualRate
	if rate <= 0 {
		return time.Microsecond
	}
	secs := float64(payloadLen) / rate
	us := int64(secs * 1_000_000)
	if us < 1 {
		us = 1
	}
	return time.Duration(us) * time.Microsecond
}

// drainFeedback services queued NACKs and ACKs non-blocking, or — during
// the drain phase — blocking with a 100ms timeout.
func (b *blaster) drainFeedback(blocking bool) {
	timeout := time.NewTimer(drainPollInterval)
	defer timeout.Stop()

	select {
	case nack, ok := <-b.nackCh:
		if ok {
			b.handleNack(nack)
		}
	case ack, ok := <-b.ackCh:
		if ok {
			b.handleAck(ack)
		}
	default:
		if !blocking {
			return
		}
		select {
		case nack, ok := <-b.nackCh:
			if ok {
				b.handleNack(nack)
			}
		case ack, ok := <-b.ackCh:
			if ok {
				b.handleAck(ack)
			}
		case <-timeout.C:
		}
	}
}

func (b *blaster) handleNack(n control.Nack) {
	chunk, ok := b.cache.Get(n.ChunkIndex)
	if !ok {
		return
	}
	frameBuf := make([]byte, protocol.FrameMaxSize)
	for _, frameIndex := range n.MissingFrames {
		start := int(frameIndex) * framePayloadMax
		if start >= len(chunk.data) {
			continue
		}
		end := start + framePayloadMax
		if end > len(chunk.data) {
			end = len(chunk.data)
		}
		payload := chunk.data[start:end]
		size, err := protocol.EncodeFrame(frameBuf, b.transferID, chunk.index, frameIndex, chunk.frameCount, payload)
		if err != nil {
			continue
		}
		b.sendWithRetry(frameBuf[:size])
		b.progress.AddRetransmit()
	}

	if len(n.MissingFrames) > 0 && chunk.frameCount > 0 {
		lossFraction := float64(len(n.MissingFrames)) / float64(chunk.frameCount)
		if lossFraction > lossFractionTrip {
			b.manualRate *= rateDecreaseMul
		}
	}
}

func (b *blaster) handleAck(a control.Ack) {
	if b.cache.MarkAcked(a.ChunkIndex) {
		b.progress.AddChunkComplete()
	}

	b.manualRate *= rateIncreaseMul
	if b.manualRate > b.initialRate {
		b.manualRate = b.initialRate
	}
}

func (b *blaster) allAcked() bool {
	for _, idx := range b.cache.fifo {
		if !b.cache.acked[idx] {
			return false
		}
	}
	return true
}
