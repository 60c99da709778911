package sender

// retransmitCache holds recently-blasted chunks so the Blaster can service
// NACKs without re-reading or re-encrypting. It is owned exclusively by the
// Blaster — no other stage touches it (§5).
type retransmitCache struct {
	window int
	fifo   []uint32
	data   map[uint32]encryptedChunk
	acked  map[uint32]bool
}

func newRetransmitCache(window int) *retransmitCache {
	return &retransmitCache{
		window: window,
		data:   make(map[uint32]encryptedChunk),
		acked:  make(map[uint32]bool),
	}
}

// Insert adds chunk to the cache. If the cache is at capacity and its FIFO
// head has already been ACKed, the head is evicted to make room; otherwise
// the cache is allowed to grow past window until the receiver catches up.
func (c *retransmitCache) Insert(chunk encryptedChunk) {
	c.data[chunk.index] = chunk
	c.fifo = append(c.fifo, chunk.index)

	for len(c.fifo) > c.window {
		head := c.fifo[0]
		if !c.acked[head] {
			break
		}
		c.fifo = c.fifo[1:]
		delete(c.data, head)
		delete(c.acked, head)
	}
}

// Get returns the cached chunk for index, if still present.
func (c *retransmitCache) Get(index uint32) (encryptedChunk, bool) {
	ch, ok := c.data[index]
	return ch, ok
}

// MarkAcked records that index has been fully acknowledged, allowing it to
// be evicted once it reaches the FIFO head. It reports whether this call
// is what transitioned the chunk from unacked to acked, so callers can
// stay idempotent under the at-least-once ACK delivery of §4.6.
func (c *retransmitCache) MarkAcked(index uint32) bool {
	if _, ok := c.data[index]; !ok {
		return false
	}
	if c.acked[index] {
		return false
	}
	c.acked[index] = true
	return true
}
