package receiver

import (
	"sync"

	"github.com/havenlink/transfercore/internal/bitfield"
	"github.com/havenlink/transfercore/internal/control"
	"github.com/havenlink/transfercore/internal/protocol"
)

// chunkState is the per-chunk bitfield and backing buffer, allocated lazily
// on the chunk's first frame (§4.4).
type chunkState struct {
	bf  *bitfield.ChunkBitfield
	buf []byte
}

// assembler owns the per-chunk bitfields and buffers (§5) and is the only
// piece of receive-side state the NACK scanner also reads — guarded by a
// mutex, Go's idiomatic stand-in for the single-owner-thread model the
// spec describes.
type assembler struct {
	mu             sync.Mutex
	chunks         map[uint32]*chunkState
	encryptedSizes func(chunkIndex uint32) int
}

func newAssembler(encryptedSizes func(chunkIndex uint32) int) *assembler {
	return &assembler{
		chunks:         make(map[uint32]*chunkState),
		encryptedSizes: encryptedSizes,
	}
}

// run consumes frames from in, assembling chunks and pushing completed ones
// onto out; it exits when in is closed.
func (a *assembler) run(in <-chan incomingFrame, out chan<- assembledChunk) {
	defer close(out)
	for f := range in {
		a.acceptFrame(f, out)
	}
}

func (a *assembler) acceptFrame(f incomingFrame, out chan<- assembledChunk) {
	a.mu.Lock()
	st, ok := a.chunks[f.chunkIndex]
	if !ok {
		size := a.encryptedSizes(f.chunkIndex)
		st = &chunkState{
			bf:  bitfield.New(f.frameCount),
			buf: make([]byte, size),
		}
		a.chunks[f.chunkIndex] = st
	}

	if st.bf.Set(f.frameIndex) {
		start := int(f.frameIndex) * protocol.FramePayloadMax
		end := start + len(f.payload)
		if end <= len(st.buf) {
			copy(st.buf[start:end], f.payload)
		}
	}

	complete := st.bf.IsComplete()
	if complete {
		delete(a.chunks, f.chunkIndex)
	}
	a.mu.Unlock()

	if complete {
		out <- assembledChunk{index: f.chunkIndex, data: st.buf}
	}
}

// MissingForAll returns a NACK envelope for every incomplete chunk with at
// least one frame received, capped at maxPerChunk missing indices each, for
// the NACK scanner to emit every 50ms.
func (a *assembler) MissingForAll(maxPerChunk int) []control.Nack {
	a.mu.Lock()
	defer a.mu.Unlock()

	var nacks []control.Nack
	for index, st := range a.chunks {
		missing := st.bf.MissingFrames(maxPerChunk)
		if len(missing) == 0 {
			continue
		}
		nacks = append(nacks, control.Nack{ChunkIndex: index, MissingFrames: missing})
	}
	return nacks
}
