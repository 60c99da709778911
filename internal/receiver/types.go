// Package receiver implements the Vacuum/Assembler/Writer pipeline that
// drives a blast-mode transfer's receive side (§4.4): a bounded frame
// channel and a tiny assembled-chunk channel join the three stages, with a
// NACK scanner running alongside to request missing frames.
package receiver

// State enumerates the receiver's lifecycle (§4.4).
type State int32

const (
	StateIdle State = iota
	StateReceiving
	StateComplete
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReceiving:
		return "RECEIVING"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// incomingFrame is one decoded frame handed from the Vacuum to the
// Assembler.
type incomingFrame struct {
	chunkIndex uint32
	frameIndex uint16
	frameCount uint16
	payload    []byte
}

// assembledChunk is a fully-received, bitfield-complete chunk handed from
// the Assembler to the Writer.
type assembledChunk struct {
	index uint32
	data  []byte
}
