// Package sender implements the Reader/Encryptor/Blaster pipeline that
// drives a blast-mode transfer's send side (§4.3): three stages joined by
// small bounded channels, each stage owning a disjoint slice of state so
// no cross-stage lock is ever needed except the shared progress record.
package sender

import "github.com/havenlink/transfercore/internal/protocol"

// rawChunk is one chunk-sized window of plaintext read from disk.
type rawChunk struct {
	index     uint32
	plaintext []byte
}

// encryptedChunk is one chunk after sealing, ready for the Blaster to slice
// into frames.
type encryptedChunk struct {
	index      uint32
	data       []byte
	hash       [32]byte
	frameCount uint16
}

// Summary is published once the Encryptor has sealed every chunk — the
// OFFER envelope is built from exactly this and must never be sent before
// it exists.
type Summary struct {
	ChunkHashes [][32]byte
	FileHash    [32]byte
	Err         error
}

const framePayloadMax = protocol.FramePayloadMax
