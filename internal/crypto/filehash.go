package crypto

import (
	"crypto/sha256"
	"hash"
)

// HashEncryptedChunk computes the per-chunk SHA-256 hash over the stored
// encrypted-chunk bytes (nonce ‖ ciphertext ‖ tag).
func HashEncryptedChunk(encryptedChunk []byte) [32]byte {
	return sha256.Sum256(encryptedChunk)
}

// WholeFileHasher streams SHA-256 over the concatenation of encrypted
// chunks in index order, matching the sender's incremental computation so
// both sides arrive at the same whole-file hash without buffering the
// entire transfer in memory.
type WholeFileHasher struct {
	h hash.Hash
}

// NewWholeFileHasher creates a fresh whole-file hash accumulator.
func NewWholeFileHasher() *WholeFileHasher {
	return &WholeFileHasher{h: sha256.New()}
}

// Write feeds the next encrypted chunk's bytes into the accumulator. Chunks
// must be written in index order for the result to match the sender's.
func (w *WholeFileHasher) Write(encryptedChunk []byte) {
	_, _ = w.h.Write(encryptedChunk)
}

// Sum returns the final 32-byte whole-file hash.
func (w *WholeFileHasher) Sum() [32]byte {
	var out [32]byte
	copy(out[:], w.h.Sum(nil))
	return out
}
