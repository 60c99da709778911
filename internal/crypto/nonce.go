package crypto

import "encoding/binary"

// ChunkNonce builds the deterministic 12-byte AES-GCM nonce used to seal a
// chunk's plaintext. Bytes 0..8 are zero; bytes 8..12 carry chunk_index as
// big-endian u32. Because the session key is unique per transfer_id and
// chunk_index is unique per chunk within a transfer, no (key, nonce) pair
// is ever reused — chunk-level AEAD carries no AAD, so nonce uniqueness is
// the sole reuse guard.
func ChunkNonce(chunkIndex uint32) [12]byte {
	var n [12]byte
	binary.BigEndian.PutUint32(n[8:12], chunkIndex)
	return n
}
