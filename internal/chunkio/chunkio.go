// Package chunkio implements the §4.9 two-pass store-and-forward upload
// path: a first pass seals and hashes every chunk without retaining any
// ciphertext past the iteration that produces it, and a second pass
// re-seals the same plaintext byte-for-byte and streams the result to the
// relay's §6 TCP fallback transport. The two passes produce identical
// ciphertext because crypto.SealChunk's nonce is a pure function of chunk
// index — pass 2 never needs state left over from pass 1.
package chunkio

// Manifest is the pass-1 result: the whole-file hash and one per-chunk
// hash over the encrypted bytes, plus the chunk geometry pass 2 and the
// relay's ledger both need to agree on.
type Manifest struct {
	FileSize    int64
	ChunkSize   int64
	ChunkCount  int64
	ChunkHashes [][32]byte
	FileHash    [32]byte
}
