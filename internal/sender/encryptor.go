package sender

import (
	"github.com/havenlink/transfercore/internal/crypto"
	"github.com/havenlink/transfercore/internal/protocol"
)

// runEncryptor owns the session key and the streaming whole-file hasher.
// For every chunk read from in, it derives the deterministic nonce,
// encrypts, hashes the encrypted bytes, and forwards the result to out. Once
// in closes (Reader is done), it publishes the finished Summary — the OFFER
// envelope must wait for this, never for an individual chunk.
func runEncryptor(key crypto.SessionKey, in <-chan rawChunk, out chan<- encryptedChunk) Summary {
	defer close(out)

	hasher := crypto.NewWholeFileHasher()
	var hashes [][32]byte

	for rc := range in {
		sealed, err := crypto.SealChunk(key, rc.index, rc.plaintext)
		if err != nil {
			return Summary{Err: err}
		}
		hash := crypto.HashEncryptedChunk(sealed)
		hasher.Write(sealed)
		hashes = append(hashes, hash)

		out <- encryptedChunk{
			index:      rc.index,
			data:       sealed,
			hash:       hash,
			frameCount: protocol.FramesForChunk(len(sealed)),
		}
	}

	return Summary{ChunkHashes: hashes, FileHash: hasher.Sum()}
}
