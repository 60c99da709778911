package receiver

import (
	"fmt"
	"io"
	"os"

	"github.com/havenlink/transfercore/internal/crypto"
)

// verifyWholeFile recomputes the whole-file hash (§4.1: streaming SHA-256
// over the concatenation of encrypted chunks in index order) without
// keeping the whole file's ciphertext in memory: it re-reads each
// plaintext window from the now-complete output file and re-seals it with
// the same deterministic nonce, which reproduces byte-identical ciphertext
// to what the sender hashed.
func verifyWholeFile(path string, key crypto.SessionKey, chunkSize int64, chunkCount int64, fileSize int64, want [32]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hasher := crypto.NewWholeFileHasher()
	buf := make([]byte, chunkSize)

	for i := int64(0); i < chunkCount; i++ {
		n := chunkSize
		if remaining := fileSize - i*chunkSize; remaining < n {
			n = remaining
		}
		if n < 0 {
			n = 0
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil && err != io.EOF {
			return fmt.Errorf("receiver: whole-file verify read chunk %d: %w", i, err)
		}
		sealed, err := crypto.SealChunk(key, uint32(i), buf[:n])
		if err != nil {
			return err
		}
		hasher.Write(sealed)
	}

	if got := hasher.Sum(); got != want {
		return fmt.Errorf("receiver: whole-file hash mismatch")
	}
	return nil
}
