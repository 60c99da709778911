package chunkio

import (
	"io"
	"os"

	"github.com/havenlink/transfercore/internal/crypto"
)

// HashPass performs the pass-1 sweep over path: read a chunk, seal it,
// hash the sealed bytes both per-chunk and into the running whole-file
// hash, then let the sealed bytes fall out of scope before the next
// iteration reads. Mirrors sender.runEncryptor's loop, minus forwarding
// the sealed chunk anywhere — pass 1 exists only to produce the manifest.
func HashPass(path string, chunkSize int, key crypto.SessionKey) (Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Manifest{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()

	hasher := crypto.NewWholeFileHasher()
	var hashes [][32]byte

	buf := make([]byte, chunkSize)
	var index uint32
	sawAny := false

	for {
		n, readErr := io.ReadFull(f, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return Manifest{}, readErr
		}

		if n > 0 || !sawAny {
			sealed, err := crypto.SealChunk(key, index, buf[:n])
			if err != nil {
				return Manifest{}, err
			}
			hashes = append(hashes, crypto.HashEncryptedChunk(sealed))
			hasher.Write(sealed)
			index++
			sawAny = true
		}

		if readErr == io.ErrUnexpectedEOF || readErr == io.EOF {
			break
		}
	}

	return Manifest{
		FileSize:    info.Size(),
		ChunkSize:   int64(chunkSize),
		ChunkCount:  int64(len(hashes)),
		ChunkHashes: hashes,
		FileHash:    hasher.Sum(),
	}, nil
}
