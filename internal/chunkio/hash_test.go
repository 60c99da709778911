package chunkio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/havenlink/transfercore/internal/crypto"
)

func testSessionKey() crypto.SessionKey {
	var k crypto.SessionKey
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.bin")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestHashPassChunkGeometry(t *testing.T) {
	plaintext := make([]byte, 10*1024+7)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}
	path := writeTempFile(t, plaintext)
	key := testSessionKey()

	m, err := HashPass(path, 4096, key)
	if err != nil {
		t.Fatalf("HashPass: %v", err)
	}
	if m.FileSize != int64(len(plaintext)) {
		t.Fatalf("FileSize = %d, want %d", m.FileSize, len(plaintext))
	}
	wantChunks := int64(3) // 4096, 4096, 2055
	if m.ChunkCount != wantChunks {
		t.Fatalf("ChunkCount = %d, want %d", m.ChunkCount, wantChunks)
	}
	if len(m.ChunkHashes) != int(wantChunks) {
		t.Fatalf("len(ChunkHashes) = %d, want %d", len(m.ChunkHashes), wantChunks)
	}
}

// TestHashPassPass2ProducesIdenticalCiphertext verifies the linchpin of
// the two-pass design: re-sealing the same plaintext under the same key
// and chunk index reproduces exactly the hash pass 1 recorded, with no
// state carried between the two sweeps.
func TestHashPassPass2ProducesIdenticalCiphertext(t *testing.T) {
	plaintext := make([]byte, 3*4096)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}
	path := writeTempFile(t, plaintext)
	key := testSessionKey()

	pass1, err := HashPass(path, 4096, key)
	if err != nil {
		t.Fatalf("pass 1 HashPass: %v", err)
	}

	for i := 0; i < int(pass1.ChunkCount); i++ {
		start := i * 4096
		end := start + 4096
		if end > len(plaintext) {
			end = len(plaintext)
		}
		sealed, err := crypto.SealChunk(key, uint32(i), plaintext[start:end])
		if err != nil {
			t.Fatalf("re-seal chunk %d: %v", i, err)
		}
		gotHash := crypto.HashEncryptedChunk(sealed)
		if gotHash != pass1.ChunkHashes[i] {
			t.Fatalf("chunk %d: pass 2 hash %x != pass 1 hash %x", i, gotHash, pass1.ChunkHashes[i])
		}
	}
}

func TestHashPassEmptyFile(t *testing.T) {
	path := writeTempFile(t, nil)
	key := testSessionKey()

	m, err := HashPass(path, 4096, key)
	if err != nil {
		t.Fatalf("HashPass: %v", err)
	}
	if m.ChunkCount != 1 {
		t.Fatalf("ChunkCount = %d, want 1 for an empty file", m.ChunkCount)
	}
	if m.FileSize != 0 {
		t.Fatalf("FileSize = %d, want 0", m.FileSize)
	}
}
