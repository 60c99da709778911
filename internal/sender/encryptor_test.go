package sender

import (
	"testing"

	"github.com/havenlink/transfercore/internal/crypto"
)

func TestRunEncryptorProducesMatchingSummary(t *testing.T) {
	var masterKey [32]byte
	masterKey[0] = 0xDE
	masterKey[31] = 0xAD
	var transferID [16]byte
	transferID[15] = 1

	key, err := crypto.DeriveSessionKey(masterKey[:], transferID)
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}

	in := make(chan rawChunk, 2)
	in <- rawChunk{index: 0, plaintext: []byte("hello")}
	in <- rawChunk{index: 1, plaintext: []byte("world!")}
	close(in)

	out := make(chan encryptedChunk, 2)
	done := make(chan Summary, 1)
	go func() { done <- runEncryptor(key, in, out) }()

	var chunks []encryptedChunk
	for c := range out {
		chunks = append(chunks, c)
	}
	summary := <-done

	if summary.Err != nil {
		t.Fatalf("unexpected error: %v", summary.Err)
	}
	if len(chunks) != 2 || len(summary.ChunkHashes) != 2 {
		t.Fatalf("got %d chunks / %d hashes, want 2/2", len(chunks), len(summary.ChunkHashes))
	}
	for i, c := range chunks {
		if c.hash != summary.ChunkHashes[i] {
			t.Fatalf("chunk %d hash mismatch between stream and summary", i)
		}
		want := crypto.HashEncryptedChunk(c.data)
		if want != c.hash {
			t.Fatalf("chunk %d hash does not match HashEncryptedChunk", i)
		}
	}
}
