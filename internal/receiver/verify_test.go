package receiver

import (
	"os"
	"testing"

	"github.com/havenlink/transfercore/internal/crypto"
)

func TestVerifyWholeFileMatchesSenderSideHash(t *testing.T) {
	var masterKey [32]byte
	masterKey[0] = 0xDE
	masterKey[31] = 0xAD
	var transferID [16]byte
	transferID[15] = 1

	key, err := crypto.DeriveSessionKey(masterKey[:], transferID)
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}

	plaintext := make([]byte, 10240)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}

	const chunkSize = int64(4096)
	chunkCount := (int64(len(plaintext)) + chunkSize - 1) / chunkSize

	hasher := crypto.NewWholeFileHasher()
	for i := int64(0); i < chunkCount; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > int64(len(plaintext)) {
			end = int64(len(plaintext))
		}
		sealed, err := crypto.SealChunk(key, uint32(i), plaintext[start:end])
		if err != nil {
			t.Fatalf("SealChunk: %v", err)
		}
		hasher.Write(sealed)
	}
	wantHash := hasher.Sum()

	f, err := os.CreateTemp(t.TempDir(), "verify-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.Write(plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	if err := verifyWholeFile(f.Name(), key, chunkSize, chunkCount, int64(len(plaintext)), wantHash); err != nil {
		t.Fatalf("verifyWholeFile: %v", err)
	}
}

func TestVerifyWholeFileDetectsCorruption(t *testing.T) {
	var masterKey [32]byte
	var transferID [16]byte

	key, err := crypto.DeriveSessionKey(masterKey[:], transferID)
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}

	f, err := os.CreateTemp(t.TempDir(), "verify-corrupt-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.Write(make([]byte, 100)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	var bogus [32]byte
	bogus[0] = 1
	if err := verifyWholeFile(f.Name(), key, 50, 2, 100, bogus); err == nil {
		t.Fatal("expected hash mismatch error")
	}
}
