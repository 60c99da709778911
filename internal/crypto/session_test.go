package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveSessionKeyDeterministic(t *testing.T) {
	masterKey := make([]byte, 32)
	masterKey[0] = 0xDE
	masterKey[31] = 0xAD

	var transferID [16]byte
	transferID[0] = 0x01

	k1, err := DeriveSessionKey(masterKey, transferID)
	if err != nil {
		t.Fatalf("DeriveSessionKey() failed: %v", err)
	}
	k2, err := DeriveSessionKey(masterKey, transferID)
	if err != nil {
		t.Fatalf("DeriveSessionKey() failed: %v", err)
	}
	if k1 != k2 {
		t.Fatal("DeriveSessionKey() is not deterministic for identical inputs")
	}

	var otherTransferID [16]byte
	otherTransferID[0] = 0x02
	k3, err := DeriveSessionKey(masterKey, otherTransferID)
	if err != nil {
		t.Fatalf("DeriveSessionKey() failed: %v", err)
	}
	if k1 == k3 {
		t.Fatal("DeriveSessionKey() produced identical keys for different transfer IDs")
	}
}

func TestSealOpenChunkRoundTrip(t *testing.T) {
	masterKey := make([]byte, 32)
	masterKey[0] = 0xDE
	masterKey[31] = 0xAD
	var transferID [16]byte
	transferID[0] = 0x01

	key, err := DeriveSessionKey(masterKey, transferID)
	if err != nil {
		t.Fatalf("DeriveSessionKey() failed: %v", err)
	}

	plaintext := make([]byte, 10240)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}

	encrypted, err := SealChunk(key, 0, plaintext)
	if err != nil {
		t.Fatalf("SealChunk() failed: %v", err)
	}
	if len(encrypted) != 12+len(plaintext)+16 {
		t.Fatalf("encrypted chunk length = %d, want %d", len(encrypted), 12+len(plaintext)+16)
	}

	decrypted, err := OpenChunk(key, 0, encrypted)
	if err != nil {
		t.Fatalf("OpenChunk() failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatal("decrypted chunk does not match original plaintext")
	}
}

func TestOpenChunkRejectsWrongChunkIndex(t *testing.T) {
	var masterKey [32]byte
	var transferID [16]byte
	key, _ := DeriveSessionKey(masterKey[:], transferID)

	encrypted, err := SealChunk(key, 5, []byte("hello"))
	if err != nil {
		t.Fatalf("SealChunk() failed: %v", err)
	}
	if _, err := OpenChunk(key, 6, encrypted); err == nil {
		t.Fatal("expected OpenChunk() to reject a chunk sealed under a different index")
	}
}

func TestSealChunkDeterministicCiphertext(t *testing.T) {
	var masterKey [32]byte
	var transferID [16]byte
	key, _ := DeriveSessionKey(masterKey[:], transferID)

	plaintext := []byte("deterministic nonce, deterministic ciphertext")
	a, err := SealChunk(key, 3, plaintext)
	if err != nil {
		t.Fatalf("SealChunk() failed: %v", err)
	}
	b, err := SealChunk(key, 3, plaintext)
	if err != nil {
		t.Fatalf("SealChunk() failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("two seals of the same chunk under the same index must be byte-identical")
	}
}

func TestWholeFileHasherMatchesDirectSum(t *testing.T) {
	w := NewWholeFileHasher()
	chunk0 := []byte("chunk zero bytes")
	chunk1 := []byte("chunk one bytes")
	w.Write(chunk0)
	w.Write(chunk1)

	got := w.Sum()
	want := HashEncryptedChunk(append(append([]byte{}, chunk0...), chunk1...))
	if got != want {
		t.Fatal("WholeFileHasher did not match a direct SHA-256 over the concatenation")
	}
}
