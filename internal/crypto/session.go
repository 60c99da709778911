package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sessionSalt is the fixed 32 zero-byte HKDF salt mandated for session key
// derivation — the scheme relies on the info string, not the salt, for
// per-transfer key separation.
var sessionSalt = make([]byte, 32)

// DeriveSessionKey derives the 32-byte session key for transferID via
// HKDF-SHA256(ikm=masterKey, salt=32 zero bytes, info="haven-file-"+hex(transferID)).
func DeriveSessionKey(masterKey []byte, transferID [16]byte) (SessionKey, error) {
	info := append([]byte("haven-file-"), []byte(hex.EncodeToString(transferID[:]))...)
	h := hkdf.New(sha256.New, masterKey, sessionSalt, info)

	var key SessionKey
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return SessionKey{}, err
	}
	return key, nil
}

// SealChunk encrypts chunk plaintext under the deterministic per-chunk
// nonce and returns the stored encrypted-chunk layout
// nonce[12] ‖ ciphertext ‖ tag[16]. Chunk-level AEAD carries no AAD.
func SealChunk(key SessionKey, chunkIndex uint32, plaintext []byte) ([]byte, error) {
	nonce := ChunkNonce(chunkIndex)
	ciphertext, err := Seal(key[:], nonce[:], nil, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

// OpenChunk decrypts an encrypted-chunk byte layout
// (nonce[12] ‖ ciphertext ‖ tag[16]) produced by SealChunk, verifying that
// its embedded nonce matches the receiver's own derivation for chunkIndex.
func OpenChunk(key SessionKey, chunkIndex uint32, encryptedChunk []byte) ([]byte, error) {
	if len(encryptedChunk) < 12+16 {
		return nil, ErrAuthenticationFailed
	}
	wantNonce := ChunkNonce(chunkIndex)
	gotNonce := encryptedChunk[:12]
	if string(gotNonce) != string(wantNonce[:]) {
		return nil, ErrAuthenticationFailed
	}
	return Open(key[:], gotNonce, nil, encryptedChunk[12:])
}

