package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// GenerateEd25519 generates a new Ed25519 identity keypair.
func GenerateEd25519() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 keypair: %w", err)
	}

	return &Ed25519KeyPair{
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// GenerateX25519 generates a new X25519 ephemeral keypair for the handshake
// that bootstraps a transfer's master key. These keys are generated fresh
// per transfer and discarded after the handshake completes.
func GenerateX25519() (*X25519KeyPair, error) {
	var kp X25519KeyPair

	if _, err := rand.Read(kp.PrivateKey[:]); err != nil {
		return nil, fmt.Errorf("failed to generate X25519 private key: %w", err)
	}

	curve25519.ScalarBaseMult(&kp.PublicKey, &kp.PrivateKey)

	return &kp, nil
}

// X25519Exchange performs Elliptic Curve Diffie-Hellman key exchange.
func X25519Exchange(ourPrivate, theirPublic *[32]byte) ([32]byte, error) {
	var sharedSecret [32]byte

	curve25519.ScalarMult(&sharedSecret, ourPrivate, theirPublic)

	allZero := true
	for _, b := range sharedSecret {
		if b != 0 {
			allZero = false
			break
		}
	}

	if allZero {
		return sharedSecret, errors.New("X25519 exchange resulted in all-zero shared secret (invalid public key)")
	}

	return sharedSecret, nil
}

// SharedSecret computes the shared secret using X25519 ECDH, returned as a
// byte slice for direct use as HKDF ikm.
func SharedSecret(ourPrivate, theirPublic *[32]byte) []byte {
	secret, err := X25519Exchange(ourPrivate, theirPublic)
	if err != nil {
		return make([]byte, 32)
	}
	return secret[:]
}
