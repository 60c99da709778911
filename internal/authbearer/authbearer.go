// Package authbearer issues and verifies the signed bearer credentials the
// UDP relay's auth handshake trades in. A bearer is a JSON claims blob
// signed by an issuer's Ed25519 key — adapted from the control-channel
// handshake's sign/verify transcript pattern, applied here to a
// longer-lived credential instead of a single handshake exchange.
package authbearer

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// Claims describes the holder of a bearer credential.
type Claims struct {
	Subject     string `json:"sub"`
	DisplayName string `json:"display_name"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

// Bearer is a signed, self-contained credential: base64 JSON claims plus a
// detached Ed25519 signature, concatenated as "<claims_b64>.<sig_b64>".
type Bearer string

var (
	// ErrExpired is returned when a bearer's expiry has passed.
	ErrExpired = errors.New("authbearer: credential expired")
	// ErrMalformed is returned when a bearer cannot be parsed.
	ErrMalformed = errors.New("authbearer: malformed credential")
	// ErrBadSignature is returned when a bearer's signature does not verify.
	ErrBadSignature = errors.New("authbearer: signature invalid")
)

// Issue signs claims for subject/displayName with ttl validity and returns
// the encoded bearer.
func Issue(issuerPriv ed25519.PrivateKey, subject, displayName string, ttl time.Duration) (Bearer, error) {
	now := time.Now()
	claims := Claims{
		Subject:     subject,
		DisplayName: displayName,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	bodyB64 := base64.RawURLEncoding.EncodeToString(body)
	sig := ed25519.Sign(issuerPriv, []byte(bodyB64))
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)
	return Bearer(bodyB64 + "." + sigB64), nil
}

// Verify checks b's signature against issuerPub and its expiry against
// now, returning the embedded claims on success.
func Verify(issuerPub ed25519.PublicKey, b Bearer, now time.Time) (Claims, error) {
	bodyB64, sigB64, ok := splitBearer(string(b))
	if !ok {
		return Claims{}, ErrMalformed
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if !ed25519.Verify(issuerPub, []byte(bodyB64), sig) {
		return Claims{}, ErrBadSignature
	}

	body, err := base64.RawURLEncoding.DecodeString(bodyB64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return Claims{}, ErrMalformed
	}
	if now.Unix() >= claims.ExpiresAt {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

func splitBearer(s string) (bodyB64, sigB64 string, ok bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
