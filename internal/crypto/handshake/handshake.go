// Package handshake performs the mutual X25519/Ed25519 key-agreement that
// bootstraps the per-transfer master key. The resulting master key is fed
// into crypto.DeriveSessionKey (HKDF-SHA256, salt=32 zero bytes,
// info="haven-file-"+transfer_id_hex) to obtain the chunk-level AEAD key —
// the handshake itself never sees a transfer_id.
package handshake

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/havenlink/transfercore/internal/crypto"
	"golang.org/x/crypto/hkdf"
)

type ClientHello struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	ClientEph   string `json:"client_eph_pub"` // base64
	ClientIDPub string `json:"client_id_pub"`  // base64 (ed25519)
	Sig         string `json:"sig,omitempty"`  // base64 (ed25519 over transcript)
	TokenHMAC   string `json:"token_hmac,omitempty"`
}

type ServerHello struct {
	Type      string `json:"type"`
	ServerEph string `json:"server_eph_pub"`
	ServerID  string `json:"server_id_pub"`
	Sig       string `json:"sig,omitempty"`
}

// MasterKey is the 32-byte secret bootstrapped by the handshake. It is the
// ikm input to the per-transfer session key derivation, never used directly
// for sealing.
type MasterKey [32]byte

func serialize(v any) []byte { b, _ := json.Marshal(v); return b }

func sign(priv ed25519.PrivateKey, parts ...[]byte) (string, error) {
	msg := []byte("haven-handshake|")
	for i, p := range parts {
		msg = append(msg, p...)
		if i+1 < len(parts) {
			msg = append(msg, '|')
		}
	}
	sig := ed25519.Sign(priv, msg)
	return base64.StdEncoding.EncodeToString(sig), nil
}

func verify(pub ed25519.PublicKey, sigb64 string, parts ...[]byte) bool {
	msg := []byte("haven-handshake|")
	for i, p := range parts {
		msg = append(msg, p...)
		if i+1 < len(parts) {
			msg = append(msg, '|')
		}
	}
	sig, err := base64.StdEncoding.DecodeString(sigb64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// deriveMasterKey derives the bootstrap master key via HKDF-SHA256 over the
// ECDH shared secret and the handshake transcript hash.
func deriveMasterKey(shared []byte, transcript []byte) (MasterKey, error) {
	salt := sha256.Sum256(transcript)
	h := hkdf.New(sha256.New, shared, salt[:], []byte("haven-master-key"))
	var mk MasterKey
	if _, err := io.ReadFull(h, mk[:]); err != nil {
		return MasterKey{}, err
	}
	return mk, nil
}

// computeTokenHMAC binds the handshake to an out-of-band bearer token.
func computeTokenHMAC(secret []byte, transcript []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(transcript)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ClientHandshake performs the client side of the handshake over rw and
// returns the bootstrapped master key.
func ClientHandshake(rw io.ReadWriter, sessionID string, clientIDPriv ed25519.PrivateKey, clientIDPub ed25519.PublicKey, tokenSecret []byte) (MasterKey, error) {
	kp, err := crypto.GenerateX25519()
	if err != nil {
		return MasterKey{}, err
	}
	clientEphB64 := base64.StdEncoding.EncodeToString(kp.PublicKey[:])
	clientIDB64 := base64.StdEncoding.EncodeToString(clientIDPub)
	ch := ClientHello{Type: "client_hello", SessionID: sessionID, ClientEph: clientEphB64, ClientIDPub: clientIDB64}
	sig, err := sign(clientIDPriv, []byte("client"), []byte(sessionID), []byte(clientEphB64), []byte(clientIDB64))
	if err == nil {
		ch.Sig = sig
	}
	transcript := serialize(ch)
	if len(tokenSecret) > 0 {
		ch.TokenHMAC = computeTokenHMAC(tokenSecret, transcript)
	}
	enc := json.NewEncoder(rw)
	if err := enc.Encode(&ch); err != nil {
		return MasterKey{}, err
	}
	dec := json.NewDecoder(rw)
	var sh ServerHello
	if err := dec.Decode(&sh); err != nil {
		return MasterKey{}, err
	}
	if sh.Type != "server_hello" {
		return MasterKey{}, fmt.Errorf("unexpected msg: %s", sh.Type)
	}
	srvPubB, _ := base64.StdEncoding.DecodeString(sh.ServerID)
	if sh.Sig != "" && len(srvPubB) == ed25519.PublicKeySize {
		ok := verify(ed25519.PublicKey(srvPubB), sh.Sig, []byte("server"), []byte(sessionID), []byte(sh.ServerEph), []byte(sh.ServerID))
		if !ok {
			return MasterKey{}, fmt.Errorf("server signature invalid")
		}
	}
	srvEphB, _ := base64.StdEncoding.DecodeString(sh.ServerEph)
	if len(srvEphB) != 32 {
		return MasterKey{}, fmt.Errorf("bad server eph")
	}
	var srvEph [32]byte
	copy(srvEph[:], srvEphB)
	shared := crypto.SharedSecret(&kp.PrivateKey, &srvEph)
	transcriptB := append(transcript, serialize(sh)...)
	return deriveMasterKey(shared[:], transcriptB)
}

// ServerHandshake performs the server side of the handshake and returns the
// bootstrapped master key.
func ServerHandshake(rw io.ReadWriter, sessionID string, serverIDPriv ed25519.PrivateKey, serverIDPub ed25519.PublicKey, tokenSecret []byte) (MasterKey, error) {
	dec := json.NewDecoder(rw)
	var ch ClientHello
	if err := dec.Decode(&ch); err != nil {
		return MasterKey{}, err
	}
	if ch.Type != "client_hello" {
		return MasterKey{}, fmt.Errorf("unexpected msg: %s", ch.Type)
	}
	if ch.SessionID != sessionID {
		return MasterKey{}, fmt.Errorf("session id mismatch")
	}
	cliPubB, _ := base64.StdEncoding.DecodeString(ch.ClientIDPub)
	if ch.Sig != "" && len(cliPubB) == ed25519.PublicKeySize {
		ok := verify(ed25519.PublicKey(cliPubB), ch.Sig, []byte("client"), []byte(ch.SessionID), []byte(ch.ClientEph), []byte(ch.ClientIDPub))
		if !ok {
			return MasterKey{}, fmt.Errorf("client signature invalid")
		}
	}
	transcript := serialize(ch)
	if len(tokenSecret) > 0 && ch.TokenHMAC != "" {
		expected := computeTokenHMAC(tokenSecret, transcript)
		if !strings.EqualFold(expected, ch.TokenHMAC) {
			return MasterKey{}, fmt.Errorf("token binding invalid")
		}
	}
	kp, err := crypto.GenerateX25519()
	if err != nil {
		return MasterKey{}, err
	}
	srvEphB64 := base64.StdEncoding.EncodeToString(kp.PublicKey[:])
	srvIDB64 := base64.StdEncoding.EncodeToString(serverIDPub)
	sh := ServerHello{Type: "server_hello", ServerEph: srvEphB64, ServerID: srvIDB64}
	sig, err := sign(serverIDPriv, []byte("server"), []byte(ch.SessionID), []byte(srvEphB64), []byte(srvIDB64))
	if err == nil {
		sh.Sig = sig
	}
	enc := json.NewEncoder(rw)
	if err := enc.Encode(&sh); err != nil {
		return MasterKey{}, err
	}
	cliEphB, _ := base64.StdEncoding.DecodeString(ch.ClientEph)
	if len(cliEphB) != 32 {
		return MasterKey{}, fmt.Errorf("bad client eph")
	}
	var cliEph [32]byte
	copy(cliEph[:], cliEphB)
	shared := crypto.SharedSecret(&kp.PrivateKey, &cliEph)
	transcriptB := append(transcript, serialize(sh)...)
	return deriveMasterKey(shared[:], transcriptB)
}
