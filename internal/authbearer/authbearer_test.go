package authbearer

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	b, err := Issue(priv, "alice", "Alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := Verify(pub, b, time.Now())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "alice" || claims.DisplayName != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	b, _ := Issue(priv, "bob", "Bob", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, err := Verify(pub, b, time.Now()); err != ErrExpired {
		t.Fatalf("Verify() err = %v, want ErrExpired", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	b, _ := Issue(priv, "carol", "Carol", time.Hour)
	tampered := Bearer(string(b) + "x")
	if _, err := Verify(pub, tampered, time.Now()); err == nil {
		t.Fatal("expected verification of tampered bearer to fail")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)
	b, _ := Issue(priv, "dave", "Dave", time.Hour)
	if _, err := Verify(otherPub, b, time.Now()); err != ErrBadSignature {
		t.Fatalf("Verify() err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	if _, err := Verify(pub, Bearer("not-a-bearer"), time.Now()); err != ErrMalformed {
		t.Fatalf("Verify() err = %v, want ErrMalformed", err)
	}
}
