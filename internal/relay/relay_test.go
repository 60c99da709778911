package relay

import (
	"net"
	"testing"
	"time"

	"github.com/havenlink/transfercore/internal/authbearer"
)

func newTestRelay(t *testing.T) (*Relay, func()) {
	t.Helper()
	_, priv, err := newTestKeypair()
	if err != nil {
		t.Fatalf("newTestKeypair: %v", err)
	}
	pub, _, err := newTestKeypair()
	if err != nil {
		t.Fatalf("newTestKeypair: %v", err)
	}
	_ = priv
	r, err := Listen(Config{ListenAddr: "127.0.0.1:0", IssuerPub: pub}, testLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return r, func() { _ = r.Close() }
}

func TestHandleAuthAcceptsValidBearer(t *testing.T) {
	pub, priv, err := newTestKeypair()
	if err != nil {
		t.Fatalf("newTestKeypair: %v", err)
	}
	r, err := Listen(Config{ListenAddr: "127.0.0.1:0", IssuerPub: pub}, testLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer r.Close()

	bearer, err := authbearer.Issue(priv, "alice", "Alice", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	frame := encodeAuthFrame([]byte(bearer))

	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}
	r.handleAuth(frame, src, time.Now())

	subject, ok := r.authenticatedSubject(src, time.Now())
	if !ok || subject != "alice" {
		t.Fatalf("got subject=%q ok=%v, want alice/true", subject, ok)
	}
	if r.AuthSuccesses.Load() != 1 {
		t.Fatalf("AuthSuccesses = %d, want 1", r.AuthSuccesses.Load())
	}
}

func TestHandleAuthRejectsBadSignature(t *testing.T) {
	pub, _, err := newTestKeypair()
	if err != nil {
		t.Fatalf("newTestKeypair: %v", err)
	}
	_, otherPriv, err := newTestKeypair()
	if err != nil {
		t.Fatalf("newTestKeypair: %v", err)
	}
	r, err := Listen(Config{ListenAddr: "127.0.0.1:0", IssuerPub: pub}, testLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer r.Close()

	bearer, err := authbearer.Issue(otherPriv, "mallory", "Mallory", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	frame := encodeAuthFrame([]byte(bearer))

	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40001}
	r.handleAuth(frame, src, time.Now())

	if _, ok := r.authenticatedSubject(src, time.Now()); ok {
		t.Fatal("expected subject to remain unauthenticated")
	}
	if r.AuthFailures.Load() != 1 {
		t.Fatalf("AuthFailures = %d, want 1", r.AuthFailures.Load())
	}
}

func TestRelaySessionRoutesBetweenTwoSides(t *testing.T) {
	r, cleanup := newTestRelay(t)
	defer cleanup()

	now := time.Now()
	srcA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	srcB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2}
	r.clientsMu.Lock()
	r.clients[srcA.String()] = &authenticatedClient{subject: "alice", lastSeen: now}
	r.clients[srcB.String()] = &authenticatedClient{subject: "bob", lastSeen: now}
	r.clientsMu.Unlock()

	var transferID [16]byte
	transferID[0] = 0x42
	frame := makeFrame(transferID)

	r.handleData(frame, srcA, now)
	if len(r.sessions) != 1 {
		t.Fatalf("expected one session registered after first packet")
	}

	// Second side joins and would receive forwarded traffic from srcA.
	r.handleData(frame, srcB, now)

	r.sessionsMu.Lock()
	var sess *relaySession
	for _, s := range r.sessions {
		sess = s
	}
	r.sessionsMu.Unlock()
	if sess == nil || sess.sideB == nil {
		t.Fatal("expected side B to have joined the session")
	}
	if sess.sideB.subject != "bob" {
		t.Fatalf("sideB subject = %q, want bob", sess.sideB.subject)
	}
}

func TestRelayRejectsThirdParty(t *testing.T) {
	r, cleanup := newTestRelay(t)
	defer cleanup()

	now := time.Now()
	srcA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	srcB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2}
	srcC := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 3}
	r.clientsMu.Lock()
	r.clients[srcA.String()] = &authenticatedClient{subject: "alice", lastSeen: now}
	r.clients[srcB.String()] = &authenticatedClient{subject: "bob", lastSeen: now}
	r.clients[srcC.String()] = &authenticatedClient{subject: "mallory", lastSeen: now}
	r.clientsMu.Unlock()

	var transferID [16]byte
	transferID[0] = 0x7
	frame := makeFrame(transferID)

	r.handleData(frame, srcA, now)
	r.handleData(frame, srcB, now)
	r.handleData(frame, srcC, now)

	if r.PacketsDropped.Load() != 1 {
		t.Fatalf("PacketsDropped = %d, want 1", r.PacketsDropped.Load())
	}
}

func TestBandwidthLimiterDropsOverBudgetForwards(t *testing.T) {
	pub, _, err := newTestKeypair()
	if err != nil {
		t.Fatalf("newTestKeypair: %v", err)
	}
	r, err := Listen(Config{ListenAddr: "127.0.0.1:0", IssuerPub: pub, BandwidthBytesPerSec: 10, BandwidthBurst: 10}, testLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer r.Close()

	now := time.Now()
	srcA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	srcB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2}
	r.clientsMu.Lock()
	r.clients[srcA.String()] = &authenticatedClient{subject: "alice", lastSeen: now}
	r.clients[srcB.String()] = &authenticatedClient{subject: "bob", lastSeen: now}
	r.clientsMu.Unlock()

	var transferID [16]byte
	transferID[0] = 0x99
	frame := makeFrame(transferID) // well over the 10-byte budget

	r.handleData(frame, srcA, now) // registers side A, no budget spent
	r.handleData(frame, srcB, now) // side B joins and forwards — should exceed budget

	if r.PacketsDropped.Load() != 1 {
		t.Fatalf("PacketsDropped = %d, want 1 (forward should have been budget-rejected)", r.PacketsDropped.Load())
	}
	if r.PacketsForwarded.Load() != 0 {
		t.Fatalf("PacketsForwarded = %d, want 0", r.PacketsForwarded.Load())
	}
}

func TestPruneSessionsRemovesIdleEntries(t *testing.T) {
	r, cleanup := newTestRelay(t)
	defer cleanup()

	old := time.Now().Add(-2 * sessionIdleTimeout)
	r.sessionsMu.Lock()
	r.sessions["xfer:deadbeef"] = &relaySession{lastActivity: old}
	r.sessionsMu.Unlock()

	r.pruneSessions(time.Now())

	r.sessionsMu.Lock()
	_, exists := r.sessions["xfer:deadbeef"]
	r.sessionsMu.Unlock()
	if exists {
		t.Fatal("expected idle session to be pruned")
	}
}

func TestPruneClientsRemovesIdleEntries(t *testing.T) {
	r, cleanup := newTestRelay(t)
	defer cleanup()

	old := time.Now().Add(-2 * clientIdleTimeout)
	r.clientsMu.Lock()
	r.clients["127.0.0.1:9"] = &authenticatedClient{subject: "ghost", lastSeen: old}
	r.clientsMu.Unlock()

	r.pruneClients(time.Now())

	r.clientsMu.Lock()
	_, exists := r.clients["127.0.0.1:9"]
	r.clientsMu.Unlock()
	if exists {
		t.Fatal("expected idle client to be pruned")
	}
}
