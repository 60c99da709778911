package relay

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/havenlink/transfercore/internal/authbearer"
)

// authMarker is the first byte of an auth frame: 0x00‖len_u16_BE‖bearer.
const authMarker = 0x00

// maxBearerSize bounds the length-prefixed bearer payload accepted in an
// auth frame.
const maxBearerSize = 8192

var (
	authOK  = []byte{0x00, 0x01}
	authFail = []byte{0x00, 0x00}
)

// authenticatedClient is a source address that has presented a valid
// bearer and may participate in sessions.
type authenticatedClient struct {
	subject  string
	lastSeen time.Time
}

// parseAuthFrame splits an auth frame's length-prefixed bearer body out of
// data. ok is false if the frame is malformed.
func parseAuthFrame(data []byte) (bearer []byte, ok bool) {
	if len(data) < 3 || data[0] != authMarker {
		return nil, false
	}
	n := binary.BigEndian.Uint16(data[1:3])
	if n > maxBearerSize || len(data) < 3+int(n) {
		return nil, false
	}
	return data[3 : 3+int(n)], true
}

// handleAuth verifies the bearer carried in data and, on success,
// registers src as an authenticated client. It always writes a one-packet
// reply back to src.
func (r *Relay) handleAuth(data []byte, src *net.UDPAddr, now time.Time) {
	bearerBytes, ok := parseAuthFrame(data)
	if !ok {
		r.AuthFailures.Add(1)
		if r.metrics != nil {
			r.metrics.RecordRelayAuth("malformed")
		}
		_, _ = r.conn.WriteToUDP(authFail, src)
		return
	}

	claims, err := authbearer.Verify(r.issuerPub, authbearer.Bearer(bearerBytes), now)
	if err != nil {
		r.AuthFailures.Add(1)
		if r.metrics != nil {
			r.metrics.RecordRelayAuth("rejected")
		}
		_, _ = r.conn.WriteToUDP(authFail, src)
		return
	}

	r.clientsMu.Lock()
	r.clients[src.String()] = &authenticatedClient{subject: claims.Subject, lastSeen: now}
	r.clientsMu.Unlock()

	r.AuthSuccesses.Add(1)
	if r.metrics != nil {
		r.metrics.RecordRelayAuth("accepted")
	}
	_, _ = r.conn.WriteToUDP(authOK, src)
}

// authenticatedSubject reports the subject registered for src, touching
// its last-seen time, or false if src has not authenticated.
func (r *Relay) authenticatedSubject(src *net.UDPAddr, now time.Time) (string, bool) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	c, ok := r.clients[src.String()]
	if !ok {
		return "", false
	}
	c.lastSeen = now
	return c.subject, true
}
