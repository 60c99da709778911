package relay

import (
	"encoding/hex"

	"github.com/havenlink/transfercore/internal/protocol"
)

// sessionKeyFor derives the relaySession map key for a data-plane packet.
// Blast-mode frames are keyed on their transfer_id; HTP packets are keyed
// on their session_id. A single relay can forward either without knowing
// which scheme a deployment uses, since the two key spaces never collide
// (the "htp:"/"xfer:" prefixes are disjoint).
func sessionKeyFor(data []byte) (string, bool) {
	if h, ok := protocol.DecodeHTPHeader(data); ok {
		return "htp:" + hex.EncodeToString(u32Bytes(h.SessionID)), true
	}
	if len(data) >= protocol.FrameHeaderSize {
		fh, err := protocol.DecodeFrameHeader(data)
		if err == nil {
			return "xfer:" + hex.EncodeToString(fh.TransferID[:]), true
		}
	}
	return "", false
}

func u32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
