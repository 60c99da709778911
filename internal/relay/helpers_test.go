package relay

import (
	"crypto/ed25519"
	"encoding/binary"
	"io"

	"github.com/rs/zerolog"

	"github.com/havenlink/transfercore/internal/protocol"
)

func newTestKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func encodeAuthFrame(bearer []byte) []byte {
	buf := make([]byte, 3+len(bearer))
	buf[0] = authMarker
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(bearer)))
	copy(buf[3:], bearer)
	return buf
}

func makeFrame(transferID [16]byte) []byte {
	buf := make([]byte, protocol.FrameHeaderSize+4)
	_, _ = protocol.EncodeFrame(buf, transferID, 0, 0, 1, []byte{1, 2, 3, 4})
	return buf
}
