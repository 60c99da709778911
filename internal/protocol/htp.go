package protocol

import "encoding/binary"

// HTPMagic identifies a Haven Transfer Protocol packet ("HT").
var HTPMagic = [2]byte{0x48, 0x54}

// HTPHeaderSize is the fixed size, in bytes, of an HTP packet header:
// magic(2) + session_id(4) + sequence(8) + flags(2).
const HTPHeaderSize = 16

// HTP flag bits.
const (
	HTPFlagStart       uint16 = 0x01
	HTPFlagEnd         uint16 = 0x02
	HTPFlagRetransmit  uint16 = 0x04
)

// HTPHeader is a parsed HTP packet header. Packet-level AEAD seals the
// payload under nonce = session_id‖sequence, using the same bytes as AAD.
type HTPHeader struct {
	SessionID uint32
	Sequence  uint64
	Flags     uint16
}

// EncodeHTPHeader writes an HTP header into buf, which must be at least
// HTPHeaderSize bytes.
func EncodeHTPHeader(buf []byte, h HTPHeader) error {
	if len(buf) < HTPHeaderSize {
		return ErrBufferTooSmall
	}
	buf[0] = HTPMagic[0]
	buf[1] = HTPMagic[1]
	binary.BigEndian.PutUint32(buf[2:6], h.SessionID)
	binary.BigEndian.PutUint64(buf[6:14], h.Sequence)
	binary.BigEndian.PutUint16(buf[14:16], h.Flags)
	return nil
}

// DecodeHTPHeader parses an HTP header from data, returning false if data
// is too short or does not carry the HTP magic.
func DecodeHTPHeader(data []byte) (HTPHeader, bool) {
	if len(data) < HTPHeaderSize || data[0] != HTPMagic[0] || data[1] != HTPMagic[1] {
		return HTPHeader{}, false
	}
	return HTPHeader{
		SessionID: binary.BigEndian.Uint32(data[2:6]),
		Sequence:  binary.BigEndian.Uint64(data[6:14]),
		Flags:     binary.BigEndian.Uint16(data[14:16]),
	}, true
}

// HTPNonce builds the 12-byte AES-GCM nonce for packet-level AEAD: the
// first 4 bytes are session_id (BE), the remaining 8 are sequence (BE).
// The same bytes double as AAD.
func HTPNonce(sessionID uint32, sequence uint64) [12]byte {
	var n [12]byte
	binary.BigEndian.PutUint32(n[0:4], sessionID)
	binary.BigEndian.PutUint64(n[4:12], sequence)
	return n
}

// HTPAad returns the AAD bytes for packet-level AEAD, identical to the
// nonce construction.
func HTPAad(sessionID uint32, sequence uint64) []byte {
	n := HTPNonce(sessionID, sequence)
	return n[:]
}
