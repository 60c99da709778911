// Package control implements the envelopes and channel glue described in
// §4.6: a transfer core does not define its own transport, it only agrees
// on three envelopes it consumes and three it emits. The channel itself
// rides the QUIC control connection established by the handshake package.
package control

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Type identifies an envelope on the wire.
type Type uint8

const (
	TypeOffer Type = iota + 1
	TypeOfferAck
	TypeNack
	TypeAck
	TypeReady
	TypeDone
)

func (t Type) String() string {
	switch t {
	case TypeOffer:
		return "OFFER"
	case TypeOfferAck:
		return "OFFER_ACK"
	case TypeNack:
		return "NACK"
	case TypeAck:
		return "ACK"
	case TypeReady:
		return "READY"
	case TypeDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Offer is emitted once the Encryptor has finished and every per-chunk hash
// is final — it must never be sent before then, since the receiver has no
// other way to verify incoming chunks.
type Offer struct {
	TransferID     [16]byte `json:"transfer_id"`
	Filename       string   `json:"filename"`
	Size           uint64   `json:"size"`
	ChunkCount     uint32   `json:"chunk_count"`
	PerChunkHashes [][32]byte `json:"per_chunk_hashes"`
	WholeFileHash  [32]byte `json:"whole_file_hash"`
	ServerURL      string   `json:"server_url,omitempty"`
}

// OfferAck is consumed: the receiver's acceptance of an Offer, carrying the
// address it will listen on for the UDP blast.
type OfferAck struct {
	SessionID   uint32 `json:"session_id"`
	ListenAddr  string `json:"listen_addr"`
}

// Nack is consumed: a request to retransmit specific frames of one chunk.
// Delivery is at-least-once; the Blaster must tolerate duplicates.
type Nack struct {
	ChunkIndex    uint32   `json:"chunk_index"`
	MissingFrames []uint16 `json:"missing_frames"`
}

// Ack is consumed: confirmation that a chunk has been fully assembled and
// hash-verified by the receiver.
type Ack struct {
	ChunkIndex uint32 `json:"chunk_index"`
}

// Ready is emitted by whichever side binds the UDP blast socket first,
// carrying the port so the peer can address it.
type Ready struct {
	Port uint16 `json:"port"`
}

// Done is emitted once every chunk has been ACKed. Its receipt, combined
// with the chunk count already known from Offer, is the sole completion
// signal — there is no final-frame sentinel on the wire.
type Done struct{}

// envelope is the on-wire framing: a 1-byte type tag, a 4-byte big-endian
// length, then the JSON body.
func writeEnvelope(w io.Writer, t Type, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, t); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(body))); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readEnvelope(r io.Reader) (Type, []byte, error) {
	var t Type
	if err := binary.Read(r, binary.BigEndian, &t); err != nil {
		return 0, nil, err
	}
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return 0, nil, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return t, body, nil
}

func decodeAs[T any](t, want Type, body []byte) (T, error) {
	var v T
	if t != want {
		return v, fmt.Errorf("control: expected %s envelope, got %s", want, t)
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, err
	}
	return v, nil
}
