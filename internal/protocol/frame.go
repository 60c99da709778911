// Package protocol defines the wire formats of the transfer core: the
// fixed-size UDP frame header used on the data plane, the size/offset
// constants derived from it, and the alternative HTP packet header used
// when a deployment prefers packet-level AEAD over chunk-level AEAD.
package protocol

import (
	"encoding/binary"
	"errors"
)

// FramePayloadMax is the maximum payload carried by a single UDP frame.
const FramePayloadMax = 1400

// FrameHeaderSize is the fixed size, in bytes, of the frame header.
const FrameHeaderSize = 24

// FrameMaxSize is the largest possible wire frame (header + payload).
const FrameMaxSize = FrameHeaderSize + FramePayloadMax

// ChunkSize is the plaintext size of one chunk: 4 MiB.
const ChunkSize = 4 * 1024 * 1024

// EncryptionOverhead is the AES-256-GCM nonce+tag overhead added to a
// chunk's ciphertext: the 12-byte deterministic nonce prefixed to the
// sealed chunk plus the 16-byte tag, both carried on the wire.
const EncryptionOverhead = 28

// EncryptedChunkSize is the ciphertext size of one full chunk.
const EncryptedChunkSize = ChunkSize + EncryptionOverhead

// MaxFramesPerChunk is ceil(EncryptedChunkSize / FramePayloadMax) = 2996.
const MaxFramesPerChunk = (EncryptedChunkSize + FramePayloadMax - 1) / FramePayloadMax

var (
	// ErrFrameTooShort is returned when a buffer is too small to hold a
	// valid frame header.
	ErrFrameTooShort = errors.New("protocol: frame shorter than header")

	// ErrPayloadTooLarge is returned when a payload exceeds FramePayloadMax.
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds frame payload maximum")

	// ErrBufferTooSmall is returned when the destination buffer cannot
	// hold the encoded frame.
	ErrBufferTooSmall = errors.New("protocol: destination buffer too small")
)

// FrameHeader is a parsed UDP frame header.
//
//	[0..16)  transfer_id   (16 bytes)
//	[16..20) chunk_index   (u32 BE)
//	[20..22) frame_index   (u16 BE)
//	[22..24) frame_count   (u16 BE)
//	[24..)   payload       (<=1400 bytes, encrypted)
type FrameHeader struct {
	TransferID [16]byte
	ChunkIndex uint32
	FrameIndex uint16
	FrameCount uint16
}

// EncodeFrame writes a frame header and payload into buf, returning the
// number of bytes written. buf must be at least FrameHeaderSize+len(payload).
func EncodeFrame(buf []byte, transferID [16]byte, chunkIndex uint32, frameIndex, frameCount uint16, payload []byte) (int, error) {
	if len(payload) > FramePayloadMax {
		return 0, ErrPayloadTooLarge
	}
	total := FrameHeaderSize + len(payload)
	if len(buf) < total {
		return 0, ErrBufferTooSmall
	}

	copy(buf[0:16], transferID[:])
	binary.BigEndian.PutUint32(buf[16:20], chunkIndex)
	binary.BigEndian.PutUint16(buf[20:22], frameIndex)
	binary.BigEndian.PutUint16(buf[22:24], frameCount)
	copy(buf[FrameHeaderSize:total], payload)

	return total, nil
}

// DecodeFrameHeader parses a frame header from data. It returns
// ErrFrameTooShort if data is shorter than FrameHeaderSize.
func DecodeFrameHeader(data []byte) (FrameHeader, error) {
	if len(data) < FrameHeaderSize {
		return FrameHeader{}, ErrFrameTooShort
	}
	var h FrameHeader
	copy(h.TransferID[:], data[0:16])
	h.ChunkIndex = binary.BigEndian.Uint32(data[16:20])
	h.FrameIndex = binary.BigEndian.Uint16(data[20:22])
	h.FrameCount = binary.BigEndian.Uint16(data[22:24])
	return h, nil
}

// FramePayload returns the payload slice of a raw frame. Callers must have
// already validated data's length with DecodeFrameHeader.
func FramePayload(data []byte) []byte {
	return data[FrameHeaderSize:]
}

// FramesForChunk returns the number of frames needed to carry an encrypted
// chunk of the given size.
func FramesForChunk(encryptedSize int) uint16 {
	return uint16((encryptedSize + FramePayloadMax - 1) / FramePayloadMax)
}
