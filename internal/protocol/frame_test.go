package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	var transferID [16]byte
	for i := range transferID {
		transferID[i] = byte(i)
	}
	payload := bytes.Repeat([]byte{0xAB}, FramePayloadMax)

	buf := make([]byte, FrameMaxSize)
	n, err := EncodeFrame(buf, transferID, 7, 3, 2997, payload)
	if err != nil {
		t.Fatalf("EncodeFrame() failed: %v", err)
	}
	if n != FrameHeaderSize+len(payload) {
		t.Fatalf("EncodeFrame() wrote %d bytes, want %d", n, FrameHeaderSize+len(payload))
	}

	h, err := DecodeFrameHeader(buf[:n])
	if err != nil {
		t.Fatalf("DecodeFrameHeader() failed: %v", err)
	}
	if h.TransferID != transferID {
		t.Errorf("TransferID mismatch")
	}
	if h.ChunkIndex != 7 || h.FrameIndex != 3 || h.FrameCount != 2997 {
		t.Errorf("header fields mismatch: %+v", h)
	}

	got := FramePayload(buf[:n])
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch after round trip")
	}
}

func TestDecodeFrameHeaderTooShort(t *testing.T) {
	if _, err := DecodeFrameHeader(make([]byte, FrameHeaderSize-1)); err != ErrFrameTooShort {
		t.Errorf("expected ErrFrameTooShort, got %v", err)
	}
}

func TestEncodeFramePayloadTooLarge(t *testing.T) {
	buf := make([]byte, FrameMaxSize+100)
	var transferID [16]byte
	_, err := EncodeFrame(buf, transferID, 0, 0, 1, make([]byte, FramePayloadMax+1))
	if err != ErrPayloadTooLarge {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestMaxFramesPerChunkMatchesSpec(t *testing.T) {
	if MaxFramesPerChunk != 2996 {
		t.Errorf("MaxFramesPerChunk = %d, want 2996", MaxFramesPerChunk)
	}
}

func TestFramesForChunk(t *testing.T) {
	if got := FramesForChunk(EncryptedChunkSize); got != 2996 {
		t.Errorf("FramesForChunk(EncryptedChunkSize) = %d, want 2996", got)
	}
	if got := FramesForChunk(1); got != 1 {
		t.Errorf("FramesForChunk(1) = %d, want 1", got)
	}
}

func TestHTPHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HTPHeaderSize)
	want := HTPHeader{SessionID: 1, Sequence: 42, Flags: HTPFlagStart}
	if err := EncodeHTPHeader(buf, want); err != nil {
		t.Fatalf("EncodeHTPHeader() failed: %v", err)
	}

	got, ok := DecodeHTPHeader(buf)
	if !ok {
		t.Fatalf("DecodeHTPHeader() rejected a valid header")
	}
	if got != want {
		t.Errorf("HTPHeader round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestHTPNonceMatchesAad(t *testing.T) {
	n := HTPNonce(1, 42)
	aad := HTPAad(1, 42)
	if !bytes.Equal(n[:], aad) {
		t.Errorf("HTPNonce and HTPAad must be byte-identical")
	}
	if len(n) != 12 {
		t.Errorf("HTPNonce length = %d, want 12", len(n))
	}
}

func TestDecodeHTPHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HTPHeaderSize)
	if _, ok := DecodeHTPHeader(buf); ok {
		t.Error("expected DecodeHTPHeader to reject a zero buffer")
	}
}
