package control

import (
	"bytes"
	"testing"
)

func TestOfferRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel(&buf)

	want := Offer{
		TransferID: [16]byte{1, 2, 3},
		Filename:   "report.pdf",
		Size:       10240,
		ChunkCount: 1,
	}
	if err := ch.SendOffer(want); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	got, err := ch.ReceiveOffer()
	if err != nil {
		t.Fatalf("ReceiveOffer: %v", err)
	}
	if got.Filename != want.Filename || got.Size != want.Size || got.ChunkCount != want.ChunkCount {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestOfferAckNackAckRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel(&buf)

	if err := ch.SendOfferAck(OfferAck{SessionID: 7, ListenAddr: "127.0.0.1:9000"}); err != nil {
		t.Fatalf("SendOfferAck: %v", err)
	}
	if err := ch.SendNack(Nack{ChunkIndex: 3, MissingFrames: []uint16{1, 4, 9}}); err != nil {
		t.Fatalf("SendNack: %v", err)
	}
	if err := ch.SendAck(Ack{ChunkIndex: 3}); err != nil {
		t.Fatalf("SendAck: %v", err)
	}

	oa, err := ch.ReceiveOfferAck()
	if err != nil || oa.SessionID != 7 {
		t.Fatalf("ReceiveOfferAck: %+v, %v", oa, err)
	}

	env, err := ch.ReceiveAny()
	if err != nil || env.Type != TypeNack || env.Nack.ChunkIndex != 3 || len(env.Nack.MissingFrames) != 3 {
		t.Fatalf("ReceiveAny (nack): %+v, %v", env, err)
	}

	env, err = ch.ReceiveAny()
	if err != nil || env.Type != TypeAck || env.Ack.ChunkIndex != 3 {
		t.Fatalf("ReceiveAny (ack): %+v, %v", env, err)
	}
}

func TestReadyAndDoneRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel(&buf)

	if err := ch.SendReady(Ready{Port: 5000}); err != nil {
		t.Fatalf("SendReady: %v", err)
	}
	if err := ch.SendDone(); err != nil {
		t.Fatalf("SendDone: %v", err)
	}

	ready, err := ch.ReceiveReady()
	if err != nil || ready.Port != 5000 {
		t.Fatalf("ReceiveReady: %+v, %v", ready, err)
	}

	env, err := ch.ReceiveAny()
	if err != nil || env.Type != TypeDone {
		t.Fatalf("ReceiveAny (done): %+v, %v", env, err)
	}
}

func TestReceiveWrongTypeErrors(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel(&buf)

	if err := ch.SendDone(); err != nil {
		t.Fatalf("SendDone: %v", err)
	}
	if _, err := ch.ReceiveOffer(); err == nil {
		t.Fatal("expected type mismatch error")
	}
}
