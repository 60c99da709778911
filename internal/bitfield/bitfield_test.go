package bitfield

import "testing"

func TestBasicOperations(t *testing.T) {
	bf := New(100)
	if bf.IsComplete() {
		t.Fatal("fresh bitfield reported complete")
	}
	if got := bf.MissingCount(); got != 100 {
		t.Fatalf("MissingCount() = %d, want 100", got)
	}

	if !bf.Set(0) {
		t.Fatal("first Set(0) should report new")
	}
	if bf.Set(0) {
		t.Fatal("duplicate Set(0) should report false")
	}
	if bf.Received() != 1 {
		t.Fatalf("Received() = %d, want 1", bf.Received())
	}
	if !bf.Get(0) || bf.Get(1) {
		t.Fatal("Get() mismatch after single Set")
	}

	for i := uint16(1); i < 100; i++ {
		bf.Set(i)
	}
	if !bf.IsComplete() {
		t.Fatal("expected bitfield to be complete after setting all frames")
	}
	if len(bf.MissingFrames(0)) != 0 {
		t.Fatal("expected no missing frames once complete")
	}
}

func TestMissingFrames(t *testing.T) {
	bf := New(10)
	bf.Set(0)
	bf.Set(2)
	bf.Set(5)
	bf.Set(9)

	got := bf.MissingFrames(0)
	want := []uint16{1, 3, 4, 6, 7, 8}
	if len(got) != len(want) {
		t.Fatalf("MissingFrames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MissingFrames() = %v, want %v", got, want)
		}
	}
}

func TestMissingFramesRespectsCap(t *testing.T) {
	bf := New(10)
	got := bf.MissingFrames(3)
	if len(got) != 3 {
		t.Fatalf("MissingFrames(3) returned %d entries, want 3", len(got))
	}
}

func TestMaxFramesPerChunk(t *testing.T) {
	const maxFrames = 2997
	bf := New(maxFrames)
	for i := uint16(0); i < maxFrames; i++ {
		if !bf.Set(i) {
			t.Fatalf("Set(%d) unexpectedly reported duplicate", i)
		}
	}
	if !bf.IsComplete() {
		t.Fatal("expected bitfield to be complete at max frame count")
	}
}

func TestResetReusesBitfield(t *testing.T) {
	bf := New(5)
	bf.Set(0)
	bf.Set(1)
	bf.Reset(8)
	if bf.Total() != 8 {
		t.Fatalf("Total() = %d, want 8", bf.Total())
	}
	if bf.Received() != 0 {
		t.Fatalf("Received() = %d after reset, want 0", bf.Received())
	}
	if bf.Get(0) {
		t.Fatal("expected frame 0 to be cleared after reset")
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	bf := New(20)
	bf.Set(3)
	bf.Set(17)
	data := bf.Serialize()

	other := New(20)
	if err := other.Deserialize(data); err != nil {
		t.Fatalf("Deserialize() failed: %v", err)
	}
	if !other.Get(3) || !other.Get(17) || other.Get(4) {
		t.Fatal("deserialized bitfield does not match original state")
	}
}
