package progress

import "testing"

func TestNewRecordStartsPending(t *testing.T) {
	r := New(1000, 10)
	if r.State() != StatePending {
		t.Fatalf("State() = %v, want PENDING", r.State())
	}
	if r.BytesTotal() != 1000 || r.ChunksTotal() != 10 {
		t.Fatal("totals not recorded correctly")
	}
	if r.LastError() != "" {
		t.Fatal("expected empty LastError() on a fresh record")
	}
}

func TestProgressAccumulates(t *testing.T) {
	r := New(1000, 4)
	r.AddBytesDone(250)
	r.AddBytesDone(250)
	r.AddChunkComplete()
	r.AddChunkComplete()

	if r.BytesDone() != 500 {
		t.Fatalf("BytesDone() = %d, want 500", r.BytesDone())
	}
	if r.ChunksComplete() != 2 {
		t.Fatalf("ChunksComplete() = %d, want 2", r.ChunksComplete())
	}
	if got := r.ProgressPercent(); got != 50 {
		t.Fatalf("ProgressPercent() = %v, want 50", got)
	}
}

func TestCancelSetsStateAndFlag(t *testing.T) {
	r := New(100, 1)
	r.Cancel()
	if !r.Cancelled() {
		t.Fatal("expected Cancelled() to be true")
	}
	if r.State() != StateCancelled {
		t.Fatalf("State() = %v, want CANCELLED", r.State())
	}
}

func TestLastErrorRoundTrip(t *testing.T) {
	r := New(100, 1)
	r.SetLastError("integrity check failed")
	if r.LastError() != "integrity check failed" {
		t.Fatalf("LastError() = %q, want %q", r.LastError(), "integrity check failed")
	}
}
