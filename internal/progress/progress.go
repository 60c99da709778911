// Package progress holds the lock-free progress record a transfer's
// pipeline goroutines update and any observer (a CLI progress bar, a
// control-channel status poll) can read concurrently without blocking the
// hot path.
package progress

import (
	"sync/atomic"
)

// State enumerates the lifecycle stages of a transfer.
type State int32

const (
	StatePending State = iota
	StateActive
	StateDraining
	StateComplete
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Record is the atomic progress record for one transfer (§4.8). Every
// field is updated via atomic operations so the Reader/Encryptor/Blaster
// or Vacuum/Assembler/Writer pipeline stages never contend on a mutex to
// report status.
type Record struct {
	bytesDone       int64
	bytesTotal      int64
	chunksComplete  int64
	chunksTotal     int64
	retransmits     int64
	currentRateBps  int64
	state           int32
	cancelled       int32
	lastError       atomic.Value // string
}

// New creates a progress record for a transfer of the given total size and
// chunk count.
func New(bytesTotal, chunksTotal int64) *Record {
	r := &Record{
		bytesTotal:  bytesTotal,
		chunksTotal: chunksTotal,
		state:       int32(StatePending),
	}
	r.lastError.Store("")
	return r
}

// AddBytesDone atomically advances the bytes-completed counter by delta.
func (r *Record) AddBytesDone(delta int64) {
	atomic.AddInt64(&r.bytesDone, delta)
}

// BytesDone returns the current bytes-completed count.
func (r *Record) BytesDone() int64 {
	return atomic.LoadInt64(&r.bytesDone)
}

// BytesTotal returns the declared total transfer size in bytes.
func (r *Record) BytesTotal() int64 {
	return atomic.LoadInt64(&r.bytesTotal)
}

// AddChunkComplete marks one more chunk complete.
func (r *Record) AddChunkComplete() {
	atomic.AddInt64(&r.chunksComplete, 1)
}

// ChunksComplete returns the number of chunks fully sent/assembled.
func (r *Record) ChunksComplete() int64 {
	return atomic.LoadInt64(&r.chunksComplete)
}

// ChunksTotal returns the declared chunk count.
func (r *Record) ChunksTotal() int64 {
	return atomic.LoadInt64(&r.chunksTotal)
}

// AddRetransmit increments the retransmit counter by one frame.
func (r *Record) AddRetransmit() {
	atomic.AddInt64(&r.retransmits, 1)
}

// Retransmits returns the cumulative retransmitted-frame count.
func (r *Record) Retransmits() int64 {
	return atomic.LoadInt64(&r.retransmits)
}

// SetCurrentRate publishes the congestion controller's current pacing
// rate in bytes/sec.
func (r *Record) SetCurrentRate(bps int64) {
	atomic.StoreInt64(&r.currentRateBps, bps)
}

// CurrentRate returns the most recently published pacing rate.
func (r *Record) CurrentRate() int64 {
	return atomic.LoadInt64(&r.currentRateBps)
}

// SetState atomically transitions the transfer's lifecycle state.
func (r *Record) SetState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}

// State returns the current lifecycle state.
func (r *Record) State() State {
	return State(atomic.LoadInt32(&r.state))
}

// Cancel marks the transfer cancelled. Safe to call more than once.
func (r *Record) Cancel() {
	atomic.StoreInt32(&r.cancelled, 1)
	r.SetState(StateCancelled)
}

// Cancelled reports whether Cancel has been called.
func (r *Record) Cancelled() bool {
	return atomic.LoadInt32(&r.cancelled) != 0
}

// SetLastError records the most recent fatal error's message, surfaced to
// observers without requiring them to read from an error channel.
func (r *Record) SetLastError(msg string) {
	r.lastError.Store(msg)
}

// LastError returns the most recently recorded error message, or "" if
// none has been set.
func (r *Record) LastError() string {
	return r.lastError.Load().(string)
}

// ProgressPercent returns completion percentage based on bytes done.
func (r *Record) ProgressPercent() float64 {
	total := r.BytesTotal()
	if total == 0 {
		return 0
	}
	return float64(r.BytesDone()) / float64(total) * 100
}
