// Package congestion implements the delay-based rate controller that
// governs the blaster's pacing: it measures queuing delay, not loss, and
// only ever reacts to loss via NACK-driven retransmission elsewhere.
//
//	queuing_delay = smoothed_rtt - min_rtt
//	rate_next     = rate_current + K * (alpha - rate_current * queuing_delay)
//
// When queuing_delay is near zero the link isn't full and the rate climbs;
// as it grows the rate stabilizes or falls back. Packet loss never factors
// into this update — only the NACK scanner acts on it, and only to drive
// retransmission.
package congestion

import (
	"container/list"
	"sync"
	"time"
)

// Config holds the controller's tunable parameters.
type Config struct {
	InitialRate   uint64        // starting send rate, bytes/sec
	MinRate       uint64        // rate floor, bytes/sec
	MaxRate       uint64        // rate ceiling, bytes/sec
	Gain          float64       // K: convergence speed
	Alpha         float64       // target queue accumulation, bytes
	RTTSmoothing  float64       // EWMA factor for smoothed RTT, 0..1
	MinRTTWindow  time.Duration // sliding window for min-RTT tracking
	UpdateInterval time.Duration // minimum spacing between rate updates
}

// DefaultConfig returns the reference tuning: 10 MB/s initial rate, a
// 100 KB/s floor, a 1 GB/s ceiling, K=0.5, alpha=10000, RTT EWMA of 0.125,
// a 10s min-RTT window, and 50ms update spacing.
func DefaultConfig() Config {
	return Config{
		InitialRate:    10_000_000,
		MinRate:        100_000,
		MaxRate:        1_000_000_000,
		Gain:           0.5,
		Alpha:          10_000.0,
		RTTSmoothing:   0.125,
		MinRTTWindow:   10 * time.Second,
		UpdateInterval: 50 * time.Millisecond,
	}
}

type rttSample struct {
	rtt  time.Duration
	time time.Time
}

// Controller tracks RTT samples and derives the blaster's pacing rate. Safe
// for concurrent use: RTT samples typically arrive from a control-channel
// reader goroutine while the blaster reads the rate from its own loop.
type Controller struct {
	mu sync.Mutex

	cfg Config

	currentRate float64
	smoothedRTT time.Duration
	haveRTT     bool
	minRTT      time.Duration
	haveMinRTT  bool

	history *list.List // of rttSample, oldest at front

	lastUpdate time.Time
	bytesAcked uint64
	startTime  time.Time
}

// New creates a controller with the given configuration.
func New(cfg Config) *Controller {
	now := time.Now()
	return &Controller{
		cfg:         cfg,
		currentRate: float64(cfg.InitialRate),
		history:     list.New(),
		lastUpdate:  now,
		startTime:   now,
	}
}

// OnRTTSample feeds a new RTT measurement (from a NACK round trip or an
// explicit control-channel timestamp echo) into the EWMA and the min-RTT
// sliding window.
func (c *Controller) OnRTTSample(rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if !c.haveRTT {
		c.smoothedRTT = rtt
		c.haveRTT = true
	} else {
		a := c.cfg.RTTSmoothing
		smoothed := (1-a)*float64(c.smoothedRTT) + a*float64(rtt)
		c.smoothedRTT = time.Duration(smoothed)
	}

	c.history.PushBack(rttSample{rtt: rtt, time: now})
	windowStart := now.Add(-c.cfg.MinRTTWindow)
	for c.history.Len() > 0 {
		front := c.history.Front()
		if front.Value.(rttSample).time.Before(windowStart) {
			c.history.Remove(front)
			continue
		}
		break
	}

	c.haveMinRTT = false
	for e := c.history.Front(); e != nil; e = e.Next() {
		s := e.Value.(rttSample)
		if !c.haveMinRTT || s.rtt < c.minRTT {
			c.minRTT = s.rtt
			c.haveMinRTT = true
		}
	}
}

// OnAck records that bytes were acknowledged by the receiver, for
// throughput accounting.
func (c *Controller) OnAck(bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesAcked += bytes
}

// UpdateRate recomputes and returns the current rate in bytes/sec. The
// caller (the blaster's pacing loop) should invoke this at roughly
// cfg.UpdateInterval frequency; calls closer together than that return the
// unchanged rate.
func (c *Controller) UpdateRate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.cfg.UpdateInterval {
		return uint64(c.currentRate)
	}
	c.lastUpdate = now

	if !c.haveRTT || !c.haveMinRTT {
		return uint64(c.currentRate)
	}

	queuingDelaySec := (c.smoothedRTT - c.minRTT).Seconds()
	if queuingDelaySec < 0 {
		queuingDelaySec = 0
	}

	delta := c.cfg.Gain * (c.cfg.Alpha - c.currentRate*queuingDelaySec)
	c.currentRate += delta

	if c.currentRate < float64(c.cfg.MinRate) {
		c.currentRate = float64(c.cfg.MinRate)
	}
	if c.currentRate > float64(c.cfg.MaxRate) {
		c.currentRate = float64(c.cfg.MaxRate)
	}

	return uint64(c.currentRate)
}

// Rate returns the current sending rate in bytes/sec without triggering a
// recomputation.
func (c *Controller) Rate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.currentRate)
}

// PacketInterval returns how long the pacer should wait between frames of
// packetSize bytes at the current rate.
func (c *Controller) PacketInterval(packetSize int) time.Duration {
	c.mu.Lock()
	rate := c.currentRate
	c.mu.Unlock()

	if rate <= 0 {
		return time.Millisecond
	}
	intervalSec := float64(packetSize) / rate
	intervalUs := int64(intervalSec * 1_000_000)
	if intervalUs < 1 {
		intervalUs = 1
	}
	return time.Duration(intervalUs) * time.Microsecond
}

// RTT returns the current smoothed RTT and whether any sample has arrived.
func (c *Controller) RTT() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smoothedRTT, c.haveRTT
}

// MinRTT returns the minimum RTT observed in the current window and
// whether any sample is in range.
func (c *Controller) MinRTT() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minRTT, c.haveMinRTT
}

// QueuingDelay returns smoothed_rtt - min_rtt, the controller's core signal.
func (c *Controller) QueuingDelay() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveRTT || !c.haveMinRTT {
		return 0, false
	}
	return c.smoothedRTT - c.minRTT, true
}

// Throughput returns the average acknowledged throughput since the
// controller was created, in bytes/sec.
func (c *Controller) Throughput() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(c.bytesAcked) / elapsed)
}
