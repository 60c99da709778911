package congestion

import (
	"testing"
	"time"
)

func TestStartsAtInitialRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRate = 50_000_000
	c := New(cfg)
	if got := c.Rate(); got != 50_000_000 {
		t.Fatalf("Rate() = %d, want 50000000", got)
	}
}

func TestRateIncreasesWhenNoQueuingDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRate = 1_000_000
	cfg.Gain = 0.5
	cfg.Alpha = 10_000.0
	cfg.UpdateInterval = 0
	c := New(cfg)

	baseRTT := 10 * time.Millisecond
	for i := 0; i < 20; i++ {
		c.OnRTTSample(baseRTT)
	}
	initial := c.Rate()
	c.UpdateRate()
	after := c.Rate()
	if after <= initial {
		t.Fatalf("rate should increase: got %d, was %d", after, initial)
	}
}

func TestRateDecreasesUnderCongestion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRate = 100_000_000
	cfg.Gain = 0.5
	cfg.Alpha = 10_000.0
	cfg.RTTSmoothing = 1.0
	cfg.UpdateInterval = 0
	c := New(cfg)

	c.OnRTTSample(5 * time.Millisecond)
	c.OnRTTSample(50 * time.Millisecond)

	before := c.Rate()
	c.UpdateRate()
	after := c.Rate()
	if after >= before {
		t.Fatalf("rate should decrease: got %d, was %d", after, before)
	}
}

func TestRateClampedToBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRate = 500
	cfg.MinRate = 1000
	cfg.MaxRate = 2000
	cfg.UpdateInterval = 0
	c := New(cfg)

	c.OnRTTSample(100 * time.Millisecond)
	c.OnRTTSample(100 * time.Millisecond)
	c.UpdateRate()
	if got := c.Rate(); got < 1000 {
		t.Fatalf("Rate() = %d, want >= 1000", got)
	}
}

func TestPacketIntervalReasonable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRate = 100_000_000
	c := New(cfg)

	interval := c.PacketInterval(1400)
	if interval.Microseconds() <= 0 || interval.Microseconds() >= 100 {
		t.Fatalf("PacketInterval() = %v, want in (0, 100us)", interval)
	}
}

func TestQueuingDelayUnavailableBeforeSamples(t *testing.T) {
	c := New(DefaultConfig())
	if _, ok := c.QueuingDelay(); ok {
		t.Fatal("expected QueuingDelay() to be unavailable before any RTT sample")
	}
}
