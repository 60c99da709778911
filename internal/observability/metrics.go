package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the transfer core and relay.
type Metrics struct {
	// Transfer metrics
	TransfersTotal        *prometheus.CounterVec
	TransfersActive       prometheus.Gauge
	TransferDuration      prometheus.Histogram
	BytesTransferredTotal *prometheus.CounterVec
	ChunksAssembledTotal  prometheus.Counter
	ChunkHashFailuresTotal prometheus.Counter

	// Frame-level metrics
	FramesSentTotal       prometheus.Counter
	FramesReceivedTotal   prometheus.Counter
	FramesDroppedTotal    *prometheus.CounterVec
	FramesRetransmitted   prometheus.Counter
	NacksEmittedTotal     prometheus.Counter
	NacksReceivedTotal    prometheus.Counter

	// Congestion controller metrics
	CurrentRateBps   prometheus.Gauge
	SmoothedRTTMs    prometheus.Gauge
	MinRTTMs         prometheus.Gauge
	QueuingDelayMs   prometheus.Gauge

	// Relay metrics
	RelaySessionsActive    prometheus.Gauge
	RelaySessionsTotal     *prometheus.CounterVec
	RelayAuthTotal         *prometheus.CounterVec
	RelayBytesForwarded    prometheus.Counter
	RelayThirdPartyRejects prometheus.Counter

	// Crypto metrics
	CryptoOperationsTotal   *prometheus.CounterVec
	CryptoOperationDuration prometheus.Histogram

	// Storage metrics
	DatabaseOperationsTotal *prometheus.CounterVec
	CASSpoolBytes           prometheus.Gauge

	activeTransfers int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TransfersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_transfers_total",
				Help: "Total transfers initiated",
			},
			[]string{"status"},
		),
		TransfersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "haven_transfers_active",
				Help: "Currently active transfers",
			},
		),
		TransferDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "haven_transfer_duration_seconds",
				Help:    "Transfer completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),
		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_bytes_transferred_total",
				Help: "Total bytes transferred",
			},
			[]string{"direction"},
		),
		ChunksAssembledTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haven_chunks_assembled_total",
				Help: "Total chunks assembled by the receiver",
			},
		),
		ChunkHashFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haven_chunk_hash_failures_total",
				Help: "Per-chunk hash verification failures",
			},
		),
		FramesSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haven_frames_sent_total",
				Help: "UDP frames transmitted by the blaster",
			},
		),
		FramesReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haven_frames_received_total",
				Help: "UDP frames accepted by the vacuum",
			},
		),
		FramesDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_frames_dropped_total",
				Help: "Frames dropped, by reason",
			},
			[]string{"reason"},
		),
		FramesRetransmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haven_frames_retransmitted_total",
				Help: "Frames resent in response to a NACK",
			},
		),
		NacksEmittedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haven_nacks_emitted_total",
				Help: "NACK envelopes emitted by the receiver's scanner",
			},
		),
		NacksReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haven_nacks_received_total",
				Help: "NACK envelopes received by the sender",
			},
		),
		CurrentRateBps: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "haven_congestion_rate_bytes_per_second",
				Help: "Current blaster pacing rate",
			},
		),
		SmoothedRTTMs: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "haven_congestion_smoothed_rtt_ms",
				Help: "EWMA-smoothed RTT",
			},
		),
		MinRTTMs: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "haven_congestion_min_rtt_ms",
				Help: "Minimum RTT over the sliding window",
			},
		),
		QueuingDelayMs: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "haven_congestion_queuing_delay_ms",
				Help: "smoothed_rtt - min_rtt",
			},
		),
		RelaySessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "haven_relay_sessions_active",
				Help: "Relay sessions currently registered",
			},
		),
		RelaySessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_relay_sessions_total",
				Help: "Relay sessions created, by outcome",
			},
			[]string{"outcome"},
		),
		RelayAuthTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_relay_auth_total",
				Help: "Relay bearer-auth handshake attempts",
			},
			[]string{"result"},
		),
		RelayBytesForwarded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haven_relay_bytes_forwarded_total",
				Help: "Bytes forwarded between session sides",
			},
		),
		RelayThirdPartyRejects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "haven_relay_third_party_rejects_total",
				Help: "Packets rejected from a third party on a full session",
			},
		),
		CryptoOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_crypto_operations_total",
				Help: "Cryptographic operations performed",
			},
			[]string{"operation"},
		),
		CryptoOperationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "haven_crypto_operation_duration_seconds",
				Help:    "Crypto operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_database_operations_total",
				Help: "Store-and-forward database operation count",
			},
			[]string{"operation", "result"},
		),
		CASSpoolBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "haven_cas_spool_bytes",
				Help: "Bytes held in the relay's store-and-forward CAS spool",
			},
		),
	}

	return m
}

// RecordTransferStart increments active transfer counters.
func (m *Metrics) RecordTransferStart() {
	atomic.AddInt64(&m.activeTransfers, 1)
	m.TransfersActive.Set(float64(atomic.LoadInt64(&m.activeTransfers)))
}

// RecordTransferComplete records transfer completion metrics.
func (m *Metrics) RecordTransferComplete(success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeTransfers, -1)
	m.TransfersActive.Set(float64(atomic.LoadInt64(&m.activeTransfers)))

	status := "success"
	if !success {
		status = "failure"
	}
	m.TransfersTotal.WithLabelValues(status).Inc()
	m.TransferDuration.Observe(durationSeconds)
}

// RecordFrameSent updates metrics for a transmitted frame.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSentTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("sent").Add(float64(bytes))
}

// RecordFrameReceived updates metrics for an accepted frame.
func (m *Metrics) RecordFrameReceived(bytes int) {
	m.FramesReceivedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("received").Add(float64(bytes))
}

// RecordFrameDropped increments the dropped-frame counter for a reason.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordCongestionSample publishes the controller's current state.
func (m *Metrics) RecordCongestionSample(rateBps float64, smoothedMs, minMs, queuingMs float64) {
	m.CurrentRateBps.Set(rateBps)
	m.SmoothedRTTMs.Set(smoothedMs)
	m.MinRTTMs.Set(minMs)
	m.QueuingDelayMs.Set(queuingMs)
}

// RecordRelaySession records a relay session outcome (created/rejected).
func (m *Metrics) RecordRelaySession(outcome string) {
	m.RelaySessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRelayAuth records a relay bearer-auth outcome.
func (m *Metrics) RecordRelayAuth(result string) {
	m.RelayAuthTotal.WithLabelValues(result).Inc()
}

// RecordCryptoOperation records cryptographic operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.Observe(durationSeconds)
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
