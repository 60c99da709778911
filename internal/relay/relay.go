// Package relay implements the UDP rendezvous relay described in §4.7: a
// connectionless forwarder that authenticates clients with a bearer
// credential, pairs them into sessions keyed by transfer/session id, and
// copies packets between the two sides verbatim — rebinding each side's
// address on every packet so NAT timeouts and roaming never interrupt a
// transfer.
package relay

import (
	"crypto/ed25519"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/havenlink/transfercore/internal/observability"
	"github.com/havenlink/transfercore/internal/ratelimit"
)

const (
	maxPacketSize = 2048

	// sessionIdleTimeout prunes a session after this much inactivity.
	sessionIdleTimeout = 60 * time.Second
	// clientIdleTimeout prunes an authenticated client after this much
	// inactivity — twice the session timeout, so a client mid-handshake
	// on a slow session never expires before its session does.
	clientIdleTimeout = 120 * time.Second
	cleanupInterval   = 30 * time.Second
)

// Config configures a Relay instance.
type Config struct {
	ListenAddr string
	IssuerPub  ed25519.PublicKey
	RecvBuf    int
	SendBuf    int
	Metrics    *observability.Metrics

	// AuthRatePerSec and AuthBurst throttle auth-frame processing; a
	// flood of auth attempts spends no more than this against bearer
	// verification's signature-check cost. Zero uses sane defaults.
	AuthRatePerSec float64
	AuthBurst      int

	// SessionRatePerSec and SessionBurst throttle new-session admission
	// (a session's first packet), independent of the auth limiter, since
	// an already-authenticated client could still try to open sessions
	// faster than the relay wants to track them. Zero uses sane defaults.
	SessionRatePerSec float64
	SessionBurst      int

	// BandwidthBytesPerSec and BandwidthBurst cap the relay's aggregate
	// forwarded-byte rate, coarser-grained than the packet-count limiters
	// above. Zero disables bandwidth admission entirely.
	BandwidthBytesPerSec float64
	BandwidthBurst       int
}

// Relay is a running UDP relay. All exported counters are safe for
// concurrent atomic reads while the relay is serving traffic.
type Relay struct {
	conn      *net.UDPConn
	issuerPub ed25519.PublicKey
	log       zerolog.Logger
	metrics   *observability.Metrics

	authLimiter      *rate.Limiter
	sessionLimiter   *rate.Limiter
	bandwidthLimiter *ratelimit.TokenBucket

	clientsMu sync.Mutex
	clients   map[string]*authenticatedClient

	sessionsMu sync.Mutex
	sessions   map[string]*relaySession

	PacketsForwarded atomic.Uint64
	BytesForwarded   atomic.Uint64
	AuthSuccesses    atomic.Uint64
	AuthFailures     atomic.Uint64
	PacketsDropped   atomic.Uint64
}

// Listen opens the relay's UDP socket and returns a Relay ready to Run.
func Listen(cfg Config, log zerolog.Logger) (*Relay, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.RecvBuf > 0 {
		_ = conn.SetReadBuffer(cfg.RecvBuf)
	}
	if cfg.SendBuf > 0 {
		_ = conn.SetWriteBuffer(cfg.SendBuf)
	}

	authRate, authBurst := cfg.AuthRatePerSec, cfg.AuthBurst
	if authRate <= 0 {
		authRate, authBurst = 200, 400
	}
	sessionRate, sessionBurst := cfg.SessionRatePerSec, cfg.SessionBurst
	if sessionRate <= 0 {
		sessionRate, sessionBurst = 500, 1000
	}

	var bw *ratelimit.TokenBucket
	if cfg.BandwidthBytesPerSec > 0 {
		bw = ratelimit.NewTokenBucket(cfg.BandwidthBytesPerSec, cfg.BandwidthBurst)
	}

	return &Relay{
		conn:             conn,
		issuerPub:        cfg.IssuerPub,
		log:              log,
		metrics:          cfg.Metrics,
		authLimiter:      rate.NewLimiter(rate.Limit(authRate), authBurst),
		sessionLimiter:   rate.NewLimiter(rate.Limit(sessionRate), sessionBurst),
		bandwidthLimiter: bw,
		clients:          make(map[string]*authenticatedClient),
		sessions:         make(map[string]*relaySession),
	}, nil
}

// Close releases the relay's socket.
func (r *Relay) Close() error { return r.conn.Close() }

// LocalAddr returns the relay's bound address.
func (r *Relay) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Run services packets until stop is closed. It blocks.
func (r *Relay) Run(stop <-chan struct{}) error {
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		r.runCleanup(stop)
	}()

	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-stop:
			<-cleanupDone
			return nil
		default:
		}

		_ = r.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if isBenignConnReset(err) {
				// Windows surfaces ICMP port-unreachable from a prior
				// send as a connection reset on the next recv; the
				// relay has no per-destination state to tear down.
				continue
			}
			r.log.Warn().Err(err).Msg("relay: recv error")
			continue
		}

		r.handlePacket(append([]byte(nil), buf[:n]...), src, time.Now())
	}
}

func (r *Relay) handlePacket(data []byte, src *net.UDPAddr, now time.Time) {
	if len(data) > 0 && data[0] == authMarker {
		if !r.authLimiter.AllowN(now, 1) {
			r.PacketsDropped.Add(1)
			return
		}
		r.handleAuth(data, src, now)
		return
	}
	r.handleData(data, src, now)
}

func (r *Relay) handleData(data []byte, src *net.UDPAddr, now time.Time) {
	subject, ok := r.authenticatedSubject(src, now)
	if !ok {
		r.PacketsDropped.Add(1)
		return
	}

	key, ok := sessionKeyFor(data)
	if !ok {
		r.PacketsDropped.Add(1)
		return
	}

	r.sessionsMu.Lock()
	sess, exists := r.sessions[key]
	if !exists {
		if !r.sessionLimiter.AllowN(now, 1) {
			r.sessionsMu.Unlock()
			r.PacketsDropped.Add(1)
			return
		}
		sess = &relaySession{sideA: side{subject: subject, addr: src}, lastActivity: now}
		r.sessions[key] = sess
		r.sessionsMu.Unlock()
		if r.metrics != nil {
			r.metrics.RecordRelaySession("created")
		}
		return // first packet of a session only registers side A
	}
	dest, ok, joined := sess.route(subject, src, now)
	r.sessionsMu.Unlock()

	if !ok {
		r.PacketsDropped.Add(1)
		if r.metrics != nil {
			r.metrics.RelayThirdPartyRejects.Inc()
		}
		return
	}
	if joined && r.metrics != nil {
		r.metrics.RecordRelaySession("joined")
	}

	if r.bandwidthLimiter != nil && !r.bandwidthLimiter.Allow(len(data)) {
		r.PacketsDropped.Add(1)
		return
	}

	n, err := r.conn.WriteToUDP(data, dest)
	if err != nil {
		if isBenignConnReset(err) {
			return
		}
		r.log.Debug().Err(err).Msg("relay: forward error")
		return
	}
	r.PacketsForwarded.Add(1)
	r.BytesForwarded.Add(uint64(n))
	if r.metrics != nil {
		r.metrics.RelayBytesForwarded.Add(float64(n))
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
