// Command haven-relay runs the §4.7 UDP rendezvous relay, its §6 TCP
// store-and-forward fallback, and a health/metrics HTTP endpoint for
// operators.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/havenlink/transfercore/internal/config"
	"github.com/havenlink/transfercore/internal/observability"
	"github.com/havenlink/transfercore/internal/relay"
	"github.com/havenlink/transfercore/internal/relay/cas"
	"github.com/havenlink/transfercore/internal/relay/store"
	"github.com/havenlink/transfercore/internal/validation"
)

func main() {
	cfg := config.DefaultConfig()

	udpAddr := flag.String("udp-addr", ":4433", "UDP relay listen address")
	tcpAddr := flag.String("tcp-addr", ":4434", "TCP fallback listen address (empty disables it)")
	httpAddr := flag.String("http-addr", ":9090", "health/metrics HTTP listen address")
	issuerPubPath := flag.String("issuer-pub", "", "path to the base64-encoded issuer public key file")
	casPath := flag.String("cas-db", "relay-cas.db", "path to the fallback spool's BoltDB file")
	storePath := flag.String("store-db", "relay-store.db", "path to the fallback ledger's SQLite file")
	recvBuf := flag.Int("socket-recv-buf", cfg.SocketRecvBuf, "UDP socket receive buffer size")
	sendBuf := flag.Int("socket-send-buf", cfg.SocketSendBuf, "UDP socket send buffer size")
	maxFrameBytes := flag.Int("max-frame-bytes", cfg.MaxFrameBytes, "hard cap on a single TCP fallback frame")
	flag.Parse()

	logger := observability.NewLogger("haven-relay", "dev", os.Stdout)
	rawLog := logger.Raw()

	if err := validateFlags(*udpAddr, *tcpAddr, *httpAddr, *maxFrameBytes); err != nil {
		logger.Fatal(err, "validate flags")
	}

	issuerPub, err := loadIssuerPub(*issuerPubPath)
	if err != nil {
		logger.Fatal(err, "load issuer public key")
	}

	metrics := observability.NewMetrics()

	r, err := relay.Listen(relay.Config{
		ListenAddr: *udpAddr,
		IssuerPub:  issuerPub,
		RecvBuf:    *recvBuf,
		SendBuf:    *sendBuf,
		Metrics:    metrics,
	}, rawLog)
	if err != nil {
		logger.Fatal(err, "open UDP relay")
	}
	defer r.Close()
	logger.Info(fmt.Sprintf("UDP relay listening on %s", r.LocalAddr()))

	var fb *relay.FallbackServer
	if *tcpAddr != "" {
		casStore, err := cas.Open(*casPath)
		if err != nil {
			logger.Fatal(err, "open CAS spool")
		}
		defer casStore.Close()

		ledger, err := store.Open(*storePath)
		if err != nil {
			logger.Fatal(err, "open fallback ledger")
		}
		defer ledger.Close()

		fb, err = relay.ListenFallback(relay.FallbackConfig{
			ListenAddr:    *tcpAddr,
			IssuerPub:     issuerPub,
			MaxFrameBytes: *maxFrameBytes,
			Store:         ledger,
			CAS:           casStore,
		}, rawLog)
		if err != nil {
			logger.Fatal(err, "open TCP fallback relay")
		}
		defer fb.Close()
		logger.Info(fmt.Sprintf("TCP fallback relay listening on %s", fb.Addr()))
		go func() {
			if err := fb.Serve(); err != nil {
				logger.Warn(fmt.Sprintf("fallback relay stopped: %v", err))
			}
		}()
	}

	health := observability.NewHealthChecker("dev")
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Handler())
	mux.Handle("/metrics", metrics.Handler())
	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn(fmt.Sprintf("health/metrics server stopped: %v", err))
		}
	}()

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(stop) }()

	<-sigCh
	logger.Info("shutting down")
	close(stop)
	<-runDone

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

// validateFlags rejects an obviously-broken invocation before any listener
// is opened. tcpAddr is allowed to be empty — that's how an operator
// disables the fallback path.
func validateFlags(udpAddr, tcpAddr, httpAddr string, maxFrameBytes int) error {
	if err := validation.ValidateAddr(udpAddr); err != nil {
		return fmt.Errorf("-udp-addr: %w", err)
	}
	if tcpAddr != "" {
		if err := validation.ValidateAddr(tcpAddr); err != nil {
			return fmt.Errorf("-tcp-addr: %w", err)
		}
	}
	if err := validation.ValidateAddr(httpAddr); err != nil {
		return fmt.Errorf("-http-addr: %w", err)
	}
	if err := validation.ValidateRangeInt(maxFrameBytes, 1, 256<<20); err != nil {
		return fmt.Errorf("-max-frame-bytes: %w", err)
	}
	return nil
}

func loadIssuerPub(path string) (ed25519.PublicKey, error) {
	if path == "" {
		return nil, fmt.Errorf("issuer-pub is required")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	b64 := string(data)
	for len(b64) > 0 && (b64[len(b64)-1] == '\n' || b64[len(b64)-1] == '\r') {
		b64 = b64[:len(b64)-1]
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode issuer public key: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("issuer public key has wrong size: %d", len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}
