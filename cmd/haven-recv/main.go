// Command haven-recv drives the receiving side of a direct blast-mode
// transfer: it accepts a QUIC connection, completes the handshake on its
// first stream, then runs the Vacuum/Assembler/Writer pipeline against the
// OFFER/OFFER_ACK/NACK/ACK/DONE envelopes carried on the second.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/havenlink/transfercore/internal/config"
	"github.com/havenlink/transfercore/internal/control"
	"github.com/havenlink/transfercore/internal/crypto/handshake"
	"github.com/havenlink/transfercore/internal/crypto/identity"
	"github.com/havenlink/transfercore/internal/progress"
	"github.com/havenlink/transfercore/internal/quicutil"
	"github.com/havenlink/transfercore/internal/receiver"
	"github.com/havenlink/transfercore/internal/validation"
)

var handshakeConfig = &quic.Config{
	KeepAlivePeriod: 15 * time.Second,
	MaxIdleTimeout:  30 * time.Second,
}

func main() {
	cfg := config.DefaultConfig()

	listenAddr := flag.String("listen-addr", cfg.ControlAddress, "QUIC control listen address")
	dataAddr := flag.String("data-addr", cfg.DataAddress, "UDP address to bind for the blast (tell the sender this)")
	outputDir := flag.String("output-dir", ".", "directory to write received files into")
	keysDir := flag.String("keys-dir", cfg.KeysDirectory, "identity key storage directory")
	session := flag.String("session", "", "pre-shared session code, agreed with the sender out of band")
	tokenSecret := flag.String("token-secret", "", "optional shared secret binding the handshake to an out-of-band token")
	socketRecvBuf := flag.Int("socket-recv-buf", cfg.SocketRecvBuf, "UDP socket receive buffer size")
	chunkSize := flag.Int64("chunk-size", cfg.ChunkSize, "plaintext chunk size in bytes (must match the sender)")
	flag.Parse()

	if *session == "" {
		fmt.Fprintln(os.Stderr, "usage: haven-recv -session <code> [-listen-addr host:port] [-data-addr host:port] [-output-dir dir]")
		os.Exit(1)
	}
	if err := validateFlags(*listenAddr, *dataAddr, *outputDir, *session, *chunkSize); err != nil {
		fmt.Fprintf(os.Stderr, "haven-recv: %v\n", err)
		os.Exit(1)
	}

	if err := run(*listenAddr, *dataAddr, *outputDir, *keysDir, *session, *tokenSecret, *socketRecvBuf, *chunkSize); err != nil {
		fmt.Fprintf(os.Stderr, "haven-recv: %v\n", err)
		os.Exit(1)
	}
}

// validateFlags rejects an obviously-broken invocation before binding any
// socket or generating a TLS certificate.
func validateFlags(listenAddr, dataAddr, outputDir, session string, chunkSize int64) error {
	if err := validation.ValidateAddr(listenAddr); err != nil {
		return fmt.Errorf("-listen-addr: %w", err)
	}
	if err := validation.ValidateAddr(dataAddr); err != nil {
		return fmt.Errorf("-data-addr: %w", err)
	}
	if err := validation.ValidateFilePath(outputDir, true); err != nil {
		return fmt.Errorf("-output-dir: %w", err)
	}
	if err := validation.ValidateStringNonEmpty(session); err != nil {
		return fmt.Errorf("-session: %w", err)
	}
	if err := validation.ValidateRangeInt(int(chunkSize), 1, 64<<20); err != nil {
		return fmt.Errorf("-chunk-size: %w", err)
	}
	return nil
}

func run(listenAddr, dataAddr, outputDir, keysDir, session, tokenSecret string, socketRecvBuf int, chunkSize int64) error {
	priv, pub, err := identity.LoadOrCreate(filepath.Join(keysDir, "id_ed25519"), filepath.Join(keysDir, "id_ed25519.pub"))
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		return fmt.Errorf("generate TLS certificate: %w", err)
	}
	tlsConf, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("build TLS config: %w", err)
	}
	tlsConf.NextProtos = []string{"haven-transfer"}

	ln, err := quic.ListenAddr(listenAddr, tlsConf, handshakeConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	fmt.Printf("listening for control connections on %s\n", ln.Addr())
	fmt.Printf("blast data address (give this to the sender): %s\n", dataAddr)

	ctx := context.Background()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := handleConn(conn, session, priv, pub, tokenSecret, outputDir, dataAddr, socketRecvBuf, chunkSize); err != nil {
				fmt.Fprintf(os.Stderr, "haven-recv: transfer error: %v\n", err)
			}
		}()
	}
}

func handleConn(conn *quic.Conn, session string, priv ed25519.PrivateKey, pub ed25519.PublicKey, tokenSecret, outputDir, dataAddr string, socketRecvBuf int, chunkSize int64) error {
	defer conn.CloseWithError(0, "transfer complete")
	ctx := context.Background()

	handshakeStream, err := conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("accept handshake stream: %w", err)
	}
	masterKey, err := handshake.ServerHandshake(handshakeStream, session, priv, pub, []byte(tokenSecret))
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	_ = handshakeStream.Close()

	controlStream, err := conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("accept control stream: %w", err)
	}
	cc := control.NewChannel(controlStream)

	r := receiver.New(receiver.Options{
		OutputDir:  outputDir,
		DataAddr:   dataAddr,
		ChunkSize:  chunkSize,
		SocketRecv: socketRecvBuf,
		MasterKey:  masterKey,
	}, cc)

	go printProgress(r.Progress())

	fmt.Println("control connection established, waiting for an offer")
	if err := r.Run(); err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}
	fmt.Println("transfer complete")
	return nil
}

func printProgress(rec *progress.Record) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		state := rec.State()
		if state == progress.StateComplete || state == progress.StateFailed || state == progress.StateCancelled {
			return
		}
		fmt.Printf("\r%.1f%% (%d/%d chunks, %d B/s, %d retransmits)   ",
			rec.ProgressPercent(), rec.ChunksComplete(), rec.ChunksTotal(), rec.CurrentRate(), rec.Retransmits())
	}
}
