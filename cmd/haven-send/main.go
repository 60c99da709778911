// Command haven-send drives the sending side of a direct blast-mode
// transfer: it completes the mutual handshake over one QUIC stream, opens
// a second stream as the OFFER/NACK/ACK/READY/DONE control channel, and
// runs the Reader/Encryptor/Blaster pipeline against a peer whose UDP data
// address is already known (see DESIGN.md for why direct mode takes the
// peer's data address explicitly rather than negotiating it).
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/havenlink/transfercore/internal/chunkio"
	"github.com/havenlink/transfercore/internal/config"
	"github.com/havenlink/transfercore/internal/congestion"
	"github.com/havenlink/transfercore/internal/control"
	"github.com/havenlink/transfercore/internal/crypto"
	"github.com/havenlink/transfercore/internal/crypto/handshake"
	"github.com/havenlink/transfercore/internal/crypto/identity"
	"github.com/havenlink/transfercore/internal/progress"
	"github.com/havenlink/transfercore/internal/quicutil"
	"github.com/havenlink/transfercore/internal/relay"
	"github.com/havenlink/transfercore/internal/sender"
	"github.com/havenlink/transfercore/internal/validation"
)

// handshakeConfig mirrors the control package's private keepalive tuning so
// the handshake stream and the control channel's own QUIC connection agree
// on idle/keepalive behavior.
var handshakeConfig = &quic.Config{
	KeepAlivePeriod: 15 * time.Second,
	MaxIdleTimeout:  30 * time.Second,
}

func main() {
	cfg := config.DefaultConfig()

	filePath := flag.String("file", "", "path of the file to send")
	controlAddr := flag.String("control-addr", "", "receiver's QUIC control address (host:port)")
	peerDataAddr := flag.String("peer-data-addr", "", "receiver's UDP data address (host:port)")
	dataAddr := flag.String("data-addr", ":0", "local UDP address to bind for the blast")
	session := flag.String("session", "", "pre-shared session code, agreed with the receiver out of band")
	keysDir := flag.String("keys-dir", cfg.KeysDirectory, "identity key storage directory")
	tokenSecret := flag.String("token-secret", "", "optional shared secret binding the handshake to an out-of-band token")
	chunkSize := flag.Int("chunk-size", int(cfg.ChunkSize), "plaintext chunk size in bytes")
	sendWindow := flag.Int("send-window", cfg.SendWindow, "retransmit-cache depth in chunks")
	socketSendBuf := flag.Int("socket-send-buf", cfg.SocketSendBuf, "UDP socket send buffer size")
	fallbackAddr := flag.String("fallback-addr", "", "store-and-forward relay TCP address (host:port); when set, sends via the two-pass hashing path instead of a direct blast")
	bearerFile := flag.String("bearer-file", "", "path to this uploader's signed bearer credential (required with -fallback-addr)")
	recipientSubject := flag.String("recipient-subject", "", "recipient's bearer subject, used to address store-and-forward chunks (required with -fallback-addr)")
	maxFrameBytes := flag.Int("max-frame-bytes", relay.DefaultMaxFrameBytes, "maximum TCP frame size for the store-and-forward transport")
	flag.Parse()

	if *fallbackAddr != "" {
		if err := validateFallbackFlags(*filePath, *fallbackAddr, *bearerFile, *recipientSubject, *chunkSize); err != nil {
			fmt.Fprintf(os.Stderr, "haven-send: %v\n", err)
			os.Exit(1)
		}
		if err := runFallback(*filePath, *fallbackAddr, *bearerFile, *recipientSubject, *chunkSize, *maxFrameBytes); err != nil {
			fmt.Fprintf(os.Stderr, "haven-send: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *filePath == "" || *controlAddr == "" || *peerDataAddr == "" || *session == "" {
		fmt.Fprintln(os.Stderr, "usage: haven-send -file <path> -control-addr <host:port> -peer-data-addr <host:port> -session <code>")
		os.Exit(1)
	}
	if err := validateFlags(*filePath, *controlAddr, *peerDataAddr, *dataAddr, *session, *chunkSize, *sendWindow); err != nil {
		fmt.Fprintf(os.Stderr, "haven-send: %v\n", err)
		os.Exit(1)
	}

	if err := run(*filePath, *controlAddr, *peerDataAddr, *dataAddr, *session, *keysDir, *tokenSecret, *chunkSize, *sendWindow, *socketSendBuf); err != nil {
		fmt.Fprintf(os.Stderr, "haven-send: %v\n", err)
		os.Exit(1)
	}
}

// validateFallbackFlags applies the same validators as the direct-blast
// path to the store-and-forward flag set.
func validateFallbackFlags(filePath, fallbackAddr, bearerFile, recipientSubject string, chunkSize int) error {
	if err := validation.ValidateFilePath(filePath, true); err != nil {
		return fmt.Errorf("-file: %w", err)
	}
	if err := validation.ValidateAddr(fallbackAddr); err != nil {
		return fmt.Errorf("-fallback-addr: %w", err)
	}
	if err := validation.ValidateFilePath(bearerFile, true); err != nil {
		return fmt.Errorf("-bearer-file: %w", err)
	}
	if err := validation.ValidateStringNonEmpty(recipientSubject); err != nil {
		return fmt.Errorf("-recipient-subject: %w", err)
	}
	if err := validation.ValidateRangeInt(chunkSize, 1, 64<<20); err != nil {
		return fmt.Errorf("-chunk-size: %w", err)
	}
	return nil
}

// runFallback drives a full two-pass store-and-forward upload: pass 1
// hashes and discards, pass 2 re-seals and streams chunks to the relay's
// §6 TCP transport, with no live receiver handshake required.
func runFallback(filePath, fallbackAddr, bearerFile, recipientSubject string, chunkSize, maxFrameBytes int) error {
	bearer, err := os.ReadFile(bearerFile)
	if err != nil {
		return fmt.Errorf("read bearer file: %w", err)
	}

	var transferID [16]byte
	if _, err := rand.Read(transferID[:]); err != nil {
		return fmt.Errorf("generate transfer id: %w", err)
	}
	var sessionKey crypto.SessionKey
	if _, err := rand.Read(sessionKey[:]); err != nil {
		return fmt.Errorf("generate session key: %w", err)
	}

	u := chunkio.New(chunkio.Options{
		FilePath:      filePath,
		ChunkSize:     chunkSize,
		SessionKey:    sessionKey,
		TransferID:    transferID,
		Recipient:     relay.UIDFromSubject(recipientSubject),
		RelayAddr:     fallbackAddr,
		Bearer:        bearer,
		MaxFrameBytes: maxFrameBytes,
	})

	go printProgress(u.Progress())

	fmt.Printf("sending %s (transfer %x) via store-and-forward relay %s\n", filePath, transferID, fallbackAddr)
	manifest, err := u.Run()
	if err != nil {
		return fmt.Errorf("store-and-forward upload failed: %w", err)
	}
	fmt.Printf("\ntransfer complete (%d chunks, %d bytes)\n", manifest.ChunkCount, manifest.FileSize)
	return nil
}

// validateFlags rejects an obviously-broken invocation before any QUIC
// dial or handshake attempt, using the same validators haven-recv and
// haven-relay apply to their own flags.
func validateFlags(filePath, controlAddr, peerDataAddr, dataAddr, session string, chunkSize, sendWindow int) error {
	if err := validation.ValidateFilePath(filePath, true); err != nil {
		return fmt.Errorf("-file: %w", err)
	}
	if err := validation.ValidateAddr(controlAddr); err != nil {
		return fmt.Errorf("-control-addr: %w", err)
	}
	if err := validation.ValidateAddr(peerDataAddr); err != nil {
		return fmt.Errorf("-peer-data-addr: %w", err)
	}
	if err := validation.ValidateAddr(dataAddr); err != nil {
		return fmt.Errorf("-data-addr: %w", err)
	}
	if err := validation.ValidateStringNonEmpty(session); err != nil {
		return fmt.Errorf("-session: %w", err)
	}
	if err := validation.ValidateRangeInt(chunkSize, 1, 64<<20); err != nil {
		return fmt.Errorf("-chunk-size: %w", err)
	}
	if err := validation.ValidateRangeInt(sendWindow, 1, 65536); err != nil {
		return fmt.Errorf("-send-window: %w", err)
	}
	return nil
}

func run(filePath, controlAddr, peerDataAddr, dataAddr, session, keysDir, tokenSecret string, chunkSize, sendWindow, socketSendBuf int) error {
	priv, pub, err := identity.LoadOrCreate(filepath.Join(keysDir, "id_ed25519"), filepath.Join(keysDir, "id_ed25519.pub"))
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	ctx := context.Background()
	tlsConf := quicutil.MakeClientTLSConfig()
	tlsConf.NextProtos = []string{"haven-transfer"}

	conn, err := quic.DialAddr(ctx, controlAddr, tlsConf, handshakeConfig)
	if err != nil {
		return fmt.Errorf("dial control connection: %w", err)
	}
	defer conn.CloseWithError(0, "transfer complete")

	handshakeStream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open handshake stream: %w", err)
	}
	masterKey, err := handshake.ClientHandshake(handshakeStream, session, priv, pub, []byte(tokenSecret))
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	_ = handshakeStream.Close()

	controlStream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open control stream: %w", err)
	}
	cc := control.NewChannel(controlStream)

	var transferID [16]byte
	if _, err := rand.Read(transferID[:]); err != nil {
		return fmt.Errorf("generate transfer id: %w", err)
	}
	sessionKey, err := crypto.DeriveSessionKey(masterKey[:], transferID)
	if err != nil {
		return fmt.Errorf("derive session key: %w", err)
	}

	opts := sender.Options{
		FilePath:      filePath,
		TransferID:    transferID,
		Filename:      filepath.Base(filePath),
		SessionKey:    sessionKey,
		ChunkSize:     chunkSize,
		SendWindow:    sendWindow,
		SocketSend:    socketSendBuf,
		DataAddr:      dataAddr,
		PeerAddr:      peerDataAddr,
		CongestionCfg: congestion.DefaultConfig(),
	}
	s, err := sender.New(opts, cc)
	if err != nil {
		return fmt.Errorf("prepare sender: %w", err)
	}

	go dispatchControlEnvelopes(cc, s)
	go printProgress(s.Progress())

	fmt.Printf("sending %s (transfer %x) to %s\n", filePath, transferID, peerDataAddr)
	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}
	fmt.Println("transfer complete")
	return nil
}

func dispatchControlEnvelopes(cc *control.Channel, s *sender.Sender) {
	for {
		env, err := cc.ReceiveAny()
		if err != nil {
			return
		}
		switch env.Type {
		case control.TypeNack:
			s.DispatchNack(env.Nack)
		case control.TypeAck:
			s.DispatchAck(env.Ack)
		}
	}
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
