// Package integration exercises the full Reader/Encryptor/Blaster and
// Vacuum/Assembler/Writer pipelines end to end over real loopback UDP
// sockets and an in-memory control channel, wiring sender and receiver
// together the same way the haven-send/haven-recv binaries do once a
// handshake has already produced a master key.
package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/havenlink/transfercore/internal/congestion"
	"github.com/havenlink/transfercore/internal/control"
	"github.com/havenlink/transfercore/internal/crypto"
	"github.com/havenlink/transfercore/internal/progress"
	"github.com/havenlink/transfercore/internal/receiver"
	"github.com/havenlink/transfercore/internal/sender"
)

// testMasterKey returns the zeroed-with-marker key used throughout the
// pack's own unit tests, scoped here to the whole-file scenario vectors.
func testMasterKey() [32]byte {
	var k [32]byte
	k[0] = 0xDE
	k[31] = 0xAD
	return k
}

// testTransferID encodes the session id convention the rest of the pack
// uses: the id occupies the low bytes of the 16-byte transfer id.
func testTransferID(sessionID uint32) [16]byte {
	var id [16]byte
	id[12] = byte(sessionID >> 24)
	id[13] = byte(sessionID >> 16)
	id[14] = byte(sessionID >> 8)
	id[15] = byte(sessionID)
	return id
}

// freeUDPAddr finds an ephemeral loopback UDP port and immediately frees it
// so both the receiver (which binds it) and the sender (which needs to
// know it up front, since direct mode takes the peer's address explicitly
// rather than negotiating it — see DESIGN.md) can agree on it beforehand.
func freeUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("freeUDPAddr: %v", err)
	}
	addr := conn.LocalAddr().String()
	conn.Close()
	return addr
}

// dispatchToSender mirrors haven-send's control-reader goroutine: it reads
// every envelope off cc and routes NACK/ACK to the Sender's dispatch
// methods.
func dispatchToSender(cc *control.Channel, s *sender.Sender) {
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

// runTransfer drives one sender/receiver pair to completion over a real
// loopback UDP data path and an in-memory control channel, returning both
// sides' progress records for assertions.
func runTransfer(t *testing.T, plaintext []byte, chunkSize int, peerAddr, dataAddr string) (sendProgress, recvProgress *progress.Record, outputPath string) {
	t.Helper()

	inDir := t.TempDir()
	inPath := filepath.Join(inDir, "input.bin")
	if err := os.WriteFile(inPath, plaintext, 0o600); err != nil {
		t.Fatalf("write input file: %v", err)
	}
	outDir := t.TempDir()

	masterKey := testMasterKey()
	transferID := testTransferID(1)
	sessionKey, err := crypto.DeriveSessionKey(masterKey[:], transferID)
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}

	senderConn, receiverConn := net.Pipe()
	senderCC := control.NewChannel(senderConn)
	receiverCC := control.NewChannel(receiverConn)

	s, err := sender.New(sender.Options{
		FilePath:      inPath,
		TransferID:    transferID,
		Filename:      "input.bin",
		SessionKey:    sessionKey,
		ChunkSize:     chunkSize,
		SendWindow:    32,
		DataAddr:      ":0",
		PeerAddr:      peerAddr,
		CongestionCfg: congestion.DefaultConfig(),
	}, senderCC)
	if err != nil {
		t.Fatalf("sender.New: %v", err)
	}

	r := receiver.New(receiver.Options{
		OutputDir: outDir,
		DataAddr:  dataAddr,
		ChunkSize: int64(chunkSize),
		MasterKey: masterKey,
	}, receiverCC)

	go dispatchToSender(senderCC, s)

	recvErrCh := make(chan error, 1)
	go func() { recvErrCh <- r.Run() }()

	sendErrCh := make(chan error, 1)
	go func() { sendErrCh <- s.Run(context.Background()) }()

	select {
	case err := <-sendErrCh:
		if err != nil {
			t.Fatalf("sender.Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("sender.Run timed out")
	}

	select {
	case err := <-recvErrCh:
		if err != nil {
			t.Fatalf("receiver.Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("receiver.Run timed out")
	}

	return s.Progress(), r.Progress(), filepath.Join(outDir, "input.bin")
}

// Scenario A — small file, loopback, no loss.
func TestScenarioASmallFileNoLoss(t *testing.T) {
	plaintext := make([]byte, 10240)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}

	dataAddr := freeUDPAddr(t)
	sendP, recvP, outPath := runTransfer(t, plaintext, 4*1024*1024, dataAddr, dataAddr)

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("output mismatch: got %d bytes, want %d", len(got), len(plaintext))
	}
	if recvP.Retransmits() != 0 {
		t.Fatalf("retransmits = %d, want 0", recvP.Retransmits())
	}
	if recvP.ChunksComplete() != 1 {
		t.Fatalf("chunks_complete = %d, want 1", recvP.ChunksComplete())
	}
	if sendP.State() != progress.StateComplete {
		t.Fatalf("sender state = %s, want COMPLETE", sendP.State())
	}
	if recvP.State() != progress.StateComplete {
		t.Fatalf("receiver state = %s, want COMPLETE", recvP.State())
	}
}

// Scenario B — exact multi-frame chunk boundary: three frames' worth of
// plaintext blasted as a single chunk.
func TestScenarioBMultiFrameChunk(t *testing.T) {
	const framePayloadMax = 1400
	plaintext := make([]byte, 3*framePayloadMax)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}

	dataAddr := freeUDPAddr(t)
	_, recvP, outPath := runTransfer(t, plaintext, 4*1024*1024, dataAddr, dataAddr)

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("output mismatch: got %d bytes, want %d", len(got), len(plaintext))
	}
	if recvP.ChunksComplete() != 1 {
		t.Fatalf("chunks_complete = %d, want 1", recvP.ChunksComplete())
	}
}

// dropProxy forwards UDP datagrams from its own bound address to target,
// dropping every nth datagram it receives (retransmits included) — standing in for the induced
// loss a real lossy link would produce, so the NACK scanner and blaster's
// retransmit cache have something to do.
type dropProxy struct {
	pc net.PacketConn
}

func newDropProxy(t *testing.T, target string, dropEvery int) *dropProxy {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("dropProxy listen: %v", err)
	}
	targetAddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		t.Fatalf("dropProxy resolve target: %v", err)
	}
	p := &dropProxy{pc: pc}
	go func() {
		buf := make([]byte, 2048)
		count := 0
		for {
			n, _, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			count++
			if dropEvery > 0 && count%dropEvery == 0 {
				continue
			}
			_, _ = pc.WriteTo(buf[:n], targetAddr)
		}
	}()
	return p
}

func (p *dropProxy) Addr() string { return p.pc.LocalAddr().String() }
func (p *dropProxy) Close() error { return p.pc.Close() }

// Scenario C — induced drop: every 10th datagram through the proxy is dropped;
// the NACK scanner must recover the missing frames and the file must still
// arrive intact, with retransmits counting the drops.
func TestScenarioCInducedDrop(t *testing.T) {
	plaintext := make([]byte, 64*1024)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}

	receiverAddr := freeUDPAddr(t)
	proxy := newDropProxy(t, receiverAddr, 10)
	defer proxy.Close()

	// Small chunk size so the file spans several chunks' worth of frames,
	// giving the drop proxy (and the NACK scanner) real work to do.
	sendP, recvP, outPath := runTransfer(t, plaintext, 8*1024, proxy.Addr(), receiverAddr)

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("output mismatch: got %d bytes, want %d", len(got), len(plaintext))
	}
	if recvP.State() != progress.StateComplete {
		t.Fatalf("receiver state = %s, want COMPLETE", recvP.State())
	}
	if sendP.Retransmits() == 0 {
		t.Fatal("retransmits = 0, want at least one induced drop recovered")
	}
}
