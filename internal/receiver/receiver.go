package receiver

import (
	"fmt"
	"net"
	"path/filepath"

	"github.com/havenlink/transfercore/internal/control"
	"github.com/havenlink/transfercore/internal/crypto"
	"github.com/havenlink/transfercore/internal/progress"
)

// Options configures a single transfer's receive side. The OFFER fields
// are filled in from the control channel once it arrives; only the local
// bind address and chunk size are known up front.
type Options struct {
	OutputDir  string // directory the received file is written into; the concrete name comes from the OFFER
	DataAddr   string // local UDP address to bind for the blast
	ChunkSize  int64
	SocketRecv int
	MasterKey  [32]byte // handshake output; the session key is derived once the OFFER's transfer_id is known
}

// sanitizeFilename strips any path separators from a sender-supplied
// filename so it cannot escape OutputDir.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "received.bin"
	}
	return name
}

// Receiver drives one transfer's Vacuum/Assembler/Writer pipeline and the
// OFFER_ACK/NACK/ACK side of the control channel.
type Receiver struct {
	opts     Options
	cc       *control.Channel
	progress *progress.Record
}

// New creates a Receiver bound to an already-open control channel. Nothing
// about the transfer is known yet — Run blocks for the OFFER.
func New(opts Options, cc *control.Channel) *Receiver {
	return &Receiver{opts: opts, cc: cc, progress: progress.New(0, 0)}
}

// Progress returns the transfer's live progress record.
func (r *Receiver) Progress() *progress.Record { return r.progress }

// Run waits for OFFER, binds the blast-mode UDP socket, runs the receive
// pipeline to completion, and verifies the whole-file hash.
func (r *Receiver) Run() error {
	offer, err := r.cc.ReceiveOffer()
	if err != nil {
		return fmt.Errorf("receiver: waiting for offer: %w", err)
	}
	sessionKey, err := crypto.DeriveSessionKey(r.opts.MasterKey[:], offer.TransferID)
	if err != nil {
		return fmt.Errorf("receiver: derive session key: %w", err)
	}

	chunkCount := int64(offer.ChunkCount)
	fileSize := int64(offer.Size)
	r.progress = progress.New(fileSize, chunkCount)
	r.progress.SetState(progress.StateActive)

	localAddr, err := net.ResolveUDPAddr("udp", r.opts.DataAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if r.opts.SocketRecv > 0 {
		_ = conn.SetReadBuffer(r.opts.SocketRecv)
	}

	if err := r.cc.SendOfferAck(control.OfferAck{ListenAddr: conn.LocalAddr().String()}); err != nil {
		return err
	}
	if udpAddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		_ = r.cc.SendReady(control.Ready{Port: uint16(udpAddr.Port)})
	}

	encryptedSizeFor := func(chunkIndex uint32) int {
		return encryptedChunkSize(int64(chunkIndex), chunkCount, fileSize, r.opts.ChunkSize)
	}

	frameCh := make(chan incomingFrame, 16384)
	assembledCh := make(chan assembledChunk, 4)
	stopNack := make(chan struct{})

	vac := newVacuum(conn, offer.TransferID)
	asm := newAssembler(encryptedSizeFor)
	outputPath := filepath.Join(r.opts.OutputDir, sanitizeFilename(offer.Filename))
	w := newWriter(outputPath, sessionKey, r.opts.ChunkSize, chunkCount, offer.PerChunkHashes, r.progress, r.cc)

	go vac.run(frameCh, r.progress.Cancelled)
	go func() {
		asm.run(frameCh, assembledCh)
	}()
	go runNackScanner(asm, r.cc, r.progress.Cancelled, stopNack)

	writerErr := w.run(assembledCh)
	close(stopNack)

	if writerErr != nil {
		r.progress.SetState(progress.StateFailed)
		r.progress.SetLastError(writerErr.Error())
		return writerErr
	}
	if r.progress.Cancelled() {
		r.progress.SetState(progress.StateCancelled)
		return nil
	}

	if err := verifyWholeFile(outputPath, sessionKey, r.opts.ChunkSize, chunkCount, fileSize, offer.WholeFileHash); err != nil {
		r.progress.SetState(progress.StateFailed)
		r.progress.SetLastError(err.Error())
		return err
	}

	r.progress.SetState(progress.StateComplete)
	return nil
}

// encryptedChunkSize returns the stored (nonce‖ciphertext‖tag) length for
// chunkIndex, accounting for the final chunk being shorter than chunkSize.
func encryptedChunkSize(chunkIndex, chunkCount, fileSize, chunkSize int64) int {
	plainLen := chunkSize
	if chunkIndex == chunkCount-1 {
		plainLen = fileSize - (chunkCount-1)*chunkSize
	}
	return int(plainLen) + 12 + 16
}
