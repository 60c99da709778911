package sender

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/havenlink/transfercore/internal/congestion"
	"github.com/havenlink/transfercore/internal/control"
	"github.com/havenlink/transfercore/internal/crypto"
	"github.com/havenlink/transfercore/internal/progress"
)

// Options configures a single transfer's send side.
type Options struct {
	FilePath    string
	TransferID  [16]byte
	Filename    string
	SessionKey  crypto.SessionKey
	ChunkSize   int
	SendWindow  int
	SocketSend  int
	DataAddr    string // local UDP address to bind for the blast
	PeerAddr    string // remote UDP address once known (receiver's listen_addr)
	CongestionCfg congestion.Config
}

// Sender drives one transfer's Reader/Encryptor/Blaster pipeline and the
// OFFER/READY/DONE side of the control channel.
type Sender struct {
	opts     Options
	progress *progress.Record
	cc       *control.Channel

	nackCh chan control.Nack
	ackCh  chan control.Ack
}

// New creates a Sender for a file already stat'able at opts.FilePath.
func New(opts Options, cc *control.Channel) (*Sender, error) {
	info, err := os.Stat(opts.FilePath)
	if err != nil {
		return nil, err
	}
	chunkCount := chunkCount(info.Size(), int64(opts.ChunkSize))
	return &Sender{
		opts:     opts,
		progress: progress.New(info.Size(), chunkCount),
		cc:       cc,
		nackCh:   make(chan control.Nack, 64),
		ackCh:    make(chan control.Ack, 64),
	}, nil
}

func chunkCount(size, chunkSize int64) int64 {
	if size == 0 {
		return 1
	}
	return (size + chunkSize - 1) / chunkSize
}

// Progress returns the transfer's live progress record.
func (s *Sender) Progress() *progress.Record { return s.progress }

// DispatchNack queues a NACK envelope observed on the control channel for
// the Blaster to service. Delivery is at-least-once and the Blaster
// tolerates duplicates, matching §4.6.
func (s *Sender) DispatchNack(n control.Nack) {
	select {
	case s.nackCh <- n:
	default:
	}
}

// DispatchAck queues an ACK envelope for the Blaster.
func (s *Sender) DispatchAck(a control.Ack) {
	select {
	case s.ackCh <- a:
	default:
	}
}

// Run executes the full send-side pipeline: Reader -> Encryptor -> Blaster,
// emitting OFFER once encryption finishes and DONE once the drain phase
// completes or every chunk is acknowledged.
func (s *Sender) Run(ctx context.Context) error {
	s.progress.SetState(progress.StateActive)

	localAddr, err := net.ResolveUDPAddr("udp", s.opts.DataAddr)
	if err != nil {
		return fmt.Errorf("sender: resolve local addr: %w", err)
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", s.opts.PeerAddr)
	if err != nil {
		return fmt.Errorf("sender: resolve peer addr: %w", err)
	}
	conn, err := net.DialUDP("udp", localAddr, remoteAddr)
	if err != nil {
		return fmt.Errorf("sender: dial udp: %w", err)
	}
	defer conn.Close()
	if s.opts.SocketSend > 0 {
		_ = conn.SetWriteBuffer(s.opts.SocketSend)
	}

	rawCh := make(chan rawChunk, 4)
	encCh := make(chan encryptedChunk, 4)

	var readerErr error
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readerErr = runReader(s.opts.FilePath, s.opts.ChunkSize, rawCh, s.progress.Cancelled)
	}()

	summaryCh := make(chan Summary, 1)
	go func() {
		summaryCh <- runEncryptor(s.opts.SessionKey, rawCh, encCh)
	}()

	cc := congestion.New(s.opts.CongestionCfg)
	bl := newBlaster(conn, s.opts.TransferID, s.opts.SendWindow, cc, s.progress, s.progress.Cancelled, s.nackCh, s.ackCh)

	blasterDone := make(chan struct{})
	go func() {
		defer close(blasterDone)
		bl.run(encCh)
	}()

	summary := <-summaryCh
	<-readerDone
	if readerErr != nil {
		s.progress.SetState(progress.StateFailed)
		s.progress.SetLastError(readerErr.Error())
		return readerErr
	}
	if summary.Err != nil {
		s.progress.SetState(progress.StateFailed)
		s.progress.SetLastError(summary.Err.Error())
		return summary.Err
	}

	if err := s.cc.SendOffer(control.Offer{
		TransferID:     s.opts.TransferID,
		Filename:       s.opts.Filename,
		Size:           uint64(s.progress.BytesTotal()),
		ChunkCount:     uint32(s.progress.ChunksTotal()),
		PerChunkHashes: summary.ChunkHashes,
		WholeFileHash:  summary.FileHash,
	}); err != nil {
		s.progress.SetState(progress.StateFailed)
		s.progress.SetLastError(err.Error())
		return err
	}

	<-blasterDone

	if s.progress.Cancelled() {
		return nil
	}

	if err := s.cc.SendDone(); err != nil {
		s.progress.SetLastError(err.Error())
		return err
	}
	s.progress.SetState(progress.StateComplete)
	return nil
}
