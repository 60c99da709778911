// Fallback implements the §6 TCP relay framing: a store-and-forward
// transport for transfers that cannot establish the UDP blast path. Unlike
// the live UDP relay (relay.go), which only ever forwards packets it never
// inspects, the fallback path persists every chunk to the content-addressed
// spool and the relational transfer/chunk ledger before forwarding it to
// the addressed peer, if that peer is connected. Spooled chunks are not
// read back: a peer that connects later is not sent chunks that arrived
// before it connected.
package relay

import (
	"bufio"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenlink/transfercore/internal/authbearer"
	"github.com/havenlink/transfercore/internal/relay/cas"
	"github.com/havenlink/transfercore/internal/relay/store"
)

// Fallback frame types, per §6. FrameTypeCreateTransfer is client-to-server
// only — it registers the §4.9 pass-1 hash manifest ahead of pass 2's
// chunk stream, instead of being routed peer-to-peer like the others.
const (
	FrameTypeChunk          = 0x10
	FrameTypeAck            = 0x11
	FrameTypeDone           = 0x12
	FrameTypeCancel         = 0x13
	FrameTypeCreateTransfer = 0x14

	// DefaultMaxFrameBytes is the fallback cap on a single frame when
	// FallbackConfig.MaxFrameBytes (or a client's own limit) is unset.
	DefaultMaxFrameBytes = 16 << 20
)

// transferTTL bounds how long a ledger row survives before GC, mirroring
// the relay's role as a transient intermediary rather than permanent
// storage.
const transferTTL = 24 * time.Hour

// FallbackConfig configures the TCP store-and-forward relay.
type FallbackConfig struct {
	ListenAddr    string
	IssuerPub     ed25519.PublicKey
	MaxFrameBytes int
	Store         *store.Store
	CAS           *cas.Store
}

// FallbackServer is a running TCP store-and-forward relay.
type FallbackServer struct {
	ln            net.Listener
	issuerPub     ed25519.PublicKey
	maxFrameBytes int
	store         *store.Store
	cas           *cas.Store
	log           zerolog.Logger

	mu    sync.Mutex
	peers map[[16]byte]net.Conn
}

// ListenFallback opens the TCP listener for the store-and-forward path.
func ListenFallback(cfg FallbackConfig, log zerolog.Logger) (*FallbackServer, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	maxFrame := cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &FallbackServer{
		ln:            ln,
		issuerPub:     cfg.IssuerPub,
		maxFrameBytes: maxFrame,
		store:         cfg.Store,
		cas:           cfg.CAS,
		log:           log,
		peers:         make(map[[16]byte]net.Conn),
	}, nil
}

// Addr returns the fallback listener's bound address.
func (f *FallbackServer) Addr() net.Addr { return f.ln.Addr() }

// Close closes the listener and drops any connected peers.
func (f *FallbackServer) Close() error {
	err := f.ln.Close()
	f.mu.Lock()
	for _, c := range f.peers {
		_ = c.Close()
	}
	f.mu.Unlock()
	return err
}

// Serve accepts connections until the listener closes.
func (f *FallbackServer) Serve() error {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return err
		}
		go f.handleConn(conn)
	}
}

// UIDFromSubject derives a stable 16-byte peer identifier from a bearer
// subject, the same way a client and its counterparty both arrive at the
// identifier the relay uses to route `target_or_sender_uid` fields without a
// separate directory service.
func UIDFromSubject(subject string) [16]byte {
	h := sha256.Sum256([]byte(subject))
	var uid [16]byte
	copy(uid[:], h[:16])
	return uid
}

func (f *FallbackServer) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReaderSize(conn, 64<<10)

	subject, ok := f.authenticate(r, conn)
	if !ok {
		return
	}
	uid := UIDFromSubject(subject)

	f.register(uid, conn)
	defer f.unregister(uid)
	f.log.Info().Str("subject", subject).Msg("relay: fallback peer authenticated")

	for {
		payload, err := ReadFrame(r, f.maxFrameBytes)
		if err != nil {
			return
		}
		if len(payload) < 1 {
			continue
		}
		if payload[0] == FrameTypeCreateTransfer {
			f.handleCreateTransfer(uid, payload)
			continue
		}
		if len(payload) < 1+16+16 {
			continue // malformed — too short to carry the common header
		}
		f.handleFrame(uid, payload)
	}
}

func (f *FallbackServer) authenticate(r *bufio.Reader, conn net.Conn) (subject string, ok bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	payload, err := ReadFrame(r, f.maxFrameBytes)
	if err != nil {
		return "", false
	}
	bearer, ok := parseAuthFrame(payload)
	if !ok {
		_ = WriteFrame(conn, authFail)
		return "", false
	}
	claims, err := authbearer.Verify(f.issuerPub, authbearer.Bearer(bearer), time.Now())
	if err != nil {
		_ = WriteFrame(conn, authFail)
		return "", false
	}
	if err := WriteFrame(conn, authOK); err != nil {
		return "", false
	}
	return claims.Subject, true
}

func (f *FallbackServer) register(uid [16]byte, conn net.Conn) {
	f.mu.Lock()
	f.peers[uid] = conn
	f.mu.Unlock()
}

func (f *FallbackServer) unregister(uid [16]byte) {
	f.mu.Lock()
	delete(f.peers, uid)
	f.mu.Unlock()
}

func (f *FallbackServer) peerConn(uid [16]byte) (net.Conn, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.peers[uid]
	return c, ok
}

// handleFrame persists chunk frames to the spool and ledger, then forwards
// every frame type to its addressed peer if connected — swapping the
// target_or_sender_uid field for the authenticated sender's own uid so the
// recipient learns who actually sent it, per §6.
func (f *FallbackServer) handleFrame(senderUID [16]byte, payload []byte) {
	frameType := payload[0]
	var transferID [16]byte
	copy(transferID[:], payload[17:33])

	switch frameType {
	case FrameTypeChunk:
		f.handleChunk(transferID, payload)
	case FrameTypeAck, FrameTypeDone, FrameTypeCancel:
		// no spooling for control frames — only chunk bytes are persisted
	default:
		return
	}

	var target [16]byte
	copy(target[:], payload[1:17])
	copy(payload[1:17], senderUID[:])
	if peer, ok := f.peerConn(target); ok {
		_ = WriteFrame(peer, payload)
	}
}

// handleCreateTransfer registers the pass-1 hash manifest a chunkio client
// sends between its two passes: the whole-file hash and one SHA-256 per
// chunk, so pass 2's chunk frames land against known-good rows instead of
// the relay trusting whatever arrives on the wire.
func (f *FallbackServer) handleCreateTransfer(uploader [16]byte, payload []byte) {
	const headerLen = 1 + 16 + 8 + 4 + 4 + 32
	if len(payload) < headerLen || f.store == nil {
		return
	}

	var transferID [16]byte
	copy(transferID[:], payload[1:17])
	fileSize := int64(binary.BigEndian.Uint64(payload[17:25]))
	chunkSize := int64(binary.BigEndian.Uint32(payload[25:29]))
	chunkCount := int64(binary.BigEndian.Uint32(payload[29:33]))
	var fileHash [32]byte
	copy(fileHash[:], payload[33:65])

	wantLen := headerLen + int(chunkCount)*32
	if int64(len(payload)) != int64(wantLen) {
		return
	}

	chunks := make([]store.Chunk, chunkCount)
	offset := int64(0)
	for i := int64(0); i < chunkCount; i++ {
		length := chunkSize
		if offset+length > fileSize {
			length = fileSize - offset
		}
		var h [32]byte
		copy(h[:], payload[headerLen+int(i)*32:headerLen+int(i+1)*32])
		chunks[i] = store.Chunk{
			TransferID: fmt.Sprintf("%x", transferID),
			ChunkIndex: i,
			SHA256:     h,
			ByteOffset: offset,
			ByteLength: length,
		}
		offset += length
	}

	now := time.Now()
	t := store.Transfer{
		ID:         fmt.Sprintf("%x", transferID),
		UploaderID: fmt.Sprintf("%x", uploader),
		FileSize:   fileSize,
		ChunkSize:  chunkSize,
		ChunkCount: chunkCount,
		FileSHA256: fileHash,
		Status:     store.StatusReceiving,
		CreatedAt:  now,
		ExpiresAt:  now.Add(transferTTL),
	}
	if err := f.store.CreateTransfer(t, chunks); err != nil {
		f.log.Warn().Err(err).Msg("relay: fallback create-transfer failed")
	}
}

func (f *FallbackServer) handleChunk(transferID [16]byte, payload []byte) {
	if len(payload) < 1+16+16+4 || f.cas == nil || f.store == nil {
		return
	}
	chunkIndex := int64(binary.BigEndian.Uint32(payload[33:37]))
	chunkBytes := payload[37:]

	if _, err := f.cas.Put(chunkBytes); err != nil {
		f.log.Warn().Err(err).Msg("relay: fallback spool put failed")
		return
	}
	if err := f.store.MarkChunkReceived(fmt.Sprintf("%x", transferID), chunkIndex, int64(len(chunkBytes))); err != nil {
		f.log.Debug().Err(err).Msg("relay: fallback ledger update failed")
	}
}

// ReadFrame reads one len_u32_BE-prefixed frame from r, the outer framing
// shared by every §6 fallback frame regardless of its inner type. Exported
// so a chunkio client speaks the identical wire format as this server.
func ReadFrame(r *bufio.Reader, maxFrameBytes int) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if int(length) > maxFrameBytes {
		return nil, fmt.Errorf("relay: frame of %d bytes exceeds max %d", length, maxFrameBytes)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes payload as one len_u32_BE-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// EncodeAuthFrame builds the auth frame payload a fallback client sends
// immediately after connecting: the auth marker followed by a
// len_u16_BE-prefixed bearer token.
func EncodeAuthFrame(bearer []byte) []byte {
	payload := make([]byte, 0, 3+len(bearer))
	payload = append(payload, authMarker)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(bearer)))
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, bearer...)
	return payload
}

// IsAuthOK reports whether a server's reply to an auth frame was authOK
// rather than authFail.
func IsAuthOK(reply []byte) bool {
	return len(reply) == len(authOK) && string(reply) == string(authOK)
}

// EncodeCreateTransferFrame builds the FrameTypeCreateTransfer payload a
// chunkio client sends once pass 1 has produced its hash manifest: type
// byte, transfer id, file size, chunk size, chunk count, whole-file hash,
// then one SHA-256 per chunk in index order.
func EncodeCreateTransferFrame(transferID [16]byte, fileSize, chunkSize int64, fileHash [32]byte, chunkHashes [][32]byte) []byte {
	headerLen := 1 + 16 + 8 + 4 + 4 + 32
	payload := make([]byte, headerLen+len(chunkHashes)*32)
	payload[0] = FrameTypeCreateTransfer
	copy(payload[1:17], transferID[:])
	binary.BigEndian.PutUint64(payload[17:25], uint64(fileSize))
	binary.BigEndian.PutUint32(payload[25:29], uint32(chunkSize))
	binary.BigEndian.PutUint32(payload[29:33], uint32(len(chunkHashes)))
	copy(payload[33:65], fileHash[:])
	for i, h := range chunkHashes {
		copy(payload[headerLen+i*32:headerLen+(i+1)*32], h[:])
	}
	return payload
}

// EncodeChunkFrame builds a FrameTypeChunk payload: type byte, the
// recipient's uid, the transfer id, the big-endian chunk index, then the
// chunk's raw (encrypted) bytes — the layout handleChunk and handleFrame
// above both expect.
func EncodeChunkFrame(target, transferID [16]byte, chunkIndex uint32, data []byte) []byte {
	payload := make([]byte, 1+16+16+4+len(data))
	payload[0] = FrameTypeChunk
	copy(payload[1:17], target[:])
	copy(payload[17:33], transferID[:])
	binary.BigEndian.PutUint32(payload[33:37], chunkIndex)
	copy(payload[37:], data)
	return payload
}
