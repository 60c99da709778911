package chunkio

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/havenlink/transfercore/internal/relay"
)

const dialTimeout = 10 * time.Second

// Client speaks the §6 TCP fallback protocol as the uploading peer: one
// auth handshake, then a CreateTransfer registration followed by any
// number of chunk PUTs, all multiplexed over the same connection the way
// the relay's FallbackServer expects a single authenticated peer to
// behave.
type Client struct {
	conn     net.Conn
	r        *bufio.Reader
	maxFrame int

	// writeMu serializes frame writes: WriteFrame issues two separate
	// Write calls (length prefix, then payload), so concurrent PutChunk
	// callers sharing one connection must not interleave them.
	writeMu sync.Mutex
}

// Dial opens a TCP connection to the fallback relay at addr and completes
// the auth handshake with bearer.
func Dial(addr string, bearer []byte, maxFrameBytes int) (*Client, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = relay.DefaultMaxFrameBytes
	}
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("chunkio: dial fallback relay: %w", err)
	}

	c := &Client{conn: conn, r: bufio.NewReaderSize(conn, 64<<10), maxFrame: maxFrameBytes}

	if err := relay.WriteFrame(conn, relay.EncodeAuthFrame(bearer)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("chunkio: send auth frame: %w", err)
	}
	reply, err := relay.ReadFrame(c.r, maxFrameBytes)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("chunkio: read auth reply: %w", err)
	}
	if !relay.IsAuthOK(reply) {
		conn.Close()
		return nil, fmt.Errorf("chunkio: relay rejected auth")
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// CreateTransfer registers the pass-1 manifest with the relay's ledger
// ahead of any chunk PUT.
func (c *Client) CreateTransfer(transferID [16]byte, m Manifest) error {
	frame := relay.EncodeCreateTransferFrame(transferID, m.FileSize, m.ChunkSize, m.FileHash, m.ChunkHashes)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return relay.WriteFrame(c.conn, frame)
}

// PutChunk streams one pass-2 sealed chunk, addressed to recipient so the
// relay can forward it immediately if that peer is connected, or hold it
// in the CAS spool for later pickup.
func (c *Client) PutChunk(recipient, transferID [16]byte, chunkIndex uint32, sealed []byte) error {
	frame := relay.EncodeChunkFrame(recipient, transferID, chunkIndex, sealed)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return relay.WriteFrame(c.conn, frame)
}
