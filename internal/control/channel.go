package control

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

// quicConfig tunes the control connection's keepalive to match §5's
// heartbeat requirement: ping every 15s, drop after two missed pongs
// (~30s). quic-go's own PING/idle-timeout machinery implements this
// natively, so the channel itself carries no separate heartbeat envelope.
var quicConfig = &quic.Config{
	KeepAlivePeriod:                15 * time.Second,
	MaxIdleTimeout:                 30 * time.Second,
	InitialStreamReceiveWindow:     4 << 20,
	InitialConnectionReceiveWindow: 16 << 20,
}

// Channel is the OFFER/OFFER_ACK/NACK/ACK/READY/DONE envelope stream,
// carried over a single QUIC stream per transfer.
type Channel struct {
	rw   io.ReadWriter
	conn *quic.Conn
}

// NewChannel wraps an already-open stream.
func NewChannel(rw io.ReadWriter) *Channel {
	return &Channel{rw: rw}
}

// Dial opens a QUIC connection to addr and its first stream as the control
// channel.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (*Channel, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "control stream open failed")
		return nil, err
	}
	return &Channel{rw: stream, conn: conn}, nil
}

// Listener accepts control connections.
type Listener struct {
	ln *quic.Listener
}

// Listen starts a QUIC listener for control connections.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

// Accept waits for the next control connection and returns its first
// stream as a Channel.
func (l *Listener) Accept(ctx context.Context) (*Channel, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "control stream accept failed")
		return nil, err
	}
	return &Channel{rw: stream, conn: conn}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Close closes the listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Close tears down the underlying QUIC connection, if this channel owns one.
func (c *Channel) Close() error {
	if c.conn != nil {
		return c.conn.CloseWithError(0, "control channel closed")
	}
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// SendOffer emits an OFFER. Callers must only call this after per-chunk
// hashes and the whole-file hash are final.
func (c *Channel) SendOffer(o Offer) error { return writeEnvelope(c.rw, TypeOffer, o) }

// SendReady emits READY, carrying the bound blast-mode UDP port.
func (c *Channel) SendReady(r Ready) error { return writeEnvelope(c.rw, TypeReady, r) }

// SendDone emits DONE once every chunk has been ACKed.
func (c *Channel) SendDone() error { return writeEnvelope(c.rw, TypeDone, Done{}) }

// SendOfferAck emits OFFER_ACK (receiver side).
func (c *Channel) SendOfferAck(a OfferAck) error { return writeEnvelope(c.rw, TypeOfferAck, a) }

// SendNack emits a NACK for missing frames of one chunk (receiver side).
func (c *Channel) SendNack(n Nack) error { return writeEnvelope(c.rw, TypeNack, n) }

// SendAck emits an ACK for one fully assembled, hash-verified chunk
// (receiver side).
func (c *Channel) SendAck(a Ack) error { return writeEnvelope(c.rw, TypeAck, a) }

// Envelope is the decoded result of ReceiveAny: exactly one of its fields
// is populated, matching Type.
type Envelope struct {
	Type     Type
	Offer    Offer
	OfferAck OfferAck
	Nack     Nack
	Ack      Ack
	Ready    Ready
	Done     Done
}

// ReceiveAny reads and decodes the next envelope of any type, for a control
// reader goroutine that dispatches on the result.
func (c *Channel) ReceiveAny() (Envelope, error) {
	t, body, err := readEnvelope(c.rw)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	env.Type = t
	switch t {
	case TypeOffer:
		env.Offer, err = decodeAs[Offer](t, TypeOffer, body)
	case TypeOfferAck:
		env.OfferAck, err = decodeAs[OfferAck](t, TypeOfferAck, body)
	case TypeNack:
		env.Nack, err = decodeAs[Nack](t, TypeNack, body)
	case TypeAck:
		env.Ack, err = decodeAs[Ack](t, TypeAck, body)
	case TypeReady:
		env.Ready, err = decodeAs[Ready](t, TypeReady, body)
	case TypeDone:
		env.Done, err = decodeAs[Done](t, TypeDone, body)
	}
	return env, err
}

// ReceiveOfferAck blocks for the next envelope and requires it to be
// OFFER_ACK.
func (c *Channel) ReceiveOfferAck() (OfferAck, error) {
	t, body, err := readEnvelope(c.rw)
	if err != nil {
		return OfferAck{}, err
	}
	return decodeAs[OfferAck](t, TypeOfferAck, body)
}

// ReceiveOffer blocks for the next envelope and requires it to be OFFER.
func (c *Channel) ReceiveOffer() (Offer, error) {
	t, body, err := readEnvelope(c.rw)
	if err != nil {
		return Offer{}, err
	}
	return decodeAs[Offer](t, TypeOffer, body)
}

// ReceiveReady blocks for the next envelope and requires it to be READY.
func (c *Channel) ReceiveReady() (Ready, error) {
	t, body, err := readEnvelope(c.rw)
	if err != nil {
		return Ready{}, err
	}
	return decodeAs[Ready](t, TypeReady, body)
}
