package relay

import (
	"net"
	"time"
)

// side is one participant of a relay session.
type side struct {
	subject string
	addr    *net.UDPAddr
}

// relaySession is a pair of endpoints exchanging packets under one
// session key (§4.7). The first authenticated sender takes side_a; the
// next distinct subject takes side_b; anyone else is rejected.
type relaySession struct {
	sideA        side
	sideB        *side
	lastActivity time.Time
}

// route returns the address packets from src (subject) should be
// forwarded to, registering src as a new side if the session has room.
// ok is false if src is a rejected third party or the peer side hasn't
// joined yet.
func (s *relaySession) route(subject string, src *net.UDPAddr, now time.Time) (dest *net.UDPAddr, ok bool, joined bool) {
	s.lastActivity = now

	if s.sideA.subject == subject {
		s.sideA.addr = src // NAT rebinding
		if s.sideB == nil {
			return nil, false, false
		}
		return s.sideB.addr, true, false
	}

	if s.sideB != nil && s.sideB.subject == subject {
		s.sideB.addr = src
		return s.sideA.addr, true, false
	}

	if s.sideB == nil {
		s.sideB = &side{subject: subject, addr: src}
		return s.sideA.addr, true, true
	}

	return nil, false, false
}
