package receiver

import (
	"errors"
	"net"
	"syscall"
)

// isBenignConnReset reports whether err is the Windows "connection reset"
// (ICMP port-unreachable surfaced on a connectionless socket) that a UDP
// read loop must treat as benign and continue past, per §4.7's recv-loop
// policy — applied here too since the Vacuum runs the same kind of loop.
func isBenignConnReset(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		err = opErr.Err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ECONNRESET
	}
	return false
}
