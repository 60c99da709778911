package sender

import (
	"errors"
	"net"
	"syscall"
)

// isTransientSendError reports whether err is a transient send-buffer
// exhaustion condition (EWOULDBLOCK/ENOBUFS and the Windows WSAENOBUFS
// equivalent) that the Blaster should retry rather than treat as fatal.
func isTransientSendError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		err = opErr.Err
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.ENOBUFS || errno == syscall.EAGAIN || errno == syscall.EWOULDBLOCK
}
