//go:build unix

package ping

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isConnReset reports errors raised on a connected UDP socket when an ICMP
// unreachable for an earlier datagram comes back. They say nothing about the
// probe being read.
func isConnReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.ECONNREFUSED)
}
