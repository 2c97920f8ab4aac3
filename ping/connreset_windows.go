//go:build windows

package ping

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isConnReset reports WSAECONNRESET, which Windows returns from a UDP read
// after a previous send hit a closed port.
func isConnReset(err error) bool {
	return errors.Is(err, windows.WSAECONNRESET)
}
