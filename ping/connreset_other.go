//go:build !unix && !windows

package ping

func isConnReset(err error) bool { return false }
