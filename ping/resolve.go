package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrResolve is returned when a target host cannot be turned into an address.
var ErrResolve = errors.New("could not resolve hostname")

// Resolve returns the first address of host. IP literals are accepted as is,
// IPv4-mapped IPv6 addresses are unmapped.
func Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if len(host) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: empty host", ErrResolve)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %v", ErrResolve, host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrResolve, host)
	}
	return addrs[0].Unmap(), nil
}
