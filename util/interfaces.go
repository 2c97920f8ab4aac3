package util

import (
	"errors"
	"net"
	"net/netip"
)

var (
	ErrIfaceDown    = errors.New("interface is down")
	ErrIfaceNoAddrs = errors.New("interface has no addresses")
)

// BindIface returns the address probes should be sent from on the named
// interface, in the requested family. Global addresses are preferred over
// link local ones.
func BindIface(ifaceName string, ipv6 bool) (addr string, err error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return
	}
	if !IsUp(iface) {
		err = ErrIfaceDown
		return
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return
	}

	var fallback netip.Addr
	for _, a := range addrs {
		prefix, perr := netip.ParsePrefix(a.String())
		if perr != nil {
			continue
		}
		ip := prefix.Addr().Unmap()
		if ip.Is6() != ipv6 {
			continue
		}
		if ip.IsLinkLocalUnicast() { // Prefer global addresses
			if !fallback.IsValid() {
				fallback = ip
			}
			continue
		}
		return ip.String(), nil
	}

	if fallback.IsValid() {
		// Link local IPv6 is only usable with its zone.
		if fallback.Is6() {
			fallback = fallback.WithZone(iface.Name)
		}
		return fallback.String(), nil
	}
	return "", ErrIfaceNoAddrs
}

func IsIPv6(address string) bool {
	addr, err := netip.ParseAddr(address)
	return err == nil && addr.Unmap().Is6()
}

func IsUp(nif *net.Interface) bool { return nif.Flags&net.FlagUp != 0 }
