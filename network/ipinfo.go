package network

import (
	"net"
	"net/netip"

	"github.com/go-errors/errors"
)

// IPInfoFromPrefix derives the static addressing of the access point from
// its subnet: the gateway and interface address are the first usable host.
func IPInfoFromPrefix(prefix netip.Prefix) (IPInfo, error) {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return IPInfo{}, errors.Errorf("access point subnet %v is not an IPv4 prefix", prefix)
	}

	if prefix.Bits() > 30 {
		return IPInfo{}, errors.Errorf("access point subnet %v is too small", prefix)
	}

	prefix = prefix.Masked()
	gateway := prefix.Addr().Next()

	return IPInfo{
		IP:      gateway,
		Gateway: gateway,
		Netmask: net.CIDRMask(prefix.Bits(), 32),
		Prefix:  prefix,
	}, nil
}

// DHCPRange returns the first and the last address handed out to peers.
func (i IPInfo) DHCPRange() (netip.Addr, netip.Addr) {
	first := i.Gateway.Next()

	last := i.Prefix.Addr().As4()
	hostBits := 32 - i.Prefix.Bits()
	for b := 0; b < hostBits; b++ {
		last[3-b/8] |= 1 << (b % 8)
	}
	broadcast := netip.AddrFrom4(last)

	return first, broadcast.Prev()
}
