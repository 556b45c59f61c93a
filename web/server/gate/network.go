package gate

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"

	"go4.org/netipx"
)

// Network allows requests whose remote address is in a set of trusted
// networks.
type Network struct {
	trusted *netipx.IPSet
}

var _ Gate = &Network{}

// NewNetwork returns a new Network gate trusting the given IP addresses, CIDR
// prefixes or ranges.
func NewNetwork(networks ...string) (*Network, error) {
	if len(networks) == 0 {
		return nil, errors.New("at least one trusted network is required")
	}

	set, err := ParseToIPSet(networks...)
	if err != nil {
		return nil, err
	}

	return &Network{trusted: set}, nil
}

// Check implements the Gate interface.
func (g *Network) Check(r *http.Request) Decision {
	addr, err := remoteAddr(r.RemoteAddr)
	if err != nil {
		return Deny(fmt.Sprintf("invalid remote address '%s'", r.RemoteAddr))
	}

	if !g.trusted.Contains(addr) {
		return Deny(fmt.Sprintf("remote address %s is not in a trusted network", addr))
	}

	return Allow()
}

func remoteAddr(raw string) (netip.Addr, error) {
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), nil
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, err //nolint:wrapcheck // Only used for the check result.
	}

	return addr.Unmap(), nil
}

// ParseToIPSet parses one or more IP address strings in plain, CIDR or range
// notation, and returns an IP set containing IP ranges.
func ParseToIPSet(ipAddr ...string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, ip := range ipAddr {
		// Try a plain address first
		addr, err := netip.ParseAddr(ip)
		if err == nil {
			b.Add(addr.Unmap())
			continue
		}
		// Try a prefix (CIDR) next
		cidr, err := netip.ParsePrefix(ip)
		if err == nil {
			b.AddPrefix(cidr.Masked())
			continue
		}
		// Finally try a range
		ipRange, err := netipx.ParseIPRange(ip)
		if err != nil {
			return nil, fmt.Errorf("failed parsing trusted network '%s': %w", ip, err)
		}
		b.AddRange(ipRange)
	}

	ipSet, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("failed building IP set: %w", err)
	}

	return ipSet, nil
}
