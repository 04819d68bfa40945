package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/mikaelmello/ringo/core"
)

// resolve returns the address of host that fits the requested family.
// IPv4 addresses are preferred when any family is accepted.
func resolve(ctx context.Context, resolver *net.Resolver, host string, family core.Family) (*net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		if !fits(ip, family) {
			return nil, fmt.Errorf("%w: %s is not an %s address", errUsage, host, family)
		}
		return &net.IPAddr{IP: ip}, nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("could not resolve %s: %w", host, err)
	}

	var fallback *net.IPAddr
	for i := range addrs {
		addr := &addrs[i]
		if !fits(addr.IP, family) {
			continue
		}
		if addr.IP.To4() != nil {
			return addr, nil
		}
		if fallback == nil {
			fallback = addr
		}
	}

	if fallback == nil {
		return nil, fmt.Errorf("no %s address found for %s", family, host)
	}
	return fallback, nil
}

func fits(ip net.IP, family core.Family) bool {
	switch family {
	case core.FamilyIPv4:
		return ip.To4() != nil
	case core.FamilyIPv6:
		return ip.To4() == nil && len(ip) == net.IPv6len
	default:
		return true
	}
}
