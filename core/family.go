package core

import (
	"fmt"
	"net"
	"strings"
)

// Family is the address family of a session.
type Family int

const (
	// FamilyAny lets the target address decide the family.
	FamilyAny Family = iota
	// FamilyIPv4 restricts the session to IPv4.
	FamilyIPv4
	// FamilyIPv6 restricts the session to IPv6.
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "any"
	}
}

// UnmarshalText parses the names accepted in settings files.
func (f *Family) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "any":
		*f = FamilyAny
	case "4", "ipv4", "ip4", "inet":
		*f = FamilyIPv4
	case "6", "ipv6", "ip6", "inet6":
		*f = FamilyIPv6
	default:
		return fmt.Errorf("unknown address family %q", string(text))
	}
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// familyOf returns the family an address belongs to.
func familyOf(ip net.IP) Family {
	if isIPv4(ip) {
		return FamilyIPv4
	}
	if isIPv6(ip) {
		return FamilyIPv6
	}
	return FamilyAny
}

// protocol returns the IANA protocol number of ICMP for the family.
func (f Family) protocol() int {
	if f == FamilyIPv6 {
		return icmpv6Protocol
	}
	return icmpProtocol
}
