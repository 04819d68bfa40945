package core

import (
	"errors"
	"fmt"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	echoCode                = 0
	icmpProtocol            = 1
	icmpv6Protocol          = 58
	icmpHeaderLen           = 8
	ipv4MinHeaderLen        = 20
	icmpPrivilegedNetwork   = "ip4:icmp"
	icmpv6PrivilegedNetwork = "ip6:ipv6-icmp"
)

var (
	// ErrMalformedPacket is returned when a buffer cannot be an intact ICMP message.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrForeignPacket is returned for well formed ICMP messages that are not echo replies.
	ErrForeignPacket = errors.New("foreign packet")
)

// EchoKind selects which half of the echo exchange is encoded.
type EchoKind int

const (
	// EchoRequest is ICMP type 8 or ICMPv6 type 128.
	EchoRequest EchoKind = iota
	// EchoReply is ICMP type 0 or ICMPv6 type 129.
	EchoReply
)

// Echo is a decoded echo message.
type Echo struct {
	Family   Family
	Type     int
	Code     int
	Checksum uint16
	ID       uint16
	Seq      uint16
	Payload  []byte
}

// icmpType returns the ICMP type for kind in the given family.
func icmpType(kind EchoKind, family Family) icmp.Type {
	if family == FamilyIPv6 {
		if kind == EchoReply {
			return ipv6.ICMPTypeEchoReply
		}
		return ipv6.ICMPTypeEchoRequest
	}
	if kind == EchoReply {
		return ipv4.ICMPTypeEchoReply
	}
	return ipv4.ICMPTypeEcho
}

// Encode builds the wire bytes of an echo message.
//
// For IPv6 the checksum covers psh, the pseudo-header returned by
// icmp.IPv6PseudoHeader. When psh is nil the checksum field is left zero and
// the kernel fills it in, which raw ICMPv6 sockets always do.
func Encode(kind EchoKind, family Family, id, seq uint16, payload []byte, psh []byte) ([]byte, error) {
	msg := &icmp.Message{
		Type: icmpType(kind, family),
		Code: echoCode,
		Body: &icmp.Echo{
			ID:   int(id),
			Seq:  int(seq),
			Data: payload,
		},
	}

	var ph []byte
	if family == FamilyIPv6 && psh != nil {
		ph = make([]byte, len(psh))
		copy(ph, psh)
	}

	b, err := msg.Marshal(ph)
	if err != nil {
		return nil, fmt.Errorf("could not marshal ICMP message with Echo body: %w", err)
	}
	return b, nil
}

// typeNumber returns the numeric value of an ICMP type of either family.
func typeNumber(t icmp.Type) int {
	switch typ := t.(type) {
	case ipv4.ICMPType:
		return int(typ)
	case ipv6.ICMPType:
		return int(typ)
	}
	return -1
}

// stripIPv4Header returns the ICMP part of an inbound IPv4 buffer.
//
// RawTransport reads through ipv4.PacketConn, which strips the IP header, but
// Decode also accepts buffers that still carry one. A leading version nibble
// of 4 marks a header; its length is read from the IHL field. No ICMP echo
// reply starts with 0x4_, so the test is unambiguous for the messages we accept.
func stripIPv4Header(b []byte) ([]byte, error) {
	if len(b) == 0 || b[0]>>4 != ipv4.Version {
		return b, nil
	}

	hlen := int(b[0]&0x0f) << 2
	if hlen < ipv4MinHeaderLen {
		return nil, fmt.Errorf("%w: IPv4 header length %d is below the minimum of %d",
			ErrMalformedPacket, hlen, ipv4MinHeaderLen)
	}
	if len(b) < hlen {
		return nil, fmt.Errorf("%w: IPv4 header claims %d bytes but only %d were received",
			ErrMalformedPacket, hlen, len(b))
	}
	return b[hlen:], nil
}

// Decode parses an inbound buffer as an echo reply of the given family.
//
// psh is the IPv6 pseudo-header of the received message, or nil when it is
// unknown, in which case the ICMPv6 checksum is not verified here.
func Decode(b []byte, family Family, psh []byte) (*Echo, error) {
	if family == FamilyIPv4 {
		var err error
		if b, err = stripIPv4Header(b); err != nil {
			return nil, err
		}
	}

	if len(b) < icmpHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes received of min %d", ErrMalformedPacket, len(b), icmpHeaderLen)
	}

	if family != FamilyIPv6 {
		psh = nil
	}
	if (family != FamilyIPv6 || psh != nil) && !VerifyChecksum(b, psh) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformedPacket)
	}

	if int(b[0]) != typeNumber(icmpType(EchoReply, family)) || b[1] != echoCode {
		return nil, fmt.Errorf("%w: type %d code %d", ErrForeignPacket, b[0], b[1])
	}

	m, err := icmp.ParseMessage(family.protocol(), b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPacket, err)
	}

	body, ok := m.Body.(*icmp.Echo)
	if !ok {
		return nil, fmt.Errorf("%w: invalid body type: '%T'", ErrMalformedPacket, m.Body)
	}

	return &Echo{
		Family:   family,
		Type:     int(b[0]),
		Code:     int(b[1]),
		Checksum: uint16(b[2])<<8 | uint16(b[3]),
		ID:       uint16(body.ID),
		Seq:      uint16(body.Seq),
		Payload:  body.Data,
	}, nil
}
