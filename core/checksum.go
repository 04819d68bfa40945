package core

import "encoding/binary"

// sum16 adds the 16-bit big endian words of b to sum, padding an odd trailing byte with zero.
func sum16(sum uint32, b []byte) uint32 {
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	return sum
}

// fold reduces a 32-bit accumulator to 16 bits with end-around carry.
func fold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}

// Checksum returns the Internet checksum (RFC 1071) of b.
// The checksum field inside b must be zero for the result to be placed in it.
func Checksum(b []byte) uint16 {
	return ^fold(sum16(0, b))
}

// VerifyChecksum reports whether the ICMP message b carries a valid checksum.
// For ICMPv6 psh must be the pseudo-header built by icmp.IPv6PseudoHeader; its
// upper-layer length is filled in here. psh is nil for ICMPv4.
func VerifyChecksum(b []byte, psh []byte) bool {
	var sum uint32
	if psh != nil {
		ph := make([]byte, len(psh))
		copy(ph, psh)
		if len(ph) >= 2*16+4 {
			binary.BigEndian.PutUint32(ph[2*16:2*16+4], uint32(len(b)))
		}
		sum = sum16(sum, ph)
	}
	return fold(sum16(sum, b)) == 0xffff
}
