package core

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// maxPacketLen is large enough for any IP datagram.
const maxPacketLen = 65536

var (
	// ErrTimeout is returned by ReceiveWithin when the deadline passes without data.
	ErrTimeout = errors.New("receive deadline exceeded")

	// ErrPermission is returned when the process may not open raw sockets.
	ErrPermission = errors.New("insufficient privileges to open a raw ICMP socket")
)

// Packet is a datagram read from the transport.
type Packet struct {
	Data       []byte    // ICMP message; the ipv4 packet conn has already removed the IP header
	Src        net.IP    // source address
	Dst        net.IP    // local destination address, nil when unknown
	TTL        int       // ttl or hop limit, 0 when unknown
	ReceivedAt time.Time // when the read returned
}

// Transport sends and receives raw ICMP datagrams for a single address family.
type Transport interface {
	// Send writes b to dst.
	Send(b []byte, dst net.Addr) error

	// ReceiveWithin blocks until a datagram arrives or deadline passes, in which
	// case it returns ErrTimeout.
	ReceiveWithin(deadline time.Time) (*Packet, error)

	// LocalPseudoHeader returns the ICMPv6 pseudo-header for a message sent to
	// dst, or nil when it does not apply or cannot be determined.
	LocalPseudoHeader(dst net.IP) []byte

	Close() error
}

// RawTransport is a Transport backed by a privileged raw ICMP socket.
type RawTransport struct {
	conn   *icmp.PacketConn
	family Family
	logger *log.Entry
	buf    []byte
}

// network returns the raw ICMP network name of the family.
func network(family Family) string {
	if family == FamilyIPv6 {
		return icmpv6PrivilegedNetwork
	}
	return icmpPrivilegedNetwork
}

// NewRawTransport opens a raw ICMP socket for family and applies ttl as the
// unicast TTL or hop limit of every datagram it sends.
func NewRawTransport(family Family, ttl int, logger *log.Entry) (*RawTransport, error) {
	if family != FamilyIPv4 && family != FamilyIPv6 {
		return nil, fmt.Errorf("unsupported address family %s", family)
	}

	logger.Infof("Starting to listen to packets in network %s", network(family))
	conn, err := icmp.ListenPacket(network(family), "")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrPermission, err)
		}
		return nil, fmt.Errorf("could not listen to ICMP packets: %w", err)
	}
	logger.Debug("Connection successfully created")

	if family == FamilyIPv4 {
		logger.Debugf("Setting TTL to %d and control message to receive TTL and destination", ttl)
		if err := conn.IPv4PacketConn().SetTTL(ttl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("could not set TTL in connection: %w", err)
		}
		if err := conn.IPv4PacketConn().SetControlMessage(ipv4.FlagTTL|ipv4.FlagDst, true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("could not set control message in connection: %w", err)
		}
	} else {
		logger.Debugf("Setting hop limit to %d and control message to receive hop limit and destination", ttl)
		if err := conn.IPv6PacketConn().SetHopLimit(ttl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("could not set hop limit in connection: %w", err)
		}
		if err := conn.IPv6PacketConn().SetControlMessage(ipv6.FlagHopLimit|ipv6.FlagDst, true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("could not set control message in connection: %w", err)
		}
	}

	logger.Debug("Connection to listen to packets successfully created and configured")

	return &RawTransport{
		conn:   conn,
		family: family,
		logger: logger,
		buf:    make([]byte, maxPacketLen),
	}, nil
}

// Send writes b to dst.
func (t *RawTransport) Send(b []byte, dst net.Addr) error {
	t.logger.Tracef("Writing ICMP message %x to address %s", b, dst)
	if _, err := t.conn.WriteTo(b, dst); err != nil {
		return fmt.Errorf("error while sending echo request: %w", err)
	}
	return nil
}

// ReceiveWithin reads the next datagram, waiting at most until deadline.
func (t *RawTransport) ReceiveWithin(deadline time.Time) (*Packet, error) {
	if !time.Now().Before(deadline) {
		return nil, ErrTimeout
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("error while setting read deadline: %w", err)
	}

	pkt, err := t.readFrom()
	if err != nil {
		var neterr net.Error
		if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &neterr) && neterr.Timeout()) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("error while reading from connection: %w", err)
	}

	t.logger.Tracef("Raw packet received from %s with ttl %d: %x", pkt.Src, pkt.TTL, pkt.Data)
	return pkt, nil
}

// readFrom reads one datagram and gathers the control message info relevant to us.
func (t *RawTransport) readFrom() (*Packet, error) {
	var (
		n    int
		peer net.Addr
		err  error
		pkt  = &Packet{}
	)

	if t.family == FamilyIPv4 {
		var cm *ipv4.ControlMessage
		n, cm, peer, err = t.conn.IPv4PacketConn().ReadFrom(t.buf)
		if cm != nil {
			pkt.TTL = cm.TTL
			pkt.Dst = cm.Dst
		}
	} else {
		var cm *ipv6.ControlMessage
		n, cm, peer, err = t.conn.IPv6PacketConn().ReadFrom(t.buf)
		if cm != nil {
			pkt.TTL = cm.HopLimit
			pkt.Dst = cm.Dst
		}
	}
	pkt.ReceivedAt = time.Now()
	if err != nil {
		return nil, err
	}

	pkt.Data = make([]byte, n)
	copy(pkt.Data, t.buf[:n])

	switch addr := peer.(type) {
	case *net.IPAddr:
		pkt.Src = addr.IP
	case *net.UDPAddr:
		pkt.Src = addr.IP
	}

	return pkt, nil
}

// LocalPseudoHeader returns the ICMPv6 pseudo-header for dst, using the source
// address the routing table picks for it.
func (t *RawTransport) LocalPseudoHeader(dst net.IP) []byte {
	if t.family != FamilyIPv6 {
		return nil
	}
	src, err := localAddrFor(dst)
	if err != nil {
		t.logger.Debugf("Could not determine source address for %s, leaving checksum to the kernel: %s", dst, err)
		return nil
	}
	return icmp.IPv6PseudoHeader(src, dst)
}

// Close closes the underlying socket.
func (t *RawTransport) Close() error {
	return t.conn.Close()
}

// localAddrFor asks the kernel which local address would be used to reach dst.
// Connecting a UDP socket performs the route lookup without sending anything.
func localAddrFor(dst net.IP) (net.IP, error) {
	conn, err := net.DialUDP("udp6", nil, &net.UDPAddr{IP: dst, Port: 9})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP, nil
}

// receivePseudoHeader builds the pseudo-header covering an inbound ICMPv6 message.
func receivePseudoHeader(family Family, pkt *Packet) []byte {
	if family != FamilyIPv6 || pkt.Src == nil || pkt.Dst == nil {
		return nil
	}
	return icmp.IPv6PseudoHeader(pkt.Src, pkt.Dst)
}
