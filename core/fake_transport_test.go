package core

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// queued is a packet the fake transport delivers once at has passed.
type queued struct {
	pkt *Packet
	at  time.Time
}

// fakeTransport is an in-memory Transport. Every sent request is handed to
// respond, whose packets are queued for delivery.
type fakeTransport struct {
	mu      sync.Mutex
	queue   []queued
	sent    [][]byte
	sendErr error
	recvErr error
	recvs   int
	closed  bool
	respond func(req []byte, n int) []queued
}

func newFakeTransport(respond func(req []byte, n int) []queued) *fakeTransport {
	if respond == nil {
		respond = func([]byte, int) []queued { return nil }
	}
	return &fakeTransport{respond: respond}
}

func (f *fakeTransport) Send(b []byte, dst net.Addr) error {
	f.mu.Lock()
	f.sent = append(f.sent, b)
	n := len(f.sent)
	err := f.sendErr
	f.mu.Unlock()

	if err != nil {
		return err
	}

	replies := f.respond(b, n)

	f.mu.Lock()
	f.queue = append(f.queue, replies...)
	f.mu.Unlock()
	return nil
}

// inject queues a packet for delivery after delay.
func (f *fakeTransport) inject(pkt *Packet, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queue = append(f.queue, queued{pkt: pkt, at: time.Now().Add(delay)})
}

func (f *fakeTransport) ReceiveWithin(deadline time.Time) (*Packet, error) {
	f.mu.Lock()
	f.recvs++
	recvErr := f.recvErr
	f.mu.Unlock()
	if recvErr != nil {
		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		return nil, recvErr
	}

	for {
		f.mu.Lock()
		if len(f.queue) > 0 && !f.queue[0].at.After(deadline) {
			q := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()

			time.Sleep(time.Until(q.at))
			pkt := *q.pkt
			pkt.ReceivedAt = time.Now()
			return &pkt, nil
		}
		f.mu.Unlock()

		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeTransport) LocalPseudoHeader(dst net.IP) []byte {
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *fakeTransport) receiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.recvs
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.sent)
}

// requestFields extracts identifier, sequence and payload of an encoded echo request.
func requestFields(req []byte) (id, seq uint16, payload []byte) {
	return binary.BigEndian.Uint16(req[4:6]), binary.BigEndian.Uint16(req[6:8]), req[8:]
}

// withIPv4Header prepends an IPv4 header to an ICMP message, the way raw sockets deliver it.
func withIPv4Header(icmpMsg []byte, src net.IP) []byte {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    src.To4(),
		DstIP:    net.IPv4(127, 0, 0, 1).To4(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload(icmpMsg)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// echoReply builds the wire bytes a target of family would answer with.
func echoReply(family Family, id, seq uint16, payload []byte, src net.IP) []byte {
	reply, err := Encode(EchoReply, family, id, seq, payload, nil)
	if err != nil {
		panic(err)
	}
	if family == FamilyIPv4 {
		return withIPv4Header(reply, src)
	}
	return reply
}

// echoResponder answers every request after delay, like a responsive target.
func echoResponder(family Family, src net.IP, delay time.Duration) func([]byte, int) []queued {
	return func(req []byte, n int) []queued {
		id, seq, payload := requestFields(req)
		return []queued{{
			pkt: &Packet{Data: echoReply(family, id, seq, payload, src), Src: src, TTL: 64},
			at:  time.Now().Add(delay),
		}}
	}
}
