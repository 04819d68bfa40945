package core

import (
	"net"
	"time"
)

// ProbeStatus is the state of a single echo attempt.
type ProbeStatus int

const (
	// Pending is the status of a probe that has not resolved yet
	Pending ProbeStatus = iota
	// Succeeded is the status of a probe whose echo request was replied to
	Succeeded
	// TimedOut is the status of a probe that received no matching reply in time
	TimedOut
	// SendFailed is the status of a probe whose echo request could not be sent
	SendFailed
)

func (s ProbeStatus) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed out"
	case SendFailed:
		return "send failed"
	default:
		return "pending"
	}
}

// Probe is one echo request and, when it resolves, its outcome.
type Probe struct {
	Seq    int       // logical sequence, the wire carries its lower 16 bits
	ID     uint16    // session identifier
	SentAt time.Time // when the request left the transport
	Status ProbeStatus

	RTT           time.Duration // successful-only
	PayloadIntact bool          // successful-only, echoed payload equals the one sent
	Len           int           // len of the ICMP reply
	TTL           int           // ttl or hop limit of the reply, 0 when unknown
	Src           net.IP        // src of reply
	Err           error         // send failure
}

// wireSeq returns the sequence number as carried in the ICMP header.
func (p *Probe) wireSeq() uint16 {
	return uint16(p.Seq & 0xffff)
}

// Lost reports whether the probe counts against the session's received total.
func (p *Probe) Lost() bool {
	return p.Status != Succeeded
}

func (p *Probe) succeed(rtt time.Duration, intact bool, n int, pkt *Packet) {
	if p.Status != Pending {
		return
	}
	p.Status = Succeeded
	p.RTT = rtt
	p.PayloadIntact = intact
	p.Len = n
	p.TTL = pkt.TTL
	p.Src = pkt.Src
}

func (p *Probe) timeout() {
	if p.Status != Pending {
		return
	}
	p.Status = TimedOut
}

func (p *Probe) fail(err error) {
	if p.Status != Pending {
		return
	}
	p.Status = SendFailed
	p.Err = err
}
