package core

import (
	"bytes"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
)

// lateReplyCapacity bounds how many resolved sequences are remembered.
const lateReplyCapacity = 1024

// Bounds of the pause between reads after a receive error.
const (
	minReceiveBackoff = time.Millisecond
	maxReceiveBackoff = 50 * time.Millisecond
)

// DiscardReason tells why an inbound packet did not resolve the probe waiting for it.
type DiscardReason string

const (
	// DiscardMalformed is a packet that is truncated or fails its checksum
	DiscardMalformed DiscardReason = "malformed"
	// DiscardForeign is an ICMP message other than an echo reply
	DiscardForeign DiscardReason = "foreign"
	// DiscardMismatch is an echo reply for another identifier or an unknown sequence
	DiscardMismatch DiscardReason = "mismatch"
	// DiscardLate is an echo reply for a sequence that already resolved
	DiscardLate DiscardReason = "late"
)

// Observer is notified of every resolved probe and of every discarded packet.
type Observer interface {
	ObserveProbe(p *Probe)
	ObserveDiscard(reason DiscardReason)
}

// Prober runs request/reply cycles against a single target.
type Prober struct {
	transport Transport
	target    *net.IPAddr
	family    Family
	id        uint16
	timeout   time.Duration
	payload   []byte
	logger    *log.Entry

	// resolved maps wire sequences of finished probes to their logical sequence,
	// so replies that arrive after their probe resolved are told apart.
	resolved *ttlcache.Cache[uint16, int]

	onDiscard func(DiscardReason)
	now       func() time.Time
}

// NewProber creates a prober that sends payload to target with the given identifier
// and waits up to timeout for each reply.
func NewProber(transport Transport, target *net.IPAddr, family Family, id uint16, timeout time.Duration,
	payload []byte, logger *log.Entry) *Prober {
	window := 10 * timeout
	if window < time.Minute {
		window = time.Minute
	}

	return &Prober{
		transport: transport,
		target:    target,
		family:    family,
		id:        id,
		timeout:   timeout,
		payload:   payload,
		logger:    logger,
		resolved: ttlcache.New[uint16, int](
			ttlcache.WithTTL[uint16, int](window),
			ttlcache.WithCapacity[uint16, int](lateReplyCapacity),
			ttlcache.WithDisableTouchOnHit[uint16, int](),
		),
		onDiscard: func(DiscardReason) {},
		now:       time.Now,
	}
}

// Probe sends one echo request with sequence seq and waits for its reply.
// It always returns a resolved probe and never blocks past the timeout.
func (p *Prober) Probe(seq int) *Probe {
	probe := &Probe{Seq: seq, ID: p.id, Status: Pending}
	defer p.resolved.Set(probe.wireSeq(), probe.Seq, ttlcache.DefaultTTL)

	msg, err := Encode(EchoRequest, p.family, p.id, probe.wireSeq(), p.payload,
		p.transport.LocalPseudoHeader(p.target.IP))
	if err != nil {
		p.logger.Errorf("Could not build echo request: %s", err)
		probe.fail(err)
		return probe
	}

	p.logger.Debugf("Making a new echo request to address %s with id %d and seq %d", p.target, p.id, probe.wireSeq())
	probe.SentAt = p.now()
	if err := p.transport.Send(msg, p.target); err != nil {
		p.logger.Errorf("Could not send echo request: %s", err)
		probe.fail(err)
		return probe
	}

	deadline := probe.SentAt.Add(p.timeout)
	backoff := minReceiveBackoff
	for probe.Status == Pending {
		pkt, err := p.transport.ReceiveWithin(deadline)
		if errors.Is(err, ErrTimeout) {
			p.logger.Debugf("No reply for seq %d within %s", probe.wireSeq(), p.timeout)
			probe.timeout()
			break
		}
		if errors.Is(err, net.ErrClosed) {
			p.logger.Errorf("Transport closed while waiting for seq %d", probe.wireSeq())
			probe.timeout()
			break
		}
		if err != nil {
			p.logger.Warnf("Receive failed while waiting for seq %d: %s", probe.wireSeq(), err)
			if !p.waitBackoff(deadline, backoff) {
				probe.timeout()
			}
			if backoff *= 2; backoff > maxReceiveBackoff {
				backoff = maxReceiveBackoff
			}
			continue
		}

		backoff = minReceiveBackoff
		p.match(probe, pkt)
	}

	return probe
}

// waitBackoff pauses for d, or until deadline if that comes first, and reports
// whether time is left to read again.
func (p *Prober) waitBackoff(deadline time.Time, d time.Duration) bool {
	left := deadline.Sub(p.now())
	if left <= 0 {
		return false
	}
	if d > left {
		d = left
	}
	time.Sleep(d)
	return p.now().Before(deadline)
}

// match resolves probe with pkt if pkt is its reply, discarding it otherwise.
func (p *Prober) match(probe *Probe, pkt *Packet) {
	echo, err := Decode(pkt.Data, p.family, receivePseudoHeader(p.family, pkt))
	if err != nil {
		if errors.Is(err, ErrForeignPacket) {
			p.logger.Tracef("Discarding packet from %s: %s", pkt.Src, err)
			p.discard(DiscardForeign)
			return
		}
		p.logger.Debugf("Discarding packet from %s: %s", pkt.Src, err)
		p.discard(DiscardMalformed)
		return
	}

	if echo.ID != p.id {
		p.logger.Tracef("Echo reply id does not match session id. Expected: %d. Actual: %d.", p.id, echo.ID)
		p.discard(DiscardMismatch)
		return
	}

	if echo.Seq != probe.wireSeq() {
		if item := p.resolved.Get(echo.Seq); item != nil {
			p.logger.Debugf("Discarding late or duplicate reply for seq %d (probe %d)", echo.Seq, item.Value())
			p.discard(DiscardLate)
			return
		}
		p.logger.Debugf("Echo reply seq does not match. Expected: %d. Actual: %d.", probe.wireSeq(), echo.Seq)
		p.discard(DiscardMismatch)
		return
	}

	rtt := pkt.ReceivedAt.Sub(probe.SentAt)
	intact := bytes.Equal(echo.Payload, p.payload)
	if !intact {
		p.logger.Warnf("Reply for seq %d carries a payload that differs from the one sent", echo.Seq)
	}
	probe.succeed(rtt, intact, icmpHeaderLen+len(echo.Payload), pkt)
}

func (p *Prober) discard(reason DiscardReason) {
	p.onDiscard(reason)
}

// buildPayload returns size bytes starting with the session token followed by
// an incrementing byte pattern, so corrupted echoes are detectable.
func buildPayload(size int, token uuid.UUID) []byte {
	payload := make([]byte, size)
	n := copy(payload, token[:])
	for i := n; i < size; i++ {
		payload[i] = byte(i)
	}
	return payload
}
