package core

import (
	"math"
	"sync"
	"time"
)

// Statistics aggregates the outcomes of the probes of a session.
type Statistics interface {
	SessionStarted()
	SessionEnded()

	// Record adds a resolved probe to the running totals.
	Record(p *Probe)

	// Snapshot returns the current totals without modifying them.
	Snapshot() Snapshot
}

// RTTSummary describes the round trip times of the received replies.
type RTTSummary struct {
	Min    time.Duration
	Avg    time.Duration
	Max    time.Duration
	MDev   time.Duration // mean absolute deviation from the running average
	StdDev time.Duration
}

// Snapshot is a point in time view of a session's statistics.
type Snapshot struct {
	Transmitted uint64
	Received    uint64
	TimedOut    uint64
	SendFailed  uint64
	Corrupted   uint64 // received, but the echoed payload differed from the one sent

	// LossPercent is (Transmitted-Received)/Transmitted*100, 0 when nothing was transmitted.
	LossPercent float64

	// RTT is nil when nothing was received.
	RTT *RTTSummary

	Start time.Time
	End   time.Time
}

// Elapsed is the duration of the session so far, or in total once it ended.
func (s Snapshot) Elapsed() time.Duration {
	if s.Start.IsZero() {
		return 0
	}
	if s.End.IsZero() {
		return time.Since(s.Start)
	}
	return s.End.Sub(s.Start)
}

// statistics keeps O(1) state regardless of how many probes are recorded.
type statistics struct {
	mu sync.RWMutex

	transmitted uint64
	received    uint64
	timedOut    uint64
	sendFailed  uint64
	corrupted   uint64

	rttMin time.Duration
	rttMax time.Duration

	// mean and m2 follow Welford's online algorithm, in nanoseconds.
	mean float64
	m2   float64

	// mdevSum accumulates |rtt - running mean| of every received reply.
	mdevSum float64

	stTime  time.Time
	endTime time.Time
}

// NewStatistics creates an empty Statistics.
func NewStatistics() Statistics {
	return &statistics{}
}

func (s *statistics) SessionStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stTime = time.Now()
}

func (s *statistics) SessionEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endTime = time.Now()
}

func (s *statistics) Record(p *Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transmitted++

	switch p.Status {
	case TimedOut:
		s.timedOut++
		return
	case SendFailed:
		s.sendFailed++
		return
	case Succeeded:
	default:
		return
	}

	s.received++
	if !p.PayloadIntact {
		s.corrupted++
	}

	rtt := p.RTT
	if s.received == 1 || rtt < s.rttMin {
		s.rttMin = rtt
	}
	if s.received == 1 || rtt > s.rttMax {
		s.rttMax = rtt
	}

	x := float64(rtt)
	delta := x - s.mean
	s.mean += delta / float64(s.received)
	s.m2 += delta * (x - s.mean)
	s.mdevSum += math.Abs(x - s.mean)
}

func (s *statistics) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Transmitted: s.transmitted,
		Received:    s.received,
		TimedOut:    s.timedOut,
		SendFailed:  s.sendFailed,
		Corrupted:   s.corrupted,
		Start:       s.stTime,
		End:         s.endTime,
	}

	if s.transmitted > 0 {
		snap.LossPercent = float64(s.transmitted-s.received) / float64(s.transmitted) * 100
	}

	if s.received == 0 {
		return snap
	}

	n := float64(s.received)
	avg := time.Duration(math.Round(s.mean))
	// float rounding must never push the average outside the observed range
	if avg < s.rttMin {
		avg = s.rttMin
	}
	if avg > s.rttMax {
		avg = s.rttMax
	}

	snap.RTT = &RTTSummary{
		Min:    s.rttMin,
		Avg:    avg,
		Max:    s.rttMax,
		MDev:   time.Duration(math.Round(s.mdevSum / n)),
		StdDev: time.Duration(math.Round(math.Sqrt(s.m2 / n))),
	}
	return snap
}
