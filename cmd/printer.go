package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mikaelmello/ringo/core"
)

// printer writes the human readable output of a session
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	host string
}

func newPrinter(out io.Writer, host string) *printer {
	return &printer{out: out, host: host}
}

// register registers its callbacks to be called by the session
func (p *printer) register(s *core.Session) {
	s.AddOnStart(p.printOnStart)
	s.AddOnProbe(p.printOnProbe)
	s.AddOnFinish(p.printOnEnd)
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, format, args...)
}

// ipHeaderLen is the length of the IP header in front of the echo request
func ipHeaderLen(family core.Family) int {
	if family == core.FamilyIPv6 {
		return 40
	}
	return 20
}

func (p *printer) printOnStart(s *core.Session) {
	size := s.PayloadSize()
	p.printf("PING %s (%s) %d(%d) bytes of data.\n",
		p.host, s.Address(), size, size+8+ipHeaderLen(s.Family()))
}

func (p *printer) printOnProbe(s *core.Session, probe *core.Probe) {
	switch probe.Status {
	case core.Succeeded:
		line := fmt.Sprintf("%d bytes from %s: icmp_seq=%d", probe.Len, probe.Src, probe.Seq)
		if probe.TTL > 0 {
			line += fmt.Sprintf(" ttl=%d", probe.TTL)
		}
		line += fmt.Sprintf(" time=%s", formatMs(probe.RTT))
		if !probe.PayloadIntact {
			line += " (payload corrupted)"
		}
		p.printf("%s\n", line)
	case core.TimedOut:
		p.printf("Request timeout for icmp_seq=%d\n", probe.Seq)
	case core.SendFailed:
		p.printf("Send failure for icmp_seq=%d: %s\n", probe.Seq, probe.Err)
	}
}

func (p *printer) printOnEnd(s *core.Session, snap core.Snapshot) {
	p.summary(s.Address().String(), snap)
}

func (p *printer) summary(addr string, snap core.Snapshot) {
	p.printf("\n--- %s (%s) ping statistics ---\n", p.host, addr)
	line := fmt.Sprintf("%s packets transmitted, %s received",
		humanize.Comma(int64(snap.Transmitted)), humanize.Comma(int64(snap.Received)))
	if snap.Corrupted > 0 {
		line += fmt.Sprintf(", %s corrupted", humanize.Comma(int64(snap.Corrupted)))
	}
	if snap.SendFailed > 0 {
		line += fmt.Sprintf(", %s send errors", humanize.Comma(int64(snap.SendFailed)))
	}
	line += fmt.Sprintf(", %.0f%% packet loss, time %s", snap.LossPercent, snap.Elapsed().Truncate(time.Millisecond))
	p.printf("%s\n", line)

	if snap.RTT != nil {
		p.printf("rtt min/avg/max/mdev = %.3f/%.3f/%.3f/%.3f ms\n",
			ms(snap.RTT.Min), ms(snap.RTT.Avg), ms(snap.RTT.Max), ms(snap.RTT.MDev))
	}
}

// interim prints a one line view of the statistics without ending the session
func (p *printer) interim(snap core.Snapshot) {
	line := fmt.Sprintf("%d/%d packets, %.0f%% loss", snap.Received, snap.Transmitted, snap.LossPercent)
	if snap.RTT != nil {
		line += fmt.Sprintf(", min/avg/max/mdev = %.3f/%.3f/%.3f/%.3f ms",
			ms(snap.RTT.Min), ms(snap.RTT.Avg), ms(snap.RTT.Max), ms(snap.RTT.MDev))
	}
	p.printf("%s\n", line)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func formatMs(d time.Duration) string {
	return fmt.Sprintf("%.3f ms", ms(d))
}
