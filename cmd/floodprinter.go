package cmd

import (
	"github.com/mikaelmello/ringo/core"
)

// registerFlood registers the flood callbacks to be called by the session:
// a dot per request, erased when its reply arrives.
func (p *printer) registerFlood(s *core.Session) {
	s.AddOnStart(p.floodPrintOnStart)
	s.AddOnProbe(p.floodPrintOnProbe)
	s.AddOnFinish(p.floodPrintOnEnd)
}

func (p *printer) floodPrintOnStart(s *core.Session) {
	p.printOnStart(s)
}

// floodPrintOnProbe runs after the probe resolved, so the dot and its erasure
// are written together and only lost probes leave a dot behind.
func (p *printer) floodPrintOnProbe(s *core.Session, probe *core.Probe) {
	if probe.Status == core.Succeeded {
		p.printf(".\b \b")
		return
	}
	p.printf(".")
}

func (p *printer) floodPrintOnEnd(s *core.Session, snap core.Snapshot) {
	p.printf("\n")
	p.printOnEnd(s, snap)
}
