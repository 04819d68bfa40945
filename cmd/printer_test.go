package cmd

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mikaelmello/ringo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPrinterSession(t *testing.T) *core.Session {
	t.Helper()

	s, err := core.NewSession(loopback, core.DefaultSettings())
	require.NoError(t, err)
	return s
}

func TestPrintOnStart(t *testing.T) {
	out := &bytes.Buffer{}
	p := newPrinter(out, "localhost")

	p.printOnStart(newPrinterSession(t))
	assert.Equal(t, "PING localhost (127.0.0.1) 56(84) bytes of data.\n", out.String())
}

func TestPrintOnProbe(t *testing.T) {
	s := newPrinterSession(t)

	tests := []struct {
		name  string
		probe core.Probe
		want  string
	}{
		{
			name: "reply",
			probe: core.Probe{
				Seq: 1, Status: core.Succeeded, RTT: 1234 * time.Microsecond,
				PayloadIntact: true, Len: 64, TTL: 64, Src: net.IPv4(127, 0, 0, 1),
			},
			want: "64 bytes from 127.0.0.1: icmp_seq=1 ttl=64 time=1.234 ms\n",
		},
		{
			name: "reply without ttl",
			probe: core.Probe{
				Seq: 2, Status: core.Succeeded, RTT: 500 * time.Microsecond,
				PayloadIntact: true, Len: 64, Src: net.IPv4(127, 0, 0, 1),
			},
			want: "64 bytes from 127.0.0.1: icmp_seq=2 time=0.500 ms\n",
		},
		{
			name: "corrupted reply",
			probe: core.Probe{
				Seq: 3, Status: core.Succeeded, RTT: time.Millisecond,
				Len: 64, TTL: 64, Src: net.IPv4(127, 0, 0, 1),
			},
			want: "64 bytes from 127.0.0.1: icmp_seq=3 ttl=64 time=1.000 ms (payload corrupted)\n",
		},
		{
			name:  "timeout",
			probe: core.Probe{Seq: 4, Status: core.TimedOut},
			want:  "Request timeout for icmp_seq=4\n",
		},
		{
			name:  "send failure",
			probe: core.Probe{Seq: 5, Status: core.SendFailed, Err: errors.New("network is unreachable")},
			want:  "Send failure for icmp_seq=5: network is unreachable\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			p := newPrinter(out, "localhost")
			probe := tt.probe

			p.printOnProbe(s, &probe)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestPrintOnEnd(t *testing.T) {
	start := time.Date(2020, 4, 20, 10, 0, 0, 0, time.UTC)
	snap := core.Snapshot{
		Transmitted: 1500,
		Received:    1200,
		TimedOut:    300,
		LossPercent: 20,
		RTT: &core.RTTSummary{
			Min:  time.Millisecond,
			Avg:  1500 * time.Microsecond,
			Max:  2 * time.Millisecond,
			MDev: 250 * time.Microsecond,
		},
		Start: start,
		End:   start.Add(1500*time.Second + 300*time.Microsecond),
	}

	out := &bytes.Buffer{}
	p := newPrinter(out, "localhost")
	p.printOnEnd(newPrinterSession(t), snap)

	want := "\n--- localhost (127.0.0.1) ping statistics ---\n" +
		"1,500 packets transmitted, 1,200 received, 20% packet loss, time 25m0s\n" +
		"rtt min/avg/max/mdev = 1.000/1.500/2.000/0.250 ms\n"
	assert.Equal(t, want, out.String())
}

func TestPrintOnEndNoReplies(t *testing.T) {
	start := time.Date(2020, 4, 20, 10, 0, 0, 0, time.UTC)
	snap := core.Snapshot{
		Transmitted: 3,
		SendFailed:  1,
		TimedOut:    2,
		LossPercent: 100,
		Start:       start,
		End:         start.Add(3 * time.Second),
	}

	out := &bytes.Buffer{}
	p := newPrinter(out, "localhost")
	p.printOnEnd(newPrinterSession(t), snap)

	want := "\n--- localhost (127.0.0.1) ping statistics ---\n" +
		"3 packets transmitted, 0 received, 1 send errors, 100% packet loss, time 3s\n"
	assert.Equal(t, want, out.String())
}

func TestInterim(t *testing.T) {
	out := &bytes.Buffer{}
	p := newPrinter(out, "localhost")

	p.interim(core.Snapshot{Transmitted: 4, Received: 3, LossPercent: 25,
		RTT: &core.RTTSummary{Min: time.Millisecond, Avg: time.Millisecond, Max: time.Millisecond}})
	assert.Equal(t, "3/4 packets, 25% loss, min/avg/max/mdev = 1.000/1.000/1.000/0.000 ms\n", out.String())
}

func TestFloodPrinter(t *testing.T) {
	s := newPrinterSession(t)
	out := &bytes.Buffer{}
	p := newPrinter(out, "localhost")

	p.floodPrintOnProbe(s, &core.Probe{Seq: 1, Status: core.Succeeded})
	p.floodPrintOnProbe(s, &core.Probe{Seq: 2, Status: core.TimedOut})
	p.floodPrintOnProbe(s, &core.Probe{Seq: 3, Status: core.Succeeded})

	assert.Equal(t, ".\b \b..\b \b", out.String())
}
