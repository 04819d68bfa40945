package cmd

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikaelmello/ringo/core"
	log "github.com/sirupsen/logrus"
)

// result is what a finished session run produced
type result struct {
	snap core.Snapshot
	err  error
}

// Runner is the struct that is responsible for running the program
type Runner struct {
	session *core.Session
	printer *printer
	logger  *log.Logger
	cancel  context.CancelFunc
	sigch   chan os.Signal
	quitch  chan os.Signal
	endch   chan result
}

// newRunner creates a runner with the initialized values
func newRunner(host string, addr *net.IPAddr, settings *core.Settings, out io.Writer, flood bool) (*Runner, error) {
	session, err := core.NewSession(addr, settings)
	if err != nil {
		return nil, err
	}

	p := newPrinter(out, host)
	if flood {
		p.registerFlood(session)
	} else {
		p.register(session)
	}

	return &Runner{
		session: session,
		printer: p,
		logger:  core.NewLogger(settings.LoggingLevel),
		sigch:   make(chan os.Signal, 1),
		quitch:  make(chan os.Signal, 1),
		endch:   make(chan result, 1),
	}, nil
}

// Start starts the runner
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.handleSignals(ctx)

	go func() {
		snap, err := r.session.Run(ctx)
		r.endch <- result{snap: snap, err: err}
	}()
}

// RequestStop requests the stop of the session
func (r *Runner) RequestStop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Wait blocks the caller until the runner finishes
func (r *Runner) Wait() (core.Snapshot, error) {
	res := <-r.endch
	signal.Stop(r.sigch)
	signal.Stop(r.quitch)
	r.RequestStop()
	return res.snap, res.err
}

// handleSignals cancels the session on SIGINT or SIGTERM and prints the
// statistics so far on SIGQUIT.
func (r *Runner) handleSignals(ctx context.Context) {
	signal.Notify(r.sigch, os.Interrupt, syscall.SIGTERM)
	signal.Notify(r.quitch, syscall.SIGQUIT)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.sigch:
				r.logger.Debug("Interrupt received, stopping the session")
				r.RequestStop()
			case <-r.quitch:
				r.printer.interim(r.session.Stats.Snapshot())
			}
		}
	}()
}
