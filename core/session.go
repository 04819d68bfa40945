package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrSessionStart is returned by Run when the session could not begin probing.
	ErrSessionStart = errors.New("session could not start")

	// ErrAlreadyStarted is returned by Run when called more than once.
	ErrAlreadyStarted = errors.New("session has already started")
)

// SessionState is the lifecycle state of a session.
type SessionState int

const (
	// Idle is the state of a session that has not been run
	Idle SessionState = iota
	// Running is the state of a session that is sending probes
	Running
	// Completed is the state of a session that finished on its own, or failed to start
	Completed
	// Cancelled is the state of a session stopped through its context
	Cancelled
)

func (s SessionState) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// TransportFactory opens the transport a session probes through.
type TransportFactory func(family Family, ttl int, logger *log.Entry) (Transport, error)

// rawTransportFactory is the TransportFactory of sessions created by NewSession.
func rawTransportFactory(family Family, ttl int, logger *log.Entry) (Transport, error) {
	return NewRawTransport(family, ttl, logger)
}

// Session is a sequence of probes against a single target.
type Session struct {
	// Stats contain the overall statistics of the session
	Stats Statistics

	settings *Settings

	// addr is the resolved address of the target host
	addr *net.IPAddr

	// family is the address family of addr, fixed for the session lifetime
	family Family

	// id is the identifier carried by every echo request of the session.
	id uint16

	// token is carried at the head of every payload and tags the session logs.
	token uuid.UUID

	// logger is an instance of logrus used to log activities related to this session
	logger *log.Entry

	// dial opens the transport when the session runs.
	dial TransportFactory

	mu    sync.Mutex
	state SessionState

	// stHandlers are the callback functions called when the session starts.
	stHandlers []func(*Session)

	// probeHandlers are the callback functions called when a probe resolves.
	probeHandlers []func(*Session, *Probe)

	// endHandlers are the callback functions called with the final snapshot when the session ends.
	endHandlers []func(*Session, Snapshot)

	observers []Observer
}

// NewSession creates a new Session probing the already resolved target.
func NewSession(target *net.IPAddr, settings *Settings) (*Session, error) {
	logger := NewLogger(settings.LoggingLevel)

	logger.Debug("Validating settings")
	if err := settings.validate(); err != nil {
		return nil, err
	}

	if target == nil || target.IP == nil {
		return nil, fmt.Errorf("%w: no target address", ErrInvalidSettings)
	}

	family := familyOf(target.IP)
	if family == FamilyAny {
		return nil, fmt.Errorf("%w: unsupported address %s", ErrInvalidSettings, target)
	}
	if settings.Family != FamilyAny && settings.Family != family {
		return nil, fmt.Errorf("%w: target %s is not an %s address", ErrInvalidSettings, target, settings.Family)
	}
	if settings.Size > settings.maxPayload(family) {
		return nil, fmt.Errorf("%w: size %d exceeds the maximum %s payload of %d bytes",
			ErrInvalidSettings, settings.Size, family, settings.maxPayload(family))
	}

	logger.Debug("Settings configured correctly")

	r := rand.New(rand.NewSource(time.Now().UTC().UnixNano()))
	token := uuid.New()
	id := uint16(r.Intn(math.MaxUint16 + 1))

	session := &Session{
		Stats:    NewStatistics(),
		settings: settings,
		addr:     target,
		family:   family,
		id:       id,
		token:    token,
		dial:     rawTransportFactory,
		state:    Idle,
		logger: logger.WithFields(log.Fields{
			"session": token.String(),
			"target":  target.String(),
			"id":      id,
		}),
	}

	session.logger.Infof("Created session with id %d, family %s", session.id, session.family)

	return session, nil
}

// Run sends probes until the configured count is reached or ctx is done, and
// returns the final statistics. A probe already waiting for its reply is
// always allowed to resolve before the session stops.
//
// The returned error is non-nil only when the session could not start, in
// which case it wraps ErrSessionStart and no probe was sent.
func (s *Session) Run(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return s.Stats.Snapshot(), ErrAlreadyStarted
	}
	s.state = Running
	s.mu.Unlock()

	s.logger.Info("Opening transport")
	transport, err := s.dial(s.family, s.settings.TTL, s.logger)
	if err != nil {
		s.logger.Errorf("Could not open transport: %s", err)
		s.setState(Completed)
		return s.Stats.Snapshot(), fmt.Errorf("%w: %w", ErrSessionStart, err)
	}
	defer transport.Close()

	prober := NewProber(transport, s.addr, s.family, s.id, s.settings.Timeout,
		buildPayload(s.settings.Size, s.token), s.logger)
	prober.onDiscard = s.notifyDiscard

	parent := ctx
	if s.settings.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.Deadline)
		defer cancel()
	}

	s.Stats.SessionStarted()

	s.logger.Info("Calling start callbacks")
	for _, f := range s.stHandlers {
		f(s)
	}

	final := Completed
	for seq := 1; ; seq++ {
		if ctx.Err() != nil {
			final = s.stopState(parent)
			break
		}

		probe := prober.Probe(seq)
		s.Stats.Record(probe)
		s.notifyProbe(probe)

		if s.reachedRequestLimit(seq) {
			s.logger.Info("Not firing more requests as we have reached the set count")
			break
		}

		if !s.waitInterval(ctx) {
			final = s.stopState(parent)
			break
		}
	}

	s.Stats.SessionEnded()
	s.setState(final)
	snap := s.Stats.Snapshot()

	s.logger.Info("Calling ending callbacks")
	for _, f := range s.endHandlers {
		f(s, snap)
	}

	s.logger.Infof("Session %s", final)
	return snap, nil
}

// stopState tells a cancellation by the caller apart from the session deadline.
func (s *Session) stopState(parent context.Context) SessionState {
	if parent.Err() != nil {
		s.logger.Info("Session cancelled")
		return Cancelled
	}
	s.logger.Info("Deadline reached, finishing the session")
	return Completed
}

// waitInterval sleeps for the configured interval and reports whether the
// session should keep going.
func (s *Session) waitInterval(ctx context.Context) bool {
	if s.settings.Interval <= 0 {
		return ctx.Err() == nil
	}

	interval := time.NewTimer(s.settings.Interval)
	defer clearTimer(interval)

	select {
	case <-ctx.Done():
		return false
	case <-interval.C:
		return true
	}
}

// reachedRequestLimit whether we have reached the request limit of this session.
func (s *Session) reachedRequestLimit(sent int) bool {
	return !s.settings.Continuous && sent >= s.settings.Count
}

func (s *Session) notifyProbe(p *Probe) {
	for _, o := range s.observers {
		o.ObserveProbe(p)
	}
	for _, f := range s.probeHandlers {
		f(s, p)
	}
}

func (s *Session) notifyDiscard(reason DiscardReason) {
	for _, o := range s.observers {
		o.ObserveDiscard(reason)
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

// State returns the lifecycle state of the session
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Address is the resolved address of the target host
func (s *Session) Address() *net.IPAddr {
	return s.addr
}

// Family is the address family of the session
func (s *Session) Family() Family {
	return s.family
}

// ID is the identifier carried by the echo requests of the session
func (s *Session) ID() uint16 {
	return s.id
}

// Token is the unique token of the session
func (s *Session) Token() uuid.UUID {
	return s.token
}

// PayloadSize is the amount of payload bytes of each echo request
func (s *Session) PayloadSize() int {
	return s.settings.Size
}

// AddOnStart adds a handler function that will be called when the session starts
func (s *Session) AddOnStart(handler func(*Session)) {
	s.stHandlers = append(s.stHandlers, handler)
}

// AddOnProbe adds a handler function that will be called after each probe resolves
func (s *Session) AddOnProbe(handler func(*Session, *Probe)) {
	s.probeHandlers = append(s.probeHandlers, handler)
}

// AddOnFinish adds a handler function that will be called with the final statistics
func (s *Session) AddOnFinish(handler func(*Session, Snapshot)) {
	s.endHandlers = append(s.endHandlers, handler)
}

// AddObserver registers o to be notified of probes and discarded packets
func (s *Session) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}
