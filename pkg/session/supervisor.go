// Package session runs the per-session connection supervisor on both
// ends of a teleop pairing. It owns the negotiated transport, buffers
// outgoing commands while the transport is impaired, and drives
// renegotiation through the broker before giving the session up.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/imngui/stretch-web-teleop/pkg/command"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
)

// State of a supervised session.
type State uint8

const (
	Negotiating State = iota
	Connected
	Degraded
	Disconnected
	Closed
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Disconnected:
		return "disconnected"
	default:
		return "closed"
	}
}

var (
	// ErrQueueFull rejects a send once the degraded buffer hits its
	// bound; previously buffered commands stay intact.
	ErrQueueFull = errors.New("outgoing queue is full")
	ErrClosed    = errors.New("session is closed")
)

// Transport is the send side of a negotiated peer connection.
// *rtc.Peer satisfies it.
type Transport interface {
	SendData(data []byte) error
	Disconnect()
}

// RenegotiateFunc kicks off one renegotiation attempt through the
// broker, keyed by the existing session id. Success is reported
// asynchronously via Up once the new transport opens.
type RenegotiateFunc func(sessionId string, attempt int) error

type Supervisor struct {
	id  string
	cfg config.Session
	log *logger.Logger

	mu         sync.Mutex
	state      State
	transport  Transport
	queue      [][]byte
	outSeq     uint64
	inSeq      uint64
	protoErrs  int
	attempts   int
	graceTimer *time.Timer
	retryTimer *time.Timer

	onCommand   func(m command.Message)
	onState     func(s State)
	renegotiate RenegotiateFunc
}

func NewSupervisor(sessionId string, cfg config.Session, log *logger.Logger) *Supervisor {
	return &Supervisor{
		id:    sessionId,
		cfg:   cfg,
		state: Negotiating,
		log:   log.Extend(log.With().Str("session", sessionId)),
	}
}

func (s *Supervisor) Id() string { return s.id }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnCommand registers the handler for decoded, schema-valid inbound
// messages, delivered in transport order.
func (s *Supervisor) OnCommand(fn func(m command.Message)) {
	s.mu.Lock()
	s.onCommand = fn
	s.mu.Unlock()
}

func (s *Supervisor) OnStateChange(fn func(state State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

func (s *Supervisor) OnRenegotiate(fn RenegotiateFunc) {
	s.mu.Lock()
	s.renegotiate = fn
	s.mu.Unlock()
}

// Send encodes and ships a command, never blocking on the network.
// While the transport is down the command is buffered up to the queue
// bound, in original order.
func (s *Supervisor) Send(cmd command.Command) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	data, err := command.Encode(command.Message{Seq: s.outSeq + 1, Command: cmd})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.outSeq++

	if s.state == Connected {
		t := s.transport
		seq := s.outSeq
		s.mu.Unlock()
		if err := t.SendData(data); err == nil {
			return nil
		}
		// the channel went away under us, degrade and buffer
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == Closed {
			return ErrClosed
		}
		if s.state == Connected {
			s.toDegradedLocked("send failed")
		}
		if len(s.queue) >= s.cfg.QueueSize {
			// a concurrent send may have advanced outSeq while the
			// lock was down; rolling it back then would mint a
			// duplicate seq
			if s.outSeq == seq {
				s.outSeq--
			}
			return ErrQueueFull
		}
		// commands buffered while the lock was down carry later seqs
		s.queue = append([][]byte{data}, s.queue...)
		return nil
	}
	defer s.mu.Unlock()
	if len(s.queue) >= s.cfg.QueueSize {
		s.outSeq-- // the command never made it anywhere
		return ErrQueueFull
	}
	s.queue = append(s.queue, data)
	return nil
}

// Receive feeds raw transport bytes into the command stream. A single
// bad message is dropped and logged with its raw payload; a run of
// them past the configured limit degrades the session.
func (s *Supervisor) Receive(data []byte) {
	m, err := command.Decode(data)
	if err != nil {
		s.log.Error().Err(err).Str("raw", string(data)).Msg("dropped a protocol-violating message")
		s.mu.Lock()
		s.protoErrs++
		limitHit := s.protoErrs >= s.cfg.ProtocolErrorLimit && s.state == Connected
		if limitHit {
			s.protoErrs = 0
			s.toDegradedLocked("protocol error threshold")
		}
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.protoErrs = 0
	if m.Seq > 0 && s.inSeq > 0 && m.Seq != s.inSeq+1 {
		s.log.Warn().Uint64("got", m.Seq).Uint64("want", s.inSeq+1).Msg("sequence gap")
	}
	if m.Seq > s.inSeq {
		s.inSeq = m.Seq
	}
	fn := s.onCommand
	s.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

// Up wires in an opened transport, either the initial one or a
// renegotiated replacement, and flushes the buffered queue in its
// original order.
func (s *Supervisor) Up(t Transport) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		t.Disconnect()
		return
	}
	s.transport = t
	s.attempts = 0
	s.stopTimersLocked()
	s.setStateLocked(Connected)
	s.flushLocked()
	s.mu.Unlock()
}

// Drop marks the transport as impaired. Protocol state stays; the
// grace timer decides whether this becomes a disconnect.
func (s *Supervisor) Drop() {
	s.mu.Lock()
	if s.state == Connected {
		s.toDegradedLocked("transport drop")
	}
	s.mu.Unlock()
}

// Recovered is the transport reporting that the impairment passed
// before the grace period ran out.
func (s *Supervisor) Recovered() {
	s.mu.Lock()
	if s.state == Degraded {
		s.stopTimersLocked()
		s.setStateLocked(Connected)
		s.flushLocked()
	}
	s.mu.Unlock()
}

// Fail skips the grace period: the transport is not coming back.
func (s *Supervisor) Fail() {
	s.mu.Lock()
	switch s.state {
	case Connected, Degraded:
		s.setStateLocked(Degraded)
		s.toDisconnectedLocked()
	}
	s.mu.Unlock()
}

// Close terminates the session. Pending renegotiation attempts are
// cancelled and the buffered commands are gone for good.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	s.queue = nil
	t := s.transport
	s.transport = nil
	s.setStateLocked(Closed)
	s.mu.Unlock()
	if t != nil {
		t.Disconnect()
	}
}

func (s *Supervisor) toDegradedLocked(reason string) {
	if s.state == Degraded {
		return
	}
	s.log.Warn().Str("reason", reason).Msg("session degraded")
	s.setStateLocked(Degraded)
	s.graceTimer = time.AfterFunc(s.cfg.GracePeriod, func() {
		s.mu.Lock()
		if s.state == Degraded {
			s.toDisconnectedLocked()
		}
		s.mu.Unlock()
	})
}

// toDisconnectedLocked starts the renegotiation loop: one attempt now,
// the next ones paced by exponential backoff until the budget is out.
func (s *Supervisor) toDisconnectedLocked() {
	s.setStateLocked(Disconnected)
	s.tryRenegotiateLocked()
}

func (s *Supervisor) tryRenegotiateLocked() {
	if s.attempts >= s.cfg.RetryBudget {
		s.log.Error().Msgf("renegotiation budget of %d is exhausted", s.cfg.RetryBudget)
		s.closeLocked()
		return
	}
	s.attempts++
	attempt := s.attempts
	fn := s.renegotiate
	s.log.Info().Msgf("renegotiation attempt %d/%d", attempt, s.cfg.RetryBudget)
	if fn != nil {
		go func() {
			if err := fn(s.id, attempt); err != nil {
				s.log.Error().Err(err).Msg("renegotiation request failed")
			}
		}()
	}
	backoff := s.cfg.Backoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * s.cfg.BackoffFactor)
	}
	s.retryTimer = time.AfterFunc(backoff, func() {
		s.mu.Lock()
		if s.state == Disconnected {
			s.tryRenegotiateLocked()
		}
		s.mu.Unlock()
	})
}

// closeLocked is the internal closure path; the transport teardown is
// asynchronous to keep the lock small.
func (s *Supervisor) closeLocked() {
	s.stopTimersLocked()
	s.queue = nil
	t := s.transport
	s.transport = nil
	s.setStateLocked(Closed)
	if t != nil {
		go t.Disconnect()
	}
}

func (s *Supervisor) flushLocked() {
	if len(s.queue) == 0 {
		return
	}
	queued := s.queue
	s.queue = nil
	for i, data := range queued {
		if err := s.transport.SendData(data); err != nil {
			// keep what's left for the next recovery
			s.queue = append(s.queue, queued[i:]...)
			s.toDegradedLocked("flush failed")
			return
		}
	}
	s.log.Debug().Msgf("flushed %d buffered commands", len(queued))
}

func (s *Supervisor) stopTimersLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Supervisor) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.log.Debug().Msgf("state -> %s", state)
	if fn := s.onState; fn != nil {
		go fn(state)
	}
}
