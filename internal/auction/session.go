package auction

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Status is the lifecycle state of the bidding round
type Status string

const (
	StatusIdle     Status = "IDLE"
	StatusRunning  Status = "RUNNING"
	StatusSettling Status = "SETTLING"
)

// ErrRoundActive is returned by StartRound while a round is in
// progress. It is reported only to the requester, never broadcast.
var ErrRoundActive = errors.New("a round is already in progress")

// ErrNoActiveRound is returned by ForceEnd when there is nothing to end.
var ErrNoActiveRound = errors.New("no round in progress")

// Config holds tunables for the auction session
type Config struct {
	// RoundSeconds is the countdown length of one bidding round.
	RoundSeconds int
	// LeaderboardSize caps the ranked list carried by BidsChanged.
	LeaderboardSize int
}

// DefaultConfig returns the reference round settings
func DefaultConfig() Config {
	return Config{
		RoundSeconds:    30,
		LeaderboardSize: 5,
	}
}

// Session owns all mutable auction state: the participant registry, the
// bid ledger of the active round, and the round state machine. One
// session exists per process, created at startup and reset in place
// between rounds. Every inbound event and every countdown tick goes
// through the single mutex, so a bid, a disconnect and a timer expiry
// can never observe a torn state. Outbound events are collected under
// the lock and handed to the sink only after it is released.
type Session struct {
	mu    sync.Mutex
	clock clockwork.Clock
	sink  Sink
	cfg   Config

	registry *registry
	ledger   *ledger

	status           Status
	secondsRemaining int

	// stopCountdown is non-nil exactly while a countdown goroutine is
	// live; settlement nils it so the channel is closed at most once.
	stopCountdown chan struct{}
	// countdownDone is closed by the countdown goroutine on exit, after
	// its ticker is stopped. The next StartRound waits on it so two
	// countdowns never overlap.
	countdownDone chan struct{}
}

// NewSession creates an idle session. The sink receives every outbound
// event; it must not block. A nil sink may be attached later with
// SetSink, before the first inbound event.
func NewSession(cfg Config, sink Sink) *Session {
	return &Session{
		clock:    clockwork.NewRealClock(),
		sink:     sink,
		cfg:      cfg,
		registry: newRegistry(),
		ledger:   newLedger(),
		status:   StatusIdle,
	}
}

// SetSink attaches the outbound sink. The transport holds a reference
// to the session for inbound events, so wiring happens in two steps.
func (s *Session) SetSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// HandleJoin registers a participant and announces the updated roster.
// A repeat join from the same connection overwrites the display name.
func (s *Session) HandleJoin(connID uuid.UUID, name string) {
	s.mu.Lock()
	s.registry.join(connID, name)
	events := []Event{
		s.participantListLocked(),
		newEvent(EventTypeChatMessage, ChatMessagePayload{
			User: SystemUser,
			Text: name + " joined the lobby!",
		}),
	}
	s.mu.Unlock()

	log.Info().
		Str("connection_id", connID.String()).
		Str("user", name).
		Msg("participant joined")

	s.publish(events)
}

// HandleChat relays a chat line to everyone, attributed to the sender's
// registered display name. Messages from unknown connections are
// silently dropped.
func (s *Session) HandleChat(connID uuid.UUID, text string) {
	s.mu.Lock()
	name, ok := s.registry.lookup(connID)
	s.mu.Unlock()
	if !ok {
		log.Debug().
			Str("connection_id", connID.String()).
			Msg("dropping chat from unknown connection")
		return
	}

	s.publish([]Event{newEvent(EventTypeChatMessage, ChatMessagePayload{
		User: name,
		Text: text,
	})})
}

// HandleBid records an absolute bid amount for the sender. Dropped
// unless the sender is registered and a round is running. A repeat bid
// overwrites the previous one, it does not accumulate.
func (s *Session) HandleBid(connID uuid.UUID, amount int) {
	s.mu.Lock()
	name, ok := s.registry.lookup(connID)
	if !ok || s.status != StatusRunning {
		running := s.status == StatusRunning
		s.mu.Unlock()
		log.Debug().
			Str("connection_id", connID.String()).
			Bool("registered", ok).
			Bool("round_running", running).
			Msg("dropping bid")
		return
	}
	s.ledger.record(connID, name, amount)
	events := []Event{s.bidsChangedLocked()}
	s.mu.Unlock()

	log.Info().
		Str("connection_id", connID.String()).
		Str("user", name).
		Int("amount", amount).
		Msg("bid recorded")

	s.publish(events)
}

// HandleStartRound starts a round on behalf of a connection. A refusal
// is acknowledged to that connection only.
func (s *Session) HandleStartRound(connID uuid.UUID) {
	if err := s.StartRound(); err != nil && s.sink != nil {
		s.sink.Send(connID, newEvent(EventTypeStartRejected, StartRejectedPayload{
			Reason: err.Error(),
		}))
	}
}

// StartRound transitions Idle to Running: clears the ledger, arms the
// countdown and announces the round. Returns ErrRoundActive without
// touching timer or ledger if a round is already in progress. The
// administrative trigger routes through here as well.
func (s *Session) StartRound() error {
	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return ErrRoundActive
	}
	s.ledger.clear()
	s.status = StatusRunning
	s.secondsRemaining = s.cfg.RoundSeconds
	stop := make(chan struct{})
	done := make(chan struct{})
	prevDone := s.countdownDone
	s.stopCountdown = stop
	s.countdownDone = done
	s.mu.Unlock()

	if prevDone != nil {
		<-prevDone
	}
	go s.runCountdown(stop, done)

	log.Info().
		Int("duration_sec", s.cfg.RoundSeconds).
		Msg("round started")

	s.publish([]Event{newEvent(EventTypeRoundStarted, RoundStartedPayload{
		DurationSec: s.cfg.RoundSeconds,
	})})
	return nil
}

// ForceEnd settles the running round immediately through the same path
// as natural expiry. Returns ErrNoActiveRound unless a round is running.
func (s *Session) ForceEnd() error {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return ErrNoActiveRound
	}
	stop := s.stopCountdown
	ended := s.settleLocked()
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	s.publish([]Event{ended})
	return nil
}

// HandleDisconnect removes a participant. The departed participant's
// outstanding bid is purged with them, so a connection that leaves
// mid-round can no longer win; the ranking broadcast reflects that.
func (s *Session) HandleDisconnect(connID uuid.UUID) {
	s.mu.Lock()
	name, ok := s.registry.remove(connID)
	if !ok {
		s.mu.Unlock()
		return
	}
	hadBid := s.ledger.remove(connID)
	events := []Event{
		s.participantListLocked(),
		newEvent(EventTypeChatMessage, ChatMessagePayload{
			User: SystemUser,
			Text: name + " left the lobby",
		}),
	}
	if hadBid && s.status == StatusRunning {
		events = append(events, s.bidsChangedLocked())
	}
	s.mu.Unlock()

	log.Info().
		Str("connection_id", connID.String()).
		Str("user", name).
		Bool("had_bid", hadBid).
		Msg("participant disconnected")

	s.publish(events)
}

// Close stops any live countdown without announcing a result. Used on
// process shutdown only.
func (s *Session) Close() {
	s.mu.Lock()
	stop := s.stopCountdown
	s.stopCountdown = nil
	s.status = StatusIdle
	s.secondsRemaining = 0
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// Status returns the current round state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ParticipantCount returns the number of registered participants
func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.len()
}

// runCountdown drives the round timer at one-second intervals until the
// round settles or the stop channel is closed. Each tick takes the same
// lock as inbound events.
func (s *Session) runCountdown(stop, done chan struct{}) {
	defer close(done)
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if !s.tick() {
				return
			}
		case <-stop:
			return
		}
	}
}

// tick decrements the countdown and broadcasts the new value. At zero
// the round settles atomically: no bid can land between expiry
// detection and the ledger clear. Returns false once the countdown is
// finished.
func (s *Session) tick() bool {
	s.mu.Lock()
	if s.status != StatusRunning {
		// Round was force-ended between the ticker firing and now.
		s.mu.Unlock()
		return false
	}
	s.secondsRemaining--
	events := []Event{newEvent(EventTypeTimerUpdated, TimerUpdatedPayload{
		SecondsRemaining: s.secondsRemaining,
	})}
	running := true
	if s.secondsRemaining <= 0 {
		events = append(events, s.settleLocked())
		running = false
	}
	s.mu.Unlock()

	s.publish(events)
	return running
}

// settleLocked is the single authoritative end-of-round path, shared by
// natural expiry and ForceEnd. Caller holds the lock.
func (s *Session) settleLocked() Event {
	s.status = StatusSettling
	winner := s.ledger.winner()
	s.ledger.clear()
	s.secondsRemaining = 0
	s.stopCountdown = nil
	s.status = StatusIdle

	if winner != nil {
		log.Info().
			Str("user", winner.User).
			Int("amount", winner.Amount).
			Msg("round ended")
	} else {
		log.Info().Msg("round ended with no bids")
	}

	return newEvent(EventTypeRoundEnded, RoundEndedPayload{Winner: winner})
}

func (s *Session) participantListLocked() Event {
	return newEvent(EventTypeParticipantList, ParticipantListPayload{
		Users: s.registry.names(),
		Count: s.registry.len(),
	})
}

func (s *Session) bidsChangedLocked() Event {
	return newEvent(EventTypeBidsChanged, BidsChangedPayload{
		Bids: s.ledger.ranked(s.cfg.LeaderboardSize),
	})
}

// publish dispatches events after the state mutation that produced them
// has committed and the lock is released.
func (s *Session) publish(events []Event) {
	if s.sink == nil {
		return
	}
	for _, event := range events {
		s.sink.Broadcast(event)
	}
}
