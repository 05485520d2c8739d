package auction

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records every event and mirrors broadcasts onto a channel
// so tests can synchronize with the countdown goroutine.
type captureSink struct {
	mu         sync.Mutex
	broadcasts []Event
	sends      map[uuid.UUID][]Event
	ch         chan Event
}

func newCaptureSink() *captureSink {
	return &captureSink{
		sends: make(map[uuid.UUID][]Event),
		ch:    make(chan Event, 1024),
	}
}

func (c *captureSink) Broadcast(event Event) {
	c.mu.Lock()
	c.broadcasts = append(c.broadcasts, event)
	c.mu.Unlock()
	c.ch <- event
}

func (c *captureSink) Send(connID uuid.UUID, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends[connID] = append(c.sends[connID], event)
}

func (c *captureSink) byType(eventType EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var events []Event
	for _, ev := range c.broadcasts {
		if ev.Type == eventType {
			events = append(events, ev)
		}
	}
	return events
}

func (c *captureSink) sentTo(connID uuid.UUID) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends[connID]
}

func decode[T any](t *testing.T, event Event) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	return payload
}

func waitEvent(t *testing.T, ch chan Event, eventType EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func newTestSession(t *testing.T, cfg Config) (*Session, *captureSink, *clockwork.FakeClock) {
	t.Helper()
	sink := newCaptureSink()
	session := NewSession(cfg, sink)
	fc := clockwork.NewFakeClock()
	session.clock = fc
	t.Cleanup(session.Close)
	return session, sink, fc
}

// runOutTimer drives the fake clock through the whole countdown and
// returns the RoundEnded event.
func runOutTimer(t *testing.T, session *Session, sink *captureSink, fc *clockwork.FakeClock, seconds int) Event {
	t.Helper()
	fc.BlockUntil(1)
	for i := 0; i < seconds-1; i++ {
		fc.Advance(time.Second)
		waitEvent(t, sink.ch, EventTypeTimerUpdated)
	}
	fc.Advance(time.Second)
	waitEvent(t, sink.ch, EventTypeTimerUpdated)
	return waitEvent(t, sink.ch, EventTypeRoundEnded)
}

func TestJoinBroadcastsRosterAndSystemChat(t *testing.T) {
	session, sink, _ := newTestSession(t, DefaultConfig())
	alice, bob := uuid.New(), uuid.New()

	session.HandleJoin(alice, "Alice")
	session.HandleJoin(bob, "Bob")

	lists := sink.byType(EventTypeParticipantList)
	require.Len(t, lists, 2)
	last := decode[ParticipantListPayload](t, lists[1])
	assert.Equal(t, []string{"Alice", "Bob"}, last.Users)
	assert.Equal(t, 2, last.Count)

	chats := sink.byType(EventTypeChatMessage)
	require.Len(t, chats, 2)
	welcome := decode[ChatMessagePayload](t, chats[0])
	assert.Equal(t, SystemUser, welcome.User)
	assert.Equal(t, "Alice joined the lobby!", welcome.Text)
}

func TestChatFromRegisteredParticipant(t *testing.T) {
	session, sink, _ := newTestSession(t, DefaultConfig())
	bob := uuid.New()
	session.HandleJoin(bob, "Bob")

	session.HandleChat(bob, "hi")

	chats := sink.byType(EventTypeChatMessage)
	msg := decode[ChatMessagePayload](t, chats[len(chats)-1])
	assert.Equal(t, ChatMessagePayload{User: "Bob", Text: "hi"}, msg)
}

func TestChatFromUnknownConnectionIsDropped(t *testing.T) {
	session, sink, _ := newTestSession(t, DefaultConfig())

	session.HandleChat(uuid.New(), "hello?")

	assert.Empty(t, sink.byType(EventTypeChatMessage))
}

func TestBidOutsideRunningRoundIsDropped(t *testing.T) {
	session, sink, _ := newTestSession(t, DefaultConfig())
	bob := uuid.New()
	session.HandleJoin(bob, "Bob")

	session.HandleBid(bob, 80)

	assert.Empty(t, sink.byType(EventTypeBidsChanged))
	assert.Equal(t, 0, session.ledger.len())
}

func TestBidFromUnknownConnectionIsDropped(t *testing.T) {
	session, sink, _ := newTestSession(t, DefaultConfig())
	require.NoError(t, session.StartRound())

	session.HandleBid(uuid.New(), 80)

	assert.Empty(t, sink.byType(EventTypeBidsChanged))
}

func TestStartRoundIsExclusive(t *testing.T) {
	session, sink, _ := newTestSession(t, Config{RoundSeconds: 30, LeaderboardSize: 5})
	bob := uuid.New()
	session.HandleJoin(bob, "Bob")

	require.NoError(t, session.StartRound())
	session.HandleBid(bob, 80)

	// Second start is a no-op: timer and ledger from the first call
	// are untouched and nothing is broadcast.
	assert.ErrorIs(t, session.StartRound(), ErrRoundActive)
	assert.Len(t, sink.byType(EventTypeRoundStarted), 1)
	assert.Equal(t, 1, session.ledger.len())
	session.mu.Lock()
	assert.Equal(t, 30, session.secondsRemaining)
	session.mu.Unlock()
}

func TestStartRejectionGoesOnlyToRequester(t *testing.T) {
	session, sink, _ := newTestSession(t, DefaultConfig())
	alice, bob := uuid.New(), uuid.New()
	session.HandleJoin(alice, "Alice")
	session.HandleJoin(bob, "Bob")

	session.HandleStartRound(alice)
	session.HandleStartRound(bob)

	require.Len(t, sink.sentTo(bob), 1)
	rejected := decode[StartRejectedPayload](t, sink.sentTo(bob)[0])
	assert.Equal(t, ErrRoundActive.Error(), rejected.Reason)
	assert.Empty(t, sink.sentTo(alice))
	assert.Empty(t, sink.byType(EventTypeStartRejected))
}

func TestCountdownEmitsExactTickSequence(t *testing.T) {
	cfg := Config{RoundSeconds: 5, LeaderboardSize: 5}
	session, sink, fc := newTestSession(t, cfg)

	require.NoError(t, session.StartRound())
	started := decode[RoundStartedPayload](t, sink.byType(EventTypeRoundStarted)[0])
	assert.Equal(t, 5, started.DurationSec)

	runOutTimer(t, session, sink, fc, 5)

	ticks := sink.byType(EventTypeTimerUpdated)
	require.Len(t, ticks, 5)
	for i, tick := range ticks {
		payload := decode[TimerUpdatedPayload](t, tick)
		assert.Equal(t, 4-i, payload.SecondsRemaining)
	}
	assert.Equal(t, StatusIdle, session.Status())
}

func TestRoundTripHighestBidWins(t *testing.T) {
	cfg := Config{RoundSeconds: 3, LeaderboardSize: 5}
	session, sink, fc := newTestSession(t, cfg)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	session.HandleJoin(a, "A")
	session.HandleJoin(b, "B")
	session.HandleJoin(c, "C")

	require.NoError(t, session.StartRound())
	session.HandleBid(a, 50)
	session.HandleBid(b, 80)
	session.HandleBid(c, 30)

	ended := runOutTimer(t, session, sink, fc, 3)
	result := decode[RoundEndedPayload](t, ended)
	require.NotNil(t, result.Winner)
	assert.Equal(t, BidEntry{User: "B", Amount: 80}, *result.Winner)

	// Ledger is empty immediately after settlement.
	assert.Equal(t, 0, session.ledger.len())
	assert.Equal(t, StatusIdle, session.Status())
}

func TestRebidOverwritesInsteadOfAccumulating(t *testing.T) {
	cfg := Config{RoundSeconds: 3, LeaderboardSize: 5}
	session, sink, fc := newTestSession(t, cfg)
	bob := uuid.New()
	session.HandleJoin(bob, "Bob")

	require.NoError(t, session.StartRound())
	session.HandleBid(bob, 80)
	session.HandleBid(bob, 120)

	changes := sink.byType(EventTypeBidsChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, []BidEntry{{User: "Bob", Amount: 80}}, decode[BidsChangedPayload](t, changes[0]).Bids)
	assert.Equal(t, []BidEntry{{User: "Bob", Amount: 120}}, decode[BidsChangedPayload](t, changes[1]).Bids)

	ended := runOutTimer(t, session, sink, fc, 3)
	result := decode[RoundEndedPayload](t, ended)
	require.NotNil(t, result.Winner)
	assert.Equal(t, BidEntry{User: "Bob", Amount: 120}, *result.Winner)
}

func TestRoundEndsWithNoBids(t *testing.T) {
	cfg := Config{RoundSeconds: 2, LeaderboardSize: 5}
	session, sink, fc := newTestSession(t, cfg)

	require.NoError(t, session.StartRound())
	ended := runOutTimer(t, session, sink, fc, 2)

	result := decode[RoundEndedPayload](t, ended)
	assert.Nil(t, result.Winner)
	assert.Equal(t, StatusIdle, session.Status())
}

func TestDisconnectPurgesOutstandingBid(t *testing.T) {
	cfg := Config{RoundSeconds: 3, LeaderboardSize: 5}
	session, sink, fc := newTestSession(t, cfg)
	alice, bob := uuid.New(), uuid.New()
	session.HandleJoin(alice, "Alice")
	session.HandleJoin(bob, "Bob")

	require.NoError(t, session.StartRound())
	session.HandleBid(alice, 50)
	session.HandleBid(bob, 80)

	session.HandleDisconnect(bob)

	// The ranking is re-broadcast without the departed bidder.
	changes := sink.byType(EventTypeBidsChanged)
	last := decode[BidsChangedPayload](t, changes[len(changes)-1])
	assert.Equal(t, []BidEntry{{User: "Alice", Amount: 50}}, last.Bids)

	// The departed participant can no longer win.
	ended := runOutTimer(t, session, sink, fc, 3)
	result := decode[RoundEndedPayload](t, ended)
	require.NotNil(t, result.Winner)
	assert.Equal(t, "Alice", result.Winner.User)
}

func TestDisconnectOutsideRoundSkipsBidBroadcast(t *testing.T) {
	session, sink, _ := newTestSession(t, DefaultConfig())
	bob := uuid.New()
	session.HandleJoin(bob, "Bob")

	session.HandleDisconnect(bob)

	assert.Empty(t, sink.byType(EventTypeBidsChanged))
	lists := sink.byType(EventTypeParticipantList)
	last := decode[ParticipantListPayload](t, lists[len(lists)-1])
	assert.Equal(t, 0, last.Count)

	chats := sink.byType(EventTypeChatMessage)
	goodbye := decode[ChatMessagePayload](t, chats[len(chats)-1])
	assert.Equal(t, "Bob left the lobby", goodbye.Text)
}

func TestDisconnectUnknownConnectionIsNoop(t *testing.T) {
	session, sink, _ := newTestSession(t, DefaultConfig())

	session.HandleDisconnect(uuid.New())

	assert.Empty(t, sink.broadcasts)
}

func TestForceEndSettlesThroughSamePath(t *testing.T) {
	cfg := Config{RoundSeconds: 30, LeaderboardSize: 5}
	session, sink, _ := newTestSession(t, cfg)
	bob := uuid.New()
	session.HandleJoin(bob, "Bob")

	require.NoError(t, session.StartRound())
	session.HandleBid(bob, 80)

	require.NoError(t, session.ForceEnd())

	ended := sink.byType(EventTypeRoundEnded)
	require.Len(t, ended, 1)
	result := decode[RoundEndedPayload](t, ended[0])
	require.NotNil(t, result.Winner)
	assert.Equal(t, BidEntry{User: "Bob", Amount: 80}, *result.Winner)
	assert.Equal(t, StatusIdle, session.Status())

	assert.ErrorIs(t, session.ForceEnd(), ErrNoActiveRound)
}

func TestLateBidAfterSettlementIsDropped(t *testing.T) {
	cfg := Config{RoundSeconds: 2, LeaderboardSize: 5}
	session, sink, fc := newTestSession(t, cfg)
	bob := uuid.New()
	session.HandleJoin(bob, "Bob")

	require.NoError(t, session.StartRound())
	runOutTimer(t, session, sink, fc, 2)

	before := len(sink.byType(EventTypeBidsChanged))
	session.HandleBid(bob, 500)
	assert.Len(t, sink.byType(EventTypeBidsChanged), before)
}

func TestNewRoundStartsCleanAfterPreviousRound(t *testing.T) {
	cfg := Config{RoundSeconds: 2, LeaderboardSize: 5}
	session, sink, fc := newTestSession(t, cfg)
	bob := uuid.New()
	session.HandleJoin(bob, "Bob")

	require.NoError(t, session.StartRound())
	session.HandleBid(bob, 80)
	runOutTimer(t, session, sink, fc, 2)

	require.NoError(t, session.StartRound())
	ended := runOutTimer(t, session, sink, fc, 2)

	result := decode[RoundEndedPayload](t, ended)
	assert.Nil(t, result.Winner, "bids must not leak into the next round")
}
