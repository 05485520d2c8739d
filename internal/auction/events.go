package auction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every outbound auction event
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of auction event
type EventType string

const (
	EventTypeParticipantList EventType = "ParticipantList"
	EventTypeChatMessage     EventType = "ChatMessage"
	EventTypeRoundStarted    EventType = "RoundStarted"
	EventTypeTimerUpdated    EventType = "TimerUpdated"
	EventTypeBidsChanged     EventType = "BidsChanged"
	EventTypeRoundEnded      EventType = "RoundEnded"
	EventTypeStartRejected   EventType = "StartRejected"
)

// SystemUser is the attributed sender of server-originated chat messages.
const SystemUser = "System"

// ParticipantListPayload carries the full lobby roster in registration order
type ParticipantListPayload struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// ChatMessagePayload is a chat line relayed to every participant
type ChatMessagePayload struct {
	User string `json:"user"`
	Text string `json:"text"`
}

// RoundStartedPayload announces a new bidding round
type RoundStartedPayload struct {
	DurationSec int `json:"duration_sec"`
}

// TimerUpdatedPayload carries the countdown value after each tick
type TimerUpdatedPayload struct {
	SecondsRemaining int `json:"seconds_remaining"`
}

// BidEntry is one row of the ranked bid board
type BidEntry struct {
	User   string `json:"user"`
	Amount int    `json:"amount"`
}

// BidsChangedPayload carries the current top-N ranking
type BidsChangedPayload struct {
	Bids []BidEntry `json:"bids"`
}

// RoundEndedPayload announces the winner; Winner is null when the
// ledger was empty at expiry.
type RoundEndedPayload struct {
	Winner *BidEntry `json:"winner"`
}

// StartRejectedPayload is delivered only to the requester of a start
// that was refused because a round is already in progress.
type StartRejectedPayload struct {
	Reason string `json:"reason"`
}

// newEvent wraps a payload in the event envelope. Payloads are plain
// structs defined in this file, so marshaling cannot fail.
func newEvent(eventType EventType, payload interface{}) Event {
	data, _ := json.Marshal(payload)
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *Event) (interface{}, error) {
	switch event.Type {
	case EventTypeParticipantList:
		var payload ParticipantListPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeChatMessage:
		var payload ChatMessagePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundStarted:
		var payload RoundStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimerUpdated:
		var payload TimerUpdatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeBidsChanged:
		var payload BidsChangedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundEnded:
		var payload RoundEndedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeStartRejected:
		var payload StartRejectedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}

// Sink receives outbound events from the session. The transport layer
// implements it; delivery is best effort at time of call.
type Sink interface {
	// Broadcast delivers an event to every connected participant.
	Broadcast(event Event)
	// Send delivers an event to a single connection only.
	Send(connID uuid.UUID, event Event)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Broadcast(event Event) {
	for _, s := range m {
		s.Broadcast(event)
	}
}

func (m MultiSink) Send(connID uuid.UUID, event Event) {
	for _, s := range m {
		s.Send(connID, event)
	}
}
