package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ClientMessageType identifies an inbound client message
type ClientMessageType string

const (
	ClientMessageJoin       ClientMessageType = "Join"
	ClientMessageChat       ClientMessageType = "Chat"
	ClientMessageBid        ClientMessageType = "Bid"
	ClientMessageStartRound ClientMessageType = "StartRound"
)

// ClientMessage is the flat JSON payload clients send over the socket.
// Which fields are required depends on Type.
type ClientMessage struct {
	Type   ClientMessageType `json:"type"`
	Name   string            `json:"name,omitempty"`
	Text   string            `json:"text,omitempty"`
	Amount *int              `json:"amount,omitempty"`
}

var errMalformedMessage = errors.New("malformed client message")

// parseClientMessage unmarshals and validates an inbound message. The
// core assumes validated inputs, so everything malformed is rejected
// here: empty display names, missing or negative bid amounts, unknown
// message types.
func parseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedMessage, err)
	}

	switch msg.Type {
	case ClientMessageJoin:
		msg.Name = strings.TrimSpace(msg.Name)
		if msg.Name == "" {
			return nil, fmt.Errorf("%w: join requires a display name", errMalformedMessage)
		}
	case ClientMessageChat:
		if strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("%w: chat requires text", errMalformedMessage)
		}
	case ClientMessageBid:
		if msg.Amount == nil {
			return nil, fmt.Errorf("%w: bid requires an amount", errMalformedMessage)
		}
		if *msg.Amount < 0 {
			return nil, fmt.Errorf("%w: bid amount must be non-negative", errMalformedMessage)
		}
	case ClientMessageStartRound:
		// No payload.
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errMalformedMessage, msg.Type)
	}

	return &msg, nil
}
