// Package relay mirrors broadcast auction events onto NATS so external
// consumers (dashboards, recorders, future gateway instances) can
// follow a lobby without holding a WebSocket to it.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/gavelhq/gavel/internal/auction"
)

// Config holds NATS connection settings for the relay
type Config struct {
	URL           string
	SubjectPrefix string // e.g. "auction.events"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default relay configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "auction.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Relay publishes auction events to NATS. It implements auction.Sink
// and is wired as a fan-out sink next to the WebSocket gateway.
type Relay struct {
	nc            *nats.Conn
	subjectPrefix string
}

// New connects to NATS and returns a relay ready to publish
func New(config Config) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Relay{
		nc:            nc,
		subjectPrefix: config.SubjectPrefix,
	}, nil
}

// Broadcast publishes the event to "<prefix>.<EventType>". Delivery is
// best effort; a publish failure is logged, never surfaced to the core.
func (r *Relay) Broadcast(event auction.Event) {
	subject := fmt.Sprintf("%s.%s", r.subjectPrefix, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event for relay")
		return
	}

	if err := r.nc.Publish(subject, data); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("event_id", event.ID).
			Msg("failed to publish event")
		return
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", event.ID).
		Msg("event relayed")
}

// Send is a no-op: targeted acknowledgements stay on the originating
// transport and are not mirrored.
func (r *Relay) Send(connID uuid.UUID, event auction.Event) {}

// Close drains and closes the NATS connection
func (r *Relay) Close() {
	if r.nc != nil {
		r.nc.Close()
	}
}
