package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/gavel-live/gavel/internal/events"
)

// Publisher mirrors room events onto a message bus so external consumers
// (results persistence, analytics) can follow live auctions without a
// websocket connection.
type Publisher interface {
	Publish(ctx context.Context, ev *events.Event) error
	Close()
}

// NoopPublisher is used when streaming is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *events.Event) error { return nil }
func (NoopPublisher) Close()                                       {}

// JetStreamConfig holds configuration for the JetStream publisher.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string // events go to <prefix>.<room_id>.<event_type>
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConfig returns default JetStream publisher configuration.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "AUCTION_EVENTS",
		SubjectPrefix: "auction.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// JetStreamPublisher publishes room events to a JetStream stream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewJetStreamPublisher connects to NATS and ensures the event stream
// exists.
func NewJetStreamPublisher(ctx context.Context, config JetStreamConfig) (*JetStreamPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        config.StreamName,
		Description: "Live auction room events",
		Subjects:    []string{config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	log.Info().
		Str("stream", config.StreamName).
		Str("subject_prefix", config.SubjectPrefix).
		Msg("jetstream publisher ready")
	return &JetStreamPublisher{nc: nc, js: js, config: config}, nil
}

// Publish sends one event to <prefix>.<room_id>.<event_type>.
func (p *JetStreamPublisher) Publish(ctx context.Context, ev *events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", p.config.SubjectPrefix, ev.RoomID, ev.Type)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the NATS connection.
func (p *JetStreamPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}
