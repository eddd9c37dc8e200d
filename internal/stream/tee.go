package stream

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gavel-live/gavel/internal/events"
)

// Broadcaster matches the room coordinator's delivery interface.
type Broadcaster interface {
	BroadcastTo(userIDs []string, ev *events.Event)
	SendToUser(userID string, ev *events.Event)
}

// Tee forwards broadcasts to the connection registry and mirrors them onto
// the stream publisher. Mirroring goes through a buffered channel drained
// by Run, so publishing never blocks a room's serialized mutation path.
// Unicast events (confirmations, errors, pongs) are not mirrored.
type Tee struct {
	next Broadcaster
	pub  Publisher
	ch   chan *events.Event
}

// NewTee wraps a broadcaster with stream mirroring.
func NewTee(next Broadcaster, pub Publisher) *Tee {
	return &Tee{
		next: next,
		pub:  pub,
		ch:   make(chan *events.Event, 1000),
	}
}

// Run drains mirrored events into the publisher.
func (t *Tee) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.ch:
			if err := t.pub.Publish(ctx, ev); err != nil {
				log.Error().
					Err(err).
					Str("room_id", ev.RoomID).
					Str("type", string(ev.Type)).
					Msg("failed to publish event to stream")
			}
		}
	}
}

func (t *Tee) BroadcastTo(userIDs []string, ev *events.Event) {
	t.next.BroadcastTo(userIDs, ev)
	select {
	case t.ch <- ev:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("stream mirror channel full, dropping event")
	}
}

func (t *Tee) SendToUser(userID string, ev *events.Event) {
	t.next.SendToUser(userID, ev)
}
