package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every outbound message. Data carries the
// type-specific payload.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id,omitempty"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Type tags the outbound event union.
type Type string

const (
	TypeConnectionConfirmed Type = "connection_confirmed"
	TypeUserJoined          Type = "user_joined"
	TypeUserLeft            Type = "user_left"
	TypeAuctionStarted      Type = "auction_started"
	TypeBidPlaced           Type = "bid_placed"
	TypeBidConfirmed        Type = "bid_confirmed"
	TypeBidError            Type = "bid_error"
	TypeTimerUpdate         Type = "timer_update"
	TypeAuctionEnded        Type = "auction_ended"
	TypeRoomState           Type = "room_state"
	TypeRoomClosed          Type = "room_closed"
	TypePong                Type = "pong"
	TypeError               Type = "error"
)

// New builds an event envelope around a payload.
func New(roomID string, t Type, payload any, now time.Time) (*Event, error) {
	ev := &Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      t,
		Timestamp: now,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		ev.Data = data
	}
	return ev, nil
}
