package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gavel-live/gavel/internal/events"
)

// ErrMalformedCommand marks inbound payloads that do not parse as a
// command. Always non-fatal: the sender gets an error event and room state
// is untouched.
var ErrMalformedCommand = errors.New("malformed command")

// Command is the inbound message shape on a participant connection.
type Command struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount,omitempty"`
}

const (
	cmdJoinRoom  = "join_room"
	cmdPlaceBid  = "place_bid"
	cmdGetStatus = "get_status"
	cmdPing      = "ping"
)

// HandleCommand implements gateway.SessionHandler: route one inbound
// command from a participant's connection. Unrecognized or malformed
// commands yield an error event to the sender only.
func (m *Manager) HandleCommand(userID, username, roomID string, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		m.sendError(userID, roomID, ErrMalformedCommand.Error())
		return
	}

	switch cmd.Type {
	case cmdPing:
		m.sendEvent(userID, roomID, events.TypePong, nil)

	case cmdPlaceBid:
		m.handlePlaceBid(userID, username, roomID, cmd.Amount)

	case cmdGetStatus:
		coord, ok := m.Room(roomID)
		if !ok {
			m.sendError(userID, roomID, fmt.Sprintf("room not found: %s", roomID))
			return
		}
		m.sendEvent(userID, roomID, events.TypeRoomState, coord.Snapshot(userID))

	case cmdJoinRoom:
		// Joining is implicit at connect time; honor an explicit re-join of
		// the connection's room.
		coord, ok := m.Room(roomID)
		if !ok {
			m.sendError(userID, roomID, fmt.Sprintf("room not found: %s", roomID))
			return
		}
		if err := coord.Join(userID, username); err != nil {
			m.sendError(userID, roomID, err.Error())
		}

	case "":
		m.sendError(userID, roomID, ErrMalformedCommand.Error())

	default:
		m.sendError(userID, roomID, fmt.Sprintf("unknown command type: %s", cmd.Type))
	}
}

func (m *Manager) handlePlaceBid(userID, username, roomID string, amount int64) {
	if amount <= 0 {
		m.sendBidError(userID, roomID, "bid amount must be a positive integer")
		return
	}

	coord, ok := m.Room(roomID)
	if !ok {
		m.sendBidError(userID, roomID, fmt.Sprintf("room not found: %s", roomID))
		return
	}

	bid, err := coord.PlaceBid(userID, username, amount)
	if err != nil {
		m.sendBidError(userID, roomID, err.Error())
		return
	}

	m.sendEvent(userID, roomID, events.TypeBidConfirmed, events.BidConfirmedPayload{
		AuctionID: bid.AuctionID.String(),
		BidID:     bid.ID.String(),
		Amount:    bid.Amount,
		Budget:    m.ledger.Balance(userID),
	})
}
