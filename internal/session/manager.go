package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gavel-live/gavel/internal/auction"
	"github.com/gavel-live/gavel/internal/budget"
	"github.com/gavel-live/gavel/internal/catalog"
	"github.com/gavel-live/gavel/internal/events"
	"github.com/gavel-live/gavel/internal/room"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

// Config holds the auction tunables applied to every room. Budgets live in
// the ledger, which is constructed with the session default.
type Config struct {
	Auction auction.Config
}

// Manager composes the auction core: it owns the room coordinators, routes
// inbound participant commands to them, and emits outbound events through
// the connection registry. Rooms are created at startup from seeds or later
// by administrative calls and torn down at shutdown.
type Manager struct {
	cfg     Config
	sender  room.Broadcaster
	catalog catalog.Catalog
	ledger  *budget.Ledger
	clk     clockwork.Clock

	mu    sync.RWMutex
	rooms map[string]*room.Coordinator
}

// NewManager creates a session manager with no rooms.
func NewManager(cfg Config, sender room.Broadcaster, cat catalog.Catalog, ledger *budget.Ledger, clk clockwork.Clock) *Manager {
	return &Manager{
		cfg:     cfg,
		sender:  sender,
		catalog: cat,
		ledger:  ledger,
		rooms:   make(map[string]*room.Coordinator),
		clk:     clk,
	}
}

// CreateRoom registers a new room coordinator. Administrative operation.
func (m *Manager) CreateRoom(cfg room.Config) (*room.Coordinator, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = 10
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[cfg.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, cfg.ID)
	}

	coord := room.NewCoordinator(cfg, m.catalog, m.ledger, m.sender, m.clk, m.cfg.Auction)
	m.rooms[cfg.ID] = coord

	log.Info().
		Str("room_id", cfg.ID).
		Str("name", cfg.Name).
		Int("queue_length", len(cfg.Queue)).
		Msg("room created")
	return coord, nil
}

// Room looks up a coordinator by id.
func (m *Manager) Room(roomID string) (*room.Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coord, ok := m.rooms[roomID]
	return coord, ok
}

// RoomExists implements gateway.RoomDirectory.
func (m *Manager) RoomExists(roomID string) bool {
	_, ok := m.Room(roomID)
	return ok
}

// StartNextAuction starts the next queued auction in a room, or the given
// player directly. Administrative operation.
func (m *Manager) StartNextAuction(ctx context.Context, roomID, playerID string) (*auction.PlayerAuction, error) {
	coord, ok := m.Room(roomID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return coord.StartNext(ctx, playerID)
}

// CloseRoom cancels any active auction and marks the room completed. The
// coordinator stays registered; archival is outside the core.
func (m *Manager) CloseRoom(roomID string) error {
	coord, ok := m.Room(roomID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	coord.Close()
	return nil
}

// Shutdown closes every room, joining all countdown goroutines.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	coords := make([]*room.Coordinator, 0, len(m.rooms))
	for _, coord := range m.rooms {
		coords = append(coords, coord)
	}
	m.mu.RUnlock()

	for _, coord := range coords {
		coord.Close()
	}
	log.Info().Int("rooms", len(coords)).Msg("session manager shut down")
}

// HandleConnect implements gateway.SessionHandler: confirm the connection
// and join the participant to their room.
func (m *Manager) HandleConnect(userID, username, roomID string) {
	m.sendEvent(userID, roomID, events.TypeConnectionConfirmed, events.ConnectionConfirmedPayload{
		UserID:   userID,
		Username: username,
		RoomID:   roomID,
		Budget:   m.ledger.Balance(userID),
	})

	coord, ok := m.Room(roomID)
	if !ok {
		m.sendError(userID, roomID, fmt.Sprintf("room not found: %s", roomID))
		return
	}
	if err := coord.Join(userID, username); err != nil {
		m.sendError(userID, roomID, err.Error())
	}
}

// HandleDisconnect implements gateway.SessionHandler: the participant is
// removed from every room they are a member of, with leave broadcasts.
func (m *Manager) HandleDisconnect(userID string) {
	m.mu.RLock()
	coords := make([]*room.Coordinator, 0, len(m.rooms))
	for _, coord := range m.rooms {
		coords = append(coords, coord)
	}
	m.mu.RUnlock()

	for _, coord := range coords {
		coord.Leave(userID)
	}
}

func (m *Manager) sendEvent(userID, roomID string, t events.Type, payload any) {
	ev, err := events.New(roomID, t, payload, m.clk.Now())
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to build event")
		return
	}
	m.sender.SendToUser(userID, ev)
}

func (m *Manager) sendError(userID, roomID, message string) {
	m.sendEvent(userID, roomID, events.TypeError, events.ErrorPayload{Message: message})
}

func (m *Manager) sendBidError(userID, roomID, message string) {
	m.sendEvent(userID, roomID, events.TypeBidError, events.BidErrorPayload{Message: message})
}
