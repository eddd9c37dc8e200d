package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gavel-live/gavel/internal/auction"
	"github.com/gavel-live/gavel/internal/budget"
	"github.com/gavel-live/gavel/internal/catalog"
	"github.com/gavel-live/gavel/internal/events"
)

var (
	ErrRoomFull             = errors.New("room is full")
	ErrRoomClosed           = errors.New("room is closed")
	ErrAuctionAlreadyActive = errors.New("an auction is already active in this room")
	ErrQueueEmpty           = errors.New("no players left in the room queue")
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Broadcaster delivers events to connected participants. Both methods only
// enqueue and never block, so they are safe to call under the room lock;
// enqueueing under the lock is what gives each participant a per-room FIFO
// view of the serialized mutation path.
type Broadcaster interface {
	BroadcastTo(userIDs []string, ev *events.Event)
	SendToUser(userID string, ev *events.Event)
}

// Config is the static shape of a room, supplied by the room registry.
type Config struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	MaxParticipants int      `json:"max_participants" yaml:"max_participants"`
	Queue           []string `json:"queue" yaml:"queue"`
}

// Coordinator owns one room: its membership, the ordered queue of pending
// player auctions, and the single active auction slot. Every mutation of
// room state (membership, current auction, its bid ledger, its countdown)
// is serialized through one mutex, so a concurrent bid and a concurrent
// clock expiry can never race each other.
type Coordinator struct {
	id              string
	name            string
	maxParticipants int

	catalog    catalog.Catalog
	ledger     *budget.Ledger
	sender     Broadcaster
	clk        clockwork.Clock
	auctionCfg auction.Config

	mu        sync.Mutex
	members   map[string]string // user id -> display name
	queue     []string          // pending player ids
	completed []uuid.UUID       // finished auction ids
	status    Status
	current   *auction.PlayerAuction
	clock     *auction.Clock
}

// NewCoordinator creates a coordinator in the waiting state.
func NewCoordinator(cfg Config, cat catalog.Catalog, ledger *budget.Ledger, sender Broadcaster, clk clockwork.Clock, auctionCfg auction.Config) *Coordinator {
	queue := make([]string, len(cfg.Queue))
	copy(queue, cfg.Queue)
	return &Coordinator{
		id:              cfg.ID,
		name:            cfg.Name,
		maxParticipants: cfg.MaxParticipants,
		catalog:         cat,
		ledger:          ledger,
		sender:          sender,
		clk:             clk,
		auctionCfg:      auctionCfg,
		members:         make(map[string]string),
		queue:           queue,
		status:          StatusWaiting,
	}
}

// ID returns the room identifier.
func (c *Coordinator) ID() string { return c.id }

// Join adds a participant to the room, announces the presence change, and
// sends the room snapshot to the newcomer.
func (c *Coordinator) Join(userID, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusCompleted {
		return ErrRoomClosed
	}
	if _, already := c.members[userID]; !already && len(c.members) >= c.maxParticipants {
		return fmt.Errorf("%w: max %d participants", ErrRoomFull, c.maxParticipants)
	}

	c.members[userID] = username
	if c.current != nil {
		c.current.AddWatcher(userID)
	}

	c.broadcastLocked(events.TypeUserJoined, events.UserJoinedPayload{
		UserID:           userID,
		Username:         username,
		ParticipantCount: len(c.members),
	})
	c.sendLocked(userID, events.TypeRoomState, c.snapshotLocked(userID))

	log.Info().
		Str("room_id", c.id).
		Str("user_id", userID).
		Str("username", username).
		Int("participants", len(c.members)).
		Msg("user joined room")
	return nil
}

// Leave removes a participant and announces it. It reports whether the user
// was a member.
func (c *Coordinator) Leave(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	username, ok := c.members[userID]
	if !ok {
		return false
	}
	delete(c.members, userID)

	c.broadcastLocked(events.TypeUserLeft, events.UserLeftPayload{
		UserID:           userID,
		Username:         username,
		ParticipantCount: len(c.members),
	})

	log.Info().
		Str("room_id", c.id).
		Str("user_id", userID).
		Int("participants", len(c.members)).
		Msg("user left room")
	return true
}

// HasMember reports whether the user is currently in the room.
func (c *Coordinator) HasMember(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[userID]
	return ok
}

// StartNext dequeues the next player and starts its auction. With an
// explicit player id the queue is bypassed and the id resolved directly.
// Queue entries that no longer resolve in the catalog are discarded; the
// scan is a bounded loop over the queue, never recursion.
func (c *Coordinator) StartNext(ctx context.Context, explicitPlayerID string) (*auction.PlayerAuction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusCompleted {
		return nil, ErrRoomClosed
	}
	if c.current != nil {
		return nil, ErrAuctionAlreadyActive
	}

	var player catalog.Player
	if explicitPlayerID != "" {
		p, err := c.catalog.Player(ctx, explicitPlayerID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve player %s: %w", explicitPlayerID, err)
		}
		player = p
	} else {
		found := false
		for len(c.queue) > 0 {
			playerID := c.queue[0]
			c.queue = c.queue[1:]

			p, err := c.catalog.Player(ctx, playerID)
			if errors.Is(err, catalog.ErrPlayerNotFound) {
				log.Warn().
					Str("room_id", c.id).
					Str("player_id", playerID).
					Msg("skipping stale queue entry")
				continue
			}
			if err != nil {
				// Transient lookup failure: put the id back so it is retried.
				c.queue = append([]string{playerID}, c.queue...)
				return nil, fmt.Errorf("failed to resolve player %s: %w", playerID, err)
			}
			player = p
			found = true
			break
		}
		if !found {
			return nil, ErrQueueEmpty
		}
	}

	a := auction.New(c.id, player, c.auctionCfg)
	if err := a.Start(c.clk.Now()); err != nil {
		return nil, err
	}
	for userID := range c.members {
		a.AddWatcher(userID)
	}

	c.current = a
	c.status = StatusActive
	c.clock = auction.NewClock(c.clk, c.auctionCfg.SnipeWindowSec)
	c.clock.Start(c)

	c.broadcastLocked(events.TypeAuctionStarted, events.AuctionStartedPayload{Auction: a})

	log.Info().
		Str("room_id", c.id).
		Str("auction_id", a.ID.String()).
		Str("player_id", player.ID).
		Str("player_name", player.Name).
		Int64("starting_bid", a.StartingBid).
		Msg("auction started")
	return a, nil
}

// PlaceBid validates and applies a bid against the current auction. On
// acceptance the bid broadcast goes to the whole room; rejection reasons
// are returned to the caller and touch no room state.
func (c *Coordinator) PlaceBid(userID, username string, amount int64) (*auction.Bid, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil, auction.ErrAuctionNotActive
	}

	remaining := c.ledger.Balance(userID)
	bid, extended, err := c.current.ApplyBid(userID, username, amount, remaining, c.clk.Now())
	if err != nil {
		return nil, err
	}

	c.broadcastLocked(events.TypeBidPlaced, events.BidPlacedPayload{
		AuctionID: c.current.ID.String(),
		Bid:       bid,
		AuctionState: events.AuctionSummary{
			CurrentBid:       c.current.CurrentBid,
			MinimumNextBid:   c.current.MinimumNextBid,
			CurrentWinner:    c.current.CurrentWinnerName,
			TotalBids:        c.current.TotalBids,
			TimeRemaining:    c.current.TimeRemaining,
			ParticipantCount: len(c.current.Participants),
		},
	})

	log.Info().
		Str("room_id", c.id).
		Str("auction_id", c.current.ID.String()).
		Str("user_id", userID).
		Int64("amount", amount).
		Bool("extended", extended).
		Msg("bid accepted")
	return bid, nil
}

// Tick implements auction.Driver. It advances the countdown under the room
// lock and broadcasts the timer update.
func (c *Coordinator) Tick(elapsedSec int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Status != auction.StatusActive {
		return 0, false
	}

	c.current.TimeRemaining -= elapsedSec
	if c.current.TimeRemaining < 0 {
		c.current.TimeRemaining = 0
	}

	if c.current.TimeRemaining > 0 {
		c.broadcastLocked(events.TypeTimerUpdate, events.TimerUpdatePayload{
			AuctionID:     c.current.ID.String(),
			TimeRemaining: c.current.TimeRemaining,
		})
	}
	return c.current.TimeRemaining, true
}

// Expire implements auction.Driver. The countdown reached zero: settle
// under the room lock.
func (c *Coordinator) Expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked()
}

// settleLocked terminates the current auction as sold or unsold, debits the
// winner, and broadcasts the outcome. A second call on an already-settled
// auction is a no-op: no event, no debit.
func (c *Coordinator) settleLocked() {
	if c.current == nil {
		return
	}

	a := c.current
	result, ok := a.Settle(c.clk.Now())
	if !ok {
		return
	}

	if result.WinnerUserID != nil {
		if err := c.ledger.Debit(*result.WinnerUserID, result.WinningBid); err != nil {
			// Validation caps bids at the bidder's balance, so a failed
			// debit means budgets were reset mid-auction. Record it and
			// keep the settlement.
			log.Error().
				Err(err).
				Str("room_id", c.id).
				Str("auction_id", a.ID.String()).
				Str("winner", *result.WinnerUserID).
				Msg("settlement debit failed")
		}
	}

	c.completed = append(c.completed, a.ID)
	c.current = nil
	c.clock = nil

	c.broadcastLocked(events.TypeAuctionEnded, events.AuctionEndedPayload{
		Result:     result,
		BidHistory: a.Bids,
	})

	log.Info().
		Str("room_id", c.id).
		Str("auction_id", a.ID.String()).
		Str("status", string(a.Status)).
		Int64("winning_bid", result.WinningBid).
		Int("total_bids", result.TotalBids).
		Msg("auction settled")
}

// Snapshot builds the room_state payload for one participant.
func (c *Coordinator) Snapshot(userID string) events.RoomStatePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(userID)
}

func (c *Coordinator) snapshotLocked(userID string) events.RoomStatePayload {
	snap := events.RoomStatePayload{
		RoomID:           c.id,
		RoomName:         c.name,
		Status:           string(c.status),
		ParticipantCount: len(c.members),
		UserBudget:       c.ledger.Balance(userID),
		QueueLength:      len(c.queue),
		CompletedCount:   len(c.completed),
	}
	if c.current != nil {
		snap.CurrentAuction = c.current
		snap.BidHistory = c.current.Bids
	}
	return snap
}

// Close tears the room down: the active auction, if any, is cancelled
// without settlement (no result, no debit) and the countdown goroutine is
// joined so shutdown leaks no pending wakeup.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.status == StatusCompleted {
		c.mu.Unlock()
		return
	}

	clock := c.clock
	if c.current != nil {
		if c.current.Cancel(c.clk.Now()) {
			c.completed = append(c.completed, c.current.ID)
		}
		c.current = nil
		c.clock = nil
	}
	c.status = StatusCompleted

	c.broadcastLocked(events.TypeRoomClosed, events.RoomStatePayload{
		RoomID:   c.id,
		RoomName: c.name,
		Status:   string(c.status),
	})
	c.mu.Unlock()

	if clock != nil {
		clock.Stop()
	}

	log.Info().Str("room_id", c.id).Msg("room closed")
}

// MemberIDs snapshots the current membership.
func (c *Coordinator) MemberIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memberIDsLocked()
}

func (c *Coordinator) memberIDsLocked() []string {
	ids := make([]string, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) broadcastLocked(t events.Type, payload any) {
	ev, err := events.New(c.id, t, payload, c.clk.Now())
	if err != nil {
		log.Error().Err(err).Str("room_id", c.id).Msg("failed to build broadcast event")
		return
	}
	c.sender.BroadcastTo(c.memberIDsLocked(), ev)
}

func (c *Coordinator) sendLocked(userID string, t events.Type, payload any) {
	ev, err := events.New(c.id, t, payload, c.clk.Now())
	if err != nil {
		log.Error().Err(err).Str("room_id", c.id).Msg("failed to build unicast event")
		return
	}
	c.sender.SendToUser(userID, ev)
}
