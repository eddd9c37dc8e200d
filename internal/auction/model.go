package auction

import (
	"time"

	"github.com/google/uuid"

	"github.com/gavel-live/gavel/internal/catalog"
)

// Status is the lifecycle state of a player auction.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusUnsold    Status = "unsold"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the auction has reached a final state.
func (s Status) Terminal() bool {
	return s == StatusSold || s == StatusUnsold || s == StatusCancelled
}

// Config holds the tunables a room applies to every auction it runs.
type Config struct {
	StartingBid    int64
	BidIncrement   int64
	DurationSec    int
	SnipeWindowSec int
}

// Bid is one entry in an auction's append-only bid history. Once recorded a
// bid is never mutated except for the IsWinning flag flip when superseded.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auction_id"`
	PlayerID  string    `json:"player_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Amount    int64     `json:"amount"`
	PlacedAt  time.Time `json:"placed_at"`
	IsWinning bool      `json:"is_winning"`
}

// Result is the immutable settlement summary, produced exactly once per
// auction.
type Result struct {
	AuctionID        uuid.UUID `json:"auction_id"`
	PlayerID         string    `json:"player_id"`
	PlayerName       string    `json:"player_name"`
	WinningBid       int64     `json:"winning_bid"`
	WinnerUserID     *string   `json:"winner_user_id"`
	WinnerUsername   string    `json:"winner_username,omitempty"`
	TotalBids        int       `json:"total_bids"`
	ParticipantCount int       `json:"participant_count"`
	DurationSec      int       `json:"auction_duration_sec"`
}

// PlayerAuction owns one player's auction lifecycle within a room. All
// mutations run under the owning room's lock; the struct itself carries no
// synchronization.
type PlayerAuction struct {
	ID      uuid.UUID       `json:"id"`
	RoomID  string          `json:"room_id"`
	Player  catalog.Player  `json:"player"`
	Status  Status          `json:"status"`

	StartingBid    int64 `json:"starting_bid"`
	CurrentBid     int64 `json:"current_bid"`
	BidIncrement   int64 `json:"bid_increment"`
	MinimumNextBid int64 `json:"minimum_next_bid"`

	CurrentWinner     string `json:"current_winner,omitempty"`
	CurrentWinnerName string `json:"current_winner_username,omitempty"`

	Bids      []*Bid `json:"bids"`
	TotalBids int    `json:"total_bids"`

	// Participants have placed at least one bid; watchers joined the room
	// but have not bid yet.
	Participants []string `json:"participants"`
	Watchers     []string `json:"watchers"`

	TimeRemaining int        `json:"time_remaining"`
	DurationSec   int        `json:"duration_sec"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastBidAt     *time.Time `json:"last_bid_at,omitempty"`

	snipeWindowSec int
}

// New creates an auction in the waiting state for a catalog player.
func New(roomID string, player catalog.Player, cfg Config) *PlayerAuction {
	startingBid := cfg.StartingBid
	if player.BasePrice > startingBid {
		startingBid = player.BasePrice
	}
	return &PlayerAuction{
		ID:             uuid.New(),
		RoomID:         roomID,
		Player:         player,
		Status:         StatusWaiting,
		StartingBid:    startingBid,
		CurrentBid:     startingBid,
		BidIncrement:   cfg.BidIncrement,
		MinimumNextBid: startingBid + cfg.BidIncrement,
		TimeRemaining:  cfg.DurationSec,
		DurationSec:    cfg.DurationSec,
		snipeWindowSec: cfg.SnipeWindowSec,
	}
}

// Start transitions the auction from waiting to active.
func (a *PlayerAuction) Start(now time.Time) error {
	if a.Status != StatusWaiting {
		return ErrAuctionNotActive
	}
	a.Status = StatusActive
	a.StartedAt = now
	return nil
}

// AddWatcher records a room member who is observing the auction without
// having bid.
func (a *PlayerAuction) AddWatcher(userID string) {
	if containsString(a.Watchers, userID) || containsString(a.Participants, userID) {
		return
	}
	a.Watchers = append(a.Watchers, userID)
}

// ApplyBid validates and records a bid. On acceptance it appends the bid
// with IsWinning set, flips the previous winning bid's flag, updates
// current/minimum/winner, promotes the bidder from watcher to participant,
// and applies the anti-snipe extension. It returns the recorded bid and
// whether the clock was extended. On rejection nothing is mutated.
func (a *PlayerAuction) ApplyBid(userID, username string, amount, remainingBudget int64, now time.Time) (*Bid, bool, error) {
	if err := ValidateBid(a, amount, remainingBudget); err != nil {
		return nil, false, err
	}

	bid := &Bid{
		ID:        uuid.New(),
		AuctionID: a.ID,
		PlayerID:  a.Player.ID,
		UserID:    userID,
		Username:  username,
		Amount:    amount,
		PlacedAt:  now,
		IsWinning: true,
	}

	for _, prev := range a.Bids {
		prev.IsWinning = false
	}
	a.Bids = append(a.Bids, bid)

	a.CurrentBid = amount
	a.MinimumNextBid = amount + a.BidIncrement
	a.CurrentWinner = userID
	a.CurrentWinnerName = username
	a.TotalBids++
	a.LastBidAt = &now

	if !containsString(a.Participants, userID) {
		a.Participants = append(a.Participants, userID)
		a.Watchers = removeString(a.Watchers, userID)
	}

	extended := false
	if a.TimeRemaining < a.snipeWindowSec {
		a.TimeRemaining = a.snipeWindowSec
		extended = true
	}

	return bid, extended, nil
}

// Settle terminates an active auction as sold or unsold and produces the
// result. It is idempotent in effect: settling an already-terminal auction
// returns ok=false and mutates nothing, so the caller never double-debits.
func (a *PlayerAuction) Settle(now time.Time) (*Result, bool) {
	if a.Status != StatusActive {
		return nil, false
	}

	if a.CurrentWinner != "" {
		a.Status = StatusSold
	} else {
		a.Status = StatusUnsold
	}
	a.EndedAt = &now

	result := &Result{
		AuctionID:        a.ID,
		PlayerID:         a.Player.ID,
		PlayerName:       a.Player.Name,
		TotalBids:        a.TotalBids,
		ParticipantCount: len(a.Participants),
		DurationSec:      a.DurationSec - a.TimeRemaining,
	}
	if a.Status == StatusSold {
		winner := a.CurrentWinner
		result.WinningBid = a.CurrentBid
		result.WinnerUserID = &winner
		result.WinnerUsername = a.CurrentWinnerName
	}
	return result, true
}

// Cancel terminates the auction without settlement. No result is produced
// and no budget is touched.
func (a *PlayerAuction) Cancel(now time.Time) bool {
	if a.Status.Terminal() {
		return false
	}
	a.Status = StatusCancelled
	a.EndedAt = &now
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
