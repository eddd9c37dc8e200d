package events

import (
	"github.com/gavel-live/gavel/internal/auction"
)

// ConnectionConfirmedPayload is sent to a participant right after connect.
type ConnectionConfirmedPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	RoomID   string `json:"room_id"`
	Budget   int64  `json:"budget"`
}

// UserJoinedPayload announces a participant entering a room.
type UserJoinedPayload struct {
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	ParticipantCount int    `json:"participant_count"`
}

// UserLeftPayload announces a participant leaving a room.
type UserLeftPayload struct {
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	ParticipantCount int    `json:"participant_count"`
}

// AuctionStartedPayload carries the full state of a freshly started auction.
type AuctionStartedPayload struct {
	Auction *auction.PlayerAuction `json:"auction"`
}

// AuctionSummary is the compact state snippet attached to every accepted
// bid.
type AuctionSummary struct {
	CurrentBid       int64  `json:"current_bid"`
	MinimumNextBid   int64  `json:"minimum_next_bid"`
	CurrentWinner    string `json:"current_winner"`
	TotalBids        int    `json:"total_bids"`
	TimeRemaining    int    `json:"time_remaining"`
	ParticipantCount int    `json:"participant_count"`
}

// BidPlacedPayload broadcasts an accepted bid to the whole room.
type BidPlacedPayload struct {
	AuctionID    string         `json:"auction_id"`
	Bid          *auction.Bid   `json:"bid"`
	AuctionState AuctionSummary `json:"auction_state"`
}

// BidConfirmedPayload acknowledges an accepted bid to the bidder only.
type BidConfirmedPayload struct {
	AuctionID string `json:"auction_id"`
	BidID     string `json:"bid_id"`
	Amount    int64  `json:"amount"`
	Budget    int64  `json:"budget"`
}

// BidErrorPayload reports a rejected bid to the bidder only.
type BidErrorPayload struct {
	Message string `json:"message"`
}

// TimerUpdatePayload is the periodic countdown broadcast.
type TimerUpdatePayload struct {
	AuctionID     string `json:"auction_id"`
	TimeRemaining int    `json:"time_remaining"`
}

// AuctionEndedPayload broadcasts the settlement outcome with the full bid
// history of the finished auction.
type AuctionEndedPayload struct {
	Result     *auction.Result `json:"auction_result"`
	BidHistory []*auction.Bid  `json:"bid_history"`
}

// RoomStatePayload is the snapshot sent on join or on request.
type RoomStatePayload struct {
	RoomID           string                 `json:"room_id"`
	RoomName         string                 `json:"room_name"`
	Status           string                 `json:"status"`
	ParticipantCount int                    `json:"participant_count"`
	UserBudget       int64                  `json:"user_budget"`
	CurrentAuction   *auction.PlayerAuction `json:"current_auction,omitempty"`
	BidHistory       []*auction.Bid         `json:"bid_history,omitempty"`
	QueueLength      int                    `json:"queue_length"`
	CompletedCount   int                    `json:"completed_count"`
}

// ErrorPayload is the generic non-fatal error event.
type ErrorPayload struct {
	Message string `json:"message"`
}
