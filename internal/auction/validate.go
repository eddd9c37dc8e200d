package auction

import (
	"errors"
	"fmt"
)

// Bid rejection reasons, in validation priority order.
var (
	ErrAuctionNotActive   = errors.New("no active auction")
	ErrBelowMinimum       = errors.New("bid below minimum")
	ErrInsufficientBudget = errors.New("insufficient budget")
)

// ValidateBid decides whether a bid is acceptable given the auction state
// and the bidder's remaining budget. It is a pure function: no state is
// mutated and checks run in a fixed priority order. A bidder re-raising
// their own standing bid is allowed.
func ValidateBid(a *PlayerAuction, amount, remainingBudget int64) error {
	if a.Status != StatusActive {
		return ErrAuctionNotActive
	}
	if amount < a.MinimumNextBid {
		return fmt.Errorf("%w: minimum bid is %d", ErrBelowMinimum, a.MinimumNextBid)
	}
	if amount > remainingBudget {
		return fmt.Errorf("%w: you have %d remaining", ErrInsufficientBudget, remainingBudget)
	}
	return nil
}
