package budget

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrInsufficientFunds is returned when a debit would push a participant's
// balance below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Ledger tracks each participant's remaining spendable amount for the
// current session. The pool is global per participant: a user bidding in
// several rooms draws from the same balance, so debits from concurrent
// settlements serialize through the ledger mutex.
//
// Bids are provisional and never escrowed; the only debit happens at
// settlement time.
type Ledger struct {
	mu             sync.Mutex
	defaultBalance int64
	balances       map[string]int64
}

// NewLedger creates a ledger that initializes every participant to the
// given default balance on first access.
func NewLedger(defaultBalance int64) *Ledger {
	return &Ledger{
		defaultBalance: defaultBalance,
		balances:       make(map[string]int64),
	}
}

// Balance returns the participant's remaining budget, initializing it to
// the default on first access.
func (l *Ledger) Balance(userID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(userID)
}

func (l *Ledger) balanceLocked(userID string) int64 {
	if b, ok := l.balances[userID]; ok {
		return b
	}
	l.balances[userID] = l.defaultBalance
	return l.defaultBalance
}

// Debit subtracts amount from the participant's balance. It fails with
// ErrInsufficientFunds and leaves the balance untouched if the participant
// cannot cover the amount.
func (l *Ledger) Debit(userID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balanceLocked(userID)
	if amount > balance {
		return fmt.Errorf("%w: balance %d, debit %d", ErrInsufficientFunds, balance, amount)
	}
	l.balances[userID] = balance - amount

	log.Debug().
		Str("user_id", userID).
		Int64("amount", amount).
		Int64("remaining", balance-amount).
		Msg("budget debited")
	return nil
}

// Reset restores a participant's balance to the default. Administrative
// operation between sessions.
func (l *Ledger) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = l.defaultBalance
}
