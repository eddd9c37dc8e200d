package auction

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Driver is the serialized mutation path the countdown clock calls into.
// Implementations (the room coordinator) take their room lock inside each
// method, so a tick can never race a concurrent bid or settlement.
type Driver interface {
	// Tick subtracts elapsed seconds from the auction's remaining time and
	// reports the new value. active=false tells the clock the auction ended
	// early (settled by another path or cancelled) and the loop must stop.
	Tick(elapsedSec int) (remainingSec int, active bool)

	// Expire settles the auction once the countdown reaches zero.
	Expire()
}

// Clock drives one active auction's countdown in its own goroutine. It
// ticks every second inside the snipe window and every five seconds
// outside it, keeping broadcast volume low while far from expiry. The
// countdown itself lives on the PlayerAuction so a qualifying bid can
// extend it under the room lock; the clock picks the new value up on its
// next wake, which is always at most five seconds away.
type Clock struct {
	clk            clockwork.Clock
	snipeWindowSec int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClock creates a countdown clock. Tests pass a clockwork.FakeClock.
func NewClock(clk clockwork.Clock, snipeWindowSec int) *Clock {
	return &Clock{
		clk:            clk,
		snipeWindowSec: snipeWindowSec,
		done:           make(chan struct{}),
	}
}

// Start launches the countdown goroutine.
func (c *Clock) Start(d Driver) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx, d)
}

// Stop cancels the countdown and waits for the goroutine to exit, so
// teardown never leaks a pending wakeup. Safe to call after the clock has
// already expired.
func (c *Clock) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// Done is closed when the countdown goroutine exits.
func (c *Clock) Done() <-chan struct{} {
	return c.done
}

func (c *Clock) run(ctx context.Context, d Driver) {
	defer close(c.done)

	elapsed := 0
	for {
		remaining, active := d.Tick(elapsed)
		if !active {
			return
		}
		if remaining <= 0 {
			d.Expire()
			return
		}

		step := 5
		if remaining <= c.snipeWindowSec {
			step = 1
		}

		timer := c.clk.NewTimer(time.Duration(step) * time.Second)
		select {
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			log.Debug().Msg("auction clock cancelled")
			return
		case <-timer.Chan():
		}
		elapsed = step
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent
// goroutine leaks, per the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
