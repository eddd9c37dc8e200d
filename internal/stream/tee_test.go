package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gavel-live/gavel/internal/events"
)

type recordingBroadcaster struct {
	mu         sync.Mutex
	broadcasts []*events.Event
	unicasts   []*events.Event
}

func (r *recordingBroadcaster) BroadcastTo(_ []string, ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, ev)
}

func (r *recordingBroadcaster) SendToUser(_ string, ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unicasts = append(r.unicasts, ev)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []*events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, ev)
	return nil
}

func (r *recordingPublisher) Close() {}

func (r *recordingPublisher) snapshot() []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*events.Event, len(r.published))
	copy(out, r.published)
	return out
}

func TestTee_MirrorsBroadcasts(t *testing.T) {
	next := &recordingBroadcaster{}
	pub := &recordingPublisher{}
	tee := NewTee(next, pub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go tee.Run(ctx)

	ev, err := events.New("room-1", events.TypeTimerUpdate, events.TimerUpdatePayload{AuctionID: "a1", TimeRemaining: 10}, time.Now())
	require.NoError(t, err)
	tee.BroadcastTo([]string{"u1"}, ev)

	// Forwarding to the registry is synchronous.
	require.Len(t, next.broadcasts, 1)
	require.Equal(t, ev.ID, next.broadcasts[0].ID)

	// Mirroring is asynchronous through Run.
	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, ev.ID, pub.snapshot()[0].ID)
}

func TestTee_UnicastsAreNotMirrored(t *testing.T) {
	next := &recordingBroadcaster{}
	pub := &recordingPublisher{}
	tee := NewTee(next, pub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go tee.Run(ctx)

	ev, err := events.New("room-1", events.TypePong, nil, time.Now())
	require.NoError(t, err)
	tee.SendToUser("u1", ev)

	require.Len(t, next.unicasts, 1)
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, pub.snapshot())
}
