package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/gavel-live/gavel/internal/events"
)

// fakeSocket is an in-memory Socket. Inbound frames are pushed by the test;
// outbound text frames are recorded for inspection.
type fakeSocket struct {
	mu      sync.Mutex
	frames  [][]byte
	inbound chan []byte
	closed  bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbound: make(chan []byte, 16)}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	msg, ok := <-s.inbound
	if !ok {
		return 0, nil, errors.New("use of closed connection")
	}
	return websocket.TextMessage, msg, nil
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("write on closed connection")
	}
	if messageType == websocket.TextMessage {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.frames = append(s.frames, cp)
	}
	return nil
}

func (s *fakeSocket) SetReadDeadline(time.Time) error  { return nil }
func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }
func (s *fakeSocket) SetReadLimit(int64)               {}
func (s *fakeSocket) SetPongHandler(func(string) error) {}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.inbound)
	}
	return nil
}

func (s *fakeSocket) push(t *testing.T, msg []byte) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.False(t, s.closed, "push on closed socket")
	s.inbound <- msg
}

func (s *fakeSocket) textFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type inboundCommand struct {
	userID, username, roomID string
	raw                      string
}

type fakeHandler struct {
	mu          sync.Mutex
	commands    []inboundCommand
	disconnects []string
}

func (h *fakeHandler) HandleConnect(userID, username, roomID string) {}

func (h *fakeHandler) HandleCommand(userID, username, roomID string, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, inboundCommand{userID, username, roomID, string(raw)})
}

func (h *fakeHandler) HandleDisconnect(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, userID)
}

func (h *fakeHandler) commandsSnapshot() []inboundCommand {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]inboundCommand, len(h.commands))
	copy(out, h.commands)
	return out
}

func (h *fakeHandler) disconnectsSnapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.disconnects))
	copy(out, h.disconnects)
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *fakeHandler) {
	t.Helper()
	reg := NewRegistry(DefaultConnectionConfig())
	handler := &fakeHandler{}
	reg.SetHandler(handler)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go reg.Run(ctx)
	return reg, handler
}

// attach registers a connection over a fake socket and starts its pumps,
// mirroring what Upgrade does after the HTTP handshake.
func attach(t *testing.T, reg *Registry, userID, roomID string, buffered int) (*Connection, *fakeSocket) {
	t.Helper()
	sock := newFakeSocket()
	conn := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Username:    userID,
		RoomID:      roomID,
		sock:        sock,
		send:        make(chan []byte, buffered),
		done:        make(chan struct{}),
		registry:    reg,
		ConnectedAt: time.Now(),
	}
	reg.register(conn)
	go conn.writePump()
	go conn.readPump()
	t.Cleanup(func() { sock.Close() })
	return conn, sock
}

func decodeFrame(t *testing.T, frame []byte) *events.Event {
	t.Helper()
	var ev events.Event
	require.NoError(t, json.Unmarshal(frame, &ev))
	return &ev
}

func waitForFrames(t *testing.T, sock *fakeSocket, n int) [][]byte {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(sock.textFrames()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return sock.textFrames()
}

func TestBroadcastFanout(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, sock1 := attach(t, reg, "u1", "room-1", 256)
	_, sock2 := attach(t, reg, "u2", "room-1", 256)
	_, sock3 := attach(t, reg, "u3", "room-1", 256)

	ev, err := events.New("room-1", events.TypeTimerUpdate, events.TimerUpdatePayload{
		AuctionID:     "a1",
		TimeRemaining: 42,
	}, time.Now())
	require.NoError(t, err)

	reg.BroadcastTo([]string{"u1", "u2"}, ev)

	for _, sock := range []*fakeSocket{sock1, sock2} {
		frames := waitForFrames(t, sock, 1)
		got := decodeFrame(t, frames[0])
		require.Equal(t, events.TypeTimerUpdate, got.Type)
		require.Equal(t, ev.ID, got.ID)
	}
	require.Empty(t, sock3.textFrames(), "non-target receives nothing")
}

func TestUnicast(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, sock1 := attach(t, reg, "u1", "room-1", 256)
	_, sock2 := attach(t, reg, "u2", "room-1", 256)

	ev, err := events.New("room-1", events.TypePong, nil, time.Now())
	require.NoError(t, err)

	reg.SendToUser("u1", ev)

	frames := waitForFrames(t, sock1, 1)
	require.Equal(t, events.TypePong, decodeFrame(t, frames[0]).Type)
	require.Empty(t, sock2.textFrames())
}

func TestUnicast_UnknownUserIsDropped(t *testing.T) {
	reg, handler := newTestRegistry(t)
	_, sock1 := attach(t, reg, "u1", "room-1", 256)

	ev, err := events.New("room-1", events.TypePong, nil, time.Now())
	require.NoError(t, err)
	reg.SendToUser("ghost", ev)

	// Prove delivery already cycled by landing a later event.
	ev2, err := events.New("room-1", events.TypePong, nil, time.Now())
	require.NoError(t, err)
	reg.SendToUser("u1", ev2)

	waitForFrames(t, sock1, 1)
	require.Empty(t, handler.disconnectsSnapshot())
}

func TestDeliveryPreservesEnqueueOrder(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, sock := attach(t, reg, "u1", "room-1", 256)

	const n = 20
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ev, err := events.New("room-1", events.TypeTimerUpdate, events.TimerUpdatePayload{
			AuctionID:     "a1",
			TimeRemaining: n - i,
		}, time.Now())
		require.NoError(t, err)
		want = append(want, ev.ID)
		reg.BroadcastTo([]string{"u1"}, ev)
	}

	frames := waitForFrames(t, sock, n)
	for i, frame := range frames[:n] {
		require.Equal(t, want[i], decodeFrame(t, frame).ID, "frame %d out of order", i)
	}
}

// A connection whose send buffer cannot accept the frame is dropped and the
// session manager is told exactly once; other fanout targets still receive.
func TestSlowConsumerIsDropped(t *testing.T) {
	reg, handler := newTestRegistry(t)
	_, healthySock := attach(t, reg, "u1", "room-1", 256)

	// Stalled consumer: unbuffered send channel and no write pump.
	stuckSock := newFakeSocket()
	stuck := &Connection{
		ID:       uuid.New().String(),
		UserID:   "u2",
		Username: "u2",
		RoomID:   "room-1",
		sock:     stuckSock,
		send:     make(chan []byte),
		done:     make(chan struct{}),
		registry: reg,
	}
	reg.register(stuck)
	require.Equal(t, 2, reg.Stats())

	ev, err := events.New("room-1", events.TypeUserJoined, events.UserJoinedPayload{UserID: "u3"}, time.Now())
	require.NoError(t, err)
	reg.BroadcastTo([]string{"u1", "u2"}, ev)

	waitForFrames(t, healthySock, 1)
	require.Eventually(t, func() bool { return stuckSock.isClosed() }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"u2"}, handler.disconnectsSnapshot())
	require.Equal(t, 1, reg.Stats())
}

// A participant disconnecting while a broadcast to them is in flight must
// never take down the delivery loop: delivery snapshots the connection,
// releases the registry lock, and only then sends, so teardown can land
// anywhere in that window.
func TestBroadcastRacingDisconnect(t *testing.T) {
	reg, _ := newTestRegistry(t)

	ev, err := events.New("room-1", events.TypeTimerUpdate, events.TimerUpdatePayload{
		AuctionID:     "a1",
		TimeRemaining: 1,
	}, time.Now())
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				reg.BroadcastTo([]string{"u1"}, ev)
			}
		}
	}()

	// Tiny send buffers force the slow-consumer drop path as well.
	for i := 0; i < 500; i++ {
		conn, _ := attach(t, reg, "u1", "room-1", 1)
		reg.drop(conn)
	}
	close(stop)
	wg.Wait()

	// The delivery loop survived: a fresh connection still receives.
	_, sock := attach(t, reg, "u2", "room-1", 256)
	ev2, err := events.New("room-1", events.TypePong, nil, time.Now())
	require.NoError(t, err)
	reg.SendToUser("u2", ev2)
	waitForFrames(t, sock, 1)
}

func TestInboundCommandDispatch(t *testing.T) {
	reg, handler := newTestRegistry(t)
	_, sock := attach(t, reg, "u1", "room-1", 256)

	sock.push(t, []byte(`{"type": "ping"}`))

	require.Eventually(t, func() bool {
		return len(handler.commandsSnapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cmd := handler.commandsSnapshot()[0]
	require.Equal(t, "u1", cmd.userID)
	require.Equal(t, "room-1", cmd.roomID)
	require.JSONEq(t, `{"type": "ping"}`, cmd.raw)
}

func TestSocketFailureNotifiesDisconnectOnce(t *testing.T) {
	reg, handler := newTestRegistry(t)
	_, sock := attach(t, reg, "u1", "room-1", 256)

	sock.Close()

	require.Eventually(t, func() bool {
		return len(handler.disconnectsSnapshot()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// Both pumps tear down through drop; only the first removal notifies.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"u1"}, handler.disconnectsSnapshot())
	require.Zero(t, reg.Stats())
}

// A reconnect supersedes the previous connection without a disconnect
// notification, so the user keeps their room membership.
func TestReconnectSupersedes(t *testing.T) {
	reg, handler := newTestRegistry(t)
	oldConn, oldSock := attach(t, reg, "u1", "room-1", 256)
	_, newSock := attach(t, reg, "u1", "room-1", 256)

	require.Eventually(t, func() bool { return oldSock.isClosed() }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, reg.Stats())

	// The superseded pumps shut down right away, not at the next ping.
	select {
	case <-oldConn.done:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded connection's pumps were not signalled")
	}

	ev, err := events.New("room-1", events.TypePong, nil, time.Now())
	require.NoError(t, err)
	reg.SendToUser("u1", ev)

	waitForFrames(t, newSock, 1)
	require.Empty(t, handler.disconnectsSnapshot(), "superseded connection must not look like a leave")
}
