package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gavel-live/gavel/internal/events"
)

// SessionHandler receives transport-level lifecycle and inbound commands.
// Implemented by the session manager.
type SessionHandler interface {
	HandleConnect(userID, username, roomID string)
	HandleCommand(userID, username, roomID string, raw []byte)
	HandleDisconnect(userID string)
}

// Socket is the minimal websocket surface the registry needs. Satisfied by
// *websocket.Conn; tests substitute fakes.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Connection represents one participant's live websocket connection. The
// send channel is never closed; writePump exits through done, so a delivery
// racing a teardown at worst buffers into a channel nobody drains.
type Connection struct {
	ID       string
	UserID   string
	Username string
	RoomID   string

	sock     Socket
	send     chan []byte
	done     chan struct{}
	registry *Registry

	closeOnce sync.Once

	ConnectedAt time.Time
}

// close signals both pumps and closes the socket. Idempotent; reached from
// drop and from a reconnect superseding this connection.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

type outboundMessage struct {
	userIDs []string // fanout targets; nil means unicast to userID
	userID  string
	event   *events.Event
}

// Registry maps participants to live connections and delivers unicast and
// fanout notifications. A transport failure on one target is isolated to
// that target: the connection is dropped and the session manager is told,
// the rest of the fanout proceeds.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection // by user id

	upgrader websocket.Upgrader
	config   ConnectionConfig

	outboundCh chan outboundMessage

	handlerMu sync.RWMutex
	handler   SessionHandler
}

// NewRegistry creates a websocket connection registry.
func NewRegistry(config ConnectionConfig) *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:     config,
		outboundCh: make(chan outboundMessage, 1000),
	}
}

// SetHandler wires the session manager in after construction; the manager
// needs the registry as its broadcaster, so the two are built in sequence.
func (r *Registry) SetHandler(h SessionHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.handler = h
}

func (r *Registry) sessionHandler() SessionHandler {
	r.handlerMu.RLock()
	defer r.handlerMu.RUnlock()
	return r.handler
}

// Run drains the outbound channel and delivers events. One consumer keeps
// per-participant delivery in enqueue order.
func (r *Registry) Run(ctx context.Context) {
	log.Info().Msg("connection registry started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection registry shutting down")
			return
		case msg := <-r.outboundCh:
			r.deliver(msg)
		}
	}
}

// Upgrade upgrades an HTTP request to a websocket connection and registers
// it. A previous connection for the same user is superseded.
func (r *Registry) Upgrade(w http.ResponseWriter, req *http.Request, userID, username, roomID string) error {
	sock, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Username:    username,
		RoomID:      roomID,
		sock:        sock,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		registry:    r,
		ConnectedAt: time.Now(),
	}
	r.register(conn)

	go conn.writePump()
	go conn.readPump()

	if h := r.sessionHandler(); h != nil {
		h.HandleConnect(userID, username, roomID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Str("room_id", roomID).
		Msg("websocket connection established")
	return nil
}

func (r *Registry) register(conn *Connection) {
	r.mu.Lock()
	old := r.conns[conn.UserID]
	r.conns[conn.UserID] = conn
	r.mu.Unlock()

	if old != nil {
		// Superseded by a reconnect; tear the old pumps down quietly without
		// a disconnect notification so the user keeps their room membership.
		old.close()
		log.Debug().Str("user_id", conn.UserID).Msg("superseded previous connection")
	}
}

// remove unregisters conn if it is still the live connection for its user.
// Returns true on the first removal so the disconnect notification fires
// exactly once per connection.
func (r *Registry) remove(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[conn.UserID]; !ok || current != conn {
		return false
	}
	delete(r.conns, conn.UserID)
	return true
}

// drop tears a connection down and notifies the session manager, which
// removes the participant from every room and triggers leave broadcasts.
func (r *Registry) drop(conn *Connection) {
	if !r.remove(conn) {
		return
	}
	conn.close()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection dropped")

	if h := r.sessionHandler(); h != nil {
		h.HandleDisconnect(conn.UserID)
	}
}

// BroadcastTo enqueues an event for a set of participants. Non-blocking:
// if the outbound channel is full the event is dropped with a warning
// rather than stalling the room's mutation path.
func (r *Registry) BroadcastTo(userIDs []string, ev *events.Event) {
	select {
	case r.outboundCh <- outboundMessage{userIDs: userIDs, event: ev}:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("outbound channel full, dropping broadcast")
	}
}

// SendToUser enqueues a unicast event.
func (r *Registry) SendToUser(userID string, ev *events.Event) {
	select {
	case r.outboundCh <- outboundMessage{userID: userID, event: ev}:
	default:
		log.Warn().
			Str("type", string(ev.Type)).
			Str("user_id", userID).
			Msg("outbound channel full, dropping unicast")
	}
}

func (r *Registry) deliver(msg outboundMessage) {
	targets := msg.userIDs
	if targets == nil {
		targets = []string{msg.userID}
	}

	r.mu.RLock()
	conns := make([]*Connection, 0, len(targets))
	for _, userID := range targets {
		if conn, ok := r.conns[userID]; ok {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	data, err := json.Marshal(msg.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for delivery")
		return
	}

	// send is never closed, so a target torn down between the snapshot above
	// and this send at worst buffers into a channel nobody drains.
	for _, conn := range conns {
		select {
		case conn.send <- data:
		default:
			// Slow or dead consumer: isolate the failure to this target.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID).
				Msg("send buffer full, dropping connection")
			r.drop(conn)
		}
	}
}

// Stats returns counts of active connections.
func (r *Registry) Stats() (totalConnections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// writePump pushes outbound frames and keeps the connection alive with
// pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.registry.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.registry.drop(c)
	}()

	for {
		select {
		case <-c.done:
			c.sock.SetWriteDeadline(time.Now().Add(c.registry.config.WriteTimeout))
			c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(c.registry.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(c.registry.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump feeds inbound commands to the session manager until the
// connection fails or closes.
func (c *Connection) readPump() {
	defer c.registry.drop(c)

	c.sock.SetReadLimit(c.registry.config.MaxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close")
			}
			return
		}

		if h := c.registry.sessionHandler(); h != nil {
			h.HandleCommand(c.UserID, c.Username, c.RoomID, message)
		}
		c.sock.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
	}
}
