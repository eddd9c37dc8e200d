package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// RoomDirectory answers room existence checks for connection requests.
// Implemented by the session manager.
type RoomDirectory interface {
	RoomExists(roomID string) bool
}

// Handler handles websocket upgrade requests for auction room connections.
type Handler struct {
	registry *Registry
	rooms    RoomDirectory
}

// NewHandler creates a websocket handler.
func NewHandler(registry *Registry, rooms RoomDirectory) *Handler {
	return &Handler{registry: registry, rooms: rooms}
}

// HandleAuctionConnection upgrades a request to a websocket connection for
// a room. Identity comes from query parameters; in production it would come
// from a session token.
func (h *Handler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	username := r.URL.Query().Get("username")
	if username == "" {
		username = userID
	}

	if !h.rooms.RoomExists(roomID) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	if err := h.registry.Upgrade(w, r, userID, username, roomID); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("failed to upgrade websocket connection")
		return
	}
}

// HandleConnectionStats returns counts of active connections.
func (h *Handler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"total_connections": h.registry.Stats(),
	})
}

// RegisterRoutes registers websocket routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/auction", h.HandleAuctionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
