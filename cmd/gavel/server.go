package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/gavel-live/gavel/internal/gateway"
	"github.com/gavel-live/gavel/internal/room"
	"github.com/gavel-live/gavel/internal/session"
)

func setupServer(wsHandler *gateway.Handler, mgr *session.Manager) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// WebSocket routes
	wsHandler.RegisterRoutes(mux)

	// Administrative routes: room lifecycle is driven from outside the core.
	registerAdminRoutes(mux, mgr)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func registerAdminRoutes(mux *http.ServeMux, mgr *session.Manager) {
	mux.HandleFunc("POST /rooms", func(w http.ResponseWriter, r *http.Request) {
		var cfg room.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid room config")
			return
		}
		if _, err := mgr.CreateRoom(cfg); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"room_id": cfg.ID})
	})

	mux.HandleFunc("POST /rooms/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("id")
		playerID := r.URL.Query().Get("player_id")

		a, err := mgr.StartNextAuction(r.Context(), roomID, playerID)
		if err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("failed to start auction")
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, a)
	})

	mux.HandleFunc("POST /rooms/{id}/close", func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("id")
		if err := mgr.CloseRoom(roomID); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID, "status": "completed"})
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrRoomExists),
		errors.Is(err, room.ErrAuctionAlreadyActive),
		errors.Is(err, room.ErrRoomClosed):
		return http.StatusConflict
	case errors.Is(err, room.ErrQueueEmpty):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
