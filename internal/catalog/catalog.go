package catalog

import (
	"context"
	"errors"
)

// ErrPlayerNotFound is returned when a player id does not resolve to a
// catalog entry. Room coordinators treat this as a stale queue entry and
// skip past it.
var ErrPlayerNotFound = errors.New("player not found")

// Player is a read-only catalog entry for a player up for auction.
type Player struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Team      string `json:"team" yaml:"team"`
	Position  string `json:"position" yaml:"position"`
	ImageURL  string `json:"image_url,omitempty" yaml:"image_url"`
	BasePrice int64  `json:"base_price" yaml:"base_price"`
}

// Catalog looks up player reference data. The auction core never mutates
// catalog entries.
type Catalog interface {
	Player(ctx context.Context, id string) (Player, error)
}

// StaticCatalog is an in-memory catalog seeded from configuration. It is the
// default source for development and tests.
type StaticCatalog struct {
	players map[string]Player
}

// NewStaticCatalog builds a catalog from a fixed set of players.
func NewStaticCatalog(players []Player) *StaticCatalog {
	m := make(map[string]Player, len(players))
	for _, p := range players {
		m[p.ID] = p
	}
	return &StaticCatalog{players: m}
}

func (c *StaticCatalog) Player(_ context.Context, id string) (Player, error) {
	p, ok := c.players[id]
	if !ok {
		return Player{}, ErrPlayerNotFound
	}
	return p, nil
}
