package accrual

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"energytiles/internal/db"
	"energytiles/internal/energy"
)

// DefaultTileRadius is used when a new tile is given no positive radius.
const DefaultTileRadius = 0.001

// DefaultTileCapacity is the rated capacity of a tile added without one.
const DefaultTileCapacity = 1000

// NewTile is an admin request to add a tile.
type NewTile struct {
	Name      string
	Latitude  float64
	Longitude float64
	Radius    float64
	Capacity  int
}

// Tiles returns every tile ordered by ID.
func (s *Service) Tiles(ctx context.Context) ([]energy.Tile, error) {
	tiles, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]energy.Tile, len(tiles))
	copy(out, tiles)
	return out, nil
}

// AddTile validates and stores a new tile and returns its ID. A tile closer
// than energy.DuplicateEpsilon on both axes to an existing one is rejected.
func (s *Service) AddTile(ctx context.Context, nt NewTile) (string, error) {
	name := strings.TrimSpace(nt.Name)
	if name == "" {
		return "", energy.ErrMissingField
	}
	if err := energy.ValidateCoordinates(nt.Latitude, nt.Longitude); err != nil {
		return "", err
	}
	if nt.Capacity <= 0 {
		return "", energy.ErrInvalidCapacity
	}
	radius := nt.Radius
	if !(radius > 0) {
		radius = DefaultTileRadius
	}

	s.tilesMu.Lock()
	defer s.tilesMu.Unlock()
	if !s.tilesLoaded {
		if err := s.loadTilesLocked(ctx); err != nil {
			return "", err
		}
	}

	taken := make(map[string]bool, len(s.tiles))
	for _, t := range s.tiles {
		if energy.SameLocation(t.Latitude, t.Longitude, nt.Latitude, nt.Longitude) {
			return "", energy.ErrDuplicateTileLocation
		}
		taken[t.ID] = true
	}

	id := nextTileID(len(s.tiles), taken)
	tile := energy.Tile{
		ID:        id,
		Name:      name,
		Latitude:  nt.Latitude,
		Longitude: nt.Longitude,
		Radius:    radius,
		Capacity:  nt.Capacity,
	}
	if err := s.store.CreateTile(ctx, tile); err != nil {
		return "", err
	}

	next := make([]energy.Tile, 0, len(s.tiles)+1)
	next = append(next, s.tiles...)
	next = append(next, tile)
	energy.SortTiles(next)
	s.tiles = next
	return id, nil
}

// nextTileID numbers from count+1 and skips IDs already in use.
func nextTileID(count int, taken map[string]bool) string {
	n := count + 1
	for {
		id := fmt.Sprintf("tile_%03d", n)
		if !taken[id] {
			return id
		}
		n++
	}
}

// RemoveTile deletes a tile. Past events keep their copy of its name and
// position.
func (s *Service) RemoveTile(ctx context.Context, tileID string) error {
	s.tilesMu.Lock()
	defer s.tilesMu.Unlock()

	if err := s.store.DeleteTile(ctx, tileID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return energy.ErrUnknownTile
		}
		return err
	}

	if !s.tilesLoaded {
		return s.loadTilesLocked(ctx)
	}
	next := make([]energy.Tile, 0, len(s.tiles))
	for _, t := range s.tiles {
		if t.ID != tileID {
			next = append(next, t)
		}
	}
	s.tiles = next
	return nil
}

// IncrementTileUsage bumps a tile's usage counter and returns the new value.
func (s *Service) IncrementTileUsage(ctx context.Context, tileID string) (int, error) {
	usage, err := s.store.IncrementTileUsage(ctx, tileID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return 0, energy.ErrUnknownTile
		}
		return 0, err
	}
	s.setUsage(tileID, usage)
	return usage, nil
}
