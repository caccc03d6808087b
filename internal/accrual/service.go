// Package accrual turns location checks and sensor readings into persisted
// energy, and serves the read models built on top of it.
package accrual

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"energytiles/internal/db"
	"energytiles/internal/energy"
	"energytiles/internal/metrics"
)

// Store is the persistence the service needs. *db.Store implements it.
type Store interface {
	ListTiles(ctx context.Context) ([]energy.Tile, error)
	CreateTile(ctx context.Context, t energy.Tile) error
	DeleteTile(ctx context.Context, tileID string) error
	IncrementTileUsage(ctx context.Context, tileID string) (int, error)

	RecordAccrual(ctx context.Context, a db.Accrual) (db.Recorded, error)
	TouchMetrics(ctx context.Context, username, month string) (energy.Metrics, error)
	ListMetrics(ctx context.Context, limit int) ([]db.UserMetrics, error)

	RecentEvents(ctx context.Context, username string, limit int) ([]db.EnergyEvent, error)
	EventsSince(ctx context.Context, username string, since time.Time) ([]db.EnergyEvent, error)
	LastLocatedEvent(ctx context.Context, username string) (db.EnergyEvent, error)
	FindEvent(ctx context.Context, eventID string) (db.EnergyEvent, error)
	TileBuckets(ctx context.Context, since time.Time) ([]db.TileBucket, error)

	CountActiveUsers(ctx context.Context, role string, now time.Time) (int64, error)
}

// Publisher receives every committed energy event.
type Publisher interface {
	Publish(ctx context.Context, ev db.EnergyEvent) error
}

// Service coordinates the calculator, the store and the event publisher.
type Service struct {
	store Store
	calc  *energy.Calculator
	pub   Publisher

	users keyedMutex

	// tiles is sorted by ID and only replaced while tilesMu is held for
	// writing. Readers take a copy of the slice header under the read lock.
	tilesMu     sync.RWMutex
	tiles       []energy.Tile
	tilesLoaded bool
}

// NewService builds a Service. pub may be nil, in which case events are
// only stored.
func NewService(store Store, calc *energy.Calculator, pub Publisher) *Service {
	return &Service{store: store, calc: calc, pub: pub}
}

// LoadTiles (re)reads the tile list from the store.
func (s *Service) LoadTiles(ctx context.Context) error {
	s.tilesMu.Lock()
	defer s.tilesMu.Unlock()
	return s.loadTilesLocked(ctx)
}

func (s *Service) loadTilesLocked(ctx context.Context) error {
	tiles, err := s.store.ListTiles(ctx)
	if err != nil {
		return err
	}
	energy.SortTiles(tiles)
	s.tiles = tiles
	s.tilesLoaded = true
	return nil
}

// snapshot returns the current tile list. The returned slice must not be
// modified.
func (s *Service) snapshot(ctx context.Context) ([]energy.Tile, error) {
	s.tilesMu.RLock()
	if s.tilesLoaded {
		tiles := s.tiles
		s.tilesMu.RUnlock()
		return tiles, nil
	}
	s.tilesMu.RUnlock()

	s.tilesMu.Lock()
	defer s.tilesMu.Unlock()
	if !s.tilesLoaded {
		if err := s.loadTilesLocked(ctx); err != nil {
			return nil, err
		}
	}
	return s.tiles, nil
}

func (s *Service) findTile(ctx context.Context, tileID string) (energy.Tile, error) {
	tiles, err := s.snapshot(ctx)
	if err != nil {
		return energy.Tile{}, err
	}
	for _, t := range tiles {
		if t.ID == tileID {
			return t, nil
		}
	}
	return energy.Tile{}, energy.ErrUnknownTile
}

// setUsage records a committed usage count in the cache. Counters only grow,
// so a value committed earlier but reported late never lowers the cached
// one. Copy-on-write keeps earlier snapshots stable.
func (s *Service) setUsage(tileID string, committed int) {
	s.tilesMu.Lock()
	defer s.tilesMu.Unlock()
	for i, t := range s.tiles {
		if t.ID != tileID {
			continue
		}
		if committed <= t.UsageCount {
			return
		}
		next := make([]energy.Tile, len(s.tiles))
		copy(next, s.tiles)
		next[i].UsageCount = committed
		s.tiles = next
		return
	}
}

// record runs one accrual under the user's lock. The month is read once the
// lock is held, and the event is published before it is released so one
// user's events reach the bus in commit order.
func (s *Service) record(ctx context.Context, a db.Accrual) (energy.Metrics, error) {
	unlock := s.users.Lock(a.Username)
	defer unlock()

	a.Month = s.calc.Month()
	rec, err := s.store.RecordAccrual(ctx, a)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return rec.Metrics, energy.ErrUnknownTile
		}
		return rec.Metrics, err
	}
	s.setUsage(a.Event.TileID, rec.TileUsage)

	metrics.ObserveAccrual(a.Event.Source, a.Event.EnergyWh, a.Event.RewardPoints)
	s.publish(ctx, a.Event)
	return rec.Metrics, nil
}

func (s *Service) publish(ctx context.Context, ev db.EnergyEvent) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(metrics.ResultError).Inc()
		log.Printf("publish energy event %s: %v", ev.EventID, err)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(metrics.ResultOK).Inc()
}
