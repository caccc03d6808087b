package accrual

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"energytiles/internal/db"
	"energytiles/internal/energy"
)

// fakeStore keeps everything in memory. RecordAccrual deliberately reads and
// writes the metrics row under separate locks so that lost updates show up
// unless callers serialize per user.
type fakeStore struct {
	mu       sync.Mutex
	tiles    map[string]energy.Tile
	metrics  map[string]energy.Metrics
	events   []db.EnergyEvent
	sessions map[string]int64

	listCalls int
	failWith  error
}

func newFakeStore(tiles ...energy.Tile) *fakeStore {
	f := &fakeStore{
		tiles:    make(map[string]energy.Tile),
		metrics:  make(map[string]energy.Metrics),
		sessions: make(map[string]int64),
	}
	for _, t := range tiles {
		f.tiles[t.ID] = t
	}
	return f
}

func (f *fakeStore) ListTiles(context.Context) ([]energy.Tile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]energy.Tile, 0, len(f.tiles))
	for _, t := range f.tiles {
		out = append(out, t)
	}
	energy.SortTiles(out)
	return out, nil
}

func (f *fakeStore) CreateTile(_ context.Context, t energy.Tile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tiles[t.ID]; ok {
		return errors.New("duplicate tile id")
	}
	f.tiles[t.ID] = t
	return nil
}

func (f *fakeStore) DeleteTile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tiles[id]; !ok {
		return db.ErrNotFound
	}
	delete(f.tiles, id)
	return nil
}

func (f *fakeStore) IncrementTileUsage(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiles[id]
	if !ok {
		return 0, db.ErrNotFound
	}
	t.UsageCount++
	f.tiles[id] = t
	return t.UsageCount, nil
}

func (f *fakeStore) RecordAccrual(_ context.Context, a db.Accrual) (db.Recorded, error) {
	f.mu.Lock()
	if f.failWith != nil {
		f.mu.Unlock()
		return db.Recorded{}, f.failWith
	}
	if _, ok := f.tiles[a.Event.TileID]; !ok {
		f.mu.Unlock()
		return db.Recorded{}, db.ErrNotFound
	}
	m, ok := f.metrics[a.Username]
	if !ok {
		m = energy.Metrics{LastResetMonth: a.Month}
	}
	f.mu.Unlock()

	runtime.Gosched()
	a.Apply(&m, a.Month)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[a.Username] = m
	f.events = append(f.events, a.Event)
	t := f.tiles[a.Event.TileID]
	if a.CountVisit {
		t.UsageCount++
		f.tiles[t.ID] = t
	}
	return db.Recorded{Metrics: m, TileUsage: t.UsageCount}, nil
}

func (f *fakeStore) TouchMetrics(_ context.Context, username, month string) (energy.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.metrics[username]
	if !ok {
		m = energy.Metrics{LastResetMonth: month}
	}
	energy.RollOver(&m, month)
	f.metrics[username] = m
	return m, nil
}

func (f *fakeStore) ListMetrics(_ context.Context, limit int) ([]db.UserMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]db.UserMetrics, 0, len(f.metrics))
	for name, m := range f.metrics {
		rows = append(rows, db.UserMetrics{Username: name, Metrics: m})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RewardPoints != rows[j].RewardPoints {
			return rows[i].RewardPoints > rows[j].RewardPoints
		}
		return rows[i].Username < rows[j].Username
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeStore) userEvents(username string) []db.EnergyEvent {
	var out []db.EnergyEvent
	for _, ev := range f.events {
		if ev.Username == username {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeStore) RecentEvents(_ context.Context, username string, limit int) ([]db.EnergyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.userEvents(username)
	out := make([]db.EnergyEvent, 0, limit)
	for i := len(evs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, evs[i])
	}
	return out, nil
}

func (f *fakeStore) EventsSince(_ context.Context, username string, since time.Time) ([]db.EnergyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.EnergyEvent
	for _, ev := range f.userEvents(username) {
		if !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeStore) LastLocatedEvent(_ context.Context, username string) (db.EnergyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.userEvents(username)
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Latitude != nil && evs[i].Longitude != nil {
			return evs[i], nil
		}
	}
	return db.EnergyEvent{}, db.ErrNotFound
}

func (f *fakeStore) FindEvent(_ context.Context, eventID string) (db.EnergyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.EventID == eventID {
			return ev, nil
		}
	}
	return db.EnergyEvent{}, db.ErrNotFound
}

func (f *fakeStore) TileBuckets(_ context.Context, since time.Time) ([]db.TileBucket, error) {
	return []db.TileBucket{{TileID: "tile_001", Day: since, EventCount: 1}}, nil
}

func (f *fakeStore) CountActiveUsers(_ context.Context, role string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[role], nil
}

func (f *fakeStore) tile(id string) (energy.Tile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiles[id]
	return t, ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []db.EnergyEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev db.EnergyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}
