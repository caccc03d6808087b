package accrual

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"energytiles/internal/db"
	"energytiles/internal/energy"
)

var testNow = time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)

// pinnedSource yields a multiplier of 1.0 and the lower bound for every
// other reading, so an exact visit on a 1000-capacity tile makes 2.0 Wh.
var pinnedSource = energy.SourceFunc(func(lo, hi float64) float64 {
	if lo == 0.8 || lo == 0.4 {
		return 1.0
	}
	return lo
})

var (
	shibuya  = energy.Tile{ID: "tile_001", Name: "Shibuya Crossing", Latitude: 35.6595, Longitude: 139.7004, Radius: 0.001, Capacity: 1000}
	tokyoStn = energy.Tile{ID: "tile_002", Name: "Tokyo Station", Latitude: 35.6762, Longitude: 139.7674, Radius: 0.001, Capacity: 800}
	harajuku = energy.Tile{ID: "tile_004", Name: "Harajuku", Latitude: 35.6654, Longitude: 139.7033, Radius: 0.0015, Capacity: 700}
)

func newTestService(store *fakeStore, pub Publisher) *Service {
	calc := energy.NewCalculator(pinnedSource, func() time.Time { return testNow })
	return NewService(store, calc, pub)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCheckLocationExactMatch(t *testing.T) {
	store := newFakeStore(shibuya, tokyoStn, harajuku)
	pub := &recordingPublisher{}
	svc := newTestService(store, pub)

	res, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude, shibuya.Longitude)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOnTile || res.Visit == nil {
		t.Fatalf("got %+v, want on_tile", res)
	}
	v := res.Visit
	if v.Tile.ID != "tile_001" || !v.ExactMatch {
		t.Fatalf("visit = %+v", v)
	}
	if !almostEqual(v.Readings.EnergyWh, 2.0) || v.RewardPoints != 200 {
		t.Fatalf("energy %.6f points %.2f, want 2.0 and 200", v.Readings.EnergyWh, v.RewardPoints)
	}
	if v.Readings.Voltage != 10 || v.Readings.Ampere != 0.5 || v.Readings.Pressure != 150 {
		t.Fatalf("readings = %+v", v.Readings)
	}
	if v.Totals.TotalSteps != 1 || v.Totals.TilesVisited != 1 || v.Totals.LastResetMonth != "2024-02" {
		t.Fatalf("totals = %+v", v.Totals)
	}

	if got, _ := store.tile("tile_001"); got.UsageCount != 1 {
		t.Fatalf("store usage = %d, want 1", got.UsageCount)
	}
	tiles, _ := svc.Tiles(context.Background())
	if tiles[0].UsageCount != 1 {
		t.Fatalf("cached usage = %d, want 1", tiles[0].UsageCount)
	}

	if len(pub.events) != 1 || pub.events[0].EventID != v.EventID || pub.events[0].Source != db.SourceGPS {
		t.Fatalf("published = %+v", pub.events)
	}
	if !pub.events[0].CreatedAt.Equal(testNow) {
		t.Fatalf("event time = %v", pub.events[0].CreatedAt)
	}
}

func TestCheckLocationWithinRadius(t *testing.T) {
	store := newFakeStore(shibuya)
	svc := newTestService(store, nil)

	res, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude+0.0005, shibuya.Longitude)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOnTile || res.Visit.ExactMatch {
		t.Fatalf("got %+v, want a non-exact visit", res)
	}
	if !almostEqual(res.Visit.Readings.EnergyWh, 1.0) || res.Visit.RewardPoints != 100 {
		t.Fatalf("visit = %+v", res.Visit)
	}
}

func TestCheckLocationFirstTileWins(t *testing.T) {
	wide1 := energy.Tile{ID: "tile_001", Name: "A", Latitude: 0, Longitude: 0, Radius: 0.01, Capacity: 100}
	wide2 := energy.Tile{ID: "tile_002", Name: "B", Latitude: 0.001, Longitude: 0, Radius: 0.01, Capacity: 100}
	svc := newTestService(newFakeStore(wide2, wide1), nil)

	res, err := svc.CheckLocation(context.Background(), "alice", 0.001, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Visit.Tile.ID != "tile_001" || res.Visit.ExactMatch {
		t.Fatalf("got %s exact=%v, want tile_001 (first by id) without exact match", res.Visit.Tile.ID, res.Visit.ExactMatch)
	}
}

func TestCheckLocationNoTile(t *testing.T) {
	store := newFakeStore(shibuya, tokyoStn, harajuku)
	svc := newTestService(store, nil)

	// About 200 m north of Shibuya, outside its 111 m radius.
	res, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude+0.0018, shibuya.Longitude)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusNoTile || res.Visit != nil {
		t.Fatalf("got %+v, want no_tile", res)
	}
	if len(res.Nearby) != 2 || res.Nearby[0].Tile.ID != "tile_001" || res.Nearby[1].Tile.ID != "tile_004" {
		t.Fatalf("nearby = %+v", res.Nearby)
	}
	if res.Nearby[0].DistanceKm >= res.Nearby[1].DistanceKm {
		t.Fatal("nearby tiles not sorted by distance")
	}
	if len(store.events) != 0 || len(store.metrics) != 0 {
		t.Fatal("no_tile must not write anything")
	}
}

func TestCheckLocationValidation(t *testing.T) {
	store := newFakeStore(shibuya)
	svc := newTestService(store, nil)

	tests := []struct {
		name     string
		user     string
		lat, lon float64
		want     error
	}{
		{"latitude too large", "alice", 91, 0, energy.ErrInvalidCoordinates},
		{"longitude too small", "alice", 0, -180.5, energy.ErrInvalidCoordinates},
		{"nan", "alice", math.NaN(), 0, energy.ErrInvalidCoordinates},
		{"no user", "", 0, 0, energy.ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CheckLocation(context.Background(), tt.user, tt.lat, tt.lon)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	if store.listCalls != 0 {
		t.Fatal("tiles were loaded before coordinates were validated")
	}
}

func TestCheckLocationTileRemovedConcurrently(t *testing.T) {
	store := newFakeStore(shibuya)
	svc := newTestService(store, nil)
	if err := svc.LoadTiles(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Deleted behind the cache's back.
	delete(store.tiles, "tile_001")

	_, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude, shibuya.Longitude)
	if !errors.Is(err, energy.ErrUnknownTile) {
		t.Fatalf("got %v, want ErrUnknownTile", err)
	}
	if _, ok := store.metrics["alice"]; ok {
		t.Fatal("metrics mutated for a failed accrual")
	}
}

func TestCheckLocationStoreFailure(t *testing.T) {
	store := newFakeStore(shibuya)
	diskFull := errors.New("disk full")
	store.failWith = diskFull
	pub := &recordingPublisher{}
	svc := newTestService(store, pub)

	_, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude, shibuya.Longitude)
	if !errors.Is(err, diskFull) {
		t.Fatalf("got %v, want disk full", err)
	}
	if len(pub.events) != 0 {
		t.Fatal("event published for a failed accrual")
	}
}

func TestPublishFailureDoesNotFailAccrual(t *testing.T) {
	store := newFakeStore(shibuya)
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newTestService(store, pub)

	if _, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude, shibuya.Longitude); err != nil {
		t.Fatalf("accrual failed because of the publisher: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatal("event not stored")
	}
}

func TestConcurrentCheckLocationLosesNothing(t *testing.T) {
	store := newFakeStore(shibuya)
	svc := newTestService(store, nil)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude, shibuya.Longitude); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	m := store.metrics["alice"]
	if m.TotalSteps != n || m.MonthlySteps != n {
		t.Fatalf("steps = %d/%d, want %d", m.TotalSteps, m.MonthlySteps, n)
	}
	if !almostEqual(m.TotalEnergyWh, 2.0*n) || !almostEqual(m.RewardPoints, 200*n) {
		t.Fatalf("energy %.4f points %.2f", m.TotalEnergyWh, m.RewardPoints)
	}
	if svc.users.size() != 0 {
		t.Fatalf("%d user locks leaked", svc.users.size())
	}
}

func TestRecordSensorReading(t *testing.T) {
	store := newFakeStore(shibuya)
	store.metrics["alice"] = energy.Metrics{
		TotalEnergyWh:   9,
		TotalSteps:      3,
		MonthlyEnergyWh: 9,
		MonthlySteps:    3,
		LastResetMonth:  "2024-01",
	}
	pub := &recordingPublisher{}
	svc := newTestService(store, pub)

	res, err := svc.RecordSensorReading(context.Background(), SensorReading{
		Username: "alice",
		TileID:   "tile_001",
		EnergyWh: 1.5,
		Metadata: map[string]any{"sensor": "plate-7"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.RewardPoints != 150 || res.TileName != "Shibuya Crossing" {
		t.Fatalf("result = %+v", res)
	}

	m := res.Totals
	if m.LastResetMonth != "2024-02" || m.MonthlyEnergyWh != 1.5 || m.MonthlySteps != 0 {
		t.Fatalf("monthly counters not rolled over: %+v", m)
	}
	if m.TotalEnergyWh != 10.5 || m.TotalSteps != 3 || m.MonthlyRewardPoints != 150 {
		t.Fatalf("totals = %+v", m)
	}
	if got, _ := store.tile("tile_001"); got.UsageCount != 0 {
		t.Fatal("sensor readings must not count as tile visits")
	}

	ev := pub.events[0]
	if ev.Source != db.SourceSensor || ev.Latitude != nil || ev.Metadata["sensor"] != "plate-7" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestRecordSensorReadingValidation(t *testing.T) {
	lat, lon := 35.0, 139.0
	badLat := 95.0

	tests := []struct {
		name string
		r    SensorReading
		want error
	}{
		{"missing user", SensorReading{TileID: "tile_001", EnergyWh: 1}, energy.ErrMissingField},
		{"missing tile", SensorReading{Username: "alice", EnergyWh: 1}, energy.ErrMissingField},
		{"negative energy", SensorReading{Username: "alice", TileID: "tile_001", EnergyWh: -1}, energy.ErrInvalidEnergy},
		{"nan energy", SensorReading{Username: "alice", TileID: "tile_001", EnergyWh: math.NaN()}, energy.ErrInvalidEnergy},
		{"latitude only", SensorReading{Username: "alice", TileID: "tile_001", EnergyWh: 1, Latitude: &lat}, energy.ErrInvalidCoordinates},
		{"out of range", SensorReading{Username: "alice", TileID: "tile_001", EnergyWh: 1, Latitude: &badLat, Longitude: &lon}, energy.ErrInvalidCoordinates},
		{"unknown tile", SensorReading{Username: "alice", TileID: "tile_999", EnergyWh: 1}, energy.ErrUnknownTile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(shibuya)
			svc := newTestService(store, nil)
			_, err := svc.RecordSensorReading(context.Background(), tt.r)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if len(store.metrics) != 0 || len(store.events) != 0 {
				t.Fatal("rejected reading mutated the store")
			}
		})
	}
}

func TestAddTile(t *testing.T) {
	third := energy.Tile{ID: "tile_003", Name: "C", Latitude: 1, Longitude: 1, Radius: 0.001, Capacity: 10}
	store := newFakeStore(shibuya, third)
	svc := newTestService(store, nil)
	ctx := context.Background()

	id, err := svc.AddTile(ctx, NewTile{Name: "  Plaza ", Latitude: 10, Longitude: 10, Capacity: 500})
	if err != nil {
		t.Fatal(err)
	}
	if id != "tile_004" {
		t.Fatalf("id = %s, want tile_004 (tile_003 is taken)", id)
	}
	created, ok := store.tile(id)
	if !ok || created.Name != "Plaza" || created.Radius != DefaultTileRadius {
		t.Fatalf("stored tile = %+v", created)
	}

	id, err = svc.AddTile(ctx, NewTile{Name: "Next", Latitude: 20, Longitude: 20, Radius: 0.002, Capacity: 5})
	if err != nil || id != "tile_005" {
		t.Fatalf("second add = %s, %v; want tile_005", id, err)
	}

	// Visible to location checks straight away.
	res, err := svc.CheckLocation(ctx, "alice", 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOnTile || res.Visit.Tile.ID != "tile_004" {
		t.Fatalf("new tile not found by CheckLocation: %+v", res)
	}
	if store.listCalls != 1 {
		t.Fatalf("tiles loaded %d times, want 1", store.listCalls)
	}
}

func TestAddTileRejects(t *testing.T) {
	tests := []struct {
		name string
		nt   NewTile
		want error
	}{
		{"blank name", NewTile{Name: "  ", Latitude: 1, Longitude: 1, Capacity: 1}, energy.ErrMissingField},
		{"bad latitude", NewTile{Name: "x", Latitude: -91, Longitude: 1, Capacity: 1}, energy.ErrInvalidCoordinates},
		{"zero capacity", NewTile{Name: "x", Latitude: 1, Longitude: 1}, energy.ErrInvalidCapacity},
		{"duplicate location", NewTile{Name: "x", Latitude: shibuya.Latitude + 0.00005, Longitude: shibuya.Longitude - 0.00005, Capacity: 1}, energy.ErrDuplicateTileLocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(shibuya)
			svc := newTestService(store, nil)
			if _, err := svc.AddTile(context.Background(), tt.nt); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if len(store.tiles) != 1 {
				t.Fatal("rejected tile changed the table")
			}
		})
	}

	store := newFakeStore(shibuya)
	svc := newTestService(store, nil)
	if _, err := svc.AddTile(context.Background(), NewTile{Name: "near", Latitude: shibuya.Latitude + 0.0002, Longitude: shibuya.Longitude, Capacity: 1}); err != nil {
		t.Fatalf("tile 0.0002 degrees away rejected: %v", err)
	}
}

func TestRemoveTile(t *testing.T) {
	store := newFakeStore(shibuya, harajuku)
	svc := newTestService(store, nil)
	ctx := context.Background()

	if err := svc.RemoveTile(ctx, "tile_404"); !errors.Is(err, energy.ErrUnknownTile) {
		t.Fatalf("got %v, want ErrUnknownTile", err)
	}
	if err := svc.RemoveTile(ctx, "tile_001"); err != nil {
		t.Fatal(err)
	}

	res, err := svc.CheckLocation(ctx, "alice", shibuya.Latitude, shibuya.Longitude)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusNoTile {
		t.Fatalf("removed tile still matched: %+v", res)
	}
	tiles, _ := svc.Tiles(ctx)
	if len(tiles) != 1 || tiles[0].ID != "tile_004" {
		t.Fatalf("tiles = %+v", tiles)
	}
}

func TestIncrementTileUsage(t *testing.T) {
	store := newFakeStore(shibuya)
	svc := newTestService(store, nil)
	ctx := context.Background()

	for want := 1; want <= 2; want++ {
		got, err := svc.IncrementTileUsage(ctx, "tile_001")
		if err != nil || got != want {
			t.Fatalf("usage = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := svc.IncrementTileUsage(ctx, "nope"); !errors.Is(err, energy.ErrUnknownTile) {
		t.Fatalf("got %v, want ErrUnknownTile", err)
	}
}

func TestDashboard(t *testing.T) {
	store := newFakeStore(shibuya, harajuku)
	store.sessions[db.RoleUser] = 3
	store.metrics["bob"] = energy.Metrics{RewardPoints: 50, MonthlyEnergyWh: 5, LastResetMonth: "2024-01"}
	store.events = append(store.events, db.EnergyEvent{
		Username:  "alice",
		TileID:    "tile_001",
		CreatedAt: testNow.Add(-24 * time.Hour),
		EnergyWh:  5,
	})
	svc := newTestService(store, nil)
	ctx := context.Background()

	if _, err := svc.CheckLocation(ctx, "alice", shibuya.Latitude, shibuya.Longitude); err != nil {
		t.Fatal(err)
	}

	d, err := svc.Dashboard(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(d.TodayEnergyWh, 2.0) || d.TodayRewardPoints != 200 {
		t.Fatalf("today = %.4f Wh / %.2f points, want 2.0 / 200", d.TodayEnergyWh, d.TodayRewardPoints)
	}
	if d.Tier != energy.TierStarter || d.ActiveUsers != 3 || d.ActiveTiles != 2 {
		t.Fatalf("dashboard = %+v", d)
	}
	if len(d.RecentEvents) != 2 || d.RecentEvents[0].EnergyWh != 2 {
		t.Fatalf("recent events = %+v", d.RecentEvents)
	}
	if d.LastLocation == nil || d.LastLocation.Latitude != shibuya.Latitude {
		t.Fatalf("last location = %+v", d.LastLocation)
	}
	if d.Tiles[0].DistanceKm == nil || *d.Tiles[0].DistanceKm > 1e-6 {
		t.Fatalf("distance to tile_001 = %v", d.Tiles[0].DistanceKm)
	}
	if len(d.Leaderboard) != 2 || d.Leaderboard[0].Username != "alice" || d.Leaderboard[1].Rank != 2 {
		t.Fatalf("leaderboard = %+v", d.Leaderboard)
	}

	bob, err := svc.Dashboard(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if bob.Metrics.MonthlyEnergyWh != 0 || bob.Metrics.LastResetMonth != "2024-02" {
		t.Fatalf("viewing the dashboard did not roll the month over: %+v", bob.Metrics)
	}
	if bob.LastLocation != nil || bob.Tiles[0].DistanceKm != nil {
		t.Fatal("bob has no located events, distances must be unknown")
	}

	fresh, err := svc.Dashboard(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Metrics.LastResetMonth != "2024-02" {
		t.Fatalf("fresh metrics = %+v", fresh.Metrics)
	}
}

func TestAdminOverview(t *testing.T) {
	store := newFakeStore(shibuya)
	store.sessions[db.RoleAdmin] = 1
	for i, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		store.metrics[name] = energy.Metrics{TotalEnergyWh: 1, RewardPoints: float64(100 * (i + 1)), Voltage: 2}
	}
	svc := newTestService(store, nil)

	o, err := svc.AdminOverview(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if o.TotalUsers != 12 || o.TotalEnergyWh != 12 || o.TotalVoltage != 24 || o.TotalPoints != 7800 {
		t.Fatalf("overview totals = %+v", o)
	}
	if len(o.TopUsers) != 10 || o.TopUsers[0].Username != "l" {
		t.Fatalf("top users = %+v", o.TopUsers)
	}
	if o.ActiveAdmins != 1 || len(o.Tiles) != 1 {
		t.Fatalf("overview = %+v", o)
	}
}

func TestTileStatsDefaultsToAWeek(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)
	buckets, err := svc.TileStats(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC)
	if !buckets[0].Day.Equal(want) {
		t.Fatalf("since = %v, want %v", buckets[0].Day, want)
	}
}

func TestMonthBoundaryVisitsKeepTheNewMonth(t *testing.T) {
	store := newFakeStore(shibuya)
	lateJan := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	earlyFeb := time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC)

	var svc *Service
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			// A second visit lands and commits while the first is still
			// being stamped.
			if _, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude, shibuya.Longitude); err != nil {
				t.Errorf("inner visit: %v", err)
			}
			return lateJan
		}
		return earlyFeb
	}
	svc = NewService(store, energy.NewCalculator(pinnedSource, clock), nil)

	if _, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude, shibuya.Longitude); err != nil {
		t.Fatal(err)
	}

	m := store.metrics["alice"]
	if m.LastResetMonth != "2024-02" {
		t.Fatalf("last_reset_month = %q, want 2024-02", m.LastResetMonth)
	}
	if m.TotalSteps != 2 || m.MonthlySteps != 2 {
		t.Fatalf("steps = %d total, %d monthly; want 2 and 2", m.TotalSteps, m.MonthlySteps)
	}
	if !almostEqual(m.MonthlyEnergyWh, 4) {
		t.Fatalf("monthly energy = %.4f, want 4", m.MonthlyEnergyWh)
	}
}

func TestStaleMonthDoesNotResetCounters(t *testing.T) {
	store := newFakeStore(shibuya)
	store.metrics["alice"] = energy.Metrics{MonthlySteps: 3, MonthlyEnergyWh: 6, LastResetMonth: "2024-03"}
	svc := newTestService(store, nil)

	if _, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude, shibuya.Longitude); err != nil {
		t.Fatal(err)
	}
	m := store.metrics["alice"]
	if m.LastResetMonth != "2024-03" || m.MonthlySteps != 4 || !almostEqual(m.MonthlyEnergyWh, 8) {
		t.Fatalf("counters for a later month were reset: %+v", m)
	}
}

func TestEventsPublishedInCommitOrder(t *testing.T) {
	store := newFakeStore(shibuya)
	pub := &recordingPublisher{}
	svc := newTestService(store, pub)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CheckLocation(context.Background(), "alice", shibuya.Latitude, shibuya.Longitude); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if len(pub.events) != n || len(store.events) != n {
		t.Fatalf("published %d, stored %d, want %d", len(pub.events), len(store.events), n)
	}
	for i := range store.events {
		if pub.events[i].EventID != store.events[i].EventID {
			t.Fatalf("event %d published out of commit order", i)
		}
	}
}

func TestTileUsageCacheFollowsStore(t *testing.T) {
	store := newFakeStore(shibuya)
	svc := newTestService(store, nil)
	ctx := context.Background()
	if err := svc.LoadTiles(ctx); err != nil {
		t.Fatal(err)
	}

	// Another instance bumps the counter behind this one's cache.
	if _, err := store.IncrementTileUsage(ctx, "tile_001"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CheckLocation(ctx, "alice", shibuya.Latitude, shibuya.Longitude); err != nil {
		t.Fatal(err)
	}
	tiles, _ := svc.Tiles(ctx)
	if tiles[0].UsageCount != 2 {
		t.Fatalf("cached usage = %d, want 2", tiles[0].UsageCount)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.CheckLocation(ctx, "alice", shibuya.Latitude, shibuya.Longitude); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := svc.IncrementTileUsage(ctx, "tile_001"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	stored, _ := store.tile("tile_001")
	tiles, _ = svc.Tiles(ctx)
	if stored.UsageCount != 42 || tiles[0].UsageCount != stored.UsageCount {
		t.Fatalf("cached usage %d, stored %d, want both 42", tiles[0].UsageCount, stored.UsageCount)
	}
}
