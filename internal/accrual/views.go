package accrual

import (
	"context"
	"errors"
	"time"

	"energytiles/internal/db"
	"energytiles/internal/energy"
)

const (
	recentEventLimit = 5
	topUsersLimit    = 10
	defaultStatsDays = 7
)

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank     int
	Username string
	Metrics  energy.Metrics
	Tier     string
}

// TileDistance is a tile with the user's distance to it, when known.
type TileDistance struct {
	Tile       energy.Tile
	DistanceKm *float64
}

// Point is a WGS84 location.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Dashboard is everything the user dashboard shows.
type Dashboard struct {
	Username string
	Metrics  energy.Metrics
	Tier     string

	TodayEnergyWh     float64
	TodayRewardPoints float64

	RecentEvents []db.EnergyEvent
	LastLocation *Point
	Tiles        []TileDistance

	ActiveUsers int64
	ActiveTiles int
	Leaderboard []LeaderboardEntry
}

// Dashboard builds username's dashboard. Viewing it rolls the monthly
// counters over, and creates the metrics row for a user that has none yet.
func (s *Service) Dashboard(ctx context.Context, username string) (Dashboard, error) {
	if username == "" {
		return Dashboard{}, energy.ErrMissingField
	}
	now := s.calc.Now().UTC()

	unlock := s.users.Lock(username)
	m, err := s.store.TouchMetrics(ctx, username, s.calc.Month())
	unlock()
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		Username: username,
		Metrics:  m,
		Tier:     energy.Tier(m.RewardPoints),
	}

	today, err := s.store.EventsSince(ctx, username, startOfDay(now))
	if err != nil {
		return Dashboard{}, err
	}
	for _, ev := range today {
		d.TodayEnergyWh += ev.EnergyWh
	}
	d.TodayRewardPoints = energy.RewardPoints(d.TodayEnergyWh)

	if d.RecentEvents, err = s.store.RecentEvents(ctx, username, recentEventLimit); err != nil {
		return Dashboard{}, err
	}

	last, err := s.store.LastLocatedEvent(ctx, username)
	switch {
	case err == nil:
		d.LastLocation = &Point{Latitude: *last.Latitude, Longitude: *last.Longitude}
	case !errors.Is(err, db.ErrNotFound):
		return Dashboard{}, err
	}

	tiles, err := s.snapshot(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	d.ActiveTiles = len(tiles)
	d.Tiles = make([]TileDistance, 0, len(tiles))
	for _, t := range tiles {
		td := TileDistance{Tile: t}
		if d.LastLocation != nil {
			km := energy.Distance(d.LastLocation.Latitude, d.LastLocation.Longitude, t.Latitude, t.Longitude)
			td.DistanceKm = &km
		}
		d.Tiles = append(d.Tiles, td)
	}

	if d.ActiveUsers, err = s.store.CountActiveUsers(ctx, db.RoleUser, now); err != nil {
		return Dashboard{}, err
	}
	if d.Leaderboard, err = s.Leaderboard(ctx, topUsersLimit); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

// Leaderboard ranks users by reward points, highest first. A limit of zero
// or less returns everyone.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.store.ListMetrics(ctx, limit)
	if err != nil {
		return nil, err
	}
	return rank(rows), nil
}

func rank(rows []db.UserMetrics) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		out = append(out, LeaderboardEntry{
			Rank:     i + 1,
			Username: r.Username,
			Metrics:  r.Metrics,
			Tier:     energy.Tier(r.RewardPoints),
		})
	}
	return out
}

// Overview is the admin panel summary.
type Overview struct {
	TotalUsers    int
	TotalEnergyWh float64
	TotalPoints   float64
	TotalPressure float64
	TotalAmpere   float64
	TotalVoltage  float64

	ActiveUsers  int64
	ActiveAdmins int64

	TopUsers []LeaderboardEntry
	Tiles    []energy.Tile
}

// AdminOverview totals every user's metrics and lists the tiles with their
// usage counts.
func (s *Service) AdminOverview(ctx context.Context) (Overview, error) {
	rows, err := s.store.ListMetrics(ctx, 0)
	if err != nil {
		return Overview{}, err
	}

	o := Overview{TotalUsers: len(rows)}
	for _, r := range rows {
		o.TotalEnergyWh += r.TotalEnergyWh
		o.TotalPoints += r.RewardPoints
		o.TotalPressure += r.PressureGiven
		o.TotalAmpere += r.Ampere
		o.TotalVoltage += r.Voltage
	}
	if len(rows) > topUsersLimit {
		rows = rows[:topUsersLimit]
	}
	o.TopUsers = rank(rows)

	now := s.calc.Now().UTC()
	if o.ActiveUsers, err = s.store.CountActiveUsers(ctx, db.RoleUser, now); err != nil {
		return Overview{}, err
	}
	if o.ActiveAdmins, err = s.store.CountActiveUsers(ctx, db.RoleAdmin, now); err != nil {
		return Overview{}, err
	}
	if o.Tiles, err = s.Tiles(ctx); err != nil {
		return Overview{}, err
	}
	return o, nil
}

// TileStats returns the daily per-tile aggregates for the last days days,
// today included. days <= 0 means a week.
func (s *Service) TileStats(ctx context.Context, days int) ([]db.TileBucket, error) {
	if days <= 0 {
		days = defaultStatsDays
	}
	since := startOfDay(s.calc.Now().UTC()).AddDate(0, 0, -(days - 1))
	return s.store.TileBuckets(ctx, since)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ErrEventNotFound is returned by Event for an unknown event id.
var ErrEventNotFound = errors.New("event not found")

// Event returns one recorded event.
func (s *Service) Event(ctx context.Context, eventID string) (db.EnergyEvent, error) {
	if eventID == "" {
		return db.EnergyEvent{}, ErrEventNotFound
	}
	ev, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return db.EnergyEvent{}, ErrEventNotFound
		}
		return db.EnergyEvent{}, err
	}
	return ev, nil
}
