package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"energytiles/internal/energy"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the gorm-backed repository used by the services.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for workers and bootstrap helpers.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- tiles ----

// ListTiles returns all tiles ordered by tile id.
func (s *Store) ListTiles(ctx context.Context) ([]energy.Tile, error) {
	var rows []Tile
	if err := s.db.WithContext(ctx).Order("tile_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tiles: %w", err)
	}
	tiles := make([]energy.Tile, 0, len(rows))
	for _, r := range rows {
		tiles = append(tiles, r.Energy())
	}
	return tiles, nil
}

// CreateTile inserts a tile. Validation is the caller's job.
func (s *Store) CreateTile(ctx context.Context, t energy.Tile) error {
	row := tileRow(t)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create tile: %w", err)
	}
	return nil
}

// DeleteTile removes a tile by its public id.
func (s *Store) DeleteTile(ctx context.Context, tileID string) error {
	res := s.db.WithContext(ctx).Where("tile_id = ?", tileID).Delete(&Tile{})
	if res.Error != nil {
		return fmt.Errorf("delete tile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementTileUsage bumps a tile's usage counter and returns the new value.
func (s *Store) IncrementTileUsage(ctx context.Context, tileID string) (int, error) {
	var usage int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Tile{}).Where("tile_id = ?", tileID).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var t Tile
		if err := tx.Where("tile_id = ?", tileID).First(&t).Error; err != nil {
			return notFound(err)
		}
		usage = t.UsageCount
		return nil
	})
	return usage, err
}

// ---- metrics and events ----

// Accrual describes one metrics update and the event that records it.
type Accrual struct {
	Username string
	Month    string

	// Apply mutates the user's metrics for Month; it runs inside the
	// transaction.
	Apply func(m *energy.Metrics, month string)

	Event EnergyEvent

	// CountVisit increments the tile's usage counter.
	CountVisit bool
}

// Recorded is the committed state after an accrual.
type Recorded struct {
	Metrics energy.Metrics

	// TileUsage is the tile's usage counter after the accrual.
	TileUsage int
}

// RecordAccrual applies an accrual in a single transaction: the tile must
// exist, the user's metrics row is created on first use, then updated,
// the event appended and the tile usage bumped. Nothing is written when the
// tile is missing.
func (s *Store) RecordAccrual(ctx context.Context, a Accrual) (Recorded, error) {
	var out Recorded
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tile Tile
		if err := tx.Where("tile_id = ?", a.Event.TileID).First(&tile).Error; err != nil {
			return notFound(err)
		}

		m, err := loadOrCreateMetrics(tx, a.Username, a.Month)
		if err != nil {
			return err
		}
		a.Apply(&m.Metrics, a.Month)
		if err := tx.Save(&m).Error; err != nil {
			return fmt.Errorf("save metrics: %w", err)
		}

		ev := a.Event
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("insert energy event: %w", err)
		}

		if a.CountVisit {
			if err := tx.Model(&tile).UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error; err != nil {
				return fmt.Errorf("bump tile usage: %w", err)
			}
			var bumped Tile
			if err := tx.Where("tile_id = ?", tile.TileID).First(&bumped).Error; err != nil {
				return fmt.Errorf("read tile usage: %w", err)
			}
			tile = bumped
		}
		out.TileUsage = tile.UsageCount

		out.Metrics = m.Metrics
		return nil
	})
	return out, err
}

// TouchMetrics loads a user's metrics, creating the row if needed and
// rolling the monthly counters over when month has changed.
func (s *Store) TouchMetrics(ctx context.Context, username, month string) (energy.Metrics, error) {
	var out energy.Metrics
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := loadOrCreateMetrics(tx, username, month)
		if err != nil {
			return err
		}
		if energy.RollOver(&m.Metrics, month) {
			if err := tx.Save(&m).Error; err != nil {
				return fmt.Errorf("save metrics: %w", err)
			}
		}
		out = m.Metrics
		return nil
	})
	return out, err
}

func loadOrCreateMetrics(tx *gorm.DB, username, month string) (UserMetrics, error) {
	var m UserMetrics
	err := tx.Where("username = ?", username).First(&m).Error
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return m, fmt.Errorf("load metrics: %w", err)
	}
	m = UserMetrics{Username: username, Metrics: energy.Metrics{LastResetMonth: month}}
	if err := tx.Create(&m).Error; err != nil {
		return m, fmt.Errorf("create metrics: %w", err)
	}
	return m, nil
}

// ListMetrics returns users ordered by reward points, highest first. A
// limit of zero or less returns everyone.
func (s *Store) ListMetrics(ctx context.Context, limit int) ([]UserMetrics, error) {
	q := s.db.WithContext(ctx).Order("reward_points DESC").Order("username")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []UserMetrics
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return rows, nil
}

// RecentEvents returns a user's latest events, newest first.
func (s *Store) RecentEvents(ctx context.Context, username string, limit int) ([]EnergyEvent, error) {
	var rows []EnergyEvent
	if err := s.db.WithContext(ctx).Where("username = ?", username).
		Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return rows, nil
}

// EventsSince returns a user's events created at or after since.
func (s *Store) EventsSince(ctx context.Context, username string, since time.Time) ([]EnergyEvent, error) {
	var rows []EnergyEvent
	if err := s.db.WithContext(ctx).Where("username = ? AND created_at >= ?", username, since).
		Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("events since: %w", err)
	}
	return rows, nil
}

// FindEvent returns one event by its public id.
func (s *Store) FindEvent(ctx context.Context, eventID string) (EnergyEvent, error) {
	var ev EnergyEvent
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&ev).Error
	return ev, notFound(err)
}

// LastLocatedEvent returns the user's most recent event that carried a
// location.
func (s *Store) LastLocatedEvent(ctx context.Context, username string) (EnergyEvent, error) {
	var ev EnergyEvent
	err := s.db.WithContext(ctx).
		Where("username = ? AND latitude IS NOT NULL AND longitude IS NOT NULL", username).
		Order("created_at DESC").Order("id DESC").First(&ev).Error
	return ev, notFound(err)
}

// TileBuckets returns aggregated per-tile days starting at or after since.
func (s *Store) TileBuckets(ctx context.Context, since time.Time) ([]TileBucket, error) {
	var rows []TileBucket
	if err := s.db.WithContext(ctx).Where("day >= ?", since).
		Order("day").Order("tile_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tile buckets: %w", err)
	}
	return rows, nil
}

// ---- accounts ----

// FindUser looks a user up by username.
func (s *Store) FindUser(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	return u, notFound(err)
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// CreateSession stores a new browser session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindSession returns an unexpired session by token.
func (s *Store) FindSession(ctx context.Context, token string, now time.Time) (Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, now).First(&sess).Error
	return sess, notFound(err)
}

// DeleteSession removes a session; deleting a missing one is not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&Session{}).Error
}

// CountActiveUsers counts distinct usernames with an unexpired session of
// the given role.
func (s *Store) CountActiveUsers(ctx context.Context, role string, now time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Session{}).
		Where("role = ? AND expires_at > ?", role, now).
		Distinct("username").Count(&n).Error
	return n, err
}

// CreateChallenge stores a pending MFA challenge.
func (s *Store) CreateChallenge(ctx context.Context, c *MFAChallenge) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create mfa challenge: %w", err)
	}
	return nil
}

// FindChallenge returns an unexpired challenge by id.
func (s *Store) FindChallenge(ctx context.Context, id string, now time.Time) (MFAChallenge, error) {
	var c MFAChallenge
	err := s.db.WithContext(ctx).Where("id = ? AND expires_at > ?", id, now).First(&c).Error
	return c, notFound(err)
}

// DeleteChallenge removes a challenge once it has been used.
func (s *Store) DeleteChallenge(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&MFAChallenge{}).Error
}

// ---- sensor keys ----

// FindActiveSensorKey returns the active key with the given token.
func (s *Store) FindActiveSensorKey(ctx context.Context, token string) (SensorKey, error) {
	var k SensorKey
	err := s.db.WithContext(ctx).Where("token = ? AND active = ?", token, true).First(&k).Error
	return k, notFound(err)
}

// ListSensorKeys returns all keys, newest first.
func (s *Store) ListSensorKeys(ctx context.Context) ([]SensorKey, error) {
	var keys []SensorKey
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("list sensor keys: %w", err)
	}
	return keys, nil
}

// CreateSensorKey inserts a key.
func (s *Store) CreateSensorKey(ctx context.Context, k *SensorKey) error {
	if err := s.db.WithContext(ctx).Create(k).Error; err != nil {
		return fmt.Errorf("create sensor key: %w", err)
	}
	return nil
}

// DeleteSensorKey removes a key by row id.
func (s *Store) DeleteSensorKey(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&SensorKey{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete sensor key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSensorKeyActive enables or disables a key.
func (s *Store) SetSensorKeyActive(ctx context.Context, id uint, active bool) error {
	res := s.db.WithContext(ctx).Model(&SensorKey{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("update sensor key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
