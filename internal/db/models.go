package db

import (
	"time"

	"gorm.io/datatypes"

	"energytiles/internal/energy"
)

// Tile is an admin-defined energy tile. TileID is the public identifier
// (tile_001, tile_002, ...); ID is only the row key.
type Tile struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	TileID string `gorm:"uniqueIndex;size:32;not null"`
	Name   string `gorm:"size:128;not null"`

	Latitude  float64 `gorm:"not null"`
	Longitude float64 `gorm:"not null"`

	// Radius is a proximity threshold in degrees, not real tile geometry.
	Radius   float64 `gorm:"not null"`
	Capacity int     `gorm:"not null"`

	UsageCount int `gorm:"not null;default:0"`
}

// Energy converts the row to the calculator's tile type.
func (t Tile) Energy() energy.Tile {
	return energy.Tile{
		ID:         t.TileID,
		Name:       t.Name,
		Latitude:   t.Latitude,
		Longitude:  t.Longitude,
		Radius:     t.Radius,
		Capacity:   t.Capacity,
		UsageCount: t.UsageCount,
	}
}

// UserMetrics holds one user's accumulated energy, one row per username.
type UserMetrics struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username string `gorm:"uniqueIndex;size:64;not null"`

	energy.Metrics `gorm:"embedded"`
}

// Event sources.
const (
	SourceGPS    = "gps"
	SourceSensor = "sensor"
)

// EnergyEvent is an append-only record of one accrual.
type EnergyEvent struct {
	ID uint `gorm:"primaryKey" json:"-"`

	EventID   string    `gorm:"uniqueIndex;size:36;not null" json:"event_id"`
	CreatedAt time.Time `gorm:"index" json:"timestamp"`

	Username string `gorm:"index;size:64;not null" json:"username"`
	TileID   string `gorm:"index;size:32;not null" json:"tile_id"`
	TileName string `gorm:"size:128" json:"tile_name"`

	// Reported location; nil when a sensor did not send one.
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lon,omitempty"`

	TileLatitude  float64 `json:"tile_lat"`
	TileLongitude float64 `json:"tile_lon"`

	EnergyWh     float64 `json:"electricity_wh"`
	Voltage      float64 `json:"voltage"`
	Ampere       float64 `json:"ampere"`
	Pressure     float64 `json:"pressure"`
	RewardPoints float64 `json:"reward_points"`
	ExactMatch   bool    `json:"exact_match"`

	Source string `gorm:"size:16" json:"source"`

	// Metadata carries whatever extra fields a sensor attached.
	Metadata datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
}

// TileBucket stores per-day aggregated energy per tile. Filled by the
// aggregation worker.
type TileBucket struct {
	ID uint `gorm:"primaryKey"`

	TileID string    `gorm:"uniqueIndex:idx_tile_bucket_unique,priority:1;size:32;not null" json:"tile_id"`
	Day    time.Time `gorm:"uniqueIndex:idx_tile_bucket_unique,priority:2;not null" json:"day"` // start of the day (UTC)

	EventCount   int64   `gorm:"not null" json:"event_count"`
	EnergyWh     float64 `gorm:"not null" json:"energy_wh"`
	RewardPoints float64 `gorm:"not null" json:"reward_points"`
}
