package accrual

import (
	"context"
	"math"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"energytiles/internal/db"
	"energytiles/internal/energy"
	"energytiles/internal/metrics"
)

// SensorReading is energy measured by a device on a tile on behalf of a user.
type SensorReading struct {
	Username string
	TileID   string
	EnergyWh float64

	// Latitude and Longitude are optional but must be given together.
	Latitude  *float64
	Longitude *float64

	Metadata map[string]any
}

// SensorResult reports what a reading was worth.
type SensorResult struct {
	EventID      string
	EnergyWh     float64
	RewardPoints float64
	TileName     string
	Totals       energy.Metrics
}

func (r SensorReading) validate() error {
	if r.Username == "" || r.TileID == "" {
		return energy.ErrMissingField
	}
	if math.IsNaN(r.EnergyWh) || math.IsInf(r.EnergyWh, 0) || r.EnergyWh < 0 {
		return energy.ErrInvalidEnergy
	}
	if (r.Latitude == nil) != (r.Longitude == nil) {
		return energy.ErrInvalidCoordinates
	}
	if r.Latitude != nil {
		return energy.ValidateCoordinates(*r.Latitude, *r.Longitude)
	}
	return nil
}

// RecordSensorReading credits a measured amount of energy to a user. The
// monthly counters roll over as for GPS visits, but step counters and tile
// usage are not touched.
func (s *Service) RecordSensorReading(ctx context.Context, r SensorReading) (SensorResult, error) {
	if err := r.validate(); err != nil {
		return SensorResult{}, err
	}

	tile, err := s.findTile(ctx, r.TileID)
	if err != nil {
		return SensorResult{}, err
	}

	points := energy.RewardPoints(r.EnergyWh)

	var meta datatypes.JSONMap
	if len(r.Metadata) > 0 {
		meta = datatypes.JSONMap(r.Metadata)
	}

	ev := db.EnergyEvent{
		EventID:       uuid.NewString(),
		CreatedAt:     s.calc.Now().UTC(),
		Username:      r.Username,
		TileID:        tile.ID,
		TileName:      tile.Name,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		TileLatitude:  tile.Latitude,
		TileLongitude: tile.Longitude,
		EnergyWh:      energy.Round(r.EnergyWh, 4),
		RewardPoints:  points,
		Source:        db.SourceSensor,
		Metadata:      meta,
	}

	totals, err := s.record(ctx, db.Accrual{
		Username: r.Username,
		Apply: func(m *energy.Metrics, month string) {
			energy.ApplyReading(m, r.EnergyWh, points, month)
		},
		Event: ev,
	})
	if err != nil {
		metrics.AccrualsTotal.WithLabelValues(db.SourceSensor, metrics.ResultError).Inc()
		return SensorResult{}, err
	}

	return SensorResult{
		EventID:      ev.EventID,
		EnergyWh:     r.EnergyWh,
		RewardPoints: points,
		TileName:     tile.Name,
		Totals:       totals,
	}, nil
}
