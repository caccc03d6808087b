package accrual

import (
	"context"

	"github.com/google/uuid"

	"energytiles/internal/db"
	"energytiles/internal/energy"
	"energytiles/internal/metrics"
)

// Location check outcomes.
const (
	StatusOnTile = "on_tile"
	StatusNoTile = "no_tile"
)

// Visit is a credited tile visit.
type Visit struct {
	EventID    string
	Tile       energy.Tile
	Readings   energy.Generated
	ExactMatch bool

	RewardPoints float64

	// Totals are the user's metrics after the visit was applied.
	Totals energy.Metrics
}

// LocationResult is either a Visit (StatusOnTile) or the tiles close to the
// reported point (StatusNoTile).
type LocationResult struct {
	Status string
	Visit  *Visit
	Nearby []energy.NearbyTile
}

// CheckLocation credits username for standing on a tile. Tiles are scanned
// in ascending ID order and the first one whose radius covers the point
// wins. When none does, nothing is written and nearby tiles are returned.
func (s *Service) CheckLocation(ctx context.Context, username string, lat, lon float64) (LocationResult, error) {
	if username == "" {
		return LocationResult{}, energy.ErrMissingField
	}
	if err := energy.ValidateCoordinates(lat, lon); err != nil {
		return LocationResult{}, err
	}

	tiles, err := s.snapshot(ctx)
	if err != nil {
		return LocationResult{}, err
	}

	tile, ok := energy.FindContainingTile(lat, lon, tiles)
	if !ok {
		metrics.AccrualsTotal.WithLabelValues(db.SourceGPS, metrics.ResultNoTile).Inc()
		return LocationResult{
			Status: StatusNoTile,
			Nearby: energy.NearbyTiles(lat, lon, tiles, energy.DefaultNearbyRadiusKm),
		}, nil
	}

	exact := energy.IsExactMatch(lat, lon, tile)
	gen := s.calc.Evaluate(tile, exact)
	points := energy.RewardPoints(gen.EnergyWh)

	userLat, userLon := lat, lon
	ev := db.EnergyEvent{
		EventID:       uuid.NewString(),
		CreatedAt:     s.calc.Now().UTC(),
		Username:      username,
		TileID:        tile.ID,
		TileName:      tile.Name,
		Latitude:      &userLat,
		Longitude:     &userLon,
		TileLatitude:  tile.Latitude,
		TileLongitude: tile.Longitude,
		EnergyWh:      energy.Round(gen.EnergyWh, 4),
		Voltage:       energy.Round(gen.Voltage, 2),
		Ampere:        energy.Round(gen.Ampere, 2),
		Pressure:      energy.Round(gen.Pressure, 2),
		RewardPoints:  points,
		ExactMatch:    exact,
		Source:        db.SourceGPS,
	}

	totals, err := s.record(ctx, db.Accrual{
		Username: username,
		Apply: func(m *energy.Metrics, month string) {
			energy.ApplyAccrual(m, gen, points, month)
		},
		Event:      ev,
		CountVisit: true,
	})
	if err != nil {
		metrics.AccrualsTotal.WithLabelValues(db.SourceGPS, metrics.ResultError).Inc()
		return LocationResult{}, err
	}

	return LocationResult{
		Status: StatusOnTile,
		Visit: &Visit{
			EventID:      ev.EventID,
			Tile:         tile,
			Readings:     gen,
			ExactMatch:   exact,
			RewardPoints: points,
			Totals:       totals,
		},
	}, nil
}
