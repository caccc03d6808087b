package handlers

import (
	"time"

	"energytiles/internal/accrual"
	dbpkg "energytiles/internal/db"
	"energytiles/internal/energy"
)

// displayLayout is the timestamp format shown next to events.
const displayLayout = "2006-01-02 15:04:05"

// FormatEventTime formats t in UTC for display.
func FormatEventTime(t time.Time) string {
	return t.UTC().Format(displayLayout)
}

// Energy is shown to 4 dp, the other readings and points to 2.
func wh(v float64) float64  { return energy.Round(v, 4) }
func two(v float64) float64 { return energy.Round(v, 2) }

func metricsView(m energy.Metrics) map[string]any {
	return map[string]any{
		"total_energy_wh":       wh(m.TotalEnergyWh),
		"reward_points":         two(m.RewardPoints),
		"tiles_visited":         m.TilesVisited,
		"total_steps":           m.TotalSteps,
		"pressure_given":        two(m.PressureGiven),
		"ampere":                two(m.Ampere),
		"voltage":               two(m.Voltage),
		"monthly_energy_wh":     wh(m.MonthlyEnergyWh),
		"monthly_voltage":       two(m.MonthlyVoltage),
		"monthly_ampere":        two(m.MonthlyAmpere),
		"monthly_pressure":      two(m.MonthlyPressure),
		"monthly_reward_points": two(m.MonthlyRewardPoints),
		"monthly_steps":         m.MonthlySteps,
		"last_reset_month":      m.LastResetMonth,
	}
}

func tileView(t energy.Tile) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"name":        t.Name,
		"lat":         t.Latitude,
		"lon":         t.Longitude,
		"radius":      t.Radius,
		"capacity":    t.Capacity,
		"usage_count": t.UsageCount,
	}
}

func tilesView(tiles []energy.Tile) []map[string]any {
	out := make([]map[string]any, 0, len(tiles))
	for _, t := range tiles {
		out = append(out, tileView(t))
	}
	return out
}

func nearbyView(nearby []energy.NearbyTile) []map[string]any {
	out := make([]map[string]any, 0, len(nearby))
	for _, n := range nearby {
		v := tileView(n.Tile)
		v["distance_km"] = energy.Round(n.DistanceKm, 3)
		out = append(out, v)
	}
	return out
}

func locationView(res accrual.LocationResult) map[string]any {
	if res.Status == accrual.StatusNoTile || res.Visit == nil {
		return map[string]any{
			"status":       accrual.StatusNoTile,
			"message":      "Not on any energy tile",
			"nearby_tiles": nearbyView(res.Nearby),
		}
	}
	v := res.Visit
	m := v.Totals
	return map[string]any{
		"status":           "success",
		"event_id":         v.EventID,
		"tile_id":          v.Tile.ID,
		"tile_name":        v.Tile.Name,
		"electricity_wh":   wh(v.Readings.EnergyWh),
		"voltage":          two(v.Readings.Voltage),
		"ampere":           two(v.Readings.Ampere),
		"pressure":         two(v.Readings.Pressure),
		"exact_match":      v.ExactMatch,
		"reward_points":    two(v.RewardPoints),
		"total_energy":     wh(m.TotalEnergyWh),
		"monthly_energy":   wh(m.MonthlyEnergyWh),
		"monthly_voltage":  two(m.MonthlyVoltage),
		"monthly_ampere":   two(m.MonthlyAmpere),
		"monthly_pressure": two(m.MonthlyPressure),
		"total_voltage":    two(m.Voltage),
		"total_ampere":     two(m.Ampere),
		"total_pressure":   two(m.PressureGiven),
	}
}

func eventView(e dbpkg.EnergyEvent) map[string]any {
	v := map[string]any{
		"event_id":          e.EventID,
		"timestamp":         e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"timestamp_display": FormatEventTime(e.CreatedAt),
		"username":          e.Username,
		"tile_id":           e.TileID,
		"tile_name":         e.TileName,
		"tile_lat":          e.TileLatitude,
		"tile_lon":          e.TileLongitude,
		"electricity_wh":    e.EnergyWh,
		"voltage":           e.Voltage,
		"ampere":            e.Ampere,
		"pressure":          e.Pressure,
		"reward_points":     e.RewardPoints,
		"exact_match":       e.ExactMatch,
		"source":            e.Source,
	}
	if e.Latitude != nil && e.Longitude != nil {
		v["location"] = map[string]float64{"lat": *e.Latitude, "lon": *e.Longitude}
	}
	if len(e.Metadata) > 0 {
		v["metadata"] = e.Metadata
	}
	return v
}

func leaderboardView(entries []accrual.LeaderboardEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"rank":           e.Rank,
			"username":       e.Username,
			"energy_wh":      two(e.Metrics.TotalEnergyWh),
			"points":         int64(e.Metrics.RewardPoints),
			"pressure_given": two(e.Metrics.PressureGiven),
			"ampere":         two(e.Metrics.Ampere),
			"voltage":        two(e.Metrics.Voltage),
			"tier":           e.Tier,
		})
	}
	return out
}
