package db

import (
	"log"
	"time"

	"gorm.io/gorm"
)

// runAggregationOnce aggregates energy events for the given day
// (dayStart to dayStart+24h) into TileBucket rows. Call with dayStart = time
// in UTC truncated to the day.
func runAggregationOnce(db *gorm.DB, dayStart time.Time) error {
	dayEnd := dayStart.Add(24 * time.Hour)

	var events []EnergyEvent
	if err := db.Where("created_at >= ? AND created_at < ?", dayStart, dayEnd).
		Select("tile_id", "energy_wh", "reward_points").
		Find(&events).Error; err != nil {
		return err
	}

	type totals struct {
		count  int64
		energy float64
		points float64
	}
	groups := make(map[string]*totals)
	for _, e := range events {
		g, ok := groups[e.TileID]
		if !ok {
			g = &totals{}
			groups[e.TileID] = g
		}
		g.count++
		g.energy += e.EnergyWh
		g.points += e.RewardPoints
	}

	for tileID, g := range groups {
		row := TileBucket{
			TileID:       tileID,
			Day:          dayStart,
			EventCount:   g.count,
			EnergyWh:     g.energy,
			RewardPoints: g.points,
		}
		var existing TileBucket
		err := db.Where("tile_id = ? AND day = ?", tileID, dayStart).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			err = db.Create(&row).Error
		} else if err == nil {
			err = db.Model(&existing).Updates(map[string]interface{}{
				"event_count":   row.EventCount,
				"energy_wh":     row.EnergyWh,
				"reward_points": row.RewardPoints,
			}).Error
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartAggregationWorker aggregates the last 7 days at startup, then
// refreshes yesterday and today every hour. Buckets are in UTC.
func StartAggregationWorker(db *gorm.DB) {
	go func() {
		today := startOfDay(time.Now())
		for i := 0; i <= 7; i++ {
			day := today.AddDate(0, 0, -i)
			if err := runAggregationOnce(db, day); err != nil {
				log.Printf("aggregation error (startup) for %s: %v", day.Format("2006-01-02"), err)
			}
		}

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for t := range ticker.C {
			today := startOfDay(t)
			for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
				if err := runAggregationOnce(db, day); err != nil {
					log.Printf("aggregation error for %s: %v", day.Format("2006-01-02"), err)
				}
			}
		}
	}()
}
