package db

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"energytiles/internal/energy"
)

//go:embed default_tiles.yaml
var defaultTiles []byte

type seedFile struct {
	Tiles []seedTile `yaml:"tiles"`
}

type seedTile struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Radius   float64 `yaml:"radius"`
	Capacity int     `yaml:"capacity"`
}

// LoadSeedTiles parses a tile list from path, or the built-in list when
// path is empty. Every entry is validated.
func LoadSeedTiles(path string) ([]energy.Tile, error) {
	data := defaultTiles
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tile seed: %w", err)
		}
		data = b
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tile seed: %w", err)
	}

	tiles := make([]energy.Tile, 0, len(f.Tiles))
	seen := make(map[string]bool, len(f.Tiles))
	for i, st := range f.Tiles {
		if st.ID == "" || st.Name == "" {
			return nil, fmt.Errorf("tile seed entry %d: %w", i, energy.ErrMissingField)
		}
		if seen[st.ID] {
			return nil, fmt.Errorf("tile seed entry %d: duplicate id %q", i, st.ID)
		}
		seen[st.ID] = true
		if err := energy.ValidateCoordinates(st.Lat, st.Lon); err != nil {
			return nil, fmt.Errorf("tile seed entry %d: %w", i, err)
		}
		if st.Capacity <= 0 {
			return nil, fmt.Errorf("tile seed entry %d: %w", i, energy.ErrInvalidCapacity)
		}
		radius := st.Radius
		if radius <= 0 {
			radius = 0.001
		}
		tiles = append(tiles, energy.Tile{
			ID:        st.ID,
			Name:      st.Name,
			Latitude:  st.Lat,
			Longitude: st.Lon,
			Radius:    radius,
			Capacity:  st.Capacity,
		})
	}
	return tiles, nil
}

// SeedTiles inserts tiles when the tile table is empty. It reports how many
// were inserted.
func SeedTiles(db *gorm.DB, tiles []energy.Tile) (int, error) {
	var count int64
	if err := db.Model(&Tile{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 || len(tiles) == 0 {
		return 0, nil
	}

	rows := make([]Tile, 0, len(tiles))
	for _, t := range tiles {
		rows = append(rows, tileRow(t))
	}
	if err := db.Create(&rows).Error; err != nil {
		return 0, err
	}
	return len(rows), nil
}

func tileRow(t energy.Tile) Tile {
	return Tile{
		TileID:     t.ID,
		Name:       t.Name,
		Latitude:   t.Latitude,
		Longitude:  t.Longitude,
		Radius:     t.Radius,
		Capacity:   t.Capacity,
		UsageCount: t.UsageCount,
	}
}
