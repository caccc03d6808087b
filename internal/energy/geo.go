package energy

import (
	"math"
	"sort"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Distance.
	EarthRadiusKm = 6371.0

	// KmPerDegree converts a tile radius in degrees to kilometers. It is the
	// equatorial figure and is not corrected for latitude, so tiles get
	// narrower in longitude the further they are from the equator.
	KmPerDegree = 111.0

	// ExactMatchEpsilon is the per-axis tolerance (about 5.5 m) within which a
	// reported location counts as standing on the tile center.
	ExactMatchEpsilon = 0.00005

	// DuplicateEpsilon is the per-axis distance under which two tiles are
	// considered to share a location.
	DuplicateEpsilon = 0.0001

	// DefaultNearbyRadiusKm bounds the nearby-tile search.
	DefaultNearbyRadiusKm = 1.0
)

// Tile is a fixed location that converts visits into energy.
type Tile struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	Radius     float64 `json:"radius"`
	Capacity   int     `json:"capacity"`
	UsageCount int     `json:"usage_count"`
}

// NearbyTile pairs a tile with its distance from a reported location.
type NearbyTile struct {
	Tile       Tile    `json:"tile"`
	DistanceKm float64 `json:"distance_km"`
}

// ValidateCoordinates rejects latitudes outside [-90,90] and longitudes
// outside [-180,180].
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return ErrInvalidCoordinates
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// Distance returns the haversine great-circle distance in kilometers.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Pow(math.Sin(dLon/2), 2)
	c := 2 * math.Asin(math.Sqrt(a))
	return EarthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// SortTiles orders tiles by ascending ID in place.
func SortTiles(tiles []Tile) {
	sort.SliceStable(tiles, func(i, j int) bool { return tiles[i].ID < tiles[j].ID })
}

// FindContainingTile returns the first tile, in the order given, whose
// radius covers the location. Callers pass tiles sorted by ID.
func FindContainingTile(lat, lon float64, tiles []Tile) (Tile, bool) {
	for _, t := range tiles {
		if Distance(lat, lon, t.Latitude, t.Longitude) < t.Radius*KmPerDegree {
			return t, true
		}
	}
	return Tile{}, false
}

// NearbyTiles lists tiles closer than radiusKm, nearest first.
func NearbyTiles(lat, lon float64, tiles []Tile, radiusKm float64) []NearbyTile {
	if radiusKm <= 0 {
		radiusKm = DefaultNearbyRadiusKm
	}
	nearby := make([]NearbyTile, 0)
	for _, t := range tiles {
		d := Distance(lat, lon, t.Latitude, t.Longitude)
		if d < radiusKm {
			nearby = append(nearby, NearbyTile{Tile: t, DistanceKm: d})
		}
	}
	sort.SliceStable(nearby, func(i, j int) bool { return nearby[i].DistanceKm < nearby[j].DistanceKm })
	return nearby
}

// IsExactMatch reports whether the location is within ExactMatchEpsilon of
// the tile center on both axes.
func IsExactMatch(lat, lon float64, t Tile) bool {
	return math.Abs(lat-t.Latitude) <= ExactMatchEpsilon && math.Abs(lon-t.Longitude) <= ExactMatchEpsilon
}

// SameLocation reports whether two points are closer than DuplicateEpsilon
// on both axes.
func SameLocation(lat1, lon1, lat2, lon2 float64) bool {
	return math.Abs(lat1-lat2) < DuplicateEpsilon && math.Abs(lon1-lon2) < DuplicateEpsilon
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
