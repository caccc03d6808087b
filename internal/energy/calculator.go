package energy

import "time"

// MonthLayout formats the LastResetMonth marker.
const MonthLayout = "2006-01"

// Generated holds the simulated readings for one visit.
type Generated struct {
	EnergyWh float64 `json:"electricity_wh"`
	Voltage  float64 `json:"voltage"`
	Ampere   float64 `json:"ampere"`
	Pressure float64 `json:"pressure"`
}

type regime struct {
	capacityFactor float64
	mulLo, mulHi   float64
	voltLo, voltHi float64
	ampLo, ampHi   float64
	presLo, presHi float64
}

var (
	exactRegime = regime{
		capacityFactor: 0.002,
		mulLo:          0.8, mulHi: 1.2,
		voltLo: 10, voltHi: 20,
		ampLo: 0.5, ampHi: 1.0,
		presLo: 150, presHi: 350,
	}
	radiusRegime = regime{
		capacityFactor: 0.001,
		mulLo:          0.4, mulHi: 1.0,
		voltLo: 5, voltHi: 15,
		ampLo: 0.1, ampHi: 0.5,
		presLo: 50, presHi: 150,
	}
)

// Calculator turns visits into readings using an injected random source and
// clock.
type Calculator struct {
	src Source
	now func() time.Time
}

// NewCalculator builds a Calculator. A nil now defaults to time.Now.
func NewCalculator(src Source, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{src: src, now: now}
}

// Evaluate simulates the readings for a visit. Standing on the tile center
// uses the stronger regime. Draws happen in the order energy multiplier,
// voltage, ampere, pressure.
func (c *Calculator) Evaluate(t Tile, exactMatch bool) Generated {
	r := radiusRegime
	if exactMatch {
		r = exactRegime
	}
	return Generated{
		EnergyWh: float64(t.Capacity) * r.capacityFactor * c.src.Uniform(r.mulLo, r.mulHi),
		Voltage:  c.src.Uniform(r.voltLo, r.voltHi),
		Ampere:   c.src.Uniform(r.ampLo, r.ampHi),
		Pressure: c.src.Uniform(r.presLo, r.presHi),
	}
}

// Now returns the calculator clock.
func (c *Calculator) Now() time.Time {
	return c.now()
}

// Month returns the current year-month marker.
func (c *Calculator) Month() string {
	return MonthOf(c.now())
}

// MonthOf returns the marker for t. Markers are always taken in UTC.
func MonthOf(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}
