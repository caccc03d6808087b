package energy

// Metrics is a user's cumulative and monthly accumulators. The monthly half
// belongs to LastResetMonth and is only valid while that matches the
// current month.
type Metrics struct {
	TotalEnergyWh float64 `json:"total_energy_wh"`
	RewardPoints  float64 `json:"reward_points"`
	TilesVisited  int     `json:"tiles_visited"`
	TotalSteps    int     `json:"total_steps"`
	PressureGiven float64 `json:"pressure_given"`
	Ampere        float64 `json:"ampere"`
	Voltage       float64 `json:"voltage"`

	MonthlyEnergyWh     float64 `json:"monthly_energy_wh"`
	MonthlyVoltage      float64 `json:"monthly_voltage"`
	MonthlyAmpere       float64 `json:"monthly_ampere"`
	MonthlyPressure     float64 `json:"monthly_pressure"`
	MonthlyRewardPoints float64 `json:"monthly_reward_points"`
	MonthlySteps        int     `json:"monthly_steps"`
	LastResetMonth      string  `json:"last_reset_month"`
}

// RollOver zeroes the monthly fields when month is later than the stored
// marker and reports whether it did. "YYYY-MM" markers order as strings, so
// an older month never moves the marker back.
func RollOver(m *Metrics, month string) bool {
	if month <= m.LastResetMonth {
		return false
	}
	m.MonthlyEnergyWh = 0
	m.MonthlyVoltage = 0
	m.MonthlyAmpere = 0
	m.MonthlyPressure = 0
	m.MonthlyRewardPoints = 0
	m.MonthlySteps = 0
	m.LastResetMonth = month
	return true
}

// ApplyAccrual rolls the month over if needed and then adds one visit.
func ApplyAccrual(m *Metrics, g Generated, points float64, month string) {
	RollOver(m, month)

	m.TotalEnergyWh += g.EnergyWh
	m.PressureGiven += g.Pressure
	m.Ampere += g.Ampere
	m.Voltage += g.Voltage
	m.RewardPoints += points
	m.TotalSteps++
	m.TilesVisited++

	m.MonthlyEnergyWh += g.EnergyWh
	m.MonthlyVoltage += g.Voltage
	m.MonthlyAmpere += g.Ampere
	m.MonthlyPressure += g.Pressure
	m.MonthlyRewardPoints += points
	m.MonthlySteps++
}

// ApplyReading rolls the month over if needed and then adds an externally
// measured amount of energy. Step counters are left alone.
func ApplyReading(m *Metrics, energyWh, points float64, month string) {
	RollOver(m, month)

	m.TotalEnergyWh += energyWh
	m.RewardPoints += points
	m.MonthlyEnergyWh += energyWh
	m.MonthlyRewardPoints += points
}
