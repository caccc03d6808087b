package energy

// RewardPoints converts watt-hours into reward points: 1 Wh = 100 points.
func RewardPoints(energyWh float64) float64 {
	return Round(energyWh*100, 2)
}

// Tier labels.
const (
	TierPlatinum  = "Platinum Contributor"
	TierGold      = "Gold Contributor"
	TierSilver    = "Silver Contributor"
	TierBronze    = "Bronze Contributor"
	TierGenerator = "Energy Generator"
	TierStarter   = "Starter"
)

var tierLadder = []struct {
	min   float64
	label string
}{
	{100000, TierPlatinum},
	{50000, TierGold},
	{20000, TierSilver},
	{10000, TierBronze},
	{5000, TierGenerator},
}

// Tier returns the highest band whose lower bound the points reach.
func Tier(points float64) string {
	for _, band := range tierLadder {
		if points >= band.min {
			return band.label
		}
	}
	return TierStarter
}
