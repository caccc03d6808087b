package energy

import "testing"

func TestRewardPoints(t *testing.T) {
	tests := []struct {
		wh   float64
		want float64
	}{
		{0, 0},
		{1, 100},
		{2.0, 200},
		{0.123456, 12.35},
		{0.8, 80},
	}
	for _, tt := range tests {
		if got := RewardPoints(tt.wh); got != tt.want {
			t.Errorf("RewardPoints(%v) = %v, want %v", tt.wh, got, tt.want)
		}
	}
}

func TestRewardPointsMonotonic(t *testing.T) {
	prev := RewardPoints(0)
	for wh := 0.0; wh < 50; wh += 0.0137 {
		got := RewardPoints(wh)
		if got < prev {
			t.Fatalf("RewardPoints(%v) = %v is below previous value %v", wh, got, prev)
		}
		prev = got
	}
}

func TestTierBoundaries(t *testing.T) {
	tests := []struct {
		points float64
		want   string
	}{
		{0, TierStarter},
		{4999, TierStarter},
		{4999.99, TierStarter},
		{5000, TierGenerator},
		{9999.99, TierGenerator},
		{10000, TierBronze},
		{20000, TierSilver},
		{49999, TierSilver},
		{50000, TierGold},
		{100000, TierPlatinum},
		{1e9, TierPlatinum},
	}
	for _, tt := range tests {
		if got := Tier(tt.points); got != tt.want {
			t.Errorf("Tier(%v) = %q, want %q", tt.points, got, tt.want)
		}
	}
}
