package domain

import "math"

// Coin amounts are int64 whole coins. Unit prices are float64 and get
// rounded asymmetrically: buy-side totals round up so the market never
// undercharges, sell-side totals round down so it never overpays.

// CeilCoins converts a float value to whole coins, rounding up.
// NaN, infinities, and non-positive values yield 0; values beyond the
// int64 range saturate at math.MaxInt64.
func CeilCoins(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Ceil(v))
}

// FloorCoins converts a float value to whole coins, rounding down.
// Same NaN/infinity/saturation policy as CeilCoins.
func FloorCoins(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Floor(v))
}

// AddCoins adds two non-negative coin amounts, returning ErrOverflow
// instead of wrapping.
func AddCoins(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// ClampTaxRate clamps a reported tax rate into [0, max]. Non-finite
// rates clamp to 0: the territory integration is never trusted.
func ClampTaxRate(rate, max float64) float64 {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return 0
	}
	if rate > max {
		return max
	}
	return rate
}

// SalesTax computes the tax on a coin amount at the given rate,
// rounded down. Zero for non-positive bases or rates.
func SalesTax(base int64, rate float64) int64 {
	if base <= 0 || !(rate > 0) {
		return 0
	}
	t := FloorCoins(float64(base) * rate)
	if t < 0 {
		return 0
	}
	return t
}
