package utils

import "math"

// Round2 rounds to two decimals, half away from zero. The inner snap to
// 1e-6 absorbs binary representation error so 1.005 rounds to 1.01.
func Round2(x float64) float64 {
	snapped := math.Round(x*100*1e6) / 1e6
	return math.Round(snapped) / 100
}

// ToCents converts a two-decimal USD amount to integer cents.
func ToCents(usd float64) int64 {
	return int64(math.Round(usd * 100))
}

// FromCents converts integer cents to USD.
func FromCents(cents int64) float64 {
	return float64(cents) / 100
}
