package utils

import "math"

// FinitePtr returns &f only when f is a usable number. NaN and Inf collapse
// to nil so that "unknown" never leaks into stored metrics as a value.
func FinitePtr(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
