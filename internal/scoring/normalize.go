package scoring

import "math"

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampRange bounds v to [lo, hi].
func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// logScale01 maps v onto [0,1] logarithmically: values at or below floor map
// to 0, values at floor*10^decades or above map to 1.
func logScale01(v, floor, decades float64) float64 {
	if v <= floor || floor <= 0 || decades <= 0 {
		return 0
	}
	return clamp01(math.Log10(v/floor) / decades)
}

// finite reports whether v is a usable number.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
