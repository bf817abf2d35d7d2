package track

import "math"

// ShortestRotation returns the rotation target such that animating
// linearly from `from` to the result sweeps the shorter arc (at most
// 180 degrees) instead of wrapping the long way around 0/360. The
// result is intentionally not normalized: a marker at 350 asked to
// face 10 receives 370 so the sweep crosses 360 forward.
func ShortestRotation(from, to float64) float64 {
	delta := math.Mod(math.Mod(to-from, 360)+540, 360) - 180
	return from + delta
}

// NormalizeBearing wraps a bearing into [0, 360).
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
