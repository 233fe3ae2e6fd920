package plantcare

import "math"

// Watering pulse bounds, in seconds.
const (
	MinWaterDuration = 10
	MaxWaterDuration = 20
)

// WaterDuration returns the pulse length in milliseconds for a humidity
// reading against threshold. The pulse grows linearly from the minimum
// at 1.5×threshold to the maximum at threshold and below.
func WaterDuration(threshold, value float64) int64 {
	half := 0.5 * threshold
	target := 1.5 * threshold

	var factor float64
	if half > 0 {
		delta := clamp(target-value, 0, half)
		factor = clamp(delta/half, 0, 1)
	}
	secs := MinWaterDuration + (MaxWaterDuration-MinWaterDuration)*factor
	return int64(math.Round(secs * 1000))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
