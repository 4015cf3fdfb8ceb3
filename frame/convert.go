package frame

import "math"

// 12-bit analog front end
const ADCMax = 4095

// MapRange re-maps x from one integer range to another with integer arithmetic,
// fractions are truncated toward zero. Same as Arduino map().
func MapRange(x, inMin, inMax, outMin, outMax int64) int64 {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// rawInt rejects readings that have no defined integer conversion.
func rawInt(raw float64) (int64, bool) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || math.Abs(raw) > 1<<53 {
		return 0, false
	}
	return int64(raw), true
}

// PHLevel maps raw 12-bit ADC reading linearly onto 0..14 pH scale.
func PHLevel(raw float64) float64 {
	x, ok := rawInt(raw)
	if !ok {
		return math.NaN()
	}
	return float64(MapRange(x, 0, ADCMax, 0, 14))
}

// UVIntensity converts raw reading to sensor output voltage in 5V/1024 steps.
func UVIntensity(raw float64) float64 {
	return raw / 1024.0 * 5.0
}
