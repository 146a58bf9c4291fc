package telemetry

import "math"

// SeaLevelPressure is the standard reference, hPa.
const SeaLevelPressure = 1013.25

// AltitudeFromPressure applies the international barometric formula.
// Both pressures are in hPa. ok is false for non-positive inputs.
func AltitudeFromPressure(pressure, reference float64) (float64, bool) {
	if pressure <= 0 || reference <= 0 || !finite(pressure) {
		return 0, false
	}
	return 44330.0 * (1.0 - math.Pow(pressure/reference, 0.1903)), true
}

// PressureFromAltitude inverts AltitudeFromPressure.
func PressureFromAltitude(altitude, reference float64) float64 {
	return reference * math.Pow(1-altitude/44330.0, 1/0.1903)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// orZero replaces non-finite values with zero.
func orZero(v float64) float64 {
	if finite(v) {
		return v
	}
	return 0
}
