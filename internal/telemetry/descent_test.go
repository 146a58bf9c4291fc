package telemetry_test

import (
	"math"
	"testing"
	"time"

	"flightlink/internal/telemetry"
)

func TestDescentConstantRate(t *testing.T) {
	var e telemetry.DescentEstimator
	alt := 500.0
	var rate float64
	for i := 0; i < 8; i++ {
		rate = e.Update(alt, t0.Add(time.Duration(i)*time.Second))
		alt -= 7
	}
	if math.Abs(rate-7) > 1e-9 {
		t.Fatalf("rate = %v, want 7", rate)
	}
}

func TestDescentRejectsOutlier(t *testing.T) {
	var e telemetry.DescentEstimator
	alt := 500.0
	at := t0
	for i := 0; i < 6; i++ {
		e.Update(alt, at)
		alt -= 7
		at = at.Add(time.Second)
	}
	before := e.Rate()

	// A single glitch reading 200 m below the trend.
	glitched := e.Update(alt-200, at)
	if glitched != before {
		t.Fatalf("outlier moved the rate from %v to %v", before, glitched)
	}

	// The next good reading is measured against the last accepted pair,
	// two seconds and fourteen metres back.
	at = at.Add(time.Second)
	alt -= 7
	if got := e.Update(alt, at); math.Abs(got-7) > 1e-9 {
		t.Fatalf("rate after outlier = %v, want 7", got)
	}
}

func TestDescentIsUnsigned(t *testing.T) {
	var e telemetry.DescentEstimator
	for i := 0; i < 5; i++ {
		e.Update(float64(i*10), t0.Add(time.Duration(i)*time.Second))
	}
	if got := e.Rate(); math.Abs(got-10) > 1e-9 {
		t.Fatalf("climb rate = %v, want 10", got)
	}
}

func TestDescentGapResets(t *testing.T) {
	var e telemetry.DescentEstimator
	e.Update(100, t0)
	e.Update(93, t0.Add(time.Second))

	if got := e.Update(50, t0.Add(10*time.Second)); got != 0 {
		t.Fatalf("gap should yield 0, got %v", got)
	}
	if got := e.Update(50, t0.Add(10*time.Second)); got != 0 {
		t.Fatalf("zero interval should yield 0, got %v", got)
	}
	// The window keeps its earlier sample.
	if got := e.Update(43, t0.Add(11*time.Second)); math.Abs(got-7) > 1e-9 {
		t.Fatalf("rate = %v, want 7", got)
	}
}

func TestDescentMeanBeforeThreeSamples(t *testing.T) {
	var e telemetry.DescentEstimator
	if got := e.Rate(); got != 0 {
		t.Fatalf("empty rate = %v", got)
	}
	e.Update(100, t0)
	e.Update(96, t0.Add(time.Second))
	if got := e.Update(90, t0.Add(2*time.Second)); math.Abs(got-5) > 1e-9 {
		t.Fatalf("mean of 4 and 6 = %v, want 5", got)
	}
	if got := e.Update(82, t0.Add(3*time.Second)); math.Abs(got-6) > 1e-9 {
		t.Fatalf("median of 4,6,8 = %v, want 6", got)
	}
}

func TestPressureAltitudeInverse(t *testing.T) {
	for _, alt := range []float64{0, 120, 400, 2500} {
		p := telemetry.PressureFromAltitude(alt, telemetry.SeaLevelPressure)
		got, ok := telemetry.AltitudeFromPressure(p, telemetry.SeaLevelPressure)
		if !ok || math.Abs(got-alt) > 1e-6 {
			t.Fatalf("alt %v -> %v hPa -> %v", alt, p, got)
		}
	}
	if _, ok := telemetry.AltitudeFromPressure(0, telemetry.SeaLevelPressure); ok {
		t.Fatal("zero pressure accepted")
	}
}
