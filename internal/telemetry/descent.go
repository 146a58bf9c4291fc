package telemetry

import (
	"math"
	"sort"
	"time"
)

const (
	descentWindow  = 5
	maxDescentRate = 50.0 // m/s
	maxSampleGap   = 5 * time.Second
)

// DescentEstimator smooths the vertical speed with a median over the last
// five samples. Samples are unsigned magnitudes.
type DescentEstimator struct {
	samples [descentWindow]float64
	n       int
	next    int

	prevAlt float64
	prevAt  time.Time
	hasPrev bool
}

// Update feeds an altitude observed at the given time and returns the
// smoothed rate.
func (e *DescentEstimator) Update(altitude float64, at time.Time) float64 {
	if !e.hasPrev {
		e.prevAlt, e.prevAt, e.hasPrev = altitude, at, true
		return e.Rate()
	}

	dt := at.Sub(e.prevAt)
	if dt <= 0 || dt > maxSampleGap {
		e.prevAlt, e.prevAt = altitude, at
		return 0
	}

	sample := math.Abs((e.prevAlt - altitude) / dt.Seconds())
	if sample > maxDescentRate || math.IsNaN(sample) {
		return e.Rate()
	}

	e.samples[e.next] = sample
	e.next = (e.next + 1) % descentWindow
	if e.n < descentWindow {
		e.n++
	}
	e.prevAlt, e.prevAt = altitude, at
	return e.Rate()
}

// Rate is the median of the window, or the mean while fewer than three
// samples are held.
func (e *DescentEstimator) Rate() float64 {
	if e.n == 0 {
		return 0
	}
	sorted := make([]float64, e.n)
	copy(sorted, e.samples[:e.n])
	if e.n < 3 {
		sum := 0.0
		for _, v := range sorted {
			sum += v
		}
		return sum / float64(e.n)
	}
	sort.Float64s(sorted)
	return sorted[e.n/2]
}
