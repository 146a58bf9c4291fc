package telemetry

import (
	"math"
	"time"
)

// Phase is the coarse mission state. The numeric value is what goes on the
// wire and also the phase's rank: phases only ever move to a higher rank.
type Phase int

const (
	Ready Phase = iota
	Ascent
	VehicleDescent
	Separation
	PayloadDescent
	Recovery
)

func (p Phase) String() string {
	switch p {
	case Ready:
		return "ready"
	case Ascent:
		return "ascent"
	case VehicleDescent:
		return "vehicle_descent"
	case Separation:
		return "separation"
	case PayloadDescent:
		return "payload_descent"
	case Recovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// FlightConfig holds the thresholds that drive the phase machine.
type FlightConfig struct {
	SeparationAltitude  float64
	SeparationTolerance float64
	SeparationTimeout   time.Duration
	// |payload - carrier| altitude beyond which separation counts as confirmed.
	SeparationDelta    float64
	RecoveryAltitude   float64
	DescentMinAltitude float64
	AscentMinAltitude  float64
	// Minimum per-cycle altitude change that counts as a trend.
	TrendThreshold float64
}

func DefaultFlightConfig() FlightConfig {
	return FlightConfig{
		SeparationAltitude:  400,
		SeparationTolerance: 10,
		SeparationTimeout:   5 * time.Second,
		SeparationDelta:     10,
		RecoveryAltitude:    10,
		DescentMinAltitude:  50,
		AscentMinAltitude:   10,
		TrendThreshold:      1,
	}
}

// Machine is the flight phase state machine. It is not safe for concurrent
// use; the builder serialises access.
type Machine struct {
	cfg FlightConfig

	phase        Phase
	separated    bool
	missed       bool
	sepEnteredAt time.Time
}

func NewMachine(cfg FlightConfig) *Machine {
	return &Machine{cfg: cfg}
}

func (m *Machine) Phase() Phase { return m.phase }

// Separated reports whether separation has been confirmed.
func (m *Machine) Separated() bool { return m.separated }

// ConfirmSeparation records that the payload has left the carrier.
func (m *Machine) ConfirmSeparation() {
	m.separated = true
}

// SeparationMissed reports whether the payload fell below the separation
// window before separation was confirmed.
func (m *Machine) SeparationMissed() bool { return m.missed && !m.separated }

// SeparationElapsed is the time spent in Separation, zero in any other phase.
func (m *Machine) SeparationElapsed(now time.Time) time.Duration {
	if m.phase != Separation || m.sepEnteredAt.IsZero() {
		return 0
	}
	return now.Sub(m.sepEnteredAt)
}

// Advance moves the machine given the current altitude and the signed
// altitude change since the previous cycle.
func (m *Machine) Advance(altitude, climb float64, now time.Time) Phase {
	switch {
	case m.phase == Recovery:
		return m.phase
	case m.phase == PayloadDescent && altitude < m.cfg.RecoveryAltitude:
		m.phase = Recovery
		return m.phase
	case m.separated:
		m.raise(PayloadDescent)
		return m.phase
	case m.phase == Separation:
		if altitude >= m.cfg.SeparationAltitude-m.cfg.SeparationTolerance {
			// held in the window until confirmed
			return m.phase
		}
		// Below the window unconfirmed: the descent goes on regardless.
		m.missed = true
		m.raise(PayloadDescent)
		if altitude < m.cfg.RecoveryAltitude {
			m.phase = Recovery
		}
		return m.phase
	}

	falling := climb < -m.cfg.TrendThreshold
	rising := climb > m.cfg.TrendThreshold
	descending := falling || m.phase == VehicleDescent
	inBand := math.Abs(altitude-m.cfg.SeparationAltitude) <= m.cfg.SeparationTolerance

	switch {
	case inBand && descending:
		if m.raise(Separation) {
			m.sepEnteredAt = now
		}
	case falling && altitude > m.cfg.DescentMinAltitude:
		m.raise(VehicleDescent)
	case rising && altitude > m.cfg.AscentMinAltitude:
		m.raise(Ascent)
	}
	return m.phase
}

func (m *Machine) raise(p Phase) bool {
	if p <= m.phase {
		return false
	}
	m.phase = p
	return true
}
