package telemetry

import (
	"sync/atomic"
	"time"
)

// FaultCode is the six-bit status word. Bit 0 is the first character on the
// wire.
type FaultCode uint8

const (
	FaultVehicleRate FaultCode = 1 << iota
	FaultPayloadRate
	FaultCarrierPressure
	FaultPosition
	FaultSeparation
	FaultActuator

	faultBits = 6
)

func (f FaultCode) Has(bit FaultCode) bool { return f&bit != 0 }

// String renders the code as six '0'/'1' characters.
func (f FaultCode) String() string {
	var b [faultBits]byte
	for i := 0; i < faultBits; i++ {
		if f&(1<<i) != 0 {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b[:])
}

// FaultConfig holds the limits each fault rule checks against.
type FaultConfig struct {
	VehicleRateMin float64
	VehicleRateMax float64
	PayloadRateMin float64
	PayloadRateMax float64
	CarrierStale   time.Duration
	PositionStale  time.Duration
}

func DefaultFaultConfig() FaultConfig {
	return FaultConfig{
		VehicleRateMin: 12,
		VehicleRateMax: 14,
		PayloadRateMin: 6,
		PayloadRateMax: 8,
		CarrierStale:   15 * time.Second,
		PositionStale:  30 * time.Second,
	}
}

// FaultInputs is the state a fault evaluation looks at.
type FaultInputs struct {
	Now   time.Time
	Phase Phase
	Rate  float64

	CarrierSeen  bool
	CarrierValue float64
	CarrierAt    time.Time

	FixValid bool
	LastFix  time.Time

	Separated         bool
	SeparationMissed  bool
	SeparationElapsed time.Duration
	SeparationTimeout time.Duration
}

// FaultMonitor evaluates the fault rules. The separation bit latches, on a
// timeout in the window or on leaving it unconfirmed, until separation is
// confirmed; the actuator bit is reported once and cleared.
type FaultMonitor struct {
	cfg        FaultConfig
	sepLatched bool
	actuator   atomic.Bool
}

func NewFaultMonitor(cfg FaultConfig) *FaultMonitor {
	return &FaultMonitor{cfg: cfg}
}

// ReportActuatorFault flags the actuator bit for the next evaluation.
// Safe to call from any goroutine.
func (m *FaultMonitor) ReportActuatorFault() {
	m.actuator.Store(true)
}

func (m *FaultMonitor) Evaluate(in FaultInputs) FaultCode {
	var code FaultCode

	if in.Rate > 0 {
		if in.Phase == VehicleDescent && outside(in.Rate, m.cfg.VehicleRateMin, m.cfg.VehicleRateMax) {
			code |= FaultVehicleRate
		}
		if in.Phase == PayloadDescent && outside(in.Rate, m.cfg.PayloadRateMin, m.cfg.PayloadRateMax) {
			code |= FaultPayloadRate
		}
	}

	if !in.CarrierSeen || in.CarrierValue <= 0 || in.Now.Sub(in.CarrierAt) > m.cfg.CarrierStale {
		code |= FaultCarrierPressure
	}

	if !in.FixValid || in.LastFix.IsZero() || in.Now.Sub(in.LastFix) > m.cfg.PositionStale {
		code |= FaultPosition
	}

	switch {
	case in.Separated:
		m.sepLatched = false
	case in.SeparationMissed,
		in.Phase == Separation && in.SeparationElapsed > in.SeparationTimeout:
		m.sepLatched = true
	}
	if m.sepLatched {
		code |= FaultSeparation
	}

	if m.actuator.Swap(false) {
		code |= FaultActuator
	}
	return code
}

func outside(v, lo, hi float64) bool {
	return v < lo || v > hi
}
