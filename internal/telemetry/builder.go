package telemetry

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"flightlink/internal/cache"
)

// Config parameterises a Builder.
type Config struct {
	TeamID string
	// Reference pressure for altitude, hPa.
	SeaLevelPressure float64
	Flight           FlightConfig
	Faults           FaultConfig
}

func DefaultConfig() Config {
	return Config{
		TeamID:           DefaultTeamID,
		SeaLevelPressure: SeaLevelPressure,
		Flight:           DefaultFlightConfig(),
		Faults:           DefaultFaultConfig(),
	}
}

// Builder turns sensor snapshots and cached auxiliary readings into packets.
// Build is meant to be called from a single producer; the command-facing
// methods may be called from any goroutine.
type Builder struct {
	cfg Config
	aux *cache.Aux
	seq *Sequence
	log *slog.Logger
	now func() time.Time

	faults *FaultMonitor

	mu          sync.Mutex
	machine     *Machine
	descent     DescentEstimator
	commandEcho string
	lastFix     time.Time
	prevAlt     float64
	hasPrevAlt  bool
}

type BuilderOption func(*Builder)

// WithNow replaces the builder's clock.
func WithNow(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBuilder(cfg Config, aux *cache.Aux, seq *Sequence, log *slog.Logger, opts ...BuilderOption) *Builder {
	if log == nil {
		log = slog.Default()
	}
	if aux == nil {
		aux = cache.New()
	}
	if seq == nil {
		seq, _ = LoadSequence("", log)
	}
	if cfg.SeaLevelPressure <= 0 {
		cfg.SeaLevelPressure = SeaLevelPressure
	}
	if cfg.TeamID == "" {
		cfg.TeamID = DefaultTeamID
	}
	b := &Builder{
		cfg:         cfg,
		aux:         aux,
		seq:         seq,
		log:         log,
		now:         time.Now,
		faults:      NewFaultMonitor(cfg.Faults),
		machine:     NewMachine(cfg.Flight),
		commandEcho: DefaultCommandEcho,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Phase returns the current flight phase.
func (b *Builder) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.machine.Phase()
}

// ConfirmSeparation records a confirmed separation event.
func (b *Builder) ConfirmSeparation() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.machine.Separated() {
		b.log.Info("separation confirmed", "phase", b.machine.Phase())
	}
	b.machine.ConfirmSeparation()
}

// ReportActuatorFault sets the actuator fault bit for the next packet.
func (b *Builder) ReportActuatorFault() {
	b.faults.ReportActuatorFault()
}

// SetCommandEcho sets the command echoed in subsequent packets.
func (b *Builder) SetCommandEcho(cmd string) {
	b.mu.Lock()
	b.commandEcho = cmd
	b.mu.Unlock()
}

// Build assembles the packet for this cycle. It always returns a packet:
// a failing step leaves its fields at zero, and a failure outside the steps
// produces an emergency packet.
func (b *Builder) Build(s Snapshot) (p Packet) {
	seq := 0
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("packet assembly failed, emitting emergency packet", "panic", rec)
			if seq == 0 {
				seq = b.seq.Next()
			}
			p = EmergencyPacket(seq, b.Phase(), b.safeNow(), b.cfg.TeamID)
		}
	}()

	now := b.now()
	p.TeamID = b.cfg.TeamID
	p.Time = now
	if s.RTC != nil && !s.RTC.IsZero() {
		p.Time = *s.RTC
	}

	altOK := false
	b.step("sensors", func() {
		altOK = b.readSensors(&p, s)
	})

	carrierFresh := false
	b.step("auxiliary", func() {
		carrierFresh = b.readAuxiliary(&p, now, altOK)
	})

	b.step("flight state", func() {
		p.Phase, p.DescentRate, p.Fault, p.CommandEcho = b.advance(p, altOK, carrierFresh, s.GPS, now)
	})
	if p.CommandEcho == "" {
		p.CommandEcho = DefaultCommandEcho
	}

	seq = b.seq.Next()
	p.Sequence = seq
	return p
}

// step runs fn and contains any panic to that step.
func (b *Builder) step(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Warn("telemetry step failed, fields zeroed", "step", name, "panic", rec)
		}
	}()
	fn()
}

func (b *Builder) readSensors(p *Packet, s Snapshot) bool {
	altOK := false
	if s.Baro != nil {
		p.Pressure1 = orZero(s.Baro.Pressure) * 100
		p.Temperature = orZero(s.Baro.Temperature)
		if alt, ok := AltitudeFromPressure(s.Baro.Pressure, b.cfg.SeaLevelPressure); ok {
			p.Altitude1 = math.Max(0, alt)
			altOK = true
		}
	}
	if s.Power != nil {
		p.Battery = orZero(s.Power.Voltage)
	}
	if s.GPS.Usable() {
		p.GPSLatitude = orZero(s.GPS.Latitude)
		p.GPSLongitude = orZero(s.GPS.Longitude)
		p.GPSAltitude = orZero(s.GPS.Altitude)
	}
	if s.Attitude != nil {
		p.Pitch = orZero(s.Attitude.Pitch)
		p.Roll = orZero(s.Attitude.Roll)
		p.Yaw = orZero(s.Attitude.Yaw)
	}
	if s.IMU != nil {
		for i := 0; i < 3; i++ {
			p.Accel[i] = orZero(s.IMU.Accel[i])
			p.Gyro[i] = orZero(s.IMU.Gyro[i])
			p.Mag[i] = orZero(s.IMU.Mag[i])
		}
	}
	return altOK
}

// readAuxiliary fills the carrier and station fields. The altitude delta is
// only meaningful when both altitudes are known.
func (b *Builder) readAuxiliary(p *Packet, now time.Time, altOK bool) bool {
	fresh := false
	if hpa, ok := b.aux.Available(cache.CarrierPressure, now); ok {
		if alt, ok := AltitudeFromPressure(hpa, b.cfg.SeaLevelPressure); ok {
			p.Pressure2 = hpa * 100
			p.Altitude2 = math.Max(0, alt)
			if altOK {
				p.AltitudeDelta = p.Altitude1 - p.Altitude2
			}
			fresh = true
		}
	}
	if v, ok := b.aux.Available(cache.Station1, now); ok {
		p.Station1Temp = orZero(v)
	}
	if v, ok := b.aux.Available(cache.Station2, now); ok {
		p.Station2Temp = orZero(v)
	}
	return fresh
}

func (b *Builder) advance(p Packet, altOK, carrierFresh bool, fix *GPSFix, now time.Time) (Phase, float64, FaultCode, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rate float64
	if altOK {
		climb := 0.0
		if b.hasPrevAlt {
			climb = p.Altitude1 - b.prevAlt
		}
		b.prevAlt, b.hasPrevAlt = p.Altitude1, true

		if b.machine.Phase() == Separation && !b.machine.Separated() &&
			carrierFresh && math.Abs(p.AltitudeDelta) > b.cfg.Flight.SeparationDelta {
			b.log.Info("separation confirmed by altitude delta", "delta", p.AltitudeDelta)
			b.machine.ConfirmSeparation()
		}

		before := b.machine.Phase()
		if after := b.machine.Advance(p.Altitude1, climb, now); after != before {
			b.log.Info("flight phase changed", "from", before, "to", after, "altitude", p.Altitude1)
		}
		rate = b.descent.Update(p.Altitude1, now)
	} else {
		rate = b.descent.Rate()
	}

	fixValid := fix.Usable()
	if fixValid {
		b.lastFix = now
		if !fix.Time.IsZero() {
			b.lastFix = fix.Time
		}
	}

	carrier, seen := b.aux.Lookup(cache.CarrierPressure)
	phase := b.machine.Phase()
	code := b.faults.Evaluate(FaultInputs{
		Now:               now,
		Phase:             phase,
		Rate:              rate,
		CarrierSeen:       seen,
		CarrierValue:      carrier.Value,
		CarrierAt:         carrier.ObservedAt,
		FixValid:          fixValid,
		LastFix:           b.lastFix,
		Separated:         b.machine.Separated(),
		SeparationMissed:  b.machine.SeparationMissed(),
		SeparationElapsed: b.machine.SeparationElapsed(now),
		SeparationTimeout: b.cfg.Flight.SeparationTimeout,
	})
	return phase, rate, code, b.commandEcho
}

func (b *Builder) safeNow() (t time.Time) {
	defer func() {
		if recover() != nil {
			t = time.Now()
		}
	}()
	return b.now()
}
