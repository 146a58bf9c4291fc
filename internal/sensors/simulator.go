package sensors

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"flightlink/internal/telemetry"
)

// Profile is a scripted flight: rates in m/s, altitudes in metres.
type Profile struct {
	PadWait       time.Duration
	AscentRate    float64
	Apogee        float64
	VehicleRate   float64
	SeparationAlt float64
	PayloadRate   float64

	// Launch site
	Latitude  float64
	Longitude float64
	GroundAlt float64
}

func DefaultProfile() Profile {
	return Profile{
		PadWait:       5 * time.Second,
		AscentRate:    20,
		Apogee:        700,
		VehicleRate:   12,
		SeparationAlt: 400,
		PayloadRate:   7,
		Latitude:      39.925533,
		Longitude:     32.866287,
		GroundAlt:     938,
	}
}

// Altitude returns the scripted height above ground t after start.
func (p Profile) Altitude(t time.Duration) float64 {
	s := (t - p.PadWait).Seconds()
	if s <= 0 {
		return 0
	}
	ascent := p.Apogee / p.AscentRate
	if s < ascent {
		return s * p.AscentRate
	}
	s -= ascent
	vehicle := (p.Apogee - p.SeparationAlt) / p.VehicleRate
	if s < vehicle {
		return p.Apogee - s*p.VehicleRate
	}
	s -= vehicle
	return math.Max(0, p.SeparationAlt-s*p.PayloadRate)
}

// Simulator produces snapshots along a Profile. It stands in for the sensor
// stack when no hardware is attached.
type Simulator struct {
	profile Profile
	now     func() time.Time
	latency time.Duration
	noise   float64

	mu    sync.Mutex
	start time.Time
	rng   *rand.Rand
}

type Option func(*Simulator)

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithLatency makes Sample take d, like a slow sensor bus.
func WithLatency(d time.Duration) Option {
	return func(s *Simulator) { s.latency = d }
}

// WithNoise sets the standard deviation of altitude noise in metres.
func WithNoise(sd float64) Option {
	return func(s *Simulator) { s.noise = sd }
}

func NewSimulator(profile Profile, seed int64, opts ...Option) *Simulator {
	s := &Simulator{
		profile: profile,
		now:     time.Now,
		noise:   0.3,
		rng:     rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start = s.now()
	return s
}

// Sample reads every simulated sensor.
func (s *Simulator) Sample(ctx context.Context) (telemetry.Snapshot, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return telemetry.Snapshot{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	elapsed := now.Sub(s.start)
	alt := s.profile.Altitude(elapsed) + s.rng.NormFloat64()*s.noise
	climb := s.profile.Altitude(elapsed+time.Second) - s.profile.Altitude(elapsed)

	snap := telemetry.Snapshot{
		Baro:  s.baro(alt),
		Power: s.power(elapsed),
		GPS: &telemetry.GPSFix{
			Latitude:  s.profile.Latitude + s.rng.NormFloat64()*1e-5,
			Longitude: s.profile.Longitude + s.rng.NormFloat64()*1e-5,
			Altitude:  s.profile.GroundAlt + alt,
			Valid:     true,
			Time:      now,
		},
		Attitude: &telemetry.Attitude{
			Pitch: s.rng.NormFloat64() * 2,
			Roll:  s.rng.NormFloat64() * 2,
			Yaw:   math.Mod(elapsed.Seconds()*15, 360) - 180,
		},
		IMU: &telemetry.IMU{
			Accel: [3]float64{s.rng.NormFloat64() * 0.05, s.rng.NormFloat64() * 0.05, 9.81 + climb*0.01},
			Gyro:  [3]float64{s.rng.NormFloat64(), s.rng.NormFloat64(), 15},
			Mag:   [3]float64{220, -35, 410},
		},
	}
	return snap, nil
}

// QuickSample returns barometer and battery only. It never blocks.
func (s *Simulator) QuickSample() telemetry.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.now().Sub(s.start)
	return telemetry.Snapshot{
		Baro:  s.baro(s.profile.Altitude(elapsed)),
		Power: s.power(elapsed),
	}
}

func (s *Simulator) baro(alt float64) *telemetry.Barometer {
	return &telemetry.Barometer{
		Pressure:    telemetry.PressureFromAltitude(alt, telemetry.SeaLevelPressure),
		Temperature: 28 - 0.0065*alt,
	}
}

// Battery drains linearly from 8.4 V over an hour.
func (s *Simulator) power(elapsed time.Duration) *telemetry.Power {
	v := 8.4 - 1.2*math.Min(elapsed.Hours(), 1)
	return &telemetry.Power{Voltage: v}
}
