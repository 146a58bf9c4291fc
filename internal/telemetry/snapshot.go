package telemetry

import "time"

// Snapshot is one reading of the onboard sensors. Every group is optional:
// a nil group means the sensor did not answer this cycle and its packet
// fields are zero.
type Snapshot struct {
	Baro     *Barometer
	Power    *Power
	GPS      *GPSFix
	Attitude *Attitude
	IMU      *IMU
	// RTC is the real-time clock reading. Nil means use the system clock.
	RTC *time.Time
}

// Barometer carries the payload's own pressure sensor.
type Barometer struct {
	Pressure    float64 // hPa
	Temperature float64 // °C
}

type Power struct {
	Voltage float64
}

// GPSFix is a position report. Time is the fix time if the receiver
// reports one.
type GPSFix struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Valid     bool
	Time      time.Time
}

// Usable reports whether the fix carries a real position.
func (f *GPSFix) Usable() bool {
	return f != nil && f.Valid && !(f.Latitude == 0 && f.Longitude == 0)
}

type Attitude struct {
	Pitch float64
	Roll  float64
	Yaw   float64
}

// IMU holds raw nine-axis samples.
type IMU struct {
	Accel [3]float64
	Gyro  [3]float64
	Mag   [3]float64
}
