// Package sensors provides the sensor sources the telemetry producer
// samples. Simulator follows a scripted flight profile.
package sensors
