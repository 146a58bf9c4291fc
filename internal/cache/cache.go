// Package cache keeps the last known auxiliary readings received over the
// radio link, each stamped with the time it was observed.
package cache

import (
	"sync"
	"time"
)

// Source names one auxiliary reading.
type Source int

const (
	CarrierPressure Source = iota
	Station1
	Station2
)

func (s Source) String() string {
	switch s {
	case CarrierPressure:
		return "carrier_pressure"
	case Station1:
		return "station1"
	case Station2:
		return "station2"
	default:
		return "unknown"
	}
}

// StationSource maps a station id to its source. ok is false for unknown ids.
func StationSource(id int) (Source, bool) {
	switch id {
	case 1:
		return Station1, true
	case 2:
		return Station2, true
	default:
		return 0, false
	}
}

const (
	CarrierFreshness = 10 * time.Second
	StationFreshness = 30 * time.Second
)

// Freshness is the window during which a reading from src is available.
func Freshness(src Source) time.Duration {
	if src == CarrierPressure {
		return CarrierFreshness
	}
	return StationFreshness
}

// Entry is a single observed reading.
type Entry struct {
	Value      float64
	ObservedAt time.Time
}

// Aux is safe for concurrent use. The router writes it, the builder reads it.
type Aux struct {
	mu      sync.Mutex
	entries map[Source]Entry
}

func New() *Aux {
	return &Aux{entries: make(map[Source]Entry)}
}

// Update stores value for src observed at.
func (a *Aux) Update(src Source, value float64, at time.Time) {
	a.mu.Lock()
	a.entries[src] = Entry{Value: value, ObservedAt: at}
	a.mu.Unlock()
}

// Lookup returns the raw entry regardless of age.
func (a *Aux) Lookup(src Source) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[src]
	return e, ok
}

// Available returns the value of src only if it is inside its freshness window.
func (a *Aux) Available(src Source, now time.Time) (float64, bool) {
	e, ok := a.Lookup(src)
	if !ok || now.Sub(e.ObservedAt) >= Freshness(src) {
		return 0, false
	}
	return e.Value, true
}
