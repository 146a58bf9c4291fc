package telemetry_test

import (
	"testing"
	"time"

	"flightlink/internal/telemetry"
)

func healthyInputs(now time.Time) telemetry.FaultInputs {
	return telemetry.FaultInputs{
		Now:               now,
		Phase:             telemetry.Ascent,
		CarrierSeen:       true,
		CarrierValue:      1000,
		CarrierAt:         now.Add(-time.Second),
		FixValid:          true,
		LastFix:           now,
		SeparationTimeout: 5 * time.Second,
	}
}

func TestFaultCodeString(t *testing.T) {
	cases := map[telemetry.FaultCode]string{
		0: "000000",
		telemetry.FaultVehicleRate:                                "100000",
		telemetry.FaultActuator:                                   "000001",
		telemetry.FaultCarrierPressure | telemetry.FaultSeparation: "001010",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Fatalf("%d: got %s, want %s", code, got, want)
		}
	}
}

func TestFaultRules(t *testing.T) {
	m := telemetry.NewFaultMonitor(telemetry.DefaultFaultConfig())
	now := t0

	cases := []struct {
		name   string
		mutate func(*telemetry.FaultInputs)
		want   telemetry.FaultCode
	}{
		{"healthy", func(*telemetry.FaultInputs) {}, 0},
		{"vehicle too fast", func(in *telemetry.FaultInputs) {
			in.Phase, in.Rate = telemetry.VehicleDescent, 16
		}, telemetry.FaultVehicleRate},
		{"vehicle nominal", func(in *telemetry.FaultInputs) {
			in.Phase, in.Rate = telemetry.VehicleDescent, 13
		}, 0},
		{"payload too slow", func(in *telemetry.FaultInputs) {
			in.Phase, in.Rate = telemetry.PayloadDescent, 4
		}, telemetry.FaultPayloadRate},
		{"rate zero is not evaluated", func(in *telemetry.FaultInputs) {
			in.Phase, in.Rate = telemetry.PayloadDescent, 0
		}, 0},
		{"carrier never seen", func(in *telemetry.FaultInputs) {
			in.CarrierSeen = false
		}, telemetry.FaultCarrierPressure},
		{"carrier stale", func(in *telemetry.FaultInputs) {
			in.CarrierAt = now.Add(-16 * time.Second)
		}, telemetry.FaultCarrierPressure},
		{"carrier non-positive", func(in *telemetry.FaultInputs) {
			in.CarrierValue = 0
		}, telemetry.FaultCarrierPressure},
		{"no fix", func(in *telemetry.FaultInputs) {
			in.FixValid = false
		}, telemetry.FaultPosition},
		{"fix stale", func(in *telemetry.FaultInputs) {
			in.LastFix = now.Add(-31 * time.Second)
		}, telemetry.FaultPosition},
	}
	for _, tc := range cases {
		in := healthyInputs(now)
		tc.mutate(&in)
		if got := m.Evaluate(in); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestFaultSeparationTimeoutLatches(t *testing.T) {
	m := telemetry.NewFaultMonitor(telemetry.DefaultFaultConfig())
	in := healthyInputs(t0)
	in.Phase = telemetry.Separation

	in.SeparationElapsed = 5 * time.Second
	if m.Evaluate(in).Has(telemetry.FaultSeparation) {
		t.Fatal("bit set at exactly the timeout")
	}

	in.SeparationElapsed = 5*time.Second + time.Millisecond
	if !m.Evaluate(in).Has(telemetry.FaultSeparation) {
		t.Fatal("bit not set after the timeout")
	}

	// Still latched even if the phase input changes.
	in.Phase, in.SeparationElapsed = telemetry.VehicleDescent, 0
	if !m.Evaluate(in).Has(telemetry.FaultSeparation) {
		t.Fatal("bit cleared without confirmation")
	}

	in.Separated = true
	if m.Evaluate(in).Has(telemetry.FaultSeparation) {
		t.Fatal("bit not cleared by confirmation")
	}
}

func TestFaultSeparationConfirmedInTime(t *testing.T) {
	m := telemetry.NewFaultMonitor(telemetry.DefaultFaultConfig())
	in := healthyInputs(t0)
	in.Phase = telemetry.Separation
	for _, elapsed := range []time.Duration{0, time.Second, 4 * time.Second} {
		in.SeparationElapsed = elapsed
		if m.Evaluate(in).Has(telemetry.FaultSeparation) {
			t.Fatalf("bit set at %v", elapsed)
		}
	}
	in.Separated = true
	in.Phase = telemetry.PayloadDescent
	in.SeparationElapsed = 0
	if m.Evaluate(in).Has(telemetry.FaultSeparation) {
		t.Fatal("bit set after confirmation")
	}
}

func TestFaultMissedSeparationLatches(t *testing.T) {
	m := telemetry.NewFaultMonitor(telemetry.DefaultFaultConfig())
	in := healthyInputs(t0)
	in.Phase = telemetry.PayloadDescent
	in.SeparationMissed = true
	if !m.Evaluate(in).Has(telemetry.FaultSeparation) {
		t.Fatal("bit not set when the window was left unconfirmed")
	}

	in.Phase, in.SeparationMissed = telemetry.Recovery, false
	if !m.Evaluate(in).Has(telemetry.FaultSeparation) {
		t.Fatal("bit cleared without confirmation")
	}
	in.Separated = true
	if m.Evaluate(in).Has(telemetry.FaultSeparation) {
		t.Fatal("bit not cleared by confirmation")
	}
}

func TestFaultActuatorReportedOnce(t *testing.T) {
	m := telemetry.NewFaultMonitor(telemetry.DefaultFaultConfig())
	m.ReportActuatorFault()
	in := healthyInputs(t0)
	if !m.Evaluate(in).Has(telemetry.FaultActuator) {
		t.Fatal("actuator bit not reported")
	}
	if m.Evaluate(in).Has(telemetry.FaultActuator) {
		t.Fatal("actuator bit reported twice")
	}
}
