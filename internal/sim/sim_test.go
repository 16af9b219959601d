package sim

import (
	"math"
	"testing"
	"time"
)

func TestSpeedSweep(t *testing.T) {
	s := New()
	for i := 0; i < 21; i++ {
		snap := s.Step(0)
		if want := uint8(100 + i); snap.Telemetry.Speed != want {
			t.Fatalf("step %d: speed %d want %d", i, snap.Telemetry.Speed, want)
		}
	}
	if snap := s.Step(0); snap.Telemetry.Speed != 100 {
		t.Fatalf("speed should wrap to 100, got %d", snap.Telemetry.Speed)
	}
}

func TestDerivedValues(t *testing.T) {
	snap := New().Step(0) // 100 km/h
	tel := snap.Telemetry
	if tel.RPM != 2500 || tel.Temperature != 80 || tel.FuelLevel != 75 || snap.FuelRange != 600 {
		t.Fatalf("unexpected derived values %+v range=%d", tel, snap.FuelRange)
	}
	if err := tel.Validate(); err != nil {
		t.Fatalf("simulated telemetry invalid: %v", err)
	}
	if !tel.EngineRunning || tel.LowFuel || tel.CheckEngine {
		t.Fatalf("unexpected flags %+v", tel)
	}
}

func TestOdometerIntegratesDistance(t *testing.T) {
	s := New()
	snap := s.Step(time.Hour) // one hour at 100 km/h
	if math.Abs(snap.Odometer-(StartOdometer+100)) > 1e-9 {
		t.Fatalf("odometer = %f", snap.Odometer)
	}
	if math.Abs(snap.Trip-100) > 1e-9 || snap.TripTime != time.Hour {
		t.Fatalf("trip = %f over %s", snap.Trip, snap.TripTime)
	}

	s.SetDoorOpen(true)
	if !s.Step(0).Telemetry.DoorOpen {
		t.Fatalf("door flag not propagated")
	}
}
