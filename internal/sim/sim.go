// Package sim produces plausible vehicle telemetry when no sensors are
// attached.
package sim

import (
	"sync"
	"time"

	"vdu/internal/model"
	"vdu/internal/telemetry"
)

const (
	minSpeed = 100
	maxSpeed = 120

	// StartOdometer is the odometer reading of a fresh simulator, in km.
	StartOdometer = 12345.0

	lowFuelPercent = 15
	overheatC      = 105
)

// Simulator sweeps speed between 100 and 120 km/h and integrates distance.
type Simulator struct {
	mu       sync.Mutex
	speed    int
	odometer float64
	elapsed  time.Duration
	doorOpen bool
}

// New returns a simulator whose first Step reports 100 km/h.
func New() *Simulator {
	return &Simulator{speed: maxSpeed, odometer: StartOdometer}
}

// SetDoorOpen toggles the simulated door sensor.
func (s *Simulator) SetDoorOpen(open bool) {
	s.mu.Lock()
	s.doorOpen = open
	s.mu.Unlock()
}

// Step advances the simulation by dt and returns the resulting view.
func (s *Simulator) Step(dt time.Duration) model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.speed = minSpeed + (s.speed-minSpeed+1)%(maxSpeed-minSpeed+1)
	if dt > 0 {
		s.odometer += float64(s.speed) * dt.Hours()
		s.elapsed += dt
	}

	speed := uint8(s.speed)
	temp := uint8(80 + s.speed%20)
	fuel := uint8(65 + s.speed%30)
	return model.Snapshot{
		Telemetry: telemetry.VehicleTelemetry{
			Speed:         speed,
			RPM:           uint16(s.speed) * 25,
			Temperature:   temp,
			FuelLevel:     fuel,
			EngineRunning: true,
			CheckEngine:   temp >= overheatC,
			LowFuel:       fuel < lowFuelPercent,
			DoorOpen:      s.doorOpen,
		},
		Odometer:  s.odometer,
		Trip:      s.odometer - StartOdometer,
		FuelRange: 400 + s.speed*2,
		TripTime:  s.elapsed,
	}
}
