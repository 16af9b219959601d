package model

import (
	"sync"
	"time"

	"vdu/internal/telemetry"
)

// Snapshot is the display-side view of the vehicle: what the dashboard
// renders, the web API serves and the console prints.
type Snapshot struct {
	// Telemetry is the last vehicle state sent on the bus.
	Telemetry telemetry.VehicleTelemetry `json:"telemetry" cbor:"telemetry"`

	// Odometer and Trip are in kilometres.
	Odometer float64 `json:"odometer_km" cbor:"odometer_km"`
	Trip     float64 `json:"trip_km" cbor:"trip_km"`
	// FuelRange is the estimated remaining range in kilometres.
	FuelRange int `json:"fuel_range_km" cbor:"fuel_range_km"`

	// TripTime is the elapsed driving time.
	TripTime time.Duration `json:"trip_time" cbor:"trip_time"`

	// Remote is the last telemetry decoded from another node, if any.
	Remote   *telemetry.VehicleTelemetry `json:"remote,omitempty" cbor:"remote,omitempty"`
	RemoteAt time.Time                   `json:"remote_at,omitempty" cbor:"remote_at,omitempty"`

	Clock time.Time `json:"clock" cbor:"clock"`
}

// Store guards the current Snapshot. The application loop writes it; the
// web API and console read copies.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Get returns a copy of the current snapshot.
func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.Remote != nil {
		r := *snap.Remote
		snap.Remote = &r
	}
	return snap
}

// Update applies fn to the snapshot under the write lock.
func (s *Store) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}

// SetRemote records telemetry decoded from a received frame.
func (s *Store) SetRemote(t telemetry.VehicleTelemetry, at time.Time) {
	s.Update(func(snap *Snapshot) {
		snap.Remote = &t
		snap.RemoteAt = at
	})
}
