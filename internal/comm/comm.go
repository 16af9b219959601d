// Package comm is the CAN communication subsystem of the display unit: it
// owns the bus driver, the receive queue and the receive pump, and exposes
// telemetry transmit and record receive to the application loop.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vdu/internal/can"
	appLog "vdu/internal/log"
	"vdu/internal/queue"
	"vdu/internal/telemetry"
)

// DefaultTransmitTimeout bounds one telemetry transmit.
const DefaultTransmitTimeout = 100 * time.Millisecond

// Config parameterizes a Subsystem. Zero durations and capacity are
// replaced by their defaults in New; negative values are kept and make
// Init fail.
type Config struct {
	Bus             can.BusConfig
	TelemetryID     uint32
	QueueCapacity   int
	ReceiveTimeout  time.Duration
	TransmitTimeout time.Duration
}

// DefaultConfig is 500 kbit/s normal mode with the standard telemetry
// identifier and queue depth.
func DefaultConfig() Config {
	return Config{
		Bus:             can.DefaultConfig,
		TelemetryID:     telemetry.FrameID,
		QueueCapacity:   queue.DefaultCapacity,
		ReceiveTimeout:  DefaultReceiveTimeout,
		TransmitTimeout: DefaultTransmitTimeout,
	}
}

// Stats is a point-in-time view of the subsystem counters.
type Stats struct {
	Initialized    bool      `json:"initialized" cbor:"initialized"`
	Bitrate        uint32    `json:"bitrate" cbor:"bitrate"`
	Mode           string    `json:"mode" cbor:"mode"`
	Queued         int       `json:"queued" cbor:"queued"`
	Capacity       int       `json:"capacity" cbor:"capacity"`
	Pump           PumpStats `json:"pump" cbor:"pump"`
	Sent           uint64    `json:"sent" cbor:"sent"`
	TransmitErrors uint64    `json:"transmit_errors" cbor:"transmit_errors"`
}

// Subsystem is the communication facade. All methods are safe for
// concurrent use. Transmit and filter changes are serialized; TryReceive
// may run alongside them.
type Subsystem struct {
	cfg    Config
	driver *can.Driver

	mu          sync.RWMutex
	initialized bool
	q           *queue.Bounded[ReceivedRecord]
	pump        *pump
	lifeCtx     context.Context
	lifeCancel  context.CancelFunc
	lastPump    PumpStats

	txMu sync.Mutex

	sent   atomic.Uint64
	txErrs atomic.Uint64
}

// New returns an uninitialized subsystem driving ctrl.
func New(ctrl can.Controller, cfg Config) *Subsystem {
	def := DefaultConfig()
	if cfg.Bus.Bitrate == 0 {
		cfg.Bus.Bitrate = def.Bus.Bitrate
	}
	if cfg.TelemetryID == 0 {
		cfg.TelemetryID = def.TelemetryID
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.ReceiveTimeout == 0 {
		cfg.ReceiveTimeout = def.ReceiveTimeout
	}
	if cfg.TransmitTimeout == 0 {
		cfg.TransmitTimeout = def.TransmitTimeout
	}
	return &Subsystem{cfg: cfg, driver: can.NewDriver(ctrl)}
}

// Config returns the effective configuration.
func (s *Subsystem) Config() Config { return s.cfg }

// Init brings up the bus, allocates the receive queue and starts the pump.
// It is idempotent. On failure, whatever was already set up is released.
func (s *Subsystem) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		appLog.Warn("comm: already initialized")
		return nil
	}

	if err := s.driver.Init(s.cfg.Bus); err != nil {
		return fmt.Errorf("%w: %v", ErrBusInitFailed, err)
	}

	q, err := queue.New[ReceivedRecord](s.cfg.QueueCapacity)
	if err != nil {
		s.driver.Deinit()
		appLog.Error("comm: queue allocation failed", err, "capacity", s.cfg.QueueCapacity)
		return fmt.Errorf("%w: %v", ErrQueueAllocFailed, err)
	}

	p := newPump(s.driver, q, s.cfg.ReceiveTimeout, s.cfg.TelemetryID, time.Now())
	if err := p.Start(); err != nil {
		s.driver.Deinit()
		appLog.Error("comm: pump start failed", err)
		return fmt.Errorf("%w: %v", ErrPumpStartFailed, err)
	}

	s.q = q
	s.pump = p
	s.lifeCtx, s.lifeCancel = context.WithCancel(context.Background())
	s.initialized = true
	appLog.Info("comm: initialized",
		"bitrate", s.cfg.Bus.Bitrate,
		"mode", s.cfg.Bus.Mode(),
		"telemetry_id", fmt.Sprintf("0x%03X", s.cfg.TelemetryID),
		"queue", s.cfg.QueueCapacity,
	)
	return nil
}

// Deinit stops the pump, releases the queue and shuts the bus down, in that
// order. It is a no-op when not initialized.
func (s *Subsystem) Deinit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deinitLocked()
}

// deinitLocked must be called with s.mu held for writing.
func (s *Subsystem) deinitLocked() {
	if !s.initialized {
		return
	}
	s.lifeCancel()

	s.pump.Stop()
	s.lastPump = s.pump.Stats()
	s.pump = nil

	if n := s.q.Len(); n > 0 {
		appLog.Info("comm: discarding queued records", "count", n)
	}
	s.q = nil

	s.driver.Deinit()
	s.initialized = false
	appLog.Info("comm: deinitialized")
}

// Initialized reports whether Init has succeeded and Deinit has not run.
func (s *Subsystem) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// SendTelemetry encodes t and transmits it once on the telemetry
// identifier. There is no retry; the next cycle sends fresh data.
func (s *Subsystem) SendTelemetry(ctx context.Context, t telemetry.VehicleTelemetry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	enc := telemetry.Encode(t)
	frame, err := can.NewFrame(s.cfg.TelemetryID, false, enc[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	s.txMu.Lock()
	err = s.driver.Transmit(ctx, frame, s.cfg.TransmitTimeout)
	s.txMu.Unlock()
	if err != nil {
		s.txErrs.Add(1)
		appLog.Warn("comm: telemetry transmit failed", "err", err, "frame", enc)
		return fmt.Errorf("%w: %v", ErrTransmitFailed, err)
	}
	s.sent.Add(1)
	return nil
}

// SendSimple transmits speed, rpm and temperature with fuel at 50%, the
// engine running and no warnings set.
func (s *Subsystem) SendSimple(ctx context.Context, speed uint8, rpm uint16, temp uint8) error {
	return s.SendTelemetry(ctx, telemetry.VehicleTelemetry{
		Speed:         speed,
		RPM:           rpm,
		Temperature:   temp,
		FuelLevel:     50,
		EngineRunning: true,
	})
}

// TryReceive returns the oldest received record, waiting up to timeout. A
// zero timeout never blocks. Deinit wakes a waiting caller with
// ErrNotInitialized.
func (s *Subsystem) TryReceive(ctx context.Context, timeout time.Duration) (ReceivedRecord, error) {
	if timeout < 0 {
		return ReceivedRecord{}, fmt.Errorf("%w: negative timeout %s", ErrInvalidArg, timeout)
	}

	s.mu.RLock()
	if !s.initialized {
		s.mu.RUnlock()
		return ReceivedRecord{}, ErrNotInitialized
	}
	q, life := s.q, s.lifeCtx
	s.mu.RUnlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	rec, err := q.Pop(ctx, timeout)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, queue.ErrEmpty):
		return ReceivedRecord{}, ErrTimeout
	case life.Err() != nil:
		return ReceivedRecord{}, ErrNotInitialized
	default:
		return ReceivedRecord{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
}

// HasMessage reports whether at least one record is queued.
func (s *Subsystem) HasMessage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized && s.q.Len() > 0
}

// Health inspects the bus without blocking. Pending controller alerts are
// consumed by the check.
func (s *Subsystem) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if err := s.driver.Health(); err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnhealthy, err)
	}
	return nil
}

// SetFilter restricts reception to identifiers matching id under mask.
func (s *Subsystem) SetFilter(id, mask uint32, extended bool) error {
	return s.filter(func() error { return s.driver.SetFilter(id, mask, extended) })
}

// ClearFilter accepts every identifier again.
func (s *Subsystem) ClearFilter() error {
	return s.filter(s.driver.ClearFilter)
}

// filter holds the write lock, so no transmit runs while the controller
// restarts. A failed restart leaves the bus unusable; the subsystem is then
// shut down so that Health reports ErrNotInitialized and Init starts over.
func (s *Subsystem) filter(apply func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	err := apply()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, can.ErrInvalidConfig):
		return fmt.Errorf("%w: %v", ErrInvalidArg, err)
	case errors.Is(err, can.ErrFilterFailed):
		appLog.Error("comm: filter change faulted the bus, shutting down", err)
		s.deinitLocked()
		return fmt.Errorf("%w: %v", ErrBusUnhealthy, err)
	default:
		return fmt.Errorf("%w: %v", ErrBusUnhealthy, err)
	}
}

// Stats returns the current counters. Pump counters survive Deinit until
// the next Init.
func (s *Subsystem) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Initialized:    s.initialized,
		Bitrate:        s.cfg.Bus.Bitrate,
		Mode:           s.cfg.Bus.Mode(),
		Capacity:       s.cfg.QueueCapacity,
		Pump:           s.lastPump,
		Sent:           s.sent.Load(),
		TransmitErrors: s.txErrs.Load(),
	}
	if s.initialized {
		st.Queued = s.q.Len()
		st.Pump = s.pump.Stats()
	}
	return st
}
