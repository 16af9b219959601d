package can

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "vdu/internal/log"
)

type driverState int

const (
	stateStopped driverState = iota
	stateRunning
	// stateFaulted means a filter reconfiguration left the controller in an
	// unknown state. Only Deinit (and a later Init) leaves it.
	stateFaulted
)

func (s driverState) String() string {
	switch s {
	case stateStopped:
		return "stopped"
	case stateRunning:
		return "running"
	case stateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Driver owns one Controller and exposes the bus driver contract: lifecycle,
// bounded transmit/receive, acceptance filtering and health inspection.
//
// Transmit and filter reconfiguration are serialized internally. Receive
// does not hold the driver lock while waiting, so Deinit can interrupt a
// receiver blocked in the controller.
type Driver struct {
	ctrl Controller

	mu    sync.RWMutex
	state driverState
	cfg   BusConfig
	fault error
}

// NewDriver returns a stopped driver for ctrl.
func NewDriver(ctrl Controller) *Driver {
	return &Driver{ctrl: ctrl}
}

// Init installs and starts the controller with cfg. Calling Init on a
// running driver is a no-op that returns nil.
func (d *Driver) Init(cfg BusConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateRunning {
		appLog.Warn("can: driver already initialized", "bitrate", d.cfg.Bitrate, "mode", d.cfg.Mode())
		return nil
	}
	if err := cfg.Validate(); err != nil {
		appLog.Error("can: invalid bus config", err)
		return err
	}
	if d.ctrl == nil {
		return fmt.Errorf("%w: no controller", ErrHardwareInit)
	}
	if d.state == stateFaulted {
		// Leftover from a failed reconfiguration.
		_ = d.ctrl.Uninstall()
		d.state = stateStopped
		d.fault = nil
	}

	if err := d.ctrl.Install(cfg); err != nil {
		appLog.Error("can: controller install failed", err)
		return fmt.Errorf("%w: install: %v", ErrHardwareInit, err)
	}
	if err := d.ctrl.SetFilter(AcceptAllFilter); err != nil {
		_ = d.ctrl.Uninstall()
		appLog.Error("can: controller filter setup failed", err)
		return fmt.Errorf("%w: filter: %v", ErrHardwareInit, err)
	}
	if err := d.ctrl.Start(); err != nil {
		_ = d.ctrl.Uninstall()
		appLog.Error("can: controller start failed", err)
		return fmt.Errorf("%w: start: %v", ErrHardwareInit, err)
	}

	d.cfg = cfg
	d.state = stateRunning
	appLog.Info("can: driver initialized", "bitrate", cfg.Bitrate, "mode", cfg.Mode())
	return nil
}

// Deinit stops and releases the controller. Safe to call when not
// initialized.
func (d *Driver) Deinit() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateStopped {
		return
	}
	if d.state == stateRunning {
		if err := d.ctrl.Stop(); err != nil {
			appLog.Warn("can: controller stop failed", "err", err)
		}
	}
	if err := d.ctrl.Uninstall(); err != nil {
		appLog.Warn("can: controller uninstall failed", "err", err)
	}
	d.state = stateStopped
	d.fault = nil
	appLog.Info("can: driver deinitialized")
}

// Running reports whether the driver is initialized and not faulted.
func (d *Driver) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state == stateRunning
}

// Config returns the active bus configuration.
func (d *Driver) Config() BusConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// notRunningErr must be called with d.mu held.
func (d *Driver) notRunningErr() error {
	if d.state == stateFaulted && d.fault != nil {
		return fmt.Errorf("%w: controller faulted: %v", ErrNotInitialized, d.fault)
	}
	return ErrNotInitialized
}

// Transmit sends one frame, blocking for at most timeout.
func (d *Driver) Transmit(ctx context.Context, f Frame, timeout time.Duration) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrTransmitFailed)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.state != stateRunning {
		return d.notRunningErr()
	}

	err := d.ctrl.Transmit(ctx, f, timeout)
	switch {
	case err == nil:
		appLog.Debug("can: frame sent", "frame", f.String())
		return nil
	case errors.Is(err, ErrControllerTimeout):
		return fmt.Errorf("%w: timed out after %s", ErrTransmitFailed, timeout)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTransmitFailed, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransmitFailed, err)
	}
}

// Receive waits up to timeout for the next accepted frame. A zero timeout
// polls without blocking.
func (d *Driver) Receive(ctx context.Context, timeout time.Duration) (Frame, error) {
	if timeout < 0 {
		return Frame{}, fmt.Errorf("%w: negative timeout", ErrReceiveFailed)
	}

	d.mu.RLock()
	if d.state != stateRunning {
		err := d.notRunningErr()
		d.mu.RUnlock()
		return Frame{}, err
	}
	ctrl := d.ctrl
	d.mu.RUnlock()

	f, err := ctrl.Receive(ctx, timeout)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, ErrControllerTimeout):
		return Frame{}, ErrTimeout
	case errors.Is(err, ErrControllerStopped):
		if !d.Running() {
			return Frame{}, ErrNotInitialized
		}
		// Restarted by a filter change while we waited.
		return Frame{}, ErrTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Frame{}, fmt.Errorf("%w: %w", ErrReceiveFailed, err)
	default:
		return Frame{}, fmt.Errorf("%w: %v", ErrReceiveFailed, err)
	}
}

// SetFilter restricts reception to identifiers where
// (frameID & mask) == (id & mask). The controller is stopped, reconfigured
// and restarted; a failure in that sequence faults the driver.
func (d *Driver) SetFilter(id, mask uint32, extended bool) error {
	limit := uint32(MaxStandardID)
	if extended {
		limit = MaxExtendedID
	}
	if id > limit || mask > limit {
		return fmt.Errorf("%w: id 0x%X mask 0x%X out of range", ErrInvalidConfig, id, mask)
	}
	err := d.reconfigure(Filter{ID: id, Mask: mask, Extended: extended})
	if err == nil {
		appLog.Info("can: filter set", "id", fmt.Sprintf("0x%03X", id), "mask", fmt.Sprintf("0x%03X", mask), "extended", extended)
	}
	return err
}

// ClearFilter restores accept-all filtering.
func (d *Driver) ClearFilter() error {
	err := d.reconfigure(AcceptAllFilter)
	if err == nil {
		appLog.Info("can: filter cleared, accepting all frames")
	}
	return err
}

func (d *Driver) reconfigure(f Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning {
		return d.notRunningErr()
	}

	fail := func(step string, err error) error {
		d.state = stateFaulted
		d.fault = fmt.Errorf("%s: %w", step, err)
		appLog.Error("can: filter reconfiguration failed", err, "step", step)
		return fmt.Errorf("%w: %s: %v", ErrFilterFailed, step, err)
	}

	if err := d.ctrl.Stop(); err != nil {
		return fail("stop", err)
	}
	if err := d.ctrl.SetFilter(f); err != nil {
		return fail("set filter", err)
	}
	if err := d.ctrl.Start(); err != nil {
		return fail("restart", err)
	}
	return nil
}

// Health inspects and clears pending controller alerts without blocking.
func (d *Driver) Health() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch d.state {
	case stateStopped:
		return ErrNotInitialized
	case stateFaulted:
		return fmt.Errorf("%w: controller faulted: %v", ErrBusError, d.fault)
	}

	alerts, err := d.ctrl.ReadAlerts()
	if err != nil {
		appLog.Error("can: failed to read controller alerts", err)
		return fmt.Errorf("%w: read alerts: %v", ErrBusError, err)
	}
	switch {
	case alerts&(AlertBusError|AlertBusOff) != 0:
		appLog.Warn("can: bus error detected", "alerts", alerts)
		return fmt.Errorf("%w: alerts %s", ErrBusError, alerts)
	case alerts&AlertArbLost != 0:
		appLog.Warn("can: arbitration lost", "alerts", alerts)
		return fmt.Errorf("%w: alerts %s", ErrArbitrationLost, alerts)
	case alerts&AlertTxFailed != 0:
		appLog.Warn("can: transmission failed", "alerts", alerts)
		return fmt.Errorf("%w: alerts %s", ErrTransmitFailed, alerts)
	}
	if alerts != 0 {
		appLog.Debug("can: informational alerts", "alerts", alerts)
	}
	return nil
}
