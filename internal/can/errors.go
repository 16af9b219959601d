package can

import "errors"

// Driver error kinds. Callers match them with errors.Is; the driver wraps
// controller-specific causes behind these values.
var (
	ErrNotInitialized  = errors.New("can: driver not initialized")
	ErrInvalidConfig   = errors.New("can: invalid bus config")
	ErrHardwareInit    = errors.New("can: controller init failed")
	ErrInvalidFrame    = errors.New("can: invalid frame")
	ErrTransmitFailed  = errors.New("can: transmit failed")
	ErrTimeout         = errors.New("can: timeout")
	ErrReceiveFailed   = errors.New("can: receive failed")
	ErrBusError        = errors.New("can: bus error")
	ErrArbitrationLost = errors.New("can: arbitration lost")
	ErrFilterFailed    = errors.New("can: filter reconfiguration failed")
)

// Controller-level conditions. Controller implementations return these so
// the Driver can classify failures without knowing the peripheral.
var (
	// ErrControllerTimeout means the controller gave up waiting within the
	// requested bound.
	ErrControllerTimeout = errors.New("can: controller timeout")
	// ErrControllerStopped means the controller is not in the started state.
	ErrControllerStopped = errors.New("can: controller stopped")
	// ErrListenOnly means a transmit was attempted in silent mode.
	ErrListenOnly = errors.New("can: controller is listen-only")
)
