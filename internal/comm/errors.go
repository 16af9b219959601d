package comm

import "errors"

// Facade error vocabulary. Underlying driver and queue errors are folded
// into these, so callers only need to test against this set.
var (
	ErrNotInitialized   = errors.New("comm: not initialized")
	ErrBusInitFailed    = errors.New("comm: bus initialization failed")
	ErrQueueAllocFailed = errors.New("comm: receive queue allocation failed")
	ErrPumpStartFailed  = errors.New("comm: receive pump start failed")
	ErrInvalidData      = errors.New("comm: invalid telemetry data")
	ErrTransmitFailed   = errors.New("comm: transmit failed")
	ErrInvalidArg       = errors.New("comm: invalid argument")
	ErrTimeout          = errors.New("comm: timed out")
	ErrBusUnhealthy     = errors.New("comm: bus unhealthy")
)
