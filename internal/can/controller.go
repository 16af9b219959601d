package can

import (
	"context"
	"strings"
	"time"
)

// Controller is the peripheral a Driver owns. The call order mirrors a
// hardware CAN controller: Install, SetFilter (stopped), Start, then
// Transmit/Receive, Stop, Uninstall.
//
// Implementations do not need to be safe for concurrent reconfiguration;
// the Driver serializes lifecycle calls. Receive must return promptly with
// ErrControllerStopped when Stop or Uninstall is called concurrently.
type Controller interface {
	Install(cfg BusConfig) error
	// SetFilter replaces the acceptance filter. Only valid while stopped.
	SetFilter(f Filter) error
	Start() error
	Stop() error
	Uninstall() error

	// Transmit queues one frame, waiting at most timeout for room or
	// completion. It returns ErrControllerTimeout when the bound is hit.
	Transmit(ctx context.Context, f Frame, timeout time.Duration) error
	// Receive waits at most timeout for a frame. timeout == 0 polls.
	Receive(ctx context.Context, timeout time.Duration) (Frame, error)
	// ReadAlerts returns and clears pending alert flags without blocking.
	ReadAlerts() (Alert, error)
}

// Filter is a single acceptance filter. A set mask bit means the
// corresponding identifier bit must match.
type Filter struct {
	ID       uint32
	Mask     uint32
	Extended bool
	// AcceptAll disables filtering; ID/Mask/Extended are ignored.
	AcceptAll bool
}

// AcceptAllFilter passes every frame.
var AcceptAllFilter = Filter{AcceptAll: true}

// Match reports whether the frame passes the filter.
func (f Filter) Match(fr Frame) bool {
	if f.AcceptAll {
		return true
	}
	if fr.Extended != f.Extended {
		return false
	}
	return fr.ID&f.Mask == f.ID&f.Mask
}

// Alert is a bit set of controller conditions.
type Alert uint32

const (
	AlertTxFailed Alert = 1 << iota
	AlertBusError
	AlertArbLost
	AlertRxQueueFull
	AlertBusOff
	AlertErrPassive
)

func (a Alert) String() string {
	if a == 0 {
		return "none"
	}
	names := []struct {
		bit  Alert
		name string
	}{
		{AlertTxFailed, "tx-failed"},
		{AlertBusError, "bus-error"},
		{AlertArbLost, "arb-lost"},
		{AlertRxQueueFull, "rx-queue-full"},
		{AlertBusOff, "bus-off"},
		{AlertErrPassive, "error-passive"},
	}
	var parts []string
	for _, n := range names {
		if a&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
