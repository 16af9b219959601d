//go:build !linux

// SocketCAN is only available on Linux. On other platforms the controller
// exists so the package always builds, but Install fails; callers check
// SocketCANSupported and pick the virtual bus instead.

package can

import (
	"context"
	"errors"
	"time"
)

// SocketCANSupported reports whether NewSocketCAN returns a working controller.
const SocketCANSupported = false

var errSocketCANUnsupported = errors.New("can: socketcan is only available on linux")

// SocketCAN is a placeholder controller on non-linux platforms.
type SocketCAN struct {
	iface string
}

// NewSocketCAN returns a controller whose Install always fails.
func NewSocketCAN(iface string, _ bool) *SocketCAN {
	return &SocketCAN{iface: iface}
}

func (s *SocketCAN) Install(BusConfig) error { return errSocketCANUnsupported }
func (s *SocketCAN) SetFilter(Filter) error  { return errSocketCANUnsupported }
func (s *SocketCAN) Start() error            { return errSocketCANUnsupported }
func (s *SocketCAN) Stop() error             { return nil }
func (s *SocketCAN) Uninstall() error        { return nil }

func (s *SocketCAN) Transmit(context.Context, Frame, time.Duration) error {
	return ErrControllerStopped
}

func (s *SocketCAN) Receive(context.Context, time.Duration) (Frame, error) {
	return Frame{}, ErrControllerStopped
}

func (s *SocketCAN) ReadAlerts() (Alert, error) { return 0, errSocketCANUnsupported }
