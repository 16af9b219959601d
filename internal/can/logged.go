package can

import (
	"context"
	"time"

	appLog "vdu/internal/log"
)

// LogOption selects which traffic a LoggedController logs.
type LogOption uint8

const (
	LogNone LogOption = 0
	LogRead LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// LoggedController decorates a Controller and logs frames at debug level.
// Lifecycle calls are forwarded untouched.
type LoggedController struct {
	Controller
	opts LogOption
}

// NewLoggedController wraps inner.
func NewLoggedController(inner Controller, opts LogOption) *LoggedController {
	return &LoggedController{Controller: inner, opts: opts}
}

func (l *LoggedController) Transmit(ctx context.Context, f Frame, timeout time.Duration) error {
	err := l.Controller.Transmit(ctx, f, timeout)
	if l.opts&LogWrite != 0 {
		if err != nil {
			appLog.Debug("can tx error", "frame", f.String(), "err", err)
		} else {
			appLog.Debug("can tx", "frame", f.String())
		}
	}
	return err
}

func (l *LoggedController) Receive(ctx context.Context, timeout time.Duration) (Frame, error) {
	f, err := l.Controller.Receive(ctx, timeout)
	if l.opts&LogRead != 0 && err == nil {
		appLog.Debug("can rx", "frame", f.String())
	}
	return f, err
}
