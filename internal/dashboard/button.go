package dashboard

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	appLog "vdu/internal/log"
)

// DefaultDebounce is how long a press must hold before it counts.
const DefaultDebounce = 50 * time.Millisecond

// edgePoll bounds each edge wait so cancellation is noticed.
const edgePoll = 100 * time.Millisecond

// Button is an active-low push button with the internal pull-up enabled.
type Button struct {
	pin      gpio.PinIn
	debounce time.Duration
}

// OpenButton resolves a GPIO by name (e.g. "GPIO17") through periph.
func OpenButton(name string, debounce time.Duration) (*Button, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("button: periph host init failed: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("button: gpio %s not found", name)
	}
	return newButton(p, debounce)
}

func newButton(pin gpio.PinIn, debounce time.Duration) (*Button, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("button: gpio %s In failed: %w", pin, err)
	}
	return &Button{pin: pin, debounce: debounce}, nil
}

// Run calls onPress for every debounced press until ctx is done.
func (b *Button) Run(ctx context.Context, onPress func()) {
	appLog.Debug("button: watching", "pin", b.pin.String(), "debounce", b.debounce)
	for ctx.Err() == nil {
		if !b.pin.WaitForEdge(edgePoll) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.debounce):
		}
		if b.pin.Read() == gpio.Low {
			onPress()
		}
	}
}
