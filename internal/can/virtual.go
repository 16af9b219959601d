package can

import (
	"context"
	"errors"
	"sync"
	"time"
)

// VirtualBus is an in-memory CAN segment. Controllers created from it behave
// like peripheral controllers wired to the same pair of bus lines: a frame
// is acknowledged when at least one other started node with the same bit
// rate is present.
type VirtualBus struct {
	mu    sync.RWMutex
	nodes map[*VirtualController]struct{}
}

// NewVirtualBus creates an empty bus.
func NewVirtualBus() *VirtualBus {
	return &VirtualBus{nodes: make(map[*VirtualController]struct{})}
}

// DefaultRxQueueLen is the receive FIFO depth of a virtual controller.
const DefaultRxQueueLen = 32

// NewController returns a controller attached to the bus. It joins the bus
// on Install and leaves on Uninstall.
func (b *VirtualBus) NewController() *VirtualController {
	return &VirtualController{bus: b, rxQueueLen: DefaultRxQueueLen}
}

// Inject puts a frame on the bus as if another module sent it. It returns
// the number of nodes that accepted the frame into their FIFO.
func (b *VirtualBus) Inject(f Frame) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for node := range b.nodes {
		if ok, stored := node.deliver(f, 0); ok && stored {
			n++
		}
	}
	return n, nil
}

// deliver fans a frame out to every node except sender. bitrate 0 matches
// any node. It reports whether any node acknowledged.
func (b *VirtualBus) deliver(sender *VirtualController, f Frame, bitrate uint32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acked := false
	for node := range b.nodes {
		if node == sender {
			continue
		}
		if ok, _ := node.deliver(f, bitrate); ok {
			acked = true
		}
	}
	return acked
}

func (b *VirtualBus) attach(c *VirtualController) {
	b.mu.Lock()
	b.nodes[c] = struct{}{}
	b.mu.Unlock()
}

func (b *VirtualBus) detach(c *VirtualController) {
	b.mu.Lock()
	delete(b.nodes, c)
	b.mu.Unlock()
}

var (
	errNotInstalled     = errors.New("can: controller not installed")
	errAlreadyInstalled = errors.New("can: controller already installed")
	errStarted          = errors.New("can: controller must be stopped")
	errNoAck            = errors.New("can: no acknowledgment from any node")
)

// VirtualController is a Controller on a VirtualBus.
type VirtualController struct {
	bus        *VirtualBus
	rxQueueLen int

	mu        sync.Mutex
	installed bool
	started   bool
	cfg       BusConfig
	filter    Filter
	rx        chan Frame
	stopCh    chan struct{}
	alerts    Alert
	txDelay   time.Duration
}

// SetRxQueueLen changes the receive FIFO depth used by the next Install.
func (c *VirtualController) SetRxQueueLen(n int) {
	if n <= 0 {
		n = DefaultRxQueueLen
	}
	c.mu.Lock()
	c.rxQueueLen = n
	c.mu.Unlock()
}

// SetTxDelay simulates bus occupancy: each transmit waits d before the frame
// goes out. A delay longer than the transmit timeout makes Transmit time out.
func (c *VirtualController) SetTxDelay(d time.Duration) {
	c.mu.Lock()
	c.txDelay = d
	c.mu.Unlock()
}

// RaiseAlerts sets alert flags as if the controller detected them.
func (c *VirtualController) RaiseAlerts(a Alert) {
	c.mu.Lock()
	c.alerts |= a
	c.mu.Unlock()
}

func (c *VirtualController) Install(cfg BusConfig) error {
	c.mu.Lock()
	if c.installed {
		c.mu.Unlock()
		return errAlreadyInstalled
	}
	c.cfg = cfg
	c.filter = AcceptAllFilter
	c.rx = make(chan Frame, c.rxQueueLen)
	c.alerts = 0
	c.installed = true
	c.mu.Unlock()

	c.bus.attach(c)
	return nil
}

func (c *VirtualController) SetFilter(f Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.installed {
		return errNotInstalled
	}
	if c.started {
		return errStarted
	}
	c.filter = f
	return nil
}

func (c *VirtualController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.installed {
		return errNotInstalled
	}
	if c.started {
		return nil
	}
	c.stopCh = make(chan struct{})
	c.started = true
	return nil
}

func (c *VirtualController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.installed {
		return errNotInstalled
	}
	c.stopLocked()
	return nil
}

func (c *VirtualController) stopLocked() {
	if !c.started {
		return
	}
	c.started = false
	close(c.stopCh)
}

func (c *VirtualController) Uninstall() error {
	c.mu.Lock()
	if !c.installed {
		c.mu.Unlock()
		return nil
	}
	c.stopLocked()
	c.installed = false
	c.mu.Unlock()

	c.bus.detach(c)
	return nil
}

func (c *VirtualController) Transmit(ctx context.Context, f Frame, timeout time.Duration) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrControllerStopped
	}
	if c.cfg.Silent {
		c.mu.Unlock()
		return ErrListenOnly
	}
	cfg := c.cfg
	delay := c.txDelay
	stopCh := c.stopCh
	c.mu.Unlock()

	if delay > 0 {
		if delay > timeout {
			select {
			case <-time.After(timeout):
				return ErrControllerTimeout
			case <-ctx.Done():
				return ctx.Err()
			case <-stopCh:
				return ErrControllerStopped
			}
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return ErrControllerStopped
		}
	}

	acked := c.bus.deliver(c, f, cfg.Bitrate)
	if cfg.Loopback {
		// No-ack self test: the sender sees its own frame.
		c.deliver(f, 0)
		return nil
	}
	if !acked {
		c.RaiseAlerts(AlertTxFailed | AlertBusError)
		return errNoAck
	}
	return nil
}

// deliver offers f to this node. ok reports whether the node is started on
// a compatible bit rate (and therefore acknowledges); stored reports whether
// the frame passed the filter and fit in the FIFO.
func (c *VirtualController) deliver(f Frame, bitrate uint32) (ok, stored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return false, false
	}
	if bitrate != 0 && c.cfg.Bitrate != bitrate {
		c.alerts |= AlertBusError
		return false, false
	}
	if !c.filter.Match(f) {
		return true, false
	}
	select {
	case c.rx <- f:
		return true, true
	default:
		c.alerts |= AlertRxQueueFull
		return true, false
	}
}

func (c *VirtualController) Receive(ctx context.Context, timeout time.Duration) (Frame, error) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return Frame{}, ErrControllerStopped
	}
	rx, stopCh := c.rx, c.stopCh
	c.mu.Unlock()

	if timeout == 0 {
		select {
		case f := <-rx:
			return f, nil
		default:
			return Frame{}, ErrControllerTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-rx:
		return f, nil
	case <-stopCh:
		return Frame{}, ErrControllerStopped
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-timer.C:
		return Frame{}, ErrControllerTimeout
	}
}

func (c *VirtualController) ReadAlerts() (Alert, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.installed {
		return 0, errNotInstalled
	}
	a := c.alerts
	c.alerts = 0
	return a, nil
}
