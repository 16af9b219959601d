package comm

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"vdu/internal/can"
	appLog "vdu/internal/log"
	"vdu/internal/queue"
)

// DefaultReceiveTimeout bounds each bus read of the pump.
const DefaultReceiveTimeout = 1000 * time.Millisecond

// errorBackoff throttles the pump while the driver keeps failing.
const errorBackoff = 5 * time.Millisecond

// idleBackoff is the retry interval while the driver is not running.
const idleBackoff = 250 * time.Millisecond

type frameReceiver interface {
	Receive(ctx context.Context, timeout time.Duration) (can.Frame, error)
}

// PumpStats are cumulative receive pump counters.
type PumpStats struct {
	Received uint64 `json:"received" cbor:"received"`
	Dropped  uint64 `json:"dropped" cbor:"dropped"`
	Errors   uint64 `json:"errors" cbor:"errors"`
	Timeouts uint64 `json:"timeouts" cbor:"timeouts"`
}

// pump moves frames from the bus into the queue until stopped.
type pump struct {
	rx          frameReceiver
	q           *queue.Bounded[ReceivedRecord]
	timeout     time.Duration
	telemetryID uint32
	epoch       time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	received atomic.Uint64
	dropped  atomic.Uint64
	errs     atomic.Uint64
	timeouts atomic.Uint64
}

func newPump(rx frameReceiver, q *queue.Bounded[ReceivedRecord], timeout time.Duration, telemetryID uint32, epoch time.Time) *pump {
	return &pump{rx: rx, q: q, timeout: timeout, telemetryID: telemetryID, epoch: epoch}
}

func (p *pump) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pump already running")
	}
	if p.rx == nil || p.q == nil {
		return errors.New("pump has no receiver or queue")
	}
	if p.timeout < 0 {
		return fmt.Errorf("negative receive timeout %s", p.timeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.run(ctx, p.done)
	appLog.Debug("comm: receive pump started", "timeout", p.timeout)
	return nil
}

// Stop cancels the pump and waits for its goroutine to return.
func (p *pump) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	<-done
	appLog.Debug("comm: receive pump stopped")
}

func (p *pump) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	idle := false
	for ctx.Err() == nil {
		f, err := p.rx.Receive(ctx, p.timeout)
		switch {
		case err == nil:
			idle = false
			p.handle(f)
		case errors.Is(err, can.ErrTimeout):
			idle = false
			p.timeouts.Add(1)
		case ctx.Err() != nil:
			return
		default:
			p.errs.Add(1)
			backoff := errorBackoff
			if errors.Is(err, can.ErrNotInitialized) {
				// Logged once until the driver delivers again.
				backoff = idleBackoff
				if !idle {
					appLog.Error("comm: bus not running, receive pump idling", err)
					idle = true
				}
			} else {
				appLog.Error("comm: bus receive failed", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
		runtime.Gosched()
	}
}

func (p *pump) handle(f can.Frame) {
	p.received.Add(1)
	kind := Classify(f.ID, f.Extended, p.telemetryID)
	rec := newRecord(f, kind, time.Since(p.epoch), time.Now())

	switch kind {
	case KindUnknown:
		appLog.Debug("comm: frame from unknown module", "frame", f.String())
	default:
		appLog.Debug("comm: frame received", "kind", kind, "frame", f.String())
	}

	if !p.q.Push(rec) {
		p.dropped.Add(1)
		appLog.Warn("comm: receive queue full, dropping frame", "id", fmt.Sprintf("0x%03X", f.ID), "queued", p.q.Len())
	}
}

func (p *pump) Stats() PumpStats {
	return PumpStats{
		Received: p.received.Load(),
		Dropped:  p.dropped.Load(),
		Errors:   p.errs.Load(),
		Timeouts: p.timeouts.Load(),
	}
}
