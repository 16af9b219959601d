package can

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeController records lifecycle calls and fails on demand.
type fakeController struct {
	mu       sync.Mutex
	calls    []string
	failOn   map[string]error
	alerts   Alert
	filter   Filter
	sent     []Frame
	rxFrames []Frame
}

func newFakeController() *fakeController {
	return &fakeController{failOn: make(map[string]error)}
}

func (f *fakeController) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.failOn[op]
}

func (f *fakeController) Install(BusConfig) error { return f.record("install") }
func (f *fakeController) SetFilter(flt Filter) error {
	if err := f.record("filter"); err != nil {
		return err
	}
	f.mu.Lock()
	f.filter = flt
	f.mu.Unlock()
	return nil
}
func (f *fakeController) Start() error     { return f.record("start") }
func (f *fakeController) Stop() error      { return f.record("stop") }
func (f *fakeController) Uninstall() error { return f.record("uninstall") }

func (f *fakeController) Transmit(_ context.Context, fr Frame, _ time.Duration) error {
	if err := f.record("transmit"); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Receive(context.Context, time.Duration) (Frame, error) {
	if err := f.record("receive"); err != nil {
		return Frame{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rxFrames) == 0 {
		return Frame{}, ErrControllerTimeout
	}
	fr := f.rxFrames[0]
	f.rxFrames = f.rxFrames[1:]
	return fr, nil
}

func (f *fakeController) ReadAlerts() (Alert, error) {
	if err := f.record("alerts"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.alerts
	f.alerts = 0
	return a, nil
}

func (f *fakeController) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func TestDriver_InitIsIdempotent(t *testing.T) {
	fc := newFakeController()
	d := NewDriver(fc)
	if err := d.Init(Config500K); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Init(Config250K); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if fc.count("install") != 1 || fc.count("start") != 1 {
		t.Fatalf("second Init must not touch the controller, calls=%v", fc.calls)
	}
	if d.Config().Bitrate != 500_000 {
		t.Fatalf("config changed by idempotent Init: %+v", d.Config())
	}
}

func TestDriver_InitFailures(t *testing.T) {
	if err := NewDriver(newFakeController()).Init(BusConfig{Bitrate: 500_000, Loopback: true, Silent: true}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("want ErrInvalidConfig, got %v", err)
	}

	fc := newFakeController()
	fc.failOn["start"] = errors.New("peripheral busy")
	d := NewDriver(fc)
	if err := d.Init(Config500K); !errors.Is(err, ErrHardwareInit) {
		t.Fatalf("want ErrHardwareInit, got %v", err)
	}
	if fc.count("uninstall") != 1 {
		t.Fatalf("failed start must uninstall, calls=%v", fc.calls)
	}
	if d.Running() {
		t.Fatalf("driver must not be running after failed Init")
	}

	// Recoverable: retry once the peripheral is fine.
	delete(fc.failOn, "start")
	if err := d.Init(Config500K); err != nil {
		t.Fatalf("retry Init: %v", err)
	}
}

func TestDriver_NotInitialized(t *testing.T) {
	d := NewDriver(newFakeController())
	ctx := context.Background()
	if err := d.Transmit(ctx, Frame{ID: 0x301, Len: 8}, 10*time.Millisecond); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Transmit: want ErrNotInitialized, got %v", err)
	}
	if _, err := d.Receive(ctx, 0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Receive: want ErrNotInitialized, got %v", err)
	}
	if err := d.Health(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Health: want ErrNotInitialized, got %v", err)
	}
	// Deinit on a stopped driver is a no-op.
	d.Deinit()
}

func TestDriver_TransmitErrors(t *testing.T) {
	fc := newFakeController()
	d := NewDriver(fc)
	if err := d.Init(Config500K); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := d.Transmit(ctx, Frame{ID: 0x800}, time.Millisecond); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("want ErrInvalidFrame, got %v", err)
	}
	fc.failOn["transmit"] = ErrControllerTimeout
	if err := d.Transmit(ctx, Frame{ID: 0x301}, time.Millisecond); !errors.Is(err, ErrTransmitFailed) {
		t.Fatalf("want ErrTransmitFailed, got %v", err)
	}
	fc.failOn["transmit"] = ErrListenOnly
	if err := d.Transmit(ctx, Frame{ID: 0x301}, time.Millisecond); !errors.Is(err, ErrTransmitFailed) {
		t.Fatalf("want ErrTransmitFailed, got %v", err)
	}
}

func TestDriver_ReceiveTimeoutAndFailure(t *testing.T) {
	fc := newFakeController()
	d := NewDriver(fc)
	if err := d.Init(Config500K); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Receive(context.Background(), 0); !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	fc.failOn["receive"] = errors.New("bit stuffing")
	if _, err := d.Receive(context.Background(), time.Millisecond); !errors.Is(err, ErrReceiveFailed) {
		t.Fatalf("want ErrReceiveFailed, got %v", err)
	}
}

func TestDriver_SetFilterSequence(t *testing.T) {
	fc := newFakeController()
	d := NewDriver(fc)
	if err := d.Init(Config500K); err != nil {
		t.Fatal(err)
	}
	if err := d.SetFilter(0x300, 0x700, false); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	want := Filter{ID: 0x300, Mask: 0x700}
	if fc.filter != want {
		t.Fatalf("filter = %+v, want %+v", fc.filter, want)
	}
	if err := d.ClearFilter(); err != nil {
		t.Fatalf("ClearFilter: %v", err)
	}
	if !fc.filter.AcceptAll {
		t.Fatalf("ClearFilter should install accept-all, got %+v", fc.filter)
	}
	if fc.count("stop") != 2 || fc.count("start") != 3 {
		t.Fatalf("unexpected controller sequence: %v", fc.calls)
	}
	if err := d.SetFilter(0x800, 0x7FF, false); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("out-of-range standard id should fail, got %v", err)
	}
}

func TestDriver_FilterFailureFaultsDriver(t *testing.T) {
	fc := newFakeController()
	d := NewDriver(fc)
	if err := d.Init(Config500K); err != nil {
		t.Fatal(err)
	}
	fc.failOn["start"] = errors.New("restart refused")
	if err := d.SetFilter(0x100, 0x7FF, false); !errors.Is(err, ErrFilterFailed) {
		t.Fatalf("want ErrFilterFailed, got %v", err)
	}
	if d.Running() {
		t.Fatalf("driver must not report running after a failed reconfiguration")
	}
	if err := d.Transmit(context.Background(), Frame{ID: 0x301}, time.Millisecond); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Transmit on faulted driver: want ErrNotInitialized, got %v", err)
	}
	if err := d.Health(); !errors.Is(err, ErrBusError) {
		t.Fatalf("Health on faulted driver: want ErrBusError, got %v", err)
	}

	// Full deinit/reinit recovers.
	delete(fc.failOn, "start")
	d.Deinit()
	if err := d.Init(Config500K); err != nil {
		t.Fatalf("re-Init after fault: %v", err)
	}
	if !d.Running() {
		t.Fatalf("driver should be running after re-Init")
	}
}

func TestDriver_HealthAlerts(t *testing.T) {
	cases := []struct {
		alerts Alert
		want   error
	}{
		{0, nil},
		{AlertRxQueueFull, nil},
		{AlertBusError, ErrBusError},
		{AlertBusOff, ErrBusError},
		{AlertArbLost, ErrArbitrationLost},
		{AlertTxFailed, ErrTransmitFailed},
		{AlertTxFailed | AlertBusError, ErrBusError},
	}
	fc := newFakeController()
	d := NewDriver(fc)
	if err := d.Init(Config500K); err != nil {
		t.Fatal(err)
	}
	for _, tc := range cases {
		fc.mu.Lock()
		fc.alerts = tc.alerts
		fc.mu.Unlock()
		err := d.Health()
		if tc.want == nil {
			if err != nil {
				t.Fatalf("alerts %s: want healthy, got %v", tc.alerts, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("alerts %s: want %v, got %v", tc.alerts, tc.want, err)
		}
	}
}
