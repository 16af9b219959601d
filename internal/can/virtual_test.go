package can

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startVirtual(t *testing.T, bus *VirtualBus, cfg BusConfig) *Driver {
	t.Helper()
	d := NewDriver(bus.NewController())
	if err := d.Init(cfg); err != nil {
		t.Fatalf("Init(%+v): %v", cfg, err)
	}
	t.Cleanup(d.Deinit)
	return d
}

func TestVirtual_LoopbackSelfReceive(t *testing.T) {
	d := startVirtual(t, NewVirtualBus(), BusConfig{Bitrate: 500_000, Loopback: true})
	ctx := context.Background()

	want, err := NewFrame(0x301, false, []byte{120, 0x0B, 0xB8, 90, 75, 0x01, 0x3A, 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Transmit(ctx, want, 100*time.Millisecond); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	got, err := d.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestVirtual_NormalModeNeedsAck(t *testing.T) {
	bus := NewVirtualBus()
	a := startVirtual(t, bus, Config500K)
	ctx := context.Background()
	f := Frame{ID: 0x100, Len: 1, Data: [8]byte{0x42}}

	if err := a.Transmit(ctx, f, 10*time.Millisecond); !errors.Is(err, ErrTransmitFailed) {
		t.Fatalf("lonely node: want ErrTransmitFailed, got %v", err)
	}
	if err := a.Health(); !errors.Is(err, ErrBusError) {
		t.Fatalf("Health after missing ack: want ErrBusError, got %v", err)
	}

	b := startVirtual(t, bus, Config500K)
	if err := a.Transmit(ctx, f, 10*time.Millisecond); err != nil {
		t.Fatalf("Transmit with peer: %v", err)
	}
	got, err := b.Receive(ctx, time.Second)
	if err != nil || got != f {
		t.Fatalf("peer Receive = %s, %v", got, err)
	}
	if _, err := a.Receive(ctx, 0); !errors.Is(err, ErrTimeout) {
		t.Fatalf("sender must not see its own frame in normal mode, got %v", err)
	}
	if err := a.Health(); err != nil {
		t.Fatalf("Health after successful exchange: %v", err)
	}
}

func TestVirtual_BitrateMismatch(t *testing.T) {
	bus := NewVirtualBus()
	a := startVirtual(t, bus, Config500K)
	b := startVirtual(t, bus, Config250K)

	err := a.Transmit(context.Background(), Frame{ID: 0x200}, 10*time.Millisecond)
	if !errors.Is(err, ErrTransmitFailed) {
		t.Fatalf("want ErrTransmitFailed, got %v", err)
	}
	if err := b.Health(); !errors.Is(err, ErrBusError) {
		t.Fatalf("receiver on wrong bitrate should flag a bus error, got %v", err)
	}
}

func TestVirtual_SilentModeCannotTransmit(t *testing.T) {
	bus := NewVirtualBus()
	listener := startVirtual(t, bus, BusConfig{Bitrate: 500_000, Silent: true})
	startVirtual(t, bus, Config500K)

	err := listener.Transmit(context.Background(), Frame{ID: 0x100}, 10*time.Millisecond)
	if !errors.Is(err, ErrTransmitFailed) {
		t.Fatalf("want ErrTransmitFailed, got %v", err)
	}

	if n, err := bus.Inject(Frame{ID: 0x300, Len: 1}); err != nil || n != 2 {
		t.Fatalf("Inject = %d, %v; want both nodes to store the frame", n, err)
	}
	if _, err := listener.Receive(context.Background(), time.Second); err != nil {
		t.Fatalf("silent node should still receive: %v", err)
	}
}

func TestVirtual_FilterMatching(t *testing.T) {
	bus := NewVirtualBus()
	d := startVirtual(t, bus, Config500K)
	if err := d.SetFilter(0x300, 0x700, false); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}

	for _, id := range []uint32{0x100, 0x301, 0x200, 0x3FF} {
		if _, err := bus.Inject(Frame{ID: id}); err != nil {
			t.Fatalf("Inject(0x%X): %v", id, err)
		}
	}
	// Extended frames never pass a standard filter.
	if _, err := bus.Inject(Frame{ID: 0x301, Extended: true}); err != nil {
		t.Fatal(err)
	}

	var got []uint32
	for {
		f, err := d.Receive(context.Background(), 0)
		if errors.Is(err, ErrTimeout) {
			break
		}
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		got = append(got, f.ID)
	}
	if len(got) != 2 || got[0] != 0x301 || got[1] != 0x3FF {
		t.Fatalf("accepted ids = %X, want [301 3FF]", got)
	}

	if err := d.ClearFilter(); err != nil {
		t.Fatal(err)
	}
	if n, _ := bus.Inject(Frame{ID: 0x100}); n != 1 {
		t.Fatalf("accept-all filter should store 0x100, stored on %d nodes", n)
	}
}

func TestVirtual_RxOverflowRaisesAlert(t *testing.T) {
	bus := NewVirtualBus()
	ctrl := bus.NewController()
	ctrl.SetRxQueueLen(2)
	d := NewDriver(ctrl)
	if err := d.Init(Config500K); err != nil {
		t.Fatal(err)
	}
	defer d.Deinit()

	for i := 0; i < 3; i++ {
		_, _ = bus.Inject(Frame{ID: 0x100, Len: 1, Data: [8]byte{byte(i)}})
	}
	alerts, err := ctrl.ReadAlerts()
	if err != nil {
		t.Fatal(err)
	}
	if alerts&AlertRxQueueFull == 0 {
		t.Fatalf("alerts = %s, want rx-queue-full", alerts)
	}
}

func TestVirtual_DeinitWakesBlockedReceive(t *testing.T) {
	d := NewDriver(NewVirtualBus().NewController())
	if err := d.Init(Config500K); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.Receive(context.Background(), 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	d.Deinit()

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("want ErrNotInitialized, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Deinit did not wake the blocked receiver")
	}
}

func TestVirtual_TransmitTimeout(t *testing.T) {
	bus := NewVirtualBus()
	ctrl := bus.NewController()
	ctrl.SetTxDelay(200 * time.Millisecond)
	d := NewDriver(ctrl)
	if err := d.Init(Config500K); err != nil {
		t.Fatal(err)
	}
	defer d.Deinit()
	startVirtual(t, bus, Config500K)

	start := time.Now()
	err := d.Transmit(context.Background(), Frame{ID: 0x100}, 20*time.Millisecond)
	if !errors.Is(err, ErrTransmitFailed) {
		t.Fatalf("want ErrTransmitFailed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("transmit blocked for %s, longer than its bound", elapsed)
	}
}

func TestVirtual_ReceiveHonorsContext(t *testing.T) {
	d := startVirtual(t, NewVirtualBus(), Config500K)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Receive(ctx, 5*time.Second)
	if !errors.Is(err, ErrReceiveFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want ErrReceiveFailed wrapping DeadlineExceeded, got %v", err)
	}
}
