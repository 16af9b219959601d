//go:build linux

package can

import (
	"context"
	"errors"
	"testing"
)

func TestSocketCANTransmitListenOnly(t *testing.T) {
	s := NewSocketCAN("vcan0", false)
	s.cfg = BusConfig{Bitrate: 500_000, Silent: true}
	s.started.Store(true)

	// Reinstalls rewrite cfg under the lock while transmits are in flight.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			s.mu.Lock()
			s.cfg = BusConfig{Bitrate: 250_000, Silent: true}
			s.mu.Unlock()
		}
	}()
	for i := 0; i < 500; i++ {
		if err := s.Transmit(context.Background(), Frame{ID: 0x100}, 0); !errors.Is(err, ErrListenOnly) {
			t.Fatalf("Transmit in silent mode = %v, want ErrListenOnly", err)
		}
	}
	<-done

	s.started.Store(false)
	if err := s.Transmit(context.Background(), Frame{ID: 0x100}, 0); !errors.Is(err, ErrControllerStopped) {
		t.Fatalf("Transmit when stopped = %v, want ErrControllerStopped", err)
	}
}
