//go:build linux

package can

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	appLog "vdu/internal/log"
)

// pollSlice bounds each poll(2) so Stop, Uninstall and context
// cancellation are observed promptly.
const pollSlice = 50 * time.Millisecond

// SocketCANSupported reports whether NewSocketCAN returns a working controller.
const SocketCANSupported = true

// SocketCAN is a Controller backed by a Linux raw CAN socket.
type SocketCAN struct {
	iface         string
	configureLink bool

	// mu guards fd: pollers hold it for reading, Uninstall for writing, so
	// the descriptor is never closed under an in-flight syscall.
	mu        sync.RWMutex
	fd        int
	installed bool
	cfg       BusConfig

	started atomic.Bool
	alerts  atomic.Uint32
}

// NewSocketCAN returns a controller for iface (e.g. "can0", "vcan0"). When
// configureLink is set, Install applies bitrate and mode through `ip link`.
func NewSocketCAN(iface string, configureLink bool) *SocketCAN {
	return &SocketCAN{iface: iface, configureLink: configureLink, fd: -1}
}

func (s *SocketCAN) Install(cfg BusConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installed {
		return errAlreadyInstalled
	}

	if s.configureLink {
		if err := configureLink(s.iface, cfg); err != nil {
			return err
		}
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option.
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	if cfg.Loopback {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, 1); err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("enable own-message reception: %w", err)
		}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, canErrMask); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("enable error frames: %w", err)
	}
	ifi, err := net.InterfaceByName(s.iface)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("if %q: %w", s.iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("bind(can@%s): %w", s.iface, err)
	}

	s.fd = fd
	s.cfg = cfg
	s.installed = true
	s.alerts.Store(0)
	appLog.Debug("socketcan: installed", "iface", s.iface, "bitrate", cfg.Bitrate, "mode", cfg.Mode())
	return nil
}

func (s *SocketCAN) SetFilter(f Filter) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.installed {
		return errNotInstalled
	}
	if s.started.Load() {
		return errStarted
	}

	var filters []unix.CanFilter
	if f.AcceptAll {
		filters = []unix.CanFilter{{Id: 0, Mask: 0}}
	} else {
		id, mask := f.ID, f.Mask|unix.CAN_EFF_FLAG
		if f.Extended {
			id |= unix.CAN_EFF_FLAG
		}
		filters = []unix.CanFilter{{Id: id, Mask: mask}}
	}
	return unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}

func (s *SocketCAN) Start() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.installed {
		return errNotInstalled
	}
	s.started.Store(true)
	return nil
}

func (s *SocketCAN) Stop() error {
	s.started.Store(false)
	return nil
}

func (s *SocketCAN) Uninstall() error {
	s.started.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.installed {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	s.installed = false
	return err
}

func (s *SocketCAN) Transmit(ctx context.Context, f Frame, timeout time.Duration) error {
	if !s.started.Load() {
		return ErrControllerStopped
	}
	s.mu.RLock()
	silent := s.cfg.Silent
	s.mu.RUnlock()
	if silent {
		return ErrListenOnly
	}
	var buf [wireFrameSize]byte
	if err := f.marshalWire(buf[:]); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		n, err := s.write(buf[:])
		if err == nil {
			if n != len(buf) {
				return errors.New("socketcan: short write")
			}
			return nil
		}
		if err != unix.EAGAIN && err != unix.ENOBUFS {
			return err
		}
		// TX queue full: wait for room within the bound.
		if err := s.wait(ctx, deadline, unix.POLLOUT); err != nil {
			return err
		}
	}
}

func (s *SocketCAN) write(buf []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fd < 0 {
		return 0, ErrControllerStopped
	}
	return unix.Write(s.fd, buf)
}

func (s *SocketCAN) read(buf []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fd < 0 {
		return 0, ErrControllerStopped
	}
	return unix.Read(s.fd, buf)
}

// wait polls the socket for events until deadline, one slice at a time.
func (s *SocketCAN) wait(ctx context.Context, deadline time.Time, events int16) error {
	for {
		if !s.started.Load() {
			return ErrControllerStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrControllerTimeout
		}
		if remaining > pollSlice {
			remaining = pollSlice
		}

		s.mu.RLock()
		if s.fd < 0 {
			s.mu.RUnlock()
			return ErrControllerStopped
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
		n, err := unix.Poll(fds, int(remaining/time.Millisecond)+1)
		s.mu.RUnlock()

		if err != nil && err != unix.EINTR {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}

func (s *SocketCAN) Receive(ctx context.Context, timeout time.Duration) (Frame, error) {
	deadline := time.Now().Add(timeout)
	var buf [wireFrameSize]byte
	for {
		if !s.started.Load() {
			return Frame{}, ErrControllerStopped
		}
		n, err := s.read(buf[:])
		if err == nil {
			if n != len(buf) {
				return Frame{}, fmt.Errorf("socketcan: short read: %d", n)
			}
			var f Frame
			isErr, rawID, err := f.unmarshalWire(buf[:])
			if err != nil {
				return Frame{}, err
			}
			if isErr {
				a := alertsFromErrorFrame(rawID, f.Data)
				s.alerts.Or(uint32(a))
				appLog.Debug("socketcan: error frame", "class", fmt.Sprintf("0x%08X", rawID&canErrMask), "alerts", a)
				continue
			}
			return f, nil
		}
		if err != unix.EAGAIN {
			return Frame{}, err
		}
		if timeout == 0 {
			return Frame{}, ErrControllerTimeout
		}
		if err := s.wait(ctx, deadline, unix.POLLIN); err != nil {
			return Frame{}, err
		}
	}
}

func (s *SocketCAN) ReadAlerts() (Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.installed {
		return 0, errNotInstalled
	}
	return Alert(s.alerts.Swap(0)), nil
}
