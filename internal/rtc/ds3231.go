package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "vdu/internal/log"
)

// DefaultAddress is the fixed 7-bit address of the DS3231.
const DefaultAddress = 0x68

// DS3231 registers.
const (
	regSeconds = 0x00
	regStatus  = 0x0F
	regTempMSB = 0x11

	statusOSF = 0x80
)

type regConn interface {
	Tx(w, r []byte) error
}

// DS3231 is a Clock backed by a DS3231 over I2C.
//   - 0x00..0x06: seconds, minutes, hours, weekday, date, month, year (BCD)
//   - 0x0F bit 7: oscillator stop flag
//   - 0x11/0x12: temperature, 0.25 °C resolution
type DS3231 struct {
	mu     sync.Mutex
	dev    regConn
	closer io.Closer
}

// OpenDS3231 initializes periph and opens the clock on busName at addr.
// A register read is attempted so a missing module fails here.
func OpenDS3231(busName string, addr uint16) (*DS3231, error) {
	if runtime.GOOS != "linux" {
		return nil, errors.New("rtc: i2c unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("rtc: periph host init failed: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("rtc: open i2c bus %q: %w", busName, err)
	}
	c := newDS3231(&i2c.Dev{Bus: bus, Addr: addr}, bus)
	if _, err := c.readRegs(regSeconds, 1); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("rtc: no DS3231 at 0x%02X: %w", addr, err)
	}
	return c, nil
}

func newDS3231(dev regConn, closer io.Closer) *DS3231 {
	return &DS3231{dev: dev, closer: closer}
}

func (c *DS3231) readRegs(reg byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.dev.Tx([]byte{reg}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *DS3231) writeRegs(reg byte, data ...byte) error {
	return c.dev.Tx(append([]byte{reg}, data...), nil)
}

func (c *DS3231) Now(_ context.Context) (Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.readRegs(regSeconds, 7)
	if err != nil {
		return Time{}, fmt.Errorf("rtc: read time: %w", err)
	}
	return Time{
		Second:  fromBCD(b[0] & 0x7F),
		Minute:  fromBCD(b[1] & 0x7F),
		Hour:    fromBCD(b[2] & 0x3F),
		Weekday: fromBCD(b[3] & 0x07),
		Day:     fromBCD(b[4] & 0x3F),
		Month:   fromBCD(b[5] & 0x1F),
		Year:    2000 + fromBCD(b[6]),
	}, nil
}

// Set writes t in one burst and clears the oscillator stop flag.
func (c *DS3231) Set(_ context.Context, t Time) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidTime, t)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.writeRegs(regSeconds,
		toBCD(t.Second), toBCD(t.Minute), toBCD(t.Hour), toBCD(t.Weekday),
		toBCD(t.Day), toBCD(t.Month), toBCD(t.Year-2000))
	if err != nil {
		return fmt.Errorf("rtc: write time: %w", err)
	}
	st, err := c.readRegs(regStatus, 1)
	if err != nil {
		return fmt.Errorf("rtc: read status: %w", err)
	}
	if st[0]&statusOSF != 0 {
		if err := c.writeRegs(regStatus, st[0]&^statusOSF); err != nil {
			return fmt.Errorf("rtc: clear OSF: %w", err)
		}
	}
	appLog.Info("rtc: time set", "time", t.Full())
	return nil
}

// OscillatorStopped reports the OSF flag. A set flag means the time is not
// trustworthy until the next Set.
func (c *DS3231) OscillatorStopped(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.readRegs(regStatus, 1)
	if err != nil {
		return true, err
	}
	return st[0]&statusOSF != 0, nil
}

// Temperature returns the die temperature in °C.
func (c *DS3231) Temperature(_ context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.readRegs(regTempMSB, 2)
	if err != nil {
		return 0, fmt.Errorf("rtc: read temperature: %w", err)
	}
	raw := int16(uint16(b[0])<<8 | uint16(b[1]))
	return float64(raw) / 256, nil
}

func (c *DS3231) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func fromBCD(b byte) int { return int(b>>4)*10 + int(b&0x0F) }

func toBCD(v int) byte { return byte(v/10)<<4 | byte(v%10) }

// DefaultClock returns the clock the main program should use: the DS3231
// when enabled and answering, the system clock otherwise.
func DefaultClock(enabled bool, busName string, addr uint16) Clock {
	if !enabled {
		return NewSystemClock()
	}
	c, err := OpenDS3231(busName, addr)
	if err != nil {
		appLog.Warn("rtc: DS3231 unavailable, using system clock", "err", err)
		return NewSystemClock()
	}
	if stopped, _ := c.OscillatorStopped(context.Background()); stopped {
		appLog.Warn("rtc: oscillator stop flag set, time needs SET_TIME")
	}
	return c
}
