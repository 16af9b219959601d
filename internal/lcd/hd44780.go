package lcd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddress is the usual 7-bit address of a PCF8574 backpack.
const DefaultAddress = 0x27

// PCF8574 pin mapping: P0 RS, P2 EN, P3 backlight, P4..P7 data.
const (
	flagRS        = 0x01
	flagEnable    = 0x04
	flagBacklight = 0x08
)

const (
	cmdClear    = 0x01
	cmdSetDDRAM = 0x80
)

// initSequence switches the controller into 4-bit, 2-line mode with the
// display on, cursor hidden and left-to-right entry.
var initSequence = []byte{0x33, 0x32, 0x28, 0x0C, 0x06}

var rowOffsets = [4]byte{0x00, 0x40, 0x14, 0x54}

// busConn is the part of an I2C device the driver needs. *i2c.Dev
// implements it.
type busConn interface {
	Tx(w, r []byte) error
}

// HD44780 is a Display on a PCF8574 I2C backpack.
type HD44780 struct {
	mu     sync.Mutex
	dev    busConn
	closer io.Closer
	cols   int
	rows   int
	col    int
	row    int
	sleep  func(time.Duration)
}

// OpenI2C initializes periph, opens busName ("" for the first bus) and
// brings up the display at addr.
func OpenI2C(busName string, addr uint16, cols, rows int) (*HD44780, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("lcd: periph host init failed: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("lcd: open i2c bus %q: %w", busName, err)
	}
	d, err := newHD44780(&i2c.Dev{Bus: bus, Addr: addr}, bus, cols, rows, time.Sleep)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return d, nil
}

func newHD44780(dev busConn, closer io.Closer, cols, rows int, sleep func(time.Duration)) (*HD44780, error) {
	if cols <= 0 || rows <= 0 || rows > len(rowOffsets) {
		return nil, fmt.Errorf("lcd: unsupported geometry %dx%d", cols, rows)
	}
	d := &HD44780{dev: dev, closer: closer, cols: cols, rows: rows, sleep: sleep}

	d.sleep(50 * time.Millisecond)
	for _, c := range initSequence {
		if err := d.command(c); err != nil {
			return nil, fmt.Errorf("lcd: init: %w", err)
		}
	}
	if err := d.Clear(); err != nil {
		return nil, err
	}
	return d, nil
}

// send writes one byte as two nibbles, each latched by a pulse on EN.
func (d *HD44780) send(val, mode byte) error {
	hi := val&0xF0 | flagBacklight | mode
	lo := (val<<4)&0xF0 | flagBacklight | mode
	return d.dev.Tx([]byte{hi | flagEnable, hi, lo | flagEnable, lo}, nil)
}

func (d *HD44780) command(c byte) error {
	if err := d.send(c, 0); err != nil {
		return err
	}
	d.sleep(2 * time.Millisecond)
	return nil
}

func (d *HD44780) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.command(cmdClear); err != nil {
		return err
	}
	d.sleep(2 * time.Millisecond)
	d.col, d.row = 0, 0
	return nil
}

func (d *HD44780) SetCursor(col, row int) error {
	if err := checkCursor(col, row, d.cols, d.rows); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.command(cmdSetDDRAM | (byte(col) + rowOffsets[row])); err != nil {
		return err
	}
	d.col, d.row = col, row
	return nil
}

// Print writes s at the cursor. Characters outside the ROM's ASCII range are
// mapped through charCode.
func (d *HD44780) Print(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range s {
		if err := d.send(charCode(r), flagRS); err != nil {
			return err
		}
		d.col++
	}
	return nil
}

func (d *HD44780) Size() (int, int) { return d.cols, d.rows }

// Close clears the display and releases the bus.
func (d *HD44780) Close() error {
	err := d.Clear()
	if d.closer != nil {
		if cerr := d.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// charCode maps a rune to the A00 character ROM.
func charCode(r rune) byte {
	switch {
	case r == '°':
		return 0xDF
	case r >= 0x20 && r < 0x7F:
		return byte(r)
	default:
		return '?'
	}
}
