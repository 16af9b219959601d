// Package lcd drives small character displays: an HD44780 controller behind
// a PCF8574 I2C backpack, and an in-memory grid for headless runs.
package lcd

import (
	"errors"
	"fmt"
	"strings"
)

var ErrOutOfRange = errors.New("lcd: cursor out of range")

// Display is a character display addressed by column and row.
type Display interface {
	Clear() error
	SetCursor(col, row int) error
	Print(s string) error
	Size() (cols, rows int)
	Close() error
}

// Fit pads s with spaces or truncates it to exactly width characters.
func Fit(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return string(r[:width])
	}
	return s + strings.Repeat(" ", width-len(r))
}

// WriteLines writes one string per row starting at column 0. Each line is
// fitted to the display width so stale characters are overwritten. Lines
// beyond the last row are ignored.
func WriteLines(d Display, lines ...string) error {
	cols, rows := d.Size()
	for row, line := range lines {
		if row >= rows {
			break
		}
		if err := d.SetCursor(0, row); err != nil {
			return err
		}
		if err := d.Print(Fit(line, cols)); err != nil {
			return fmt.Errorf("lcd: row %d: %w", row, err)
		}
	}
	return nil
}

func checkCursor(col, row, cols, rows int) error {
	if col < 0 || col >= cols || row < 0 || row >= rows {
		return fmt.Errorf("%w: (%d,%d) on %dx%d", ErrOutOfRange, col, row, cols, rows)
	}
	return nil
}
