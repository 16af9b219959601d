// Package rtc reads and sets wall-clock time, from a DS3231 module when one
// is fitted and from the system clock otherwise.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrInvalidTime = errors.New("rtc: invalid time")

var monthNames = [...]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

var dayNames = [...]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

// Time is a calendar time as kept by the clock chip. Weekday is 1..7 with
// 1 = Sunday.
type Time struct {
	Year    int `json:"year"`
	Month   int `json:"month"`
	Day     int `json:"day"`
	Hour    int `json:"hour"`
	Minute  int `json:"minute"`
	Second  int `json:"second"`
	Weekday int `json:"weekday"`
}

// FromTime converts t, in its own location.
func FromTime(t time.Time) Time {
	return Time{
		Year:    t.Year(),
		Month:   int(t.Month()),
		Day:     t.Day(),
		Hour:    t.Hour(),
		Minute:  t.Minute(),
		Second:  t.Second(),
		Weekday: int(t.Weekday()) + 1,
	}
}

// In returns the instant in loc.
func (t Time) In(loc *time.Location) time.Time {
	return time.Date(t.Year, time.Month(t.Month), t.Day, t.Hour, t.Minute, t.Second, 0, loc)
}

// Valid reports whether every field is in range for the chip (years
// 2000..2099).
func (t Time) Valid() bool {
	switch {
	case t.Second < 0 || t.Second > 59, t.Minute < 0 || t.Minute > 59, t.Hour < 0 || t.Hour > 23:
		return false
	case t.Day < 1 || t.Day > 31, t.Month < 1 || t.Month > 12:
		return false
	case t.Year < 2000 || t.Year > 2099:
		return false
	case t.Weekday < 1 || t.Weekday > 7:
		return false
	}
	return true
}

// MonthName returns the three-letter month, or "???".
func (t Time) MonthName() string {
	if t.Month < 1 || t.Month > 12 {
		return "???"
	}
	return monthNames[t.Month-1]
}

// DayName returns the three-letter weekday, or "???".
func (t Time) DayName() string {
	if t.Weekday < 1 || t.Weekday > 7 {
		return "???"
	}
	return dayNames[t.Weekday-1]
}

// Short formats as "DD/MM HH:MM".
func (t Time) Short() string {
	return fmt.Sprintf("%02d/%02d %02d:%02d", t.Day, t.Month, t.Hour, t.Minute)
}

// Long formats as "DD MMM YYYY".
func (t Time) Long() string {
	return fmt.Sprintf("%02d %s %04d", t.Day, t.MonthName(), t.Year)
}

// Clock formats as "HH:MM:SS".
func (t Time) Clock() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Full formats as "DD MMM YYYY HH:MM".
func (t Time) Full() string {
	return fmt.Sprintf("%s %02d:%02d", t.Long(), t.Hour, t.Minute)
}

func (t Time) String() string { return t.Full() }

// Clock abstracts how we obtain wall-clock time, so the application runs the
// same with or without an RTC module.
type Clock interface {
	Now(ctx context.Context) (Time, error)
	Set(ctx context.Context, t Time) error
}

// SystemClock reads the host clock. Set does not touch the host; it keeps an
// offset applied to later reads.
type SystemClock struct {
	mu     sync.Mutex
	offset time.Duration
	now    func() time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{now: time.Now}
}

func (c *SystemClock) Now(_ context.Context) (Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FromTime(c.now().Add(c.offset)), nil
}

func (c *SystemClock) Set(_ context.Context, t Time) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidTime, t)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.offset = t.In(now.Location()).Sub(now)
	return nil
}
