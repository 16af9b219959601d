package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"vdu/internal/comm"
	"vdu/internal/dashboard"
	"vdu/internal/rtc"
	"vdu/internal/sysinfo"
)

// Bus is what the console needs from the communication subsystem.
type Bus interface {
	Health() error
	Stats() comm.Stats
	SendSimple(ctx context.Context, speed uint8, rpm uint16, temp uint8) error
}

// Deps are the collaborators behind the standard commands. Nil fields leave
// the corresponding commands unregistered.
type Deps struct {
	Clock     rtc.Clock
	Bus       Bus
	Dashboard *dashboard.Dashboard
}

// RegisterDefaults installs INFO, TEST, SET_TIME, TIME, STATUS, SEND and PAGE.
func RegisterDefaults(r *Registry, d Deps) {
	r.Register("INFO", "system information", HandlerFunc(func(_ context.Context, _ []string, w io.Writer) error {
		return sysinfo.Collect().Write(w)
	}))
	r.Register("TEST", "check the console link", HandlerFunc(func(_ context.Context, _ []string, w io.Writer) error {
		_, err := fmt.Fprintln(w, "TEST command received - serial communication is working!")
		return err
	}))
	if d.Clock != nil {
		r.Register("SET_TIME", "SET_TIME YYYY MM DD HH MM SS", setTimeHandler(d.Clock))
		r.Register("TIME", "show the clock", HandlerFunc(func(ctx context.Context, _ []string, w io.Writer) error {
			t, err := d.Clock.Now(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "%s %s\n", t.DayName(), t.Full())
			return err
		}))
	}
	if d.Bus != nil {
		r.Register("STATUS", "CAN bus health and counters", statusHandler(d.Bus))
		r.Register("SEND", "SEND speed rpm temp", sendHandler(d.Bus))
	}
	if d.Dashboard != nil {
		r.Register("PAGE", "PAGE next|prev|<name>", pageHandler(d.Dashboard))
	}
}

// ParseSetTime parses "YYYY MM DD HH MM SS". Years outside 2020..2030 are
// rejected.
func ParseSetTime(args []string) (rtc.Time, error) {
	if len(args) != 6 {
		return rtc.Time{}, fmt.Errorf("%w: SET_TIME YYYY MM DD HH MM SS", ErrUsage)
	}
	var v [6]int
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return rtc.Time{}, fmt.Errorf("%w: SET_TIME YYYY MM DD HH MM SS", ErrUsage)
		}
		v[i] = n
	}
	year, month, day, hour, minute, second := v[0], v[1], v[2], v[3], v[4], v[5]
	if year < 2020 || year > 2030 ||
		month < 1 || month > 12 ||
		day < 1 || day > 31 ||
		hour < 0 || hour > 23 ||
		minute < 0 || minute > 59 ||
		second < 0 || second > 59 {
		return rtc.Time{}, fmt.Errorf("%w: values out of range", rtc.ErrInvalidTime)
	}
	wd := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Weekday()
	return rtc.Time{
		Year: year, Month: month, Day: day,
		Hour: hour, Minute: minute, Second: second,
		Weekday: int(wd) + 1,
	}, nil
}

func setTimeHandler(clock rtc.Clock) Handler {
	return HandlerFunc(func(ctx context.Context, args []string, w io.Writer) error {
		t, err := ParseSetTime(args)
		if err != nil {
			return err
		}
		if err := clock.Set(ctx, t); err != nil {
			return fmt.Errorf("failed to set RTC time: %w", err)
		}
		_, err = fmt.Fprintf(w, "RTC time set successfully: %04d-%02d-%02d %02d:%02d:%02d\n",
			t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
		return err
	})
}

func statusHandler(bus Bus) Handler {
	return HandlerFunc(func(_ context.Context, _ []string, w io.Writer) error {
		health := "OK"
		if err := bus.Health(); err != nil {
			health = err.Error()
		}
		st := bus.Stats()
		_, err := fmt.Fprintf(w,
			"CAN: %s, %d bit/s, %s\n"+
				"Health: %s\n"+
				"Queue: %d/%d\n"+
				"Sent: %d (errors %d)\n"+
				"Received: %d (dropped %d, errors %d, timeouts %d)\n",
			initState(st.Initialized), st.Bitrate, st.Mode,
			health,
			st.Queued, st.Capacity,
			st.Sent, st.TransmitErrors,
			st.Pump.Received, st.Pump.Dropped, st.Pump.Errors, st.Pump.Timeouts,
		)
		return err
	})
}

func initState(ok bool) string {
	if ok {
		return "initialized"
	}
	return "not initialized"
}

func sendHandler(bus Bus) Handler {
	return HandlerFunc(func(ctx context.Context, args []string, w io.Writer) error {
		if len(args) != 3 {
			return fmt.Errorf("%w: SEND speed rpm temp", ErrUsage)
		}
		speed, err1 := strconv.ParseUint(args[0], 10, 8)
		rpm, err2 := strconv.ParseUint(args[1], 10, 16)
		temp, err3 := strconv.ParseUint(args[2], 10, 8)
		if err1 != nil || err2 != nil || err3 != nil {
			return fmt.Errorf("%w: SEND speed(0-255) rpm(0-65535) temp(0-255)", ErrUsage)
		}
		if err := bus.SendSimple(ctx, uint8(speed), uint16(rpm), uint8(temp)); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w, "sent")
		return err
	})
}

func pageHandler(d *dashboard.Dashboard) Handler {
	return HandlerFunc(func(_ context.Context, args []string, w io.Writer) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: PAGE next|prev|<name>", ErrUsage)
		}
		switch strings.ToLower(args[0]) {
		case "next":
			d.Next()
		case "prev":
			d.Prev()
		default:
			p, ok := dashboard.ParsePage(args[0])
			if !ok {
				return fmt.Errorf("%w: unknown page %q", ErrUsage, args[0])
			}
			d.SetPage(p)
		}
		_, err := fmt.Fprintf(w, "Page: %s\n", d.Page())
		return err
	})
}
