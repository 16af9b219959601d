// Package app wires the communication subsystem and the display-side
// collaborators into the running display unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vdu/internal/can"
	"vdu/internal/comm"
	"vdu/internal/config"
	"vdu/internal/console"
	"vdu/internal/dashboard"
	"vdu/internal/lcd"
	appLog "vdu/internal/log"
	"vdu/internal/model"
	"vdu/internal/rtc"
	"vdu/internal/sim"
	"vdu/internal/web"
)

// Options adjust how the application runs beyond what the config file says.
type Options struct {
	// Once runs a single cycle and returns.
	Once bool

	// ConsoleIn and ConsoleOut replace the configured console transport.
	ConsoleIn  io.Reader
	ConsoleOut io.Writer
}

// App owns the communication subsystem and everything that consumes it.
type App struct {
	cfg  *config.Config
	opts Options

	vbus  *can.VirtualBus
	comm  *comm.Subsystem
	store *model.Store
	dash  *dashboard.Dashboard
	disp  lcd.Display
	clock rtc.Clock
	sim   *sim.Simulator
	cron  *cron.Cron

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the application from cfg. Hardware that cannot be opened is
// replaced by its in-memory or system fallback, with a warning.
func New(cfg *config.Config, opts Options) (*App, error) {
	bc, err := cfg.CAN.BusConfig()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:   cfg,
		opts:  opts,
		store: &model.Store{},
		dash:  dashboard.New(),
		clock: rtc.DefaultClock(cfg.RTC.Enabled, cfg.RTC.I2CBus, cfg.RTC.Address),
	}

	ctrl := a.newController(cfg.CAN)
	a.comm = comm.New(ctrl, comm.Config{
		Bus:             bc,
		TelemetryID:     cfg.CAN.TelemetryID,
		QueueCapacity:   cfg.CAN.QueueCapacity,
		ReceiveTimeout:  cfg.CAN.ReceiveTimeout(),
		TransmitTimeout: cfg.CAN.TransmitTimeout(),
	})

	a.disp = openDisplay(cfg.Display)
	if cfg.Simulation.Enabled {
		a.sim = sim.New()
	}

	a.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := a.cron.AddFunc(cfg.HealthCheck, a.checkHealth); err != nil {
		return nil, fmt.Errorf("app: health_check schedule %q: %w", cfg.HealthCheck, err)
	}
	return a, nil
}

func (a *App) newController(c config.CANConfig) can.Controller {
	var ctrl can.Controller
	switch {
	case c.Driver == "socketcan" && can.SocketCANSupported:
		ctrl = can.NewSocketCAN(c.Interface, c.ConfigureLink)
	default:
		if c.Driver == "socketcan" {
			appLog.Warn("app: socketcan unsupported on this platform, using the virtual bus", "interface", c.Interface)
		}
		a.vbus = can.NewVirtualBus()
		ctrl = a.vbus.NewController()
	}
	if c.LogFrames {
		ctrl = can.NewLoggedController(ctrl, can.LogAll)
	}
	return ctrl
}

func openDisplay(c config.DisplayConfig) lcd.Display {
	if c.Driver == "lcd" {
		d, err := lcd.OpenI2C(c.I2CBus, c.Address, c.Cols, c.Rows)
		if err == nil {
			return d
		}
		appLog.Warn("app: LCD unavailable, rendering to memory", "err", err)
	}
	return lcd.NewMemory(c.Cols, c.Rows)
}

// Comm exposes the communication subsystem.
func (a *App) Comm() *comm.Subsystem { return a.comm }

// Store exposes the snapshot store.
func (a *App) Store() *model.Store { return a.store }

// Dashboard exposes page navigation.
func (a *App) Dashboard() *dashboard.Dashboard { return a.dash }

// Display exposes the display being rendered to.
func (a *App) Display() lcd.Display { return a.disp }

// VirtualBus returns the in-process bus, or nil with the socketcan driver.
func (a *App) VirtualBus() *can.VirtualBus { return a.vbus }

// Start brings up the bus, applies the configured filter and starts the
// background services. A bus that fails to come up is retried by the
// health check; the error is still returned so Once runs can fail.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	initErr := a.initBus()
	if initErr != nil {
		appLog.Error("app: CAN bus not available, health check will retry", initErr)
	}

	if a.opts.Once {
		return initErr
	}

	a.cron.Start()
	a.startConsole(ctx)
	a.startButton(ctx)
	a.startWeb(ctx)
	return initErr
}

func (a *App) initBus() error {
	if err := a.comm.Init(); err != nil {
		return err
	}
	if f := a.cfg.CAN.Filter; f != nil {
		if err := a.comm.SetFilter(f.ID, f.Mask, f.Extended); err != nil {
			// Leave the bus down so the health check retries the whole bring-up.
			a.comm.Deinit()
			return fmt.Errorf("app: apply filter: %w", err)
		}
		appLog.Info("app: acceptance filter set",
			"id", fmt.Sprintf("0x%X", f.ID), "mask", fmt.Sprintf("0x%X", f.Mask), "extended", f.Extended)
	}
	return nil
}

func (a *App) startConsole(ctx context.Context) {
	in, out := a.opts.ConsoleIn, a.opts.ConsoleOut
	if in == nil && a.cfg.Console.Disabled {
		return
	}

	reg := console.NewRegistry()
	console.RegisterDefaults(reg, console.Deps{Clock: a.clock, Bus: a.comm, Dashboard: a.dash})

	// A stdin reader cannot be interrupted, so Close does not wait for it.
	wait := true
	switch {
	case in != nil:
		if out == nil {
			out = io.Discard
		}
	case a.cfg.Console.Port != "":
		port, err := console.OpenSerial(a.cfg.Console.Port, a.cfg.Console.Baud)
		if err != nil {
			appLog.Error("app: console disabled", err)
			return
		}
		in, out = port, port
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			<-ctx.Done()
			_ = port.Close()
		}()
	default:
		in, out = os.Stdin, os.Stdout
		wait = false
	}

	appLog.Info("app: console ready", "commands", reg.Names())
	if wait {
		a.wg.Add(1)
	}
	go func() {
		if wait {
			defer a.wg.Done()
		}
		if err := console.Serve(ctx, reg, in, out); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Warn("app: console stopped", "err", err)
		}
	}()
}

func (a *App) startButton(ctx context.Context) {
	if a.cfg.Button.GPIO == "" {
		return
	}
	b, err := dashboard.OpenButton(a.cfg.Button.GPIO, time.Duration(a.cfg.Button.DebounceMS)*time.Millisecond)
	if err != nil {
		appLog.Error("app: page button disabled", err, "gpio", a.cfg.Button.GPIO)
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		b.Run(ctx, func() {
			appLog.Debug("app: page button", "page", a.dash.Next().String())
		})
	}()
}

func (a *App) startWeb(ctx context.Context) {
	if a.cfg.Listen == "" {
		return
	}
	srv := web.NewServer(a.cfg, a.comm, a.store, a.dash)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := srv.Run(ctx); err != nil {
			appLog.Error("app: HTTP server stopped", err)
		}
	}()
}

// checkHealth is the scheduled bus diagnostic. An uninitialized bus gets
// another Init attempt.
func (a *App) checkHealth() {
	err := a.comm.Health()
	st := a.comm.Stats()
	switch {
	case err == nil:
		appLog.Debug("health: ok",
			"sent", st.Sent, "tx_errors", st.TransmitErrors,
			"received", st.Pump.Received, "dropped", st.Pump.Dropped, "queued", st.Queued)
	case errors.Is(err, comm.ErrNotInitialized):
		if err := a.initBus(); err != nil {
			appLog.Warn("health: bus init retry failed", "err", err)
			return
		}
		appLog.Info("health: bus initialized on retry")
	default:
		appLog.Warn("health: bus unhealthy", "err", err,
			"tx_errors", st.TransmitErrors, "rx_errors", st.Pump.Errors)
	}
}

// Tick runs one cycle: simulate, transmit, drain received records and
// render the current page.
func (a *App) Tick(ctx context.Context, dt time.Duration) {
	if a.sim != nil {
		next := a.sim.Step(dt)
		a.store.Update(func(s *model.Snapshot) {
			s.Telemetry = next.Telemetry
			s.Odometer = next.Odometer
			s.Trip = next.Trip
			s.FuelRange = next.FuelRange
			s.TripTime = next.TripTime
		})
		if err := a.comm.SendTelemetry(ctx, next.Telemetry); err != nil && !errors.Is(err, comm.ErrNotInitialized) {
			appLog.Debug("app: telemetry not sent", "err", err)
		}
	}

	a.drain(ctx)

	if now, err := a.clock.Now(ctx); err == nil {
		a.store.Update(func(s *model.Snapshot) { s.Clock = now.In(time.Local) })
	}

	snap := a.store.Get()
	if a.sim == nil && snap.Remote != nil {
		snap.Telemetry = *snap.Remote
	}
	if err := a.dash.Show(a.disp, snap); err != nil {
		appLog.Warn("app: display update failed", "err", err)
	}
}

// drain empties the receive queue without blocking.
func (a *App) drain(ctx context.Context) {
	for {
		rec, err := a.comm.TryReceive(ctx, 0)
		if err != nil {
			return
		}
		if rec.Kind != comm.KindTelemetry {
			appLog.Debug("app: received", "record", rec.String())
			continue
		}
		t, err := rec.Telemetry()
		if err != nil {
			appLog.Warn("app: discarding telemetry frame", "err", err, "record", rec.String())
			continue
		}
		a.store.SetRemote(t, rec.ReceivedAt)
	}
}

// Run starts the application and ticks at the configured interval until
// ctx is done. With Options.Once it runs one cycle.
func (a *App) Run(ctx context.Context) error {
	err := a.Start(ctx)
	defer a.Close()
	if a.opts.Once {
		if err != nil {
			return err
		}
		a.Tick(ctx, 0)
		return nil
	}

	interval := time.Duration(a.cfg.Simulation.IntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			a.Tick(ctx, now.Sub(last))
			last = now
		}
	}
}

// Close stops the scheduler and the console, deinitializes the bus and
// clears the display, in that order.
func (a *App) Close() {
	<-a.cron.Stop().Done()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.comm.Deinit()

	if err := a.disp.Clear(); err != nil {
		appLog.Warn("app: display clear failed", "err", err)
	}
	if err := a.disp.Close(); err != nil {
		appLog.Warn("app: display close failed", "err", err)
	}
	if c, ok := a.clock.(io.Closer); ok {
		_ = c.Close()
	}
	appLog.Info("app: stopped")
}
