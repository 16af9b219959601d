package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"vdu/internal/app"
	"vdu/internal/config"
	appLog "vdu/internal/log"
	"vdu/internal/sysinfo"
)

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	once       bool
	loopback   bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file when set.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if flags.loopback {
		conf.CAN.Loopback = true
	}

	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Error("invalid log level, keeping info", err, "log_level", conf.LogLevel)
	} else {
		appLog.SetLevel(level)
	}

	info := sysinfo.Collect()
	appLog.Info("vdu starting", "version", info.Version, "commit", info.Commit, "platform", info.Platform)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"can_driver", conf.CAN.Driver,
		"can_interface", conf.CAN.Interface,
		"can_preset", conf.CAN.Preset,
		"can_bitrate", conf.CAN.Bitrate,
		"loopback", conf.CAN.Loopback,
		"silent", conf.CAN.Silent,
		"display", conf.Display.Driver,
		"rtc", conf.RTC.Enabled,
		"simulation", conf.Simulation.Enabled,
		"health_check", conf.HealthCheck,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	a, err := app.New(conf, app.Options{Once: flags.once})
	if err != nil {
		appLog.Error("failed to build application", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		appLog.Error("vdu exited with error", err)
		os.Exit(1)
	}
	appLog.Info("vdu exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/vdu/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one simulate+send+receive+render cycle and exit")
	flag.BoolVar(&cfg.loopback, "loopback", false, "Force CAN loopback mode (self-test without other nodes)")

	flag.Parse()

	return cfg
}
