package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vdu/internal/can"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// FilterConfig is an acceptance filter applied after the bus comes up.
type FilterConfig struct {
	ID       uint32 `yaml:"id" json:"id"`
	Mask     uint32 `yaml:"mask" json:"mask"`
	Extended bool   `yaml:"extended" json:"extended"`
}

// CANConfig selects and parameterizes the bus controller.
type CANConfig struct {
	// Driver is "virtual" (in-process bus, default) or "socketcan".
	Driver string `yaml:"driver" json:"driver"`
	// Interface is the SocketCAN network interface, e.g. "can0".
	Interface string `yaml:"interface" json:"interface"`
	// ConfigureLink makes the socketcan driver set bitrate and mode with `ip link`.
	ConfigureLink bool `yaml:"configure_link" json:"configure_link"`

	// Preset is "500k", "250k" or "125k". Bitrate, when set, wins.
	Preset   string `yaml:"preset" json:"preset"`
	Bitrate  uint32 `yaml:"bitrate,omitempty" json:"bitrate,omitempty"`
	Loopback bool   `yaml:"loopback" json:"loopback"`
	Silent   bool   `yaml:"silent" json:"silent"`

	TelemetryID       uint32 `yaml:"telemetry_id" json:"telemetry_id"`
	QueueCapacity     int    `yaml:"queue_capacity" json:"queue_capacity"`
	ReceiveTimeoutMS  int    `yaml:"receive_timeout_ms" json:"receive_timeout_ms"`
	TransmitTimeoutMS int    `yaml:"transmit_timeout_ms" json:"transmit_timeout_ms"`

	// LogFrames logs every frame at debug level.
	LogFrames bool `yaml:"log_frames" json:"log_frames"`

	Filter *FilterConfig `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// DisplayConfig describes the character display.
type DisplayConfig struct {
	// Driver is "lcd" (HD44780 on a PCF8574 I2C backpack) or "memory".
	Driver  string `yaml:"driver" json:"driver"`
	I2CBus  string `yaml:"i2c_bus" json:"i2c_bus"`
	Address uint16 `yaml:"address" json:"address"`
	Cols    int    `yaml:"cols" json:"cols"`
	Rows    int    `yaml:"rows" json:"rows"`
}

// RTCConfig describes the DS3231 real-time clock. When disabled the system
// clock is used.
type RTCConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	I2CBus  string `yaml:"i2c_bus" json:"i2c_bus"`
	Address uint16 `yaml:"address" json:"address"`
}

// ButtonConfig describes the page button. An empty GPIO disables it.
type ButtonConfig struct {
	GPIO       string `yaml:"gpio" json:"gpio"`
	DebounceMS int    `yaml:"debounce_ms" json:"debounce_ms"`
}

// ConsoleConfig describes the command console transport. An empty Port
// reads commands from stdin; Disabled turns the console off.
type ConsoleConfig struct {
	Disabled bool   `yaml:"disabled" json:"disabled"`
	Port     string `yaml:"port" json:"port"`
	Baud     int    `yaml:"baud" json:"baud"`
}

// SimulationConfig drives the built-in telemetry simulator.
type SimulationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	IntervalMS int  `yaml:"interval_ms" json:"interval_ms"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// HealthCheck is a cron schedule (robfig/cron, optional seconds field)
	// for the periodic bus health check.
	HealthCheck string `yaml:"health_check" json:"health_check"`

	CAN        CANConfig        `yaml:"can" json:"can"`
	Display    DisplayConfig    `yaml:"display" json:"display"`
	RTC        RTCConfig        `yaml:"rtc" json:"rtc"`
	Button     ButtonConfig     `yaml:"button" json:"button"`
	Console    ConsoleConfig    `yaml:"console" json:"console"`
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		LogLevel:    "info",
		HealthCheck: "*/10 * * * * *",
		CAN: CANConfig{
			Driver:            "virtual",
			Interface:         "can0",
			Preset:            "500k",
			Loopback:          true,
			TelemetryID:       0x301,
			QueueCapacity:     50,
			ReceiveTimeoutMS:  1000,
			TransmitTimeoutMS: 100,
		},
		Display: DisplayConfig{
			Driver:  "memory",
			I2CBus:  "",
			Address: 0x27,
			Cols:    16,
			Rows:    2,
		},
		RTC: RTCConfig{
			Enabled: false,
			Address: 0x68,
		},
		Button: ButtonConfig{
			DebounceMS: 50,
		},
		Console: ConsoleConfig{
			Baud: 115200,
		},
		Simulation: SimulationConfig{
			Enabled:    true,
			IntervalMS: 100,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.HealthCheck == "" {
		c.HealthCheck = def.HealthCheck
	}

	switch c.CAN.Driver {
	case "virtual", "socketcan":
	default:
		c.CAN.Driver = def.CAN.Driver
	}
	if c.CAN.Interface == "" {
		c.CAN.Interface = def.CAN.Interface
	}
	if c.CAN.Preset == "" && c.CAN.Bitrate == 0 {
		c.CAN.Preset = def.CAN.Preset
	}
	if c.CAN.TelemetryID == 0 {
		c.CAN.TelemetryID = def.CAN.TelemetryID
	}
	if c.CAN.QueueCapacity <= 0 {
		c.CAN.QueueCapacity = def.CAN.QueueCapacity
	}
	if c.CAN.ReceiveTimeoutMS <= 0 {
		c.CAN.ReceiveTimeoutMS = def.CAN.ReceiveTimeoutMS
	}
	if c.CAN.TransmitTimeoutMS <= 0 {
		c.CAN.TransmitTimeoutMS = def.CAN.TransmitTimeoutMS
	}

	switch c.Display.Driver {
	case "lcd", "memory":
	default:
		c.Display.Driver = def.Display.Driver
	}
	if c.Display.Address == 0 {
		c.Display.Address = def.Display.Address
	}
	if c.Display.Cols <= 0 {
		c.Display.Cols = def.Display.Cols
	}
	if c.Display.Rows <= 0 {
		c.Display.Rows = def.Display.Rows
	}

	if c.RTC.Address == 0 {
		c.RTC.Address = def.RTC.Address
	}
	if c.Button.DebounceMS <= 0 {
		c.Button.DebounceMS = def.Button.DebounceMS
	}
	if c.Console.Baud <= 0 {
		c.Console.Baud = def.Console.Baud
	}
	if c.Simulation.IntervalMS <= 0 {
		c.Simulation.IntervalMS = def.Simulation.IntervalMS
	}
}

// BusConfig resolves the CAN section into a driver bus configuration.
func (c *CANConfig) BusConfig() (can.BusConfig, error) {
	var bc can.BusConfig
	if c.Bitrate != 0 {
		bc.Bitrate = c.Bitrate
	} else {
		p, err := can.PresetByName(c.Preset)
		if err != nil {
			return can.BusConfig{}, err
		}
		bc = p
	}
	bc.Loopback = c.Loopback
	bc.Silent = c.Silent
	if err := bc.Validate(); err != nil {
		return can.BusConfig{}, fmt.Errorf("config: can: %w", err)
	}
	return bc, nil
}

func (c *CANConfig) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutMS) * time.Millisecond
}

func (c *CANConfig) TransmitTimeout() time.Duration {
	return time.Duration(c.TransmitTimeoutMS) * time.Millisecond
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read, unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename in the same directory) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".vdu-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
