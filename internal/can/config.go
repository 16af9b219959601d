package can

import (
	"fmt"
	"strings"
)

// BusConfig selects the bit rate and controller mode. It is fixed for the
// lifetime of an initialized Driver; changing it needs Deinit and Init.
type BusConfig struct {
	// Bitrate is the nominal bit rate in bits per second.
	Bitrate uint32
	// Loopback enables the no-acknowledge self-test mode: transmitted frames
	// are received back by the sender and no other node has to ACK.
	Loopback bool
	// Silent enables listen-only mode. Transmission is refused.
	Silent bool
}

// Named presets.
var (
	Config500K = BusConfig{Bitrate: 500_000}
	Config250K = BusConfig{Bitrate: 250_000}
	Config125K = BusConfig{Bitrate: 125_000}

	// DefaultConfig is the bus configuration used by the display unit.
	DefaultConfig = Config500K
)

// Upper bound for classical CAN.
const maxBitrate = 1_000_000

// Validate checks the configuration for consistency.
func (c BusConfig) Validate() error {
	if c.Bitrate == 0 || c.Bitrate > maxBitrate {
		return fmt.Errorf("%w: bitrate %d", ErrInvalidConfig, c.Bitrate)
	}
	if c.Loopback && c.Silent {
		return fmt.Errorf("%w: loopback and silent are mutually exclusive", ErrInvalidConfig)
	}
	return nil
}

// Mode returns a short description of the controller mode.
func (c BusConfig) Mode() string {
	switch {
	case c.Loopback:
		return "loopback"
	case c.Silent:
		return "silent"
	default:
		return "normal"
	}
}

// PresetByName resolves "500k", "250k" or "125k" (case-insensitive).
func PresetByName(name string) (BusConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "500k", "500kbps":
		return Config500K, nil
	case "250k", "250kbps":
		return Config250K, nil
	case "125k", "125kbps":
		return Config125K, nil
	default:
		return BusConfig{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, name)
	}
}
