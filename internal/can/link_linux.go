//go:build linux

package can

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Interface link configuration goes through iproute2. Changing bitrate or
// mode needs the link down and CAP_NET_ADMIN (or root).

const ifNameSize = 16 // IFNAMSIZ

func validIfName(name string) error {
	if len(name) == 0 || len(name) >= ifNameSize {
		return fmt.Errorf("can: invalid interface name %q", name)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func runIP(args ...string) error {
	cmd := exec.Command("ip", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "Operation not permitted") {
			return fmt.Errorf("ip %s: operation requires CAP_NET_ADMIN (or root): %w", strings.Join(args, " "), err)
		}
		return fmt.Errorf("ip %s failed: %w; output: %s", strings.Join(args, " "), err, msg)
	}
	return nil
}

// configureLink applies bitrate and controller mode to a CAN interface and
// brings it back up.
func configureLink(name string, cfg BusConfig) error {
	if err := validIfName(name); err != nil {
		return err
	}
	if err := runIP("link", "set", "dev", name, "down"); err != nil {
		return err
	}
	if err := runIP("link", "set", "dev", name, "type", "can",
		"bitrate", strconv.FormatUint(uint64(cfg.Bitrate), 10),
		"loopback", onOff(cfg.Loopback),
		"listen-only", onOff(cfg.Silent),
		"restart-ms", "100",
	); err != nil {
		return err
	}
	return runIP("link", "set", "dev", name, "up")
}
