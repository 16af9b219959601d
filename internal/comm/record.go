package comm

import (
	"fmt"
	"time"

	"vdu/internal/can"
	"vdu/internal/telemetry"
)

// Well-known identifiers of the other modules on the vehicle bus.
const (
	IDEngine    = 0x100
	IDStatus    = 0x200
	IDDashboard = 0x300
)

// Kind classifies a received frame by identifier.
type Kind int

const (
	KindUnknown Kind = iota
	KindEngine
	KindStatus
	KindDashboard
	KindTelemetry
)

func (k Kind) String() string {
	switch k {
	case KindEngine:
		return "engine"
	case KindStatus:
		return "status"
	case KindDashboard:
		return "dashboard"
	case KindTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Classify maps a standard identifier to its source module. Extended
// identifiers are never classified.
func Classify(id uint32, extended bool, telemetryID uint32) Kind {
	if extended {
		return KindUnknown
	}
	switch id {
	case telemetryID:
		return KindTelemetry
	case IDEngine:
		return KindEngine
	case IDStatus:
		return KindStatus
	case IDDashboard:
		return KindDashboard
	default:
		return KindUnknown
	}
}

// ReceivedRecord is one frame taken off the bus by the receive pump.
// Timestamp is monotonic time since the subsystem was initialized.
type ReceivedRecord struct {
	ID         uint32        `json:"id" cbor:"id"`
	Extended   bool          `json:"extended" cbor:"extended"`
	Len        uint8         `json:"len" cbor:"len"`
	Data       [8]byte       `json:"data" cbor:"data"`
	Kind       Kind          `json:"kind" cbor:"kind"`
	Timestamp  time.Duration `json:"timestamp" cbor:"timestamp"`
	ReceivedAt time.Time     `json:"received_at" cbor:"received_at"`
}

func newRecord(f can.Frame, kind Kind, since time.Duration, now time.Time) ReceivedRecord {
	return ReceivedRecord{
		ID:         f.ID,
		Extended:   f.Extended,
		Len:        f.Len,
		Data:       f.Data,
		Kind:       kind,
		Timestamp:  since,
		ReceivedAt: now,
	}
}

// Payload returns the valid data bytes.
func (r ReceivedRecord) Payload() []byte {
	n := r.Len
	if n > can.MaxDataLen {
		n = can.MaxDataLen
	}
	return r.Data[:n]
}

// Telemetry decodes the payload as a telemetry frame.
func (r ReceivedRecord) Telemetry() (telemetry.VehicleTelemetry, error) {
	return telemetry.Decode(r.Payload())
}

func (r ReceivedRecord) String() string {
	return fmt.Sprintf("%s (%s, t=%s)", can.Frame{ID: r.ID, Extended: r.Extended, Len: r.Len, Data: r.Data}, r.Kind, r.Timestamp)
}
