// Package telemetry encodes and decodes the 8-byte vehicle telemetry frame
// broadcast on the CAN bus.
//
// Layout:
//
//	byte 0  speed (km/h)
//	byte 1  rpm, high byte
//	byte 2  rpm, low byte
//	byte 3  coolant temperature (°C)
//	byte 4  fuel level (%)
//	byte 5  status bits: b0 engine running, b1 check engine, b2 low fuel, b3 door open
//	byte 6  XOR of bytes 0..5
//	byte 7  reserved, 0
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameID is the standard identifier telemetry frames are sent on.
const FrameID = 0x301

// FrameLen is the encoded size in bytes.
const FrameLen = 8

const (
	StatusEngineRunning byte = 1 << iota
	StatusCheckEngine
	StatusLowFuel
	StatusDoorOpen
)

const (
	idxSpeed    = 0
	idxRPM      = 1
	idxTemp     = 3
	idxFuel     = 4
	idxStatus   = 5
	idxChecksum = 6
	idxReserved = 7
)

var (
	ErrWrongLength      = errors.New("telemetry: payload shorter than 8 bytes")
	ErrChecksumMismatch = errors.New("telemetry: checksum mismatch")
	ErrInvalidData      = errors.New("telemetry: invalid data")
)

// ChecksumMismatchError carries both checksum values. It matches
// ErrChecksumMismatch with errors.Is.
type ChecksumMismatchError struct {
	Expected byte
	Actual   byte
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("telemetry: checksum mismatch: computed 0x%02X, frame carries 0x%02X", e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// VehicleTelemetry is one snapshot of the vehicle state.
type VehicleTelemetry struct {
	Speed         uint8  `json:"speed" cbor:"speed"`
	RPM           uint16 `json:"rpm" cbor:"rpm"`
	Temperature   uint8  `json:"temperature" cbor:"temperature"`
	FuelLevel     uint8  `json:"fuel_level" cbor:"fuel_level"`
	EngineRunning bool   `json:"engine_running" cbor:"engine_running"`
	CheckEngine   bool   `json:"check_engine" cbor:"check_engine"`
	LowFuel       bool   `json:"low_fuel" cbor:"low_fuel"`
	DoorOpen      bool   `json:"door_open" cbor:"door_open"`
}

// Validate checks value ranges that the wire format itself cannot express.
func (t VehicleTelemetry) Validate() error {
	if t.FuelLevel > 100 {
		return fmt.Errorf("%w: fuel level %d%% exceeds 100%%", ErrInvalidData, t.FuelLevel)
	}
	return nil
}

func (t VehicleTelemetry) statusByte() byte {
	var s byte
	if t.EngineRunning {
		s |= StatusEngineRunning
	}
	if t.CheckEngine {
		s |= StatusCheckEngine
	}
	if t.LowFuel {
		s |= StatusLowFuel
	}
	if t.DoorOpen {
		s |= StatusDoorOpen
	}
	return s
}

// EncodedFrame is the wire form of a VehicleTelemetry.
type EncodedFrame [FrameLen]byte

// Status returns the status bit field.
func (f EncodedFrame) Status() byte { return f[idxStatus] }

// Checksum returns the checksum byte carried by the frame.
func (f EncodedFrame) Checksum() byte { return f[idxChecksum] }

func (f EncodedFrame) String() string {
	return fmt.Sprintf("% X", f[:])
}

// Checksum is the XOR of all bytes in b.
func Checksum(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

// Encode packs t into its wire form. The checksum is always recomputed and
// the reserved byte is always zero. Encode does not range-check; call
// Validate first when the source is untrusted.
func Encode(t VehicleTelemetry) EncodedFrame {
	var f EncodedFrame
	f[idxSpeed] = t.Speed
	binary.BigEndian.PutUint16(f[idxRPM:], t.RPM)
	f[idxTemp] = t.Temperature
	f[idxFuel] = t.FuelLevel
	f[idxStatus] = t.statusByte()
	f[idxChecksum] = Checksum(f[:idxChecksum])
	f[idxReserved] = 0
	return f
}

// Decode parses a received payload. Only the first 8 bytes are considered.
// The reserved byte and status bits 4..7 are ignored.
func Decode(payload []byte) (VehicleTelemetry, error) {
	if len(payload) < FrameLen {
		return VehicleTelemetry{}, fmt.Errorf("%w: got %d", ErrWrongLength, len(payload))
	}
	want := Checksum(payload[:idxChecksum])
	if got := payload[idxChecksum]; got != want {
		return VehicleTelemetry{}, &ChecksumMismatchError{Expected: want, Actual: got}
	}

	status := payload[idxStatus]
	return VehicleTelemetry{
		Speed:         payload[idxSpeed],
		RPM:           binary.BigEndian.Uint16(payload[idxRPM:]),
		Temperature:   payload[idxTemp],
		FuelLevel:     payload[idxFuel],
		EngineRunning: status&StatusEngineRunning != 0,
		CheckEngine:   status&StatusCheckEngine != 0,
		LowFuel:       status&StatusLowFuel != 0,
		DoorOpen:      status&StatusDoorOpen != 0,
	}, nil
}
