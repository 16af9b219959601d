// Package can is the bus driver layer of the display unit: a classical CAN
// frame type, bus configuration presets, the Controller abstraction over a
// CAN peripheral and the Driver that owns one controller's lifecycle.
package can

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Frame is a classical CAN 2.0A/2.0B frame.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// Identifier limits.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLen    = 8
)

// Validate returns ErrInvalidFrame (wrapped with the reason) if the frame
// cannot be put on the wire.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidFrame, f.Len, MaxDataLen)
	}
	if f.Extended {
		if f.ID > MaxExtendedID {
			return fmt.Errorf("%w: extended id 0x%X out of range", ErrInvalidFrame, f.ID)
		}
	} else if f.ID > MaxStandardID {
		return fmt.Errorf("%w: standard id 0x%X out of range", ErrInvalidFrame, f.ID)
	}
	return nil
}

// Payload returns the valid data bytes. Bytes beyond Len are never exposed.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// NewFrame builds a standard or extended data frame from id and payload.
func NewFrame(id uint32, extended bool, data []byte) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, fmt.Errorf("%w: length %d exceeds %d", ErrInvalidFrame, len(data), MaxDataLen)
	}
	f := Frame{ID: id, Extended: extended, Len: uint8(len(data))}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// String renders the frame the way candump does: "301 [8] 78 0B B8 ...".
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	if f.RTR {
		b.WriteString(" RTR")
		return b.String()
	}
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, " %02X", d)
	}
	return b.String()
}

// Linux struct can_frame flag bits.
const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canErrFlag = 0x20000000
	canEffMask = 0x1FFFFFFF
	canSffMask = 0x7FF

	// wireFrameSize is sizeof(struct can_frame).
	wireFrameSize = 16
)

// marshalWire encodes the frame in the SocketCAN struct can_frame layout
// (little-endian host order):
//
//	0..3  can_id (with EFF/RTR flags)
//	4     can_dlc
//	5..7  padding
//	8..15 data
func (f Frame) marshalWire(buf []byte) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if len(buf) < wireFrameSize {
		return fmt.Errorf("can: need %d bytes, got %d", wireFrameSize, len(buf))
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	buf[5], buf[6], buf[7] = 0, 0, 0
	copy(buf[8:16], f.Data[:])
	return nil
}

// unmarshalWire decodes a struct can_frame. It reports whether the frame is
// a controller error frame; the raw id is returned for error class decoding.
func (f *Frame) unmarshalWire(buf []byte) (isErr bool, rawID uint32, err error) {
	if len(buf) < wireFrameSize {
		return false, 0, fmt.Errorf("can: need %d bytes, got %d", wireFrameSize, len(buf))
	}
	rawID = binary.LittleEndian.Uint32(buf[0:4])
	if rawID&canErrFlag != 0 {
		copy(f.Data[:], buf[8:16])
		f.Len = buf[4]
		return true, rawID, nil
	}
	f.Extended = rawID&canEffFlag != 0
	f.RTR = rawID&canRtrFlag != 0
	if f.Extended {
		f.ID = rawID & canEffMask
	} else {
		f.ID = rawID & canSffMask
	}
	f.Len = buf[4]
	if f.Len > MaxDataLen {
		f.Len = MaxDataLen
	}
	copy(f.Data[:], buf[8:16])
	return false, rawID, nil
}
