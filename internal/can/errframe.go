package can

// Error class bits of a Linux CAN error frame (linux/can/error.h).
const (
	canErrTxTimeout = 0x00000001
	canErrLostArb   = 0x00000002
	canErrCrtl      = 0x00000004
	canErrProt      = 0x00000008
	canErrTrx       = 0x00000010
	canErrAck       = 0x00000020
	canErrBusOff    = 0x00000040
	canErrBusError  = 0x00000080

	// data[1] details for canErrCrtl.
	canErrCrtlRxOverflow = 0x01
	canErrCrtlTxOverflow = 0x02
	canErrCrtlRxPassive  = 0x10
	canErrCrtlTxPassive  = 0x20

	// canErrMask selects every error class for CAN_RAW_ERR_FILTER.
	canErrMask = 0x1FFFFFFF
)

// alertsFromErrorFrame maps an error frame's class bits and controller
// detail byte to Alert flags.
func alertsFromErrorFrame(rawID uint32, data [8]byte) Alert {
	var a Alert
	if rawID&(canErrTxTimeout|canErrAck) != 0 {
		a |= AlertTxFailed
	}
	if rawID&canErrLostArb != 0 {
		a |= AlertArbLost
	}
	if rawID&(canErrProt|canErrBusError|canErrTrx) != 0 {
		a |= AlertBusError
	}
	if rawID&canErrBusOff != 0 {
		a |= AlertBusOff
	}
	if rawID&canErrCrtl != 0 {
		if data[1]&canErrCrtlRxOverflow != 0 {
			a |= AlertRxQueueFull
		}
		if data[1]&canErrCrtlTxOverflow != 0 {
			a |= AlertTxFailed
		}
		if data[1]&(canErrCrtlRxPassive|canErrCrtlTxPassive) != 0 {
			a |= AlertErrPassive
		}
	}
	return a
}
