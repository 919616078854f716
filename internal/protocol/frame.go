package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	Sync0 byte = 0x55
	Sync1 byte = 0xAA

	// HeaderLen is sync marker + command + payload length.
	HeaderLen = 4

	// ReportPayloadLen is the fixed payload length of a sensor report.
	ReportPayloadLen = 6

	// ReportLen is the minimum length of a sensor report frame.
	ReportLen = HeaderLen + ReportPayloadLen
)

// Command is the command byte of a frame.
type Command byte

const (
	CmdStart Command = 0x06 // commit configuration and start reporting
	CmdAccel Command = 0x08 // accelerometer report / enable accelerometer
	CmdGyro  Command = 0x0A // gyroscope report / enable gyroscope
	CmdMode  Command = 0x11 // mode configuration
	CmdStop  Command = 0xF0 // stop and reset
)

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdAccel:
		return "accel"
	case CmdGyro:
		return "gyro"
	case CmdMode:
		return "mode"
	case CmdStop:
		return "stop"
	default:
		return fmt.Sprintf("0x%02X", byte(c))
	}
}

// Report is a validated sensor frame before unit conversion.
type Report struct {
	Command Command
	X, Y, Z int16
}

// ParseReport validates frame and extracts its command and raw axis values.
// It reports false for frames that are too short, lack the sync marker or do not
// carry the sensor payload length.
func ParseReport(frame []byte) (Report, bool) {
	if len(frame) < ReportLen {
		return Report{}, false
	}
	if frame[0] != Sync0 || frame[1] != Sync1 || frame[3] != ReportPayloadLen {
		return Report{}, false
	}

	return Report{
		Command: Command(frame[2]),
		X:       int16(binary.BigEndian.Uint16(frame[4:6])),
		Y:       int16(binary.BigEndian.Uint16(frame[6:8])),
		Z:       int16(binary.BigEndian.Uint16(frame[8:10])),
	}, true
}

// EncodeCommand builds an outbound command frame.
func EncodeCommand(cmd Command, payload ...byte) []byte {
	if len(payload) > 0xFF {
		panic(fmt.Sprintf("protocol: payload of %d bytes does not fit a frame", len(payload)))
	}
	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = append(buf, Sync0, Sync1, byte(cmd), byte(len(payload)))
	return append(buf, payload...)
}

var epoch = time.Now()

// MonotonicSeconds returns fractional seconds on a monotonic clock. Values are
// only meaningful relative to each other within one process.
func MonotonicSeconds() float64 {
	return time.Since(epoch).Seconds()
}
