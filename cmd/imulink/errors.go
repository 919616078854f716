package main

import (
	"errors"
	"fmt"

	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/device"
)

// FormatUserError renders err for the terminal. Workflow failures print their
// message with a hint, anything else prints as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, address.ErrMalformedAddress):
		return fmt.Sprintf("%s (expected XX:XX:XX:XX:XX:XX)", err)
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or unavailable"
	}

	msg := device.Message(err)
	switch device.KindOf(err) {
	case device.KindConnectFailed:
		return msg + " (is the device powered on and in range?)"
	case device.KindServiceNotFound, device.KindCharacteristicNotFound:
		return msg + " (the device does not expose the motion sensor profile)"
	case device.KindTransportTimeout:
		return msg + " (try a longer transport.timeout)"
	case "":
		return err.Error()
	default:
		return msg
	}
}
