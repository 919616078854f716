// Package controller drives motion sensors through their lifecycle:
//
//	Discovered -> Connecting -> Connected -> Sensing -> Connected -> Disconnected
//
// Connect resolves the device and its vendor GATT layout. StartSensors
// subscribes to the notify characteristic and writes the arm sequence; decoded
// samples are buffered per device. StopSensors and Disconnect tolerate devices
// that are already gone. Every transport round-trip is bounded by the configured
// transport timeout.
package controller
