// Package protocol implements the sensor wire protocol spoken over the vendor
// GATT service: command frames written to the write characteristic, and the
// fixed-layout report frames received as notifications.
//
// Every frame starts with the sync marker 0x55 0xAA followed by a command byte
// and a one-byte payload length:
//
//	+------+------+-----+-----+-------------+
//	| 0x55 | 0xAA | cmd | len | payload ... |
//	+------+------+-----+-----+-------------+
//
// Sensor reports carry a six byte payload of three big-endian int16 values.
package protocol
