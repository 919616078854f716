package rpc

import (
	"github.com/srg/imulink/internal/device"
	"github.com/srg/imulink/internal/protocol"
	"github.com/srg/imulink/internal/session"
)

// Method names.
const (
	MethodStartScanning    = "startScanning"
	MethodStopScanning     = "stopScanning"
	MethodConnectDevice    = "connectDevice"
	MethodStartSensors     = "startSensors"
	MethodStopSensors      = "stopSensors"
	MethodDisconnectDevice = "disconnectDevice"
	MethodPollDevices      = "pollDevices"
	MethodPollSamples      = "pollSamples"
)

// Error codes reported in Reply.Error.
const (
	CodeConnectFailed   = "CONNECT_FAILED"
	CodeServiceNotFound = "SERVICE_NOT_FOUND"
	CodeCharNotFound    = "CHAR_NOT_FOUND"
	CodeNotConnected    = "NOT_CONNECTED"
	CodeStartFailed     = "START_FAILED"
	CodeTimeout         = "TIMEOUT"
	CodeBadArgs         = "BAD_ARGS"
	CodeException       = "EXCEPTION"
)

// Call is a method invocation.
type Call struct {
	ID     uint64 `json:"id" cbor:"id"`
	Method string `json:"method" cbor:"method"`
	Args   Args   `json:"args,omitempty" cbor:"args,omitempty"`
}

// Args carries method arguments.
type Args struct {
	Address string `json:"address,omitempty" cbor:"address,omitempty"`
}

// Reply answers the Call with the same ID.
type Reply struct {
	ID             uint64 `json:"id" cbor:"id"`
	OK             bool   `json:"ok" cbor:"ok"`
	Result         any    `json:"result,omitempty" cbor:"result,omitempty"`
	Error          *Error `json:"error,omitempty" cbor:"error,omitempty"`
	NotImplemented bool   `json:"notImplemented,omitempty" cbor:"notImplemented,omitempty"`
}

// Error describes a failed call.
type Error struct {
	Code    string `json:"code" cbor:"code"`
	Message string `json:"message" cbor:"message"`
}

// DeviceInfo is a discovered device as reported by pollDevices.
type DeviceInfo struct {
	Name    string `json:"name" cbor:"name"`
	Address string `json:"address" cbor:"address"`
	RSSI    int    `json:"rssi" cbor:"rssi"`
}

func deviceInfos(devices []session.DiscoveredDevice) []DeviceInfo {
	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		out[i] = DeviceInfo{Name: d.Name, Address: d.Address.String(), RSSI: d.RSSI}
	}
	return out
}

func samplesResult(samples []protocol.MotionSample) []protocol.MotionSample {
	if samples == nil {
		return []protocol.MotionSample{}
	}
	return samples
}

func success(id uint64, result any) Reply {
	return Reply{ID: id, OK: true, Result: result}
}

func failure(id uint64, code string, message string) Reply {
	return Reply{ID: id, Error: &Error{Code: code, Message: message}}
}

// errorReply maps a workflow failure to its error code.
func errorReply(id uint64, err error) Reply {
	return failure(id, codeOf(err), device.Message(err))
}

func codeOf(err error) string {
	switch device.KindOf(err) {
	case device.KindConnectFailed:
		return CodeConnectFailed
	case device.KindServiceNotFound:
		return CodeServiceNotFound
	case device.KindCharacteristicNotFound:
		return CodeCharNotFound
	case device.KindNotConnected:
		return CodeNotConnected
	case device.KindStartFailed:
		return CodeStartFailed
	case device.KindTransportTimeout:
		return CodeTimeout
	default:
		return CodeException
	}
}
