package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/imulink/pkg/config"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// FastConfig returns the default configuration with every pause removed and a
// short transport timeout, so workflows run at test speed.
func FastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Protocol.CommandDelay = 0
	cfg.Protocol.SubscribeDelay = 0
	cfg.Transport.SettleDelay = 0
	cfg.Transport.Timeout = 200 * time.Millisecond
	return cfg
}

// CreateMockAdvertisement builds an advertisement with the given name, address and RSSI.
func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

func CreateMockAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}

// CreateMotionSensor builds a peer exposing the vendor motion profile.
func CreateMotionSensor(addr, name string) *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().WithAddress(addr).WithName(name).WithVendorProfile()
}

func CreateMockPeripheralDeviceFromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().FromJSON(jsonStrFmt, args...)
}

// ReportFrame encodes a sensor report notification.
func ReportFrame(cmd byte, x, y, z int16) []byte {
	return []byte{
		0x55, 0xAA, cmd, 0x06,
		byte(uint16(x) >> 8), byte(uint16(x)),
		byte(uint16(y) >> 8), byte(uint16(y)),
		byte(uint16(z) >> 8), byte(uint16(z)),
	}
}
