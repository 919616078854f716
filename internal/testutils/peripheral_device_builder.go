package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/imulink/internal/address"
)

// Vendor GATT layout of the motion sensor.
const (
	VendorServiceUUID = "0000b3a0-0000-1000-8000-00805f9b34fb"
	VendorNotifyUUID  = "0000b3a1-0000-1000-8000-00805f9b34fb"
	VendorWriteUUID   = "0000b3a2-0000-1000-8000-00805f9b34fb"
)

// ServiceConfig represents a GATT service of a simulated device
type ServiceConfig struct {
	UUID            string   `json:"uuid"`
	Characteristics []string `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete simulated device
type DeviceProfileConfig struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a FakePeer with a fluent API.
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile: DeviceProfileConfig{
			Services: []ServiceConfig{},
		},
	}
}

// WithAddress sets the device address.
func (b *PeripheralDeviceBuilder) WithAddress(addr string) *PeripheralDeviceBuilder {
	b.profile.Address = addr
	return b
}

// WithName sets the name the device reports once connected.
func (b *PeripheralDeviceBuilder) WithName(name string) *PeripheralDeviceBuilder {
	b.profile.Name = name
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, uuid)
	return b
}

// WithVendorProfile adds the motion sensor service with its notify and write
// characteristics.
func (b *PeripheralDeviceBuilder) WithVendorProfile() *PeripheralDeviceBuilder {
	return b.WithService(VendorServiceUUID).
		WithCharacteristic(VendorNotifyUUID).
		WithCharacteristic(VendorWriteUUID)
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// Build creates the FakePeer. Panics on an invalid address.
func (b *PeripheralDeviceBuilder) Build() *FakePeer {
	p := &FakePeer{
		addr:     address.MustParse(b.profile.Address),
		name:     b.profile.Name,
		errs:     make(map[string]error),
		block:    make(map[string]bool),
		handlers: make(map[int]func([]byte)),
	}
	for _, svc := range b.profile.Services {
		p.services = append(p.services, fakeServiceDef{
			uuid:  svc.UUID,
			chars: append([]string(nil), svc.Characteristics...),
		})
	}
	return p
}
