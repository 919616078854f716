package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/imulink/internal/device"
)

// FakeAdvertisement is a static device.Advertisement.
type FakeAdvertisement struct {
	Name           string `json:"name"`
	Address        string `json:"address"`
	SignalStrength int    `json:"rssi"`
	IsConnectable  bool   `json:"connectable"`
}

var _ device.Advertisement = (*FakeAdvertisement)(nil)

func (a *FakeAdvertisement) LocalName() string { return a.Name }
func (a *FakeAdvertisement) RSSI() int         { return a.SignalStrength }
func (a *FakeAdvertisement) Addr() string      { return a.Address }
func (a *FakeAdvertisement) Connectable() bool { return a.IsConnectable }

// AdvertisementBuilder builds advertisements for scan tests.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
// The builder starts with connectable=true and RSSI -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{SignalStrength: -50, IsConnectable: true}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.SignalStrength = rssi
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Fields absent from the JSON keep their current values.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	if err := json.Unmarshal([]byte(jsonStr), &b.adv); err != nil {
		panic(fmt.Sprintf("FromJSON: failed to unmarshal advertisement: %v", err))
	}
	return b
}

// Build returns a copy of the configured advertisement.
func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	return &adv
}
