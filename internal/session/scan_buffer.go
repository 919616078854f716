package session

import (
	"sync"

	"github.com/srg/imulink/internal/address"
)

// DiscoveredDevice is an advertisement that passed the vendor filter.
type DiscoveredDevice struct {
	Name    string       `json:"name" cbor:"name"`
	Address address.Addr `json:"address" cbor:"address"`
	RSSI    int          `json:"rssi" cbor:"rssi"`
}

// ScanBuffer collects discovered devices in arrival order until drained.
type ScanBuffer struct {
	mu      sync.Mutex
	devices []DiscoveredDevice
}

// NewScanBuffer creates an empty buffer.
func NewScanBuffer() *ScanBuffer {
	return &ScanBuffer{}
}

// Append adds d to the end of the buffer.
func (b *ScanBuffer) Append(d DiscoveredDevice) {
	b.mu.Lock()
	b.devices = append(b.devices, d)
	b.mu.Unlock()
}

// Drain returns all buffered devices in arrival order and empties the buffer.
// The result is never nil.
func (b *ScanBuffer) Drain() []DiscoveredDevice {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.devices
	b.devices = nil
	if out == nil {
		out = []DiscoveredDevice{}
	}
	return out
}
