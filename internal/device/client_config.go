package device

import (
	"encoding/binary"
	"fmt"
)

// DescriptorClientConfig is the Client Characteristic Configuration descriptor UUID.
const DescriptorClientConfig = "2902"

const (
	cccdNotify   = 1 << 0
	cccdIndicate = 1 << 1
)

// ClientConfig is the value of the Client Characteristic Configuration descriptor.
type ClientConfig struct {
	Notifications bool
	Indications   bool
}

// Bytes encodes the descriptor value, little endian.
func (c ClientConfig) Bytes() []byte {
	var v uint16
	if c.Notifications {
		v |= cccdNotify
	}
	if c.Indications {
		v |= cccdIndicate
	}
	return binary.LittleEndian.AppendUint16(nil, v)
}

// ParseClientConfig decodes a 2 byte descriptor value.
func ParseClientConfig(data []byte) (ClientConfig, error) {
	if len(data) != 2 {
		return ClientConfig{}, fmt.Errorf("invalid length for client config: expected 2, got %d", len(data))
	}
	v := binary.LittleEndian.Uint16(data)
	return ClientConfig{
		Notifications: v&cccdNotify != 0,
		Indications:   v&cccdIndicate != 0,
	}, nil
}
