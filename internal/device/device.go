package device

import (
	"context"

	"github.com/srg/imulink/internal/address"
)

// Advertisement is a received advertising report.
type Advertisement interface {
	LocalName() string
	RSSI() int
	Addr() string
	Connectable() bool
}

// ScanningDevice is a BLE device capable of listening for advertisements.
// Scan blocks until ctx is done or the scan fails.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Transport is the capability surface of a BLE stack.
type Transport interface {
	ScanningDevice

	// Resolve returns a handle to the device with the given address. A nil Peer
	// with a nil error means the stack knows no such device.
	Resolve(ctx context.Context, addr address.Addr) (Peer, error)
}

// Peer is an owned handle to a remote device. Close releases it.
type Peer interface {
	Address() address.Addr

	// Name returns the device name, reading it from the device when it was
	// not advertised.
	Name(ctx context.Context) (string, error)

	// Services returns the primary services matching uuid.
	Services(ctx context.Context, uuid string) ([]Service, error)
	Close() error
}

// Service represents a GATT service of a resolved peer.
type Service interface {
	UUID() string

	// Characteristics returns the characteristics of the service matching uuid.
	Characteristics(ctx context.Context, uuid string) ([]Characteristic, error)
}

// CharacteristicWriter provides write operations.
type CharacteristicWriter interface {
	Write(ctx context.Context, data []byte) error
}

// Characteristic is a value slot of a service.
type Characteristic interface {
	CharacteristicWriter

	UUID() string

	// Subscribe registers onValue for every notification. onValue runs on a
	// transport goroutine and must not retain the slice.
	Subscribe(ctx context.Context, onValue func([]byte)) (Subscription, error)

	// EnableNotify writes the client characteristic configuration descriptor so the
	// peer starts sending notifications.
	EnableNotify(ctx context.Context) error
}

// Subscription is the token returned by Subscribe.
type Subscription interface {
	Unsubscribe(ctx context.Context) error
}
