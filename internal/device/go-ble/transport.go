package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/device"
	"github.com/srg/imulink/internal/groutine"
)

// DeviceFactory creates the platform BLE device. Tests replace it.
var DeviceFactory = newPlatformDevice

// advScanner is the scanning half of ble.Device.
type advScanner interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// dialFunc connects to a remote address.
type dialFunc func(ctx context.Context, addr ble.Addr) (gattClient, error)

// Transport implements device.Transport on top of a single shared ble.Device.
type Transport struct {
	logger *logrus.Logger

	mu      sync.Mutex
	scanner advScanner
	dial    dialFunc

	// names caches advertised local names so resolved peers need no GAP read
	names *hashmap.Map[address.Addr, string]
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a Transport. The BLE device is created on first use.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		logger: logger,
		names:  hashmap.New[address.Addr, string](),
	}
}

// newTransportWith builds a Transport over explicit scan and dial primitives.
func newTransportWith(logger *logrus.Logger, scanner advScanner, dial dialFunc) *Transport {
	t := NewTransport(logger)
	t.scanner = scanner
	t.dial = dial
	return t
}

// ensureDevice lazily creates the platform device via DeviceFactory.
func (t *Transport) ensureDevice() (advScanner, dialFunc, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.scanner != nil && t.dial != nil {
		return t.scanner, t.dial, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}

	t.scanner = dev
	t.dial = func(ctx context.Context, addr ble.Addr) (gattClient, error) {
		return dev.Dial(ctx, addr)
	}
	t.logger.Debug("BLE device created")
	return t.scanner, t.dial, nil
}

// Scan listens for advertisements until ctx is done.
func (t *Transport) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	scanner, _, err := t.ensureDevice()
	if err != nil {
		return err
	}

	err = scanner.Scan(ctx, allowDup, func(a ble.Advertisement) {
		adv := NewBLEAdvertisement(a)
		if name := a.LocalName(); name != "" {
			if addr, perr := address.Parse(adv.Addr()); perr == nil {
				t.names.Set(addr, name)
			}
		}
		handler(adv)
	})

	if err != nil && ctx.Err() != nil {
		// Scan ends with the context error once the caller stops it
		return nil
	}
	return NormalizeError(err)
}

// Resolve dials addr. The returned peer owns the connection until Close.
func (t *Transport) Resolve(ctx context.Context, addr address.Addr) (device.Peer, error) {
	_, dial, err := t.ensureDevice()
	if err != nil {
		return nil, err
	}

	logger := t.logger.WithField("address", addr.String())
	logger.Debug("Dialing device...")

	client, err := dial(ctx, ble.NewAddr(addr.String()))
	if err != nil {
		return nil, NormalizeError(err)
	}
	if client == nil {
		return nil, nil
	}

	name, _ := t.names.Get(addr)
	p := newPeer(addr, name, client, t.logger)
	p.watch()
	logger.Debug("Device dialed")
	return p, nil
}

// watch logs an unsolicited disconnect of the peer.
func (p *peer) watch() {
	groutine.Go(context.Background(), "ble-disconnect-monitor-"+p.addr.String(), func(ctx context.Context) {
		select {
		case <-p.client.Disconnected():
			select {
			case <-p.closed:
			default:
				p.logger.Warn("Device disconnected")
			}
		case <-p.closed:
		}
	})
}
