package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/device"
)

const (
	gapServiceUUID     = "1800"
	deviceNameCharUUID = "2a00"
)

// gattClient is the subset of ble.Client used by this package.
type gattClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

type peer struct {
	addr   address.Addr
	client gattClient
	logger *logrus.Entry

	// nameMu guards name; nameKnown is set once a read completes.
	nameMu    sync.Mutex
	name      string
	nameKnown bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(addr address.Addr, name string, client gattClient, logger *logrus.Logger) *peer {
	return &peer{
		addr:      addr,
		client:    client,
		name:      name,
		nameKnown: name != "",
		logger:    logger.WithField("address", addr.String()),
		closed:    make(chan struct{}),
	}
}

func (p *peer) Address() address.Addr { return p.addr }

// Name returns the advertised name, or reads the GAP Device Name characteristic
// when the device was never seen advertising one. A failed read is retried on
// the next call.
func (p *peer) Name(ctx context.Context) (string, error) {
	p.nameMu.Lock()
	defer p.nameMu.Unlock()
	if p.nameKnown {
		return p.name, nil
	}
	name, err := p.readDeviceName(ctx)
	if err != nil {
		return "", err
	}
	p.name, p.nameKnown = name, true
	return name, nil
}

// readDeviceName returns "" without error when the device exposes no name.
func (p *peer) readDeviceName(ctx context.Context) (string, error) {
	var svcs []*ble.Service
	err := call(ctx, func() (err error) {
		svcs, err = p.client.DiscoverServices([]ble.UUID{ble.MustParse(gapServiceUUID)})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("GAP service discovery: %w", NormalizeError(err))
	}
	for _, s := range svcs {
		if !device.SameUUID(s.UUID.String(), gapServiceUUID) {
			continue
		}
		var chars []*ble.Characteristic
		err := call(ctx, func() (err error) {
			chars, err = p.client.DiscoverCharacteristics([]ble.UUID{ble.MustParse(deviceNameCharUUID)}, s)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("GAP characteristic discovery: %w", NormalizeError(err))
		}
		for _, c := range chars {
			if !device.SameUUID(c.UUID.String(), deviceNameCharUUID) {
				continue
			}
			var v []byte
			err := call(ctx, func() (err error) {
				v, err = p.client.ReadCharacteristic(c)
				return err
			})
			if err != nil {
				return "", fmt.Errorf("device name read: %w", NormalizeError(err))
			}
			return strings.TrimRight(string(v), "\x00"), nil
		}
	}
	p.logger.Debug("Device exposes no GAP name")
	return "", nil
}

func (p *peer) Services(ctx context.Context, uuid string) ([]device.Service, error) {
	filter, err := parseFilter(uuid)
	if err != nil {
		return nil, err
	}

	var svcs []*ble.Service
	err = call(ctx, func() (err error) {
		svcs, err = p.client.DiscoverServices(filter)
		return err
	})
	if err != nil {
		return nil, NormalizeError(err)
	}

	result := make([]device.Service, 0, len(svcs))
	for _, s := range svcs {
		if !device.SameUUID(s.UUID.String(), uuid) {
			continue
		}
		result = append(result, &service{peer: p, svc: s})
	}
	return result, nil
}

// Close cancels the connection. Repeated calls are no-ops.
func (p *peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = NormalizeError(p.client.CancelConnection())
		p.logger.Debug("Connection cancelled")
	})
	return err
}

type service struct {
	peer *peer
	svc  *ble.Service
}

func (s *service) UUID() string { return device.NormalizeUUID(s.svc.UUID.String()) }

func (s *service) Characteristics(ctx context.Context, uuid string) ([]device.Characteristic, error) {
	filter, err := parseFilter(uuid)
	if err != nil {
		return nil, err
	}

	client := s.peer.client
	var chars []*ble.Characteristic
	err = call(ctx, func() (err error) {
		chars, err = client.DiscoverCharacteristics(filter, s.svc)
		return err
	})
	if err != nil {
		return nil, NormalizeError(err)
	}

	result := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		if !device.SameUUID(c.UUID.String(), uuid) {
			continue
		}
		if c.Property&(ble.CharNotify|ble.CharIndicate) != 0 && c.CCCD == nil {
			// Subscribe needs the CCCD handle on linux
			if _, derr := client.DiscoverDescriptors(nil, c); derr != nil {
				s.peer.logger.WithError(derr).Debug("Descriptor discovery failed")
			}
		}
		result = append(result, &characteristic{peer: s.peer, char: c})
	}
	return result, nil
}

type characteristic struct {
	peer *peer
	char *ble.Characteristic
}

func (c *characteristic) UUID() string { return device.NormalizeUUID(c.char.UUID.String()) }

func (c *characteristic) Write(ctx context.Context, data []byte) error {
	return NormalizeError(call(ctx, func() error {
		return c.peer.client.WriteCharacteristic(c.char, data, false)
	}))
}

func (c *characteristic) Subscribe(ctx context.Context, onValue func([]byte)) (device.Subscription, error) {
	err := call(ctx, func() error {
		return c.peer.client.Subscribe(c.char, false, func(req []byte) {
			onValue(req)
		})
	})
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &subscription{char: c}, nil
}

// EnableNotify writes the CCCD. Backends that manage the CCCD themselves expose
// none, which makes this a no-op.
func (c *characteristic) EnableNotify(ctx context.Context) error {
	if c.char.CCCD == nil {
		return nil
	}
	return NormalizeError(call(ctx, func() error {
		return c.peer.client.WriteDescriptor(c.char.CCCD, device.ClientConfig{Notifications: true}.Bytes())
	}))
}

type subscription struct {
	char *characteristic
	once sync.Once
}

func (s *subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = NormalizeError(call(ctx, func() error {
			return s.char.peer.client.Unsubscribe(s.char.char, false)
		}))
	})
	return err
}

func parseFilter(uuid string) ([]ble.UUID, error) {
	norm, err := device.ValidateUUID(uuid)
	if err != nil {
		return nil, err
	}
	u, err := ble.Parse(norm[0])
	if err != nil {
		return nil, fmt.Errorf("invalid UUID %q: %w", uuid, err)
	}
	return []ble.UUID{u}, nil
}

// call runs fn, returning early with ctx's error when ctx ends first. go-ble
// calls take no context, so an abandoned call finishes in the background.
func call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
