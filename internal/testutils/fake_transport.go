package testutils

import (
	"context"
	"sync"

	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/device"
)

// Operations a FakePeer can be told to fail or block on.
const (
	OpResolve         = "resolve"
	OpServices        = "services"
	OpCharacteristics = "characteristics"
	OpSubscribe       = "subscribe"
	OpEnableNotify    = "enable_notify"
	OpWrite           = "write"
	OpUnsubscribe     = "unsubscribe"
	OpClose           = "close"
)

// FakeTransport is an in-memory device.Transport.
type FakeTransport struct {
	mu      sync.Mutex
	peers   map[address.Addr]*FakePeer
	adverts []device.Advertisement
	scanErr error

	scanCalls    int
	resolveCalls map[address.Addr]int
	scanning     bool
}

var _ device.Transport = (*FakeTransport)(nil)

// NewFakeTransport creates a transport that knows no devices.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		peers:        make(map[address.Addr]*FakePeer),
		resolveCalls: make(map[address.Addr]int),
	}
}

// WithPeer makes p resolvable by its address.
func (t *FakeTransport) WithPeer(p *FakePeer) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[p.addr] = p
	return t
}

// WithAdvertisement adds an advertisement delivered to every Scan.
func (t *FakeTransport) WithAdvertisement(adv device.Advertisement) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adverts = append(t.adverts, adv)
	return t
}

// WithScanError makes Scan fail immediately with err.
func (t *FakeTransport) WithScanError(err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanErr = err
	return t
}

// Peer returns the registered peer for addr.
func (t *FakeTransport) Peer(addr address.Addr) *FakePeer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[addr]
}

// Scan delivers every configured advertisement, then blocks until ctx is done.
func (t *FakeTransport) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	t.mu.Lock()
	t.scanCalls++
	if t.scanErr != nil {
		err := t.scanErr
		t.mu.Unlock()
		return err
	}
	adverts := append([]device.Advertisement(nil), t.adverts...)
	t.scanning = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.scanning = false
		t.mu.Unlock()
	}()

	for _, adv := range adverts {
		if ctx.Err() != nil {
			return nil
		}
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

// Resolve returns a new connection to the registered peer, or no handle.
func (t *FakeTransport) Resolve(ctx context.Context, addr address.Addr) (device.Peer, error) {
	t.mu.Lock()
	t.resolveCalls[addr]++
	p := t.peers[addr]
	t.mu.Unlock()

	if p == nil {
		return nil, nil
	}
	if err := p.fault(ctx, OpResolve); err != nil {
		return nil, err
	}
	return p.connect(), nil
}

// ScanCalls returns how often Scan was entered.
func (t *FakeTransport) ScanCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanCalls
}

// Scanning reports whether a Scan call is in progress.
func (t *FakeTransport) Scanning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanning
}

// ResolveCalls returns how often addr was resolved.
func (t *FakeTransport) ResolveCalls(addr address.Addr) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolveCalls[addr]
}
