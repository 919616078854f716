package testutils

import (
	"context"
	"sync"

	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/device"
)

// FakePeer is a simulated remote device. Every Resolve yields a new FakeConn to
// it; the peer records what all of its connections did.
type FakePeer struct {
	addr     address.Addr
	name     string
	services []fakeServiceDef

	mu          sync.Mutex
	errs        map[string]error
	block       map[string]bool
	conns       []*FakeConn
	writes      [][]byte
	handlers    map[int]func([]byte)
	nextHandler int
	subscribes  int
	unsubs      int
	enables     int
}

type fakeServiceDef struct {
	uuid  string
	chars []string
}

// FakeConn is one resolved handle to a FakePeer.
type FakeConn struct {
	peer *FakePeer

	mu     sync.Mutex
	closes int
}

var _ device.Peer = (*FakeConn)(nil)

func (p *FakePeer) fault(ctx context.Context, op string) error {
	p.mu.Lock()
	err, blk := p.errs[op], p.block[op]
	p.mu.Unlock()

	if blk {
		<-ctx.Done()
		return ctx.Err()
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (p *FakePeer) connect() *FakeConn {
	c := &FakeConn{peer: p}
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c
}

// Address returns the peer address.
func (p *FakePeer) Address() address.Addr { return p.addr }

// FailOn makes op fail with err from now on. A nil err clears the failure.
func (p *FakePeer) FailOn(op string, err error) *FakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
	} else {
		p.errs[op] = err
	}
	return p
}

// BlockOn makes op wait for its context to end.
func (p *FakePeer) BlockOn(op string) *FakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block[op] = true
	return p
}

// Notify delivers frame to every active subscription and reports how many
// handlers received it.
func (p *FakePeer) Notify(frame []byte) int {
	p.mu.Lock()
	handlers := make([]func([]byte), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(frame)
	}
	return len(handlers)
}

// Writes returns a copy of every frame written to the peer, in order.
func (p *FakePeer) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	for i, w := range p.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// ResetWrites forgets recorded writes.
func (p *FakePeer) ResetWrites() {
	p.mu.Lock()
	p.writes = nil
	p.mu.Unlock()
}

// Conns returns the connections handed out so far.
func (p *FakePeer) Conns() []*FakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeConn(nil), p.conns...)
}

// OpenConns counts connections that were never closed.
func (p *FakePeer) OpenConns() int {
	n := 0
	for _, c := range p.Conns() {
		if c.Closes() == 0 {
			n++
		}
	}
	return n
}

// Subscribers returns the number of active subscriptions.
func (p *FakePeer) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// Counts returns subscribe, unsubscribe and enable-notify call counts.
func (p *FakePeer) Counts() (subscribes, unsubscribes, enables int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribes, p.unsubs, p.enables
}

// Closes returns how often Close was called on the connection.
func (c *FakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *FakeConn) Address() address.Addr { return c.peer.addr }

func (c *FakeConn) Name(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.peer.name, nil
}

func (c *FakeConn) Services(ctx context.Context, uuid string) ([]device.Service, error) {
	if err := c.peer.fault(ctx, OpServices); err != nil {
		return nil, err
	}
	var out []device.Service
	for _, s := range c.peer.services {
		if device.SameUUID(s.uuid, uuid) {
			out = append(out, &fakeService{conn: c, def: s})
		}
	}
	return out, nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.peer.fault(context.Background(), OpClose)
}

type fakeService struct {
	conn *FakeConn
	def  fakeServiceDef
}

func (s *fakeService) UUID() string { return device.NormalizeUUID(s.def.uuid) }

func (s *fakeService) Characteristics(ctx context.Context, uuid string) ([]device.Characteristic, error) {
	if err := s.conn.peer.fault(ctx, OpCharacteristics); err != nil {
		return nil, err
	}
	var out []device.Characteristic
	for _, u := range s.def.chars {
		if device.SameUUID(u, uuid) {
			out = append(out, &fakeCharacteristic{peer: s.conn.peer, uuid: u})
		}
	}
	return out, nil
}

type fakeCharacteristic struct {
	peer *FakePeer
	uuid string
}

func (c *fakeCharacteristic) UUID() string { return device.NormalizeUUID(c.uuid) }

func (c *fakeCharacteristic) Write(ctx context.Context, data []byte) error {
	if err := c.peer.fault(ctx, OpWrite); err != nil {
		return err
	}
	c.peer.mu.Lock()
	c.peer.writes = append(c.peer.writes, append([]byte(nil), data...))
	c.peer.mu.Unlock()
	return nil
}

func (c *fakeCharacteristic) Subscribe(ctx context.Context, onValue func([]byte)) (device.Subscription, error) {
	if err := c.peer.fault(ctx, OpSubscribe); err != nil {
		return nil, err
	}
	p := c.peer
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribes++
	id := p.nextHandler
	p.nextHandler++
	p.handlers[id] = onValue
	return &fakeSubscription{peer: p, id: id}, nil
}

func (c *fakeCharacteristic) EnableNotify(ctx context.Context) error {
	if err := c.peer.fault(ctx, OpEnableNotify); err != nil {
		return err
	}
	c.peer.mu.Lock()
	c.peer.enables++
	c.peer.mu.Unlock()
	return nil
}

type fakeSubscription struct {
	peer *FakePeer
	id   int
}

func (s *fakeSubscription) Unsubscribe(ctx context.Context) error {
	if err := s.peer.fault(ctx, OpUnsubscribe); err != nil {
		return err
	}
	s.peer.mu.Lock()
	defer s.peer.mu.Unlock()
	s.peer.unsubs++
	delete(s.peer.handlers, s.id)
	return nil
}
