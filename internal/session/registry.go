package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/device"
)

// Session is an established connection to one device.
type Session struct {
	// ID correlates log lines of one connection.
	ID      uuid.UUID
	Address address.Addr
	Peer    device.Peer
	Notify  device.Characteristic
	Write   device.Characteristic

	// Subscription is set once sensors are started.
	Subscription device.Subscription
}

// Registry maps device addresses to sessions. All operations are serialized by
// a single mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[address.Addr]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[address.Addr]*Session)}
}

// Put stores s under its address and returns the session it replaced, if any.
// The caller owns the returned session and must release its peer.
func (r *Registry) Put(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[s.Address]
	r.sessions[s.Address] = s
	return prev
}

// Get returns a copy of the session for addr.
func (r *Registry) Get(addr address.Addr) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[addr]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", device.ErrNotConnected, addr)
	}
	return *s, nil
}

// AttachSubscription records the subscription token on the stored session. It
// reports false when no session exists for addr.
func (r *Registry) AttachSubscription(addr address.Addr, sub device.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[addr]
	if !ok {
		return false
	}
	s.Subscription = sub
	return true
}

// Remove deletes and returns the session for addr.
func (r *Registry) Remove(addr address.Addr) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrNotConnected, addr)
	}
	delete(r.sessions, addr)
	return s, nil
}

// Drain removes and returns every session.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for addr, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, addr)
	}
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
