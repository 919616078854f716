// Package session holds the shared state behind the controller: the registry of
// connected device sessions and the buffers that discovered devices and decoded
// motion samples wait in until the caller polls them.
//
// Each structure has its own lock. None of them calls into the transport, so no
// lock is ever held across a device round-trip.
package session
