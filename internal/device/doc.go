// Package device defines the transport capabilities the session controller needs
// from a Bluetooth Low Energy stack, and the error taxonomy shared by every
// device workflow.
//
// The package is transport agnostic:
//   - Transport scans advertisements and resolves peers by address
//   - Peer enumerates GATT services and owns the underlying connection
//   - Service enumerates characteristics
//   - Characteristic writes values, subscribes to notifications and enables
//     notification delivery through its client configuration descriptor
//
// The go-ble subpackage provides the production implementation.
package device
