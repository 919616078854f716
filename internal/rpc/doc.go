// Package rpc exposes the controller as a method-call interface.
//
// A Call names a method and carries its arguments; every call is answered by
// exactly one Reply with the same ID. Poll and scan methods reply
// synchronously. Connect, start, stop and disconnect run on the controller's
// workflow pool and reply when done, so their replies may overtake each other.
//
// Server reads calls from a stream and writes replies back, framed either as
// newline-delimited JSON or as a CBOR sequence.
package rpc
