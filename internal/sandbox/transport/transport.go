// Package transport carries protocol messages between the sandbox and the
// host. The production implementation speaks newline-delimited JSON over
// stdin/stdout; an in-memory pipe implementation backs the tests.
package transport

import "errors"

// ErrClosed is returned when sending on a closed transport.
var ErrClosed = errors.New("transport is closed")

// Transport is a bidirectional message channel to the host.
//
// Send may be called from any goroutine. Inbound returns a channel of raw
// message frames that is closed when the peer disconnects or Close is
// called.
type Transport interface {
	// Send encodes v as JSON and delivers it to the host.
	Send(v any) error

	// Inbound returns the stream of raw inbound frames.
	Inbound() <-chan []byte

	// Close releases the transport. Safe to call more than once.
	Close() error
}
