package transport

import (
	"encoding/json"
	"sync"
)

// Pipe is an in-memory Transport for tests. Sent messages appear on the
// peer's Inbound channel already encoded as JSON frames.
type Pipe struct {
	peer *Pipe

	mu     sync.Mutex
	in     chan []byte
	closed bool
}

// NewPipe returns two connected transport ends. Messages sent on one end
// arrive on the other's Inbound channel.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{in: make(chan []byte, 64)}
	b := &Pipe{in: make(chan []byte, 64)}
	a.peer = b
	b.peer = a
	return a, b
}

// Send encodes v and delivers it to the peer end.
func (p *Pipe) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.peer.deliver(data)
}

// Inject delivers a pre-encoded raw frame to this end's Inbound channel,
// bypassing the peer. Tests use it to simulate malformed host input.
func (p *Pipe) Inject(raw []byte) {
	_ = p.deliver(raw)
}

func (p *Pipe) deliver(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	// The buffer is large enough for any test exchange; a full channel
	// indicates a test that stopped reading.
	p.in <- frame
	return nil
}

// Inbound returns the stream of frames sent by the peer.
func (p *Pipe) Inbound() <-chan []byte {
	return p.in
}

// Close closes this end. The peer's sends start failing and this end's
// Inbound channel is closed.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	return nil
}
