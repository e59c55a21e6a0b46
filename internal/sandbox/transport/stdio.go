package transport

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
)

// Maximum accepted inbound frame size. Oversized frames abort the stream
// rather than silently truncating a message.
const maxFrameSize = 8 * 1024 * 1024

// Stdio is a Transport over a reader/writer pair, one JSON message per
// line. In production the pair is the process's stdin and stdout.
type Stdio struct {
	w  io.Writer
	wm sync.Mutex

	inbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdio creates a Stdio transport and starts its read loop.
func NewStdio(r io.Reader, w io.Writer) *Stdio {
	t := &Stdio{
		w:       w,
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
	go t.readLoop(r)
	return t
}

func (t *Stdio) readLoop(r io.Reader) {
	defer close(t.inbound)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer between calls.
		frame := make([]byte, len(line))
		copy(frame, line)

		select {
		case t.inbound <- frame:
		case <-t.closed:
			return
		}
	}
}

// Send writes one JSON line. Concurrent senders are serialized so frames
// never interleave.
func (t *Stdio) Send(v any) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	t.wm.Lock()
	defer t.wm.Unlock()
	if _, err := t.w.Write(data); err != nil {
		return err
	}
	_, err = t.w.Write([]byte{'\n'})
	return err
}

// Inbound returns the stream of raw inbound frames.
func (t *Stdio) Inbound() <-chan []byte {
	return t.inbound
}

// Close stops the read loop. The underlying reader/writer are owned by the
// caller and are not closed here.
func (t *Stdio) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}
